package changes

import (
	"time"

	"github.com/sethvargo/go-retry"
)

// Backoff computes the delay before the next automatic replay attempt:
// Base doubling per attempt, capped at Cap. MaxRetries is the automatic
// replay ceiling; entries at or past it stay in the ledger but are
// excluded from DequeueNext/ListEligible.
type Backoff struct {
	Base       time.Duration
	Cap        time.Duration
	MaxRetries int
}

// Delay returns the replay delay after retryCount failed attempts: Base
// after the first failure, doubling per further failure, capped at Cap.
// The result is non-decreasing in retryCount.
func (b Backoff) Delay(retryCount int) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	bo := retry.WithCappedDuration(b.Cap, retry.NewExponential(b.Base))
	var d time.Duration
	for i := 0; i < retryCount; i++ {
		next, _ := bo.Next()
		d = next
	}
	return d
}
