// Package changes is the durable, ordered ledger of not-yet-synchronized
// mutations. Entries are replayed FIFO by creation time; a failed entry
// backs off exponentially and, past the retry ceiling, waits for a manual
// retry instead of being dropped.
package changes

import (
	"context"
	"errors"
	"time"

	"github.com/dkorolevs/papersync/internal/models"
)

// ErrNotFound is returned by MarkSucceeded/MarkFailed/ResetRetry/Delete
// when the entry no longer exists, typically because it was manually
// deleted after a drain snapshot was taken.
var ErrNotFound = errors.New("change not found")

// Repository describes the Pending-Change Ledger operations.
type Repository interface {
	// Enqueue appends a change to the ledger.
	Enqueue(ctx context.Context, change *models.PendingChange) error

	// DequeueNext returns the oldest entry eligible for automatic replay at
	// now, or nil when none is. Entries at the retry ceiling or still
	// backing off are skipped, never removed.
	DequeueNext(ctx context.Context, now time.Time) (*models.PendingChange, error)

	// ListEligible returns every entry eligible for automatic replay at
	// now, in FIFO order. One drain cycle works through this snapshot.
	ListEligible(ctx context.Context, now time.Time) ([]*models.PendingChange, error)

	// ListAll returns the whole ledger, FIFO, for the diagnostics view.
	ListAll(ctx context.Context) ([]models.PendingChange, error)

	// MarkSucceeded removes a replayed entry.
	MarkSucceeded(ctx context.Context, id string) error

	// MarkFailed increments the retry count, records the error, and
	// schedules the next eligible replay time.
	MarkFailed(ctx context.Context, id string, cause string) error

	// ResetRetry clears the retry budget of one entry so automatic replay
	// picks it up again (manual retry).
	ResetRetry(ctx context.Context, id string) error

	// Delete removes an entry without replaying it (manual deletion of a
	// permanently stuck change).
	Delete(ctx context.Context, id string) error
}
