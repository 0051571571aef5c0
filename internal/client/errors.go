package client

import (
	"errors"
	"fmt"
)

var (
	// ErrNoConnectivity means the device itself has no validated network.
	ErrNoConnectivity = errors.New("no connectivity")

	// ErrServerUnreachable means the device has internet but the target
	// server does not respond (dns/refused/timeout).
	ErrServerUnreachable = errors.New("server unreachable")

	// ErrUnauthorized means the credential was rejected. Never retried by
	// the sync core; surfaced immediately.
	ErrUnauthorized = errors.New("unauthorized")
)

// ValidationError is returned when the server rejected the payload
// (HTTP 400). Not retried; surfaced to the user as is.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s", e.Message)
}

// TransientError wraps a failure worth retrying automatically with
// backoff: a 5xx response or a network blip mid-request.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient error: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err should be retried automatically.
func IsTransient(err error) bool {
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	return errors.Is(err, ErrServerUnreachable) || errors.Is(err, ErrNoConnectivity)
}
