// Package uploads is the durable queue of pending document uploads.
// Queueing is immediate and never waits for network; the actual transfer
// happens during a drain cycle, one upload in flight at a time.
package uploads

import (
	"context"
	"errors"

	"github.com/dkorolevs/papersync/internal/models"
)

// ErrNotFound is returned by the Mark*/Reset/Delete methods when no row
// matched: the upload is gone or no longer in a state the transition
// accepts. A drain working from a snapshot treats it as "already handled".
var ErrNotFound = errors.New("upload not found")

// Repository describes the Upload Queue operations.
//
// Status transitions go through the Mark* methods only, so an interrupted
// in-flight attempt is simply found as non-terminal on the next cycle.
type Repository interface {
	// Enqueue stores a new upload with status pending.
	Enqueue(ctx context.Context, u *models.PendingUpload) error

	// GetByID returns one upload, or nil when unknown.
	GetByID(ctx context.Context, id string) (*models.PendingUpload, error)

	// ListEligible returns uploads ready for automatic transfer, oldest
	// first: pending entries plus failed ones below the retry ceiling.
	ListEligible(ctx context.Context, maxRetries int) ([]*models.PendingUpload, error)

	// ListActive returns every upload that has not completed, oldest first.
	ListActive(ctx context.Context) ([]models.PendingUpload, error)

	// CountPending counts uploads not yet delivered (pending, uploading, or
	// failed).
	CountPending(ctx context.Context) (int, error)

	// MarkUploading flips an entry to uploading. Only pending or failed
	// entries may enter this state.
	MarkUploading(ctx context.Context, id string) error

	// MarkCompleted records delivery and the server's processing task id.
	MarkCompleted(ctx context.Context, id string, taskID string) error

	// MarkFailed records a failure with both the short user-facing message
	// and the technical detail, incrementing the retry count.
	MarkFailed(ctx context.Context, id string, userMessage, technicalError string) error

	// ResetForRetry flips a failed entry back to pending with a fresh retry
	// budget (manual retry).
	ResetForRetry(ctx context.Context, id string) error

	// RecoverInterrupted flips every uploading entry back to pending and
	// reports how many were recovered. An attempt cut short by process
	// death never received a terminal mark; running this at startup puts
	// those entries back in line for the next cycle.
	RecoverInterrupted(ctx context.Context) (int, error)

	// Delete removes an upload from the queue.
	Delete(ctx context.Context, id string) error
}
