// Package history is the append-only log of terminal sync outcomes.
// Entries are immutable once written and never replayed.
package history

import (
	"context"

	"github.com/dkorolevs/papersync/internal/models"
)

// Repository describes the sync-history operations.
type Repository interface {
	// Append writes one entry and fills in its assigned id.
	Append(ctx context.Context, e *models.SyncHistoryEntry) error

	// List returns the newest entries first, at most limit of them.
	// limit <= 0 means no limit.
	List(ctx context.Context, limit int) ([]models.SyncHistoryEntry, error)
}
