// Package cache is the local store of server-entity snapshots used for
// offline reads. Reads never touch the network and always return the last
// known-good snapshot.
package cache

import (
	"context"

	"github.com/dkorolevs/papersync/internal/models"
)

// Repository describes the Local Cache Store operations.
//
// Soft-deleted entities are excluded from read projections but retained
// until the next full refresh, so a legitimate upstream delete is never
// confused with a failed fetch.
type Repository interface {
	// GetAll returns all non-deleted snapshots of one type, ordered by name.
	GetAll(ctx context.Context, t models.EntityType) ([]models.CachedEntity, error)

	// GetByID returns one snapshot, including soft-deleted ones.
	GetByID(ctx context.Context, t models.EntityType, id int64) (*models.CachedEntity, error)

	// UpsertAll inserts or overwrites snapshots by (type, id), clearing any
	// soft-delete marker on the way in.
	UpsertAll(ctx context.Context, entities []models.CachedEntity) error

	// SoftDelete marks one snapshot invisible without purging it.
	SoftDelete(ctx context.Context, t models.EntityType, id int64) error

	// PurgeAbsent hard-deletes every snapshot of type t whose id is not in
	// keep. Used only after a successful authoritative refresh.
	PurgeAbsent(ctx context.Context, t models.EntityType, keep []int64) error
}
