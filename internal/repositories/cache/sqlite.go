package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dkorolevs/papersync/internal/dbx"
	"github.com/dkorolevs/papersync/internal/models"
)

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

// NewSQLiteRepository returns a new SQLiteRepository bound to the given DBTX.
func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// GetAll lists non-deleted snapshots of one type.
func (r *SQLiteRepository) GetAll(ctx context.Context, t models.EntityType) ([]models.CachedEntity, error) {
	query := `SELECT id, name, extra, last_synced_at FROM cached_entities
			WHERE entity_type=? AND deleted=0 ORDER BY name, id`
	rows, err := r.db.QueryContext(ctx, query, string(t))
	if err != nil {
		return nil, fmt.Errorf("failed to select cached entities: %w", err)
	}
	defer rows.Close()

	var result []models.CachedEntity
	for rows.Next() {
		item := models.CachedEntity{Type: t}
		var extra string
		var syncedAt int64
		if err := rows.Scan(&item.ID, &item.Name, &extra, &syncedAt); err != nil {
			return nil, err
		}
		item.Extra = []byte(extra)
		item.LastSyncedAt = time.UnixMilli(syncedAt)
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// GetByID returns a single snapshot, deleted or not. Returns nil when the
// id was never cached.
func (r *SQLiteRepository) GetByID(ctx context.Context, t models.EntityType, id int64) (*models.CachedEntity, error) {
	query := `SELECT id, name, extra, deleted, last_synced_at FROM cached_entities
			WHERE entity_type=? AND id=?`
	row := r.db.QueryRowContext(ctx, query, string(t), id)

	e := &models.CachedEntity{Type: t}
	var extra string
	var deleted int
	var syncedAt int64
	if err := row.Scan(&e.ID, &e.Name, &extra, &deleted, &syncedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query row scan failed: %w", err)
	}
	e.Extra = []byte(extra)
	e.Deleted = deleted != 0
	e.LastSyncedAt = time.UnixMilli(syncedAt)
	return e, nil
}

// UpsertAll overwrites snapshots by (type, id). Incoming rows are
// authoritative, so the deleted marker is reset.
func (r *SQLiteRepository) UpsertAll(ctx context.Context, entities []models.CachedEntity) error {
	query := `INSERT INTO cached_entities (entity_type, id, name, extra, deleted, last_synced_at)
			VALUES (?, ?, ?, ?, 0, ?)
			ON CONFLICT(entity_type, id) DO UPDATE SET name = excluded.name,
				extra = excluded.extra,
				deleted = 0,
				last_synced_at = excluded.last_synced_at
	`
	for _, e := range entities {
		extra := string(e.Extra)
		if extra == "" {
			extra = "{}"
		}
		syncedAt := e.LastSyncedAt
		if syncedAt.IsZero() {
			syncedAt = time.Now()
		}
		_, err := r.db.ExecContext(ctx, query, string(e.Type), e.ID, e.Name, extra, syncedAt.UnixMilli())
		if err != nil {
			return fmt.Errorf("failed to upsert cached entity: %w", err)
		}
	}
	return nil
}

// SoftDelete marks one snapshot as deleted. Expects exactly one row affected.
func (r *SQLiteRepository) SoftDelete(ctx context.Context, t models.EntityType, id int64) error {
	query := `UPDATE cached_entities SET deleted=1 WHERE entity_type=? AND id=? AND deleted=0`
	res, err := r.db.ExecContext(ctx, query, string(t), id)
	if err != nil {
		return fmt.Errorf("failed to soft-delete cached entity: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra != 1 {
		return fmt.Errorf("wrong rows affected count: %d", ra)
	}
	return nil
}

// PurgeAbsent hard-deletes snapshots of type t absent from keep. An empty
// keep set wipes the whole type; the caller must pass the authoritative
// server id set.
func (r *SQLiteRepository) PurgeAbsent(ctx context.Context, t models.EntityType, keep []int64) error {
	if len(keep) == 0 {
		_, err := r.db.ExecContext(ctx, `DELETE FROM cached_entities WHERE entity_type=?`, string(t))
		if err != nil {
			return fmt.Errorf("failed to purge cached entities: %w", err)
		}
		return nil
	}

	placeholders := strings.Repeat("?,", len(keep)-1) + "?"
	args := make([]any, 0, len(keep)+1)
	args = append(args, string(t))
	for _, id := range keep {
		args = append(args, id)
	}

	query := fmt.Sprintf(`DELETE FROM cached_entities WHERE entity_type=? AND id NOT IN (%s)`, placeholders)
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to purge cached entities: %w", err)
	}
	return nil
}
