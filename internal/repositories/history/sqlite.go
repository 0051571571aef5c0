package history

import (
	"context"
	"fmt"
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

// Append inserts one entry and records its assigned id back into e.
func (r *SQLiteRepository) Append(ctx context.Context, e *models.SyncHistoryEntry) error {
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
		e.CreatedAt = createdAt
	}

	query := `INSERT INTO sync_history (action_type, status, title, details, user_message, technical_error, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query,
		string(e.ActionType), string(e.Status), e.Title,
		e.Details, e.UserMessage, e.TechnicalError, createdAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to append history entry: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get history entry id: %w", err)
	}
	e.ID = id
	return nil
}

// List returns entries newest first.
func (r *SQLiteRepository) List(ctx context.Context, limit int) ([]models.SyncHistoryEntry, error) {
	query := `SELECT id, action_type, status, title, details, user_message, technical_error, created_at
			FROM sync_history ORDER BY created_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select history: %w", err)
	}
	defer rows.Close()

	var result []models.SyncHistoryEntry
	for rows.Next() {
		var e models.SyncHistoryEntry
		var createdAt int64
		err := rows.Scan(&e.ID, (*string)(&e.ActionType), (*string)(&e.Status), &e.Title,
			&e.Details, &e.UserMessage, &e.TechnicalError, &createdAt)
		if err != nil {
			return nil, err
		}
		e.CreatedAt = time.UnixMilli(createdAt)
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
