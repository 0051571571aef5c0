package changes

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dkorolevs/papersync/internal/dbx"
	"github.com/dkorolevs/papersync/internal/models"
)

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db      dbx.DBTX
	backoff Backoff
}

// NewSQLiteRepository returns a new SQLiteRepository bound to the given DBTX.
func NewSQLiteRepository(db dbx.DBTX, backoff Backoff) *SQLiteRepository {
	return &SQLiteRepository{db: db, backoff: backoff}
}

const changeColumns = `id, entity_type, entity_id, change_type, payload, created_at, retry_count, last_error, next_attempt_at`

func scanChange(scan func(dest ...any) error) (*models.PendingChange, error) {
	c := &models.PendingChange{}
	var entityID sql.NullInt64
	var payload string
	var createdAt, nextAttempt int64
	var lastError sql.NullString

	err := scan(&c.ID, (*string)(&c.EntityType), &entityID, (*string)(&c.ChangeType),
		&payload, &createdAt, &c.RetryCount, &lastError, &nextAttempt)
	if err != nil {
		return nil, err
	}

	if entityID.Valid {
		c.EntityID = &entityID.Int64
	}
	if lastError.Valid {
		c.LastError = &lastError.String
	}
	c.Payload = []byte(payload)
	c.CreatedAt = time.UnixMilli(createdAt)
	c.NextAttemptAt = time.UnixMilli(nextAttempt)
	return c, nil
}

// Enqueue appends a change. NextAttemptAt defaults to CreatedAt so a fresh
// entry is immediately eligible.
func (r *SQLiteRepository) Enqueue(ctx context.Context, c *models.PendingChange) error {
	var entityID any
	if c.EntityID != nil {
		entityID = *c.EntityID
	}
	payload := string(c.Payload)
	if payload == "" {
		payload = "{}"
	}
	nextAttempt := c.NextAttemptAt
	if nextAttempt.IsZero() {
		nextAttempt = c.CreatedAt
	}

	query := `INSERT INTO pending_changes (id, entity_type, entity_id, change_type, payload, created_at, retry_count, last_error, next_attempt_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		c.ID, string(c.EntityType), entityID, string(c.ChangeType),
		payload, c.CreatedAt.UnixMilli(), c.RetryCount, c.LastError, nextAttempt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to enqueue change: %w", err)
	}
	return nil
}

// DequeueNext returns the oldest eligible entry, or nil when the ledger
// has nothing ready.
func (r *SQLiteRepository) DequeueNext(ctx context.Context, now time.Time) (*models.PendingChange, error) {
	query := `SELECT ` + changeColumns + ` FROM pending_changes
			WHERE retry_count < ? AND next_attempt_at <= ?
			ORDER BY created_at, rowid LIMIT 1`
	row := r.db.QueryRowContext(ctx, query, r.backoff.MaxRetries, now.UnixMilli())

	c, err := scanChange(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to dequeue change: %w", err)
	}
	return c, nil
}

// ListEligible returns the FIFO snapshot of entries ready for automatic replay.
func (r *SQLiteRepository) ListEligible(ctx context.Context, now time.Time) ([]*models.PendingChange, error) {
	query := `SELECT ` + changeColumns + ` FROM pending_changes
			WHERE retry_count < ? AND next_attempt_at <= ?
			ORDER BY created_at, rowid`
	rows, err := r.db.QueryContext(ctx, query, r.backoff.MaxRetries, now.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to select eligible changes: %w", err)
	}
	defer rows.Close()

	var result []*models.PendingChange
	for rows.Next() {
		c, err := scanChange(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// ListAll returns every ledger entry in FIFO order.
func (r *SQLiteRepository) ListAll(ctx context.Context) ([]models.PendingChange, error) {
	query := `SELECT ` + changeColumns + ` FROM pending_changes ORDER BY created_at, rowid`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to select changes: %w", err)
	}
	defer rows.Close()

	var result []models.PendingChange
	for rows.Next() {
		c, err := scanChange(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// MarkSucceeded removes a replayed entry.
func (r *SQLiteRepository) MarkSucceeded(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM pending_changes WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("failed to remove change: %w", err)
	}
	return expectOneRow(res)
}

// MarkFailed increments the retry count, records cause, and pushes the next
// attempt out by the backoff delay for the new count.
func (r *SQLiteRepository) MarkFailed(ctx context.Context, id string, cause string) error {
	var retryCount int
	row := r.db.QueryRowContext(ctx, `SELECT retry_count FROM pending_changes WHERE id=?`, id)
	if err := row.Scan(&retryCount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to load change: %w", err)
	}

	retryCount++
	nextAttempt := time.Now().Add(r.backoff.Delay(retryCount)).UnixMilli()

	_, err := r.db.ExecContext(ctx,
		`UPDATE pending_changes SET retry_count=?, last_error=?, next_attempt_at=? WHERE id=?`,
		retryCount, cause, nextAttempt, id)
	if err != nil {
		return fmt.Errorf("failed to mark change failed: %w", err)
	}
	return nil
}

// ResetRetry zeroes the retry budget so the entry becomes immediately
// eligible again.
func (r *SQLiteRepository) ResetRetry(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE pending_changes SET retry_count=0, last_error=NULL, next_attempt_at=created_at WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("failed to reset change: %w", err)
	}
	return expectOneRow(res)
}

func expectOneRow(res sql.Result) error {
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra == 0 {
		return ErrNotFound
	}
	if ra != 1 {
		return fmt.Errorf("wrong rows affected count: %d", ra)
	}
	return nil
}

// Delete removes an entry without replay.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	return r.MarkSucceeded(ctx, id)
}
