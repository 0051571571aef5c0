package uploads

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
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

const uploadColumns = `id, source_uris, title, tag_ids, document_type_id, correspondent_id,
	multi_page, status, error_message, technical_error, task_id, retry_count, created_at`

func scanUpload(scan func(dest ...any) error) (*models.PendingUpload, error) {
	u := &models.PendingUpload{}
	var sourceURIs, tagIDs string
	var docTypeID, correspondentID sql.NullInt64
	var multiPage int
	var errMsg, techErr, taskID sql.NullString
	var createdAt int64

	err := scan(&u.ID, &sourceURIs, &u.Title, &tagIDs, &docTypeID, &correspondentID,
		&multiPage, (*string)(&u.Status), &errMsg, &techErr, &taskID, &u.RetryCount, &createdAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(sourceURIs), &u.SourceURIs); err != nil {
		return nil, fmt.Errorf("corrupt source_uris: %w", err)
	}
	if err := json.Unmarshal([]byte(tagIDs), &u.TagIDs); err != nil {
		return nil, fmt.Errorf("corrupt tag_ids: %w", err)
	}
	if docTypeID.Valid {
		u.DocumentTypeID = &docTypeID.Int64
	}
	if correspondentID.Valid {
		u.CorrespondentID = &correspondentID.Int64
	}
	if errMsg.Valid {
		u.ErrorMessage = &errMsg.String
	}
	if techErr.Valid {
		u.TechnicalError = &techErr.String
	}
	if taskID.Valid {
		u.TaskID = &taskID.String
	}
	u.MultiPage = multiPage != 0
	u.CreatedAt = time.UnixMilli(createdAt)
	return u, nil
}

// Enqueue stores a new upload. Status defaults to pending.
func (r *SQLiteRepository) Enqueue(ctx context.Context, u *models.PendingUpload) error {
	sourceURIs, err := json.Marshal(u.SourceURIs)
	if err != nil {
		return fmt.Errorf("failed to encode source uris: %w", err)
	}
	tagIDs := []byte("[]")
	if len(u.TagIDs) > 0 {
		tagIDs, err = json.Marshal(u.TagIDs)
		if err != nil {
			return fmt.Errorf("failed to encode tag ids: %w", err)
		}
	}
	status := u.Status
	if status == "" {
		status = models.UploadStatusPending
	}
	var docTypeID, correspondentID any
	if u.DocumentTypeID != nil {
		docTypeID = *u.DocumentTypeID
	}
	if u.CorrespondentID != nil {
		correspondentID = *u.CorrespondentID
	}

	query := `INSERT INTO pending_uploads (id, source_uris, title, tag_ids, document_type_id, correspondent_id,
			multi_page, status, retry_count, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.db.ExecContext(ctx, query,
		u.ID, string(sourceURIs), u.Title, string(tagIDs), docTypeID, correspondentID,
		u.MultiPage, string(status), u.RetryCount, u.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to enqueue upload: %w", err)
	}
	return nil
}

// GetByID returns one upload, or nil when unknown.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*models.PendingUpload, error) {
	query := `SELECT ` + uploadColumns + ` FROM pending_uploads WHERE id=?`
	u, err := scanUpload(r.db.QueryRowContext(ctx, query, id).Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load upload: %w", err)
	}
	return u, nil
}

func (r *SQLiteRepository) listUploads(ctx context.Context, query string, args ...any) ([]*models.PendingUpload, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select uploads: %w", err)
	}
	defer rows.Close()

	var result []*models.PendingUpload
	for rows.Next() {
		u, err := scanUpload(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// ListEligible returns pending uploads plus failed ones still under the
// retry ceiling, oldest first.
func (r *SQLiteRepository) ListEligible(ctx context.Context, maxRetries int) ([]*models.PendingUpload, error) {
	query := `SELECT ` + uploadColumns + ` FROM pending_uploads
			WHERE status=? OR (status=? AND retry_count < ?)
			ORDER BY created_at, rowid`
	return r.listUploads(ctx, query,
		string(models.UploadStatusPending), string(models.UploadStatusFailed), maxRetries)
}

// ListActive returns the non-completed uploads, oldest first.
func (r *SQLiteRepository) ListActive(ctx context.Context) ([]models.PendingUpload, error) {
	query := `SELECT ` + uploadColumns + ` FROM pending_uploads
			WHERE status != ? ORDER BY created_at, rowid`
	ptrs, err := r.listUploads(ctx, query, string(models.UploadStatusCompleted))
	if err != nil {
		return nil, err
	}
	result := make([]models.PendingUpload, 0, len(ptrs))
	for _, u := range ptrs {
		result = append(result, *u)
	}
	return result, nil
}

// CountPending counts undelivered uploads.
func (r *SQLiteRepository) CountPending(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pending_uploads WHERE status IN (?, ?, ?)`,
		string(models.UploadStatusPending), string(models.UploadStatusUploading),
		string(models.UploadStatusFailed)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending uploads: %w", err)
	}
	return n, nil
}

// MarkUploading flips a pending or failed entry to uploading; completed
// entries and entries already in flight are rejected.
func (r *SQLiteRepository) MarkUploading(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE pending_uploads SET status=? WHERE id=? AND status IN (?, ?)`,
		string(models.UploadStatusUploading), id,
		string(models.UploadStatusPending), string(models.UploadStatusFailed))
	if err != nil {
		return fmt.Errorf("failed to mark upload uploading: %w", err)
	}
	return expectOneRow(res)
}

// MarkCompleted records delivery. The task id is kept for logging only.
func (r *SQLiteRepository) MarkCompleted(ctx context.Context, id string, taskID string) error {
	var task any
	if taskID != "" {
		task = taskID
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE pending_uploads SET status=?, task_id=?, error_message=NULL, technical_error=NULL WHERE id=? AND status=?`,
		string(models.UploadStatusCompleted), task, id, string(models.UploadStatusUploading))
	if err != nil {
		return fmt.Errorf("failed to mark upload completed: %w", err)
	}
	return expectOneRow(res)
}

// MarkFailed records both error strings and bumps the retry count.
func (r *SQLiteRepository) MarkFailed(ctx context.Context, id string, userMessage, technicalError string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE pending_uploads SET status=?, error_message=?, technical_error=?, retry_count=retry_count+1 WHERE id=?`,
		string(models.UploadStatusFailed), userMessage, technicalError, id)
	if err != nil {
		return fmt.Errorf("failed to mark upload failed: %w", err)
	}
	return expectOneRow(res)
}

// ResetForRetry flips a failed entry back to pending with a fresh budget.
func (r *SQLiteRepository) ResetForRetry(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE pending_uploads SET status=?, retry_count=0, error_message=NULL, technical_error=NULL
		WHERE id=? AND status=?`,
		string(models.UploadStatusPending), id, string(models.UploadStatusFailed))
	if err != nil {
		return fmt.Errorf("failed to reset upload: %w", err)
	}
	return expectOneRow(res)
}

// RecoverInterrupted returns stranded in-flight entries to pending.
func (r *SQLiteRepository) RecoverInterrupted(ctx context.Context) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE pending_uploads SET status=? WHERE status=?`,
		string(models.UploadStatusPending), string(models.UploadStatusUploading))
	if err != nil {
		return 0, fmt.Errorf("failed to recover interrupted uploads: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(ra), nil
}

// Delete removes an upload row.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM pending_uploads WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete upload: %w", err)
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
