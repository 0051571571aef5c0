package uploads

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/dkorolevs/papersync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
CREATE TABLE pending_uploads (
  id TEXT PRIMARY KEY,
  source_uris TEXT NOT NULL,
  title TEXT NOT NULL DEFAULT '',
  tag_ids TEXT NOT NULL DEFAULT '[]',
  document_type_id INTEGER,
  correspondent_id INTEGER,
  multi_page INTEGER NOT NULL DEFAULT 0,
  status TEXT NOT NULL DEFAULT 'pending',
  error_message TEXT,
  technical_error TEXT,
  task_id TEXT,
  retry_count INTEGER NOT NULL DEFAULT 0,
  created_at INTEGER NOT NULL
);
`)
	require.NoError(t, err)

	return db
}

func upload(id string, createdAt time.Time) *models.PendingUpload {
	return &models.PendingUpload{
		ID:         id,
		SourceURIs: []string{"/scans/" + id + ".jpg"},
		Title:      "scan " + id,
		CreatedAt:  createdAt,
	}
}

func TestEnqueue_RoundTripsFields(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	docType := int64(2)
	in := &models.PendingUpload{
		ID:             "m1",
		SourceURIs:     []string{"/scans/p1.jpg", "/scans/p2.jpg", "/scans/p3.jpg"},
		Title:          "contract",
		TagIDs:         []int64{4, 9},
		DocumentTypeID: &docType,
		MultiPage:      true,
		CreatedAt:      time.UnixMilli(1700000000000),
	}
	require.NoError(t, r.Enqueue(ctx, in))

	got, err := r.GetByID(ctx, "m1")
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, in.SourceURIs, got.SourceURIs)
	assert.Equal(t, "contract", got.Title)
	assert.Equal(t, []int64{4, 9}, got.TagIDs)
	require.NotNil(t, got.DocumentTypeID)
	assert.Equal(t, docType, *got.DocumentTypeID)
	assert.Nil(t, got.CorrespondentID)
	assert.True(t, got.MultiPage)
	assert.Equal(t, models.UploadStatusPending, got.Status)
	assert.Nil(t, got.ErrorMessage)
	assert.Nil(t, got.TaskID)
}

func TestGetByID_Unknown(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)

	got, err := r.GetByID(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStatusTransitions(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	require.NoError(t, r.Enqueue(ctx, upload("u1", time.UnixMilli(1700000000000))))

	// pending → uploading → completed
	require.NoError(t, r.MarkUploading(ctx, "u1"))
	require.NoError(t, r.MarkCompleted(ctx, "u1", "task-77"))

	got, err := r.GetByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, models.UploadStatusCompleted, got.Status)
	require.NotNil(t, got.TaskID)
	assert.Equal(t, "task-77", *got.TaskID)

	// terminal success: no way back to uploading
	require.Error(t, r.MarkUploading(ctx, "u1"))
}

func TestMarkCompleted_RequiresUploading(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	require.NoError(t, r.Enqueue(ctx, upload("u1", time.UnixMilli(1700000000000))))
	require.Error(t, r.MarkCompleted(ctx, "u1", ""), "pending entry must not complete directly")
}

func TestMarkFailed_RecordsBothMessages(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	require.NoError(t, r.Enqueue(ctx, upload("u1", time.UnixMilli(1700000000000))))
	require.NoError(t, r.MarkUploading(ctx, "u1"))
	require.NoError(t, r.MarkFailed(ctx, "u1", "Upload failed", "post /api/documents/post_document/: http 503"))

	got, err := r.GetByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, models.UploadStatusFailed, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "Upload failed", *got.ErrorMessage)
	require.NotNil(t, got.TechnicalError)
	assert.Contains(t, *got.TechnicalError, "http 503")
}

func TestListEligible_RespectsRetryCeiling(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	base := time.UnixMilli(1700000000000)
	require.NoError(t, r.Enqueue(ctx, upload("fresh", base)))
	require.NoError(t, r.Enqueue(ctx, upload("retryable", base.Add(time.Second))))
	require.NoError(t, r.Enqueue(ctx, upload("exhausted", base.Add(2*time.Second))))

	require.NoError(t, r.MarkUploading(ctx, "retryable"))
	require.NoError(t, r.MarkFailed(ctx, "retryable", "err", "err"))

	for i := 0; i < 3; i++ {
		require.NoError(t, r.MarkUploading(ctx, "exhausted"))
		require.NoError(t, r.MarkFailed(ctx, "exhausted", "err", "err"))
	}

	got, err := r.ListEligible(ctx, 3)
	require.NoError(t, err)

	ids := make([]string, 0, len(got))
	for _, u := range got {
		ids = append(ids, u.ID)
	}
	assert.Equal(t, []string{"fresh", "retryable"}, ids)

	// manual retry brings the exhausted entry back
	require.NoError(t, r.ResetForRetry(ctx, "exhausted"))
	got, err = r.ListEligible(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestCountPendingAndListActive(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	base := time.UnixMilli(1700000000000)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, r.Enqueue(ctx, upload(id, base)))
		base = base.Add(time.Second)
	}

	n, err := r.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.NoError(t, r.MarkUploading(ctx, "a"))
	require.NoError(t, r.MarkCompleted(ctx, "a", ""))

	n, err = r.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// completed rows are history, not active queue
	active, err := r.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "b", active[0].ID)
	assert.Equal(t, "c", active[1].ID)

	// but the completed row is retained
	got, err := r.GetByID(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.UploadStatusCompleted, got.Status)
}

func TestDelete(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	require.NoError(t, r.Enqueue(ctx, upload("u1", time.UnixMilli(1700000000000))))
	require.NoError(t, r.Delete(ctx, "u1"))
	require.ErrorIs(t, r.Delete(ctx, "u1"), ErrNotFound)
}

func TestMarkMethods_MissingRowIsNotFound(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	require.ErrorIs(t, r.MarkUploading(ctx, "ghost"), ErrNotFound)
	require.ErrorIs(t, r.MarkCompleted(ctx, "ghost", "t"), ErrNotFound)
	require.ErrorIs(t, r.MarkFailed(ctx, "ghost", "m", "t"), ErrNotFound)
	require.ErrorIs(t, r.ResetForRetry(ctx, "ghost"), ErrNotFound)
}

func TestRecoverInterrupted(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	ts := time.UnixMilli(1700000000000)
	require.NoError(t, r.Enqueue(ctx, upload("inflight", ts)))
	require.NoError(t, r.Enqueue(ctx, upload("done", ts.Add(time.Second))))
	require.NoError(t, r.MarkUploading(ctx, "inflight"))
	require.NoError(t, r.MarkUploading(ctx, "done"))
	require.NoError(t, r.MarkCompleted(ctx, "done", "task-1"))

	n, err := r.RecoverInterrupted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := r.GetByID(ctx, "inflight")
	require.NoError(t, err)
	assert.Equal(t, models.UploadStatusPending, got.Status)

	// Back in line for the next cycle.
	eligible, err := r.ListEligible(ctx, 3)
	require.NoError(t, err)
	require.Len(t, eligible, 1)
	assert.Equal(t, "inflight", eligible[0].ID)

	// Completed entries are untouched.
	got, err = r.GetByID(ctx, "done")
	require.NoError(t, err)
	assert.Equal(t, models.UploadStatusCompleted, got.Status)
}
