// Package services is the API surface the host application talks to.
// Every operation works against local storage and returns immediately;
// network work happens in the background drain cycle.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dkorolevs/papersync/internal/database"
	"github.com/dkorolevs/papersync/internal/logging"
	"github.com/dkorolevs/papersync/internal/models"
	"github.com/dkorolevs/papersync/internal/watch"
)

var (
	// ErrNoSourceFiles is returned when an upload is queued without any
	// source files.
	ErrNoSourceFiles = errors.New("upload has no source files")
	// ErrNotFound is returned for operations on unknown queue entries.
	ErrNotFound = errors.New("entry not found")
)

// SyncTrigger requests a background drain cycle.
type SyncTrigger interface {
	Trigger()
}

// QueueUploadRequest carries the metadata for a document upload.
type QueueUploadRequest struct {
	SourceURIs      []string
	Title           string
	TagIDs          []int64
	DocumentTypeID  *int64
	CorrespondentID *int64
}

// SyncService exposes queueing, cached reads, and observable projections.
// It also serves as the projection notifier for the drain cycle, so every
// local state change it causes or observes is pushed to subscribers.
type SyncService struct {
	repos   *database.Repositories
	trigger SyncTrigger
	log     logging.Logger

	entityStreams map[models.EntityType]*watch.Stream[[]models.Entity]
	uploadsStream *watch.Stream[[]models.PendingUpload]
	changesStream *watch.Stream[[]models.PendingChange]
	historyStream *watch.Stream[[]models.SyncHistoryEntry]
	pendingCount  *watch.Stream[int]
}

// historyLimit bounds the observable history projection. The full log
// stays queryable through History.
const historyLimit = 100

func New(repos *database.Repositories, trigger SyncTrigger, log logging.Logger) *SyncService {
	streams := make(map[models.EntityType]*watch.Stream[[]models.Entity])
	for _, t := range models.ReconciledEntityTypes {
		streams[t] = watch.New[[]models.Entity]()
	}
	streams[models.EntityTypeDocument] = watch.New[[]models.Entity]()

	return &SyncService{
		repos:         repos,
		trigger:       trigger,
		log:           log,
		entityStreams: streams,
		uploadsStream: watch.New[[]models.PendingUpload](),
		changesStream: watch.New[[]models.PendingChange](),
		historyStream: watch.New[[]models.SyncHistoryEntry](),
		pendingCount:  watch.New[int](),
	}
}

// QueueUpload queues a single-file document for upload.
func (s *SyncService) QueueUpload(ctx context.Context, req QueueUploadRequest) (*models.PendingUpload, error) {
	return s.enqueueUpload(ctx, req, false)
}

// QueueMultiPageUpload queues several page files as one future document.
// All pages travel in one request during sync, so the server either gets
// the whole document or none of it.
func (s *SyncService) QueueMultiPageUpload(ctx context.Context, req QueueUploadRequest) (*models.PendingUpload, error) {
	return s.enqueueUpload(ctx, req, true)
}

func (s *SyncService) enqueueUpload(ctx context.Context, req QueueUploadRequest, multiPage bool) (*models.PendingUpload, error) {
	if len(req.SourceURIs) == 0 {
		return nil, ErrNoSourceFiles
	}

	u := &models.PendingUpload{
		ID:              uuid.NewString(),
		SourceURIs:      req.SourceURIs,
		Title:           req.Title,
		TagIDs:          req.TagIDs,
		DocumentTypeID:  req.DocumentTypeID,
		CorrespondentID: req.CorrespondentID,
		MultiPage:       multiPage,
		Status:          models.UploadStatusPending,
		CreatedAt:       time.Now(),
	}
	if err := s.repos.Uploads.Enqueue(ctx, u); err != nil {
		return nil, fmt.Errorf("failed to queue upload: %w", err)
	}

	s.log.Info(ctx, "upload queued", "upload_id", u.ID, "title", u.Title, "pages", len(u.SourceURIs))
	s.UploadsChanged()
	s.trigger.Trigger()
	return u, nil
}

// RetryUpload manually re-arms a failed upload.
func (s *SyncService) RetryUpload(ctx context.Context, id string) error {
	if err := s.mustHaveUpload(ctx, id); err != nil {
		return err
	}
	if err := s.repos.Uploads.ResetForRetry(ctx, id); err != nil {
		return err
	}
	s.UploadsChanged()
	s.trigger.Trigger()
	return nil
}

// DeleteUpload removes a queued upload before it is sent.
func (s *SyncService) DeleteUpload(ctx context.Context, id string) error {
	if err := s.mustHaveUpload(ctx, id); err != nil {
		return err
	}
	if err := s.repos.Uploads.Delete(ctx, id); err != nil {
		return err
	}
	s.UploadsChanged()
	return nil
}

func (s *SyncService) mustHaveUpload(ctx context.Context, id string) error {
	u, err := s.repos.Uploads.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if u == nil {
		return fmt.Errorf("upload %s: %w", id, ErrNotFound)
	}
	return nil
}

// ActiveUploads returns every upload that has not completed, oldest first.
func (s *SyncService) ActiveUploads(ctx context.Context) ([]models.PendingUpload, error) {
	return s.repos.Uploads.ListActive(ctx)
}

// PendingUploadCount counts not-yet-delivered uploads, for badges.
func (s *SyncService) PendingUploadCount(ctx context.Context) (int, error) {
	return s.repos.Uploads.CountPending(ctx)
}

// ChangeRequest describes one metadata mutation to queue.
type ChangeRequest struct {
	EntityType models.EntityType
	EntityID   *int64
	ChangeType models.ChangeType
	Payload    json.RawMessage
}

// EnqueueChange appends a mutation to the pending-change ledger. Deletes
// also soft-hide the cached snapshot right away, so the UI reflects the
// user's intent before the server has heard about it.
func (s *SyncService) EnqueueChange(ctx context.Context, req ChangeRequest) (*models.PendingChange, error) {
	if req.ChangeType != models.ChangeTypeCreate && req.EntityID == nil {
		return nil, fmt.Errorf("%s change requires an entity id", req.ChangeType)
	}

	c := &models.PendingChange{
		ID:         uuid.NewString(),
		EntityType: req.EntityType,
		EntityID:   req.EntityID,
		ChangeType: req.ChangeType,
		Payload:    req.Payload,
		CreatedAt:  time.Now(),
	}
	if err := s.repos.Changes.Enqueue(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to queue change: %w", err)
	}

	if req.ChangeType == models.ChangeTypeDelete {
		if err := s.repos.Cache.SoftDelete(ctx, req.EntityType, *req.EntityID); err != nil {
			s.log.Warn(ctx, "failed to hide deleted entity locally",
				"entity_type", req.EntityType, "entity_id", *req.EntityID, "error", err)
		}
		s.EntitiesChanged(req.EntityType)
	}

	s.log.Info(ctx, "change queued",
		"change_id", c.ID, "entity_type", c.EntityType, "change_type", c.ChangeType)
	s.ChangesChanged()
	s.trigger.Trigger()
	return c, nil
}

// DeleteDocument queues a server-side document deletion.
func (s *SyncService) DeleteDocument(ctx context.Context, id int64) (*models.PendingChange, error) {
	return s.EnqueueChange(ctx, ChangeRequest{
		EntityType: models.EntityTypeDocument,
		EntityID:   &id,
		ChangeType: models.ChangeTypeDelete,
	})
}

// RestoreDocument queues an update that brings a trashed document back.
func (s *SyncService) RestoreDocument(ctx context.Context, id int64) (*models.PendingChange, error) {
	return s.EnqueueChange(ctx, ChangeRequest{
		EntityType: models.EntityTypeDocument,
		EntityID:   &id,
		ChangeType: models.ChangeTypeUpdate,
		Payload:    json.RawMessage(`{"deleted":false}`),
	})
}

// RetryChange re-arms a change stuck at the retry ceiling.
func (s *SyncService) RetryChange(ctx context.Context, id string) error {
	if err := s.repos.Changes.ResetRetry(ctx, id); err != nil {
		return err
	}
	s.ChangesChanged()
	s.trigger.Trigger()
	return nil
}

// DeleteChange drops a queued change without replaying it.
func (s *SyncService) DeleteChange(ctx context.Context, id string) error {
	if err := s.repos.Changes.Delete(ctx, id); err != nil {
		return err
	}
	s.ChangesChanged()
	return nil
}

// ListChanges returns the whole ledger, FIFO, for the diagnostics view.
func (s *SyncService) ListChanges(ctx context.Context) ([]models.PendingChange, error) {
	return s.repos.Changes.ListAll(ctx)
}

// Entities returns the cached snapshots of one type. Never touches the
// network; the answer is whatever the last successful refresh left behind.
func (s *SyncService) Entities(ctx context.Context, t models.EntityType) ([]models.Entity, error) {
	cached, err := s.repos.Cache.GetAll(ctx, t)
	if err != nil {
		return nil, err
	}
	out := make([]models.Entity, 0, len(cached))
	for _, c := range cached {
		out = append(out, c.Entity())
	}
	return out, nil
}

// History returns the newest terminal sync outcomes.
func (s *SyncService) History(ctx context.Context, limit int) ([]models.SyncHistoryEntry, error) {
	return s.repos.History.List(ctx, limit)
}

// TriggerSyncNow requests an immediate drain cycle.
func (s *SyncService) TriggerSyncNow() {
	s.trigger.Trigger()
}

// EntityStream streams the cached set of one type to subscribers.
func (s *SyncService) EntityStream(t models.EntityType) *watch.Stream[[]models.Entity] {
	return s.entityStreams[t]
}

// UploadStream streams the active upload queue.
func (s *SyncService) UploadStream() *watch.Stream[[]models.PendingUpload] {
	return s.uploadsStream
}

// ChangeStream streams the pending-change ledger.
func (s *SyncService) ChangeStream() *watch.Stream[[]models.PendingChange] {
	return s.changesStream
}

// HistoryStream streams the recent sync history.
func (s *SyncService) HistoryStream() *watch.Stream[[]models.SyncHistoryEntry] {
	return s.historyStream
}

// PendingCountStream streams the badge counter.
func (s *SyncService) PendingCountStream() *watch.Stream[int] {
	return s.pendingCount
}

// The methods below implement the drain cycle's projection notifier.
// They re-read the affected projection and publish it; a failed read is
// logged and the previous published value stays current.

func (s *SyncService) EntitiesChanged(t models.EntityType) {
	stream, ok := s.entityStreams[t]
	if !ok {
		return
	}
	ctx := context.Background()
	entities, err := s.Entities(ctx, t)
	if err != nil {
		s.log.Error(ctx, "failed to refresh entity projection", "entity_type", t, "error", err)
		return
	}
	stream.Publish(entities)
}

func (s *SyncService) UploadsChanged() {
	ctx := context.Background()
	active, err := s.repos.Uploads.ListActive(ctx)
	if err != nil {
		s.log.Error(ctx, "failed to refresh upload projection", "error", err)
		return
	}
	s.uploadsStream.Publish(active)

	count, err := s.repos.Uploads.CountPending(ctx)
	if err != nil {
		s.log.Error(ctx, "failed to refresh pending count", "error", err)
		return
	}
	s.pendingCount.Publish(count)
}

func (s *SyncService) ChangesChanged() {
	ctx := context.Background()
	all, err := s.repos.Changes.ListAll(ctx)
	if err != nil {
		s.log.Error(ctx, "failed to refresh change projection", "error", err)
		return
	}
	s.changesStream.Publish(all)
}

func (s *SyncService) HistoryChanged() {
	ctx := context.Background()
	entries, err := s.repos.History.List(ctx, historyLimit)
	if err != nil {
		s.log.Error(ctx, "failed to refresh history projection", "error", err)
		return
	}
	s.historyStream.Publish(entries)
}
