// Package syncer drives the drain cycle: replay the pending-change ledger,
// transfer queued uploads, then refresh the local cache from the server.
// At most one cycle runs at a time; triggers arriving mid-cycle coalesce
// into a single follow-up run.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/dkorolevs/papersync/internal/client"
	"github.com/dkorolevs/papersync/internal/logging"
	"github.com/dkorolevs/papersync/internal/models"
	"github.com/dkorolevs/papersync/internal/repositories/cache"
	"github.com/dkorolevs/papersync/internal/repositories/changes"
	"github.com/dkorolevs/papersync/internal/repositories/history"
	"github.com/dkorolevs/papersync/internal/repositories/uploads"
	"github.com/dkorolevs/papersync/internal/watch"
)

// Gate answers whether the server is currently worth talking to. A cycle
// that starts while the gate is closed does nothing.
type Gate interface {
	IsReachable() bool
}

// Notifier is told which local projections a cycle touched, so read
// streams can be republished. All methods must be non-blocking.
type Notifier interface {
	EntitiesChanged(t models.EntityType)
	UploadsChanged()
	ChangesChanged()
	HistoryChanged()
}

// CycleResult summarizes one drain cycle.
type CycleResult struct {
	StartedAt  time.Time
	FinishedAt time.Time

	// Skipped is set when the gate was closed and nothing ran.
	Skipped bool

	ChangesReplayed  int
	ChangesFailed    int
	UploadsCompleted int
	UploadsFailed    int
	TypesRefreshed   int

	// Err is the error that aborted the cycle early, if any. Per-item
	// failures are counted, not raised.
	Err error
}

// Orchestrator owns the drain cycle and its scheduling.
type Orchestrator struct {
	client  client.Client
	gate    Gate
	cache   cache.Repository
	changes changes.Repository
	uploads uploads.Repository
	history history.Repository
	log     logging.Logger

	backoff      changes.Backoff
	syncInterval time.Duration

	notifier Notifier

	cycleMu sync.Mutex
	trigger chan struct{}
	results *watch.Stream[CycleResult]
}

// Options groups the orchestrator's construction parameters.
type Options struct {
	Client       client.Client
	Gate         Gate
	Cache        cache.Repository
	Changes      changes.Repository
	Uploads      uploads.Repository
	History      history.Repository
	Backoff      changes.Backoff
	SyncInterval time.Duration
	Log          logging.Logger
}

func NewOrchestrator(opts Options) *Orchestrator {
	return &Orchestrator{
		client:       opts.Client,
		gate:         opts.Gate,
		cache:        opts.Cache,
		changes:      opts.Changes,
		uploads:      opts.Uploads,
		history:      opts.History,
		log:          opts.Log,
		backoff:      opts.Backoff,
		syncInterval: opts.SyncInterval,
		trigger:      make(chan struct{}, 1),
		results:      watch.New[CycleResult](),
	}
}

// Results streams the outcome of every cycle, including skipped ones.
func (o *Orchestrator) Results() *watch.Stream[CycleResult] {
	return o.results
}

// SetNotifier registers the projection notifier. Must be called before Run.
func (o *Orchestrator) SetNotifier(n Notifier) {
	o.notifier = n
}

// Trigger requests a drain cycle. Requests arriving while a cycle is
// pending or running coalesce into one.
func (o *Orchestrator) Trigger() {
	select {
	case o.trigger <- struct{}{}:
	default:
	}
}

// Run executes drain cycles until ctx is cancelled: one immediately, one
// per trigger, and one per sync interval as a safety net.
func (o *Orchestrator) Run(ctx context.Context) {
	ticker := time.NewTicker(o.syncInterval)
	defer ticker.Stop()

	o.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-o.trigger:
		}
		o.RunCycle(ctx)
	}
}

// RunCycle executes one full drain cycle. Concurrent callers serialize;
// the later one runs its own full cycle after the first finishes.
func (o *Orchestrator) RunCycle(ctx context.Context) (res CycleResult) {
	o.cycleMu.Lock()
	defer o.cycleMu.Unlock()

	res.StartedAt = time.Now()
	defer func() {
		res.FinishedAt = time.Now()
		o.results.Publish(res)
	}()

	if !o.gate.IsReachable() {
		res.Skipped = true
		o.log.Debug(ctx, "skipping sync cycle, server unreachable")
		return res
	}

	o.log.Info(ctx, "sync cycle started")

	if err := o.drainChanges(ctx, &res); err != nil {
		res.Err = err
		o.log.Warn(ctx, "sync cycle aborted during change replay", "error", err)
		return res
	}
	if err := o.drainUploads(ctx, &res); err != nil {
		res.Err = err
		o.log.Warn(ctx, "sync cycle aborted during uploads", "error", err)
		return res
	}
	if err := o.refreshCache(ctx, &res); err != nil {
		res.Err = err
		o.log.Warn(ctx, "sync cycle aborted during cache refresh", "error", err)
		return res
	}

	o.log.Info(ctx, "sync cycle finished",
		"changes_replayed", res.ChangesReplayed,
		"changes_failed", res.ChangesFailed,
		"uploads_completed", res.UploadsCompleted,
		"uploads_failed", res.UploadsFailed,
		"types_refreshed", res.TypesRefreshed,
	)
	return res
}

// abortCycle reports errors that doom every remaining item of the cycle.
// There is no point replaying entry after entry against a dead server or
// a rejected token.
func abortCycle(err error) bool {
	return errors.Is(err, client.ErrServerUnreachable) ||
		errors.Is(err, client.ErrUnauthorized)
}

// drainChanges replays the eligible ledger snapshot in FIFO order.
// Entries enqueued during the drain wait for the next cycle.
func (o *Orchestrator) drainChanges(ctx context.Context, res *CycleResult) error {
	eligible, err := o.changes.ListEligible(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("failed to list eligible changes: %w", err)
	}

	for _, ch := range eligible {
		if err := ctx.Err(); err != nil {
			return err
		}

		applied, applyErr := o.applyChange(ctx, ch)
		if applyErr == nil {
			if applied != nil {
				o.storeSnapshot(ctx, ch.EntityType, applied)
			}
			// The entry may have been manually deleted after the snapshot
			// was taken; the replay already happened, so just move on.
			if err := o.changes.MarkSucceeded(ctx, ch.ID); err != nil && !errors.Is(err, changes.ErrNotFound) {
				return fmt.Errorf("failed to remove replayed change: %w", err)
			}
			res.ChangesReplayed++
			o.recordChangeHistory(ctx, ch, models.HistoryStatusSuccess, nil)
			o.notifyEntities(ch.EntityType)
			continue
		}

		res.ChangesFailed++
		if err := o.changes.MarkFailed(ctx, ch.ID, applyErr.Error()); err != nil {
			if errors.Is(err, changes.ErrNotFound) {
				continue
			}
			return fmt.Errorf("failed to record change failure: %w", err)
		}
		o.log.Warn(ctx, "change replay failed",
			"change_id", ch.ID, "entity_type", ch.EntityType, "error", applyErr)

		if ch.RetryCount+1 >= o.backoff.MaxRetries || !client.IsTransient(applyErr) {
			o.recordChangeHistory(ctx, ch, models.HistoryStatusFailed, applyErr)
		}
		if abortCycle(applyErr) {
			return applyErr
		}
	}

	if len(eligible) > 0 {
		o.notifyChanges()
	}
	return nil
}

// applyChange replays one queued mutation. Create and update return the
// server's entity snapshot; delete returns nil.
func (o *Orchestrator) applyChange(ctx context.Context, ch *models.PendingChange) (*models.Entity, error) {
	switch ch.ChangeType {
	case models.ChangeTypeCreate:
		return o.client.CreateEntity(ctx, ch.EntityType, ch.Payload)
	case models.ChangeTypeUpdate:
		if ch.EntityID == nil {
			return nil, &client.ValidationError{Message: "update change without entity id"}
		}
		return o.client.UpdateEntity(ctx, ch.EntityType, *ch.EntityID, ch.Payload)
	case models.ChangeTypeDelete:
		if ch.EntityID == nil {
			return nil, &client.ValidationError{Message: "delete change without entity id"}
		}
		return nil, o.client.DeleteEntity(ctx, ch.EntityType, *ch.EntityID)
	default:
		return nil, &client.ValidationError{Message: fmt.Sprintf("unknown change type %q", ch.ChangeType)}
	}
}

// storeSnapshot caches the entity a successful create or update replay
// came back with. The upsert also clears any optimistic soft-delete
// marker, which is what brings a restored document back into view.
func (o *Orchestrator) storeSnapshot(ctx context.Context, t models.EntityType, e *models.Entity) {
	err := o.cache.UpsertAll(ctx, []models.CachedEntity{{
		Type:         t,
		ID:           e.ID,
		Name:         e.Name,
		Extra:        e.Extra,
		LastSyncedAt: time.Now(),
	}})
	if err != nil {
		o.log.Error(ctx, "failed to cache replayed entity",
			"entity_type", t, "entity_id", e.ID, "error", err)
	}
}

// isRestorePayload detects an update that flips a trashed document back to
// visible. Those are worth a dedicated history entry.
func isRestorePayload(payload json.RawMessage) bool {
	var probe struct {
		Deleted *bool `json:"deleted"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return false
	}
	return probe.Deleted != nil && !*probe.Deleted
}

// recordChangeHistory appends a history entry for document deletes and
// restores. Dropdown-type edits are routine and stay out of the history.
func (o *Orchestrator) recordChangeHistory(ctx context.Context, ch *models.PendingChange, status models.HistoryStatus, cause error) {
	if ch.EntityType != models.EntityTypeDocument {
		return
	}

	var action models.ActionType
	switch {
	case ch.ChangeType == models.ChangeTypeDelete:
		action = models.ActionTypeDelete
	case ch.ChangeType == models.ChangeTypeUpdate && isRestorePayload(ch.Payload):
		action = models.ActionTypeRestore
	default:
		return
	}

	entry := &models.SyncHistoryEntry{
		ActionType: action,
		Status:     status,
		Title:      o.entityTitle(ctx, ch),
	}
	if cause != nil {
		msg := userMessageFor(cause)
		tech := cause.Error()
		entry.UserMessage = &msg
		entry.TechnicalError = &tech
	}

	if err := o.history.Append(ctx, entry); err != nil {
		o.log.Error(ctx, "failed to append history entry", "error", err)
		return
	}
	o.notifyHistory()
}

func (o *Orchestrator) entityTitle(ctx context.Context, ch *models.PendingChange) string {
	if ch.EntityID == nil {
		return ""
	}
	cached, err := o.cache.GetByID(ctx, ch.EntityType, *ch.EntityID)
	if err != nil || cached == nil {
		return ""
	}
	return cached.Name
}

// drainUploads transfers eligible queued uploads one at a time, oldest
// first. Sequential transfer keeps memory bounded and makes the failure
// attribution per document unambiguous.
func (o *Orchestrator) drainUploads(ctx context.Context, res *CycleResult) error {
	eligible, err := o.uploads.ListEligible(ctx, o.backoff.MaxRetries)
	if err != nil {
		return fmt.Errorf("failed to list eligible uploads: %w", err)
	}

	for _, u := range eligible {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := o.uploads.MarkUploading(ctx, u.ID); err != nil {
			// Deleted or resolved since the snapshot was taken.
			if errors.Is(err, uploads.ErrNotFound) {
				continue
			}
			return fmt.Errorf("failed to mark upload in flight: %w", err)
		}
		o.notifyUploads()

		taskID, upErr := o.client.UploadDocument(ctx, &client.UploadRequest{
			SourceURIs:      u.SourceURIs,
			Title:           u.Title,
			TagIDs:          u.TagIDs,
			DocumentTypeID:  u.DocumentTypeID,
			CorrespondentID: u.CorrespondentID,
		})

		if upErr == nil {
			if err := o.uploads.MarkCompleted(ctx, u.ID, taskID); err != nil && !errors.Is(err, uploads.ErrNotFound) {
				return fmt.Errorf("failed to mark upload completed: %w", err)
			}
			res.UploadsCompleted++
			o.appendUploadHistory(ctx, u, models.HistoryStatusSuccess, nil)
			o.notifyUploads()
			continue
		}

		res.UploadsFailed++
		if err := o.uploads.MarkFailed(ctx, u.ID, userMessageFor(upErr), upErr.Error()); err != nil {
			if errors.Is(err, uploads.ErrNotFound) {
				continue
			}
			return fmt.Errorf("failed to record upload failure: %w", err)
		}
		o.notifyUploads()
		o.log.Warn(ctx, "upload failed", "upload_id", u.ID, "title", u.Title, "error", upErr)

		if u.RetryCount+1 >= o.backoff.MaxRetries || !client.IsTransient(upErr) {
			o.appendUploadHistory(ctx, u, models.HistoryStatusFailed, upErr)
		}
		if abortCycle(upErr) {
			return upErr
		}
	}
	return nil
}

func (o *Orchestrator) appendUploadHistory(ctx context.Context, u *models.PendingUpload, status models.HistoryStatus, cause error) {
	entry := &models.SyncHistoryEntry{
		ActionType: models.ActionTypeUpload,
		Status:     status,
		Title:      u.Title,
	}
	if cause != nil {
		msg := userMessageFor(cause)
		tech := cause.Error()
		entry.UserMessage = &msg
		entry.TechnicalError = &tech
	}

	if err := o.history.Append(ctx, entry); err != nil {
		o.log.Error(ctx, "failed to append history entry", "error", err)
		return
	}
	o.notifyHistory()
}

// userMessageFor reduces an error to the short message shown in lists.
// The full technical detail is kept alongside it, never instead of it.
func userMessageFor(err error) string {
	var ve *client.ValidationError
	switch {
	case errors.Is(err, client.ErrUnauthorized):
		return "authentication failed, check the API token"
	case errors.As(err, &ve):
		return "the server rejected the document"
	case errors.Is(err, client.ErrNoConnectivity), errors.Is(err, client.ErrServerUnreachable):
		return "server unavailable, will retry"
	case client.IsTransient(err):
		return "server error, will retry"
	default:
		return "sync failed"
	}
}

// refreshCache overwrites the cached dropdown types with the server's
// authoritative state. Transient fetch errors are retried in place; the
// purge runs only after the fetch of that type fully succeeded.
func (o *Orchestrator) refreshCache(ctx context.Context, res *CycleResult) error {
	for _, t := range models.ReconciledEntityTypes {
		var list []models.Entity
		fetchErr := retry.Do(ctx, retry.WithMaxRetries(2, retry.NewExponential(500*time.Millisecond)), func(ctx context.Context) error {
			var err error
			list, err = o.client.ListEntities(ctx, t)
			if err != nil && client.IsTransient(err) {
				return retry.RetryableError(err)
			}
			return err
		})
		if fetchErr != nil {
			if abortCycle(fetchErr) {
				return fetchErr
			}
			o.log.Warn(ctx, "cache refresh failed", "entity_type", t, "error", fetchErr)
			continue
		}

		now := time.Now()
		cached := make([]models.CachedEntity, 0, len(list))
		keep := make([]int64, 0, len(list))
		for _, e := range list {
			cached = append(cached, models.CachedEntity{
				Type:         t,
				ID:           e.ID,
				Name:         e.Name,
				Extra:        e.Extra,
				LastSyncedAt: now,
			})
			keep = append(keep, e.ID)
		}

		if err := o.cache.UpsertAll(ctx, cached); err != nil {
			return fmt.Errorf("failed to store refreshed %s cache: %w", t, err)
		}
		if err := o.cache.PurgeAbsent(ctx, t, keep); err != nil {
			return fmt.Errorf("failed to purge stale %s cache: %w", t, err)
		}

		res.TypesRefreshed++
		o.notifyEntities(t)
	}
	return nil
}

func (o *Orchestrator) notifyEntities(t models.EntityType) {
	if o.notifier != nil {
		o.notifier.EntitiesChanged(t)
	}
}

func (o *Orchestrator) notifyUploads() {
	if o.notifier != nil {
		o.notifier.UploadsChanged()
	}
}

func (o *Orchestrator) notifyChanges() {
	if o.notifier != nil {
		o.notifier.ChangesChanged()
	}
}

func (o *Orchestrator) notifyHistory() {
	if o.notifier != nil {
		o.notifier.HistoryChanged()
	}
}
