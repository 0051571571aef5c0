package models

import "time"

// ActionType classifies a sync-history record.
type ActionType string

const (
	ActionTypeUpload  ActionType = "upload"
	ActionTypeDelete  ActionType = "delete"
	ActionTypeRestore ActionType = "restore"
)

// HistoryStatus is the terminal outcome recorded for a history entry.
type HistoryStatus string

const (
	HistoryStatusSuccess HistoryStatus = "success"
	HistoryStatusFailed  HistoryStatus = "failed"
)

// SyncHistoryEntry is one append-only audit record. Entries are immutable
// once written and never replayed. UserMessage carries the short
// user-facing text for failures; TechnicalError the full detail.
type SyncHistoryEntry struct {
	ID             int64
	ActionType     ActionType
	Status         HistoryStatus
	Title          string
	Details        *string
	UserMessage    *string
	TechnicalError *string
	CreatedAt      time.Time
}
