package models

import (
	"encoding/json"
	"time"
)

// ChangeType classifies a queued mutation.
type ChangeType string

const (
	ChangeTypeCreate ChangeType = "create"
	ChangeTypeUpdate ChangeType = "update"
	ChangeTypeDelete ChangeType = "delete"
)

// PendingChange is one not-yet-synchronized mutation in the change ledger.
//
// EntityID is nil for creates (the server has not assigned an id yet).
// Ordering within the ledger is FIFO by CreatedAt; a later change to the
// same entity never supersedes an earlier queued one.
type PendingChange struct {
	ID            string
	EntityType    EntityType
	EntityID      *int64
	ChangeType    ChangeType
	Payload       json.RawMessage
	CreatedAt     time.Time
	RetryCount    int
	LastError     *string
	NextAttemptAt time.Time
}
