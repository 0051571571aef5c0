// Package models defines the domain types shared by the cache, the pending
// ledgers, and the sync orchestrator.
package models

import (
	"encoding/json"
	"time"
)

// EntityType classifies a server-managed domain object.
type EntityType string

const (
	EntityTypeDocument      EntityType = "document"
	EntityTypeTag           EntityType = "tag"
	EntityTypeCorrespondent EntityType = "correspondent"
	EntityTypeDocumentType  EntityType = "document_type"
)

// ReconciledEntityTypes lists the types refreshed wholesale during cache
// reconciliation. Documents are fetched lazily and are not part of the
// full-refresh set.
var ReconciledEntityTypes = []EntityType{
	EntityTypeTag,
	EntityTypeCorrespondent,
	EntityTypeDocumentType,
}

// Entity is one domain object as returned by the server. Extra carries the
// type-specific fields verbatim so the cache round-trips them untouched.
type Entity struct {
	ID    int64
	Name  string
	Extra json.RawMessage
}

// CachedEntity is a server-entity snapshot held in the local cache store.
type CachedEntity struct {
	Type         EntityType
	ID           int64
	Name         string
	Extra        json.RawMessage
	Deleted      bool
	LastSyncedAt time.Time
}

// Entity strips the cache bookkeeping fields.
func (c CachedEntity) Entity() Entity {
	return Entity{ID: c.ID, Name: c.Name, Extra: c.Extra}
}
