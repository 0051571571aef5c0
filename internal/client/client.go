// Package client talks to the remote document-management server: entity
// CRUD, the multipart document submit, and the lightweight health probe.
package client

import (
	"context"
	"encoding/json"

	"github.com/dkorolevs/papersync/internal/models"
)

// UploadRequest describes one document submit. SourceURIs lists the local
// files to attach; a multi-page request attaches all of them to the same
// single create-document call.
type UploadRequest struct {
	SourceURIs      []string
	Title           string
	TagIDs          []int64
	DocumentTypeID  *int64
	CorrespondentID *int64
}

// Client is the remote server contract the sync core depends on.
//
// Every method maps failures into the package's error taxonomy:
// ErrUnauthorized and *ValidationError are terminal, *TransientError is
// retried with backoff by the caller.
type Client interface {
	// CheckHealth probes the status endpoint and classifies the outcome.
	// Any HTTP response proves reachability, except a 404 on the status
	// path, which is read as "reverse proxy up, target service down".
	CheckHealth(ctx context.Context) HealthStatus

	// ListEntities fetches the full authoritative set of one entity type,
	// following pagination.
	ListEntities(ctx context.Context, t models.EntityType) ([]models.Entity, error)

	// CreateEntity creates one entity and returns it with its server id.
	CreateEntity(ctx context.Context, t models.EntityType, payload json.RawMessage) (*models.Entity, error)

	// UpdateEntity patches one entity and returns the updated snapshot.
	UpdateEntity(ctx context.Context, t models.EntityType, id int64, payload json.RawMessage) (*models.Entity, error)

	// DeleteEntity deletes one entity. A 404 is treated as success; the
	// entity is gone either way.
	DeleteEntity(ctx context.Context, t models.EntityType, id int64) error

	// UploadDocument submits the document and returns the server's opaque
	// processing task id. Delivery means the payload was accepted, not
	// that downstream processing finished.
	UploadDocument(ctx context.Context, req *UploadRequest) (string, error)
}
