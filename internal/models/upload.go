package models

import "time"

// UploadStatus is the lifecycle state of a queued document upload.
//
// Transitions move forward only (pending → uploading → completed/failed),
// except failed → pending on manual or automatic retry.
type UploadStatus string

const (
	UploadStatusPending   UploadStatus = "pending"
	UploadStatusUploading UploadStatus = "uploading"
	UploadStatusCompleted UploadStatus = "completed"
	UploadStatusFailed    UploadStatus = "failed"
)

// PendingUpload is one queued document upload. SourceURIs holds a single
// file reference, or all page references for a multi-page entry. A
// multi-page entry is atomic: every page is attached to one submit call,
// or the whole entry fails together.
//
// A completed upload is never deleted automatically; the active queue view
// filters by status and the row is archived into the sync history.
type PendingUpload struct {
	ID              string
	SourceURIs      []string
	Title           string
	TagIDs          []int64
	DocumentTypeID  *int64
	CorrespondentID *int64
	MultiPage       bool
	Status          UploadStatus
	ErrorMessage    *string
	TechnicalError  *string
	TaskID          *string
	RetryCount      int
	CreatedAt       time.Time
}
