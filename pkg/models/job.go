package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusPending   = "pending"
	JobStatusSucceeded = "succeeded"
	JobStatusFailed    = "failed"
)

const (
	JobKindCollectionCreate = "collection_create"
	JobKindCollectionDelete = "collection_delete"
)

// ResourceKind tags an external identifier with the kind of resource it names.
type ResourceKind string

const (
	ResourceFile       ResourceKind = "file"
	ResourceIndex      ResourceKind = "index"
	ResourceAgent      ResourceKind = "agent"
	ResourceCollection ResourceKind = "collection"
)

// ResourceHandle is an external identifier produced by one provisioning step.
// Handles live inside a job's result or error detail; they are never stored
// on their own.
type ResourceHandle struct {
	Kind     ResourceKind `json:"kind"`
	ID       string       `json:"id"`
	Position int          `json:"position"`
}

// JobResult is populated only on a succeeded job.
type JobResult struct {
	CollectionID  uuid.UUID        `json:"collection_id"`
	FileIDs       []string         `json:"file_ids"`
	VectorStoreID string           `json:"vector_store_id"`
	AssistantID   string           `json:"assistant_id"`
	Model         string           `json:"model"`
	Instructions  string           `json:"instructions,omitempty"`
	Handles       []ResourceHandle `json:"handles"`
}

// CompensationOutcome records one rollback attempt during a failed pipeline.
type CompensationOutcome struct {
	Step   string         `json:"step"`
	Handle ResourceHandle `json:"handle"`
	Error  string         `json:"error,omitempty"`
}

// JobError is populated only on a failed job. Orphaned is true when rollback
// itself failed and an external resource may have been left behind; those jobs
// need manual reconciliation.
type JobError struct {
	Step          string                `json:"step"`
	Message       string                `json:"message"`
	Retriable     bool                  `json:"retriable"`
	Compensations []CompensationOutcome `json:"compensations,omitempty"`
	Orphaned      bool                  `json:"orphaned"`
}

// Job tracks one asynchronous provisioning attempt. The API returns a job ID
// on submission; the client either polls GET /api/v1/collections/jobs/{job_id}
// or receives a callback once the job reaches a terminal status. A terminal
// status never changes.
type Job struct {
	ID               uuid.UUID  `db:"id"                json:"id"`
	TenantID         uuid.UUID  `db:"tenant_id"         json:"tenant_id"`
	Kind             string     `db:"kind"              json:"kind"`
	Status           string     `db:"status"            json:"status"`
	IdempotencyToken *string    `db:"idempotency_token" json:"-"`
	CallbackURL      *string    `db:"callback_url"      json:"callback_url,omitempty"`
	Result           *JobResult `db:"result"            json:"result,omitempty"`
	Error            *JobError  `db:"error"             json:"error,omitempty"`
	CompletedAt      *time.Time `db:"completed_at"      json:"completed_at,omitempty"`
	CreatedAt        time.Time  `db:"created_at"        json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at"        json:"updated_at"`
}

// Terminal reports whether the job has reached a final status.
func (j *Job) Terminal() bool {
	return j.Status == JobStatusSucceeded || j.Status == JobStatusFailed
}
