package store

import (
	"context"
	"errors"

	"github.com/askdeck/askdeck/pkg/models"
	"github.com/google/uuid"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// ErrDuplicateToken is returned by CreateJob when the idempotency token is
// already mapped to a job. The caller must re-read the winner's job via
// GetJobByIdempotencyToken instead of minting a new one.
var ErrDuplicateToken = errors.New("idempotency token already mapped")

// ErrInvalidTransition means a caller attempted anything other than
// pending -> succeeded or pending -> failed. Terminal jobs are immutable;
// hitting this is a programming error, not a user-facing condition.
var ErrInvalidTransition = errors.New("invalid job status transition")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error
	GetDefaultTenant(ctx context.Context) (*models.Tenant, error)

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context, tenantID uuid.UUID) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) error

	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.Document, error)
	GetDocumentsByIDs(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]*models.Document, error)
	ListDocuments(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*models.Document, int, error)
	SoftDeleteDocument(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) error

	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.Job, error)
	GetJobByIdempotencyToken(ctx context.Context, tenantID uuid.UUID, token string) (*models.Job, error)
	CompleteJob(ctx context.Context, id uuid.UUID, status string, result *models.JobResult, jobErr *models.JobError) error

	CreateCollection(ctx context.Context, collection *models.Collection, documentIDs []uuid.UUID) error
	DeleteCollectionRecord(ctx context.Context, id uuid.UUID) error
	GetCollection(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.Collection, error)
	ListCollections(ctx context.Context, tenantID uuid.UUID) ([]*models.Collection, error)
	ListCollectionDocuments(ctx context.Context, collectionID uuid.UUID, tenantID uuid.UUID, limit, offset int) ([]*models.Document, int, error)
	SoftDeleteCollection(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) error
}
