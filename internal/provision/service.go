// Package provision orchestrates collection lifecycle jobs: it accepts a
// request, records a pending job, runs the provisioning pipeline in the
// background, and writes the terminal outcome exactly once.
package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/askdeck/askdeck/internal/cache"
	"github.com/askdeck/askdeck/internal/pipeline"
	"github.com/askdeck/askdeck/internal/rag"
	"github.com/askdeck/askdeck/internal/storage"
	"github.com/askdeck/askdeck/internal/store"
	"github.com/askdeck/askdeck/pkg/models"
)

const jobStatusTTL = 30 * time.Minute

// Validation errors returned synchronously from CreateCollection and
// DeleteCollection. Handlers map these to 400 responses.
var (
	ErrNoDocuments          = errors.New("at least one document is required")
	ErrTooManyDocuments     = errors.New("document count exceeds the per-collection limit")
	ErrDuplicateDocuments   = errors.New("document list contains duplicates")
	ErrUnknownDocuments     = errors.New("one or more documents do not exist")
	ErrModelRequired        = errors.New("model is required")
	ErrInstructionsRequired = errors.New("instructions are required")
	ErrInvalidCallbackURL   = errors.New("callback_url must be an absolute http or https URL")
)

// IsValidation reports whether err is one of the request validation errors.
func IsValidation(err error) bool {
	for _, v := range []error{
		ErrNoDocuments, ErrTooManyDocuments, ErrDuplicateDocuments,
		ErrUnknownDocuments, ErrModelRequired, ErrInstructionsRequired,
		ErrInvalidCallbackURL,
	} {
		if errors.Is(err, v) {
			return true
		}
	}
	return false
}

// Notifier delivers terminal job results to callback URLs.
type Notifier interface {
	Enqueue(job *models.Job)
}

// CreateParams holds validated parameters for a create-collection request.
type CreateParams struct {
	TenantID         uuid.UUID
	DocumentIDs      []uuid.UUID
	Model            string
	Instructions     string
	Temperature      float64
	CallbackURL      *string
	IdempotencyToken *string
}

// Service runs collection provisioning and teardown jobs.
type Service struct {
	store        store.Store
	cache        cache.Cache
	blobs        storage.Storage
	rag          rag.Client
	executor     *pipeline.Executor
	notifier     Notifier
	jobTimeout   time.Duration
	maxDocuments int
}

// NewService creates a new provisioning service.
func NewService(st store.Store, ca cache.Cache, blobs storage.Storage, ragClient rag.Client, notifier Notifier, jobTimeout time.Duration, maxDocuments int) *Service {
	return &Service{
		store:        st,
		cache:        ca,
		blobs:        blobs,
		rag:          ragClient,
		executor:     pipeline.NewExecutor(),
		notifier:     notifier,
		jobTimeout:   jobTimeout,
		maxDocuments: maxDocuments,
	}
}

// CreateCollection validates the request, creates a pending job, and
// dispatches the pipeline in a background goroutine. It returns the job
// immediately; callers poll the job or receive a callback.
//
// When an idempotency token is supplied and already mapped to a job, that
// job is returned unchanged and no new pipeline starts. Two concurrent
// submissions with the same token race on a unique index; the loser re-reads
// the winner's job.
func (s *Service) CreateCollection(ctx context.Context, params CreateParams) (*models.Job, error) {
	if err := s.validate(params); err != nil {
		return nil, err
	}

	// The token lookup runs before document resolution: a retried submit
	// must resolve to the winner's job even if a referenced document has
	// been deleted since the first attempt.
	if params.IdempotencyToken != nil {
		existing, err := s.store.GetJobByIdempotencyToken(ctx, params.TenantID, *params.IdempotencyToken)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("looking up idempotency token: %w", err)
		}
	}

	docs, err := s.resolveDocuments(ctx, params.TenantID, params.DocumentIDs)
	if err != nil {
		return nil, err
	}

	job := &models.Job{
		ID:               uuid.New(),
		TenantID:         params.TenantID,
		Kind:             models.JobKindCollectionCreate,
		Status:           models.JobStatusPending,
		IdempotencyToken: params.IdempotencyToken,
		CallbackURL:      params.CallbackURL,
		CreatedAt:        time.Now().UTC(),
		UpdatedAt:        time.Now().UTC(),
	}

	if err := s.store.CreateJob(ctx, job); err != nil {
		if errors.Is(err, store.ErrDuplicateToken) && params.IdempotencyToken != nil {
			winner, readErr := s.store.GetJobByIdempotencyToken(ctx, params.TenantID, *params.IdempotencyToken)
			if readErr != nil {
				return nil, fmt.Errorf("re-reading winning job: %w", readErr)
			}
			return winner, nil
		}
		return nil, fmt.Errorf("creating job: %w", err)
	}

	_ = s.cache.SetJobStatus(ctx, job.ID, job.TenantID, models.JobStatusPending, jobStatusTTL)

	go s.runCreate(job, docs, params)

	return job, nil
}

func (s *Service) validate(params CreateParams) error {
	if len(params.DocumentIDs) == 0 {
		return ErrNoDocuments
	}
	if len(params.DocumentIDs) > s.maxDocuments {
		return fmt.Errorf("%w: got %d, limit %d", ErrTooManyDocuments, len(params.DocumentIDs), s.maxDocuments)
	}
	seen := make(map[uuid.UUID]struct{}, len(params.DocumentIDs))
	for _, id := range params.DocumentIDs {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateDocuments, id)
		}
		seen[id] = struct{}{}
	}
	if params.Model == "" {
		return ErrModelRequired
	}
	if params.Instructions == "" {
		return ErrInstructionsRequired
	}
	if params.CallbackURL != nil {
		u, err := url.Parse(*params.CallbackURL)
		if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return ErrInvalidCallbackURL
		}
	}
	return nil
}

// resolveDocuments loads the documents and returns them in request order.
func (s *Service) resolveDocuments(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]*models.Document, error) {
	docs, err := s.store.GetDocumentsByIDs(ctx, tenantID, ids)
	if err != nil {
		return nil, fmt.Errorf("loading documents: %w", err)
	}

	byID := make(map[uuid.UUID]*models.Document, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
	}

	ordered := make([]*models.Document, 0, len(ids))
	for _, id := range ids {
		d, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownDocuments, id)
		}
		ordered = append(ordered, d)
	}
	return ordered, nil
}

// runCreate executes the provisioning pipeline in a goroutine. It recovers
// from panics and always writes exactly one terminal status.
func (s *Service) runCreate(job *models.Job, docs []*models.Document, params CreateParams) {
	ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in runCreate", "error", r, "job_id", job.ID)
			s.complete(job, models.JobStatusFailed, nil, &models.JobError{
				Step:    "pipeline",
				Message: fmt.Sprintf("panic: %v", r),
			})
		}
	}()

	collectionID := uuid.New()
	var (
		fileIDs       []string
		vectorStoreID string
		assistantID   string
	)

	steps := make([]pipeline.Step, 0, len(docs)+3)
	for i, doc := range docs {
		steps = append(steps, pipeline.Step{
			Name: fmt.Sprintf("upload_file[%d]", i),
			Kind: models.ResourceFile,
			Run: func(ctx context.Context) (string, error) {
				blob, err := s.blobs.Open(ctx, doc.StoragePath)
				if err != nil {
					return "", fmt.Errorf("opening document %s: %w", doc.ID, err)
				}
				defer blob.Close()

				id, err := s.rag.CreateFile(ctx, doc.Name, doc.ContentType, blob)
				if err != nil {
					return "", err
				}
				fileIDs = append(fileIDs, id)
				return id, nil
			},
			Compensate: func(ctx context.Context, handle models.ResourceHandle) error {
				return s.rag.DeleteFile(ctx, handle.ID)
			},
		})
	}

	steps = append(steps, pipeline.Step{
		Name: "create_vector_store",
		Kind: models.ResourceIndex,
		Run: func(ctx context.Context) (string, error) {
			id, err := s.rag.CreateVectorStore(ctx, fmt.Sprintf("askdeck-%s", collectionID), fileIDs)
			if err != nil {
				return "", err
			}
			vectorStoreID = id
			return id, nil
		},
		Compensate: func(ctx context.Context, handle models.ResourceHandle) error {
			return s.rag.DeleteVectorStore(ctx, handle.ID)
		},
	})

	steps = append(steps, pipeline.Step{
		Name: "create_assistant",
		Kind: models.ResourceAgent,
		Run: func(ctx context.Context) (string, error) {
			id, err := s.rag.CreateAssistant(ctx, rag.AgentConfig{
				Model:        params.Model,
				Instructions: params.Instructions,
				Temperature:  params.Temperature,
			}, vectorStoreID)
			if err != nil {
				return "", err
			}
			assistantID = id
			return id, nil
		},
		Compensate: func(ctx context.Context, handle models.ResourceHandle) error {
			return s.rag.DeleteAssistant(ctx, handle.ID)
		},
	})

	// Persisting the catalog row is the final step. Giving it a DB-side
	// compensation means a failed persist unwinds the external resources
	// through the same path as any other step failure.
	steps = append(steps, pipeline.Step{
		Name: "persist_collection",
		Kind: models.ResourceCollection,
		Run: func(ctx context.Context) (string, error) {
			now := time.Now().UTC()
			err := s.store.CreateCollection(ctx, &models.Collection{
				ID:            collectionID,
				TenantID:      params.TenantID,
				AssistantID:   assistantID,
				VectorStoreID: vectorStoreID,
				Model:         params.Model,
				Instructions:  params.Instructions,
				FileIDs:       fileIDs,
				CreatedAt:     now,
				UpdatedAt:     now,
			}, params.DocumentIDs)
			if err != nil {
				return "", err
			}
			return collectionID.String(), nil
		},
		Compensate: func(ctx context.Context, handle models.ResourceHandle) error {
			return s.store.DeleteCollectionRecord(ctx, collectionID)
		},
	})

	handles, failure := s.executor.Run(ctx, steps)
	if failure != nil {
		s.complete(job, models.JobStatusFailed, nil, &models.JobError{
			Step:          failure.Step,
			Message:       failure.Err.Error(),
			Retriable:     failure.Retriable,
			Compensations: failure.Compensations,
			Orphaned:      !failure.FullyCompensated(),
		})
		return
	}

	s.complete(job, models.JobStatusSucceeded, &models.JobResult{
		CollectionID:  collectionID,
		FileIDs:       fileIDs,
		VectorStoreID: vectorStoreID,
		AssistantID:   assistantID,
		Model:         params.Model,
		Instructions:  params.Instructions,
		Handles:       handles,
	}, nil)
}

// complete writes the terminal status and, if the write lands, enqueues the
// callback notification. The pipeline context may already be cancelled or
// past its deadline, so the write runs on its own context.
//
// The job struct passed in is the one CreateCollection handed back to the
// submitter, which may still be reading it; it is never written here. The
// notifier gets its own terminal copy.
func (s *Service) complete(job *models.Job, status string, result *models.JobResult, jobErr *models.JobError) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.store.CompleteJob(ctx, job.ID, status, result, jobErr); err != nil {
		slog.Error("failed to complete job", "job_id", job.ID, "status", status, "error", err)
		return
	}

	_ = s.cache.SetJobStatus(ctx, job.ID, job.TenantID, status, jobStatusTTL)

	now := time.Now().UTC()
	done := *job
	done.Status = status
	done.Result = result
	done.Error = jobErr
	done.CompletedAt = &now
	done.UpdatedAt = now

	s.notifier.Enqueue(&done)
}

// GetJob returns the job for polling. The Redis status cache is consulted
// first: a cached pending status answers the poll without a database read,
// since a pending job carries no result or error detail yet. The returned
// skeleton holds only the ID and status. The cached entry carries the owning
// tenant, so a poll from any other tenant falls through to the store and
// gets its tenant-scoped not-found.
func (s *Service) GetJob(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.Job, error) {
	if owner, status, ok, err := s.cache.GetJobStatus(ctx, id); err == nil && ok &&
		status == models.JobStatusPending && owner == tenantID {
		return &models.Job{ID: id, TenantID: tenantID, Status: status}, nil
	}

	return s.store.GetJob(ctx, id, tenantID)
}
