package provision

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/askdeck/askdeck/pkg/models"
)

// DeleteCollection creates a pending teardown job for the collection and
// runs it in the background. Teardown has no compensation: external deletes
// are attempted in reverse provisioning order, best effort, and every
// failure is recorded on the job's error detail. The catalog row is only
// soft-deleted once all external resources are gone, so an orphaned
// collection stays visible for manual reconciliation.
func (s *Service) DeleteCollection(ctx context.Context, tenantID uuid.UUID, collectionID uuid.UUID, callbackURL *string) (*models.Job, error) {
	if callbackURL != nil {
		u, err := url.Parse(*callbackURL)
		if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, ErrInvalidCallbackURL
		}
	}

	col, err := s.store.GetCollection(ctx, collectionID, tenantID)
	if err != nil {
		return nil, err
	}

	job := &models.Job{
		ID:          uuid.New(),
		TenantID:    tenantID,
		Kind:        models.JobKindCollectionDelete,
		Status:      models.JobStatusPending,
		CallbackURL: callbackURL,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}

	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("creating job: %w", err)
	}

	_ = s.cache.SetJobStatus(ctx, job.ID, job.TenantID, models.JobStatusPending, jobStatusTTL)

	go s.runDelete(job, col)

	return job, nil
}

func (s *Service) runDelete(job *models.Job, col *models.Collection) {
	ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in runDelete", "error", r, "job_id", job.ID)
			s.complete(job, models.JobStatusFailed, nil, &models.JobError{
				Step:    "teardown",
				Message: fmt.Sprintf("panic: %v", r),
			})
		}
	}()

	var outcomes []models.CompensationOutcome

	attempt := func(step string, kind models.ResourceKind, id string, fn func(context.Context) error) {
		outcome := models.CompensationOutcome{
			Step:   step,
			Handle: models.ResourceHandle{Kind: kind, ID: id, Position: len(outcomes)},
		}
		if err := fn(ctx); err != nil {
			outcome.Error = err.Error()
			slog.Error("teardown step failed",
				"job_id", job.ID, "step", step, "resource_id", id, "error", err)
		}
		outcomes = append(outcomes, outcome)
	}

	attempt("delete_assistant", models.ResourceAgent, col.AssistantID, func(ctx context.Context) error {
		return s.rag.DeleteAssistant(ctx, col.AssistantID)
	})
	attempt("delete_vector_store", models.ResourceIndex, col.VectorStoreID, func(ctx context.Context) error {
		return s.rag.DeleteVectorStore(ctx, col.VectorStoreID)
	})
	for _, fileID := range col.FileIDs {
		attempt("delete_file", models.ResourceFile, fileID, func(ctx context.Context) error {
			return s.rag.DeleteFile(ctx, fileID)
		})
	}

	var failed []string
	for _, o := range outcomes {
		if o.Error != "" {
			failed = append(failed, o.Step)
		}
	}

	if len(failed) > 0 {
		s.complete(job, models.JobStatusFailed, nil, &models.JobError{
			Step:          failed[0],
			Message:       fmt.Sprintf("%d of %d teardown steps failed", len(failed), len(outcomes)),
			Retriable:     true,
			Compensations: outcomes,
			Orphaned:      true,
		})
		return
	}

	if err := s.store.SoftDeleteCollection(ctx, col.ID, col.TenantID); err != nil {
		s.complete(job, models.JobStatusFailed, nil, &models.JobError{
			Step:          "soft_delete_collection",
			Message:       err.Error(),
			Compensations: outcomes,
		})
		return
	}

	s.complete(job, models.JobStatusSucceeded, &models.JobResult{
		CollectionID: col.ID,
		Handles:      nil,
	}, nil)
}
