package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	mw "github.com/askdeck/askdeck/internal/api/middleware"
	"github.com/askdeck/askdeck/internal/api/response"
	"github.com/askdeck/askdeck/internal/provision"
	"github.com/askdeck/askdeck/internal/store"
	"github.com/askdeck/askdeck/pkg/models"
)

// defaultTemperature is applied when the request omits temperature. The
// near-zero value keeps assistant answers deterministic over the indexed
// documents.
const defaultTemperature = 1e-6

// Provisioner defines the collection lifecycle interface the handlers
// depend on.
type Provisioner interface {
	CreateCollection(ctx context.Context, params provision.CreateParams) (*models.Job, error)
	DeleteCollection(ctx context.Context, tenantID uuid.UUID, collectionID uuid.UUID, callbackURL *string) (*models.Job, error)
	GetJob(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.Job, error)
}

// Catalog defines the read side of the collection catalog.
type Catalog interface {
	GetCollection(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.Collection, error)
	ListCollections(ctx context.Context, tenantID uuid.UUID) ([]*models.Collection, error)
	ListCollectionDocuments(ctx context.Context, collectionID uuid.UUID, tenantID uuid.UUID, limit, offset int) ([]*models.Document, int, error)
}

// NewCreateCollectionHandler returns an http.HandlerFunc for
// POST /api/v1/collections. It responds 202 with a job reference; the
// pipeline runs in the background.
func NewCreateCollectionHandler(svc Provisioner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}

		var req struct {
			Documents        []uuid.UUID `json:"documents"`
			Model            string      `json:"model"`
			Instructions     string      `json:"instructions"`
			Temperature      *float64    `json:"temperature"`
			CallbackURL      *string     `json:"callback_url"`
			IdempotencyToken *string     `json:"idempotency_token"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		temperature := defaultTemperature
		if req.Temperature != nil {
			temperature = *req.Temperature
		}

		job, err := svc.CreateCollection(r.Context(), provision.CreateParams{
			TenantID:         tenantID,
			DocumentIDs:      req.Documents,
			Model:            req.Model,
			Instructions:     req.Instructions,
			Temperature:      temperature,
			CallbackURL:      req.CallbackURL,
			IdempotencyToken: req.IdempotencyToken,
		})
		if err != nil {
			if provision.IsValidation(err) {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		response.Accepted(w, jobRef{JobID: job.ID, Status: job.Status})
	}
}

// NewPollJobHandler returns an http.HandlerFunc for
// GET /api/v1/collections/jobs/{jobID}.
func NewPollJobHandler(svc Provisioner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}

		jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "jobID must be a valid UUID", nil)
			return
		}

		job, err := svc.GetJob(r.Context(), jobID, tenantID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "Job not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		response.JSON(w, job)
	}
}

// NewDeleteCollectionHandler returns an http.HandlerFunc for
// DELETE /api/v1/collections/{collectionID}. Teardown is asynchronous: the
// response is 202 with a job reference. An optional JSON body may carry a
// callback_url.
func NewDeleteCollectionHandler(svc Provisioner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}

		collectionID, err := uuid.Parse(chi.URLParam(r, "collectionID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "collectionID must be a valid UUID", nil)
			return
		}

		var req struct {
			CallbackURL *string `json:"callback_url"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		job, err := svc.DeleteCollection(r.Context(), tenantID, collectionID, req.CallbackURL)
		if err != nil {
			switch {
			case errors.Is(err, store.ErrNotFound):
				response.Error(w, http.StatusNotFound, "COLLECTION_NOT_FOUND", "Collection not found", nil)
			case provision.IsValidation(err):
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
			default:
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"An unexpected error occurred", nil)
			}
			return
		}

		response.Accepted(w, jobRef{JobID: job.ID, Status: job.Status})
	}
}

// NewListCollectionsHandler returns an http.HandlerFunc for
// GET /api/v1/collections.
func NewListCollectionsHandler(catalog Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}

		collections, err := catalog.ListCollections(r.Context(), tenantID)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}
		if collections == nil {
			collections = []*models.Collection{}
		}

		response.JSON(w, collections)
	}
}

// NewGetCollectionHandler returns an http.HandlerFunc for
// GET /api/v1/collections/{collectionID}.
func NewGetCollectionHandler(catalog Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}

		collectionID, err := uuid.Parse(chi.URLParam(r, "collectionID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "collectionID must be a valid UUID", nil)
			return
		}

		col, err := catalog.GetCollection(r.Context(), collectionID, tenantID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "COLLECTION_NOT_FOUND", "Collection not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		response.JSON(w, col)
	}
}

// NewListCollectionDocumentsHandler returns an http.HandlerFunc for
// GET /api/v1/collections/{collectionID}/documents.
func NewListCollectionDocumentsHandler(catalog Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}

		collectionID, err := uuid.Parse(chi.URLParam(r, "collectionID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "collectionID must be a valid UUID", nil)
			return
		}

		page, limit := paginationParams(r)

		docs, total, err := catalog.ListCollectionDocuments(r.Context(), collectionID, tenantID, limit, (page-1)*limit)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "COLLECTION_NOT_FOUND", "Collection not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}
		if docs == nil {
			docs = []*models.Document{}
		}

		response.Collection(w, docs, response.PaginationMeta{
			Page:    page,
			Limit:   limit,
			Total:   total,
			HasNext: page*limit < total,
		})
	}
}

type jobRef struct {
	JobID  uuid.UUID `json:"job_id"`
	Status string    `json:"status"`
}
