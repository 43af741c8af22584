package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	mw "github.com/askdeck/askdeck/internal/api/middleware"
	"github.com/askdeck/askdeck/internal/api/response"
	"github.com/askdeck/askdeck/internal/storage"
	"github.com/askdeck/askdeck/internal/store"
	"github.com/askdeck/askdeck/pkg/models"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100

	// maxUploadBytes caps a single document upload at 64 MiB.
	maxUploadBytes = 64 << 20
)

// DocumentStore defines the document persistence interface the handlers
// depend on.
type DocumentStore interface {
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.Document, error)
	ListDocuments(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*models.Document, int, error)
	SoftDeleteDocument(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) error
}

// NewUploadDocumentHandler returns an http.HandlerFunc for
// POST /api/v1/documents. The request is multipart/form-data with a single
// "file" part. Content type is detected from the file bytes, not trusted
// from the client.
func NewUploadDocumentHandler(st DocumentStore, blobs storage.Storage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

		file, header, err := r.FormFile("file")
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				`Request must be multipart/form-data with a "file" part`, nil)
			return
		}
		defer file.Close()

		if header.Filename == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Uploaded file must have a name", nil)
			return
		}

		mtype, err := mimetype.DetectReader(file)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Could not read uploaded file", nil)
			return
		}
		if _, err := file.Seek(0, 0); err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		docID := uuid.New()
		path := fmt.Sprintf("%s/%s", tenantID, docID)

		size, err := blobs.Save(r.Context(), path, file)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to store uploaded file", nil)
			return
		}

		now := time.Now().UTC()
		doc := &models.Document{
			ID:          docID,
			TenantID:    tenantID,
			Name:        header.Filename,
			ContentType: mtype.String(),
			SizeBytes:   size,
			StoragePath: path,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := st.CreateDocument(r.Context(), doc); err != nil {
			_ = blobs.Delete(r.Context(), path)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to record uploaded file", nil)
			return
		}

		response.Created(w, doc)
	}
}

// NewListDocumentsHandler returns an http.HandlerFunc for
// GET /api/v1/documents.
func NewListDocumentsHandler(st DocumentStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}

		page, limit := paginationParams(r)

		docs, total, err := st.ListDocuments(r.Context(), tenantID, limit, (page-1)*limit)
		if err != nil {
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

// NewGetDocumentHandler returns an http.HandlerFunc for
// GET /api/v1/documents/{documentID}.
func NewGetDocumentHandler(st DocumentStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}

		docID, err := uuid.Parse(chi.URLParam(r, "documentID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "documentID must be a valid UUID", nil)
			return
		}

		doc, err := st.GetDocument(r.Context(), docID, tenantID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "DOCUMENT_NOT_FOUND", "Document not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		response.JSON(w, doc)
	}
}

// NewDeleteDocumentHandler returns an http.HandlerFunc for
// DELETE /api/v1/documents/{documentID}. The row is soft-deleted; the blob
// is removed best effort. Collections already provisioned from the document
// are unaffected, their content lives with the AI service.
func NewDeleteDocumentHandler(st DocumentStore, blobs storage.Storage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}

		docID, err := uuid.Parse(chi.URLParam(r, "documentID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "documentID must be a valid UUID", nil)
			return
		}

		doc, err := st.GetDocument(r.Context(), docID, tenantID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "DOCUMENT_NOT_FOUND", "Document not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		if err := st.SoftDeleteDocument(r.Context(), docID, tenantID); err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}
		_ = blobs.Delete(r.Context(), doc.StoragePath)

		response.JSON(w, map[string]any{"id": docID, "deleted": true})
	}
}

// paginationParams parses page and limit query parameters with sane bounds.
func paginationParams(r *http.Request) (page, limit int) {
	page = 1
	if v, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && v > 0 {
		page = v
	}

	limit = defaultPageLimit
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	return page, limit
}
