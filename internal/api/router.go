package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	mw "github.com/askdeck/askdeck/internal/api/middleware"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler http.HandlerFunc

	CreateCollectionHandler http.HandlerFunc
	PollJobHandler          http.HandlerFunc
	ListCollectionsHandler  http.HandlerFunc
	GetCollectionHandler    http.HandlerFunc
	ListCollectionDocuments http.HandlerFunc
	DeleteCollectionHandler http.HandlerFunc

	UploadDocumentHandler http.HandlerFunc
	ListDocumentsHandler  http.HandlerFunc
	GetDocumentHandler    http.HandlerFunc
	DeleteDocumentHandler http.HandlerFunc

	CreateKeyHandler http.HandlerFunc
	ListKeysHandler  http.HandlerFunc
	RevokeKeyHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check
	r.Get("/api/v1/health", deps.HealthHandler)

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Post("/api/v1/collections", deps.CreateCollectionHandler)
		r.Get("/api/v1/collections/jobs/{jobID}", deps.PollJobHandler)
		r.Get("/api/v1/collections", deps.ListCollectionsHandler)
		r.Get("/api/v1/collections/{collectionID}", deps.GetCollectionHandler)
		r.Get("/api/v1/collections/{collectionID}/documents", deps.ListCollectionDocuments)
		r.Delete("/api/v1/collections/{collectionID}", deps.DeleteCollectionHandler)

		r.Post("/api/v1/documents", deps.UploadDocumentHandler)
		r.Get("/api/v1/documents", deps.ListDocumentsHandler)
		r.Get("/api/v1/documents/{documentID}", deps.GetDocumentHandler)
		r.Delete("/api/v1/documents/{documentID}", deps.DeleteDocumentHandler)

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope("admin"))

			r.Post("/api/v1/admin/keys", deps.CreateKeyHandler)
			r.Get("/api/v1/admin/keys", deps.ListKeysHandler)
			r.Delete("/api/v1/admin/keys/{keyID}", deps.RevokeKeyHandler)
		})
	})

	return r
}
