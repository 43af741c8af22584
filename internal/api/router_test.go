package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askdeck/askdeck/internal/api"
	mw "github.com/askdeck/askdeck/internal/api/middleware"
	"github.com/askdeck/askdeck/internal/cache"
	"github.com/askdeck/askdeck/internal/store"
	"github.com/askdeck/askdeck/pkg/models"
)

// --- stub store that returns empty results (all auth fails) ---

type stubStore struct{}

func (s *stubStore) Ping(_ context.Context) error { return nil }
func (s *stubStore) GetDefaultTenant(_ context.Context) (*models.Tenant, error) {
	return nil, store.ErrNotFound
}
func (s *stubStore) GetAPIKeyByPrefix(_ context.Context, _ string) ([]*models.APIKey, error) {
	return nil, nil
}
func (s *stubStore) UpdateAPIKeyLastUsed(_ context.Context, _ uuid.UUID) error { return nil }
func (s *stubStore) CreateAPIKey(_ context.Context, _ *models.APIKey) error    { return nil }
func (s *stubStore) ListAPIKeys(_ context.Context, _ uuid.UUID) ([]*models.APIKey, error) {
	return nil, nil
}
func (s *stubStore) RevokeAPIKey(_ context.Context, _ uuid.UUID, _ uuid.UUID) error { return nil }
func (s *stubStore) CreateDocument(_ context.Context, _ *models.Document) error     { return nil }
func (s *stubStore) GetDocument(_ context.Context, _ uuid.UUID, _ uuid.UUID) (*models.Document, error) {
	return nil, store.ErrNotFound
}
func (s *stubStore) GetDocumentsByIDs(_ context.Context, _ uuid.UUID, _ []uuid.UUID) ([]*models.Document, error) {
	return nil, nil
}
func (s *stubStore) ListDocuments(_ context.Context, _ uuid.UUID, _, _ int) ([]*models.Document, int, error) {
	return nil, 0, nil
}
func (s *stubStore) SoftDeleteDocument(_ context.Context, _ uuid.UUID, _ uuid.UUID) error {
	return nil
}
func (s *stubStore) CreateJob(_ context.Context, _ *models.Job) error { return nil }
func (s *stubStore) GetJob(_ context.Context, _ uuid.UUID, _ uuid.UUID) (*models.Job, error) {
	return nil, store.ErrNotFound
}
func (s *stubStore) GetJobByIdempotencyToken(_ context.Context, _ uuid.UUID, _ string) (*models.Job, error) {
	return nil, store.ErrNotFound
}
func (s *stubStore) CompleteJob(_ context.Context, _ uuid.UUID, _ string, _ *models.JobResult, _ *models.JobError) error {
	return nil
}
func (s *stubStore) CreateCollection(_ context.Context, _ *models.Collection, _ []uuid.UUID) error {
	return nil
}
func (s *stubStore) DeleteCollectionRecord(_ context.Context, _ uuid.UUID) error { return nil }
func (s *stubStore) GetCollection(_ context.Context, _ uuid.UUID, _ uuid.UUID) (*models.Collection, error) {
	return nil, store.ErrNotFound
}
func (s *stubStore) ListCollections(_ context.Context, _ uuid.UUID) ([]*models.Collection, error) {
	return nil, nil
}
func (s *stubStore) ListCollectionDocuments(_ context.Context, _ uuid.UUID, _ uuid.UUID, _, _ int) ([]*models.Document, int, error) {
	return nil, 0, nil
}
func (s *stubStore) SoftDeleteCollection(_ context.Context, _ uuid.UUID, _ uuid.UUID) error {
	return nil
}

// --- stub cache ---

type stubCache struct{}

func (c *stubCache) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error { return nil }
func (c *stubCache) Get(_ context.Context, _ string) ([]byte, bool, error)            { return nil, false, nil }
func (c *stubCache) Delete(_ context.Context, _ string) error                         { return nil }
func (c *stubCache) Ping(_ context.Context) error                                     { return nil }
func (c *stubCache) SetJobStatus(_ context.Context, _, _ uuid.UUID, _ string, _ time.Duration) error {
	return nil
}
func (c *stubCache) GetJobStatus(_ context.Context, _ uuid.UUID) (uuid.UUID, string, bool, error) {
	return uuid.Nil, "", false, nil
}
func (c *stubCache) IncrWithExpiry(_ context.Context, _ string, _ time.Duration) (int64, error) {
	return 1, nil
}

// --- router tests ---

func newTestRouter() http.Handler {
	ok := func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}

	return api.NewRouter(api.Dependencies{
		Auth:      mw.NewAuth(&stubStore{}),
		RateLimit: mw.NewRateLimit(&stubCache{}, 60),

		HealthHandler: ok,

		CreateCollectionHandler: ok,
		PollJobHandler:          ok,
		ListCollectionsHandler:  ok,
		GetCollectionHandler:    ok,
		ListCollectionDocuments: ok,
		DeleteCollectionHandler: ok,

		UploadDocumentHandler: ok,
		ListDocumentsHandler:  ok,
		GetDocumentHandler:    ok,
		DeleteDocumentHandler: ok,

		CreateKeyHandler: ok,
		ListKeysHandler:  ok,
		RevokeKeyHandler: ok,
	})
}

func TestRouter_HealthEndpoint_Public(t *testing.T) {
	router := newTestRouter()

	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_ProtectedEndpoints_RequireAuth(t *testing.T) {
	router := newTestRouter()

	endpoints := []struct {
		method string
		path   string
	}{
		{"POST", "/api/v1/collections"},
		{"GET", "/api/v1/collections"},
		{"GET", "/api/v1/collections/jobs/" + uuid.NewString()},
		{"GET", "/api/v1/collections/" + uuid.NewString()},
		{"DELETE", "/api/v1/collections/" + uuid.NewString()},
		{"POST", "/api/v1/documents"},
		{"GET", "/api/v1/documents"},
		{"POST", "/api/v1/admin/keys"},
		{"GET", "/api/v1/admin/keys"},
	}

	for _, ep := range endpoints {
		t.Run(ep.method+" "+ep.path, func(t *testing.T) {
			req := httptest.NewRequest(ep.method, ep.path, nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)

			var body map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			errObj := body["error"].(map[string]any)
			assert.Equal(t, "INVALID_TOKEN", errObj["code"])
		})
	}
}

func TestRouter_NotFound(t *testing.T) {
	router := newTestRouter()

	req := httptest.NewRequest("GET", "/api/v1/nonexistent", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

// Verify stub interfaces are satisfied
var _ store.Store = (*stubStore)(nil)
var _ cache.Cache = (*stubCache)(nil)
