package provision_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askdeck/askdeck/internal/provision"
	"github.com/askdeck/askdeck/internal/rag"
	"github.com/askdeck/askdeck/internal/rag/mock"
	"github.com/askdeck/askdeck/internal/storage"
	"github.com/askdeck/askdeck/internal/store"
	"github.com/askdeck/askdeck/pkg/models"
)

// ─── mocks ───────────────────────────────────────────────────────────────────

type mockStore struct {
	mu          sync.Mutex
	jobs        map[uuid.UUID]*models.Job
	documents   map[uuid.UUID]*models.Document
	collections map[uuid.UUID]*models.Collection
}

var _ store.Store = (*mockStore)(nil)

func newMockStore() *mockStore {
	return &mockStore{
		jobs:        make(map[uuid.UUID]*models.Job),
		documents:   make(map[uuid.UUID]*models.Document),
		collections: make(map[uuid.UUID]*models.Collection),
	}
}

func (m *mockStore) Ping(_ context.Context) error { return nil }

func (m *mockStore) GetDefaultTenant(_ context.Context) (*models.Tenant, error) {
	return nil, store.ErrNotFound
}

func (m *mockStore) GetAPIKeyByPrefix(_ context.Context, _ string) ([]*models.APIKey, error) {
	return nil, nil
}
func (m *mockStore) UpdateAPIKeyLastUsed(_ context.Context, _ uuid.UUID) error { return nil }
func (m *mockStore) CreateAPIKey(_ context.Context, _ *models.APIKey) error    { return nil }
func (m *mockStore) ListAPIKeys(_ context.Context, _ uuid.UUID) ([]*models.APIKey, error) {
	return nil, nil
}
func (m *mockStore) RevokeAPIKey(_ context.Context, _ uuid.UUID, _ uuid.UUID) error { return nil }

func (m *mockStore) CreateDocument(_ context.Context, doc *models.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.documents[doc.ID] = doc
	return nil
}

func (m *mockStore) GetDocument(_ context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.documents[id]
	if !ok || d.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	return d, nil
}

func (m *mockStore) GetDocumentsByIDs(_ context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]*models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Document
	for _, id := range ids {
		if d, ok := m.documents[id]; ok && d.TenantID == tenantID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *mockStore) ListDocuments(_ context.Context, _ uuid.UUID, _, _ int) ([]*models.Document, int, error) {
	return nil, 0, nil
}
func (m *mockStore) SoftDeleteDocument(_ context.Context, _ uuid.UUID, _ uuid.UUID) error {
	return nil
}

func (m *mockStore) CreateJob(_ context.Context, job *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job.IdempotencyToken != nil {
		for _, j := range m.jobs {
			if j.TenantID == job.TenantID && j.IdempotencyToken != nil && *j.IdempotencyToken == *job.IdempotencyToken {
				return store.ErrDuplicateToken
			}
		}
	}
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *mockStore) GetJob(_ context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *mockStore) GetJobByIdempotencyToken(_ context.Context, tenantID uuid.UUID, token string) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		if j.TenantID == tenantID && j.IdempotencyToken != nil && *j.IdempotencyToken == token {
			cp := *j
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *mockStore) CompleteJob(_ context.Context, id uuid.UUID, status string, result *models.JobResult, jobErr *models.JobError) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	if j.Status != models.JobStatusPending {
		return fmt.Errorf("%w: %s is already %s", store.ErrInvalidTransition, id, j.Status)
	}
	now := time.Now().UTC()
	j.Status = status
	j.Result = result
	j.Error = jobErr
	j.CompletedAt = &now
	j.UpdatedAt = now
	return nil
}

func (m *mockStore) CreateCollection(_ context.Context, collection *models.Collection, _ []uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *collection
	m.collections[collection.ID] = &cp
	return nil
}

func (m *mockStore) DeleteCollectionRecord(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collections, id)
	return nil
}

func (m *mockStore) GetCollection(_ context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.Collection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[id]
	if !ok || c.TenantID != tenantID || c.DeletedAt != nil {
		return nil, store.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *mockStore) ListCollections(_ context.Context, _ uuid.UUID) ([]*models.Collection, error) {
	return nil, nil
}

func (m *mockStore) ListCollectionDocuments(_ context.Context, _ uuid.UUID, _ uuid.UUID, _, _ int) ([]*models.Document, int, error) {
	return nil, 0, nil
}

func (m *mockStore) SoftDeleteCollection(_ context.Context, id uuid.UUID, tenantID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[id]
	if !ok || c.TenantID != tenantID {
		return store.ErrNotFound
	}
	now := time.Now().UTC()
	c.DeletedAt = &now
	return nil
}

type cachedStatus struct {
	tenantID uuid.UUID
	status   string
}

type mockCache struct {
	mu       sync.Mutex
	statuses map[uuid.UUID]cachedStatus
}

func newMockCache() *mockCache {
	return &mockCache{statuses: make(map[uuid.UUID]cachedStatus)}
}

func (c *mockCache) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error { return nil }
func (c *mockCache) Get(_ context.Context, _ string) ([]byte, bool, error)            { return nil, false, nil }
func (c *mockCache) Delete(_ context.Context, _ string) error                         { return nil }
func (c *mockCache) Ping(_ context.Context) error                                     { return nil }

func (c *mockCache) SetJobStatus(_ context.Context, jobID, tenantID uuid.UUID, status string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses[jobID] = cachedStatus{tenantID: tenantID, status: status}
	return nil
}

func (c *mockCache) GetJobStatus(_ context.Context, jobID uuid.UUID) (uuid.UUID, string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.statuses[jobID]
	return s.tenantID, s.status, ok, nil
}

func (c *mockCache) IncrWithExpiry(_ context.Context, _ string, _ time.Duration) (int64, error) {
	return 1, nil
}

type mockNotifier struct {
	jobs chan *models.Job
}

func newMockNotifier() *mockNotifier {
	return &mockNotifier{jobs: make(chan *models.Job, 16)}
}

func (n *mockNotifier) Enqueue(job *models.Job) { n.jobs <- job }

func (n *mockNotifier) wait(t *testing.T) *models.Job {
	t.Helper()
	select {
	case job := <-n.jobs:
		return job
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for terminal job")
		return nil
	}
}

// ─── test harness ────────────────────────────────────────────────────────────

type testEnv struct {
	svc      *provision.Service
	store    *mockStore
	cache    *mockCache
	blobs    storage.Storage
	rag      *mock.Client
	notifier *mockNotifier
	tenantID uuid.UUID
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	blobs, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)

	env := &testEnv{
		store:    newMockStore(),
		cache:    newMockCache(),
		blobs:    blobs,
		rag:      mock.NewClient(),
		notifier: newMockNotifier(),
		tenantID: uuid.New(),
	}
	env.svc = provision.NewService(env.store, env.cache, blobs, env.rag, env.notifier, time.Minute, 10)
	return env
}

func (e *testEnv) seedDocument(t *testing.T, name string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	path := fmt.Sprintf("%s/%s", e.tenantID, id)
	_, err := e.blobs.Save(context.Background(), path, strings.NewReader("content of "+name))
	require.NoError(t, err)

	require.NoError(t, e.store.CreateDocument(context.Background(), &models.Document{
		ID:          id,
		TenantID:    e.tenantID,
		Name:        name,
		ContentType: "text/plain",
		StoragePath: path,
	}))
	return id
}

func (e *testEnv) createParams(docIDs ...uuid.UUID) provision.CreateParams {
	return provision.CreateParams{
		TenantID:     e.tenantID,
		DocumentIDs:  docIDs,
		Model:        "gpt-4o",
		Instructions: "Answer questions from the attached documents.",
		Temperature:  1e-6,
	}
}

// ─── tests ───────────────────────────────────────────────────────────────────

func TestCreateCollectionSucceeds(t *testing.T) {
	env := newTestEnv(t)
	docA := env.seedDocument(t, "handbook.pdf")
	docB := env.seedDocument(t, "faq.md")

	job, err := env.svc.CreateCollection(context.Background(), env.createParams(docA, docB))
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, models.JobKindCollectionCreate, job.Kind)

	done := env.notifier.wait(t)
	assert.Equal(t, job.ID, done.ID)
	assert.Equal(t, models.JobStatusSucceeded, done.Status)
	require.NotNil(t, done.Result)
	assert.Nil(t, done.Error)

	assert.Len(t, done.Result.FileIDs, 2)
	assert.NotEmpty(t, done.Result.VectorStoreID)
	assert.NotEmpty(t, done.Result.AssistantID)
	assert.Equal(t, "gpt-4o", done.Result.Model)
	// two files + vector store + assistant + collection row
	assert.Len(t, done.Result.Handles, 5)

	col, err := env.store.GetCollection(context.Background(), done.Result.CollectionID, env.tenantID)
	require.NoError(t, err)
	assert.Equal(t, done.Result.AssistantID, col.AssistantID)
	assert.Equal(t, done.Result.FileIDs, col.FileIDs)

	assert.Equal(t, 4, env.rag.LiveResourceCount())

	stored, err := env.store.GetJob(context.Background(), job.ID, env.tenantID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusSucceeded, stored.Status)
	require.NotNil(t, stored.CompletedAt)
}

func TestCreateCollectionValidation(t *testing.T) {
	env := newTestEnv(t)
	doc := env.seedDocument(t, "doc.txt")

	bad := "not a url"
	ftp := "ftp://example.com/hook"

	tests := []struct {
		name    string
		mutate  func(*provision.CreateParams)
		wantErr error
	}{
		{"no documents", func(p *provision.CreateParams) { p.DocumentIDs = nil }, provision.ErrNoDocuments},
		{"missing model", func(p *provision.CreateParams) { p.Model = "" }, provision.ErrModelRequired},
		{"missing instructions", func(p *provision.CreateParams) { p.Instructions = "" }, provision.ErrInstructionsRequired},
		{"duplicate documents", func(p *provision.CreateParams) { p.DocumentIDs = []uuid.UUID{doc, doc} }, provision.ErrDuplicateDocuments},
		{"relative callback url", func(p *provision.CreateParams) { p.CallbackURL = &bad }, provision.ErrInvalidCallbackURL},
		{"non-http callback url", func(p *provision.CreateParams) { p.CallbackURL = &ftp }, provision.ErrInvalidCallbackURL},
		{"unknown document", func(p *provision.CreateParams) { p.DocumentIDs = []uuid.UUID{uuid.New()} }, provision.ErrUnknownDocuments},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := env.createParams(doc)
			tt.mutate(&params)

			_, err := env.svc.CreateCollection(context.Background(), params)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.True(t, provision.IsValidation(err))
		})
	}
}

func TestCreateCollectionDocumentLimit(t *testing.T) {
	env := newTestEnv(t)

	ids := make([]uuid.UUID, 11)
	for i := range ids {
		ids[i] = env.seedDocument(t, fmt.Sprintf("doc-%d.txt", i))
	}

	_, err := env.svc.CreateCollection(context.Background(), env.createParams(ids...))
	assert.ErrorIs(t, err, provision.ErrTooManyDocuments)
}

func TestCreateCollectionIdempotencyToken(t *testing.T) {
	env := newTestEnv(t)
	doc := env.seedDocument(t, "doc.txt")
	token := "req-7f3a"

	params := env.createParams(doc)
	params.IdempotencyToken = &token

	first, err := env.svc.CreateCollection(context.Background(), params)
	require.NoError(t, err)
	env.notifier.wait(t)

	second, err := env.svc.CreateCollection(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, models.JobStatusSucceeded, second.Status)

	// No second pipeline ran: still one collection's worth of resources.
	assert.Equal(t, 3, env.rag.LiveResourceCount())
}

func TestCreateCollectionReturnedJobIsNotMutated(t *testing.T) {
	env := newTestEnv(t)
	doc := env.seedDocument(t, "doc.txt")

	job, err := env.svc.CreateCollection(context.Background(), env.createParams(doc))
	require.NoError(t, err)

	done := env.notifier.wait(t)
	require.Equal(t, models.JobStatusSucceeded, done.Status)

	// The submitter's copy stays at the snapshot taken when the job was
	// accepted; the pipeline goroutine never writes to it.
	assert.NotSame(t, job, done)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Nil(t, job.Result)
	assert.Nil(t, job.CompletedAt)
}

func TestCreateCollectionIdempotentRetryAfterDocumentDeleted(t *testing.T) {
	env := newTestEnv(t)
	doc := env.seedDocument(t, "doc.txt")
	token := "req-91bc"

	params := env.createParams(doc)
	params.IdempotencyToken = &token

	first, err := env.svc.CreateCollection(context.Background(), params)
	require.NoError(t, err)
	env.notifier.wait(t)

	// The referenced document disappears between the first submit and the
	// retry. The retry must still resolve to the original job.
	env.store.mu.Lock()
	delete(env.store.documents, doc)
	env.store.mu.Unlock()

	second, err := env.svc.CreateCollection(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, models.JobStatusSucceeded, second.Status)
}

func TestCreateCollectionConcurrentSameToken(t *testing.T) {
	env := newTestEnv(t)
	doc := env.seedDocument(t, "doc.txt")
	token := "req-c4d1"

	params := env.createParams(doc)
	params.IdempotencyToken = &token

	var wg sync.WaitGroup
	jobs := make([]*models.Job, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			jobs[i], errs[i] = env.svc.CreateCollection(context.Background(), params)
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, jobs[0].ID, jobs[1].ID)

	done := env.notifier.wait(t)
	assert.Equal(t, jobs[0].ID, done.ID)
	assert.Equal(t, models.JobStatusSucceeded, done.Status)

	// Exactly one pipeline ran.
	assert.Equal(t, 3, env.rag.LiveResourceCount())
	env.store.mu.Lock()
	assert.Len(t, env.store.jobs, 1)
	env.store.mu.Unlock()
}

func TestCreateCollectionRollsBackOnFailure(t *testing.T) {
	env := newTestEnv(t)
	docA := env.seedDocument(t, "a.txt")
	docB := env.seedDocument(t, "b.txt")

	env.rag.CreateAssistantFunc = func(_ context.Context, _ rag.AgentConfig, _ string) (string, error) {
		return "", rag.PermanentError("create assistant", errors.New("unsupported model"))
	}

	job, err := env.svc.CreateCollection(context.Background(), env.createParams(docA, docB))
	require.NoError(t, err)

	done := env.notifier.wait(t)
	assert.Equal(t, job.ID, done.ID)
	assert.Equal(t, models.JobStatusFailed, done.Status)
	assert.Nil(t, done.Result)
	require.NotNil(t, done.Error)

	assert.Equal(t, "create_assistant", done.Error.Step)
	assert.False(t, done.Error.Retriable)
	assert.False(t, done.Error.Orphaned)
	// vector store + both files compensated
	assert.Len(t, done.Error.Compensations, 3)

	assert.Equal(t, 0, env.rag.LiveResourceCount())
	assert.Empty(t, env.store.collections)
}

func TestCreateCollectionTransientFailureMarkedRetriable(t *testing.T) {
	env := newTestEnv(t)
	doc := env.seedDocument(t, "doc.txt")

	env.rag.CreateVectorStoreFunc = func(_ context.Context, _ string, _ []string) (string, error) {
		return "", rag.TransientError("create vector store", errors.New("rate limited"))
	}

	_, err := env.svc.CreateCollection(context.Background(), env.createParams(doc))
	require.NoError(t, err)

	done := env.notifier.wait(t)
	assert.Equal(t, models.JobStatusFailed, done.Status)
	require.NotNil(t, done.Error)
	assert.Equal(t, "create_vector_store", done.Error.Step)
	assert.True(t, done.Error.Retriable)
}

func TestCreateCollectionCompensationFailureMarksOrphaned(t *testing.T) {
	env := newTestEnv(t)
	doc := env.seedDocument(t, "doc.txt")

	env.rag.CreateAssistantFunc = func(_ context.Context, _ rag.AgentConfig, _ string) (string, error) {
		return "", rag.PermanentError("create assistant", errors.New("bad instructions"))
	}
	env.rag.DeleteVectorStoreFunc = func(_ context.Context, _ string) error {
		return rag.TransientError("delete vector store", errors.New("service unavailable"))
	}

	_, err := env.svc.CreateCollection(context.Background(), env.createParams(doc))
	require.NoError(t, err)

	done := env.notifier.wait(t)
	require.NotNil(t, done.Error)
	assert.True(t, done.Error.Orphaned)

	var failedSteps []string
	for _, c := range done.Error.Compensations {
		if c.Error != "" {
			failedSteps = append(failedSteps, c.Step)
		}
	}
	assert.Equal(t, []string{"create_vector_store"}, failedSteps)
}

func TestDeleteCollectionTearsDown(t *testing.T) {
	env := newTestEnv(t)
	doc := env.seedDocument(t, "doc.txt")

	_, err := env.svc.CreateCollection(context.Background(), env.createParams(doc))
	require.NoError(t, err)
	created := env.notifier.wait(t)
	require.Equal(t, models.JobStatusSucceeded, created.Status)

	collectionID := created.Result.CollectionID

	job, err := env.svc.DeleteCollection(context.Background(), env.tenantID, collectionID, nil)
	require.NoError(t, err)
	assert.Equal(t, models.JobKindCollectionDelete, job.Kind)

	done := env.notifier.wait(t)
	assert.Equal(t, job.ID, done.ID)
	assert.Equal(t, models.JobStatusSucceeded, done.Status)

	assert.Equal(t, 0, env.rag.LiveResourceCount())

	_, err = env.store.GetCollection(context.Background(), collectionID, env.tenantID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteCollectionUnknownCollection(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.DeleteCollection(context.Background(), env.tenantID, uuid.New(), nil)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteCollectionRecordsFailures(t *testing.T) {
	env := newTestEnv(t)
	doc := env.seedDocument(t, "doc.txt")

	_, err := env.svc.CreateCollection(context.Background(), env.createParams(doc))
	require.NoError(t, err)
	created := env.notifier.wait(t)
	require.Equal(t, models.JobStatusSucceeded, created.Status)

	env.rag.DeleteAssistantFunc = func(_ context.Context, _ string) error {
		return rag.TransientError("delete assistant", errors.New("service unavailable"))
	}

	_, err = env.svc.DeleteCollection(context.Background(), env.tenantID, created.Result.CollectionID, nil)
	require.NoError(t, err)

	done := env.notifier.wait(t)
	assert.Equal(t, models.JobStatusFailed, done.Status)
	require.NotNil(t, done.Error)
	assert.Equal(t, "delete_assistant", done.Error.Step)
	assert.True(t, done.Error.Orphaned)
	assert.True(t, done.Error.Retriable)

	// The catalog row survives so the collection can be reconciled.
	_, err = env.store.GetCollection(context.Background(), created.Result.CollectionID, env.tenantID)
	assert.NoError(t, err)
}

func TestGetJobServesCachedPending(t *testing.T) {
	env := newTestEnv(t)
	jobID := uuid.New()
	require.NoError(t, env.cache.SetJobStatus(context.Background(), jobID, env.tenantID, models.JobStatusPending, time.Minute))

	job, err := env.svc.GetJob(context.Background(), jobID, env.tenantID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, job.Status)
}

func TestGetJobCachedPendingWrongTenant(t *testing.T) {
	env := newTestEnv(t)
	jobID := uuid.New()
	require.NoError(t, env.cache.SetJobStatus(context.Background(), jobID, env.tenantID, models.JobStatusPending, time.Minute))

	// Another tenant polling the same job ID must not see the cached
	// pending entry.
	_, err := env.svc.GetJob(context.Background(), jobID, uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestGetJobFallsThroughToStore(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.GetJob(context.Background(), uuid.New(), env.tenantID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
