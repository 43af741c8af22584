package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/askdeck/askdeck/pkg/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Tenants ---

func (s *PostgresStore) GetDefaultTenant(ctx context.Context) (*models.Tenant, error) {
	var t models.Tenant
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, created_at, updated_at FROM tenants WHERE name = 'default' LIMIT 1`,
	).Scan(&t.ID, &t.Name, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get default tenant: %w", err)
	}
	return &t, nil
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.TenantID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, tenant_id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		key.ID, key.TenantID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context, tenantID uuid.UUID) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE tenant_id = $1 AND deleted_at IS NULL ORDER BY created_at DESC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.TenantID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL`, id, tenantID)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Documents ---

func (s *PostgresStore) CreateDocument(ctx context.Context, doc *models.Document) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO documents (id, tenant_id, name, content_type, size_bytes, storage_path, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		doc.ID, doc.TenantID, doc.Name, doc.ContentType, doc.SizeBytes, doc.StoragePath,
		doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create document: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.Document, error) {
	var d models.Document
	err := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, name, content_type, size_bytes, storage_path, deleted_at, created_at, updated_at
		 FROM documents WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL`, id, tenantID,
	).Scan(&d.ID, &d.TenantID, &d.Name, &d.ContentType, &d.SizeBytes, &d.StoragePath,
		&d.DeletedAt, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return &d, nil
}

// GetDocumentsByIDs returns the live documents matching ids. Callers are
// responsible for noticing when fewer rows come back than ids were asked for.
func (s *PostgresStore) GetDocumentsByIDs(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]*models.Document, error) {
	if len(ids) == 0 {
		return []*models.Document{}, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, name, content_type, size_bytes, storage_path, deleted_at, created_at, updated_at
		 FROM documents WHERE tenant_id = $1 AND id = ANY($2) AND deleted_at IS NULL`, tenantID, ids)
	if err != nil {
		return nil, fmt.Errorf("get documents by ids: %w", err)
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		var d models.Document
		if err := rows.Scan(&d.ID, &d.TenantID, &d.Name, &d.ContentType, &d.SizeBytes,
			&d.StoragePath, &d.DeletedAt, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, &d)
	}
	return docs, rows.Err()
}

func (s *PostgresStore) ListDocuments(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*models.Document, int, error) {
	var total int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM documents WHERE tenant_id = $1 AND deleted_at IS NULL`, tenantID,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count documents: %w", err)
	}

	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, name, content_type, size_bytes, storage_path, deleted_at, created_at, updated_at
		 FROM documents WHERE tenant_id = $1 AND deleted_at IS NULL
		 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, tenantID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		var d models.Document
		if err := rows.Scan(&d.ID, &d.TenantID, &d.Name, &d.ContentType, &d.SizeBytes,
			&d.StoragePath, &d.DeletedAt, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, &d)
	}
	return docs, total, rows.Err()
}

func (s *PostgresStore) SoftDeleteDocument(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE documents SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL`, id, tenantID)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Jobs ---

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, tenant_id, kind, status, idempotency_token, callback_url, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		job.ID, job.TenantID, job.Kind, job.Status, job.IdempotencyToken, job.CallbackURL,
		job.CreatedAt, job.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateToken
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.Job, error) {
	var j models.Job
	err := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, kind, status, idempotency_token, callback_url, result, error, completed_at, created_at, updated_at
		 FROM jobs WHERE id = $1 AND tenant_id = $2`, id, tenantID,
	).Scan(&j.ID, &j.TenantID, &j.Kind, &j.Status, &j.IdempotencyToken, &j.CallbackURL,
		&j.Result, &j.Error, &j.CompletedAt, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &j, nil
}

func (s *PostgresStore) GetJobByIdempotencyToken(ctx context.Context, tenantID uuid.UUID, token string) (*models.Job, error) {
	var j models.Job
	err := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, kind, status, idempotency_token, callback_url, result, error, completed_at, created_at, updated_at
		 FROM jobs WHERE tenant_id = $1 AND idempotency_token = $2`, tenantID, token,
	).Scan(&j.ID, &j.TenantID, &j.Kind, &j.Status, &j.IdempotencyToken, &j.CallbackURL,
		&j.Result, &j.Error, &j.CompletedAt, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job by idempotency token: %w", err)
	}
	return &j, nil
}

// CompleteJob moves a pending job to a terminal status and records exactly one
// of result or error. The WHERE status = 'pending' guard is what makes the
// transition single-writer: a second completion attempt matches zero rows and
// the terminal status never reverts.
func (s *PostgresStore) CompleteJob(ctx context.Context, id uuid.UUID, status string, result *models.JobResult, jobErr *models.JobError) error {
	if status != models.JobStatusSucceeded && status != models.JobStatusFailed {
		return ErrInvalidTransition
	}
	if (status == models.JobStatusSucceeded) != (result != nil) {
		return fmt.Errorf("complete job: result must be set exactly when status is succeeded")
	}
	if (status == models.JobStatusFailed) != (jobErr != nil) {
		return fmt.Errorf("complete job: error must be set exactly when status is failed")
	}

	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $2, result = $3, error = $4, completed_at = $5, updated_at = $5
		 WHERE id = $1 AND status = 'pending'`,
		id, status, result, jobErr, now)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var current string
		err := s.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, id).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("complete job: %w", err)
		}
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, status)
	}
	return nil
}

// --- Collections ---

// CreateCollection inserts the collection row and its document links in one
// transaction so a partially linked collection is never visible.
func (s *PostgresStore) CreateCollection(ctx context.Context, collection *models.Collection, documentIDs []uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create collection: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO collections (id, tenant_id, assistant_id, vector_store_id, model, instructions, file_ids, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		collection.ID, collection.TenantID, collection.AssistantID, collection.VectorStoreID,
		collection.Model, collection.Instructions, collection.FileIDs, collection.CreatedAt, collection.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create collection: %w", err)
	}

	for _, docID := range documentIDs {
		_, err = tx.Exec(ctx,
			`INSERT INTO collection_documents (collection_id, document_id) VALUES ($1, $2)`,
			collection.ID, docID)
		if err != nil {
			return fmt.Errorf("link document %s: %w", docID, err)
		}
	}

	return tx.Commit(ctx)
}

// DeleteCollectionRecord hard-deletes a collection row and its links. Used to
// compensate the persist step of a failed pipeline; the async delete flow uses
// SoftDeleteCollection instead.
func (s *PostgresStore) DeleteCollectionRecord(ctx context.Context, id uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin delete collection: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM collection_documents WHERE collection_id = $1`, id); err != nil {
		return fmt.Errorf("unlink collection documents: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM collections WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete collection: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) GetCollection(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.Collection, error) {
	var c models.Collection
	err := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, assistant_id, vector_store_id, model, instructions, file_ids, deleted_at, created_at, updated_at
		 FROM collections WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL`, id, tenantID,
	).Scan(&c.ID, &c.TenantID, &c.AssistantID, &c.VectorStoreID, &c.Model, &c.Instructions,
		&c.FileIDs, &c.DeletedAt, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get collection: %w", err)
	}
	return &c, nil
}

func (s *PostgresStore) ListCollections(ctx context.Context, tenantID uuid.UUID) ([]*models.Collection, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, assistant_id, vector_store_id, model, instructions, file_ids, deleted_at, created_at, updated_at
		 FROM collections WHERE tenant_id = $1 AND deleted_at IS NULL ORDER BY created_at DESC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	defer rows.Close()

	var collections []*models.Collection
	for rows.Next() {
		var c models.Collection
		if err := rows.Scan(&c.ID, &c.TenantID, &c.AssistantID, &c.VectorStoreID, &c.Model,
			&c.Instructions, &c.FileIDs, &c.DeletedAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan collection: %w", err)
		}
		collections = append(collections, &c)
	}
	return collections, rows.Err()
}

func (s *PostgresStore) ListCollectionDocuments(ctx context.Context, collectionID uuid.UUID, tenantID uuid.UUID, limit, offset int) ([]*models.Document, int, error) {
	var total int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM collection_documents cd
		 JOIN collections c ON c.id = cd.collection_id
		 WHERE cd.collection_id = $1 AND c.tenant_id = $2`, collectionID, tenantID,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count collection documents: %w", err)
	}

	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.pool.Query(ctx,
		`SELECT d.id, d.tenant_id, d.name, d.content_type, d.size_bytes, d.storage_path, d.deleted_at, d.created_at, d.updated_at
		 FROM documents d
		 JOIN collection_documents cd ON cd.document_id = d.id
		 JOIN collections c ON c.id = cd.collection_id
		 WHERE cd.collection_id = $1 AND c.tenant_id = $2
		 ORDER BY d.created_at DESC LIMIT $3 OFFSET $4`, collectionID, tenantID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list collection documents: %w", err)
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		var d models.Document
		if err := rows.Scan(&d.ID, &d.TenantID, &d.Name, &d.ContentType, &d.SizeBytes,
			&d.StoragePath, &d.DeletedAt, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, &d)
	}
	return docs, total, rows.Err()
}

func (s *PostgresStore) SoftDeleteCollection(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE collections SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL`, id, tenantID)
	if err != nil {
		return fmt.Errorf("soft delete collection: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
