package models

import (
	"time"

	"github.com/google/uuid"
)

// Document is an uploaded source file held in local blob storage until a
// collection pipeline ships it to the AI service. External file IDs are
// minted per collection at provisioning time and live on the collection and
// job result, not here.
type Document struct {
	ID          uuid.UUID  `db:"id"           json:"id"`
	TenantID    uuid.UUID  `db:"tenant_id"    json:"tenant_id"`
	Name        string     `db:"name"         json:"name"`
	ContentType string     `db:"content_type" json:"content_type"`
	SizeBytes   int64      `db:"size_bytes"   json:"size_bytes"`
	StoragePath string     `db:"storage_path" json:"-"`
	DeletedAt   *time.Time `db:"deleted_at"   json:"-"`
	CreatedAt   time.Time  `db:"created_at"   json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"   json:"updated_at"`
}
