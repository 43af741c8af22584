// Package models contains shared data models used across the askdeck codebase.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Collection is the end result of provisioning: a set of stored files, a
// vector store built over them, and an assistant bound to that vector store.
// The external identifiers are owned by the AI service; askdeck only records
// them.
type Collection struct {
	ID            uuid.UUID  `db:"id"              json:"id"`
	TenantID      uuid.UUID  `db:"tenant_id"       json:"tenant_id"`
	AssistantID   string     `db:"assistant_id"    json:"assistant_id"`
	VectorStoreID string     `db:"vector_store_id" json:"vector_store_id"`
	Model         string     `db:"model"           json:"model"`
	Instructions  string     `db:"instructions"    json:"instructions,omitempty"`
	FileIDs       []string   `db:"file_ids"        json:"file_ids"`
	DeletedAt     *time.Time `db:"deleted_at"      json:"-"`
	CreatedAt     time.Time  `db:"created_at"      json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at"      json:"updated_at"`
}
