// Package rag is the typed adapter boundary over the external AI service:
// durable file storage, vector stores built over stored files, and
// assistants bound to a vector store.
package rag

import (
	"context"
	"io"
)

// AgentConfig is the caller-supplied assistant configuration, passed through
// to the service when binding the agent to a vector store.
type AgentConfig struct {
	Model        string
	Instructions string
	Temperature  float64
}

// Client is the interface every AI service adapter must implement. Each
// create has a matching delete; deletes are idempotent and tolerate
// "resource already gone", since compensations may race external cleanup.
// Implementations retry transient failures internally and classify what they
// surface via ExternalError.
type Client interface {
	Name() string

	CreateFile(ctx context.Context, name, contentType string, content io.Reader) (string, error)
	DeleteFile(ctx context.Context, fileID string) error

	CreateVectorStore(ctx context.Context, name string, fileIDs []string) (string, error)
	DeleteVectorStore(ctx context.Context, vectorStoreID string) error

	CreateAssistant(ctx context.Context, cfg AgentConfig, vectorStoreID string) (string, error)
	DeleteAssistant(ctx context.Context, assistantID string) error
}
