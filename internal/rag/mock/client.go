// Package mock satisfies rag.Client for tests and local development without
// talking to the real AI service.
package mock

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/askdeck/askdeck/internal/rag"
)

// Client is an in-memory rag.Client. It tracks which external resources are
// currently "live" so tests can assert that compensation actually tore down
// what a failed pipeline created. Any of the *Func hooks can be set to
// override the default behavior of a single operation.
type Client struct {
	mu           sync.Mutex
	nextID       int
	files        map[string]bool
	vectorStores map[string]bool
	assistants   map[string]bool

	CreateFileFunc        func(ctx context.Context, name, contentType string, content io.Reader) (string, error)
	DeleteFileFunc        func(ctx context.Context, fileID string) error
	CreateVectorStoreFunc func(ctx context.Context, name string, fileIDs []string) (string, error)
	DeleteVectorStoreFunc func(ctx context.Context, vectorStoreID string) error
	CreateAssistantFunc   func(ctx context.Context, cfg rag.AgentConfig, vectorStoreID string) (string, error)
	DeleteAssistantFunc   func(ctx context.Context, assistantID string) error
}

// NewClient returns a mock with default in-memory behavior.
func NewClient() *Client {
	return &Client{
		files:        make(map[string]bool),
		vectorStores: make(map[string]bool),
		assistants:   make(map[string]bool),
	}
}

func (c *Client) Name() string { return "mock" }

func (c *Client) newID(prefix string) string {
	c.nextID++
	return fmt.Sprintf("%s_%04d", prefix, c.nextID)
}

func (c *Client) CreateFile(ctx context.Context, name, contentType string, content io.Reader) (string, error) {
	if c.CreateFileFunc != nil {
		return c.CreateFileFunc(ctx, name, contentType, content)
	}
	if _, err := io.Copy(io.Discard, content); err != nil {
		return "", rag.PermanentError("create file", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.newID("file")
	c.files[id] = true
	return id, nil
}

func (c *Client) DeleteFile(ctx context.Context, fileID string) error {
	if c.DeleteFileFunc != nil {
		return c.DeleteFileFunc(ctx, fileID)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.files, fileID)
	return nil
}

func (c *Client) CreateVectorStore(ctx context.Context, name string, fileIDs []string) (string, error) {
	if c.CreateVectorStoreFunc != nil {
		return c.CreateVectorStoreFunc(ctx, name, fileIDs)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, fileID := range fileIDs {
		if !c.files[fileID] {
			return "", rag.PermanentError("create vector store", fmt.Errorf("unknown file %s", fileID))
		}
	}
	id := c.newID("vs")
	c.vectorStores[id] = true
	return id, nil
}

func (c *Client) DeleteVectorStore(ctx context.Context, vectorStoreID string) error {
	if c.DeleteVectorStoreFunc != nil {
		return c.DeleteVectorStoreFunc(ctx, vectorStoreID)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.vectorStores, vectorStoreID)
	return nil
}

func (c *Client) CreateAssistant(ctx context.Context, cfg rag.AgentConfig, vectorStoreID string) (string, error) {
	if c.CreateAssistantFunc != nil {
		return c.CreateAssistantFunc(ctx, cfg, vectorStoreID)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.vectorStores[vectorStoreID] {
		return "", rag.PermanentError("create assistant", fmt.Errorf("unknown vector store %s", vectorStoreID))
	}
	id := c.newID("asst")
	c.assistants[id] = true
	return id, nil
}

func (c *Client) DeleteAssistant(ctx context.Context, assistantID string) error {
	if c.DeleteAssistantFunc != nil {
		return c.DeleteAssistantFunc(ctx, assistantID)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.assistants, assistantID)
	return nil
}

// LiveFiles returns the IDs of files not yet deleted.
func (c *Client) LiveFiles() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var ids []string
	for id := range c.files {
		ids = append(ids, id)
	}
	return ids
}

// LiveResourceCount returns how many external resources are still live.
func (c *Client) LiveResourceCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.files) + len(c.vectorStores) + len(c.assistants)
}

// FileLive reports whether the given file ID is still live.
func (c *Client) FileLive(fileID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.files[fileID]
}

// VectorStoreLive reports whether the given vector store ID is still live.
func (c *Client) VectorStoreLive(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.vectorStores[id]
}

// AssistantLive reports whether the given assistant ID is still live.
func (c *Client) AssistantLive(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.assistants[id]
}

var _ rag.Client = (*Client)(nil)
