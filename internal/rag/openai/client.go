// Package openai implements the rag.Client boundary against the OpenAI
// files, vector stores, and assistants APIs.
package openai

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/askdeck/askdeck/internal/rag"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
)

const (
	baseBackoff = 2 * time.Second
	maxBackoff  = 32 * time.Second
)

// Client implements rag.Client using openai-go. Transient failures (429,
// 5xx, network errors) are retried here with exponential backoff up to
// maxAttempts; permanent failures are surfaced immediately. The SDK's own
// retry loop is disabled so the attempt ceiling lives in one place.
type Client struct {
	client      openai.Client
	timeout     time.Duration
	maxAttempts int
}

// NewClient creates an OpenAI-backed adapter. timeout bounds each individual
// API call; maxAttempts is the total attempt ceiling per operation.
func NewClient(apiKey string, timeout time.Duration, maxAttempts int) *Client {
	return &Client{
		client: openai.NewClient(
			option.WithAPIKey(apiKey),
			option.WithMaxRetries(0),
		),
		timeout:     timeout,
		maxAttempts: maxAttempts,
	}
}

func (c *Client) Name() string { return "openai" }

func (c *Client) CreateFile(ctx context.Context, name, contentType string, content io.Reader) (string, error) {
	// Buffered so the request body can be replayed on retry.
	data, err := io.ReadAll(content)
	if err != nil {
		return "", rag.PermanentError("create file", err)
	}

	var fileID string
	err = c.withRetry(ctx, "create file", func(ctx context.Context) error {
		file, err := c.client.Files.New(ctx, openai.FileNewParams{
			File:    openai.File(bytes.NewReader(data), name, contentType),
			Purpose: openai.FilePurposeAssistants,
		})
		if err != nil {
			return err
		}
		fileID = file.ID
		return nil
	})
	return fileID, err
}

func (c *Client) DeleteFile(ctx context.Context, fileID string) error {
	return c.withRetry(ctx, "delete file", func(ctx context.Context) error {
		_, err := c.client.Files.Delete(ctx, fileID)
		return ignoreGone(err)
	})
}

func (c *Client) CreateVectorStore(ctx context.Context, name string, fileIDs []string) (string, error) {
	var storeID string
	err := c.withRetry(ctx, "create vector store", func(ctx context.Context) error {
		store, err := c.client.VectorStores.New(ctx, openai.VectorStoreNewParams{
			Name:    openai.String(name),
			FileIDs: fileIDs,
		})
		if err != nil {
			return err
		}
		storeID = store.ID
		return nil
	})
	return storeID, err
}

func (c *Client) DeleteVectorStore(ctx context.Context, vectorStoreID string) error {
	return c.withRetry(ctx, "delete vector store", func(ctx context.Context) error {
		_, err := c.client.VectorStores.Delete(ctx, vectorStoreID)
		return ignoreGone(err)
	})
}

func (c *Client) CreateAssistant(ctx context.Context, cfg rag.AgentConfig, vectorStoreID string) (string, error) {
	var assistantID string
	err := c.withRetry(ctx, "create assistant", func(ctx context.Context) error {
		assistant, err := c.client.Beta.Assistants.New(ctx, openai.BetaAssistantNewParams{
			Model:        shared.ChatModel(cfg.Model),
			Instructions: openai.String(cfg.Instructions),
			Temperature:  openai.Float(cfg.Temperature),
			Tools: []openai.AssistantToolUnionParam{
				{OfFileSearch: &openai.FileSearchToolParam{}},
			},
			ToolResources: openai.BetaAssistantNewParamsToolResources{
				FileSearch: openai.BetaAssistantNewParamsToolResourcesFileSearch{
					VectorStoreIDs: []string{vectorStoreID},
				},
			},
		})
		if err != nil {
			return err
		}
		assistantID = assistant.ID
		return nil
	})
	return assistantID, err
}

func (c *Client) DeleteAssistant(ctx context.Context, assistantID string) error {
	return c.withRetry(ctx, "delete assistant", func(ctx context.Context) error {
		_, err := c.client.Beta.Assistants.Delete(ctx, assistantID)
		return ignoreGone(err)
	})
}

// withRetry runs fn with a per-call timeout, retrying transient failures
// with exponential backoff. The classified error the caller receives already
// reflects the full retry budget.
func (c *Client) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			backoffDuration := time.Duration(math.Pow(2, float64(attempt-1))) * baseBackoff
			if backoffDuration > maxBackoff {
				backoffDuration = maxBackoff
			}

			select {
			case <-ctx.Done():
				return rag.TransientError(op, ctx.Err())
			case <-time.After(backoffDuration):
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		err := fn(callCtx)
		cancel()

		if err == nil {
			return nil
		}
		if !isRetriable(err) {
			return rag.PermanentError(op, err)
		}
		lastErr = err
	}

	return rag.TransientError(op, lastErr)
}

// isRetriable classifies an API error. Anything that is not a definitive
// 4xx rejection (timeouts, connection resets) counts as transient.
func isRetriable(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests ||
			apiErr.StatusCode >= http.StatusInternalServerError
	}
	return true
}

// ignoreGone treats 404 on a delete as success: the compensation target is
// already gone, which is the state we wanted.
func ignoreGone(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return nil
	}
	return err
}

var _ rag.Client = (*Client)(nil)
