// Package notify delivers terminal job results to caller-supplied webhooks.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/askdeck/askdeck/internal/config"
	"github.com/askdeck/askdeck/pkg/models"
)

const maxBackoff = 30 * time.Second

// Payload is the JSON body POSTed to a job's callback URL. Exactly one of
// Result and Error is set, matching the job's terminal status.
type Payload struct {
	Key    uuid.UUID         `json:"key"`
	Status string            `json:"status"`
	Result *models.JobResult `json:"result,omitempty"`
	Error  *models.JobError  `json:"error,omitempty"`
}

// Dispatcher drains a bounded queue of completed jobs and POSTs each result
// to the job's callback URL. Delivery is best effort: retries are bounded
// and exhaustion never alters the stored job outcome.
type Dispatcher struct {
	client      *http.Client
	queue       chan *models.Job
	maxAttempts int
	baseBackoff time.Duration
	timeout     time.Duration

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher sized and bounded by cfg. Start must be
// called before Enqueue delivers anything.
func NewDispatcher(cfg config.CallbackConfig) *Dispatcher {
	return &Dispatcher{
		client:      &http.Client{Timeout: cfg.Timeout},
		queue:       make(chan *models.Job, cfg.QueueSize),
		maxAttempts: cfg.MaxAttempts,
		baseBackoff: cfg.BaseBackoff,
		timeout:     cfg.Timeout,
	}
}

// Start launches the delivery worker.
func (d *Dispatcher) Start() {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for job := range d.queue {
			d.deliver(job)
		}
	}()
}

// Stop closes the queue and waits for queued deliveries to finish. Stop is
// idempotent.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
}

// Enqueue schedules delivery for a terminal job. Jobs without a callback URL
// are ignored. If the queue is full, or the dispatcher has already been
// stopped while a late pipeline was still completing, the notification is
// dropped and logged rather than blocking or panicking the caller.
func (d *Dispatcher) Enqueue(job *models.Job) {
	if job == nil || job.CallbackURL == nil || *job.CallbackURL == "" {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		slog.Warn("dispatcher stopped, dropping notification", "job_id", job.ID)
		return
	}

	select {
	case d.queue <- job:
	default:
		slog.Warn("callback queue full, dropping notification", "job_id", job.ID)
	}
}

func (d *Dispatcher) deliver(job *models.Job) {
	payload := Payload{
		Key:    job.ID,
		Status: job.Status,
		Result: job.Result,
		Error:  job.Error,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		slog.Error("failed to encode callback payload", "job_id", job.ID, "error", err)
		return
	}

	url := *job.CallbackURL
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		if attempt > 1 {
			time.Sleep(d.backoffFor(attempt))
		}

		err = d.post(url, body)
		if err == nil {
			slog.Info("callback delivered", "job_id", job.ID, "status", job.Status, "attempt", attempt)
			return
		}

		slog.Warn("callback delivery failed",
			"job_id", job.ID,
			"attempt", attempt,
			"max_attempts", d.maxAttempts,
			"error", err)
	}

	slog.Error("callback delivery exhausted", "job_id", job.ID, "url", url, "error", err)
}

func (d *Dispatcher) post(url string, body []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("callback request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("callback returned status %d", resp.StatusCode)
	}

	return nil
}

func (d *Dispatcher) backoffFor(attempt int) time.Duration {
	backoff := time.Duration(float64(d.baseBackoff) * math.Pow(2, float64(attempt-2)))
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	return backoff
}
