package queue

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/caseops/casepilot/pkg/backoff"
	"github.com/caseops/casepilot/pkg/models"
	"github.com/caseops/casepilot/pkg/store"
	"github.com/caseops/casepilot/pkg/taxonomy"
)

// PublisherMode selects how published jobs reach the durable queue.
type PublisherMode string

const (
	// ModePush POSTs signed jobs to the worker deployment.
	ModePush PublisherMode = "push"
	// ModeDirect inserts job rows into the local database.
	ModeDirect PublisherMode = "direct"
	// ModeDisabled turns the adapter off; dispatchers fall back to
	// in-process handling.
	ModeDisabled PublisherMode = "disabled"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body.
const SignatureHeader = "X-Queue-Signature"

// DispatchPath is the worker endpoint push mode POSTs jobs to.
const DispatchPath = "/internal/tasks/dispatch"

const publishAttempts = 3

// Enqueuer inserts job rows. *store.JobStore satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, job *models.Job) error
}

// Publisher hands jobs to the durable queue. Push mode signs the job
// body and POSTs it to the worker deployment, retrying with backoff;
// direct mode writes the row locally. Both are at-least-once: the
// dedup-key index on the jobs table absorbs replays.
type Publisher struct {
	mode       PublisherMode
	jobs       Enqueuer
	signingKey []byte
	workerURL  string
	httpClient *http.Client
	retry      backoff.Config
	logger     *slog.Logger
}

// NewPublisher picks the mode from configuration: no signing key
// disables the adapter, a signing key alone inserts locally, and a
// worker URL on top pushes signed jobs over HTTP.
func NewPublisher(jobs Enqueuer, signingKey, workerURL string) *Publisher {
	mode := ModeDirect
	switch {
	case signingKey == "":
		mode = ModeDisabled
	case workerURL != "":
		mode = ModePush
	}
	return &Publisher{
		mode:       mode,
		jobs:       jobs,
		signingKey: []byte(signingKey),
		workerURL:  strings.TrimRight(workerURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		retry: backoff.Config{
			BasePeriod:    500 * time.Millisecond,
			MaxPeriod:     5 * time.Second,
			Multiplier:    2,
			JitterPercent: 20,
		},
		logger: slog.Default().With("component", "queue-publisher"),
	}
}

// Mode returns the publishing mode the configuration selected.
func (p *Publisher) Mode() PublisherMode {
	if p == nil {
		return ModeDisabled
	}
	return p.mode
}

// Enabled reports whether jobs can reach the durable queue at all.
func (p *Publisher) Enabled() bool {
	return p.Mode() != ModeDisabled
}

// Publish hands one job to the queue. Duplicate dedup keys return
// store.ErrAlreadyExists in every mode.
func (p *Publisher) Publish(ctx context.Context, job *models.Job) error {
	switch p.Mode() {
	case ModeDisabled:
		return taxonomy.DependencyDisabled(ErrPublisherDisabled)
	case ModeDirect:
		return p.jobs.Enqueue(ctx, job)
	}
	return p.push(ctx, job)
}

// push POSTs the signed job to the worker deployment, retrying
// transient failures. The receiving endpoint verifies the signature
// and inserts the row.
func (p *Publisher) push(ctx context.Context, job *models.Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return taxonomy.Validation(fmt.Errorf("failed to encode job: %w", err))
	}

	var lastErr error
	for attempt := 1; attempt <= publishAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return taxonomy.Timeout(ctx.Err())
			case <-time.After(p.retry.Calculate(attempt - 1)):
			}
		}

		err := p.post(ctx, body)
		if err == nil || terminalPushError(err) {
			return err
		}
		lastErr = err
		p.logger.Warn("Queue push failed",
			"job_kind", job.Kind,
			"attempt", attempt,
			"error", err)
	}
	return taxonomy.Transient(fmt.Errorf("failed to push job after %d attempts: %w", publishAttempts, lastErr))
}

func (p *Publisher) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.workerURL+DispatchPath, bytes.NewReader(body))
	if err != nil {
		return taxonomy.Validation(fmt.Errorf("failed to build dispatch request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, Sign(p.signingKey, body))

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("dispatch request failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusConflict:
		return store.ErrAlreadyExists
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return taxonomy.Auth(fmt.Errorf("dispatch rejected with status %d", resp.StatusCode))
	default:
		return fmt.Errorf("dispatch returned status %d", resp.StatusCode)
	}
}

// terminalPushError reports push outcomes retrying cannot change.
func terminalPushError(err error) bool {
	return errors.Is(err, store.ErrAlreadyExists) || !taxonomy.Retryable(err)
}

// Sign returns the hex HMAC-SHA256 of body under key.
func Sign(key, body []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a dispatch signature in constant time.
func VerifySignature(key, body []byte, signature string) bool {
	expected := Sign(key, body)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}
