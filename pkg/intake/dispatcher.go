// Package intake turns authenticated inbound events into queued jobs.
// It owns the dedup window and the fallback paths that keep webhook
// handlers answering within their response budget: enqueue through the
// publisher when the queue is configured, run inline when it is not.
package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/caseops/casepilot/pkg/audit"
	"github.com/caseops/casepilot/pkg/metrics"
	"github.com/caseops/casepilot/pkg/models"
	"github.com/caseops/casepilot/pkg/queue"
	"github.com/caseops/casepilot/pkg/store"
	"github.com/caseops/casepilot/pkg/taxonomy"
)

// ErrQueueUnavailable indicates the event could not be made durable.
// Handlers answer 503 and the dedup claim is released so the source can
// redeliver.
var ErrQueueUnavailable = errors.New("queue unavailable")

// Dispatch outcomes.
const (
	StatusAccepted  = "accepted"
	StatusDuplicate = "duplicate"
	StatusInline    = "inline"
)

const defaultInlineTimeout = 5 * time.Minute

// Publisher hands a job to the queue. *queue.Publisher satisfies this.
type Publisher interface {
	Publish(ctx context.Context, job *models.Job) error
}

// Inbound is one external event after source-specific authentication.
type Inbound struct {
	Kind       string
	CaseSysID  string
	Source     string
	ExternalID string
	RequestID  string
	Payload    any
}

// DedupKey derives the duplicate-suppression key. Events without an
// external id are never deduplicated.
func (in Inbound) DedupKey() string {
	if in.Source == "" || in.ExternalID == "" {
		return ""
	}
	return in.Source + ":" + in.ExternalID
}

func (in Inbound) actor() string {
	if in.Source != "" {
		return in.Source
	}
	return "intake"
}

// Result reports what happened to a dispatched event.
type Result struct {
	Status   string `json:"status"`
	JobID    string `json:"job_id,omitempty"`
	DedupKey string `json:"-"`
}

// DispatcherDeps wires a Dispatcher.
type DispatcherDeps struct {
	Publisher Publisher
	// Inline runs jobs in-process when the publisher is disabled. No
	// retry machinery applies on this path; failures surface in logs
	// and audit only.
	Inline        queue.Executor
	Dedup         *Deduper
	Audit         audit.Recorder
	Metrics       *metrics.Metrics
	InlineTimeout time.Duration
}

// Dispatcher authenticates nothing itself; callers verify the source
// first. It deduplicates, builds the durable job, and publishes it.
type Dispatcher struct {
	publisher     Publisher
	inline        queue.Executor
	dedup         *Deduper
	audit         audit.Recorder
	metrics       *metrics.Metrics
	inlineTimeout time.Duration

	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewDispatcher creates a dispatcher. A nil Dedup gets an in-memory
// deduper so the dispatch path never branches on its presence.
func NewDispatcher(deps DispatcherDeps) *Dispatcher {
	if deps.Dedup == nil {
		deps.Dedup = NewDeduper(nil, 0)
	}
	if deps.InlineTimeout <= 0 {
		deps.InlineTimeout = defaultInlineTimeout
	}
	return &Dispatcher{
		publisher:     deps.Publisher,
		inline:        deps.Inline,
		dedup:         deps.Dedup,
		audit:         deps.Audit,
		metrics:       deps.Metrics,
		inlineTimeout: deps.InlineTimeout,
		logger:        slog.Default().With("component", "intake"),
	}
}

// Dispatch deduplicates the event and makes it durable. Duplicate
// events succeed without side effects. When the queue is disabled the
// job runs inline in a goroutine; when it is unreachable the dedup
// claim is released and ErrQueueUnavailable comes back so the handler
// can answer 503.
func (d *Dispatcher) Dispatch(ctx context.Context, in Inbound) (*Result, error) {
	if in.Kind == "" {
		return nil, taxonomy.Validation(errors.New("job kind is required"))
	}
	requestID := in.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}

	payload, err := encodePayload(in.Payload)
	if err != nil {
		return nil, taxonomy.Validation(fmt.Errorf("failed to encode %s payload: %w", in.Kind, err))
	}

	key := in.DedupKey()
	if key != "" {
		fresh, degraded := d.dedup.Claim(ctx, key)
		if degraded {
			d.record(ctx, in, requestID, "intake_dedup_degraded", "")
		}
		if !fresh {
			d.metrics.RecordDedupHit()
			d.record(ctx, in, requestID, "intake_duplicate", "")
			d.logger.Info("Dropped duplicate event",
				"kind", in.Kind,
				"source", in.Source,
				"external_id", in.ExternalID)
			return &Result{Status: StatusDuplicate, DedupKey: key}, nil
		}
	}

	job := &models.Job{
		ID:        uuid.NewString(),
		Kind:      in.Kind,
		CaseSysID: in.CaseSysID,
		DedupKey:  key,
		Payload:   payload,
	}

	err = d.publish(ctx, job)
	switch {
	case err == nil:
		d.metrics.RecordIntakeAccepted()
		d.record(ctx, in, requestID, "intake_accepted", job.ID)
		return &Result{Status: StatusAccepted, JobID: job.ID, DedupKey: key}, nil

	case errors.Is(err, queue.ErrPublisherDisabled):
		return d.runInline(ctx, job, in, requestID)

	case errors.Is(err, store.ErrAlreadyExists):
		// Another pod inserted the same job between our dedup claim and
		// the enqueue. Same outcome as a dedup hit.
		d.metrics.RecordDedupHit()
		d.record(ctx, in, requestID, "intake_duplicate", job.ID)
		return &Result{Status: StatusDuplicate, DedupKey: key}, nil

	default:
		d.dedup.Release(ctx, key)
		d.logger.Error("Failed to enqueue inbound event",
			"kind", in.Kind,
			"source", in.Source,
			"error", err)
		return nil, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}
}

func (d *Dispatcher) publish(ctx context.Context, job *models.Job) error {
	if d.publisher == nil {
		return queue.ErrPublisherDisabled
	}
	return d.publisher.Publish(ctx, job)
}

// runInline executes the job in-process. The goroutine gets a detached
// context so the webhook response does not wait on pipeline work.
func (d *Dispatcher) runInline(ctx context.Context, job *models.Job, in Inbound, requestID string) (*Result, error) {
	if d.inline == nil {
		d.dedup.Release(ctx, job.DedupKey)
		return nil, fmt.Errorf("%w: publisher disabled and no inline executor configured", ErrQueueUnavailable)
	}

	d.record(ctx, in, requestID, "intake_inline", job.ID)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		runCtx, cancel := context.WithTimeout(context.Background(), d.inlineTimeout)
		defer cancel()

		if err := d.inline.Execute(runCtx, job); err != nil {
			d.logger.Error("Inline job failed",
				"job_id", job.ID,
				"kind", job.Kind,
				"error", err)
			d.audit.Record(runCtx, &models.AuditEntry{
				EntityType: models.AuditEntityJob,
				EntityID:   job.ID,
				Action:     "inline_job_failed",
				Actor:      in.actor(),
				Reason:     err.Error(),
				Metadata: models.JSONMap{
					"kind":       job.Kind,
					"request_id": requestID,
				},
			})
		}
	}()
	return &Result{Status: StatusInline, JobID: job.ID, DedupKey: job.DedupKey}, nil
}

// Drain waits for in-flight inline jobs, bounded by ctx. Used during
// graceful shutdown.
func (d *Dispatcher) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) record(ctx context.Context, in Inbound, requestID, action, jobID string) {
	entityID := in.DedupKey()
	if entityID == "" {
		entityID = jobID
	}
	metadata := models.JSONMap{
		"kind":       in.Kind,
		"request_id": requestID,
	}
	if in.Source != "" {
		metadata["source"] = in.Source
	}
	if in.ExternalID != "" {
		metadata["external_id"] = in.ExternalID
	}
	if in.CaseSysID != "" {
		metadata["case_sys_id"] = in.CaseSysID
	}
	if jobID != "" {
		metadata["job_id"] = jobID
	}
	d.audit.Record(ctx, &models.AuditEntry{
		EntityType: models.AuditEntityIntake,
		EntityID:   entityID,
		Action:     action,
		Actor:      in.actor(),
		Metadata:   metadata,
	})
}

func encodePayload(payload any) (models.JobPayload, error) {
	if payload == nil {
		return nil, nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		return models.JobPayload(raw), nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return models.JobPayload(data), nil
}
