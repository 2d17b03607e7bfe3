package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/caseops/casepilot/pkg/backoff"
	"github.com/caseops/casepilot/pkg/config"
	"github.com/caseops/casepilot/pkg/metrics"
	"github.com/caseops/casepilot/pkg/models"
	"github.com/caseops/casepilot/pkg/store"
	"github.com/caseops/casepilot/pkg/taxonomy"
)

// WorkerStatus represents the current state of a worker.
type WorkerStatus string

// Worker status constants.
const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// Jobs is the slice of the job store the workers drive. *store.JobStore
// satisfies it.
type Jobs interface {
	ClaimNext(ctx context.Context, podID string) (*models.Job, error)
	Heartbeat(ctx context.Context, id string) error
	Complete(ctx context.Context, id string) error
	Fail(ctx context.Context, id, lastError string, nextRunAt time.Time) (models.JobStatus, error)
	MarkDead(ctx context.Context, id, lastError string) error
	RequeueOrphans(ctx context.Context, staleBefore time.Time) (int64, error)
	CleanupStartupOrphans(ctx context.Context, podID string) (int64, error)
	Depths(ctx context.Context) (map[models.JobStatus]int, error)
}

// GateBlocker marks the case's gate BLOCKED when its job dies.
// *store.GateStore satisfies it.
type GateBlocker interface {
	GetActiveByCase(ctx context.Context, caseSysID string) (*models.QualityGate, error)
	Transition(ctx context.Context, gate *models.QualityGate, next models.GateStatus, params store.TransitionParams) error
}

// JobRegistry is the subset of WorkerPool used by Worker for job
// registration.
type JobRegistry interface {
	RegisterJob(jobID string, cancel context.CancelFunc)
	UnregisterJob(jobID string)
}

// Worker is a single queue worker that polls for and processes jobs.
type Worker struct {
	id       string
	podID    string
	jobs     Jobs
	gates    GateBlocker
	config   *config.QueueConfig
	executor Executor
	metrics  *metrics.Metrics
	pool     JobRegistry
	retry    backoff.Config
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Health tracking
	mu            sync.RWMutex
	status        WorkerStatus
	currentJobID  string
	jobsProcessed int
	lastActivity  time.Time
}

// NewWorker creates a new queue worker. gates may be nil (dead jobs
// then leave no gate trace beyond the job row).
func NewWorker(id, podID string, jobs Jobs, gates GateBlocker, cfg *config.QueueConfig, executor Executor, pool JobRegistry, m *metrics.Metrics) *Worker {
	return &Worker{
		id:       id,
		podID:    podID,
		jobs:     jobs,
		gates:    gates,
		config:   cfg,
		executor: executor,
		metrics:  m,
		pool:     pool,
		retry: backoff.Config{
			BasePeriod:    cfg.RetryBase.Duration(),
			MaxPeriod:     cfg.RetryMax.Duration(),
			Multiplier:    2,
			JitterPercent: 20,
		},
		stopCh:       make(chan struct{}),
		status:       WorkerStatusIdle,
		lastActivity: time.Now(),
	}
}

// Start begins the worker polling loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for it to finish.
// It is safe to call Stop multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health returns the current worker health status.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:            w.id,
		Status:        string(w.status),
		CurrentJobID:  w.currentJobID,
		JobsProcessed: w.jobsProcessed,
		LastActivity:  w.lastActivity,
	}
}

// run is the main worker loop.
func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id, "pod_id", w.podID)
	log.Info("Worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("Worker shutting down")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, worker shutting down")
			return
		default:
			if err := w.pollAndProcess(ctx); err != nil {
				if errors.Is(err, ErrNoJobsAvailable) || errors.Is(err, ErrAtCapacity) {
					w.sleep(w.pollInterval())
					continue
				}
				log.Error("Error processing job", "error", err)
				w.sleep(time.Second) // Brief backoff on error
			}
		}
	}
}

// sleep waits for the given duration or until stop is signalled.
func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// pollAndProcess checks capacity, claims a job, and processes it.
func (w *Worker) pollAndProcess(ctx context.Context) error {
	// Global capacity check (best-effort; racy with concurrent workers
	// but bounded by WorkerCount and mitigated by poll jitter).
	depths, err := w.jobs.Depths(ctx)
	if err != nil {
		return fmt.Errorf("failed to check running jobs: %w", err)
	}
	if depths[models.JobStatusRunning] >= w.config.MaxConcurrentJobs {
		return ErrAtCapacity
	}

	job, err := w.jobs.ClaimNext(ctx, w.podID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			w.metrics.RecordJobClaim("empty")
			return ErrNoJobsAvailable
		}
		w.metrics.RecordJobClaim("error")
		return fmt.Errorf("failed to claim job: %w", err)
	}
	w.metrics.RecordJobClaim("claimed")

	log := slog.With("job_id", job.ID, "job_kind", job.Kind, "worker_id", w.id)
	log.Info("Job claimed", "attempt", job.Attempts, "case_sys_id", job.CaseSysID)

	w.setStatus(WorkerStatusWorking, job.ID)
	defer w.setStatus(WorkerStatusIdle, "")

	// Per-job deadline; the pipeline budget lives inside it.
	jobCtx, cancelJob := context.WithTimeout(ctx, w.config.JobTimeout.Duration())
	defer cancelJob()

	w.pool.RegisterJob(job.ID, cancelJob)
	defer w.pool.UnregisterJob(job.ID)

	heartbeatCtx, cancelHeartbeat := context.WithCancel(jobCtx)
	defer cancelHeartbeat()
	go w.runHeartbeat(heartbeatCtx, job.ID)

	started := time.Now()
	execErr := w.executor.Execute(jobCtx, job)
	cancelHeartbeat()

	// Deadline hits surface as whatever the handler was doing when the
	// context died; normalize them so the retry policy sees a timeout.
	if execErr != nil && errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
		execErr = taxonomy.Timeout(fmt.Errorf("job timed out after %v: %w",
			w.config.JobTimeout.Duration(), execErr))
	}

	// Terminal status writes use a fresh context; jobCtx may be dead.
	finishCtx, cancelFinish := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelFinish()

	outcome := w.finish(finishCtx, job, execErr)
	w.metrics.ObserveJob(job.Kind, outcome, time.Since(started))

	w.mu.Lock()
	w.jobsProcessed++
	w.mu.Unlock()

	log.Info("Job processing complete", "outcome", outcome, "elapsed", time.Since(started))
	return nil
}

// finish writes the job's terminal state and returns the outcome label.
func (w *Worker) finish(ctx context.Context, job *models.Job, execErr error) string {
	log := slog.With("job_id", job.ID, "job_kind", job.Kind, "worker_id", w.id)

	if execErr == nil {
		if err := w.jobs.Complete(ctx, job.ID); err != nil {
			log.Error("Failed to complete job", "error", err)
		}
		return "completed"
	}

	if !taxonomy.Retryable(execErr) {
		log.Error("Job failed permanently", "error", execErr, "kind", taxonomy.KindOf(execErr))
		if err := w.jobs.MarkDead(ctx, job.ID, execErr.Error()); err != nil {
			log.Error("Failed to mark job dead", "error", err)
			return "error"
		}
		w.blockGate(ctx, job, execErr)
		return "dead"
	}

	delay := w.retry.Calculate(job.Attempts)
	nextRunAt := time.Now().UTC().Add(delay)
	status, err := w.jobs.Fail(ctx, job.ID, execErr.Error(), nextRunAt)
	if err != nil {
		log.Error("Failed to record job failure", "error", err)
		return "error"
	}
	if status == models.JobStatusDead {
		log.Error("Job exhausted retries", "attempts", job.Attempts, "error", execErr)
		w.blockGate(ctx, job, execErr)
		return "dead"
	}
	log.Warn("Job failed, retry scheduled",
		"attempt", job.Attempts,
		"max_attempts", job.MaxAttempts,
		"next_run_at", nextRunAt,
		"error", execErr)
	return "retried"
}

// blockGate moves the case's open gate to BLOCKED after a job dies so
// the failure surfaces in the review queue instead of only in the jobs
// table.
func (w *Worker) blockGate(ctx context.Context, job *models.Job, execErr error) {
	if w.gates == nil || job.CaseSysID == "" {
		return
	}
	gate, err := w.gates.GetActiveByCase(ctx, job.CaseSysID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			slog.Warn("Failed to look up gate for dead job",
				"job_id", job.ID, "case_sys_id", job.CaseSysID, "error", err)
		}
		return
	}
	if gate.Status == models.GateStatusBlocked {
		return
	}
	err = w.gates.Transition(ctx, gate, models.GateStatusBlocked, store.TransitionParams{
		ReviewReason: fmt.Sprintf("%s job died: %v", job.Kind, execErr),
		RiskLevel:    models.RiskHigh,
	})
	if err != nil {
		slog.Warn("Failed to block gate for dead job",
			"job_id", job.ID, "gate_id", gate.ID, "error", err)
		return
	}
	slog.Info("Gate blocked after dead job",
		"job_id", job.ID, "gate_id", gate.ID, "case_sys_id", job.CaseSysID)
}

// runHeartbeat periodically refreshes the job's liveness marker for
// orphan detection.
func (w *Worker) runHeartbeat(ctx context.Context, jobID string) {
	ticker := time.NewTicker(w.config.HeartbeatInterval.Duration())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.jobs.Heartbeat(ctx, jobID); err != nil {
				slog.Warn("Heartbeat update failed", "job_id", jobID, "error", err)
			}
		}
	}
}

// pollInterval returns the poll duration with jitter.
func (w *Worker) pollInterval() time.Duration {
	base := w.config.PollInterval.Duration()
	jitter := w.config.PollIntervalJitter.Duration()
	if jitter <= 0 {
		return base
	}
	// Range: [base - jitter, base + jitter]
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return base - jitter + offset
}

// setStatus updates the worker's health tracking state.
func (w *Worker) setStatus(status WorkerStatus, jobID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentJobID = jobID
	w.lastActivity = time.Now()
}
