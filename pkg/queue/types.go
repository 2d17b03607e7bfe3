// Package queue runs the durable job queue: publishing, claiming,
// execution with per-job deadlines, retry scheduling, and orphan
// recovery.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/caseops/casepilot/pkg/models"
)

// Sentinel errors for queue operations.
var (
	// ErrNoJobsAvailable indicates no runnable jobs are in the queue.
	ErrNoJobsAvailable = errors.New("no jobs available")

	// ErrAtCapacity indicates the global concurrent job limit has been
	// reached.
	ErrAtCapacity = errors.New("at capacity")

	// ErrUnknownKind indicates a job kind no handler is registered for.
	ErrUnknownKind = errors.New("unknown job kind")

	// ErrPublisherDisabled indicates publishing is off because no
	// signing key is configured. Callers fall back to in-process
	// handling.
	ErrPublisherDisabled = errors.New("queue publisher disabled")
)

// Executor processes one claimed job. A nil return completes the job;
// an error schedules a retry when the error is retryable and kills the
// job otherwise. Handlers convert domain failures into gate outcomes
// themselves, so only infrastructure errors should surface here.
type Executor interface {
	Execute(ctx context.Context, job *models.Job) error
}

// PoolHealth contains health information for the entire worker pool.
type PoolHealth struct {
	IsHealthy        bool           `json:"is_healthy"`
	DBReachable      bool           `json:"db_reachable"`
	DBError          string         `json:"db_error,omitempty"`
	PodID            string         `json:"pod_id"`
	ActiveWorkers    int            `json:"active_workers"`
	TotalWorkers     int            `json:"total_workers"`
	PendingJobs      int            `json:"pending_jobs"`
	RunningJobs      int            `json:"running_jobs"`
	MaxConcurrent    int            `json:"max_concurrent"`
	WorkerStats      []WorkerHealth `json:"worker_stats"`
	LastOrphanScan   time.Time      `json:"last_orphan_scan"`
	OrphansRecovered int            `json:"orphans_recovered"`
}

// WorkerHealth contains health information for a single worker.
type WorkerHealth struct {
	ID            string    `json:"id"`
	Status        string    `json:"status"` // "idle" or "working"
	CurrentJobID  string    `json:"current_job_id,omitempty"`
	JobsProcessed int       `json:"jobs_processed"`
	LastActivity  time.Time `json:"last_activity"`
}
