// Package cleanup provides data retention sweeps.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/caseops/casepilot/pkg/config"
)

// JobPruner deletes finished job rows. *store.JobStore satisfies it.
type JobPruner interface {
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Pruner deletes rows older than a cutoff. The snapshot and audit
// stores both satisfy it.
type Pruner interface {
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Service periodically enforces retention policies:
//   - Deletes completed and dead job rows past their TTL
//   - Deletes queue snapshots past the retention window
//   - Deletes audit entries past the retention window (when configured)
//
// All operations are idempotent and safe to run from multiple pods.
type Service struct {
	config    *config.RetentionConfig
	jobs      JobPruner
	snapshots Pruner
	audits    Pruner

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a cleanup service. A nil config falls back to the
// built-in defaults; nil pruners skip their sweep.
func NewService(cfg *config.RetentionConfig, jobs JobPruner, snapshots, audits Pruner) *Service {
	if cfg == nil {
		cfg = config.DefaultRetentionConfig()
	}
	return &Service{
		config:    cfg,
		jobs:      jobs,
		snapshots: snapshots,
		audits:    audits,
	}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"completed_job_ttl", s.config.CompletedJobTTL,
		"snapshot_retention_days", s.config.SnapshotRetentionDays,
		"audit_retention_days", s.config.AuditRetentionDays,
		"interval", s.config.CleanupInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runAll(ctx)

	ticker := time.NewTicker(s.config.CleanupInterval.Duration())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Service) runAll(ctx context.Context) {
	now := time.Now().UTC()
	s.pruneFinishedJobs(ctx, now)
	s.pruneSnapshots(ctx, now)
	s.pruneAudit(ctx, now)
}

func (s *Service) pruneFinishedJobs(ctx context.Context, now time.Time) {
	if s.jobs == nil || s.config.CompletedJobTTL <= 0 {
		return
	}
	count, err := s.jobs.DeleteFinishedBefore(ctx, now.Add(-s.config.CompletedJobTTL.Duration()))
	if err != nil {
		slog.Error("Retention: finished job cleanup failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: deleted finished jobs", "count", count)
	}
}

func (s *Service) pruneSnapshots(ctx context.Context, now time.Time) {
	if s.snapshots == nil || s.config.SnapshotRetentionDays <= 0 {
		return
	}
	count, err := s.snapshots.DeleteBefore(ctx, now.AddDate(0, 0, -s.config.SnapshotRetentionDays))
	if err != nil {
		slog.Error("Retention: snapshot cleanup failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: deleted queue snapshots", "count", count)
	}
}

// pruneAudit keeps everything when AuditRetentionDays is zero; the
// audit trail is the system of record for gate decisions.
func (s *Service) pruneAudit(ctx context.Context, now time.Time) {
	if s.audits == nil || s.config.AuditRetentionDays <= 0 {
		return
	}
	count, err := s.audits.DeleteBefore(ctx, now.AddDate(0, 0, -s.config.AuditRetentionDays))
	if err != nil {
		slog.Error("Retention: audit cleanup failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: deleted audit entries", "count", count)
	}
}
