package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// orphanState tracks orphan detection metrics (thread-safe).
type orphanState struct {
	mu               sync.Mutex
	lastOrphanScan   time.Time
	orphansRecovered int
}

// runOrphanDetection periodically requeues jobs with stale heartbeats.
// All pods run this independently; the update is idempotent.
func (p *WorkerPool) runOrphanDetection(ctx context.Context) {
	ticker := time.NewTicker(p.config.OrphanDetectionInterval.Duration())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			if err := p.recoverOrphans(ctx); err != nil {
				slog.Error("Orphan detection failed", "error", err)
			}
		}
	}
}

// recoverOrphans returns running jobs whose heartbeat lapsed to the
// pending queue. Attempts are preserved so a crash loop still converges
// on a dead job instead of spinning forever.
func (p *WorkerPool) recoverOrphans(ctx context.Context) error {
	staleBefore := time.Now().UTC().Add(-p.config.OrphanThreshold.Duration())

	recovered, err := p.jobs.RequeueOrphans(ctx, staleBefore)
	if err != nil {
		return fmt.Errorf("failed to requeue orphaned jobs: %w", err)
	}

	p.orphans.mu.Lock()
	p.orphans.lastOrphanScan = time.Now()
	p.orphans.orphansRecovered += int(recovered)
	p.orphans.mu.Unlock()

	if recovered > 0 {
		slog.Warn("Requeued orphaned jobs", "count", recovered, "pod_id", p.podID)
	}
	return nil
}
