package cleanup

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseops/casepilot/pkg/config"
)

type fakePruner struct {
	mu      sync.Mutex
	cutoffs []time.Time
	count   int64
	err     error
}

func (f *fakePruner) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, cutoff)
	return f.count, f.err
}

func (f *fakePruner) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return f.DeleteBefore(ctx, cutoff)
}

func (f *fakePruner) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cutoffs)
}

func retentionConfig() *config.RetentionConfig {
	return &config.RetentionConfig{
		CompletedJobTTL:       config.Duration(72 * time.Hour),
		SnapshotRetentionDays: 90,
		AuditRetentionDays:    30,
		CleanupInterval:       config.Duration(time.Hour),
	}
}

func TestRunAllPrunesEverything(t *testing.T) {
	jobs := &fakePruner{count: 3}
	snaps := &fakePruner{count: 1}
	audits := &fakePruner{count: 2}
	svc := NewService(retentionConfig(), jobs, snaps, audits)

	svc.runAll(t.Context())

	require.Equal(t, 1, jobs.calls())
	require.Equal(t, 1, snaps.calls())
	require.Equal(t, 1, audits.calls())

	now := time.Now().UTC()
	assert.WithinDuration(t, now.Add(-72*time.Hour), jobs.cutoffs[0], time.Minute)
	assert.WithinDuration(t, now.AddDate(0, 0, -90), snaps.cutoffs[0], time.Minute)
	assert.WithinDuration(t, now.AddDate(0, 0, -30), audits.cutoffs[0], time.Minute)
}

func TestAuditSweepDisabledByDefault(t *testing.T) {
	cfg := retentionConfig()
	cfg.AuditRetentionDays = 0
	audits := &fakePruner{}
	svc := NewService(cfg, &fakePruner{}, &fakePruner{}, audits)

	svc.runAll(t.Context())

	assert.Zero(t, audits.calls())
}

func TestNilPrunersAreSkipped(t *testing.T) {
	svc := NewService(retentionConfig(), nil, nil, nil)

	assert.NotPanics(t, func() { svc.runAll(t.Context()) })
}

func TestSweepErrorDoesNotStopOthers(t *testing.T) {
	jobs := &fakePruner{err: assert.AnError}
	snaps := &fakePruner{}
	svc := NewService(retentionConfig(), jobs, snaps, &fakePruner{})

	svc.runAll(t.Context())

	assert.Equal(t, 1, snaps.calls())
}

func TestStartRunsInitialSweepAndStops(t *testing.T) {
	jobs := &fakePruner{}
	svc := NewService(retentionConfig(), jobs, &fakePruner{}, &fakePruner{})

	svc.Start(t.Context())
	assert.Eventually(t, func() bool { return jobs.calls() > 0 }, 2*time.Second, 10*time.Millisecond)

	svc.Stop()
	// Stop twice is safe.
	svc.Stop()
}

func TestStopWithoutStart(t *testing.T) {
	svc := NewService(nil, nil, nil, nil)
	assert.NotPanics(t, svc.Stop)
}
