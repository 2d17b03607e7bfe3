// Package monitor runs the scheduled sweeps over blocked work: stuck
// gates partitioned into severity buckets, rolling approval and block
// rates, the reviewer leaderboard, the open-queue report, and the
// persisted queue snapshot.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	goslack "github.com/slack-go/slack"

	"github.com/caseops/casepilot/pkg/config"
	"github.com/caseops/casepilot/pkg/escalation"
	"github.com/caseops/casepilot/pkg/metrics"
	"github.com/caseops/casepilot/pkg/models"
	"github.com/caseops/casepilot/pkg/store"
)

// Severity bucket names, highest first.
const (
	BucketAlert    = "Alert"
	BucketCritical = "Critical"
	BucketWarning  = "Warning"
)

// GateReader is the slice of the gate store the monitor reads.
type GateReader interface {
	ListStuck(ctx context.Context, cutoff time.Time) ([]*models.QualityGate, error)
	RatesSince(ctx context.Context, since time.Time) (*store.GateRates, error)
	Leaderboard(ctx context.Context, since time.Time, limit int) ([]store.LeaderboardRow, error)
	OpenByAssignmentGroup(ctx context.Context) ([]store.GroupCount, error)
	StatusCounts(ctx context.Context) (map[models.GateStatus]int, error)
}

// Escalator posts individual stuck-case escalations.
// *escalation.Router satisfies it.
type Escalator interface {
	Escalate(ctx context.Context, req escalation.Request) (*models.Escalation, error)
}

// Notifier posts bucket summaries and report blocks. *slack.Service
// satisfies it.
type Notifier interface {
	PostStuckSummary(ctx context.Context, bucket string, gates []*models.QualityGate)
	PostBlocks(ctx context.Context, channelID string, blocks []goslack.Block)
}

// SessionCounter counts ACTIVE clarification sessions for snapshots.
type SessionCounter interface {
	CountActive(ctx context.Context) (int, error)
}

// JobDepths reports queue depth per job status.
type JobDepths interface {
	Depths(ctx context.Context) (map[models.JobStatus]int, error)
}

// Snapshots persists queue snapshots for trending.
type Snapshots interface {
	Insert(ctx context.Context, snap *models.QueueSnapshot) error
}

// GroupLister provides the assignment-group catalog so the queue
// report shows groups with nothing open.
type GroupLister interface {
	ListAssignmentGroups(ctx context.Context) ([]string, error)
}

// Deps wires the monitor's collaborators. Escalator, Notifier,
// Sessions, Jobs, Snapshots, and Groups are optional.
type Deps struct {
	Gates     GateReader
	Escalator Escalator
	Notifier  Notifier
	Sessions  SessionCounter
	Jobs      JobDepths
	Snapshots Snapshots
	Groups    GroupLister
	Metrics   *metrics.Metrics
	Config    *config.MonitorConfig
}

// Monitor owns the cron sweeps. Every method is safe to run on overlap
// with itself; escalation dedup absorbs double fires.
type Monitor struct {
	gates     GateReader
	escalator Escalator
	notifier  Notifier
	sessions  SessionCounter
	jobs      JobDepths
	snapshots Snapshots
	groups    GroupLister
	metrics   *metrics.Metrics
	cfg       *config.MonitorConfig
	logger    *slog.Logger
}

// New creates a monitor. A nil config falls back to the built-in
// defaults.
func New(deps Deps) *Monitor {
	cfg := deps.Config
	if cfg == nil {
		cfg = config.DefaultMonitorConfig()
	}
	return &Monitor{
		gates:     deps.Gates,
		escalator: deps.Escalator,
		notifier:  deps.Notifier,
		sessions:  deps.Sessions,
		jobs:      deps.Jobs,
		snapshots: deps.Snapshots,
		groups:    deps.Groups,
		metrics:   deps.Metrics,
		cfg:       cfg,
		logger:    slog.Default().With("component", "monitor"),
	}
}

// StuckReport is one sweep's outcome plus the rolling 24h rates.
type StuckReport struct {
	Warning   int              `json:"warning"`
	Critical  int              `json:"critical"`
	Alert     int              `json:"alert"`
	Escalated int              `json:"escalated"`
	Rates     *store.GateRates `json:"rates,omitempty"`
}

// SweepStuck partitions BLOCKED gates into severity buckets by age.
// The Alert bucket escalates each case individually; Critical and
// Warning post one summary each listing the longest-blocked. Buckets
// exclude gates already counted by a higher one.
func (m *Monitor) SweepStuck(ctx context.Context, now time.Time) (*StuckReport, error) {
	stuck, err := m.gates.ListStuck(ctx, now.Add(-m.cfg.WarningAfter.Duration()))
	if err != nil {
		return nil, fmt.Errorf("failed to list stuck gates: %w", err)
	}

	var alert, critical, warning []*models.QualityGate
	for _, gate := range stuck {
		age := now.Sub(gate.UpdatedAt)
		switch {
		case age >= m.cfg.AlertAfter.Duration():
			alert = append(alert, gate)
		case age >= m.cfg.CriticalAfter.Duration():
			critical = append(critical, gate)
		default:
			warning = append(warning, gate)
		}
	}

	report := &StuckReport{
		Warning:  len(warning),
		Critical: len(critical),
		Alert:    len(alert),
	}

	for _, gate := range alert {
		if m.escalator == nil {
			break
		}
		esc, err := m.escalator.Escalate(ctx, stuckRequest(gate, now))
		if err != nil {
			m.logger.Error("Failed to escalate stuck case",
				"case_number", gate.CaseNumber,
				"gate_id", gate.ID,
				"error", err)
			continue
		}
		if esc != nil {
			report.Escalated++
		}
	}

	if m.notifier != nil {
		if len(critical) > 0 {
			m.notifier.PostStuckSummary(ctx, BucketCritical, truncateGates(critical, m.cfg.SummaryLimit))
		}
		if len(warning) > 0 {
			m.notifier.PostStuckSummary(ctx, BucketWarning, truncateGates(warning, m.cfg.SummaryLimit))
		}
	}

	rates, err := m.gates.RatesSince(ctx, now.Add(-24*time.Hour))
	if err != nil {
		m.logger.Warn("Failed to compute rolling gate rates", "error", err)
	} else {
		report.Rates = rates
	}

	m.logger.Info("Stuck-case sweep finished",
		"warning", report.Warning,
		"critical", report.Critical,
		"alert", report.Alert,
		"escalated", report.Escalated)
	return report, nil
}

// stuckRequest shapes a blocked gate into an escalation demand.
func stuckRequest(gate *models.QualityGate, now time.Time) escalation.Request {
	req := escalation.Request{
		CaseNumber:      gate.CaseNumber,
		CaseSysID:       gate.CaseSysID,
		AssignmentGroup: gate.AssignmentGroup,
		Triggers:        []string{escalation.TriggerStuckCase},
		Reason:          fmt.Sprintf("case blocked for %s", now.Sub(gate.UpdatedAt).Round(time.Minute)),
	}
	if gate.ReviewReason != "" {
		req.Reason += ": " + gate.ReviewReason
	}
	req.BIScore = gate.Decision.BIScore
	if gate.Decision.Classification != nil {
		req.Category = gate.Decision.Classification.Categorization.Category
	}
	return req
}

// truncateGates keeps the longest-blocked entries. ListStuck returns
// oldest first, so the head of the slice is what the summary wants.
func truncateGates(gates []*models.QualityGate, limit int) []*models.QualityGate {
	if limit <= 0 || len(gates) <= limit {
		return gates
	}
	return gates[:limit]
}

// Leaderboard posts the top reviewers by approved gates over the window
// and returns the rows.
func (m *Monitor) Leaderboard(ctx context.Context, since time.Time, limit int) ([]store.LeaderboardRow, error) {
	rows, err := m.gates.Leaderboard(ctx, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load leaderboard: %w", err)
	}
	if m.notifier != nil && len(rows) > 0 {
		m.notifier.PostBlocks(ctx, "", leaderboardBlocks(rows, since))
	}
	return rows, nil
}

// QueueReport posts open-gate counts per assignment group, including
// groups with nothing open so coverage gaps are visible, and returns
// the counts.
func (m *Monitor) QueueReport(ctx context.Context) ([]store.GroupCount, error) {
	counts, err := m.gates.OpenByAssignmentGroup(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load open gates by group: %w", err)
	}

	if m.groups != nil {
		catalog, err := m.groups.ListAssignmentGroups(ctx)
		if err != nil {
			m.logger.Warn("Failed to load assignment-group catalog", "error", err)
		} else {
			counts = mergeGroups(counts, catalog)
		}
	}

	if m.notifier != nil && len(counts) > 0 {
		m.notifier.PostBlocks(ctx, "", queueReportBlocks(counts))
	}
	return counts, nil
}

// mergeGroups unions the catalog into the counts with zeroes, sorted by
// count descending then name.
func mergeGroups(counts []store.GroupCount, catalog []string) []store.GroupCount {
	seen := make(map[string]bool, len(counts))
	for _, c := range counts {
		seen[c.AssignmentGroup] = true
	}
	for _, group := range catalog {
		if group == "" || seen[group] {
			continue
		}
		seen[group] = true
		counts = append(counts, store.GroupCount{AssignmentGroup: group})
	}
	sort.SliceStable(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].AssignmentGroup < counts[j].AssignmentGroup
	})
	return counts
}

// Snapshot persists one point-in-time measurement of gate, session, and
// job volumes and refreshes the queue-depth gauges.
func (m *Monitor) Snapshot(ctx context.Context) (*models.QueueSnapshot, error) {
	statusCounts, err := m.gates.StatusCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count gates: %w", err)
	}

	snap := &models.QueueSnapshot{
		OpenGates: statusCounts[models.GateStatusNew] +
			statusCounts[models.GateStatusClarificationNeeds] +
			statusCounts[models.GateStatusBlocked],
		BlockedGates: statusCounts[models.GateStatusBlocked],
	}

	if m.sessions != nil {
		active, err := m.sessions.CountActive(ctx)
		if err != nil {
			m.logger.Warn("Failed to count active sessions", "error", err)
		} else {
			snap.ActiveSessions = active
		}
	}

	if m.jobs != nil {
		depths, err := m.jobs.Depths(ctx)
		if err != nil {
			m.logger.Warn("Failed to read job depths", "error", err)
		} else {
			snap.PendingJobs = depths[models.JobStatusPending]
			snap.RunningJobs = depths[models.JobStatusRunning]
			gauges := make(map[string]int, len(depths))
			for status, n := range depths {
				gauges[string(status)] = n
			}
			m.metrics.SetQueueDepth(gauges)
		}
	}

	if m.snapshots != nil {
		if err := m.snapshots.Insert(ctx, snap); err != nil {
			return nil, fmt.Errorf("failed to persist queue snapshot: %w", err)
		}
	}

	m.logger.Info("Queue snapshot recorded",
		"open_gates", snap.OpenGates,
		"blocked_gates", snap.BlockedGates,
		"active_sessions", snap.ActiveSessions,
		"pending_jobs", snap.PendingJobs,
		"running_jobs", snap.RunningJobs)
	return snap, nil
}
