// Package metrics exposes Prometheus instrumentation for the intake
// pipeline. Collectors live on a private registry so tests can assert on
// casepilot_* series without global-registry interference.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "casepilot"

// Metrics bundles every collector the engine emits. A nil *Metrics is
// safe to use; all record methods no-op so callers never guard.
type Metrics struct {
	registry *prometheus.Registry

	stageDuration  *prometheus.HistogramVec
	stageTokens    *prometheus.CounterVec
	stageFailures  *prometheus.CounterVec
	gateOutcomes   *prometheus.CounterVec
	escalations    *prometheus.CounterVec
	sessionsOpened prometheus.Counter
	remindersSent  prometheus.Counter
	dedupHits      prometheus.Counter
	intakeAccepted prometheus.Counter
	queueDepth     *prometheus.GaugeVec
	jobClaims      *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	repoFallbacks  *prometheus.CounterVec
	cacheOps       *prometheus.CounterVec
	auditPending   prometheus.Gauge
}

// New builds the collector set on a fresh registry.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.stageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "stage_duration_seconds",
		Help:      "Duration of each pipeline stage call.",
		Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
	}, []string{"stage"})

	m.stageTokens = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "stage_tokens_total",
		Help:      "Model tokens consumed per stage and direction.",
	}, []string{"stage", "direction"})

	m.stageFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "stage_failures_total",
		Help:      "Pipeline stage failures by stage and reason.",
	}, []string{"stage", "reason"})

	m.gateOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "gates",
		Name:      "outcomes_total",
		Help:      "Quality gate terminal and intermediate outcomes.",
	}, []string{"status"})

	m.escalations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "escalations",
		Name:      "posted_total",
		Help:      "Escalations posted to Slack by trigger.",
	}, []string{"trigger"})

	m.sessionsOpened = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "clarify",
		Name:      "sessions_opened_total",
		Help:      "Clarification sessions opened.",
	})

	m.remindersSent = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "clarify",
		Name:      "reminders_sent_total",
		Help:      "Clarification reminders posted to threads.",
	})

	m.dedupHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "intake",
		Name:      "dedup_hits_total",
		Help:      "Intake events dropped by the dedup window.",
	})

	m.intakeAccepted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "intake",
		Name:      "accepted_total",
		Help:      "Intake events accepted and enqueued.",
	})

	m.queueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "queue",
		Name:      "depth",
		Help:      "Jobs per status from the latest snapshot.",
	}, []string{"status"})

	m.jobClaims = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "queue",
		Name:      "claims_total",
		Help:      "Job claim attempts by result (claimed, empty, error).",
	}, []string{"result"})

	m.jobDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "queue",
		Name:      "job_duration_seconds",
		Help:      "Job execution time by kind and outcome.",
		Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300},
	}, []string{"kind", "outcome"})

	m.repoFallbacks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "repository",
		Name:      "fallbacks_total",
		Help:      "Repository reads that fell back to the legacy path.",
	}, []string{"operation"})

	m.cacheOps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "repository",
		Name:      "cache_ops_total",
		Help:      "Read-through cache hits and misses.",
	}, []string{"result"})

	m.auditPending = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "audit",
		Name:      "pending_entries",
		Help:      "Audit entries buffered for retry.",
	})

	m.registry.MustRegister(
		m.stageDuration,
		m.stageTokens,
		m.stageFailures,
		m.gateOutcomes,
		m.escalations,
		m.sessionsOpened,
		m.remindersSent,
		m.dedupHits,
		m.intakeAccepted,
		m.queueDepth,
		m.jobClaims,
		m.jobDuration,
		m.repoFallbacks,
		m.cacheOps,
		m.auditPending,
	)

	return m
}

// Gatherer exposes the private registry for scraping and tests.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil {
		return prometheus.NewRegistry()
	}
	return m.registry
}

// Handler returns the scrape endpoint handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Gatherer(), promhttp.HandlerOpts{})
}

// ObserveStage records one pipeline stage call.
func (m *Metrics) ObserveStage(stage string, elapsed time.Duration, inputTokens, outputTokens int) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
	if inputTokens > 0 {
		m.stageTokens.WithLabelValues(stage, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.stageTokens.WithLabelValues(stage, "output").Add(float64(outputTokens))
	}
}

// RecordStageFailure counts a failed stage call.
func (m *Metrics) RecordStageFailure(stage, reason string) {
	if m == nil {
		return
	}
	m.stageFailures.WithLabelValues(stage, reason).Inc()
}

// RecordGateOutcome counts a gate entering the given status.
func (m *Metrics) RecordGateOutcome(status string) {
	if m == nil {
		return
	}
	m.gateOutcomes.WithLabelValues(status).Inc()
}

// RecordEscalationPosted counts a posted escalation by its first trigger.
func (m *Metrics) RecordEscalationPosted(trigger string) {
	if m == nil {
		return
	}
	m.escalations.WithLabelValues(trigger).Inc()
}

// RecordSessionOpened counts a new clarification session.
func (m *Metrics) RecordSessionOpened() {
	if m == nil {
		return
	}
	m.sessionsOpened.Inc()
}

// RecordReminderSent counts a clarification reminder.
func (m *Metrics) RecordReminderSent() {
	if m == nil {
		return
	}
	m.remindersSent.Inc()
}

// RecordDedupHit counts an intake event suppressed by deduplication.
func (m *Metrics) RecordDedupHit() {
	if m == nil {
		return
	}
	m.dedupHits.Inc()
}

// RecordIntakeAccepted counts an accepted intake event.
func (m *Metrics) RecordIntakeAccepted() {
	if m == nil {
		return
	}
	m.intakeAccepted.Inc()
}

// SetQueueDepth publishes the per-status depth gauges.
func (m *Metrics) SetQueueDepth(depths map[string]int) {
	if m == nil {
		return
	}
	for status, n := range depths {
		m.queueDepth.WithLabelValues(status).Set(float64(n))
	}
}

// RecordJobClaim counts a claim attempt result.
func (m *Metrics) RecordJobClaim(result string) {
	if m == nil {
		return
	}
	m.jobClaims.WithLabelValues(result).Inc()
}

// ObserveJob records one job execution.
func (m *Metrics) ObserveJob(kind, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(kind, outcome).Observe(elapsed.Seconds())
}

// RecordRepositoryFallback counts a legacy-path fallback.
func (m *Metrics) RecordRepositoryFallback(operation string) {
	if m == nil {
		return
	}
	m.repoFallbacks.WithLabelValues(operation).Inc()
}

// RecordCacheHit counts a read-through cache hit.
func (m *Metrics) RecordCacheHit() {
	if m == nil {
		return
	}
	m.cacheOps.WithLabelValues("hit").Inc()
}

// RecordCacheMiss counts a read-through cache miss.
func (m *Metrics) RecordCacheMiss() {
	if m == nil {
		return
	}
	m.cacheOps.WithLabelValues("miss").Inc()
}

// SetAuditPending publishes the audit retry-buffer size.
func (m *Metrics) SetAuditPending(n int) {
	if m == nil {
		return
	}
	m.auditPending.Set(float64(n))
}
