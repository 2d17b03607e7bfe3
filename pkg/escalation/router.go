// Package escalation decides whether a classified case warrants human
// attention, routes it to a Slack channel by rule priority, and holds
// the one-active-escalation-per-case invariant across a 24-hour window.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/caseops/casepilot/pkg/audit"
	"github.com/caseops/casepilot/pkg/config"
	"github.com/caseops/casepilot/pkg/metrics"
	"github.com/caseops/casepilot/pkg/models"
	"github.com/caseops/casepilot/pkg/store"
	"github.com/caseops/casepilot/pkg/taxonomy"
)

// dedupWindow is how long an active escalation suppresses new ones for
// the same case number.
const dedupWindow = 24 * time.Hour

// Trigger names recorded on the escalation alongside BI flag names.
const (
	TriggerNonBAUCategory = "non_bau_category"
	TriggerToneEscalate   = "tone_escalate"
	TriggerBIScore        = "bi_score_threshold"
	TriggerStuckCase      = "stuck_case"
)

// Store is the slice of the escalation store the router needs.
type Store interface {
	Create(ctx context.Context, esc *models.Escalation) error
	HasActiveSince(ctx context.Context, caseNumber string, since time.Time) (bool, error)
	GetActiveByCase(ctx context.Context, caseNumber string) (*models.Escalation, error)
	MarkPosted(ctx context.Context, esc *models.Escalation, channel, ts string) error
	Cancel(ctx context.Context, esc *models.Escalation, reason string) error
	Supersede(ctx context.Context, esc *models.Escalation, reason string) error
	Acknowledge(ctx context.Context, id, userID string) (*models.Escalation, error)
}

// Notifier posts the escalation message and returns its coordinates.
// *slack.Service satisfies it.
type Notifier interface {
	PostEscalation(ctx context.Context, esc *models.Escalation, priority, client string) (string, string, error)
}

// Options carries the routing configuration. Zero values fall back to
// the built-in defaults.
type Options struct {
	Rules            []config.EscalationRule
	DefaultChannel   string
	BIScoreThreshold float64
	NonBAUCategories []string
}

// Request is one escalation demand: the case facets the rules match on
// plus the evidence that goes on the record.
type Request struct {
	CaseNumber      string
	CaseSysID       string
	Client          string
	Category        string
	AssignmentGroup string
	Priority        string
	Triggers        []string
	BIScore         float64
	Reason          string
}

// Router evaluates classifications against the escalation triggers and
// posts routed, deduplicated escalations.
type Router struct {
	store    Store
	notifier Notifier
	audit    audit.Recorder
	metrics  *metrics.Metrics
	rules    []config.EscalationRule
	fallback string
	biScore  float64
	nonBAU   []string
	logger   *slog.Logger
}

// NewRouter creates a router over the given rule set. Rules are matched
// in descending priority order; the config validator guarantees a
// catch-all default in loaded configs.
func NewRouter(st Store, notifier Notifier, recorder audit.Recorder, m *metrics.Metrics, opts Options) *Router {
	rules := make([]config.EscalationRule, len(opts.Rules))
	copy(rules, opts.Rules)
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority > rules[j].Priority })

	threshold := opts.BIScoreThreshold
	if threshold <= 0 {
		threshold = config.DefaultThresholds().BIScore
	}
	nonBAU := opts.NonBAUCategories
	if nonBAU == nil {
		nonBAU = config.DefaultCategories().NonBAU
	}

	return &Router{
		store:    st,
		notifier: notifier,
		audit:    recorder,
		metrics:  m,
		rules:    rules,
		fallback: opts.DefaultChannel,
		biScore:  threshold,
		nonBAU:   nonBAU,
		logger:   slog.Default().With("component", "escalation"),
	}
}

// Decide returns the trigger list a classification fires, empty when
// the case does not escalate.
func (r *Router) Decide(result *models.ClassificationResult) []string {
	if result == nil {
		return nil
	}

	var triggers []string
	for _, flag := range result.BusinessIntel.SetFlags() {
		triggers = append(triggers, flag.Name)
	}
	if result.BusinessIntel.CompositeScore() >= r.biScore {
		triggers = append(triggers, TriggerBIScore)
	}
	if containsFold(r.nonBAU, result.Categorization.Category) {
		triggers = append(triggers, TriggerNonBAUCategory)
	}
	if result.Narrative.Tone == models.ToneEscalate {
		triggers = append(triggers, TriggerToneEscalate)
	}
	return triggers
}

// Route runs Decide over a finished classification and escalates when
// any trigger fires. Returns (nil, nil) when the case does not escalate
// or an active escalation already covers it.
func (r *Router) Route(ctx context.Context, c models.Case, result *models.ClassificationResult) (*models.Escalation, error) {
	triggers := r.Decide(result)
	if len(triggers) == 0 {
		return nil, nil
	}

	return r.Escalate(ctx, Request{
		CaseNumber:      c.Number,
		CaseSysID:       c.SysID,
		Client:          c.Company,
		Category:        result.Categorization.Category,
		AssignmentGroup: c.AssignmentGroup,
		Priority:        c.Priority,
		Triggers:        triggers,
		BIScore:         result.BusinessIntel.CompositeScore(),
		Reason:          buildReason(result, triggers),
	})
}

// Escalate creates, posts, and marks one escalation for the request.
// Duplicates within the dedup window become audited no-ops returning
// (nil, nil); an active incumbent older than the window is superseded
// so the case can escalate again. A failed Slack post cancels the row
// to release the active slot and returns a transient error so the
// caller retries.
func (r *Router) Escalate(ctx context.Context, req Request) (*models.Escalation, error) {
	if req.CaseNumber == "" {
		return nil, taxonomy.Validation(errors.New("escalation request missing case number"))
	}
	if len(req.Triggers) == 0 {
		return nil, taxonomy.Validation(errors.New("escalation request has no triggers"))
	}

	active, err := r.store.HasActiveSince(ctx, req.CaseNumber, time.Now().UTC().Add(-dedupWindow))
	if err != nil {
		return nil, fmt.Errorf("failed to check escalation dedup: %w", err)
	}
	if active {
		r.recordDuplicate(ctx, req)
		return nil, nil
	}

	rule := r.matchRule(req.Client, req.Category, req.AssignmentGroup)
	esc := &models.Escalation{
		CaseNumber: req.CaseNumber,
		CaseSysID:  req.CaseSysID,
		Triggers:   req.Triggers,
		BIScore:    req.BIScore,
		RuleName:   rule.Name,
		Channel:    rule.Channel,
		Reason:     req.Reason,
	}

	if err := r.store.Create(ctx, esc); err != nil {
		if !errors.Is(err, store.ErrAlreadyExists) {
			return nil, fmt.Errorf("failed to create escalation: %w", err)
		}
		// The partial unique index caught what the pre-check missed:
		// either a concurrent insert inside the window, or an incumbent
		// that aged past it without reaching a terminal state. Only the
		// stale incumbent yields its slot.
		freed, err := r.supersedeStale(ctx, req)
		if err != nil {
			return nil, err
		}
		if !freed {
			r.recordDuplicate(ctx, req)
			return nil, nil
		}
		if err := r.store.Create(ctx, esc); err != nil {
			if errors.Is(err, store.ErrAlreadyExists) {
				// Lost the freed slot to a concurrent escalation.
				r.recordDuplicate(ctx, req)
				return nil, nil
			}
			return nil, fmt.Errorf("failed to create escalation: %w", err)
		}
	}

	channel, ts, err := r.notifier.PostEscalation(ctx, esc, req.Priority, req.Client)
	if err != nil {
		r.logger.Error("Failed to post escalation, cancelling",
			"escalation_id", esc.ID,
			"case_number", esc.CaseNumber,
			"channel", esc.Channel,
			"error", err)
		if cancelErr := r.store.Cancel(ctx, esc, fmt.Sprintf("slack post failed: %v", err)); cancelErr != nil {
			r.logger.Error("Failed to cancel unposted escalation",
				"escalation_id", esc.ID,
				"error", cancelErr)
		}
		return nil, taxonomy.Transient(fmt.Errorf("failed to post escalation: %w", err))
	}

	if err := r.store.MarkPosted(ctx, esc, channel, ts); err != nil {
		// The message is out; losing the coordinate write is not worth
		// a duplicate post on retry.
		r.logger.Warn("Failed to mark escalation posted",
			"escalation_id", esc.ID,
			"error", err)
	}

	for _, trigger := range req.Triggers {
		r.metrics.RecordEscalationPosted(trigger)
	}
	r.audit.Record(ctx, &models.AuditEntry{
		EntityType: models.AuditEntityEscalation,
		EntityID:   esc.ID,
		Action:     "escalation_posted",
		NewState:   string(esc.Status),
		Actor:      "system",
		Reason:     req.Reason,
		Metadata: models.JSONMap{
			"case_number": esc.CaseNumber,
			"rule":        esc.RuleName,
			"channel":     channel,
			"message_ts":  ts,
			"triggers":    strings.Join(req.Triggers, ","),
			"bi_score":    esc.BIScore,
		},
	})
	r.logger.Info("Escalation posted",
		"escalation_id", esc.ID,
		"case_number", esc.CaseNumber,
		"rule", esc.RuleName,
		"channel", channel,
		"triggers", req.Triggers)
	return esc, nil
}

// supersedeStale retires an unacknowledged incumbent that aged past the
// dedup window so the case can escalate again. Reports whether the
// active slot is free for a new insert.
func (r *Router) supersedeStale(ctx context.Context, req Request) (bool, error) {
	incumbent, err := r.store.GetActiveByCase(ctx, req.CaseNumber)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// The incumbent went terminal between the conflict and this
			// read; the slot is already free.
			return true, nil
		}
		return false, fmt.Errorf("failed to load active escalation: %w", err)
	}

	age := time.Since(incumbent.CreatedAt)
	if age < dedupWindow {
		return false, nil
	}

	prior := string(incumbent.Status)
	reason := fmt.Sprintf("superseded: unacknowledged for %s", age.Round(time.Minute))
	if err := r.store.Supersede(ctx, incumbent, reason); err != nil {
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrConcurrentModification) {
			// Someone else settled the incumbent; the retried insert
			// decides who holds the slot now.
			return true, nil
		}
		return false, fmt.Errorf("failed to supersede stale escalation: %w", err)
	}

	r.audit.Record(ctx, &models.AuditEntry{
		EntityType: models.AuditEntityEscalation,
		EntityID:   incumbent.ID,
		Action:     "escalation_superseded",
		PriorState: prior,
		NewState:   string(models.EscalationStatusCancelled),
		Actor:      "system",
		Reason:     reason,
		Metadata: models.JSONMap{
			"case_number": req.CaseNumber,
			"age":         age.String(),
		},
	})
	r.logger.Info("Stale escalation superseded",
		"escalation_id", incumbent.ID,
		"case_number", req.CaseNumber,
		"age", age)
	return true, nil
}

// Acknowledge moves a posted escalation to ACKNOWLEDGED on behalf of
// the Slack user who pressed the button.
func (r *Router) Acknowledge(ctx context.Context, id, userID string) (*models.Escalation, error) {
	esc, err := r.store.Acknowledge(ctx, id, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to acknowledge escalation: %w", err)
	}

	r.audit.Record(ctx, &models.AuditEntry{
		EntityType: models.AuditEntityEscalation,
		EntityID:   esc.ID,
		Action:     "escalation_acknowledged",
		PriorState: string(models.EscalationStatusPosted),
		NewState:   string(esc.Status),
		Actor:      userID,
		Metadata: models.JSONMap{
			"case_number": esc.CaseNumber,
		},
	})
	r.logger.Info("Escalation acknowledged",
		"escalation_id", esc.ID,
		"case_number", esc.CaseNumber,
		"user", userID)
	return esc, nil
}

// matchRule returns the highest-priority rule matching the case facets,
// or a synthetic fallback pointed at the default channel.
func (r *Router) matchRule(client, category, assignmentGroup string) config.EscalationRule {
	for i := range r.rules {
		if r.rules[i].Matches(client, category, assignmentGroup) {
			return r.rules[i]
		}
	}
	return config.EscalationRule{Name: "fallback", Client: "*", Channel: r.fallback}
}

func (r *Router) recordDuplicate(ctx context.Context, req Request) {
	r.audit.Record(ctx, &models.AuditEntry{
		EntityType: models.AuditEntityEscalation,
		EntityID:   req.CaseNumber,
		Action:     "escalation_deduplicated",
		Actor:      "system",
		Metadata: models.JSONMap{
			"triggers": strings.Join(req.Triggers, ","),
		},
	})
	r.logger.Info("Escalation suppressed by active duplicate",
		"case_number", req.CaseNumber,
		"triggers", req.Triggers)
}

// buildReason condenses the classification evidence into the line shown
// on the Slack message and audit trail.
func buildReason(result *models.ClassificationResult, triggers []string) string {
	var parts []string
	for _, flag := range result.BusinessIntel.SetFlags() {
		parts = append(parts, fmt.Sprintf("%s: %s", flag.Name, flag.Reason))
	}
	for _, trigger := range triggers {
		switch trigger {
		case TriggerNonBAUCategory:
			parts = append(parts, fmt.Sprintf("non-BAU category %q", result.Categorization.Category))
		case TriggerToneEscalate:
			parts = append(parts, "handover tone requested escalation")
		}
	}
	return strings.Join(parts, "; ")
}

func containsFold(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}
