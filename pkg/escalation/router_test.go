package escalation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseops/casepilot/pkg/config"
	"github.com/caseops/casepilot/pkg/models"
	"github.com/caseops/casepilot/pkg/store"
	"github.com/caseops/casepilot/pkg/taxonomy"
)

type fakeStore struct {
	active          bool
	activeErr       error
	createErr       error
	createConflicts int
	incumbent       *models.Escalation
	incumbentErr    error
	markPostedErr   error
	cancelErr       error
	supersedeErr    error
	ackResult       *models.Escalation
	ackErr          error

	created    []*models.Escalation
	cancelled  []*models.Escalation
	superseded []*models.Escalation
	marked     []*models.Escalation
}

func (f *fakeStore) Create(_ context.Context, esc *models.Escalation) error {
	if f.createConflicts > 0 {
		f.createConflicts--
		return store.ErrAlreadyExists
	}
	if f.createErr != nil {
		return f.createErr
	}
	esc.ID = "esc-test"
	esc.Status = models.EscalationStatusPending
	esc.Version = 1
	f.created = append(f.created, esc)
	return nil
}

func (f *fakeStore) GetActiveByCase(context.Context, string) (*models.Escalation, error) {
	if f.incumbentErr != nil {
		return nil, f.incumbentErr
	}
	if f.incumbent == nil {
		return nil, store.ErrNotFound
	}
	return f.incumbent, nil
}

func (f *fakeStore) Supersede(_ context.Context, esc *models.Escalation, reason string) error {
	if f.supersedeErr != nil {
		return f.supersedeErr
	}
	esc.Status = models.EscalationStatusCancelled
	esc.Reason = reason
	f.superseded = append(f.superseded, esc)
	return nil
}

func (f *fakeStore) HasActiveSince(context.Context, string, time.Time) (bool, error) {
	return f.active, f.activeErr
}

func (f *fakeStore) MarkPosted(_ context.Context, esc *models.Escalation, channel, ts string) error {
	if f.markPostedErr != nil {
		return f.markPostedErr
	}
	esc.Status = models.EscalationStatusPosted
	esc.MessageChannel = channel
	esc.MessageTS = ts
	f.marked = append(f.marked, esc)
	return nil
}

func (f *fakeStore) Cancel(_ context.Context, esc *models.Escalation, reason string) error {
	if f.cancelErr != nil {
		return f.cancelErr
	}
	esc.Status = models.EscalationStatusCancelled
	esc.Reason = reason
	f.cancelled = append(f.cancelled, esc)
	return nil
}

func (f *fakeStore) Acknowledge(context.Context, string, string) (*models.Escalation, error) {
	return f.ackResult, f.ackErr
}

type fakeNotifier struct {
	channel string
	ts      string
	err     error
	posted  []*models.Escalation
}

func (f *fakeNotifier) PostEscalation(_ context.Context, esc *models.Escalation, _, _ string) (string, string, error) {
	if f.err != nil {
		return "", "", f.err
	}
	f.posted = append(f.posted, esc)
	channel := f.channel
	if channel == "" {
		channel = esc.Channel
	}
	ts := f.ts
	if ts == "" {
		ts = "1700.1"
	}
	return channel, ts, nil
}

type fakeRecorder struct {
	mu      sync.Mutex
	entries []*models.AuditEntry
}

func (f *fakeRecorder) Record(_ context.Context, entry *models.AuditEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
}

func (f *fakeRecorder) actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	actions := make([]string, 0, len(f.entries))
	for _, e := range f.entries {
		actions = append(actions, e.Action)
	}
	return actions
}

func testRules() []config.EscalationRule {
	return []config.EscalationRule{
		{Name: "default", Client: "*", Channel: "#triage", Priority: 0},
		{Name: "acme-security", Client: "Acme Corp", Categories: []string{"Security"}, Channel: "#acme-sec", Priority: 100},
		{Name: "acme", Client: "Acme Corp", Channel: "#acme", Priority: 50},
	}
}

func newTestRouter(st *fakeStore, notifier *fakeNotifier, rec *fakeRecorder) *Router {
	return NewRouter(st, notifier, rec, nil, Options{
		Rules:            testRules(),
		DefaultChannel:   "#ops",
		BIScoreThreshold: 0.5,
	})
}

func classificationResult() *models.ClassificationResult {
	return &models.ClassificationResult{
		CaseSysID:  "sys-1001",
		CaseNumber: "SCS1001",
		Categorization: models.CategorizationResult{
			Category:   "Network",
			Confidence: 0.9,
			Urgency:    models.UrgencyHigh,
		},
		Narrative: models.NarrativeResult{
			QuickSummary: "VPN outage at two sites.",
			Tone:         models.ToneConfident,
		},
	}
}

func TestDecide(t *testing.T) {
	router := newTestRouter(&fakeStore{}, &fakeNotifier{}, &fakeRecorder{})

	t.Run("clean result does not escalate", func(t *testing.T) {
		assert.Empty(t, router.Decide(classificationResult()))
	})

	t.Run("nil result does not escalate", func(t *testing.T) {
		assert.Empty(t, router.Decide(nil))
	})

	t.Run("BI flag fires its name", func(t *testing.T) {
		result := classificationResult()
		result.BusinessIntel.FinancialImpact = true
		result.BusinessIntel.FinancialReason = "contract penalty clause"

		triggers := router.Decide(result)
		assert.Equal(t, []string{"financial_impact"}, triggers)
	})

	t.Run("composite score over threshold adds score trigger", func(t *testing.T) {
		result := classificationResult()
		result.BusinessIntel.ComplianceImpact = true
		result.BusinessIntel.ComplianceReason = "GDPR data at risk"
		result.BusinessIntel.ExecutiveVisibility = true
		result.BusinessIntel.ExecutiveReason = "CFO raised it"

		triggers := router.Decide(result)
		assert.Contains(t, triggers, "compliance_impact")
		assert.Contains(t, triggers, "executive_visibility")
		assert.Contains(t, triggers, TriggerBIScore)
	})

	t.Run("non-BAU category", func(t *testing.T) {
		result := classificationResult()
		result.Categorization.Category = "Migration"

		assert.Equal(t, []string{TriggerNonBAUCategory}, router.Decide(result))
	})

	t.Run("escalate tone", func(t *testing.T) {
		result := classificationResult()
		result.Narrative.Tone = models.ToneEscalate

		assert.Equal(t, []string{TriggerToneEscalate}, router.Decide(result))
	})
}

func TestRouteSkipsWithoutTriggers(t *testing.T) {
	st := &fakeStore{}
	router := newTestRouter(st, &fakeNotifier{}, &fakeRecorder{})

	esc, err := router.Route(t.Context(), models.Case{Number: "SCS1001"}, classificationResult())

	require.NoError(t, err)
	assert.Nil(t, esc)
	assert.Empty(t, st.created)
}

func TestRoutePostsEscalation(t *testing.T) {
	st := &fakeStore{}
	notifier := &fakeNotifier{ts: "1700.42"}
	rec := &fakeRecorder{}
	router := newTestRouter(st, notifier, rec)

	result := classificationResult()
	result.BusinessIntel.ComplianceImpact = true
	result.BusinessIntel.ComplianceReason = "audit evidence at risk"

	c := models.Case{
		Number:          "SCS1001",
		SysID:           "sys-1001",
		Company:         "Acme Corp",
		AssignmentGroup: "Network Ops",
		Priority:        "2 - High",
	}
	esc, err := router.Route(t.Context(), c, result)

	require.NoError(t, err)
	require.NotNil(t, esc)
	assert.Equal(t, models.EscalationStatusPosted, esc.Status)
	assert.Equal(t, "acme", esc.RuleName, "client rule outranks default")
	assert.Equal(t, "#acme", esc.Channel)
	assert.Equal(t, "1700.42", esc.MessageTS)
	assert.Contains(t, esc.Reason, "audit evidence at risk")
	assert.Equal(t, models.Triggers{"compliance_impact"}, esc.Triggers)
	require.Len(t, notifier.posted, 1)
	assert.Contains(t, rec.actions(), "escalation_posted")
}

func TestEscalateRulePriority(t *testing.T) {
	st := &fakeStore{}
	router := newTestRouter(st, &fakeNotifier{}, &fakeRecorder{})

	esc, err := router.Escalate(t.Context(), Request{
		CaseNumber: "SCS1002",
		Client:     "Acme Corp",
		Category:   "Security",
		Triggers:   []string{TriggerToneEscalate},
	})

	require.NoError(t, err)
	assert.Equal(t, "acme-security", esc.RuleName, "highest priority match wins")
	assert.Equal(t, "#acme-sec", esc.Channel)
}

func TestEscalateFallsBackToDefaultRule(t *testing.T) {
	st := &fakeStore{}
	router := newTestRouter(st, &fakeNotifier{}, &fakeRecorder{})

	esc, err := router.Escalate(t.Context(), Request{
		CaseNumber: "SCS1003",
		Client:     "Globex",
		Category:   "Network",
		Triggers:   []string{TriggerStuckCase},
	})

	require.NoError(t, err)
	assert.Equal(t, "default", esc.RuleName)
	assert.Equal(t, "#triage", esc.Channel)
}

func TestEscalateSyntheticFallbackWithoutRules(t *testing.T) {
	st := &fakeStore{}
	router := NewRouter(st, &fakeNotifier{}, &fakeRecorder{}, nil, Options{DefaultChannel: "#ops"})

	esc, err := router.Escalate(t.Context(), Request{
		CaseNumber: "SCS1004",
		Triggers:   []string{TriggerStuckCase},
	})

	require.NoError(t, err)
	assert.Equal(t, "fallback", esc.RuleName)
	assert.Equal(t, "#ops", esc.Channel)
}

func TestEscalateDedupPreCheck(t *testing.T) {
	st := &fakeStore{active: true}
	rec := &fakeRecorder{}
	router := newTestRouter(st, &fakeNotifier{}, rec)

	esc, err := router.Escalate(t.Context(), Request{
		CaseNumber: "SCS1005",
		Triggers:   []string{TriggerToneEscalate},
	})

	require.NoError(t, err)
	assert.Nil(t, esc)
	assert.Empty(t, st.created, "duplicate never reaches the store")
	assert.Contains(t, rec.actions(), "escalation_deduplicated")
}

func TestEscalateDedupRace(t *testing.T) {
	st := &fakeStore{
		createConflicts: 1,
		incumbent: &models.Escalation{
			ID:         "esc-fresh",
			CaseNumber: "SCS1006",
			Status:     models.EscalationStatusPosted,
			Version:    2,
			CreatedAt:  time.Now().UTC().Add(-time.Hour),
		},
	}
	rec := &fakeRecorder{}
	notifier := &fakeNotifier{}
	router := newTestRouter(st, notifier, rec)

	esc, err := router.Escalate(t.Context(), Request{
		CaseNumber: "SCS1006",
		Triggers:   []string{TriggerToneEscalate},
	})

	require.NoError(t, err)
	assert.Nil(t, esc)
	assert.Empty(t, st.superseded, "an incumbent inside the window keeps its slot")
	assert.Empty(t, notifier.posted)
	assert.Contains(t, rec.actions(), "escalation_deduplicated")
}

func TestEscalateSupersedesStaleIncumbent(t *testing.T) {
	st := &fakeStore{
		createConflicts: 1,
		incumbent: &models.Escalation{
			ID:         "esc-stale",
			CaseNumber: "SCS1010",
			Status:     models.EscalationStatusPosted,
			Version:    2,
			CreatedAt:  time.Now().UTC().Add(-25 * time.Hour),
		},
	}
	rec := &fakeRecorder{}
	notifier := &fakeNotifier{ts: "1700.77"}
	router := newTestRouter(st, notifier, rec)

	esc, err := router.Escalate(t.Context(), Request{
		CaseNumber: "SCS1010",
		Triggers:   []string{TriggerStuckCase},
	})

	require.NoError(t, err)
	require.NotNil(t, esc, "a case blocked past the window escalates again")
	assert.Equal(t, models.EscalationStatusPosted, esc.Status)
	require.Len(t, st.superseded, 1)
	assert.Equal(t, "esc-stale", st.superseded[0].ID)
	require.Len(t, notifier.posted, 1)
	assert.Contains(t, rec.actions(), "escalation_superseded")
	assert.Contains(t, rec.actions(), "escalation_posted")
	assert.NotContains(t, rec.actions(), "escalation_deduplicated")
}

func TestEscalateConflictWithVanishedIncumbentRetries(t *testing.T) {
	// The incumbent went terminal between the index conflict and the
	// follow-up read; the retried insert takes the slot.
	st := &fakeStore{createConflicts: 1}
	rec := &fakeRecorder{}
	notifier := &fakeNotifier{}
	router := newTestRouter(st, notifier, rec)

	esc, err := router.Escalate(t.Context(), Request{
		CaseNumber: "SCS1011",
		Triggers:   []string{TriggerToneEscalate},
	})

	require.NoError(t, err)
	require.NotNil(t, esc)
	assert.Empty(t, st.superseded)
	require.Len(t, notifier.posted, 1)
}

func TestEscalateSupersedeRaceLosesToConcurrent(t *testing.T) {
	// Both inserts conflict: the slot freed by the supersede went to a
	// concurrent escalation, so this demand settles as a duplicate.
	st := &fakeStore{
		createConflicts: 2,
		incumbent: &models.Escalation{
			ID:         "esc-stale",
			CaseNumber: "SCS1012",
			Status:     models.EscalationStatusPending,
			Version:    1,
			CreatedAt:  time.Now().UTC().Add(-30 * time.Hour),
		},
	}
	rec := &fakeRecorder{}
	notifier := &fakeNotifier{}
	router := newTestRouter(st, notifier, rec)

	esc, err := router.Escalate(t.Context(), Request{
		CaseNumber: "SCS1012",
		Triggers:   []string{TriggerStuckCase},
	})

	require.NoError(t, err)
	assert.Nil(t, esc)
	require.Len(t, st.superseded, 1)
	assert.Empty(t, notifier.posted)
	assert.Contains(t, rec.actions(), "escalation_deduplicated")
}

func TestEscalatePostFailureCancels(t *testing.T) {
	st := &fakeStore{}
	notifier := &fakeNotifier{err: errors.New("channel_not_found")}
	router := newTestRouter(st, notifier, &fakeRecorder{})

	esc, err := router.Escalate(t.Context(), Request{
		CaseNumber: "SCS1007",
		Triggers:   []string{TriggerToneEscalate},
	})

	require.Error(t, err)
	assert.Nil(t, esc)
	assert.True(t, taxonomy.Retryable(err), "post failure retries after the slot is released")
	require.Len(t, st.cancelled, 1)
	assert.Contains(t, st.cancelled[0].Reason, "slack post failed")
}

func TestEscalateValidatesRequest(t *testing.T) {
	router := newTestRouter(&fakeStore{}, &fakeNotifier{}, &fakeRecorder{})

	_, err := router.Escalate(t.Context(), Request{Triggers: []string{TriggerStuckCase}})
	assert.Equal(t, taxonomy.KindValidation, taxonomy.KindOf(err))

	_, err = router.Escalate(t.Context(), Request{CaseNumber: "SCS1"})
	assert.Equal(t, taxonomy.KindValidation, taxonomy.KindOf(err))
}

func TestAcknowledge(t *testing.T) {
	acked := &models.Escalation{
		ID:             "esc-9",
		CaseNumber:     "SCS1009",
		Status:         models.EscalationStatusAcknowledged,
		AcknowledgedBy: "U123",
	}
	st := &fakeStore{ackResult: acked}
	rec := &fakeRecorder{}
	router := newTestRouter(st, &fakeNotifier{}, rec)

	esc, err := router.Acknowledge(t.Context(), "esc-9", "U123")

	require.NoError(t, err)
	assert.Equal(t, models.EscalationStatusAcknowledged, esc.Status)
	require.Len(t, rec.entries, 1)
	assert.Equal(t, "escalation_acknowledged", rec.entries[0].Action)
	assert.Equal(t, "U123", rec.entries[0].Actor)
}

func TestAcknowledgeError(t *testing.T) {
	st := &fakeStore{ackErr: store.ErrNotFound}
	router := newTestRouter(st, &fakeNotifier{}, &fakeRecorder{})

	_, err := router.Acknowledge(t.Context(), "esc-missing", "U123")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
