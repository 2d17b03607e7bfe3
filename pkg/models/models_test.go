package models

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateStatusTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    GateStatus
		to      GateStatus
		allowed bool
	}{
		{"new to approved", GateStatusNew, GateStatusApproved, true},
		{"new to clarification", GateStatusNew, GateStatusClarificationNeeds, true},
		{"new to blocked", GateStatusNew, GateStatusBlocked, true},
		{"new to rejected", GateStatusNew, GateStatusRejected, false},
		{"new to expired", GateStatusNew, GateStatusExpired, false},
		{"clarification to approved", GateStatusClarificationNeeds, GateStatusApproved, true},
		{"clarification to blocked", GateStatusClarificationNeeds, GateStatusBlocked, true},
		{"clarification to expired", GateStatusClarificationNeeds, GateStatusExpired, true},
		{"clarification to rejected", GateStatusClarificationNeeds, GateStatusRejected, false},
		{"blocked to approved", GateStatusBlocked, GateStatusApproved, true},
		{"blocked to rejected", GateStatusBlocked, GateStatusRejected, true},
		{"blocked to expired", GateStatusBlocked, GateStatusExpired, false},
		{"approved is terminal", GateStatusApproved, GateStatusBlocked, false},
		{"rejected is terminal", GateStatusRejected, GateStatusApproved, false},
		{"expired is terminal", GateStatusExpired, GateStatusApproved, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestGateStatusTerminal(t *testing.T) {
	assert.True(t, GateStatusApproved.IsTerminal())
	assert.True(t, GateStatusRejected.IsTerminal())
	assert.True(t, GateStatusExpired.IsTerminal())
	assert.False(t, GateStatusNew.IsTerminal())
	assert.False(t, GateStatusBlocked.IsTerminal())
	assert.False(t, GateStatusClarificationNeeds.IsTerminal())
}

func TestSessionStatusTransitions(t *testing.T) {
	assert.True(t, SessionStatusActive.CanTransitionTo(SessionStatusResponded))
	assert.True(t, SessionStatusActive.CanTransitionTo(SessionStatusExpired))
	assert.True(t, SessionStatusActive.CanTransitionTo(SessionStatusCancelled))
	assert.True(t, SessionStatusResponded.CanTransitionTo(SessionStatusResolved))
	assert.True(t, SessionStatusResolved.CanTransitionTo(SessionStatusResumed))

	// RESOLVED is only reachable from RESPONDED, EXPIRED only from ACTIVE.
	assert.False(t, SessionStatusActive.CanTransitionTo(SessionStatusResolved))
	assert.False(t, SessionStatusResponded.CanTransitionTo(SessionStatusExpired))
	assert.False(t, SessionStatusExpired.CanTransitionTo(SessionStatusActive))
	assert.False(t, SessionStatusCancelled.CanTransitionTo(SessionStatusResumed))
}

func TestBusinessIntelligenceNormalize(t *testing.T) {
	bi := BusinessIntelligence{
		ComplianceImpact:     true,
		ComplianceReason:     "PHI access mentioned",
		ExecutiveVisibility:  true, // no reason: must be suppressed
		SystemicIssue:        true,
		SystemicReason:       "three sites affected",
		ProjectScopeDetected: true, // no reason: must be suppressed
	}
	bi.Normalize()

	assert.True(t, bi.ComplianceImpact)
	assert.True(t, bi.SystemicIssue)
	assert.False(t, bi.ExecutiveVisibility)
	assert.False(t, bi.ProjectScopeDetected)

	flags := bi.SetFlags()
	require.Len(t, flags, 2)
	assert.Equal(t, "compliance_impact", flags[0].Name)
	assert.Equal(t, "PHI access mentioned", flags[0].Reason)
	assert.Equal(t, "systemic_issue", flags[1].Name)
}

func TestBusinessIntelligenceCompositeScore(t *testing.T) {
	bi := BusinessIntelligence{}
	assert.Zero(t, bi.CompositeScore())

	bi.ComplianceImpact = true
	assert.InDelta(t, 0.30, bi.CompositeScore(), 1e-9)

	bi.ExecutiveVisibility = true
	bi.FinancialImpact = true
	bi.SystemicIssue = true
	bi.ProjectScopeDetected = true
	assert.InDelta(t, 1.0, bi.CompositeScore(), 1e-9)

	// outside_service_hours never contributes to the score
	bi = BusinessIntelligence{OutsideServiceHours: true, ServiceHoursReason: "2am"}
	assert.Zero(t, bi.CompositeScore())
}

func TestClampConfidence(t *testing.T) {
	tests := []struct {
		name string
		in   float64
		want float64
	}{
		{"nan collapses to zero", math.NaN(), 0},
		{"negative clamps to zero", -0.4, 0},
		{"above one clamps to one", 1.7, 1},
		{"positive infinity clamps to one", math.Inf(1), 1},
		{"negative infinity clamps to zero", math.Inf(-1), 0},
		{"in range unchanged", 0.72, 0.72},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := CategorizationResult{Confidence: tt.in}
			c.ClampConfidence()
			assert.Equal(t, tt.want, c.Confidence)
		})
	}
}

func TestQualitySignalsScore(t *testing.T) {
	// cold start: no signals, only the neutral component
	assert.InDelta(t, 0.1, QualitySignals{}.Score(), 1e-9)

	full := QualitySignals{SupervisorApproved: 1, OutcomeSuccess: 1, HumanFeedback: 1}
	assert.InDelta(t, 0.9, full.Score(), 1e-9)

	supervisorOnly := QualitySignals{SupervisorApproved: 1}
	assert.InDelta(t, 0.5, supervisorOnly.Score(), 1e-9)
}

func TestClarificationSessionQuestions(t *testing.T) {
	s := &ClarificationSession{
		Questions: Questions{
			{ID: "q1", Prompt: "Who approved this?", Required: true},
			{ID: "q2", Prompt: "Which share?", Required: true},
			{ID: "q3", Prompt: "Anything else?", Required: false},
		},
		Responses: Responses{"q1": "Dana in HR"},
	}

	assert.True(t, s.HasQuestion("q2"))
	assert.False(t, s.HasQuestion("q9"))
	assert.False(t, s.AllRequiredAnswered())

	open := s.UnansweredRequired()
	require.Len(t, open, 1)
	assert.Equal(t, "q2", open[0].ID)

	s.Responses["q2"] = "\\\\fs01\\finance"
	assert.True(t, s.AllRequiredAnswered())
	assert.Empty(t, s.UnansweredRequired())
}

func TestEscalationStatusActive(t *testing.T) {
	assert.True(t, EscalationStatusPending.IsActive())
	assert.True(t, EscalationStatusPosted.IsActive())
	assert.False(t, EscalationStatusAcknowledged.IsActive())
	assert.False(t, EscalationStatusCancelled.IsActive())
}
