package models

// GateStatus is the lifecycle state of a quality gate.
type GateStatus string

const (
	GateStatusNew                GateStatus = "NEW"
	GateStatusApproved           GateStatus = "APPROVED"
	GateStatusRejected           GateStatus = "REJECTED"
	GateStatusClarificationNeeds GateStatus = "CLARIFICATION_NEEDED"
	GateStatusExpired            GateStatus = "EXPIRED"
	GateStatusBlocked            GateStatus = "BLOCKED"
)

// IsValid checks if the gate status is valid
func (s GateStatus) IsValid() bool {
	switch s {
	case GateStatusNew, GateStatusApproved, GateStatusRejected,
		GateStatusClarificationNeeds, GateStatusExpired, GateStatusBlocked:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transition is allowed.
func (s GateStatus) IsTerminal() bool {
	return s == GateStatusApproved || s == GateStatusRejected || s == GateStatusExpired
}

// gateTransitions is the directed graph of allowed status changes.
// NEW fans out to the three verdicts; CLARIFICATION_NEEDED resolves,
// blocks, or expires; BLOCKED is released only by supervisor review.
var gateTransitions = map[GateStatus][]GateStatus{
	GateStatusNew:                {GateStatusApproved, GateStatusClarificationNeeds, GateStatusBlocked},
	GateStatusClarificationNeeds: {GateStatusApproved, GateStatusBlocked, GateStatusExpired},
	GateStatusBlocked:            {GateStatusApproved, GateStatusRejected},
}

// CanTransitionTo reports whether s -> next is an allowed gate transition.
func (s GateStatus) CanTransitionTo(next GateStatus) bool {
	for _, allowed := range gateTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// SessionStatus is the lifecycle state of a clarification session.
type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "ACTIVE"
	SessionStatusResponded SessionStatus = "RESPONDED"
	SessionStatusResolved  SessionStatus = "RESOLVED"
	SessionStatusExpired   SessionStatus = "EXPIRED"
	SessionStatusCancelled SessionStatus = "CANCELLED"
	SessionStatusResumed   SessionStatus = "RESUMED"
)

// IsValid checks if the session status is valid
func (s SessionStatus) IsValid() bool {
	switch s {
	case SessionStatusActive, SessionStatusResponded, SessionStatusResolved,
		SessionStatusExpired, SessionStatusCancelled, SessionStatusResumed:
		return true
	default:
		return false
	}
}

var sessionTransitions = map[SessionStatus][]SessionStatus{
	SessionStatusActive:    {SessionStatusResponded, SessionStatusExpired, SessionStatusCancelled},
	SessionStatusResponded: {SessionStatusResolved, SessionStatusCancelled},
	SessionStatusResolved:  {SessionStatusResumed},
}

// CanTransitionTo reports whether s -> next is an allowed session transition.
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	for _, allowed := range sessionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// EscalationStatus is the lifecycle state of an escalation.
type EscalationStatus string

const (
	EscalationStatusPending      EscalationStatus = "PENDING"
	EscalationStatusPosted       EscalationStatus = "POSTED"
	EscalationStatusAcknowledged EscalationStatus = "ACKNOWLEDGED"
	EscalationStatusCancelled    EscalationStatus = "CANCELLED"
)

// IsValid checks if the escalation status is valid
func (s EscalationStatus) IsValid() bool {
	switch s {
	case EscalationStatusPending, EscalationStatusPosted,
		EscalationStatusAcknowledged, EscalationStatusCancelled:
		return true
	default:
		return false
	}
}

// IsActive reports whether the escalation still counts against the
// one-active-per-case-number window.
func (s EscalationStatus) IsActive() bool {
	return s == EscalationStatusPending || s == EscalationStatusPosted
}

// Urgency is the classified urgency of a case.
type Urgency string

const (
	UrgencyLow      Urgency = "Low"
	UrgencyMedium   Urgency = "Medium"
	UrgencyHigh     Urgency = "High"
	UrgencyCritical Urgency = "Critical"
)

// IsValid checks if the urgency is valid
func (u Urgency) IsValid() bool {
	return u == UrgencyLow || u == UrgencyMedium || u == UrgencyHigh || u == UrgencyCritical
}

// RecordType is the suggested ServiceNow record type for a case.
type RecordType string

const (
	RecordTypeProblem  RecordType = "Problem"
	RecordTypeIncident RecordType = "Incident"
	RecordTypeChange   RecordType = "Change"
	RecordTypeCase     RecordType = "Case"
)

// IsValid checks if the record type is valid
func (t RecordType) IsValid() bool {
	return t == RecordTypeProblem || t == RecordTypeIncident || t == RecordTypeChange || t == RecordTypeCase
}

// Tone is the narrative stage's stance toward the case.
type Tone string

const (
	ToneConfident Tone = "confident"
	ToneCautious  Tone = "cautious"
	ToneEscalate  Tone = "escalate"
)

// IsValid checks if the tone is valid
func (t Tone) IsValid() bool {
	return t == ToneConfident || t == ToneCautious || t == ToneEscalate
}

// RiskLevel grades a gate verdict for reviewers.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// IsValid checks if the risk level is valid
func (r RiskLevel) IsValid() bool {
	return r == RiskLow || r == RiskMedium || r == RiskHigh
}

// InteractionType partitions muscle-memory exemplars by the kind of
// decision they capture.
type InteractionType string

const (
	InteractionCategorization InteractionType = "categorization"
	InteractionClarification  InteractionType = "clarification"
	InteractionEscalation     InteractionType = "escalation"
	InteractionResolution     InteractionType = "resolution"
)
