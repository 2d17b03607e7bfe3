package models

import "time"

// Audit entity types.
const (
	AuditEntityGate         = "gate"
	AuditEntitySession      = "session"
	AuditEntityEscalation   = "escalation"
	AuditEntityCase         = "case"
	AuditEntityExemplar     = "exemplar"
	AuditEntityJob          = "job"
	AuditEntityIntake       = "intake"
	AuditEntityRepository   = "repository"
	AuditEntityKB           = "kb"
	AuditEntityChangeRecord = "change"
)

// AuditEntry is one append-only record of a core decision. Seq is the
// insertion-order tiebreaker when PerformedAt collides.
type AuditEntry struct {
	Seq         int64     `json:"seq" db:"seq"`
	EntityType  string    `json:"entity_type" db:"entity_type"`
	EntityID    string    `json:"entity_id" db:"entity_id"`
	Action      string    `json:"action" db:"action"`
	PriorState  string    `json:"prior_state,omitempty" db:"prior_state"`
	NewState    string    `json:"new_state,omitempty" db:"new_state"`
	Reason      string    `json:"reason,omitempty" db:"reason"`
	Actor       string    `json:"actor" db:"actor"`
	PerformedAt time.Time `json:"performed_at" db:"performed_at"`
	Metadata    JSONMap   `json:"metadata,omitempty" db:"metadata"`
}
