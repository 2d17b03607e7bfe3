package models

import (
	"database/sql/driver"
	"time"
)

// Triggers is the jsonb-backed list of reasons an escalation fired
// (BI flag names, "non_bau_category", "tone_escalate", "stuck_case").
type Triggers []string

// Value implements driver.Valuer.
func (t Triggers) Value() (driver.Value, error) { return jsonbValue(t) }

// Scan implements sql.Scanner.
func (t *Triggers) Scan(src any) error { return jsonbScan(src, t) }

// Escalation is a routed, deduplicated notification to a Slack channel.
// At most one PENDING/POSTED escalation exists per case number in any
// 24-hour window; the store's partial unique index backs that up.
type Escalation struct {
	ID             string           `json:"id" db:"id"`
	CaseNumber     string           `json:"case_number" db:"case_number"`
	CaseSysID      string           `json:"case_sys_id,omitempty" db:"case_sys_id"`
	Triggers       Triggers         `json:"triggers" db:"triggers"`
	BIScore        float64          `json:"bi_score" db:"bi_score"`
	RuleName       string           `json:"rule_name" db:"rule_name"`
	Channel        string           `json:"channel" db:"channel"`
	Reason         string           `json:"reason,omitempty" db:"reason"`
	MessageChannel string           `json:"message_channel,omitempty" db:"message_channel"`
	MessageTS      string           `json:"message_ts,omitempty" db:"message_ts"`
	Status         EscalationStatus `json:"status" db:"status"`
	AcknowledgedBy string           `json:"acknowledged_by,omitempty" db:"acknowledged_by"`
	Version        int64            `json:"version" db:"version"`
	CreatedAt      time.Time        `json:"created_at" db:"created_at"`
	AcknowledgedAt *time.Time       `json:"acknowledged_at,omitempty" db:"acknowledged_at"`
	UpdatedAt      time.Time        `json:"updated_at" db:"updated_at"`
}
