package models

import (
	"database/sql/driver"
	"time"
)

// GateDecision is the decision payload persisted with a quality gate:
// the classification that produced the verdict plus the validator's
// findings.
type GateDecision struct {
	Classification  *ClassificationResult `json:"classification,omitempty"`
	Errors          []string              `json:"errors,omitempty"`
	Warnings        []string              `json:"warnings,omitempty"`
	Recommendations []string              `json:"recommendations,omitempty"`
	BIScore         float64               `json:"bi_score"`
	Confidence      float64               `json:"confidence"`
	ForceEscalation bool                  `json:"force_escalation,omitempty"`
	ForceReview     bool                  `json:"force_review,omitempty"`
}

// Value implements driver.Valuer.
func (d GateDecision) Value() (driver.Value, error) { return jsonbValue(d) }

// Scan implements sql.Scanner.
func (d *GateDecision) Scan(src any) error { return jsonbScan(src, d) }

// QualityGate is the validator's persisted verdict for one case event.
// Version guards concurrent transitions; a stale update loses.
type QualityGate struct {
	ID              string       `json:"id" db:"id"`
	CaseSysID       string       `json:"case_sys_id" db:"case_sys_id"`
	CaseNumber      string       `json:"case_number" db:"case_number"`
	AssignmentGroup string       `json:"assignment_group,omitempty" db:"assignment_group"`
	Status          GateStatus   `json:"status" db:"status"`
	Blocked         bool         `json:"blocked" db:"blocked"`
	RiskLevel       RiskLevel    `json:"risk_level" db:"risk_level"`
	ReviewerID      string       `json:"reviewer_id,omitempty" db:"reviewer_id"`
	ReviewReason    string       `json:"review_reason,omitempty" db:"review_reason"`
	Decision        GateDecision `json:"decision" db:"decision"`
	Version         int64        `json:"version" db:"version"`
	CreatedAt       time.Time    `json:"created_at" db:"created_at"`
	ReviewedAt      *time.Time   `json:"reviewed_at,omitempty" db:"reviewed_at"`
	UpdatedAt       time.Time    `json:"updated_at" db:"updated_at"`
}
