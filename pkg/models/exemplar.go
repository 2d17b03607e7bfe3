package models

import (
	"database/sql/driver"
	"time"
)

// QualitySignals are the inputs to an exemplar's quality score. Each
// signal is in [0,1]; absent signals default to zero except the
// cold-start component, which is always neutral.
type QualitySignals struct {
	SupervisorApproved float64 `json:"supervisor_approved"`
	OutcomeSuccess     float64 `json:"outcome_success"`
	HumanFeedback      float64 `json:"human_feedback"`
}

// Value implements driver.Valuer.
func (s QualitySignals) Value() (driver.Value, error) { return jsonbValue(s) }

// Scan implements sql.Scanner.
func (s *QualitySignals) Scan(src any) error { return jsonbScan(src, s) }

// Quality score weights. The cold-start component keeps fresh exemplars
// retrievable before any human signal lands.
const (
	qualityWeightSupervisor = 0.4
	qualityWeightOutcome    = 0.2
	qualityWeightFeedback   = 0.2
	qualityWeightColdStart  = 0.2
	qualityColdStartNeutral = 0.5
)

// Score computes the weighted quality score for the signal bundle.
func (s QualitySignals) Score() float64 {
	return qualityWeightSupervisor*s.SupervisorApproved +
		qualityWeightOutcome*s.OutcomeSuccess +
		qualityWeightFeedback*s.HumanFeedback +
		qualityWeightColdStart*qualityColdStartNeutral
}

// Exemplar is a muscle-memory record: a past case+action snapshot with
// its embedding, retrieved to bias current classification. No two
// exemplars of the same interaction type coexist at cosine similarity
// >= 0.95; the writer updates the incumbent instead.
type Exemplar struct {
	ID              string          `json:"id" db:"id"`
	CaseNumber      string          `json:"case_number" db:"case_number"`
	InteractionType InteractionType `json:"interaction_type" db:"interaction_type"`
	InputContext    string          `json:"input_context" db:"input_context"`
	ActionTaken     string          `json:"action_taken" db:"action_taken"`
	Outcome         string          `json:"outcome,omitempty" db:"outcome"`
	Embedding       []float32       `json:"-" db:"-"`
	QualityScore    float64         `json:"quality_score" db:"quality_score"`
	Signals         QualitySignals  `json:"signals" db:"signals"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
}
