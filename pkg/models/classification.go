package models

import (
	"math"
	"time"
)

// TechnicalEntities are concrete artifacts extracted from the case text.
type TechnicalEntities struct {
	IPAddresses []string `json:"ip_addresses,omitempty"`
	Systems     []string `json:"systems,omitempty"`
	Users       []string `json:"users,omitempty"`
	Software    []string `json:"software,omitempty"`
	ErrorCodes  []string `json:"error_codes,omitempty"`
}

// RecordTypeSuggestion is the categorization stage's record-type verdict.
type RecordTypeSuggestion struct {
	Type      RecordType `json:"type" validate:"required"`
	IsMajor   bool       `json:"is_major"`
	Reasoning string     `json:"reasoning,omitempty"`
}

// CategorizationResult is the typed output of the first pipeline stage.
type CategorizationResult struct {
	Category            string               `json:"category" validate:"required"`
	Subcategory         string               `json:"subcategory,omitempty"`
	IncidentCategory    string               `json:"incident_category,omitempty"`
	IncidentSubcategory string               `json:"incident_subcategory,omitempty"`
	Confidence          float64              `json:"confidence" validate:"gte=0,lte=1"`
	Keywords            []string             `json:"keywords,omitempty"`
	TechnicalEntities   TechnicalEntities    `json:"technical_entities"`
	Urgency             Urgency              `json:"urgency" validate:"required"`
	RecordType          RecordTypeSuggestion `json:"record_type_suggestion"`
	ServiceOffering     string               `json:"service_offering,omitempty"`
	ApplicationService  string               `json:"application_service,omitempty"`
}

// ClampConfidence forces confidence into finite [0,1]. NaN and -Inf
// collapse to 0, +Inf to 1.
func (c *CategorizationResult) ClampConfidence() {
	switch {
	case math.IsNaN(c.Confidence):
		c.Confidence = 0
	case c.Confidence < 0:
		c.Confidence = 0
	case c.Confidence > 1:
		c.Confidence = 1
	}
}

// NarrativeResult is the typed output of the second pipeline stage.
type NarrativeResult struct {
	QuickSummary       string   `json:"quick_summary" validate:"required"`
	ImmediateNextSteps []string `json:"immediate_next_steps" validate:"required,min=1,max=5"`
	Tone               Tone     `json:"tone" validate:"required"`
}

// BusinessIntelligence is the typed output of the third pipeline stage.
// Flags are evidence-only: a set flag without a reason is suppressed
// during normalization.
type BusinessIntelligence struct {
	ProjectScopeDetected bool   `json:"project_scope_detected"`
	ProjectScopeReason   string `json:"project_scope_reason,omitempty"`
	ExecutiveVisibility  bool   `json:"executive_visibility"`
	ExecutiveReason      string `json:"executive_visibility_reason,omitempty"`
	ComplianceImpact     bool   `json:"compliance_impact"`
	ComplianceReason     string `json:"compliance_impact_reason,omitempty"`
	FinancialImpact      bool   `json:"financial_impact"`
	FinancialReason      string `json:"financial_impact_reason,omitempty"`
	SystemicIssue        bool   `json:"systemic_issue"`
	SystemicReason       string `json:"systemic_issue_reason,omitempty"`
	OutsideServiceHours  bool   `json:"outside_service_hours"`
	ServiceHoursReason   string `json:"outside_service_hours_reason,omitempty"`
}

// BIFlag is one named flag with its reason, used for rendering and audit.
type BIFlag struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// Normalize suppresses any set flag that carries no reason.
func (bi *BusinessIntelligence) Normalize() {
	if bi.ProjectScopeDetected && bi.ProjectScopeReason == "" {
		bi.ProjectScopeDetected = false
	}
	if bi.ExecutiveVisibility && bi.ExecutiveReason == "" {
		bi.ExecutiveVisibility = false
	}
	if bi.ComplianceImpact && bi.ComplianceReason == "" {
		bi.ComplianceImpact = false
	}
	if bi.FinancialImpact && bi.FinancialReason == "" {
		bi.FinancialImpact = false
	}
	if bi.SystemicIssue && bi.SystemicReason == "" {
		bi.SystemicIssue = false
	}
	if bi.OutsideServiceHours && bi.ServiceHoursReason == "" {
		bi.OutsideServiceHours = false
	}
}

// SetFlags returns the flags that are set, with their reasons.
func (bi *BusinessIntelligence) SetFlags() []BIFlag {
	var flags []BIFlag
	if bi.ProjectScopeDetected {
		flags = append(flags, BIFlag{Name: "project_scope_detected", Reason: bi.ProjectScopeReason})
	}
	if bi.ExecutiveVisibility {
		flags = append(flags, BIFlag{Name: "executive_visibility", Reason: bi.ExecutiveReason})
	}
	if bi.ComplianceImpact {
		flags = append(flags, BIFlag{Name: "compliance_impact", Reason: bi.ComplianceReason})
	}
	if bi.FinancialImpact {
		flags = append(flags, BIFlag{Name: "financial_impact", Reason: bi.FinancialReason})
	}
	if bi.SystemicIssue {
		flags = append(flags, BIFlag{Name: "systemic_issue", Reason: bi.SystemicReason})
	}
	if bi.OutsideServiceHours {
		flags = append(flags, BIFlag{Name: "outside_service_hours", Reason: bi.ServiceHoursReason})
	}
	return flags
}

// Composite score weights. outside_service_hours informs routing but
// does not contribute to the score.
const (
	biWeightCompliance = 0.30
	biWeightExecutive  = 0.25
	biWeightFinancial  = 0.20
	biWeightSystemic   = 0.15
	biWeightProject    = 0.10
)

// CompositeScore is the weighted sum of set flags, in [0,1].
func (bi *BusinessIntelligence) CompositeScore() float64 {
	var score float64
	if bi.ComplianceImpact {
		score += biWeightCompliance
	}
	if bi.ExecutiveVisibility {
		score += biWeightExecutive
	}
	if bi.FinancialImpact {
		score += biWeightFinancial
	}
	if bi.SystemicIssue {
		score += biWeightSystemic
	}
	if bi.ProjectScopeDetected {
		score += biWeightProject
	}
	return score
}

// StageUsage captures per-stage LLM consumption for audit and metrics.
type StageUsage struct {
	Stage        string        `json:"stage"`
	Model        string        `json:"model"`
	InputTokens  int64         `json:"input_tokens"`
	OutputTokens int64         `json:"output_tokens"`
	Duration     time.Duration `json:"duration_ms"`
	Retried      bool          `json:"retried,omitempty"`
}

// ClassificationResult is the combined, validated output of all three
// pipeline stages for one case.
type ClassificationResult struct {
	CaseSysID      string               `json:"case_sys_id"`
	CaseNumber     string               `json:"case_number"`
	Categorization CategorizationResult `json:"categorization"`
	Narrative      NarrativeResult      `json:"narrative"`
	BusinessIntel  BusinessIntelligence `json:"business_intelligence"`
	Usage          []StageUsage         `json:"usage,omitempty"`
	CompletedAt    time.Time            `json:"completed_at"`
}
