// Package validator is the deterministic rule engine that inspects a
// completed classification and produces the quality-gate verdict. It
// never calls out; everything it needs is in the classification and the
// configured thresholds and category sets.
package validator

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/caseops/casepilot/pkg/config"
	"github.com/caseops/casepilot/pkg/models"
)

// Question ids are fixed so clarification responses can address them
// across restarts.
const (
	QuestionHRConfirmation     = "hr_confirmation"
	QuestionHighRiskCompliance = "high_risk_compliance"
)

// confidencePenalty scales overall confidence down when the
// classification lands under the configured threshold.
const confidencePenalty = 0.8

// Verdict is the engine's decision for one classification run.
type Verdict struct {
	Status          models.GateStatus
	RiskLevel       models.RiskLevel
	Errors          []string
	Warnings        []string
	Recommendations []string
	Questions       models.Questions
	BIScore         float64
	Confidence      float64
	ForceEscalation bool
	ForceReview     bool
}

// Decision converts the verdict into the gate's persisted payload.
func (v *Verdict) Decision(result *models.ClassificationResult) *models.GateDecision {
	return &models.GateDecision{
		Classification:  result,
		Errors:          v.Errors,
		Warnings:        v.Warnings,
		Recommendations: v.Recommendations,
		BIScore:         v.BIScore,
		Confidence:      v.Confidence,
		ForceEscalation: v.ForceEscalation,
		ForceReview:     v.ForceReview,
	}
}

// Engine evaluates classifications against the configured rule set.
type Engine struct {
	thresholds *config.Thresholds
	categories *config.Categories
	logger     *slog.Logger
}

// NewEngine creates an engine. Nil sections fall back to built-in
// defaults.
func NewEngine(thresholds *config.Thresholds, categories *config.Categories) *Engine {
	if thresholds == nil {
		thresholds = config.DefaultThresholds()
	}
	if categories == nil {
		categories = config.DefaultCategories()
	}
	return &Engine{
		thresholds: thresholds,
		categories: categories,
		logger:     slog.Default().With("component", "validator"),
	}
}

// Evaluate runs every check in order and derives the gate status:
// errors block, open questions need clarification, anything else is
// approved.
func (e *Engine) Evaluate(result *models.ClassificationResult) *Verdict {
	return e.evaluate(result, nil)
}

// Reevaluate re-runs the checks with clarification responses applied.
// A question with a non-empty answer no longer holds the gate open.
func (e *Engine) Reevaluate(result *models.ClassificationResult, responses models.Responses) *Verdict {
	return e.evaluate(result, responses)
}

func (e *Engine) evaluate(result *models.ClassificationResult, responses models.Responses) *Verdict {
	verdict := &Verdict{
		BIScore:    result.BusinessIntel.CompositeScore(),
		Confidence: result.Categorization.Confidence,
	}

	e.checkBIConsistency(verdict, result)
	e.checkRecordType(verdict, result)
	e.checkCategories(verdict, result)
	e.checkConfidence(verdict, result)

	verdict.Questions = dropAnswered(verdict.Questions, responses)
	e.finalize(verdict)

	e.logger.Debug("Classification evaluated",
		"case_number", result.CaseNumber,
		"status", verdict.Status,
		"errors", len(verdict.Errors),
		"warnings", len(verdict.Warnings),
		"questions", len(verdict.Questions),
		"bi_score", verdict.BIScore)

	return verdict
}

// checkBIConsistency cross-checks the business-intelligence flags
// against the categorization: compliance impact demands an Incident
// record, a non-BAU category demands escalation, and executive
// visibility demands a human reviewer.
func (e *Engine) checkBIConsistency(v *Verdict, result *models.ClassificationResult) {
	bi := &result.BusinessIntel
	cat := &result.Categorization

	if bi.ComplianceImpact && cat.RecordType.Type != models.RecordTypeIncident {
		v.Errors = append(v.Errors, fmt.Sprintf(
			"compliance impact requires an Incident record, classification suggested %s", cat.RecordType.Type))
		v.Recommendations = append(v.Recommendations,
			"Reclassify as an Incident before routing; compliance-impacting cases must follow the incident process")
	}

	if e.isNonBAU(cat.Category) {
		v.ForceEscalation = true
		v.Recommendations = append(v.Recommendations, fmt.Sprintf(
			"Category %q is outside business-as-usual; an escalation will be raised", cat.Category))
		if len(bi.SetFlags()) == 0 {
			v.Errors = append(v.Errors, fmt.Sprintf(
				"non-BAU category %q has no supporting business-intelligence evidence to route an escalation", cat.Category))
		}
	}

	if bi.ExecutiveVisibility {
		v.ForceReview = true
		v.Recommendations = append(v.Recommendations,
			"Executive visibility flagged; assign a senior engineer to review before first response")
	}
}

// checkRecordType flags a systemic issue classified as anything other
// than a Problem record. Soft finding: engineers often intentionally
// keep the first report an Incident.
func (e *Engine) checkRecordType(v *Verdict, result *models.ClassificationResult) {
	if result.BusinessIntel.SystemicIssue && result.Categorization.RecordType.Type != models.RecordTypeProblem {
		v.Warnings = append(v.Warnings, fmt.Sprintf(
			"systemic issue flagged but record type is %s", result.Categorization.RecordType.Type))
		v.Recommendations = append(v.Recommendations,
			"Consider opening a Problem record for the underlying fault")
	}
}

// checkCategories validates the category against the configured
// HR-required and high-risk sets. Both findings are soft and derive a
// clarification question.
func (e *Engine) checkCategories(v *Verdict, result *models.ClassificationResult) {
	category := result.Categorization.Category

	if containsFold(e.categories.HRRequired, category) {
		v.Warnings = append(v.Warnings, fmt.Sprintf("category %q requires HR involvement", category))
		v.Questions = append(v.Questions, models.Question{
			ID: QuestionHRConfirmation,
			Prompt: fmt.Sprintf(
				"This case is categorized as %q, which requires HR involvement. Has HR been engaged? Reference the HR ticket if one exists.", category),
			Required: true,
		})
	}

	if containsFold(e.categories.HighRisk, category) && !result.BusinessIntel.ComplianceImpact {
		v.Warnings = append(v.Warnings, fmt.Sprintf(
			"high-risk category %q without a compliance impact flag", category))
		v.Questions = append(v.Questions, models.Question{
			ID: QuestionHighRiskCompliance,
			Prompt: fmt.Sprintf(
				"Category %q is high risk but no compliance impact was identified. Does this case need a compliance review?", category),
			Required: true,
		})
	}
}

// checkConfidence enforces the classification confidence threshold.
// Sub-threshold lowers the overall confidence and warns; on a
// compliance-sensitive case it blocks outright.
func (e *Engine) checkConfidence(v *Verdict, result *models.ClassificationResult) {
	threshold := e.thresholds.ClassificationConfidence
	if result.Categorization.Confidence >= threshold {
		return
	}

	v.Confidence = result.Categorization.Confidence * confidencePenalty
	v.Warnings = append(v.Warnings, fmt.Sprintf(
		"classification confidence %.2f is below the %.2f threshold", result.Categorization.Confidence, threshold))
	v.Recommendations = append(v.Recommendations,
		"Verify the category and urgency manually before acting on automated suggestions")

	complianceSensitive := result.BusinessIntel.ComplianceImpact ||
		containsFold(e.categories.HighRisk, result.Categorization.Category)
	if complianceSensitive {
		v.Errors = append(v.Errors, fmt.Sprintf(
			"confidence %.2f is below threshold on a compliance-sensitive case", result.Categorization.Confidence))
	}
}

// finalize derives status and risk from the accumulated findings.
func (e *Engine) finalize(v *Verdict) {
	switch {
	case len(v.Errors) > 0:
		v.Status = models.GateStatusBlocked
		v.RiskLevel = models.RiskHigh
	case len(v.Questions) > 0:
		v.Status = models.GateStatusClarificationNeeds
		v.RiskLevel = models.RiskMedium
	default:
		v.Status = models.GateStatusApproved
		if v.ForceReview {
			v.RiskLevel = models.RiskMedium
		} else {
			v.RiskLevel = models.RiskLow
		}
	}
}

func (e *Engine) isNonBAU(category string) bool {
	return containsFold(e.categories.NonBAU, category)
}

func dropAnswered(questions models.Questions, responses models.Responses) models.Questions {
	if len(responses) == 0 || len(questions) == 0 {
		return questions
	}
	remaining := questions[:0]
	for _, q := range questions {
		if strings.TrimSpace(responses[q.ID]) == "" {
			remaining = append(remaining, q)
		}
	}
	if len(remaining) == 0 {
		return nil
	}
	return remaining
}

func containsFold(set []string, value string) bool {
	for _, s := range set {
		if strings.EqualFold(s, value) {
			return true
		}
	}
	return false
}
