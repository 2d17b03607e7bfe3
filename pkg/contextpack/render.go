package contextpack

import (
	"fmt"
	"strings"

	"github.com/caseops/casepilot/pkg/models"
)

// Prompt section headers, in render order.
const (
	headerCaseDetails  = "CASE DETAILS"
	headerBusiness     = "BUSINESS CONTEXT"
	headerSimilar      = "SIMILAR CASES"
	headerKB           = "KNOWLEDGE BASE"
	headerMuscleMemory = "MUSCLE MEMORY"
)

// Render produces the shared context prompt. It is a pure concatenation
// of the present sections in fixed order, so adding or removing a
// section changes the output length by exactly that section's length.
func Render(pack *models.ContextPack) string {
	if pack == nil {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(renderCase(&pack.Case))
	if pack.Business != nil {
		sb.WriteString(renderBusiness(pack.Business))
	}
	if len(pack.SimilarCases) > 0 {
		sb.WriteString(renderSimilar(pack.SimilarCases))
	}
	if len(pack.KBArticles) > 0 {
		sb.WriteString(renderKB(pack.KBArticles))
	}
	if len(pack.Exemplars) > 0 {
		sb.WriteString(renderExemplars(pack.Exemplars))
	}
	return sb.String()
}

func renderCase(kase *models.Case) string {
	var sb strings.Builder
	sb.WriteString(headerCaseDetails + "\n")
	sb.WriteString("Number: " + kase.Number + "\n")
	sb.WriteString("Short description: " + kase.ShortDescription + "\n")
	writeField(&sb, "Description", kase.Description)
	writeField(&sb, "Priority", kase.Priority)
	writeField(&sb, "Urgency", kase.Urgency)
	writeField(&sb, "Company", kase.Company)
	writeField(&sb, "Category", kase.Category)
	writeField(&sb, "State", kase.State)
	writeField(&sb, "Assignment group", kase.AssignmentGroup)
	sb.WriteString("\n")
	return sb.String()
}

func renderBusiness(bc *models.BusinessContext) string {
	var sb strings.Builder
	sb.WriteString(headerBusiness + "\n")
	writeField(&sb, "Account tier", bc.AccountTier)
	writeField(&sb, "Service hours", bc.ServiceHours)
	if bc.EscalationVIP {
		sb.WriteString("VIP escalation: yes\n")
	}
	writeField(&sb, "Key contacts", strings.Join(bc.KeyContacts, ", "))
	writeField(&sb, "Critical CIs", strings.Join(bc.CriticalCIs, ", "))
	writeField(&sb, "Notes", bc.Notes)
	sb.WriteString("\n")
	return sb.String()
}

func renderSimilar(cases []models.SimilarCase) string {
	var sb strings.Builder
	sb.WriteString(headerSimilar + "\n")
	for i, sc := range cases {
		line := fmt.Sprintf("%d. %s: %s", i+1, sc.Number, sc.ShortDescription)
		if sc.Category != "" {
			line += " (" + sc.Category + ")"
		}
		sb.WriteString(line + "\n")
		if sc.Resolution != "" {
			sb.WriteString("   Resolution: " + sc.Resolution + "\n")
		}
	}
	sb.WriteString("\n")
	return sb.String()
}

func renderKB(articles []models.KBArticle) string {
	var sb strings.Builder
	sb.WriteString(headerKB + "\n")
	for i, a := range articles {
		sb.WriteString(fmt.Sprintf("%d. %s: %s\n", i+1, a.Number, a.Title))
		if a.Snippet != "" {
			sb.WriteString("   " + a.Snippet + "\n")
		}
	}
	sb.WriteString("\n")
	return sb.String()
}

func renderExemplars(exemplars []models.Exemplar) string {
	var sb strings.Builder
	sb.WriteString(headerMuscleMemory + "\n")
	for i, ex := range exemplars {
		sb.WriteString(fmt.Sprintf("%d. (%s, quality %.2f) %s\n", i+1, ex.InteractionType, ex.QualityScore, ex.InputContext))
		if ex.ActionTaken != "" {
			sb.WriteString("   Action: " + ex.ActionTaken + "\n")
		}
		if ex.Outcome != "" {
			sb.WriteString("   Outcome: " + ex.Outcome + "\n")
		}
	}
	sb.WriteString("\n")
	return sb.String()
}

func writeField(sb *strings.Builder, label, value string) {
	if value != "" {
		sb.WriteString(label + ": " + value + "\n")
	}
}
