// Package overview builds and validates the five-section case overview
// artifact shared by ServiceNow work notes and Slack posts. The section
// order is fixed: Summary, Current State, Latest Activity, Context,
// References.
package overview

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/caseops/casepilot/pkg/models"
)

var sectionTitles = [5]string{
	"Summary",
	"Current State",
	"Latest Activity",
	"Context",
	"References",
}

// Field queries shorter than this are exempt from section validation.
const fieldQueryLimit = 80

// Section is one titled block of an overview artifact.
type Section struct {
	Title string
	Body  string
}

// Artifact is a structured case overview. Render produces the plain-text
// form for work notes; Sections feeds the Slack block builder.
type Artifact struct {
	Summary        string
	CurrentState   string
	LatestActivity string
	Context        string
	References     []string
}

// Input bundles everything the builder can draw on. Only Case is
// required; absent enrichment leaves a placeholder line so the section
// headers always render.
type Input struct {
	Case       models.Case
	Result     *models.ClassificationResult
	Business   *models.BusinessContext
	KBArticles []models.KBArticle
	Similar    []models.SimilarCase
	GateStatus models.GateStatus
	DecidedAt  time.Time
}

// Build assembles the overview artifact for a case.
func Build(in Input) *Artifact {
	a := &Artifact{}

	a.Summary = in.Case.ShortDescription
	if in.Result != nil && in.Result.Narrative.QuickSummary != "" {
		a.Summary = in.Result.Narrative.QuickSummary
	}
	if a.Summary == "" {
		a.Summary = fmt.Sprintf("Case %s intake review", in.Case.Number)
	}

	a.CurrentState = buildCurrentState(in)
	a.LatestActivity = buildLatestActivity(in)
	a.Context = buildContext(in)
	a.References = buildReferences(in)

	return a
}

func buildCurrentState(in Input) string {
	var lines []string
	if in.Case.State != "" {
		lines = append(lines, "State: "+in.Case.State)
	}
	if in.Case.Priority != "" {
		lines = append(lines, "Priority: "+in.Case.Priority)
	}
	if in.Case.AssignmentGroup != "" {
		lines = append(lines, "Assignment group: "+in.Case.AssignmentGroup)
	}
	if in.Result != nil {
		cat := in.Result.Categorization
		category := cat.Category
		if cat.Subcategory != "" {
			category += " / " + cat.Subcategory
		}
		lines = append(lines, fmt.Sprintf("Suggested category: %s (confidence %.2f)", category, cat.Confidence))
		if cat.RecordType.Type != "" {
			lines = append(lines, "Suggested record type: "+string(cat.RecordType.Type))
		}
	}
	if in.GateStatus != "" {
		lines = append(lines, "Intake review: "+string(in.GateStatus))
	}
	if len(lines) == 0 {
		lines = append(lines, "No state details available.")
	}
	return strings.Join(lines, "\n")
}

func buildLatestActivity(in Input) string {
	var lines []string
	if !in.DecidedAt.IsZero() {
		lines = append(lines, "Automated intake review completed "+in.DecidedAt.UTC().Format(time.RFC3339))
	}
	if in.Result != nil && len(in.Result.Narrative.ImmediateNextSteps) > 0 {
		lines = append(lines, "Next steps:")
		for i, step := range in.Result.Narrative.ImmediateNextSteps {
			lines = append(lines, fmt.Sprintf("%d. %s", i+1, step))
		}
	}
	if len(lines) == 0 {
		lines = append(lines, "Awaiting first review.")
	}
	return strings.Join(lines, "\n")
}

func buildContext(in Input) string {
	var lines []string
	if in.Case.Company != "" {
		lines = append(lines, "Company: "+in.Case.Company)
	}
	if in.Business != nil {
		if in.Business.AccountTier != "" {
			lines = append(lines, "Account tier: "+in.Business.AccountTier)
		}
		if in.Business.ServiceHours != "" {
			lines = append(lines, "Service hours: "+in.Business.ServiceHours)
		}
		if in.Business.EscalationVIP {
			lines = append(lines, "Escalation VIP account")
		}
	}
	if in.Result != nil {
		for _, flag := range in.Result.BusinessIntel.SetFlags() {
			lines = append(lines, fmt.Sprintf("Flag %s: %s", flag.Name, flag.Reason))
		}
	}
	if len(lines) == 0 {
		lines = append(lines, "No business context on file.")
	}
	return strings.Join(lines, "\n")
}

func buildReferences(in Input) []string {
	var refs []string
	for _, kb := range in.KBArticles {
		ref := kb.Number + ": " + kb.Title
		if kb.URL != "" {
			ref += " (" + kb.URL + ")"
		}
		refs = append(refs, ref)
	}
	for _, sc := range in.Similar {
		refs = append(refs, "Similar case "+sc.Number+": "+sc.ShortDescription)
	}
	return refs
}

// Sections returns the artifact in canonical order, one entry per
// section, always five.
func (a *Artifact) Sections() []Section {
	refs := "None."
	if len(a.References) > 0 {
		var b strings.Builder
		for i, ref := range a.References {
			if i > 0 {
				b.WriteString("\n")
			}
			b.WriteString("- " + ref)
		}
		refs = b.String()
	}
	return []Section{
		{Title: sectionTitles[0], Body: a.Summary},
		{Title: sectionTitles[1], Body: a.CurrentState},
		{Title: sectionTitles[2], Body: a.LatestActivity},
		{Title: sectionTitles[3], Body: a.Context},
		{Title: sectionTitles[4], Body: refs},
	}
}

// Render produces the plain-text work-note form: each section title on
// its own line followed by the body, sections separated by blank lines.
func (a *Artifact) Render() string {
	var b strings.Builder
	for i, s := range a.Sections() {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(s.Title + ":\n")
		b.WriteString(s.Body)
	}
	return b.String()
}

// Validate checks that an artifact answering the given query carries the
// five section titles in canonical order. Short field queries (under 80
// characters) are plain answers and pass without sections.
func Validate(text, query string) error {
	if utf8.RuneCountInString(query) < fieldQueryLimit {
		return nil
	}
	return ValidateArtifact(text)
}

// ValidateArtifact checks the five section titles unconditionally. Work
// notes and Slack posts that claim to be overviews go through here.
func ValidateArtifact(text string) error {
	pos := 0
	for _, title := range sectionTitles {
		idx := strings.Index(text[pos:], title)
		if idx < 0 {
			if strings.Contains(text, title) {
				return fmt.Errorf("overview section %q out of order", title)
			}
			return fmt.Errorf("overview missing section %q", title)
		}
		pos += idx + len(title)
	}
	return nil
}

// SectionTitles returns the canonical section order.
func SectionTitles() []string {
	titles := make([]string, len(sectionTitles))
	copy(titles, sectionTitles[:])
	return titles
}
