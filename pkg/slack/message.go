package slack

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	goslack "github.com/slack-go/slack"

	"github.com/caseops/casepilot/pkg/models"
	"github.com/caseops/casepilot/pkg/overview"
)

const maxBlockTextLength = 2900

// ActionEscalationAck is the action id carried by escalation
// Acknowledge buttons. The interactivity handler matches on it; the
// button value is the escalation id.
const ActionEscalationAck = "escalation_ack"

var gateEmoji = map[models.GateStatus]string{
	models.GateStatusApproved:           ":white_check_mark:",
	models.GateStatusClarificationNeeds: ":question:",
	models.GateStatusBlocked:            ":no_entry:",
	models.GateStatusExpired:            ":hourglass:",
	models.GateStatusRejected:           ":x:",
}

func markdown(text string) *goslack.TextBlockObject {
	return goslack.NewTextBlockObject(goslack.MarkdownType, truncateForSlack(text), false, false)
}

func plain(text string) *goslack.TextBlockObject {
	return goslack.NewTextBlockObject(goslack.PlainTextType, text, false, false)
}

func section(text string) *goslack.SectionBlock {
	return goslack.NewSectionBlock(markdown(text), nil, nil)
}

// BuildCaseAssistMessage renders the intake review for a case: gate
// status, the five overview sections in order, and any validator
// findings.
func BuildCaseAssistMessage(caseNumber string, gateStatus models.GateStatus, artifact *overview.Artifact, warnings, recommendations []string) []goslack.Block {
	emoji := gateEmoji[gateStatus]
	if emoji == "" {
		emoji = ":mag:"
	}

	blocks := []goslack.Block{
		goslack.NewHeaderBlock(plain(fmt.Sprintf("Case %s intake review", caseNumber))),
		section(fmt.Sprintf("%s *%s*", emoji, gateStatus)),
	}

	if artifact != nil {
		for _, s := range artifact.Sections() {
			blocks = append(blocks, section(fmt.Sprintf("*%s*\n%s", s.Title, s.Body)))
		}
	}

	if len(warnings) > 0 {
		blocks = append(blocks, section(":warning: *Warnings*\n"+bulletList(warnings)))
	}
	if len(recommendations) > 0 {
		blocks = append(blocks, section("*Recommendations*\n"+bulletList(recommendations)))
	}

	return blocks
}

// BuildEscalationMessage renders an escalation post: header, case
// fields, BI score, routing rule, reason, and the Acknowledge button.
func BuildEscalationMessage(esc *models.Escalation, priority, client string) []goslack.Block {
	fields := []string{
		"*Case:* " + esc.CaseNumber,
	}
	if priority != "" {
		fields = append(fields, "*Priority:* "+priority)
	}
	if client != "" {
		fields = append(fields, "*Client:* "+client)
	}
	fields = append(fields,
		fmt.Sprintf("*BI score:* %.2f", esc.BIScore),
		"*Rule:* "+esc.RuleName,
	)

	blocks := []goslack.Block{
		goslack.NewHeaderBlock(plain(":rotating_light: Case escalation")),
		section(strings.Join(fields, "\n")),
	}
	if esc.Reason != "" {
		blocks = append(blocks, section("*Reason:*\n"+esc.Reason))
	}
	if len(esc.Triggers) > 0 {
		blocks = append(blocks, goslack.NewContextBlock("",
			markdown("Triggers: "+strings.Join(esc.Triggers, ", "))))
	}

	ack := goslack.NewButtonBlockElement(ActionEscalationAck, esc.ID, plain("Acknowledge"))
	ack.Style = goslack.StylePrimary
	blocks = append(blocks, goslack.NewActionBlock("", ack))

	return blocks
}

// BuildClarificationMessage renders the question list posted to a case
// thread when the gate needs clarification.
func BuildClarificationMessage(session *models.ClarificationSession) []goslack.Block {
	var b strings.Builder
	fmt.Fprintf(&b, "Case *%s* needs clarification before automated intake can finish.\n", session.CaseNumber)
	for i, q := range session.Questions {
		fmt.Fprintf(&b, "\n%d. %s", i+1, q.Prompt)
		if q.Required {
			b.WriteString(" _(required)_")
		}
		fmt.Fprintf(&b, "\n   Reply with `%s: <answer>`", q.ID)
	}

	blocks := []goslack.Block{
		goslack.NewHeaderBlock(plain(":question: Clarification needed")),
		section(b.String()),
		goslack.NewContextBlock("",
			markdown(fmt.Sprintf("A bare reply answers the first open required question. Expires %s.",
				session.ExpiresAt.UTC().Format(time.RFC3339)))),
	}
	return blocks
}

// BuildReminderMessage nudges a thread about unanswered required
// questions before the session expires.
func BuildReminderMessage(session *models.ClarificationSession, unanswered []models.Question) []goslack.Block {
	var b strings.Builder
	fmt.Fprintf(&b, ":alarm_clock: Reminder: case *%s* still has open questions. The session expires %s.\n",
		session.CaseNumber, session.ExpiresAt.UTC().Format(time.RFC3339))
	for _, q := range unanswered {
		fmt.Fprintf(&b, "\n- `%s`: %s", q.ID, q.Prompt)
	}
	return []goslack.Block{section(b.String())}
}

// BuildExpiryNotice renders the escalation-channel post for a session
// that expired with required questions still open.
func BuildExpiryNotice(session *models.ClarificationSession, unanswered []models.Question) []goslack.Block {
	var b strings.Builder
	fmt.Fprintf(&b, "Clarification for case *%s* expired without answers. The gate is now blocked.\n",
		session.CaseNumber)
	for _, q := range unanswered {
		fmt.Fprintf(&b, "\n- %s", q.Prompt)
	}
	return []goslack.Block{
		goslack.NewHeaderBlock(plain(":hourglass: Clarification expired")),
		section(b.String()),
	}
}

// BuildStuckSummary renders one summary message for a monitor bucket,
// listing the longest-blocked gates oldest first.
func BuildStuckSummary(bucket string, gates []*models.QualityGate, now time.Time) []goslack.Block {
	var b strings.Builder
	fmt.Fprintf(&b, "%d case(s) blocked past the %s threshold.\n", len(gates), strings.ToLower(bucket))
	for _, g := range gates {
		age := now.Sub(g.UpdatedAt).Round(time.Minute)
		fmt.Fprintf(&b, "\n- *%s* blocked for %s", g.CaseNumber, age)
		if g.ReviewReason != "" {
			fmt.Fprintf(&b, " (%s)", g.ReviewReason)
		}
	}
	return []goslack.Block{
		goslack.NewHeaderBlock(plain(fmt.Sprintf(":construction: Stuck cases: %s", bucket))),
		section(b.String()),
	}
}

func bulletList(items []string) string {
	var b strings.Builder
	for i, item := range items {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("- " + item)
	}
	return b.String()
}

// truncateForSlack keeps block text under Slack's 3000-character block
// limit. Counts runes: the limit is characters, not bytes.
func truncateForSlack(text string) string {
	if utf8.RuneCountInString(text) <= maxBlockTextLength {
		return text
	}
	runes := []rune(text)
	return string(runes[:maxBlockTextLength]) + "\n\n_... (truncated)_"
}
