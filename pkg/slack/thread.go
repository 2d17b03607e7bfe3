package slack

import (
	"regexp"
	"strings"

	goslack "github.com/slack-go/slack"
)

// Case numbers show up in channel history in many shapes: pasted
// ServiceNow links, bold markdown, uppercase from integrations and
// lowercase from humans. Matching lowercases both sides and collapses
// whitespace runs so formatting cannot hide a mention.

var spaceRuns = regexp.MustCompile(`\s+`)

// mentionsCase reports whether any text the message carries, including
// attachment bodies and fallbacks, contains the case number.
func mentionsCase(msg goslack.Message, caseNumber string) bool {
	needle := canonical(caseNumber)
	if needle == "" {
		return false
	}
	if strings.Contains(canonical(msg.Text), needle) {
		return true
	}
	for _, att := range msg.Attachments {
		if strings.Contains(canonical(att.Text), needle) ||
			strings.Contains(canonical(att.Fallback), needle) {
			return true
		}
	}
	return false
}

func canonical(s string) string {
	return strings.TrimSpace(spaceRuns.ReplaceAllString(strings.ToLower(s), " "))
}
