package monitor

import (
	"fmt"
	"strings"
	"time"

	goslack "github.com/slack-go/slack"

	"github.com/caseops/casepilot/pkg/store"
)

func plain(text string) *goslack.TextBlockObject {
	return goslack.NewTextBlockObject(goslack.PlainTextType, text, false, false)
}

func markdown(text string) *goslack.TextBlockObject {
	return goslack.NewTextBlockObject(goslack.MarkdownType, text, false, false)
}

func section(text string) *goslack.SectionBlock {
	return goslack.NewSectionBlock(markdown(text), nil, nil)
}

// leaderboardBlocks renders the reviewer leaderboard, ranked as the
// store returned it.
func leaderboardBlocks(rows []store.LeaderboardRow, since time.Time) []goslack.Block {
	var b strings.Builder
	for i, row := range rows {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%d. *%s* approved %d gate(s)", i+1, row.Actor, row.Approved)
	}
	return []goslack.Block{
		goslack.NewHeaderBlock(plain(":trophy: Reviewer leaderboard")),
		section(b.String()),
		goslack.NewContextBlock("",
			markdown("Approved gates since "+since.UTC().Format("2006-01-02"))),
	}
}

// queueReportBlocks renders open-gate counts per assignment group.
func queueReportBlocks(counts []store.GroupCount) []goslack.Block {
	total := 0
	var b strings.Builder
	for i, c := range counts {
		if i > 0 {
			b.WriteString("\n")
		}
		group := c.AssignmentGroup
		if group == "" {
			group = "(unassigned)"
		}
		fmt.Fprintf(&b, "- *%s*: %d open", group, c.Count)
		total += c.Count
	}
	return []goslack.Block{
		goslack.NewHeaderBlock(plain(":inbox_tray: Open case queue")),
		section(b.String()),
		goslack.NewContextBlock("",
			markdown(fmt.Sprintf("%d open gate(s) across %d group(s)", total, len(counts)))),
	}
}
