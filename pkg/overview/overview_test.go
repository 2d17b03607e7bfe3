package overview

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseops/casepilot/pkg/models"
)

func sampleInput() Input {
	return Input{
		Case: models.Case{
			SysID:            "sys-1001",
			Number:           "SCS1001",
			ShortDescription: "VPN down for 20 users",
			State:            "Open",
			Priority:         "2 - High",
			AssignmentGroup:  "Network Ops",
			Company:          "Acme Corp",
		},
		Result: &models.ClassificationResult{
			CaseSysID:  "sys-1001",
			CaseNumber: "SCS1001",
			Categorization: models.CategorizationResult{
				Category:   "Network",
				Confidence: 0.91,
				RecordType: models.RecordTypeSuggestion{Type: models.RecordTypeIncident},
			},
			Narrative: models.NarrativeResult{
				QuickSummary:       "Site VPN concentrator is rejecting all connections.",
				ImmediateNextSteps: []string{"Check concentrator health", "Fail over to secondary"},
			},
		},
		Business: &models.BusinessContext{
			Company:      "Acme Corp",
			AccountTier:  "Gold",
			ServiceHours: "24x7",
		},
		KBArticles: []models.KBArticle{
			{Number: "KB0042", Title: "VPN concentrator failover", URL: "https://kb.example/KB0042"},
		},
		Similar: []models.SimilarCase{
			{Number: "SCS0900", ShortDescription: "VPN outage after firmware update"},
		},
		GateStatus: models.GateStatusApproved,
		DecidedAt:  time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestBuild_AllSectionsPopulated(t *testing.T) {
	a := Build(sampleInput())

	assert.Equal(t, "Site VPN concentrator is rejecting all connections.", a.Summary)
	assert.Contains(t, a.CurrentState, "Priority: 2 - High")
	assert.Contains(t, a.CurrentState, "Suggested category: Network (confidence 0.91)")
	assert.Contains(t, a.CurrentState, "Suggested record type: Incident")
	assert.Contains(t, a.CurrentState, "Intake review: APPROVED")
	assert.Contains(t, a.LatestActivity, "2025-08-01T12:00:00Z")
	assert.Contains(t, a.LatestActivity, "1. Check concentrator health")
	assert.Contains(t, a.Context, "Account tier: Gold")
	require.Len(t, a.References, 2)
	assert.Contains(t, a.References[0], "KB0042")
	assert.Contains(t, a.References[1], "SCS0900")
}

func TestBuild_MinimalCase(t *testing.T) {
	a := Build(Input{Case: models.Case{Number: "SCS2000"}})

	assert.Equal(t, "Case SCS2000 intake review", a.Summary)
	assert.Equal(t, "No state details available.", a.CurrentState)
	assert.Equal(t, "Awaiting first review.", a.LatestActivity)
	assert.Equal(t, "No business context on file.", a.Context)
	assert.Empty(t, a.References)

	sections := a.Sections()
	require.Len(t, sections, 5)
	assert.Equal(t, "None.", sections[4].Body)
}

func TestRender_SectionOrder(t *testing.T) {
	text := Build(sampleInput()).Render()

	pos := -1
	for _, title := range SectionTitles() {
		idx := strings.Index(text, title+":")
		require.GreaterOrEqual(t, idx, 0, "rendered text missing %q", title)
		assert.Greater(t, idx, pos, "%q out of order", title)
		pos = idx
	}
}

func TestValidate(t *testing.T) {
	longQuery := strings.Repeat("what is the full status of this case ", 3)
	require.GreaterOrEqual(t, len(longQuery), 80)

	rendered := Build(sampleInput()).Render()

	tests := []struct {
		name    string
		text    string
		query   string
		wantErr string
	}{
		{
			name:  "rendered artifact passes for long query",
			text:  rendered,
			query: longQuery,
		},
		{
			name:  "short field query exempt without sections",
			text:  "Priority is 2 - High",
			query: "what is the priority?",
		},
		{
			name:    "missing section rejected",
			text:    "Summary:\nok\n\nCurrent State:\nok",
			query:   longQuery,
			wantErr: `missing section "Latest Activity"`,
		},
		{
			name: "out of order rejected",
			text: "Summary:\nok\n\nLatest Activity:\nok\n\nCurrent State:\nok\n\n" +
				"Context:\nok\n\nReferences:\nnone",
			query:   longQuery,
			wantErr: "out of order",
		},
		{
			name: "slack mrkdwn decorations tolerated",
			text: "*Summary*\nok\n*Current State*\nok\n*Latest Activity*\nok\n" +
				"*Context*\nok\n*References*\nnone",
			query: longQuery,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.text, tt.query)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_QueryLimitBoundary(t *testing.T) {
	atLimit := strings.Repeat("q", 80)
	underLimit := strings.Repeat("q", 79)

	assert.Error(t, Validate("no sections here", atLimit))
	assert.NoError(t, Validate("no sections here", underLimit))
}
