package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/caseops/casepilot/pkg/llm"
	"github.com/caseops/casepilot/pkg/models"
)

// categorizationSystem is the system prompt for the first pipeline stage.
const categorizationSystem = `You are a senior service desk triage specialist. You classify incoming
cases for an MSP that supports many client companies. You are precise,
you never invent details that are not in the case text, and you always
answer with a single JSON object and nothing else.`

// categorizationTask is the task instruction appended to the shared
// context prompt for the categorization stage.
const categorizationTask = `## Your Task
Classify this case. Respond with ONLY a JSON object with these fields:

{
  "category": "top-level category, required",
  "subcategory": "more specific subcategory, or omit",
  "incident_category": "ServiceNow incident category if record type is Incident, or omit",
  "incident_subcategory": "ServiceNow incident subcategory, or omit",
  "confidence": 0.0,
  "keywords": ["search terms that characterize this case"],
  "technical_entities": {
    "ip_addresses": [],
    "systems": [],
    "users": [],
    "software": [],
    "error_codes": []
  },
  "urgency": "Low | Medium | High | Critical",
  "record_type_suggestion": {
    "type": "Problem | Incident | Change | Case",
    "is_major": false,
    "reasoning": "one sentence justifying the record type"
  },
  "service_offering": "matching service offering, or omit",
  "application_service": "affected application service, or omit"
}

Rules:
- confidence is your own calibrated estimate in [0, 1].
- Only list technical entities that literally appear in the case text.
- urgency reflects business impact and affected user count.
- Suggest Problem only for recurring or systemic faults, Change only for
  planned modifications, Incident for unplanned service disruption, and
  Case for requests and questions.`

// narrativeSystem is the system prompt for the second pipeline stage.
const narrativeSystem = `You are a service desk shift lead writing a handover for the engineer
who will own this case. You write plainly, you recommend concrete
actions with commands and paths where applicable, and you always answer
with a single JSON object and nothing else.`

// narrativeTask is the task instruction for the narrative stage.
const narrativeTask = `## Your Task
Write the working narrative for this case. Respond with ONLY a JSON
object with these fields:

{
  "quick_summary": "2-3 sentences: what is broken, who is affected, what matters",
  "immediate_next_steps": [
    "1 to 5 ordered, concrete actions; include commands or paths where applicable"
  ],
  "tone": "confident | cautious | escalate"
}

Rules:
- quick_summary must stand alone for a reader who has not seen the case.
- Each next step must be something an engineer can start immediately.
- tone is "confident" when the path to resolution is clear, "cautious"
  when key facts are missing or the classification is uncertain, and
  "escalate" when the case needs management or specialist attention now.`

// businessIntelSystem is the system prompt for the third pipeline stage.
const businessIntelSystem = `You are a service delivery analyst reviewing a classified case for
business impact. You only flag what the evidence in front of you
supports. You never speculate. You always answer with a single JSON
object and nothing else.`

// businessIntelTask is the task instruction for the business
// intelligence stage.
const businessIntelTask = `## Your Task
Derive business intelligence flags for this case. Respond with ONLY a
JSON object with these fields:

{
  "project_scope_detected": false,
  "project_scope_reason": "why, citing the case text",
  "executive_visibility": false,
  "executive_visibility_reason": "why, citing the case text",
  "compliance_impact": false,
  "compliance_impact_reason": "why, citing the case text",
  "financial_impact": false,
  "financial_impact_reason": "why, citing the case text",
  "systemic_issue": false,
  "systemic_issue_reason": "why, citing the case text",
  "outside_service_hours": false,
  "outside_service_hours_reason": "why, citing the case text"
}

Rules:
- Set a flag ONLY when the case text or business context contains direct
  evidence for it, and the reason must quote or cite that evidence.
- A flag without a reason is invalid and will be discarded.
- Omit the reason field entirely for flags you leave false.`

// jsonOnlyReminder is the retry nudge sent when a stage reply could not
// be parsed into its schema.
const jsonOnlyReminder = `Your previous reply could not be parsed. Return ONLY the JSON object
described in the instructions. No prose, no markdown fences, no
comments, no trailing commas.`

// categorizationMessages builds the single-turn conversation for stage one.
func categorizationMessages(contextPrompt string) []llm.Message {
	return []llm.Message{{
		Role:    llm.RoleUser,
		Content: contextPrompt + categorizationTask,
	}}
}

// narrativeMessages builds the conversation for stage two. The
// categorization result rides along so the narrative can reference the
// chosen category and urgency.
func narrativeMessages(contextPrompt string, cat *models.CategorizationResult) []llm.Message {
	var b strings.Builder
	b.WriteString(contextPrompt)
	writePriorStage(&b, "Categorization Result", cat)
	b.WriteString(narrativeTask)
	return []llm.Message{{Role: llm.RoleUser, Content: b.String()}}
}

// businessIntelMessages builds the conversation for stage three with
// both prior stage outputs attached.
func businessIntelMessages(contextPrompt string, cat *models.CategorizationResult, narr *models.NarrativeResult) []llm.Message {
	var b strings.Builder
	b.WriteString(contextPrompt)
	writePriorStage(&b, "Categorization Result", cat)
	writePriorStage(&b, "Narrative Result", narr)
	b.WriteString(businessIntelTask)
	return []llm.Message{{Role: llm.RoleUser, Content: b.String()}}
}

func writePriorStage(b *strings.Builder, label string, v any) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return
	}
	fmt.Fprintf(b, "## %s\n```json\n%s\n```\n\n", label, raw)
}
