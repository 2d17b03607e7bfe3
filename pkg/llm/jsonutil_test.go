package llm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantKey string
		wantRaw string
		empty   bool
	}{
		{
			name:    "plain object",
			input:   `{"category": "Network"}`,
			wantKey: "category",
		},
		{
			name:    "fenced json block",
			input:   "```json\n{\"category\": \"Network\"}\n```",
			wantKey: "category",
		},
		{
			name:    "fence without language tag",
			input:   "```\n{\"category\": \"Network\"}\n```",
			wantKey: "category",
		},
		{
			name:    "prose before and after the object",
			input:   "Here is the classification:\n\n{\"category\": \"Network\"}\n\nLet me know if you need anything else.",
			wantKey: "category",
		},
		{
			name:    "nested objects stay balanced",
			input:   `leading text {"record_type": {"type": "Incident", "confidence": 0.9}} trailing`,
			wantRaw: `{"record_type": {"type": "Incident", "confidence": 0.9}}`,
		},
		{
			name:    "braces inside strings do not close the object",
			input:   `{"quick_summary": "user reports {weird} payload", "tone": "confident"}`,
			wantKey: "tone",
		},
		{
			name:    "escaped quote inside string",
			input:   `{"quick_summary": "said \"broken\" twice"}`,
			wantKey: "quick_summary",
		},
		{
			name:    "line comments stripped",
			input:   "{\n  \"category\": \"Network\", // best match\n  \"confidence\": 0.8\n}",
			wantKey: "confidence",
		},
		{
			name:    "url in string survives comment stripping",
			input:   `{"kb_link": "https://example.com/kb/KB0042"}`,
			wantKey: "kb_link",
		},
		{
			name:    "trailing commas removed",
			input:   "{\n  \"keywords\": [\"vpn\", \"timeout\",],\n  \"confidence\": 0.7,\n}",
			wantKey: "keywords",
		},
		{
			name:    "comma before brace inside string survives",
			input:   `{"next_step": "run restart.sh, }", "confidence": 0.8,}`,
			wantRaw: `{"next_step": "run restart.sh, }", "confidence": 0.8}`,
		},
		{
			name:    "comma before bracket inside string survives",
			input:   "{\n  \"keywords\": [\"a, ]\", \"b\",],\n}",
			wantRaw: `{"keywords": ["a, ]", "b"]}`,
		},
		{
			name:  "unterminated object",
			input: `{"category": "Network"`,
			empty: true,
		},
		{
			name:  "no object at all",
			input: "I could not classify this case.",
			empty: true,
		},
		{
			name:  "empty input",
			input: "",
			empty: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ExtractJSON(tc.input)
			if tc.empty {
				assert.Empty(t, got)
				return
			}
			require.NotEmpty(t, got)
			var parsed map[string]any
			require.NoError(t, json.Unmarshal([]byte(got), &parsed), "extracted text should be valid JSON: %s", got)
			if tc.wantKey != "" {
				assert.Contains(t, parsed, tc.wantKey)
			}
			if tc.wantRaw != "" {
				assert.JSONEq(t, tc.wantRaw, got)
			}
		})
	}
}

func TestExtractJSONPrefersFencedBlock(t *testing.T) {
	input := "{\"stray\": true} is wrong, use this instead:\n```json\n{\"category\": \"Hardware\"}\n```"
	got := ExtractJSON(input)
	var parsed map[string]any
	require.NoError(t, json.Unmarshal([]byte(got), &parsed))
	assert.Contains(t, parsed, "category")
	assert.NotContains(t, parsed, "stray")
}
