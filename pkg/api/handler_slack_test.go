package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseops/casepilot/pkg/models"
	"github.com/caseops/casepilot/pkg/queue"
	"github.com/caseops/casepilot/pkg/store"
)

// slackHeaders signs body the way Slack does: v0=HMAC-SHA256 of
// "v0:<timestamp>:<body>" with the signing secret.
func slackHeaders(secret string, body []byte) map[string]string {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("v0:" + ts + ":"))
	mac.Write(body)
	return map[string]string{
		"X-Slack-Request-Timestamp": ts,
		"X-Slack-Signature":         "v0=" + hex.EncodeToString(mac.Sum(nil)),
	}
}

func signedSlackForm(secret string, form url.Values) ([]byte, map[string]string) {
	body := []byte(form.Encode())
	headers := slackHeaders(secret, body)
	headers["Content-Type"] = "application/x-www-form-urlencoded"
	return body, headers
}

func TestSlackEventsURLVerification(t *testing.T) {
	f := newServerFixture()
	body := []byte(`{"type":"url_verification","token":"tok","challenge":"ch-123"}`)

	rec := doRequest(t, f.router(), http.MethodPost, "/slack/events", body, slackHeaders("slack-signing-secret", body))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ch-123", rec.Body.String())
	assert.Empty(t, f.intake.dispatched())
}

func TestSlackEventsThreadReplyEnqueued(t *testing.T) {
	f := newServerFixture()
	body := []byte(`{
		"type": "event_callback",
		"team_id": "T1",
		"event_id": "Ev123",
		"event": {
			"type": "message",
			"user": "U42",
			"text": "the switch is back up",
			"ts": "1724.600",
			"thread_ts": "1724.500",
			"channel": "C1"
		}
	}`)

	rec := doRequest(t, f.router(), http.MethodPost, "/slack/events", body, slackHeaders("slack-signing-secret", body))

	require.Equal(t, http.StatusOK, rec.Code)
	dispatched := f.intake.dispatched()
	require.Len(t, dispatched, 1)
	in := dispatched[0]
	assert.Equal(t, models.JobKindSlackEvent, in.Kind)
	assert.Equal(t, "slack", in.Source)
	assert.Equal(t, "Ev123", in.ExternalID)

	payload, ok := in.Payload.(queue.SlackEventPayload)
	require.True(t, ok)
	assert.Equal(t, "C1", payload.ChannelID)
	assert.Equal(t, "1724.500", payload.ThreadTS)
	assert.Equal(t, "U42", payload.UserID)
	assert.Equal(t, "the switch is back up", payload.Text)
	assert.Equal(t, "1724.600", payload.EventTS)
}

func TestSlackEventsExternalIDFallback(t *testing.T) {
	f := newServerFixture()
	body := []byte(`{
		"type": "event_callback",
		"team_id": "T1",
		"event": {
			"type": "message",
			"user": "U42",
			"text": "done",
			"ts": "1724.600",
			"thread_ts": "1724.500",
			"channel": "C1"
		}
	}`)

	rec := doRequest(t, f.router(), http.MethodPost, "/slack/events", body, slackHeaders("slack-signing-secret", body))

	require.Equal(t, http.StatusOK, rec.Code)
	dispatched := f.intake.dispatched()
	require.Len(t, dispatched, 1)
	assert.Equal(t, "C1:1724.600", dispatched[0].ExternalID)
}

func TestSlackEventsIgnoresNoise(t *testing.T) {
	tests := []struct {
		name  string
		event string
	}{
		{
			name:  "bot echo",
			event: `{"type":"message","bot_id":"B9","text":"posted","ts":"1.2","thread_ts":"1.1","channel":"C1"}`,
		},
		{
			name:  "not in a thread",
			event: `{"type":"message","user":"U42","text":"hi","ts":"1.2","channel":"C1"}`,
		},
		{
			name:  "no user",
			event: `{"type":"message","text":"hi","ts":"1.2","thread_ts":"1.1","channel":"C1"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newServerFixture()
			body := []byte(`{"type":"event_callback","team_id":"T1","event":` + tt.event + `}`)

			rec := doRequest(t, f.router(), http.MethodPost, "/slack/events", body, slackHeaders("slack-signing-secret", body))

			require.Equal(t, http.StatusOK, rec.Code)
			assert.Contains(t, rec.Body.String(), "ignored")
			assert.Empty(t, f.intake.dispatched())
		})
	}
}

func TestSlackEventsRejectsBadSignature(t *testing.T) {
	f := newServerFixture()
	body := []byte(`{"type":"url_verification","challenge":"ch"}`)

	rec := doRequest(t, f.router(), http.MethodPost, "/slack/events", body, slackHeaders("wrong-secret", body))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), codeAuthFailed)
}

func TestSlackEventsRejectsMissingSignatureHeaders(t *testing.T) {
	f := newServerFixture()
	body := []byte(`{"type":"url_verification","challenge":"ch"}`)

	rec := doRequest(t, f.router(), http.MethodPost, "/slack/events", body, nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSlackCommandEnqueued(t *testing.T) {
	f := newServerFixture()
	form := url.Values{
		"command":    {"/casepilot"},
		"text":       {"status SCS1000042"},
		"channel_id": {"C1"},
		"user_id":    {"U42"},
		"trigger_id": {"tr-99"},
	}
	body, headers := signedSlackForm("slack-signing-secret", form)

	rec := doRequest(t, f.router(), http.MethodPost, "/slack/commands/casepilot", body, headers)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ephemeral")

	dispatched := f.intake.dispatched()
	require.Len(t, dispatched, 1)
	in := dispatched[0]
	assert.Equal(t, models.JobKindSlashCommand, in.Kind)
	assert.Equal(t, "tr-99", in.ExternalID)

	payload, ok := in.Payload.(queue.SlashCommandPayload)
	require.True(t, ok)
	assert.Equal(t, "/casepilot", payload.Command)
	assert.Equal(t, "status SCS1000042", payload.Text)
	assert.Equal(t, "C1", payload.ChannelID)
	assert.Equal(t, "U42", payload.UserID)
}

func interactionForm(actionID, value string) url.Values {
	payload := `{
		"type": "block_actions",
		"trigger_id": "tr-1",
		"user": {"id": "U42"},
		"channel": {"id": "C1"},
		"message": {"ts": "1724.500"},
		"actions": [
			{"type": "button", "action_id": "` + actionID + `", "block_id": "b1", "value": "` + value + `", "action_ts": "1"}
		]
	}`
	return url.Values{"payload": {payload}}
}

func TestSlackInteractivityAcknowledgesInline(t *testing.T) {
	f := newServerFixture()
	body, headers := signedSlackForm("slack-signing-secret", interactionForm("escalation_ack", "esc-9"))

	rec := doRequest(t, f.router(), http.MethodPost, "/slack/interactivity", body, headers)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "acknowledged")
	require.Len(t, f.ack.acks, 1)
	assert.Equal(t, [2]string{"esc-9", "U42"}, f.ack.acks[0])
	assert.Empty(t, f.intake.dispatched())
}

func TestSlackInteractivityStaleAckIsNoop(t *testing.T) {
	f := newServerFixture()
	f.ack.err = store.ErrInvalidTransition
	body, headers := signedSlackForm("slack-signing-secret", interactionForm("escalation_ack", "esc-9"))

	rec := doRequest(t, f.router(), http.MethodPost, "/slack/interactivity", body, headers)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "noop")
	assert.Empty(t, f.intake.dispatched())
}

func TestSlackInteractivityAckFailureFallsBackToQueue(t *testing.T) {
	f := newServerFixture()
	f.ack.err = assert.AnError
	body, headers := signedSlackForm("slack-signing-secret", interactionForm("escalation_ack", "esc-9"))

	rec := doRequest(t, f.router(), http.MethodPost, "/slack/interactivity", body, headers)

	require.Equal(t, http.StatusOK, rec.Code)
	dispatched := f.intake.dispatched()
	require.Len(t, dispatched, 1)
	assert.Equal(t, models.JobKindInteraction, dispatched[0].Kind)

	payload, ok := dispatched[0].Payload.(queue.InteractionPayload)
	require.True(t, ok)
	assert.Equal(t, "escalation_ack", payload.ActionID)
	assert.Equal(t, "esc-9", payload.Value)
	assert.Equal(t, "U42", payload.UserID)
}

func TestSlackInteractivityOtherActionEnqueued(t *testing.T) {
	f := newServerFixture()
	body, headers := signedSlackForm("slack-signing-secret", interactionForm("gate_approve", "gate-7"))

	rec := doRequest(t, f.router(), http.MethodPost, "/slack/interactivity", body, headers)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, f.ack.acks)

	dispatched := f.intake.dispatched()
	require.Len(t, dispatched, 1)
	assert.Equal(t, "tr-1", dispatched[0].ExternalID)

	payload, ok := dispatched[0].Payload.(queue.InteractionPayload)
	require.True(t, ok)
	assert.Equal(t, "gate_approve", payload.ActionID)
	assert.Equal(t, "C1", payload.ChannelID)
	assert.Equal(t, "1724.500", payload.MessageTS)
}

func TestSlackInteractivityRequiresPayload(t *testing.T) {
	f := newServerFixture()
	body, headers := signedSlackForm("slack-signing-secret", url.Values{"other": {"x"}})

	rec := doRequest(t, f.router(), http.MethodPost, "/slack/interactivity", body, headers)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
