package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	goslack "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"

	"github.com/caseops/casepilot/pkg/intake"
	"github.com/caseops/casepilot/pkg/models"
	"github.com/caseops/casepilot/pkg/queue"
	"github.com/caseops/casepilot/pkg/slack"
	"github.com/caseops/casepilot/pkg/store"
)

const sourceSlack = "slack"

// readSlackBody reads the body and checks the Slack request signature.
// The body is restored on the request so form parsing still works.
// Development setups without a signing secret skip verification.
func (s *Server) readSlackBody(c *gin.Context) ([]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxInboundBody))
	if err != nil {
		abortError(c, http.StatusBadRequest, codeUnsupportedPayload, "failed to read request body")
		return nil, false
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(body))

	if s.env.SlackSigningSecret == "" {
		if s.env.IsDevelopment() {
			return body, true
		}
		abortError(c, http.StatusUnauthorized, codeAuthFailed, "slack signing secret is not configured")
		return nil, false
	}

	verifier, err := goslack.NewSecretsVerifier(c.Request.Header, s.env.SlackSigningSecret)
	if err != nil {
		abortError(c, http.StatusUnauthorized, codeAuthFailed, "invalid slack signature headers")
		return nil, false
	}
	if _, err := verifier.Write(body); err != nil {
		abortError(c, http.StatusUnauthorized, codeAuthFailed, "failed to verify slack signature")
		return nil, false
	}
	if err := verifier.Ensure(); err != nil {
		abortError(c, http.StatusUnauthorized, codeAuthFailed, "slack signature mismatch")
		return nil, false
	}
	return body, true
}

// slackEventsHandler handles POST /slack/events: the URL-verification
// handshake and event callbacks. Thread replies are the only callbacks
// that matter; they may answer an open clarification question.
func (s *Server) slackEventsHandler(c *gin.Context) {
	body, ok := s.readSlackBody(c)
	if !ok {
		return
	}

	event, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		abortError(c, http.StatusBadRequest, codeUnsupportedPayload, "failed to parse slack event")
		return
	}

	switch event.Type {
	case slackevents.URLVerification:
		var challenge slackevents.ChallengeResponse
		if err := json.Unmarshal(body, &challenge); err != nil {
			abortError(c, http.StatusBadRequest, codeUnsupportedPayload, "failed to parse challenge")
			return
		}
		c.String(http.StatusOK, challenge.Challenge)

	case slackevents.CallbackEvent:
		s.handleSlackCallback(c, event)

	default:
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
	}
}

func (s *Server) handleSlackCallback(c *gin.Context, event slackevents.EventsAPIEvent) {
	msg, ok := event.InnerEvent.Data.(*slackevents.MessageEvent)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}
	// Bot echoes and messages outside threads are noise.
	if msg.BotID != "" || msg.User == "" || msg.ThreadTimeStamp == "" {
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}
	if s.intake == nil {
		abortError(c, http.StatusServiceUnavailable, codeQueueUnavailable, "intake is not configured")
		return
	}

	externalID := msg.Channel + ":" + msg.TimeStamp
	if callback, ok := event.Data.(*slackevents.EventsAPICallbackEvent); ok && callback.EventID != "" {
		externalID = callback.EventID
	}

	res, err := s.intake.Dispatch(c.Request.Context(), intake.Inbound{
		Kind:       models.JobKindSlackEvent,
		Source:     sourceSlack,
		ExternalID: externalID,
		RequestID:  requestIDFrom(c),
		Payload: queue.SlackEventPayload{
			ChannelID: msg.Channel,
			ThreadTS:  msg.ThreadTimeStamp,
			UserID:    msg.User,
			Text:      msg.Text,
			EventTS:   msg.TimeStamp,
		},
	})
	if err != nil {
		mapDispatchError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": res.Status})
}

// slackCommandHandler handles POST /slack/commands/*name. The payload
// is enqueued as-is; argument parsing happens on the worker. Slack
// needs its 200 inside three seconds, so the ephemeral ack goes out
// immediately.
func (s *Server) slackCommandHandler(c *gin.Context) {
	if _, ok := s.readSlackBody(c); !ok {
		return
	}

	cmd, err := goslack.SlashCommandParse(c.Request)
	if err != nil {
		abortError(c, http.StatusBadRequest, codeUnsupportedPayload, "failed to parse slash command")
		return
	}
	if s.intake == nil {
		abortError(c, http.StatusServiceUnavailable, codeQueueUnavailable, "intake is not configured")
		return
	}

	requestID := requestIDFrom(c)
	_, err = s.intake.Dispatch(c.Request.Context(), intake.Inbound{
		Kind:       models.JobKindSlashCommand,
		Source:     sourceSlack,
		ExternalID: cmd.TriggerID,
		RequestID:  requestID,
		Payload: queue.SlashCommandPayload{
			Command:   cmd.Command,
			Text:      cmd.Text,
			ChannelID: cmd.ChannelID,
			UserID:    cmd.UserID,
			RequestID: requestID,
		},
	})
	if err != nil {
		mapDispatchError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"response_type": "ephemeral",
		"text":          "Working on it. Results will land in the case thread.",
	})
}

// slackInteractivityHandler handles POST /slack/interactivity.
// Escalation acknowledgements resolve inline so the button click feels
// instant; everything else, and any ack that hits an infrastructure
// error, goes through the queue.
func (s *Server) slackInteractivityHandler(c *gin.Context) {
	if _, ok := s.readSlackBody(c); !ok {
		return
	}

	payload := c.Request.PostFormValue("payload")
	if payload == "" {
		abortError(c, http.StatusBadRequest, codeUnsupportedPayload, "missing payload form field")
		return
	}
	var callback goslack.InteractionCallback
	if err := json.Unmarshal([]byte(payload), &callback); err != nil {
		abortError(c, http.StatusBadRequest, codeUnsupportedPayload, "failed to parse interaction payload")
		return
	}

	actions := callback.ActionCallback.BlockActions
	if len(actions) == 0 {
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}
	action := actions[0]

	if action.ActionID == slack.ActionEscalationAck && s.ack != nil {
		_, err := s.ack.Acknowledge(c.Request.Context(), action.Value, callback.User.ID)
		switch {
		case err == nil:
			c.JSON(http.StatusOK, gin.H{"status": "acknowledged"})
			return
		case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrInvalidTransition):
			// Stale click on an already-settled escalation.
			c.JSON(http.StatusOK, gin.H{"status": "noop"})
			return
		default:
			s.logger.Warn("Inline acknowledge failed, queueing interaction",
				"escalation_id", action.Value,
				"error", err)
		}
	}

	if s.intake == nil {
		abortError(c, http.StatusServiceUnavailable, codeQueueUnavailable, "intake is not configured")
		return
	}
	res, err := s.intake.Dispatch(c.Request.Context(), intake.Inbound{
		Kind:       models.JobKindInteraction,
		Source:     sourceSlack,
		ExternalID: callback.TriggerID,
		RequestID:  requestIDFrom(c),
		Payload: queue.InteractionPayload{
			ActionID:  action.ActionID,
			Value:     action.Value,
			UserID:    callback.User.ID,
			ChannelID: callback.Channel.ID,
			MessageTS: callback.Message.Timestamp,
		},
	})
	if err != nil {
		mapDispatchError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": res.Status})
}
