package slack

import (
	"context"
	"log/slog"
	"time"

	goslack "github.com/slack-go/slack"

	"github.com/caseops/casepilot/pkg/models"
	"github.com/caseops/casepilot/pkg/overview"
)

// ServiceConfig holds the parameters needed to construct a Service.
type ServiceConfig struct {
	Token             string
	TriageChannelID   string
	EscalationChannel string
}

// CaseAssistInput carries one intake review post.
type CaseAssistInput struct {
	CaseNumber      string
	GateStatus      models.GateStatus
	Artifact        *overview.Artifact
	Warnings        []string
	Recommendations []string

	// ThreadTS optionally threads the post under an existing message in
	// the triage channel. When empty the service looks for a recent
	// message mentioning the case number.
	ThreadTS string
}

// Service posts casepilot notifications to Slack.
// Nil-safe: all methods are no-ops when service is nil, so a missing
// bot token degrades to silence instead of errors.
type Service struct {
	client            *Client
	triageChannel     string
	escalationChannel string
	logger            *slog.Logger
}

// NewService creates a new Slack notification service.
// Returns nil if Token or TriageChannelID is empty.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Token == "" || cfg.TriageChannelID == "" {
		return nil
	}
	return newService(NewClient(cfg.Token), cfg)
}

// NewServiceWithClient creates a Service backed by a pre-built Client.
// Useful for testing with a mock API server.
func NewServiceWithClient(client *Client, cfg ServiceConfig) *Service {
	return newService(client, cfg)
}

func newService(client *Client, cfg ServiceConfig) *Service {
	escalation := cfg.EscalationChannel
	if escalation == "" {
		escalation = cfg.TriageChannelID
	}
	return &Service{
		client:            client,
		triageChannel:     cfg.TriageChannelID,
		escalationChannel: escalation,
		logger:            slog.Default().With("component", "slack-service"),
	}
}

// EscalationChannelID returns the configured escalation channel.
func (s *Service) EscalationChannelID() string {
	if s == nil {
		return ""
	}
	return s.escalationChannel
}

// PostCaseAssist posts the intake review to the triage channel,
// threading onto an existing case message when one is found. Returns
// the channel and message timestamp for later threading.
// Fail-open: errors are logged, never returned.
func (s *Service) PostCaseAssist(ctx context.Context, in CaseAssistInput) (string, string) {
	if s == nil {
		return "", ""
	}

	threadTS := in.ThreadTS
	if threadTS == "" {
		found, err := s.client.FindCaseThread(ctx, s.triageChannel, in.CaseNumber)
		if err != nil {
			s.logger.Warn("Failed to look up case thread",
				"case_number", in.CaseNumber,
				"error", err)
		}
		threadTS = found
	}

	blocks := BuildCaseAssistMessage(in.CaseNumber, in.GateStatus, in.Artifact, in.Warnings, in.Recommendations)
	ts, err := s.client.PostMessage(ctx, s.triageChannel, blocks, threadTS)
	if err != nil {
		s.logger.Error("Failed to post case assist",
			"case_number", in.CaseNumber,
			"error", err)
		return "", ""
	}

	// A threaded post keeps the parent ts as the session anchor.
	if threadTS != "" {
		return s.triageChannel, threadTS
	}
	return s.triageChannel, ts
}

// PostClarificationQuestions posts the session's question list, in the
// case thread when coordinates exist, otherwise fresh in the triage
// channel. Returns the channel and thread anchor for the session.
// Fail-open: errors are logged, never returned.
func (s *Service) PostClarificationQuestions(ctx context.Context, session *models.ClarificationSession) (string, string) {
	if s == nil || session == nil {
		return "", ""
	}

	channel := session.ChannelID
	if channel == "" {
		channel = s.triageChannel
	}

	blocks := BuildClarificationMessage(session)
	ts, err := s.client.PostMessage(ctx, channel, blocks, session.ThreadTS)
	if err != nil {
		s.logger.Error("Failed to post clarification questions",
			"case_number", session.CaseNumber,
			"session_id", session.ID,
			"error", err)
		return "", ""
	}

	if session.ThreadTS != "" {
		return channel, session.ThreadTS
	}
	return channel, ts
}

// PostReminder nudges the session thread about unanswered required
// questions. Returns false when the post failed so the caller can skip
// counting the reminder.
func (s *Service) PostReminder(ctx context.Context, session *models.ClarificationSession) bool {
	if s == nil || session == nil || session.ChannelID == "" {
		return false
	}

	blocks := BuildReminderMessage(session, session.UnansweredRequired())
	if _, err := s.client.PostMessage(ctx, session.ChannelID, blocks, session.ThreadTS); err != nil {
		s.logger.Error("Failed to post clarification reminder",
			"session_id", session.ID,
			"error", err)
		return false
	}
	return true
}

// PostExpiryNotice announces an expired session in the escalation
// channel with the questions that never got answers.
// Fail-open: errors are logged, never returned.
func (s *Service) PostExpiryNotice(ctx context.Context, session *models.ClarificationSession) {
	if s == nil || session == nil {
		return
	}

	blocks := BuildExpiryNotice(session, session.UnansweredRequired())
	if _, err := s.client.PostMessage(ctx, s.escalationChannel, blocks, ""); err != nil {
		s.logger.Error("Failed to post expiry notice",
			"session_id", session.ID,
			"case_number", session.CaseNumber,
			"error", err)
	}
}

// PostEscalation posts an escalation to its routed channel and returns
// the message coordinates for MarkPosted. Unlike the notification
// paths, the error surfaces: an unposted escalation must stay PENDING.
func (s *Service) PostEscalation(ctx context.Context, esc *models.Escalation, priority, client string) (string, string, error) {
	if s == nil {
		return "", "", nil
	}

	channel := esc.Channel
	if channel == "" {
		channel = s.escalationChannel
	}

	blocks := BuildEscalationMessage(esc, priority, client)
	ts, err := s.client.PostMessage(ctx, channel, blocks, "")
	if err != nil {
		return "", "", err
	}
	return channel, ts, nil
}

// PostStuckSummary posts one monitor bucket summary to the escalation
// channel. Fail-open: errors are logged, never returned.
func (s *Service) PostStuckSummary(ctx context.Context, bucket string, gates []*models.QualityGate) {
	if s == nil || len(gates) == 0 {
		return
	}

	blocks := BuildStuckSummary(bucket, gates, time.Now().UTC())
	if _, err := s.client.PostMessage(ctx, s.escalationChannel, blocks, ""); err != nil {
		s.logger.Error("Failed to post stuck summary",
			"bucket", bucket,
			"count", len(gates),
			"error", err)
	}
}

// PostBlocks posts arbitrary blocks, for report crons that build their
// own layout. Fail-open: errors are logged, never returned.
func (s *Service) PostBlocks(ctx context.Context, channelID string, blocks []goslack.Block) {
	if s == nil {
		return
	}
	if channelID == "" {
		channelID = s.escalationChannel
	}
	if _, err := s.client.PostMessage(ctx, channelID, blocks, ""); err != nil {
		s.logger.Error("Failed to post blocks", "channel", channelID, "error", err)
	}
}
