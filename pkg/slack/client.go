package slack

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goslack "github.com/slack-go/slack"
)

const (
	postTimeout = 10 * time.Second

	// historyWindow bounds how far back FindCaseThread searches for an
	// existing case message to thread onto.
	historyWindow = 24 * time.Hour
	historyLimit  = 50
)

// Client is a thin wrapper around the slack-go SDK. Channel ids are
// passed per call; the same client serves the triage and escalation
// channels.
type Client struct {
	api    *goslack.Client
	logger *slog.Logger
}

// NewClient creates a new Slack API client.
func NewClient(token string) *Client {
	return &Client{
		api:    goslack.New(token),
		logger: slog.Default().With("component", "slack-client"),
	}
}

// NewClientWithAPIURL creates a Slack API client that targets a custom
// API URL. Useful for testing with a mock server.
func NewClientWithAPIURL(token, apiURL string) *Client {
	return &Client{
		api:    goslack.New(token, goslack.OptionAPIURL(apiURL)),
		logger: slog.Default().With("component", "slack-client"),
	}
}

// PostMessage sends blocks to a channel and returns the message
// timestamp for threading. If threadTS is non-empty, the message is
// posted as a threaded reply.
func (c *Client) PostMessage(ctx context.Context, channelID string, blocks []goslack.Block, threadTS string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, postTimeout)
	defer cancel()

	opts := []goslack.MsgOption{
		goslack.MsgOptionBlocks(blocks...),
	}
	if threadTS != "" {
		opts = append(opts, goslack.MsgOptionTS(threadTS))
	}

	_, ts, err := c.api.PostMessageContext(ctx, channelID, opts...)
	if err != nil {
		return "", fmt.Errorf("chat.postMessage failed: %w", err)
	}
	return ts, nil
}

// FindCaseThread searches recent channel history for a message that
// mentions the case number. Returns the message timestamp (ts) for
// threading, or empty string if not found.
func (c *Client) FindCaseThread(ctx context.Context, channelID, caseNumber string) (string, error) {
	oldest := fmt.Sprintf("%d", time.Now().Add(-historyWindow).Unix())

	params := &goslack.GetConversationHistoryParameters{
		ChannelID: channelID,
		Oldest:    oldest,
		Limit:     historyLimit,
	}
	history, err := c.api.GetConversationHistoryContext(ctx, params)
	if err != nil {
		return "", fmt.Errorf("conversations.history failed: %w", err)
	}

	for _, msg := range history.Messages {
		if mentionsCase(msg, caseNumber) {
			return msg.Timestamp, nil
		}
	}
	return "", nil
}
