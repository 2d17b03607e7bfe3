package api

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

// maxInboundBody caps webhook and push bodies. ServiceNow case events
// and Slack callbacks are small; anything near this size is malformed.
const maxInboundBody = 1 << 20

// caseWebhookRequest is the ServiceNow business-rule payload.
type caseWebhookRequest struct {
	SysID      string `json:"sys_id"`
	Number     string `json:"number"`
	EventType  string `json:"event_type"`
	ExternalID string `json:"external_id"`
}

// externalKey derives the dedup id: an explicit external id wins,
// otherwise sys_id plus the event type so distinct events on one case
// are not collapsed.
func (r caseWebhookRequest) externalKey() string {
	if r.ExternalID != "" {
		return r.ExternalID
	}
	if r.EventType != "" {
		return r.SysID + ":" + r.EventType
	}
	return r.SysID
}

// reviewRequest is the supervisor review body.
type reviewRequest struct {
	Decision   string `json:"decision" binding:"required"`
	Reason     string `json:"reason"`
	RiskLevel  string `json:"risk_level"`
	ExemplarID string `json:"exemplar_id"`
	Outcome    string `json:"outcome"`
}

// intQuery parses a positive integer query parameter with a fallback.
func intQuery(c *gin.Context, name string, fallback int) int {
	v := c.Query(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
