package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/caseops/casepilot/pkg/intake"
	"github.com/caseops/casepilot/pkg/models"
	"github.com/caseops/casepilot/pkg/queue"
)

const sourceServiceNow = "servicenow"

// caseWebhookHandler handles POST /servicenow/webhook. The business
// rule fires on case insert and on assignment-group moves; both land
// here as case events.
func (s *Server) caseWebhookHandler(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxInboundBody))
	if err != nil {
		abortError(c, http.StatusBadRequest, codeUnsupportedPayload, "failed to read request body")
		return
	}
	if !s.verifyCaseSource(c.Request, body) {
		abortError(c, http.StatusUnauthorized, codeAuthFailed, "webhook authentication failed")
		return
	}

	var req caseWebhookRequest
	if err := json.Unmarshal(body, &req); err != nil || req.SysID == "" {
		abortError(c, http.StatusBadRequest, codeUnsupportedPayload, "body must be JSON with a sys_id")
		return
	}
	if s.intake == nil {
		abortError(c, http.StatusServiceUnavailable, codeQueueUnavailable, "intake is not configured")
		return
	}

	requestID := requestIDFrom(c)
	res, err := s.intake.Dispatch(c.Request.Context(), intake.Inbound{
		Kind:       models.JobKindCaseEvent,
		CaseSysID:  req.SysID,
		Source:     sourceServiceNow,
		ExternalID: req.externalKey(),
		RequestID:  requestID,
		Payload: queue.CaseEventPayload{
			CaseSysID:  req.SysID,
			CaseNumber: req.Number,
			Source:     sourceServiceNow,
			ExternalID: req.externalKey(),
			RequestID:  requestID,
		},
	})
	if err != nil {
		mapDispatchError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
