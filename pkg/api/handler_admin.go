package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/caseops/casepilot/pkg/models"
	"github.com/caseops/casepilot/pkg/store"
)

// getProjectConfigHandler handles GET /api/v1/admin/projects/:id/config.
func (s *Server) getProjectConfigHandler(c *gin.Context) {
	cfg, err := s.projects.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		mapStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// putProjectConfigHandler handles PUT /api/v1/admin/projects/:id/config.
// The path id wins over any id in the body.
func (s *Server) putProjectConfigHandler(c *gin.Context) {
	var cfg models.ProjectConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		abortError(c, http.StatusBadRequest, codeUnsupportedPayload, "body must be a project config")
		return
	}
	cfg.ProjectID = c.Param("id")

	if err := s.projects.Upsert(c.Request.Context(), &cfg); err != nil {
		mapStoreError(c, err)
		return
	}
	s.audit.Record(c.Request.Context(), &models.AuditEntry{
		EntityType: models.AuditEntityIntake,
		EntityID:   cfg.ProjectID,
		Action:     "project_config_updated",
		Actor:      extractAuthor(c),
		Metadata:   models.JSONMap{"request_id": requestIDFrom(c)},
	})
	c.JSON(http.StatusOK, cfg)
}

// getClientSettingsHandler handles GET /api/v1/admin/clients/:id/settings.
func (s *Server) getClientSettingsHandler(c *gin.Context) {
	settings, err := s.clients.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		mapStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

// putClientSettingsHandler handles PUT /api/v1/admin/clients/:id/settings.
func (s *Server) putClientSettingsHandler(c *gin.Context) {
	var settings models.ClientSettings
	if err := c.ShouldBindJSON(&settings); err != nil {
		abortError(c, http.StatusBadRequest, codeUnsupportedPayload, "body must be client settings")
		return
	}
	settings.ClientID = c.Param("id")

	if err := s.clients.Upsert(c.Request.Context(), &settings); err != nil {
		mapStoreError(c, err)
		return
	}
	s.audit.Record(c.Request.Context(), &models.AuditEntry{
		EntityType: models.AuditEntityIntake,
		EntityID:   settings.ClientID,
		Action:     "client_settings_updated",
		Actor:      extractAuthor(c),
		Metadata:   models.JSONMap{"request_id": requestIDFrom(c)},
	})
	c.JSON(http.StatusOK, settings)
}

// evaluationSummaryHandler handles GET /api/v1/admin/evaluations/summary.
func (s *Server) evaluationSummaryHandler(c *gin.Context) {
	days := intQuery(c, "days", defaultReportDays)
	since := time.Now().UTC().AddDate(0, 0, -days)

	rates, err := s.gates.RatesSince(c.Request.Context(), since)
	if err != nil {
		mapStoreError(c, err)
		return
	}
	counts, err := s.gates.StatusCounts(c.Request.Context())
	if err != nil {
		mapStoreError(c, err)
		return
	}

	// The exemplar corpus size is informative only; without a counter
	// the summary still answers.
	exemplars := 0
	if s.exemplars != nil {
		if n, err := s.exemplars.Count(c.Request.Context()); err == nil {
			exemplars = n
		} else {
			s.logger.Warn("Failed to count exemplars for summary", "error", err)
		}
	}

	c.JSON(http.StatusOK, evaluationSummary{
		Since:                since,
		WindowDays:           days,
		Total:                rates.Total,
		Approved:             rates.Approved,
		Blocked:              rates.Blocked,
		Expired:              rates.Expired,
		ApprovalRate:         rates.ApprovalRate(),
		BlockRate:            rates.BlockRate(),
		AvgBlockedAgeSeconds: rates.AvgAge,
		StatusCounts:         counts,
		Exemplars:            exemplars,
	})
}

// listReviewsHandler handles GET /api/v1/admin/reviews.
func (s *Server) listReviewsHandler(c *gin.Context) {
	limit := intQuery(c, "limit", 50)
	gates, err := s.gates.ListPendingReview(c.Request.Context(), limit)
	if err != nil {
		mapStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"gates": gates, "count": len(gates)})
}

// reviewGateHandler handles POST /api/v1/admin/reviews/:gateID. A
// supervisor releases a blocked gate by approving or rejecting it;
// when the review names an exemplar, the verdict feeds its quality
// signals.
func (s *Server) reviewGateHandler(c *gin.Context) {
	gateID := c.Param("gateID")

	var req reviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, http.StatusBadRequest, codeUnsupportedPayload, "body must include a decision")
		return
	}

	var next models.GateStatus
	switch strings.ToLower(req.Decision) {
	case "approve", "approved":
		next = models.GateStatusApproved
	case "reject", "rejected":
		next = models.GateStatusRejected
	default:
		abortError(c, http.StatusBadRequest, codeUnsupportedPayload, "decision must be approve or reject")
		return
	}

	riskLevel := models.RiskLevel(strings.ToLower(req.RiskLevel))
	if req.RiskLevel != "" && !riskLevel.IsValid() {
		abortError(c, http.StatusBadRequest, codeUnsupportedPayload, "risk_level must be low, medium, or high")
		return
	}

	gate, err := s.gates.Get(c.Request.Context(), gateID)
	if err != nil {
		mapStoreError(c, err)
		return
	}

	prior := gate.Status
	reviewer := extractAuthor(c)
	err = s.gates.Transition(c.Request.Context(), gate, next, store.TransitionParams{
		ReviewerID:   reviewer,
		ReviewReason: req.Reason,
		RiskLevel:    riskLevel,
	})
	if err != nil {
		mapStoreError(c, err)
		return
	}

	if req.ExemplarID != "" && s.memory != nil {
		signals := models.QualitySignals{}
		if next == models.GateStatusApproved {
			signals.SupervisorApproved = 1
		}
		if _, err := s.memory.RecordSignals(c.Request.Context(), req.ExemplarID, signals, req.Outcome); err != nil {
			s.logger.Warn("Failed to record review signals",
				"exemplar_id", req.ExemplarID,
				"gate_id", gateID,
				"error", err)
		}
	}

	s.metrics.RecordGateOutcome(string(next))
	s.audit.Record(c.Request.Context(), &models.AuditEntry{
		EntityType: models.AuditEntityGate,
		EntityID:   gateID,
		Action:     "gate_reviewed",
		PriorState: string(prior),
		NewState:   string(next),
		Actor:      reviewer,
		Reason:     req.Reason,
		Metadata: models.JSONMap{
			"case_sys_id": gate.CaseSysID,
			"case_number": gate.CaseNumber,
			"request_id":  requestIDFrom(c),
		},
	})
	c.JSON(http.StatusOK, gate)
}
