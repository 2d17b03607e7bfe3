package api

import (
	"time"

	"github.com/caseops/casepilot/pkg/models"
)

// HealthCheck is one component's probe result.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is the GET /health body.
type HealthResponse struct {
	Status  string                 `json:"status"`
	Version string                 `json:"version"`
	Checks  map[string]HealthCheck `json:"checks"`
}

// evaluationSummary aggregates gate outcomes for admin tooling.
type evaluationSummary struct {
	Since                time.Time                 `json:"since"`
	WindowDays           int                       `json:"window_days"`
	Total                int                       `json:"total"`
	Approved             int                       `json:"approved"`
	Blocked              int                       `json:"blocked"`
	Expired              int                       `json:"expired"`
	ApprovalRate         float64                   `json:"approval_rate"`
	BlockRate            float64                   `json:"block_rate"`
	AvgBlockedAgeSeconds float64                   `json:"avg_blocked_age_seconds"`
	StatusCounts         map[models.GateStatus]int `json:"status_counts"`
	Exemplars            int                       `json:"exemplars"`
}

// gateReport lists gates matching a report filter.
type gateReport struct {
	Since time.Time             `json:"since"`
	Count int                   `json:"count"`
	Gates []*models.QualityGate `json:"gates"`
}
