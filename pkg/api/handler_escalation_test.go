package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/caseops/casepilot/pkg/models"
)

func TestGetEscalation(t *testing.T) {
	f := newServerFixture()
	f.escalations.byID["esc-9"] = &models.Escalation{
		ID:     "esc-9",
		Status: models.EscalationStatusAcknowledged,
	}

	rec := doRequest(t, f.router(), http.MethodGet, "/api/v1/escalations/esc-9", nil, adminHeaders())

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "esc-9")
	assert.Contains(t, rec.Body.String(), string(models.EscalationStatusAcknowledged))
}

func TestGetEscalationNotFound(t *testing.T) {
	f := newServerFixture()

	rec := doRequest(t, f.router(), http.MethodGet, "/api/v1/escalations/esc-404", nil, adminHeaders())

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
