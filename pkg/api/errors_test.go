package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/caseops/casepilot/pkg/intake"
	"github.com/caseops/casepilot/pkg/store"
	"github.com/caseops/casepilot/pkg/taxonomy"
)

func TestMapStoreError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "validation error",
			err:        store.NewValidationError("status", "unknown status"),
			wantStatus: http.StatusBadRequest,
			wantCode:   codeUnsupportedPayload,
		},
		{
			name:       "taxonomy validation",
			err:        taxonomy.Validation(errors.New("kind is required")),
			wantStatus: http.StatusBadRequest,
			wantCode:   codeUnsupportedPayload,
		},
		{
			name:       "not found",
			err:        fmt.Errorf("gate: %w", store.ErrNotFound),
			wantStatus: http.StatusNotFound,
			wantCode:   codeNotFound,
		},
		{
			name:       "invalid transition",
			err:        store.ErrInvalidTransition,
			wantStatus: http.StatusConflict,
			wantCode:   codeConflict,
		},
		{
			name:       "concurrent modification",
			err:        store.ErrConcurrentModification,
			wantStatus: http.StatusConflict,
			wantCode:   codeConflict,
		},
		{
			name:       "already exists",
			err:        store.ErrAlreadyExists,
			wantStatus: http.StatusConflict,
			wantCode:   codeConflict,
		},
		{
			name:       "unexpected",
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   codeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(rec)

			mapStoreError(c, tt.err)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantCode)
		})
	}
}

func TestMapDispatchError(t *testing.T) {
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	mapDispatchError(c, fmt.Errorf("%w: insert failed", intake.ErrQueueUnavailable))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), codeQueueUnavailable)

	rec = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(rec)
	mapDispatchError(c, taxonomy.Validation(errors.New("kind is required")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(rec)
	mapDispatchError(c, errors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
