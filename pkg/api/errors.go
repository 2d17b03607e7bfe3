package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/caseops/casepilot/pkg/intake"
	"github.com/caseops/casepilot/pkg/store"
	"github.com/caseops/casepilot/pkg/taxonomy"
)

// Machine-readable error codes carried next to the human message.
const (
	codeAuthFailed         = "AUTH_FAILED"
	codeUnsupportedPayload = "UNSUPPORTED_PAYLOAD"
	codeQueueUnavailable   = "QUEUE_UNAVAILABLE"
	codeNotFound           = "NOT_FOUND"
	codeConflict           = "CONFLICT"
	codeInternal           = "INTERNAL"
)

// errorResponse is the uniform error envelope.
type errorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

func abortError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, errorResponse{Code: code, Error: message})
}

// mapStoreError maps store and domain errors to HTTP error responses.
func mapStoreError(c *gin.Context, err error) {
	var validErr *store.ValidationError
	switch {
	case errors.As(err, &validErr):
		abortError(c, http.StatusBadRequest, codeUnsupportedPayload, validErr.Error())
	case taxonomy.Is(err, taxonomy.KindValidation):
		abortError(c, http.StatusBadRequest, codeUnsupportedPayload, err.Error())
	case errors.Is(err, store.ErrNotFound):
		abortError(c, http.StatusNotFound, codeNotFound, "resource not found")
	case errors.Is(err, store.ErrInvalidTransition):
		abortError(c, http.StatusConflict, codeConflict, "transition not allowed from the current status")
	case errors.Is(err, store.ErrConcurrentModification):
		abortError(c, http.StatusConflict, codeConflict, "resource was modified concurrently, retry")
	case errors.Is(err, store.ErrAlreadyExists):
		abortError(c, http.StatusConflict, codeConflict, "resource already exists")
	default:
		slog.Error("Unexpected service error", "error", err)
		abortError(c, http.StatusInternalServerError, codeInternal, "internal server error")
	}
}

// mapDispatchError maps intake dispatch failures. Queue outages answer
// 503 so the source redelivers; the dedup claim was already released.
func mapDispatchError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, intake.ErrQueueUnavailable):
		abortError(c, http.StatusServiceUnavailable, codeQueueUnavailable, "event could not be queued, retry later")
	case taxonomy.Is(err, taxonomy.KindValidation):
		abortError(c, http.StatusBadRequest, codeUnsupportedPayload, err.Error())
	default:
		mapStoreError(c, err)
	}
}
