package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/caseops/casepilot/pkg/models"
	"github.com/caseops/casepilot/pkg/queue"
	"github.com/caseops/casepilot/pkg/store"
)

// dispatchHandler handles POST /internal/tasks/dispatch, the receiving
// side of queue push mode. Peer pods sign the job body with the shared
// queue key; a verified body is inserted as-is. Duplicates answer 409
// so the pushing pod stops retrying.
func (s *Server) dispatchHandler(c *gin.Context) {
	if s.env.QueueSigningKey == "" || s.jobs == nil {
		abortError(c, http.StatusServiceUnavailable, codeQueueUnavailable, "queue push is not configured")
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxInboundBody))
	if err != nil {
		abortError(c, http.StatusBadRequest, codeUnsupportedPayload, "failed to read request body")
		return
	}
	if !queue.VerifySignature([]byte(s.env.QueueSigningKey), body, c.GetHeader(queue.SignatureHeader)) {
		abortError(c, http.StatusUnauthorized, codeAuthFailed, "queue signature mismatch")
		return
	}

	var job models.Job
	if err := json.Unmarshal(body, &job); err != nil || job.Kind == "" {
		abortError(c, http.StatusBadRequest, codeUnsupportedPayload, "body must be a job with a kind")
		return
	}

	if err := s.jobs.Enqueue(c.Request.Context(), &job); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			c.JSON(http.StatusConflict, gin.H{"status": "duplicate", "job_id": job.ID})
			return
		}
		mapStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "enqueued", "job_id": job.ID})
}
