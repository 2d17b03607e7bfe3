package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// getEscalationHandler handles GET /api/v1/escalations/:id, a status
// read for tooling that tracks acknowledgement.
func (s *Server) getEscalationHandler(c *gin.Context) {
	esc, err := s.escalations.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		mapStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, esc)
}
