package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// catalogRedirectsHandler handles GET /api/v1/admin/reports/catalog-redirects:
// approved gates whose classification suggested a record type other
// than Case, meaning the request arrived through the wrong channel.
func (s *Server) catalogRedirectsHandler(c *gin.Context) {
	days := intQuery(c, "days", defaultReportDays)
	limit := intQuery(c, "limit", 50)
	since := time.Now().UTC().AddDate(0, 0, -days)

	gates, err := s.gates.CatalogRedirects(c.Request.Context(), since, limit)
	if err != nil {
		mapStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gateReport{Since: since, Count: len(gates), Gates: gates})
}

// missingCategoriesHandler handles GET /api/v1/admin/reports/missing-categories:
// gates created from cases that arrived without a category, the raw
// material for catalog cleanup.
func (s *Server) missingCategoriesHandler(c *gin.Context) {
	days := intQuery(c, "days", defaultReportDays)
	limit := intQuery(c, "limit", 50)
	since := time.Now().UTC().AddDate(0, 0, -days)

	gates, err := s.gates.MissingCategories(c.Request.Context(), since, limit)
	if err != nil {
		mapStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gateReport{Since: since, Count: len(gates), Gates: gates})
}
