package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Report window and row-count defaults.
const (
	defaultReportDays  = 7
	defaultReportLimit = 10
)

// expireSessionsHandler handles POST /cron/expire-clarification-sessions.
// One call runs both sweeps: expiry first so reminders never go to
// sessions that just lapsed.
func (s *Server) expireSessionsHandler(c *gin.Context) {
	if s.clarify == nil {
		abortError(c, http.StatusServiceUnavailable, codeQueueUnavailable, "clarification manager is not configured")
		return
	}
	now := time.Now().UTC()

	expired, err := s.clarify.SweepExpired(c.Request.Context(), now)
	if err != nil {
		mapStoreError(c, err)
		return
	}
	reminders, err := s.clarify.SweepReminders(c.Request.Context(), now)
	if err != nil {
		mapStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"expired": expired, "reminders_sent": reminders})
}

// monitorStuckHandler handles POST /cron/monitor-stuck-cases.
func (s *Server) monitorStuckHandler(c *gin.Context) {
	if s.monitor == nil {
		abortError(c, http.StatusServiceUnavailable, codeQueueUnavailable, "monitor is not configured")
		return
	}
	report, err := s.monitor.SweepStuck(c.Request.Context(), time.Now().UTC())
	if err != nil {
		mapStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// leaderboardHandler handles POST /cron/case-leaderboard.
func (s *Server) leaderboardHandler(c *gin.Context) {
	if s.monitor == nil {
		abortError(c, http.StatusServiceUnavailable, codeQueueUnavailable, "monitor is not configured")
		return
	}
	days := intQuery(c, "days", defaultReportDays)
	limit := intQuery(c, "limit", defaultReportLimit)
	since := time.Now().UTC().AddDate(0, 0, -days)

	rows, err := s.monitor.Leaderboard(c.Request.Context(), since, limit)
	if err != nil {
		mapStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"since": since, "rows": rows})
}

// queueReportHandler handles POST /cron/case-queue-report.
func (s *Server) queueReportHandler(c *gin.Context) {
	if s.monitor == nil {
		abortError(c, http.StatusServiceUnavailable, codeQueueUnavailable, "monitor is not configured")
		return
	}
	groups, err := s.monitor.QueueReport(c.Request.Context())
	if err != nil {
		mapStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"groups": groups})
}

// queueSnapshotHandler handles POST /cron/case-queue-snapshot.
func (s *Server) queueSnapshotHandler(c *gin.Context) {
	if s.monitor == nil {
		abortError(c, http.StatusServiceUnavailable, codeQueueUnavailable, "monitor is not configured")
		return
	}
	snap, err := s.monitor.Snapshot(c.Request.Context())
	if err != nil {
		mapStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}
