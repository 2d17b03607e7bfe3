// Package api exposes the HTTP surface: webhook intake, the queue push
// target, cron triggers, and the admin/read endpoints. Handlers do
// auth, dedup, and enqueue only; pipeline work happens on queue
// workers so every inbound source gets its answer inside its response
// budget.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/caseops/casepilot/pkg/audit"
	"github.com/caseops/casepilot/pkg/config"
	"github.com/caseops/casepilot/pkg/database"
	"github.com/caseops/casepilot/pkg/intake"
	"github.com/caseops/casepilot/pkg/metrics"
	"github.com/caseops/casepilot/pkg/models"
	"github.com/caseops/casepilot/pkg/monitor"
	"github.com/caseops/casepilot/pkg/queue"
	"github.com/caseops/casepilot/pkg/store"
)

// Dispatcher hands authenticated inbound events to the queue.
// *intake.Dispatcher satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, in intake.Inbound) (*intake.Result, error)
}

// JobInserter persists jobs pushed by peer pods. *store.JobStore
// satisfies it.
type JobInserter interface {
	Enqueue(ctx context.Context, job *models.Job) error
}

// PoolHealther reports worker pool health. *queue.WorkerPool satisfies
// it.
type PoolHealther interface {
	Health(ctx context.Context) *queue.PoolHealth
}

// ClarifySweeper runs the clarification maintenance sweeps.
// *clarify.Manager satisfies it.
type ClarifySweeper interface {
	SweepExpired(ctx context.Context, now time.Time) (int, error)
	SweepReminders(ctx context.Context, now time.Time) (int, error)
}

// CaseMonitor runs the scheduled gate and queue reports.
// *monitor.Monitor satisfies it.
type CaseMonitor interface {
	SweepStuck(ctx context.Context, now time.Time) (*monitor.StuckReport, error)
	Leaderboard(ctx context.Context, since time.Time, limit int) ([]store.LeaderboardRow, error)
	QueueReport(ctx context.Context) ([]store.GroupCount, error)
	Snapshot(ctx context.Context) (*models.QueueSnapshot, error)
}

// Acknowledger resolves escalation acknowledgement clicks.
// *escalation.Router satisfies it.
type Acknowledger interface {
	Acknowledge(ctx context.Context, id, userID string) (*models.Escalation, error)
}

// EscalationReader loads escalations for tooling reads.
// *store.EscalationStore satisfies it.
type EscalationReader interface {
	Get(ctx context.Context, id string) (*models.Escalation, error)
}

// GateAdmin is the slice of the gate store behind the review and
// report endpoints.
type GateAdmin interface {
	Get(ctx context.Context, id string) (*models.QualityGate, error)
	ListPendingReview(ctx context.Context, limit int) ([]*models.QualityGate, error)
	Transition(ctx context.Context, gate *models.QualityGate, next models.GateStatus, params store.TransitionParams) error
	StatusCounts(ctx context.Context) (map[models.GateStatus]int, error)
	RatesSince(ctx context.Context, since time.Time) (*store.GateRates, error)
	CatalogRedirects(ctx context.Context, since time.Time, limit int) ([]*models.QualityGate, error)
	MissingCategories(ctx context.Context, since time.Time, limit int) ([]*models.QualityGate, error)
}

// ProjectAdmin manages per-project orchestration settings.
// *store.ProjectStore satisfies it.
type ProjectAdmin interface {
	Get(ctx context.Context, projectID string) (*models.ProjectConfig, error)
	Upsert(ctx context.Context, cfg *models.ProjectConfig) error
}

// ClientAdmin manages per-client clarification knobs.
// *store.ClientStore satisfies it.
type ClientAdmin interface {
	Get(ctx context.Context, clientID string) (*models.ClientSettings, error)
	Upsert(ctx context.Context, settings *models.ClientSettings) error
}

// ExemplarCounter sizes the muscle-memory corpus for the evaluation
// summary. *store.ExemplarStore satisfies it.
type ExemplarCounter interface {
	Count(ctx context.Context) (int, error)
}

// SignalRecorder applies supervisor review signals to an exemplar.
// *memory.Service satisfies it.
type SignalRecorder interface {
	RecordSignals(ctx context.Context, id string, signals models.QualitySignals, outcome string) (*models.Exemplar, error)
}

// Deps wires the server. Env is required; everything else may be nil,
// which returns 503 from the endpoints that need it.
type Deps struct {
	Env         *config.Env
	DB          *database.Client
	Redis       redis.UniversalClient
	Intake      Dispatcher
	Jobs        JobInserter
	Pool        PoolHealther
	Clarify     ClarifySweeper
	Monitor     CaseMonitor
	Ack         Acknowledger
	Escalations EscalationReader
	Gates       GateAdmin
	Projects    ProjectAdmin
	Clients     ClientAdmin
	Exemplars   ExemplarCounter
	Memory      SignalRecorder
	Audit       audit.Recorder
	Metrics     *metrics.Metrics
}

// Server is the HTTP server.
type Server struct {
	env         *config.Env
	db          *database.Client
	rdb         redis.UniversalClient
	intake      Dispatcher
	jobs        JobInserter
	pool        PoolHealther
	clarify     ClarifySweeper
	monitor     CaseMonitor
	ack         Acknowledger
	escalations EscalationReader
	gates       GateAdmin
	projects    ProjectAdmin
	clients     ClientAdmin
	exemplars   ExemplarCounter
	memory      SignalRecorder
	audit       audit.Recorder
	metrics     *metrics.Metrics

	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates the API server.
func NewServer(deps Deps) *Server {
	if deps.Env == nil {
		deps.Env = config.LoadEnv()
	}
	if !deps.Env.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	return &Server{
		env:         deps.Env,
		db:          deps.DB,
		rdb:         deps.Redis,
		intake:      deps.Intake,
		jobs:        deps.Jobs,
		pool:        deps.Pool,
		clarify:     deps.Clarify,
		monitor:     deps.Monitor,
		ack:         deps.Ack,
		escalations: deps.Escalations,
		gates:       deps.Gates,
		projects:    deps.Projects,
		clients:     deps.Clients,
		exemplars:   deps.Exemplars,
		memory:      deps.Memory,
		audit:       deps.Audit,
		metrics:     deps.Metrics,
		logger:      slog.Default().With("component", "api"),
	}
}

// Router builds the gin engine with all routes mounted.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestID(), securityHeaders())

	r.GET("/health", s.healthHandler)
	r.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	r.POST("/servicenow/webhook", s.caseWebhookHandler)

	slackRoutes := r.Group("/slack")
	slackRoutes.POST("/events", s.slackEventsHandler)
	slackRoutes.POST("/commands/*name", s.slackCommandHandler)
	slackRoutes.POST("/interactivity", s.slackInteractivityHandler)

	r.POST(queue.DispatchPath, s.dispatchHandler)

	cron := r.Group("/cron", s.requireBearer(s.env.CronToken))
	cron.POST("/expire-clarification-sessions", s.expireSessionsHandler)
	cron.POST("/monitor-stuck-cases", s.monitorStuckHandler)
	cron.POST("/case-leaderboard", s.leaderboardHandler)
	cron.POST("/case-queue-report", s.queueReportHandler)
	cron.POST("/case-queue-snapshot", s.queueSnapshotHandler)

	v1 := r.Group("/api/v1", s.requireBearer(s.env.AdminBearerToken))
	v1.GET("/escalations/:id", s.getEscalationHandler)

	admin := v1.Group("/admin")
	admin.GET("/projects/:id/config", s.getProjectConfigHandler)
	admin.PUT("/projects/:id/config", s.putProjectConfigHandler)
	admin.GET("/clients/:id/settings", s.getClientSettingsHandler)
	admin.PUT("/clients/:id/settings", s.putClientSettingsHandler)
	admin.GET("/evaluations/summary", s.evaluationSummaryHandler)
	admin.GET("/reviews", s.listReviewsHandler)
	admin.POST("/reviews/:gateID", s.reviewGateHandler)
	admin.GET("/reports/catalog-redirects", s.catalogRedirectsHandler)
	admin.GET("/reports/missing-categories", s.missingCategoriesHandler)

	return r
}

// Start serves HTTP on addr and blocks until shutdown.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
