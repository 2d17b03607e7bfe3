// CasePilot triage server: provides the HTTP intake surface, manages
// queue workers, and runs the case evaluation pipeline.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/caseops/casepilot/pkg/api"
	"github.com/caseops/casepilot/pkg/audit"
	"github.com/caseops/casepilot/pkg/clarify"
	"github.com/caseops/casepilot/pkg/cleanup"
	"github.com/caseops/casepilot/pkg/config"
	"github.com/caseops/casepilot/pkg/contextpack"
	"github.com/caseops/casepilot/pkg/database"
	"github.com/caseops/casepilot/pkg/embedding"
	"github.com/caseops/casepilot/pkg/escalation"
	"github.com/caseops/casepilot/pkg/flags"
	"github.com/caseops/casepilot/pkg/intake"
	"github.com/caseops/casepilot/pkg/llm"
	"github.com/caseops/casepilot/pkg/masking"
	"github.com/caseops/casepilot/pkg/memory"
	"github.com/caseops/casepilot/pkg/metrics"
	"github.com/caseops/casepilot/pkg/monitor"
	"github.com/caseops/casepilot/pkg/pipeline"
	"github.com/caseops/casepilot/pkg/queue"
	"github.com/caseops/casepilot/pkg/repository"
	"github.com/caseops/casepilot/pkg/servicenow"
	"github.com/caseops/casepilot/pkg/slack"
	"github.com/caseops/casepilot/pkg/store"
	"github.com/caseops/casepilot/pkg/validator"
	"github.com/caseops/casepilot/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// resolvePodID determines the pod identifier for multi-replica coordination.
// Priority: POD_ID env > HOSTNAME env > "local"
func resolvePodID() string {
	if id := os.Getenv("POD_ID"); id != "" {
		return id
	}
	if hostname := os.Getenv("HOSTNAME"); hostname != "" {
		return hostname
	}
	return "local"
}

func main() {
	// Parse command-line flags
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	podID := resolvePodID()

	slog.Info("Starting CasePilot",
		"build", version.String(),
		"http_port", httpPort,
		"pod_id", podID,
		"config_dir", *configDir)

	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}
	env := cfg.Env

	// Hot-reload flags and thresholds on config file changes. A broken
	// watcher never blocks startup; the loaded snapshot keeps serving.
	watcher, err := config.NewWatcher(cfg)
	if err != nil {
		slog.Warn("Config watcher unavailable", "error", err)
	} else if err := watcher.Start(ctx); err != nil {
		slog.Warn("Config watcher failed to start", "error", err)
	} else {
		defer func() {
			if err := watcher.Stop(); err != nil {
				slog.Error("Error stopping config watcher", "error", err)
			}
		}()
	}

	// 2. Initialize database
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}

	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	st := store.New(dbClient.DB())
	m := metrics.New()

	// 3. Audit sink (best-effort writes, background flush)
	sink := audit.NewSink(st.Audit)
	sink.Start(ctx)
	defer sink.Stop()

	// 4. Redis (optional): dedup and repository caching degrade to
	// in-process fallbacks without it.
	// Note: go-redis dials lazily; actual connection happens on first command.
	var rdb redis.UniversalClient
	if env.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: env.RedisAddr})
		defer func() {
			if err := client.Close(); err != nil {
				slog.Error("Error closing Redis client", "error", err)
			}
		}()
		rdb = client
		slog.Info("Redis configured", "addr", env.RedisAddr)
	} else {
		slog.Warn("REDIS_ADDR not set, running with in-process dedup and no read cache")
	}

	// 5. ServiceNow client and repository layer
	maskingService := masking.NewService(cfg.Masking)

	snClient, err := servicenow.NewClient(servicenow.Config{
		BaseURL:  env.ServiceNowBaseURL,
		Token:    env.ServiceNowToken,
		Username: env.ServiceNowUsername,
		Password: env.ServiceNowPassword,
	})
	if err != nil {
		slog.Error("Failed to initialize ServiceNow client", "error", err)
		os.Exit(1)
	}

	eval := flags.NewEvaluator(cfg.Flags)
	repoAdapter := repository.NewAdapter(snClient, rdb, eval, cfg.Repositories, sink, m)
	// Worker traffic carries no interactive caller; it stays on legacy
	// unless the rollout is force-enabled.
	repo := repoAdapter.For("", "")
	slog.Info("Repository layer initialized", "strict_mode", cfg.Repositories.StrictMode)

	// 6. Exemplar memory (optional; requires embeddings)
	var memSvc *memory.Service
	if env.OpenAIAPIKey != "" {
		embedder, err := embedding.NewOpenAIClient(env.OpenAIAPIKey, env.CaseEmbeddingModel)
		if err != nil {
			slog.Error("Failed to initialize embedding client", "error", err)
			os.Exit(1)
		}
		memSvc = memory.NewService(st.Exemplars, embedder, cfg.Memory)
		slog.Info("Exemplar memory enabled")
	} else {
		slog.Warn("OPENAI_API_KEY not set, exemplar memory disabled")
	}

	// 7. Classification pipeline and validation engine
	llmClient, err := llm.NewAnthropicClient(env.AnthropicAPIKey, cfg.LLM)
	if err != nil {
		slog.Error("Failed to initialize LLM client", "error", err)
		os.Exit(1)
	}
	pipe := pipeline.New(llmClient, cfg.LLM, sink, m)
	engine := validator.NewEngine(cfg.Thresholds(), cfg.Categories)
	slog.Info("Pipeline initialized", "model", cfg.LLM.Model)

	// 8. Slack, escalation routing, clarification
	slackSvc := slack.NewService(slack.ServiceConfig{
		Token:             env.SlackBotToken,
		TriageChannelID:   env.TriageChannelID,
		EscalationChannel: cfg.EscalationChannel(),
	})
	if slackSvc == nil {
		slog.Warn("Slack not configured, review posts and escalation notices disabled")
	}

	router := escalation.NewRouter(st.Escalations, slackSvc, sink, m, escalation.Options{
		Rules:            cfg.Escalation.Rules,
		DefaultChannel:   cfg.EscalationChannel(),
		BIScoreThreshold: cfg.Thresholds().BIScore,
		NonBAUCategories: cfg.Categories.NonBAU,
	})

	clarifyMgr := clarify.NewManager(clarify.Deps{
		Sessions:  st.Sessions,
		Gates:     st.Gates,
		Clients:   st.Clients,
		Cases:     repo,
		Notifier:  slackSvc,
		Notes:     repo,
		Jobs:      st.Jobs,
		Validator: engine,
		Audit:     sink,
		Metrics:   m,
		Config:    cfg.Clarification,
	})

	// 9. Case executor and worker pool (workers start before HTTP)
	packs := contextpack.NewBuilder(memSvc, maskingService)
	executor := queue.NewCaseExecutor(queue.ExecutorDeps{
		Packs:     packs,
		Repo:      repo,
		Pipeline:  pipe,
		Validator: engine,
		Gates:     st.Gates,
		Clarify:   clarifyMgr,
		Router:    router,
		Slack:     slackSvc,
		Audit:     sink,
		Metrics:   m,
	})

	workerPool := queue.NewWorkerPool(podID, st.Jobs, st.Gates, cfg.Queue, executor, m)
	if err := workerPool.Start(ctx); err != nil {
		slog.Error("Failed to start worker pool", "error", err)
		os.Exit(1)
	}

	// 10. Intake dispatch (publisher with inline fallback)
	publisher := queue.NewPublisher(st.Jobs, env.QueueSigningKey, env.WorkerURL)
	dispatcher := intake.NewDispatcher(intake.DispatcherDeps{
		Publisher: publisher,
		Inline:    executor,
		Dedup:     intake.NewDeduper(rdb, 0),
		Audit:     sink,
		Metrics:   m,
	})

	// 11. Stuck-case monitor and retention sweeps
	mon := monitor.New(monitor.Deps{
		Gates:     st.Gates,
		Escalator: router,
		Notifier:  slackSvc,
		Sessions:  st.Sessions,
		Jobs:      st.Jobs,
		Snapshots: st.Snapshots,
		Groups:    repo,
		Metrics:   m,
		Config:    cfg.Monitor,
	})

	retention := cleanup.NewService(cfg.Retention, st.Jobs, st.Snapshots, st.Audit)
	retention.Start(ctx)
	defer retention.Stop()

	// 12. Create HTTP server
	httpServer := api.NewServer(api.Deps{
		Env:         env,
		DB:          dbClient,
		Redis:       rdb,
		Intake:      dispatcher,
		Jobs:        st.Jobs,
		Pool:        workerPool,
		Clarify:     clarifyMgr,
		Monitor:     mon,
		Ack:         router,
		Escalations: st.Escalations,
		Gates:       st.Gates,
		Projects:    st.Projects,
		Clients:     st.Clients,
		Exemplars:   st.Exemplars,
		Memory:      memSvc,
		Audit:       sink,
		Metrics:     m,
	})

	// 13. Start HTTP server (non-blocking)
	errCh := make(chan error, 1)
	go func() {
		addr := ":" + httpPort
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("CasePilot started successfully",
		"pod_id", podID,
		"workers", cfg.Queue.WorkerCount)

	// 14. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 15. Graceful shutdown
	workerShutdownCtx, workerCancel := context.WithTimeout(ctx, cfg.Queue.GracefulShutdownTimeout.Duration())
	defer workerCancel()

	// Drain inline intake work first (inline jobs are lighter, shorter)
	if err := dispatcher.Drain(workerShutdownCtx); err != nil {
		slog.Warn("Inline intake drain timeout exceeded", "error", err)
	} else {
		slog.Info("Intake dispatcher drained")
	}

	// Stop worker pool (wait for claimed jobs to complete)
	done := make(chan struct{})
	go func() {
		workerPool.Stop()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Worker pool stopped gracefully")
	case <-workerShutdownCtx.Done():
		slog.Warn("Shutdown timeout exceeded, incomplete jobs will be orphan-recovered")
	}

	// Stop HTTP server with its own timeout budget
	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
