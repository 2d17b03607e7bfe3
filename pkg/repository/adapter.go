package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/caseops/casepilot/pkg/audit"
	"github.com/caseops/casepilot/pkg/config"
	"github.com/caseops/casepilot/pkg/flags"
	"github.com/caseops/casepilot/pkg/metrics"
	"github.com/caseops/casepilot/pkg/models"
	"github.com/caseops/casepilot/pkg/overview"
	"github.com/caseops/casepilot/pkg/servicenow"
	"github.com/caseops/casepilot/pkg/taxonomy"
)

// Adapter routes reads between the cached repository and the legacy
// direct path per caller. Cached-path failures fall back to legacy with
// an audit entry unless strict mode is on.
type Adapter struct {
	legacy  *Legacy
	cached  *Cached
	flags   *flags.Evaluator
	strict  bool
	audit   audit.Recorder
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewAdapter wires both paths over one ServiceNow client.
func NewAdapter(client Client, rdb redis.UniversalClient, eval *flags.Evaluator, cfg *config.RepositoriesConfig, recorder audit.Recorder, m *metrics.Metrics) *Adapter {
	if cfg == nil {
		cfg = config.DefaultRepositoriesConfig()
	}
	return &Adapter{
		legacy:  NewLegacy(client),
		cached:  NewCached(client, rdb, cfg.CacheTTL.Duration(), m),
		flags:   eval,
		strict:  cfg.StrictMode,
		audit:   recorder,
		metrics: m,
		logger:  slog.Default().With("component", "repository"),
	}
}

// For returns the repo for the triggering caller. Flagged-in callers
// get the cached path with legacy fallback; everyone else gets legacy.
func (a *Adapter) For(userID, channelID string) Repo {
	if a.flags.Decide(userID, channelID) {
		return &fallbackRepo{adapter: a}
	}
	return a.legacy
}

// Legacy exposes the direct path for callers that must bypass routing,
// such as the health probe.
func (a *Adapter) Legacy() Repo { return a.legacy }

// fallbackRepo runs reads against the cached path and retries failures
// on legacy. Writes share one path underneath, so they pass through.
type fallbackRepo struct {
	adapter *Adapter
}

var _ Repo = (*fallbackRepo)(nil)

func (f *fallbackRepo) GetCase(ctx context.Context, sysID string) (*models.Case, error) {
	return withFallback(ctx, f.adapter, "get_case", sysID,
		func(ctx context.Context) (*models.Case, error) { return f.adapter.cached.GetCase(ctx, sysID) },
		func(ctx context.Context) (*models.Case, error) { return f.adapter.legacy.GetCase(ctx, sysID) })
}

func (f *fallbackRepo) GetCaseByNumber(ctx context.Context, number string) (*models.Case, error) {
	return withFallback(ctx, f.adapter, "get_case_by_number", number,
		func(ctx context.Context) (*models.Case, error) { return f.adapter.cached.GetCaseByNumber(ctx, number) },
		func(ctx context.Context) (*models.Case, error) { return f.adapter.legacy.GetCaseByNumber(ctx, number) })
}

func (f *fallbackRepo) QuerySimilarCases(ctx context.Context, kase *models.Case, limit int) ([]models.SimilarCase, error) {
	key := ""
	if kase != nil {
		key = kase.Number
	}
	return withFallback(ctx, f.adapter, "query_similar_cases", key,
		func(ctx context.Context) ([]models.SimilarCase, error) {
			return f.adapter.cached.QuerySimilarCases(ctx, kase, limit)
		},
		func(ctx context.Context) ([]models.SimilarCase, error) {
			return f.adapter.legacy.QuerySimilarCases(ctx, kase, limit)
		})
}

func (f *fallbackRepo) GetBusinessContext(ctx context.Context, company string) (*models.BusinessContext, error) {
	return withFallback(ctx, f.adapter, "get_business_context", company,
		func(ctx context.Context) (*models.BusinessContext, error) {
			return f.adapter.cached.GetBusinessContext(ctx, company)
		},
		func(ctx context.Context) (*models.BusinessContext, error) {
			return f.adapter.legacy.GetBusinessContext(ctx, company)
		})
}

func (f *fallbackRepo) SearchKB(ctx context.Context, query string, limit int) ([]models.KBArticle, error) {
	return withFallback(ctx, f.adapter, "search_kb", query,
		func(ctx context.Context) ([]models.KBArticle, error) { return f.adapter.cached.SearchKB(ctx, query, limit) },
		func(ctx context.Context) ([]models.KBArticle, error) { return f.adapter.legacy.SearchKB(ctx, query, limit) })
}

func (f *fallbackRepo) ListAssignmentGroups(ctx context.Context) ([]string, error) {
	return withFallback(ctx, f.adapter, "list_assignment_groups", "",
		f.adapter.cached.ListAssignmentGroups,
		f.adapter.legacy.ListAssignmentGroups)
}

func (f *fallbackRepo) AppendWorkNote(ctx context.Context, sysID, note string) error {
	return f.adapter.cached.AppendWorkNote(ctx, sysID, note)
}

func (f *fallbackRepo) AppendOverviewNote(ctx context.Context, sysID string, artifact *overview.Artifact) error {
	return f.adapter.cached.AppendOverviewNote(ctx, sysID, artifact)
}

func withFallback[T any](ctx context.Context, a *Adapter, op, key string, cached, legacy func(context.Context) (T, error)) (T, error) {
	val, err := cached(ctx)
	if err == nil || !shouldFallBack(err) {
		return val, err
	}
	if a.strict {
		var zero T
		return zero, fmt.Errorf("repository %s failed in strict mode: %w", op, err)
	}

	a.logger.Warn("falling back to legacy path", "operation", op, "key", key, "error", err)
	a.metrics.RecordRepositoryFallback(op)
	if a.audit != nil {
		a.audit.Record(ctx, &models.AuditEntry{
			EntityType: models.AuditEntityRepository,
			EntityID:   op,
			Action:     "fallback",
			Reason:     err.Error(),
			Actor:      "system",
			Metadata:   models.JSONMap{"operation": op, "key": key},
		})
	}
	return legacy(ctx)
}

// shouldFallBack excludes errors the legacy path would reproduce
// deterministically.
func shouldFallBack(err error) bool {
	if errors.Is(err, servicenow.ErrNotFound) {
		return false
	}
	return taxonomy.KindOf(err) != taxonomy.KindValidation
}
