package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/caseops/casepilot/pkg/metrics"
	"github.com/caseops/casepilot/pkg/models"
	"github.com/caseops/casepilot/pkg/overview"
)

const cacheKeyPrefix = "casepilot:repo:"

// Cached is the repository path: the same client with a Redis
// read-through cache over the slow-changing lookups (business context,
// KB search, assignment groups). Case and similar-case reads stay
// uncached because they must reflect the live record. A nil or
// unreachable Redis degrades to direct loads.
type Cached struct {
	direct  *Legacy
	redis   redis.UniversalClient
	ttl     time.Duration
	metrics *metrics.Metrics
	logger  *slog.Logger
}

var _ Repo = (*Cached)(nil)

// NewCached creates the cached repository.
func NewCached(client Client, rdb redis.UniversalClient, ttl time.Duration, m *metrics.Metrics) *Cached {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Cached{
		direct:  NewLegacy(client),
		redis:   rdb,
		ttl:     ttl,
		metrics: m,
		logger:  slog.Default().With("component", "repository"),
	}
}

func (c *Cached) GetCase(ctx context.Context, sysID string) (*models.Case, error) {
	return c.direct.GetCase(ctx, sysID)
}

func (c *Cached) GetCaseByNumber(ctx context.Context, number string) (*models.Case, error) {
	return c.direct.GetCaseByNumber(ctx, number)
}

func (c *Cached) QuerySimilarCases(ctx context.Context, kase *models.Case, limit int) ([]models.SimilarCase, error) {
	return c.direct.QuerySimilarCases(ctx, kase, limit)
}

func (c *Cached) GetBusinessContext(ctx context.Context, company string) (*models.BusinessContext, error) {
	key := cacheKeyPrefix + "business:" + normalizeKey(company)
	return readThrough(ctx, c, key, func(ctx context.Context) (*models.BusinessContext, error) {
		return c.direct.GetBusinessContext(ctx, company)
	})
}

func (c *Cached) SearchKB(ctx context.Context, query string, limit int) ([]models.KBArticle, error) {
	key := fmt.Sprintf("%skb:%s:%d", cacheKeyPrefix, normalizeKey(query), limit)
	return readThrough(ctx, c, key, func(ctx context.Context) ([]models.KBArticle, error) {
		return c.direct.SearchKB(ctx, query, limit)
	})
}

func (c *Cached) ListAssignmentGroups(ctx context.Context) ([]string, error) {
	return readThrough(ctx, c, cacheKeyPrefix+"groups", c.direct.ListAssignmentGroups)
}

func (c *Cached) AppendWorkNote(ctx context.Context, sysID, note string) error {
	return c.direct.AppendWorkNote(ctx, sysID, note)
}

func (c *Cached) AppendOverviewNote(ctx context.Context, sysID string, artifact *overview.Artifact) error {
	return c.direct.AppendOverviewNote(ctx, sysID, artifact)
}

// readThrough serves from Redis when possible and otherwise loads and
// caches. Cache infrastructure failures degrade to a direct load; only
// loader errors surface, and errors are never cached.
func readThrough[T any](ctx context.Context, c *Cached, key string, load func(context.Context) (T, error)) (T, error) {
	if c.redis != nil {
		raw, err := c.redis.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			var cached T
			if jsonErr := json.Unmarshal(raw, &cached); jsonErr == nil {
				c.metrics.RecordCacheHit()
				return cached, nil
			}
			c.logger.Warn("dropping undecodable cache entry", "key", key)
		case !errors.Is(err, redis.Nil):
			c.logger.Warn("cache read failed", "key", key, "error", err)
		}
	}
	c.metrics.RecordCacheMiss()

	val, err := load(ctx)
	if err != nil {
		var zero T
		return zero, err
	}

	if c.redis != nil {
		if raw, marshalErr := json.Marshal(val); marshalErr == nil {
			if setErr := c.redis.Set(ctx, key, raw, c.ttl).Err(); setErr != nil {
				c.logger.Warn("cache write failed", "key", key, "error", setErr)
			}
		}
	}
	return val, nil
}

// normalizeKey folds case and whitespace so differently-typed company
// names and queries share one cache entry.
func normalizeKey(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
