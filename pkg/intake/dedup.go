package intake

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultDedupTTL bounds the window in which a replayed external event
// counts as a duplicate.
const DefaultDedupTTL = 5 * time.Minute

const dedupKeyPrefix = "intake:dedup:"

// Deduper claims dedup keys via Redis SETNX. When Redis is unreachable
// it falls back to a per-pod in-memory window, so duplicate suppression
// degrades from cluster-wide to pod-local instead of disappearing; the
// jobs table unique index remains the cross-pod backstop.
type Deduper struct {
	rdb redis.UniversalClient
	ttl time.Duration

	mu    sync.Mutex
	local map[string]time.Time

	clock  func() time.Time
	logger *slog.Logger
}

// NewDeduper creates a deduper over the given Redis client. A nil
// client skips Redis entirely and runs on the in-memory window alone.
func NewDeduper(rdb redis.UniversalClient, ttl time.Duration) *Deduper {
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	return &Deduper{
		rdb:    rdb,
		ttl:    ttl,
		local:  make(map[string]time.Time),
		clock:  time.Now,
		logger: slog.Default().With("component", "intake"),
	}
}

// Claim marks key as seen. fresh is false when the key was already
// claimed inside the TTL window. degraded reports that Redis failed and
// the in-memory fallback answered instead.
func (d *Deduper) Claim(ctx context.Context, key string) (fresh bool, degraded bool) {
	if d == nil || key == "" {
		return true, false
	}
	if d.rdb != nil {
		ok, err := d.rdb.SetNX(ctx, dedupKeyPrefix+key, 1, d.ttl).Result()
		if err == nil {
			return ok, false
		}
		d.logger.Warn("Dedup store unreachable, using in-memory window",
			"key", key,
			"error", err)
		degraded = true
	}
	return d.claimLocal(key), degraded
}

func (d *Deduper) claimLocal(key string) bool {
	now := d.clock()

	d.mu.Lock()
	defer d.mu.Unlock()

	for k, expiry := range d.local {
		if now.After(expiry) {
			delete(d.local, k)
		}
	}
	if expiry, ok := d.local[key]; ok && now.Before(expiry) {
		return false
	}
	d.local[key] = now.Add(d.ttl)
	return true
}

// Release frees a claimed key so the source can retry after a failed
// enqueue. Best-effort on the Redis side.
func (d *Deduper) Release(ctx context.Context, key string) {
	if d == nil || key == "" {
		return
	}
	if d.rdb != nil {
		if err := d.rdb.Del(ctx, dedupKeyPrefix+key).Err(); err != nil {
			d.logger.Warn("Failed to release dedup key",
				"key", key,
				"error", err)
		}
	}
	d.mu.Lock()
	delete(d.local, key)
	d.mu.Unlock()
}
