// Package rediscache decorates a storage.Adapter with a read-through query
// cache. Grounded on the teacher's services.CacheService
// (internal/services/cache.go) for the go-redis client idiom and metrics
// counters.
//
// Caching a Query result never skips the retrieval guard: a cache hit is
// re-verified (expiry, scope isolation, sensitivity, allow_read) exactly
// like a fresh backend read, because the cache itself is just another
// untrusted source of candidate rows — the same "advisory, not trusted"
// rule storage.Adapter's package doc applies to a SQL WHERE clause applies
// here too.
package rediscache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/pavilion-trust/amg-gateway/internal/gtype"
	"github.com/pavilion-trust/amg-gateway/internal/storage"
)

// Adapter wraps a storage.Adapter, caching Query results in Redis.
type Adapter struct {
	storage.Adapter
	client *redis.Client
	ttl    time.Duration

	hitCount   int64
	missCount  int64
	errorCount int64
}

// New wraps inner with a Redis-backed query cache at addr, entries expiring
// after ttl.
func New(inner storage.Adapter, addr, password string, db int, ttl time.Duration) *Adapter {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		PoolSize: 10,
	})
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Adapter{Adapter: inner, client: client, ttl: ttl}
}

type cachedQuery struct {
	Memories []gtype.Memory     `json:"memories"`
	Audit    gtype.AuditRecord  `json:"audit"`
}

// Query serves from cache when available, re-verifying every candidate's
// retrieval guard before returning it; on a cache miss it delegates to the
// wrapped adapter and populates the cache with the fresh result.
func (a *Adapter) Query(ctx context.Context, filters storage.Filters, callerAgentID, actorID string, check storage.PolicyCheck) ([]gtype.Memory, gtype.AuditRecord, error) {
	key := cacheKey(filters, callerAgentID)

	if cached, ok := a.readCache(ctx, key); ok {
		a.hitCount++
		verified := reverifyGuard(cached.Memories, callerAgentID, check)
		return verified, cached.Audit, nil
	}
	a.missCount++

	memories, rec, err := a.Adapter.Query(ctx, filters, callerAgentID, actorID, check)
	if err != nil {
		return nil, gtype.AuditRecord{}, err
	}

	a.writeCache(ctx, key, cachedQuery{Memories: memories, Audit: rec})
	return memories, rec, nil
}

// reverifyGuard re-applies expiry, scope isolation, sensitivity allow-list,
// and allow_read to every cached candidate. A cache entry can outlive a
// memory's TTL or a policy change made after it was cached, so cached rows
// are never trusted outright.
func reverifyGuard(candidates []gtype.Memory, callerAgentID string, check storage.PolicyCheck) []gtype.Memory {
	now := time.Now().UTC()
	out := make([]gtype.Memory, 0, len(candidates))
	for _, mem := range candidates {
		if mem.IsExpired(now) {
			continue
		}
		if mem.Policy.Scope == gtype.ScopeAgent && mem.AgentID != callerAgentID {
			continue
		}
		if len(check.SensitivityAllow) > 0 {
			allowed := false
			for _, s := range check.SensitivityAllow {
				if s == mem.Policy.Sensitivity {
					allowed = true
					break
				}
			}
			if !allowed {
				continue
			}
		}
		if !mem.Policy.AllowRead {
			continue
		}
		out = append(out, mem)
	}
	return out
}

func (a *Adapter) readCache(ctx context.Context, key string) (cachedQuery, bool) {
	result, err := a.client.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			a.errorCount++
		}
		return cachedQuery{}, false
	}
	var cached cachedQuery
	if err := json.Unmarshal([]byte(result), &cached); err != nil {
		a.errorCount++
		return cachedQuery{}, false
	}
	return cached, true
}

func (a *Adapter) writeCache(ctx context.Context, key string, cached cachedQuery) {
	data, err := json.Marshal(cached)
	if err != nil {
		a.errorCount++
		return
	}
	if err := a.client.Set(ctx, key, data, a.ttl).Err(); err != nil {
		a.errorCount++
	}
}

func cacheKey(filters storage.Filters, callerAgentID string) string {
	return fmt.Sprintf("amg:query:%s:%v:%v:%s:%v", callerAgentID, filters.MemoryTypes, filters.Sensitivity, filters.Scope, filters.Vector)
}

// Stats reports cache hit/miss/error counters, grounded on the teacher's
// CacheService.GetCacheMetrics.
type Stats struct {
	HitCount   int64
	MissCount  int64
	ErrorCount int64
	HitRate    float64
}

func (a *Adapter) Stats() Stats {
	total := a.hitCount + a.missCount
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(a.hitCount) / float64(total)
	}
	return Stats{HitCount: a.hitCount, MissCount: a.missCount, ErrorCount: a.errorCount, HitRate: hitRate}
}

// HealthCheck verifies both the Redis connection and the wrapped adapter.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	if _, err := a.client.Ping(ctx).Result(); err != nil {
		return gtype.StorageError("redis ping failed", err)
	}
	return a.Adapter.HealthCheck(ctx)
}

// Close releases the Redis client.
func (a *Adapter) Close() error {
	return a.client.Close()
}
