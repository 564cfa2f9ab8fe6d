package plans

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/qrfeedback/platform/internal/logging"
	"github.com/qrfeedback/platform/internal/metrics"
	"github.com/redis/go-redis/v9"
)

// catalogKey holds the JSON-encoded result of List.
const catalogKey = "qrfeedback:plans:catalog"

// CachedStore is a read-through Redis cache in front of a Store. Only List
// is cached; ApplyBatch invalidates it. Redis failures fall back to the
// underlying store.
type CachedStore struct {
	Store
	client *redis.Client
	ttl    time.Duration
}

// NewCachedStore wraps inner with a Redis cache entry that lives for ttl.
func NewCachedStore(inner Store, client *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{Store: inner, client: client, ttl: ttl}
}

func (c *CachedStore) List(ctx context.Context) ([]*Plan, error) {
	raw, err := c.client.Get(ctx, catalogKey).Bytes()
	switch {
	case err == nil:
		var cached []*Plan
		if jsonErr := json.Unmarshal(raw, &cached); jsonErr == nil {
			metrics.PlanCacheLookupsTotal.WithLabelValues("hit").Inc()
			return cached, nil
		}
		metrics.PlanCacheLookupsTotal.WithLabelValues("error").Inc()
	case errors.Is(err, redis.Nil):
		metrics.PlanCacheLookupsTotal.WithLabelValues("miss").Inc()
	default:
		metrics.PlanCacheLookupsTotal.WithLabelValues("error").Inc()
		logging.L(ctx).Warn("plan cache read failed", "error", err)
	}

	list, err := c.Store.List(ctx)
	if err != nil {
		return nil, err
	}
	if encoded, err := json.Marshal(list); err == nil {
		if err := c.client.Set(ctx, catalogKey, encoded, c.ttl).Err(); err != nil {
			logging.L(ctx).Warn("plan cache write failed", "error", err)
		}
	}
	return list, nil
}

func (c *CachedStore) ApplyBatch(ctx context.Context, deleteIDs []string, plans []*Plan) error {
	if err := c.Store.ApplyBatch(ctx, deleteIDs, plans); err != nil {
		return err
	}
	if err := c.Invalidate(ctx); err != nil {
		logging.L(ctx).Warn("plan cache invalidation failed", "error", err)
	}
	return nil
}

// Invalidate drops the cached catalog.
func (c *CachedStore) Invalidate(ctx context.Context) error {
	return c.client.Del(ctx, catalogKey).Err()
}

// Ping checks the Redis connection; used by the health registry.
func (c *CachedStore) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

var _ Store = (*CachedStore)(nil)
