package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/flareflip/internal/domain"
)

const defaultPoolTTL = time.Minute

// PoolCache implements domain.PoolCache. Each summary is stored as JSON in
// the "data" field of the hash pool:{id} with a TTL, and the id is added to
// the pool:index set.
type PoolCache struct {
	c   *Client
	ttl time.Duration
}

// NewPoolCache creates a PoolCache. A zero ttl uses one minute.
func NewPoolCache(c *Client, ttl time.Duration) *PoolCache {
	if ttl <= 0 {
		ttl = defaultPoolTTL
	}
	return &PoolCache{c: c, ttl: ttl}
}

func (pc *PoolCache) poolKey(id uint64) string {
	return pc.c.key("pool", strconv.FormatUint(id, 10))
}

// Set stores a pool summary.
func (pc *PoolCache) Set(ctx context.Context, summary domain.PoolSummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("redis: marshal pool %d: %w", summary.ID, err)
	}
	key := pc.poolKey(summary.ID)

	pipe := pc.c.rdb.TxPipeline()
	pipe.HSet(ctx, key, "data", data, "status", string(summary.DisplayStatus))
	pipe.Expire(ctx, key, pc.ttl)
	pipe.SAdd(ctx, pc.c.key("pool", "index"), summary.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set pool %d: %w", summary.ID, err)
	}
	return nil
}

// Get returns a cached summary or domain.ErrNotFound.
func (pc *PoolCache) Get(ctx context.Context, id uint64) (domain.PoolSummary, error) {
	data, err := pc.c.rdb.HGet(ctx, pc.poolKey(id), "data").Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.PoolSummary{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.PoolSummary{}, fmt.Errorf("redis: get pool %d: %w", id, err)
	}
	var s domain.PoolSummary
	if err := json.Unmarshal(data, &s); err != nil {
		return domain.PoolSummary{}, fmt.Errorf("redis: unmarshal pool %d: %w", id, err)
	}
	return s, nil
}

// Invalidate drops a cached summary.
func (pc *PoolCache) Invalidate(ctx context.Context, id uint64) error {
	pipe := pc.c.rdb.TxPipeline()
	pipe.Del(ctx, pc.poolKey(id))
	pipe.SRem(ctx, pc.c.key("pool", "index"), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: invalidate pool %d: %w", id, err)
	}
	return nil
}

var _ domain.PoolCache = (*PoolCache)(nil)
