package domain

import (
	"context"
	"time"
)

// PoolCache provides fast pool snapshot lookups.
type PoolCache interface {
	Set(ctx context.Context, summary PoolSummary) error
	Get(ctx context.Context, id uint64) (PoolSummary, error)
	Invalidate(ctx context.Context, id uint64) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides pub/sub between the daemon's components and its API
// clients. Subscribers use patterns; an exact channel is a pattern without
// wildcards.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	PSubscribe(ctx context.Context, pattern string) (<-chan BusMessage, error)
}

// BusMessage is one message received through a pattern subscription.
type BusMessage struct {
	Channel string
	Payload []byte
}

// Bus channel names.
const (
	ChannelPools = "ch:pools"
)

// PoolChannel carries decoded chain events for one pool.
func PoolChannel(poolID uint64) string { return "ch:pool:" + itoa(poolID) }

// GameChannel carries game views for one pool.
func GameChannel(poolID uint64) string { return "ch:game:" + itoa(poolID) }
