package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// RoundArchive persists fetched round results. Results are immutable, so
// Save is an idempotent upsert.
type RoundArchive interface {
	Save(ctx context.Context, res RoundResult) error
	Get(ctx context.Context, poolID, round uint64) (RoundResult, error)
	List(ctx context.Context, poolID uint64) ([]RoundResult, error)
}

// PoolStore persists pool snapshots taken during sync.
type PoolStore interface {
	Upsert(ctx context.Context, pool Pool) error
	UpsertBatch(ctx context.Context, pools []Pool) error
	GetByID(ctx context.Context, id uint64) (Pool, error)
	List(ctx context.Context, opts ListOpts) ([]Pool, error)
	Count(ctx context.Context) (int64, error)
}

// SelectionStore is durable per-pool "local storage" for the viewer's
// selection. Get returns ErrNotFound when no value is stored.
type SelectionStore interface {
	Get(ctx context.Context, key string) (Choice, error)
	Set(ctx context.Context, key string, choice Choice) error
	Delete(ctx context.Context, key string) error
}

// AuditEntry is a single audit log row. IntentID and PoolID are lifted out
// of the detail so wallet actions can be traced without scanning JSON.
type AuditEntry struct {
	ID        int64
	Event     string
	IntentID  string
	PoolID    *uint64
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditQuery filters the audit log. Zero fields match everything.
type AuditQuery struct {
	ListOpts
	// EventPrefix matches events such as "account." or "account.join.".
	EventPrefix string
	IntentID    string
	PoolID      *uint64
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, q AuditQuery) ([]AuditEntry, error)
}
