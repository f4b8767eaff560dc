package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/flareflip/internal/domain"
	"github.com/alanyoungcy/flareflip/internal/game"
	"github.com/alanyoungcy/flareflip/internal/notify"
	"github.com/alanyoungcy/flareflip/internal/pools"
)

// syncConcurrency bounds parallel pool reads during a sync.
const syncConcurrency = 8

// PoolReader is the contract surface the pool list needs.
type PoolReader interface {
	PoolCount(ctx context.Context) (uint64, error)
	Pool(ctx context.Context, id uint64) (domain.Pool, error)
}

// PoolUpdate is published on domain.ChannelPools.
type PoolUpdate struct {
	Type      string              `json:"type"`
	Pool      *domain.PoolSummary `json:"pool,omitempty"`
	Count     int                 `json:"count,omitempty"`
	Activated bool                `json:"activated,omitempty"`
}

// PoolService keeps the pool list in sync with the contract and mirrors it to
// postgres and the redis pool cache.
type PoolService struct {
	reader   PoolReader
	list     *pools.List
	store    domain.PoolStore
	cache    domain.PoolCache
	bus      domain.SignalBus
	notifier *notify.Notifier
	pageSize int
	logger   *slog.Logger
}

// NewPoolService creates a PoolService. store, cache, bus and notifier may be
// nil.
func NewPoolService(
	reader PoolReader,
	list *pools.List,
	store domain.PoolStore,
	cache domain.PoolCache,
	bus domain.SignalBus,
	notifier *notify.Notifier,
	pageSize int,
	logger *slog.Logger,
) *PoolService {
	if logger == nil {
		logger = slog.Default()
	}
	if pageSize < 1 {
		pageSize = pools.DefaultPageSize
	}
	return &PoolService{
		reader:   reader,
		list:     list,
		store:    store,
		cache:    cache,
		bus:      bus,
		notifier: notifier,
		pageSize: pageSize,
		logger:   logger.With(slog.String("component", "pool_service")),
	}
}

// Sync reads every pool from the contract and folds them into the list.
// Pools that fail to read are skipped and picked up on the next sync.
func (s *PoolService) Sync(ctx context.Context) error {
	count, err := s.reader.PoolCount(ctx)
	if err != nil {
		return fmt.Errorf("pool_service: pool count: %w", err)
	}

	read := make([]*domain.Pool, count)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(syncConcurrency)
	for id := uint64(0); id < count; id++ {
		g.Go(func() error {
			p, err := s.reader.Pool(gctx, id)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				s.logger.WarnContext(gctx, "pool_service: read pool failed",
					slog.Uint64("pool_id", id),
					slog.String("error", err.Error()),
				)
				return nil
			}
			read[id] = &p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("pool_service: sync: %w", err)
	}

	fetched := make([]domain.Pool, 0, count)
	for _, p := range read {
		if p != nil {
			fetched = append(fetched, *p)
		}
	}
	s.list.Replace(fetched)

	if s.store != nil && len(fetched) > 0 {
		if err := s.store.UpsertBatch(ctx, fetched); err != nil {
			s.logger.WarnContext(ctx, "pool_service: persist snapshots failed", slog.String("error", err.Error()))
		}
	}
	for _, p := range fetched {
		if sum, ok := s.list.Get(p.ID); ok {
			s.cacheSet(ctx, sum)
		}
	}
	s.publish(ctx, PoolUpdate{Type: "synced", Count: s.list.Len()})

	s.logger.InfoContext(ctx, "pool_service: synced pools",
		slog.Uint64("pool_count", count),
		slog.Int("read", len(fetched)),
	)
	return nil
}

// Run syncs every interval and applies PlayerJoined events from feed until
// ctx is cancelled. The feed is closed on return.
func (s *PoolService) Run(ctx context.Context, feed game.Feed, interval time.Duration) error {
	defer feed.Close()

	if err := s.Sync(ctx); err != nil && ctx.Err() == nil {
		s.logger.WarnContext(ctx, "pool_service: initial sync failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	events := feed.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if joined, isJoin := ev.(domain.PlayerJoined); isJoin {
				s.PlayerJoined(ctx, joined)
			}
		case <-ticker.C:
			if err := s.Sync(ctx); err != nil && ctx.Err() == nil {
				s.logger.WarnContext(ctx, "pool_service: sync failed", slog.String("error", err.Error()))
			}
		}
	}
}

// PlayerJoined applies a join to the list, refreshes the cache entry and
// announces pools that just filled up.
func (s *PoolService) PlayerJoined(ctx context.Context, ev domain.PlayerJoined) {
	sum, activated, ok := s.list.ApplyPlayerJoined(ev)
	if !ok {
		// Not synced yet. A cached copy now undercounts, so Get must fall
		// through to postgres or the contract until the next sync.
		s.logger.DebugContext(ctx, "pool_service: join for unknown pool", slog.Uint64("pool_id", ev.Pool))
		s.cacheInvalidate(ctx, ev.Pool)
		return
	}
	s.cacheSet(ctx, sum)
	s.publish(ctx, PoolUpdate{Type: "player_joined", Pool: &sum, Activated: activated})

	if activated && s.notifier.Enabled(notify.EventPoolActive) {
		m := notify.PoolActive(sum.Pool)
		if err := s.notifier.Notify(ctx, m.Event, m.Title, m.Body); err != nil {
			s.logger.WarnContext(ctx, "pool_service: notify failed", slog.String("error", err.Error()))
		}
	}
}

// List filters and sorts the pool list and returns the first page plus more
// extra "load more" pages.
func (s *PoolService) List(q pools.Query, more int) pools.Page {
	matched := s.list.Query(q)
	cur := pools.NewCursor(s.pageSize)
	for i := 0; i < more && cur.HasMore(len(matched)); i++ {
		cur.LoadMore(len(matched))
	}
	page := cur.Page(matched)
	return pools.Page{
		Pools:   page,
		Total:   len(matched),
		Visible: len(page),
		HasMore: cur.HasMore(len(matched)),
	}
}

// Get returns one pool, trying the list, the redis cache, the postgres
// snapshot and finally the contract.
func (s *PoolService) Get(ctx context.Context, id uint64) (domain.PoolSummary, error) {
	if sum, ok := s.list.Get(id); ok {
		return sum, nil
	}
	if s.cache != nil {
		if sum, err := s.cache.Get(ctx, id); err == nil {
			return sum, nil
		}
	}
	if s.store != nil {
		p, err := s.store.GetByID(ctx, id)
		if err == nil {
			return summaryOf(p), nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "pool_service: snapshot read failed",
				slog.Uint64("pool_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
	p, err := s.reader.Pool(ctx, id)
	if err != nil {
		return domain.PoolSummary{}, fmt.Errorf("pool_service: get pool %d: %w", id, err)
	}
	s.list.Replace([]domain.Pool{p})
	sum, _ := s.list.Get(id)
	s.cacheSet(ctx, sum)
	return sum, nil
}

// Summary returns the in-memory list entry, if any.
func (s *PoolService) Summary(id uint64) (domain.PoolSummary, bool) {
	return s.list.Get(id)
}

func summaryOf(p domain.Pool) domain.PoolSummary {
	display := domain.DisplayOpen
	switch p.Status {
	case domain.PoolStatusActive:
		display = domain.DisplayActive
	case domain.PoolStatusCompleted:
		display = domain.DisplayCompleted
	}
	return domain.PoolSummary{Pool: p, DisplayStatus: display, Popularity: p.CurrentPlayers}
}

func (s *PoolService) cacheSet(ctx context.Context, sum domain.PoolSummary) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, sum); err != nil {
		s.logger.WarnContext(ctx, "pool_service: cache set failed",
			slog.Uint64("pool_id", sum.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *PoolService) cacheInvalidate(ctx context.Context, id uint64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, id); err != nil {
		s.logger.WarnContext(ctx, "pool_service: cache invalidate failed",
			slog.Uint64("pool_id", id),
			slog.String("error", err.Error()),
		)
	}
}

func (s *PoolService) publish(ctx context.Context, u PoolUpdate) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(u)
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, domain.ChannelPools, payload); err != nil {
		s.logger.WarnContext(ctx, "pool_service: publish failed", slog.String("error", err.Error()))
	}
}
