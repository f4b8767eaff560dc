package game

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/flareflip/internal/domain"
)

// Feed is a subscription to chain events for one pool.
type Feed interface {
	Events() <-chan domain.ChainEvent
	Close()
}

// Watcher drives a Reducer from an event feed and a periodic refresh.
type Watcher struct {
	reducer  *Reducer
	feed     Feed
	interval time.Duration
	logger   *slog.Logger
}

// NewWatcher creates a watcher. A zero interval disables periodic refresh.
func NewWatcher(reducer *Reducer, feed Feed, interval time.Duration, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		reducer:  reducer,
		feed:     feed,
		interval: interval,
		logger: logger.With(
			slog.String("component", "game_watcher"),
			slog.Uint64("pool_id", reducer.PoolID()),
		),
	}
}

// Reducer returns the driven reducer.
func (w *Watcher) Reducer() *Reducer { return w.reducer }

// Run blocks until ctx is cancelled or the feed closes. The subscription is
// released on return.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.feed.Close()

	if err := w.reducer.Start(ctx); err != nil && ctx.Err() == nil {
		// The first read is retried on the next tick.
		w.logger.Warn("initial read failed", slog.String("error", err.Error()))
	}

	var tick <-chan time.Time
	if w.interval > 0 {
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	events := w.feed.Events()
	for {
		select {
		case <-ctx.Done():
			w.reducer.Wait()
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				w.logger.Info("event feed closed")
				w.reducer.Wait()
				return nil
			}
			if ev.PoolID() != w.reducer.PoolID() {
				continue
			}
			w.reducer.Apply(ctx, ev)
		case <-tick:
			if err := w.reducer.Refresh(ctx); err != nil && ctx.Err() == nil {
				w.logger.Debug("refresh failed", slog.String("error", err.Error()))
			}
		}
	}
}
