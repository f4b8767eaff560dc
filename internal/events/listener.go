// Package events fans decoded contract events out to per-pool subscribers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/flareflip/internal/domain"
)

const (
	subscriberBuffer = 64
	dedupTTL         = time.Hour
)

// Source produces decoded chain events until ctx is cancelled.
type Source interface {
	Stream(ctx context.Context, sink chan<- domain.ChainEvent) error
}

// Listener consumes a Source, drops redelivered logs and routes each event to
// the subscribers of its pool. Events are mirrored on the signal bus when one
// is configured.
type Listener struct {
	source Source
	bus    domain.SignalBus
	dedup  *Dedup
	logger *slog.Logger

	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
}

// NewListener creates a Listener. bus may be nil.
func NewListener(source Source, bus domain.SignalBus, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{
		source: source,
		bus:    bus,
		dedup:  NewDedup(dedupTTL),
		logger: logger.With(slog.String("component", "event_listener")),
		subs:   make(map[uint64]*Subscription),
	}
}

// Subscribe returns a subscription that receives events for poolID only.
func (l *Listener) Subscribe(poolID uint64) *Subscription {
	return l.add(&Subscription{pool: poolID})
}

// SubscribeAll returns a subscription that receives every event.
func (l *Listener) SubscribeAll() *Subscription {
	return l.add(&Subscription{all: true})
}

func (l *Listener) add(s *Subscription) *Subscription {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	s.id = l.nextID
	s.ch = make(chan domain.ChainEvent, subscriberBuffer)
	s.listener = l
	l.subs[s.id] = s
	return s
}

func (l *Listener) remove(s *Subscription) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.subs[s.id]; ok {
		delete(l.subs, s.id)
		close(s.ch)
	}
}

// Subscribers returns the number of open subscriptions.
func (l *Listener) Subscribers() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.subs)
}

// Run streams the source until ctx is cancelled or the source fails.
func (l *Listener) Run(ctx context.Context) error {
	sink := make(chan domain.ChainEvent, subscriberBuffer)
	errCh := make(chan error, 1)
	go func() { errCh <- l.source.Stream(ctx, sink) }()

	cleanup := time.NewTicker(dedupTTL / 2)
	defer cleanup.Stop()

	l.logger.Info("event listener started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("events: source stopped: %w", err)
		case ev := <-sink:
			l.Deliver(ctx, ev)
		case <-cleanup.C:
			if n := l.dedup.Cleanup(); n > 0 {
				l.logger.Debug("dedup cleanup", slog.Int("removed", n))
			}
		}
	}
}

// Deliver routes one event. It returns false when the event was a duplicate
// of an already delivered log.
func (l *Listener) Deliver(ctx context.Context, ev domain.ChainEvent) bool {
	if l.dedup.IsDuplicate(ev.Meta().Key()) {
		l.logger.Debug("duplicate event dropped",
			slog.String("kind", string(ev.Kind())),
			slog.String("log", ev.Meta().Key()),
		)
		return false
	}

	l.mu.RLock()
	for _, s := range l.subs {
		if !s.accepts(ev) {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			l.logger.Warn("subscriber buffer full, event dropped",
				slog.Uint64("pool_id", ev.PoolID()),
				slog.String("kind", string(ev.Kind())),
			)
		}
	}
	l.mu.RUnlock()

	l.mirror(ctx, ev)
	return true
}

func (l *Listener) mirror(ctx context.Context, ev domain.ChainEvent) {
	if l.bus == nil {
		return
	}
	payload, err := json.Marshal(domain.Envelope(ev))
	if err != nil {
		l.logger.Error("encode event", slog.String("error", err.Error()))
		return
	}
	if err := l.bus.Publish(ctx, domain.PoolChannel(ev.PoolID()), payload); err != nil {
		l.logger.Warn("mirror event to bus failed",
			slog.Uint64("pool_id", ev.PoolID()),
			slog.String("error", err.Error()),
		)
	}
}

// Subscription is a pool-scoped event feed. Close it when the consumer stops
// watching; the channel is closed and no further events are sent.
type Subscription struct {
	id       uint64
	pool     uint64
	all      bool
	ch       chan domain.ChainEvent
	listener *Listener
	once     sync.Once
}

// PoolID returns the subscribed pool. It is meaningless for SubscribeAll.
func (s *Subscription) PoolID() uint64 { return s.pool }

// Events returns the receive side of the subscription.
func (s *Subscription) Events() <-chan domain.ChainEvent { return s.ch }

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() { s.listener.remove(s) })
}

func (s *Subscription) accepts(ev domain.ChainEvent) bool {
	return s.all || ev.PoolID() == s.pool
}
