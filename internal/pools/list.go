// Package pools maintains the pool collection shown in the pool list: sync
// snapshots from the contract, PlayerJoined updates, filtering, sorting and
// the load-more cursor.
package pools

import (
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/flareflip/internal/domain"
)

// DefaultFillingThreshold is the fill ratio at which an open pool is shown as
// filling.
const DefaultFillingThreshold = 0.8

// List is the in-memory pool collection. Pools are only added or refreshed,
// never removed, and a pool's display status never moves backwards.
type List struct {
	mu        sync.RWMutex
	threshold float64
	pools     map[uint64]*domain.PoolSummary
	joined    map[uint64]time.Time
	now       func() time.Time
}

// NewList creates an empty list. A threshold outside (0, 1] falls back to
// DefaultFillingThreshold.
func NewList(threshold float64) *List {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultFillingThreshold
	}
	return &List{
		threshold: threshold,
		pools:     make(map[uint64]*domain.PoolSummary),
		joined:    make(map[uint64]time.Time),
		now:       time.Now,
	}
}

// Replace merges freshly read pools into the list.
func (l *List) Replace(pools []domain.Pool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now().UTC()
	for _, p := range pools {
		next := domain.PoolSummary{
			Pool:          p.Clone(),
			DisplayStatus: l.displayStatus(p),
			Popularity:    p.CurrentPlayers,
			SyncedAt:      now,
		}
		if prev, ok := l.pools[p.ID]; ok {
			if prev.DisplayStatus.Rank() > next.DisplayStatus.Rank() {
				next.DisplayStatus = prev.DisplayStatus
			}
			if prev.Status > next.Status && prev.Status != domain.PoolStatusUnknown {
				next.Status = prev.Status
			}
			if prev.Popularity > next.Popularity {
				next.Popularity = prev.Popularity
			}
		}
		l.pools[p.ID] = &next
	}
}

// ApplyPlayerJoined records one join. It returns the updated summary,
// whether this join activated the pool, and false if the pool is unknown.
func (l *List) ApplyPlayerJoined(ev domain.PlayerJoined) (domain.PoolSummary, bool, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.pools[ev.Pool]
	if !ok {
		return domain.PoolSummary{}, false, false
	}
	wasActive := s.DisplayStatus.Rank() >= domain.DisplayActive.Rank()

	if s.MaxPlayers == 0 || s.CurrentPlayers < s.MaxPlayers {
		s.CurrentPlayers++
		if s.EntryFee != nil {
			prize := new(big.Int)
			if s.PrizePool != nil {
				prize.Set(s.PrizePool)
			}
			s.PrizePool = prize.Add(prize, s.EntryFee)
		}
	}
	s.Popularity++
	l.joined[ev.Pool] = l.now()

	if s.DisplayStatus.Rank() < domain.DisplayActive.Rank() {
		switch {
		case s.MaxPlayers > 0 && s.CurrentPlayers >= s.MaxPlayers:
			s.DisplayStatus = domain.DisplayActive
		case s.FillRatio() >= l.threshold:
			s.DisplayStatus = domain.DisplayFilling
		}
	}
	activated := !wasActive && s.DisplayStatus == domain.DisplayActive
	return clone(s), activated, true
}

// RecentlyJoined reports whether a join for id was seen within window.
func (l *List) RecentlyJoined(id uint64, window time.Duration) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	at, ok := l.joined[id]
	return ok && l.now().Sub(at) <= window
}

// Get returns one pool.
func (l *List) Get(id uint64) (domain.PoolSummary, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.pools[id]
	if !ok {
		return domain.PoolSummary{}, false
	}
	return clone(s), true
}

// Len returns the number of pools held.
func (l *List) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.pools)
}

// All returns every pool ordered by id.
func (l *List) All() []domain.PoolSummary {
	l.mu.RLock()
	out := make([]domain.PoolSummary, 0, len(l.pools))
	for _, s := range l.pools {
		out = append(out, clone(s))
	}
	l.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Query filters and sorts the collection.
func (l *List) Query(q Query) []domain.PoolSummary {
	return q.Apply(l.All())
}

func (l *List) displayStatus(p domain.Pool) domain.DisplayStatus {
	switch p.Status {
	case domain.PoolStatusActive:
		return domain.DisplayActive
	case domain.PoolStatusCompleted:
		return domain.DisplayCompleted
	default:
		if p.MaxPlayers > 0 && p.FillRatio() >= l.threshold {
			return domain.DisplayFilling
		}
		return domain.DisplayOpen
	}
}

func clone(s *domain.PoolSummary) domain.PoolSummary {
	out := *s
	out.Pool = s.Pool.Clone()
	return out
}
