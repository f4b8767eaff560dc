package pools

import (
	"math/big"
	"testing"
	"time"

	"github.com/alanyoungcy/flareflip/internal/domain"
)

func tokens(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

func pool(id uint64, asset string, fee int64, cur, max uint64, status domain.PoolStatus) domain.Pool {
	return domain.Pool{
		ID:             id,
		AssetSymbol:    asset,
		EntryFee:       tokens(fee),
		MaxPlayers:     max,
		CurrentPlayers: cur,
		PrizePool:      tokens(fee * int64(cur)),
		Status:         status,
	}
}

func TestReplaceSynthesizesFilling(t *testing.T) {
	l := NewList(0.8)
	l.Replace([]domain.Pool{
		pool(1, "BTC", 1, 8, 10, domain.PoolStatusOpen),
		pool(2, "ETH", 1, 7, 10, domain.PoolStatusOpen),
		pool(3, "SOL", 1, 10, 10, domain.PoolStatusActive),
	})
	want := map[uint64]domain.DisplayStatus{1: domain.DisplayFilling, 2: domain.DisplayOpen, 3: domain.DisplayActive}
	for id, status := range want {
		s, ok := l.Get(id)
		if !ok || s.DisplayStatus != status {
			t.Errorf("pool %d status = %s, want %s", id, s.DisplayStatus, status)
		}
	}
}

func TestStatusNeverRegresses(t *testing.T) {
	l := NewList(0.8)
	l.Replace([]domain.Pool{pool(1, "BTC", 1, 10, 10, domain.PoolStatusActive)})
	l.Replace([]domain.Pool{pool(1, "BTC", 1, 3, 10, domain.PoolStatusOpen)})
	s, _ := l.Get(1)
	if s.DisplayStatus != domain.DisplayActive || s.Status != domain.PoolStatusActive {
		t.Fatalf("status regressed: %s / %s", s.DisplayStatus, s.Status)
	}
	if l.Len() != 1 {
		t.Fatalf("len = %d", l.Len())
	}
}

func TestApplyPlayerJoined(t *testing.T) {
	l := NewList(0.8)
	l.Replace([]domain.Pool{pool(1, "BTC", 2, 3, 5, domain.PoolStatusOpen)})

	s, activated, ok := l.ApplyPlayerJoined(domain.PlayerJoined{Pool: 1})
	if !ok || activated {
		t.Fatalf("ok=%v activated=%v", ok, activated)
	}
	if s.CurrentPlayers != 4 || s.PrizePool.Cmp(tokens(8)) != 0 {
		t.Fatalf("players=%d prize=%s", s.CurrentPlayers, s.PrizePool)
	}
	if s.DisplayStatus != domain.DisplayFilling {
		t.Fatalf("status = %s, want filling", s.DisplayStatus)
	}
	if !l.RecentlyJoined(1, time.Minute) {
		t.Fatal("join not recorded")
	}

	s, activated, _ = l.ApplyPlayerJoined(domain.PlayerJoined{Pool: 1})
	if !activated || s.DisplayStatus != domain.DisplayActive {
		t.Fatalf("activated=%v status=%s", activated, s.DisplayStatus)
	}

	s, activated, _ = l.ApplyPlayerJoined(domain.PlayerJoined{Pool: 1})
	if activated || s.CurrentPlayers != 5 || s.PrizePool.Cmp(tokens(10)) != 0 {
		t.Fatalf("join past max: activated=%v players=%d prize=%s", activated, s.CurrentPlayers, s.PrizePool)
	}

	if _, _, ok := l.ApplyPlayerJoined(domain.PlayerJoined{Pool: 99}); ok {
		t.Fatal("unknown pool accepted")
	}
}

func TestQuery(t *testing.T) {
	l := NewList(0.8)
	l.Replace([]domain.Pool{
		pool(1, "BTC", 5, 2, 10, domain.PoolStatusOpen),
		pool(2, "ETH", 1, 9, 10, domain.PoolStatusOpen),
		pool(3, "BTC", 3, 4, 4, domain.PoolStatusActive),
		pool(12, "DOGE", 3, 4, 8, domain.PoolStatusOpen),
	})

	ids := func(in []domain.PoolSummary) []uint64 {
		out := make([]uint64, len(in))
		for i, s := range in {
			out[i] = s.ID
		}
		return out
	}

	tests := []struct {
		name string
		q    Query
		want []uint64
	}{
		{"popularity ties by id", Query{}, []uint64{2, 3, 12, 1}},
		{"reward", Query{Sort: SortReward}, []uint64{3, 12, 1, 2}},
		{"fee ascending", Query{Sort: SortFee}, []uint64{2, 3, 12, 1}},
		{"fill ratio", Query{Sort: SortFilling}, []uint64{3, 2, 12, 1}},
		{"status filter", Query{Status: domain.DisplayFilling}, []uint64{2}},
		{"search asset", Query{Search: "btc"}, []uint64{3, 1}},
		{"search id", Query{Search: "12"}, []uint64{12}},
		{"no match", Query{Search: "xrp"}, []uint64{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ids(l.Query(tt.q))
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("got %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestParseFilters(t *testing.T) {
	if k, err := ParseSortKey(""); err != nil || k != SortPopularity {
		t.Fatalf("ParseSortKey empty = %s, %v", k, err)
	}
	if _, err := ParseSortKey("volume"); err == nil {
		t.Fatal("unknown sort accepted")
	}
	if s, err := ParseStatusFilter("all"); err != nil || s != "" {
		t.Fatalf("ParseStatusFilter all = %q, %v", s, err)
	}
	if s, err := ParseStatusFilter("Filling"); err != nil || s != domain.DisplayFilling {
		t.Fatalf("ParseStatusFilter = %q, %v", s, err)
	}
	if _, err := ParseStatusFilter("paused"); err == nil {
		t.Fatal("unknown status accepted")
	}
}

func TestCursorOnlyGrows(t *testing.T) {
	c := NewCursor(6)
	if c.Visible() != 6 {
		t.Fatalf("visible = %d", c.Visible())
	}
	if got := c.LoadMore(14); got != 12 {
		t.Fatalf("LoadMore = %d, want 12", got)
	}
	if got := c.LoadMore(14); got != 14 {
		t.Fatalf("LoadMore = %d, want 14", got)
	}
	// A narrower result never shrinks the window.
	if got := c.LoadMore(3); got != 14 {
		t.Fatalf("LoadMore = %d, want 14", got)
	}
	if c.HasMore(14) {
		t.Fatal("HasMore at the end")
	}
	items := make([]domain.PoolSummary, 20)
	if len(c.Page(items)) != 14 || len(c.Page(items[:5])) != 5 {
		t.Fatal("Page window wrong")
	}
}
