package pools

import (
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"strings"

	"github.com/alanyoungcy/flareflip/internal/domain"
)

// SortKey selects the pool list ordering.
type SortKey string

const (
	SortPopularity SortKey = "popularity"
	SortReward     SortKey = "reward"
	SortFee        SortKey = "fee"
	SortFilling    SortKey = "filling"
)

// ParseSortKey accepts the sort names; empty means popularity.
func ParseSortKey(s string) (SortKey, error) {
	switch k := SortKey(strings.ToLower(strings.TrimSpace(s))); k {
	case "":
		return SortPopularity, nil
	case SortPopularity, SortReward, SortFee, SortFilling:
		return k, nil
	default:
		return "", fmt.Errorf("pools: unknown sort %q", s)
	}
}

// ParseStatusFilter accepts a display status or "all"; empty means all.
func ParseStatusFilter(s string) (domain.DisplayStatus, error) {
	switch d := domain.DisplayStatus(strings.ToLower(strings.TrimSpace(s))); d {
	case "", "all":
		return "", nil
	case domain.DisplayOpen, domain.DisplayFilling, domain.DisplayActive, domain.DisplayCompleted:
		return d, nil
	default:
		return "", fmt.Errorf("pools: unknown status %q", s)
	}
}

// Query is a filter and sort over the pool list. Zero values match
// everything and sort by popularity.
type Query struct {
	Status domain.DisplayStatus
	Search string
	Sort   SortKey
}

// Apply returns the matching pools in query order. Ties are broken by id.
func (q Query) Apply(in []domain.PoolSummary) []domain.PoolSummary {
	needle := strings.ToLower(strings.TrimSpace(q.Search))
	out := make([]domain.PoolSummary, 0, len(in))
	for _, s := range in {
		if q.Status != "" && s.DisplayStatus != q.Status {
			continue
		}
		if needle != "" &&
			!strings.Contains(strings.ToLower(s.AssetSymbol), needle) &&
			!strings.Contains(strconv.FormatUint(s.ID, 10), needle) {
			continue
		}
		out = append(out, s)
	}

	less := q.less()
	sort.SliceStable(out, func(i, j int) bool {
		if c := less(out[i], out[j]); c != 0 {
			return c < 0
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (q Query) less() func(a, b domain.PoolSummary) int {
	switch q.Sort {
	case SortReward:
		return func(a, b domain.PoolSummary) int { return -cmpInt(a.PrizePool, b.PrizePool) }
	case SortFee:
		return func(a, b domain.PoolSummary) int { return cmpInt(a.EntryFee, b.EntryFee) }
	case SortFilling:
		return func(a, b domain.PoolSummary) int { return -cmpFloat(a.FillRatio(), b.FillRatio()) }
	default:
		return func(a, b domain.PoolSummary) int {
			switch {
			case a.Popularity > b.Popularity:
				return -1
			case a.Popularity < b.Popularity:
				return 1
			}
			return 0
		}
	}
}

// cmpInt compares token amounts, treating nil as zero.
func cmpInt(a, b *big.Int) int {
	if a == nil {
		a = new(big.Int)
	}
	if b == nil {
		b = new(big.Int)
	}
	return a.Cmp(b)
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// DefaultPageSize is how many pools one "load more" adds.
const DefaultPageSize = 6

// Cursor is the load-more window over a result list. The visible count only
// grows.
type Cursor struct {
	page    int
	visible int
}

// NewCursor shows one page initially.
func NewCursor(pageSize int) *Cursor {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Cursor{page: pageSize, visible: pageSize}
}

// Visible is the current window size.
func (c *Cursor) Visible() int { return c.visible }

// LoadMore adds a page, capped at total, and returns the new window size.
func (c *Cursor) LoadMore(total int) int {
	next := c.visible + c.page
	if next > total {
		next = total
	}
	if next > c.visible {
		c.visible = next
	}
	return c.visible
}

// HasMore reports whether total exceeds the window.
func (c *Cursor) HasMore(total int) bool { return c.visible < total }

// Page returns the visible prefix of items.
func (c *Cursor) Page(items []domain.PoolSummary) []domain.PoolSummary {
	if len(items) <= c.visible {
		return items
	}
	return items[:c.visible]
}

// Page is one page of a filtered pool listing.
type Page struct {
	Pools   []domain.PoolSummary `json:"pools"`
	Total   int                  `json:"total"`
	Visible int                  `json:"visible"`
	HasMore bool                 `json:"has_more"`
}
