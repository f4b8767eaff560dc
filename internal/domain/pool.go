package domain

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PoolStatus mirrors the contract's pool lifecycle enum.
type PoolStatus uint8

const (
	PoolStatusOpen      PoolStatus = 0
	PoolStatusActive    PoolStatus = 1
	PoolStatusCompleted PoolStatus = 2
	// PoolStatusUnknown is assigned to any value the contract returns that
	// does not map to a known enum member.
	PoolStatusUnknown PoolStatus = 255
)

// ParsePoolStatus converts the raw contract enum value. Values outside the
// known range yield PoolStatusUnknown and ErrUnknownPoolStatus.
func ParsePoolStatus(raw uint8) (PoolStatus, error) {
	switch PoolStatus(raw) {
	case PoolStatusOpen, PoolStatusActive, PoolStatusCompleted:
		return PoolStatus(raw), nil
	default:
		return PoolStatusUnknown, fmt.Errorf("%w: %d", ErrUnknownPoolStatus, raw)
	}
}

// String returns the lowercase status name used in API payloads.
func (s PoolStatus) String() string {
	switch s {
	case PoolStatusOpen:
		return "open"
	case PoolStatusActive:
		return "active"
	case PoolStatusCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// MarketData is the price snapshot the contract keeps per pool.
type MarketData struct {
	StartPrice  *big.Int  `json:"start_price"`
	LastPrice   *big.Int  `json:"last_price"`
	LastUpdated time.Time `json:"last_updated"`
}

// Pool is one contract-tracked betting arena. Amounts are wei.
type Pool struct {
	ID             uint64         `json:"id"`
	AssetSymbol    string         `json:"asset_symbol"`
	EntryFee       *big.Int       `json:"entry_fee"`
	MaxPlayers     uint64         `json:"max_players"`
	CurrentPlayers uint64         `json:"current_players"`
	PrizePool      *big.Int       `json:"prize_pool"`
	Status         PoolStatus     `json:"status"`
	Creator        common.Address `json:"creator"`
	CurrentRound   uint64         `json:"current_round"`
	Market         MarketData     `json:"market"`
}

// FillRatio returns currentPlayers / maxPlayers, or 0 for a pool without a
// player cap.
func (p Pool) FillRatio() float64 {
	if p.MaxPlayers == 0 {
		return 0
	}
	return float64(p.CurrentPlayers) / float64(p.MaxPlayers)
}

// Clone returns a copy that shares no big.Int pointers with p.
func (p Pool) Clone() Pool {
	out := p
	out.EntryFee = cloneInt(p.EntryFee)
	out.PrizePool = cloneInt(p.PrizePool)
	out.Market.StartPrice = cloneInt(p.Market.StartPrice)
	out.Market.LastPrice = cloneInt(p.Market.LastPrice)
	return out
}

// DisplayStatus is the pool-list status. It extends the contract enum with
// the synthesized "filling" state.
type DisplayStatus string

const (
	DisplayOpen      DisplayStatus = "open"
	DisplayFilling   DisplayStatus = "filling"
	DisplayActive    DisplayStatus = "active"
	DisplayCompleted DisplayStatus = "completed"
)

// Rank orders display statuses along the pool lifecycle.
func (d DisplayStatus) Rank() int {
	switch d {
	case DisplayOpen:
		return 0
	case DisplayFilling:
		return 1
	case DisplayActive:
		return 2
	case DisplayCompleted:
		return 3
	default:
		return -1
	}
}

// PoolSummary is a pool as shown in the pool list.
type PoolSummary struct {
	Pool
	DisplayStatus DisplayStatus `json:"display_status"`
	// Popularity counts players seen in the pool: the contract headcount at
	// the last sync plus joins observed since.
	Popularity uint64    `json:"popularity"`
	SyncedAt   time.Time `json:"synced_at"`
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
