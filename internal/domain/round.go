package domain

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// RoundResult is the outcome of one elimination round. It is immutable once
// fetched.
type RoundResult struct {
	PoolID         uint64           `json:"pool_id"`
	Round          uint64           `json:"round"`
	Winners        []common.Address `json:"winners"`
	Losers         []common.Address `json:"losers"`
	WinningChoice  Choice           `json:"winning_choice"`
	MajorityChoice Choice           `json:"majority_choice"`
	// Survived is derived from the viewer address and is not chain state.
	Survived  bool      `json:"survived"`
	FetchedAt time.Time `json:"fetched_at"`
}

// NewRoundResult validates a getRoundResults reply and derives the viewer's
// survival. An undecided winning index yields ErrRoundUndecided; a reply that
// lists an address as both winner and loser yields ErrMalformedRoundResult.
func NewRoundResult(poolID, round uint64, winners, losers []common.Address, winningIdx uint64, viewer common.Address) (RoundResult, error) {
	winning := WinningChoiceFromIndex(winningIdx)
	if winning == ChoiceNone {
		return RoundResult{}, fmt.Errorf("%w: pool %d round %d index %d", ErrRoundUndecided, poolID, round, winningIdx)
	}
	seen := make(map[common.Address]struct{}, len(winners))
	for _, w := range winners {
		seen[w] = struct{}{}
	}
	for _, l := range losers {
		if _, dup := seen[l]; dup {
			return RoundResult{}, fmt.Errorf("%w: pool %d round %d: %s in both sets", ErrMalformedRoundResult, poolID, round, l.Hex())
		}
	}

	res := RoundResult{
		PoolID:         poolID,
		Round:          round,
		Winners:        append([]common.Address(nil), winners...),
		Losers:         append([]common.Address(nil), losers...),
		WinningChoice:  winning,
		MajorityChoice: winning.Opposite(),
		FetchedAt:      time.Now().UTC(),
	}
	res.Survived = res.IsWinner(viewer)
	return res, nil
}

// IsWinner reports whether addr survived the round. The zero address never
// matches.
func (r RoundResult) IsWinner(addr common.Address) bool {
	return containsAddr(r.Winners, addr)
}

// IsLoser reports whether addr was eliminated in the round.
func (r RoundResult) IsLoser(addr common.Address) bool {
	return containsAddr(r.Losers, addr)
}

// Clone deep-copies the address slices.
func (r RoundResult) Clone() RoundResult {
	out := r
	out.Winners = append([]common.Address(nil), r.Winners...)
	out.Losers = append([]common.Address(nil), r.Losers...)
	return out
}

func containsAddr(set []common.Address, addr common.Address) bool {
	if addr == (common.Address{}) {
		return false
	}
	for _, a := range set {
		if a == addr {
			return true
		}
	}
	return false
}

// RoundReply is the raw getRoundResults return value.
type RoundReply struct {
	Winners      []common.Address
	Losers       []common.Address
	WinningIndex uint64
}
