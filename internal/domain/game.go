package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// GameStatus is the derived state machine of a pool in progress.
type GameStatus string

const (
	GameLoading   GameStatus = "loading"
	GameWaiting   GameStatus = "waiting"
	GameChoosing  GameStatus = "choosing"
	GameRevealing GameStatus = "revealing"
	GameFinished  GameStatus = "finished"
	GameError     GameStatus = "error"
)

// Outcome is the viewer's final result in a pool.
type Outcome string

const (
	OutcomePending Outcome = "pending"
	OutcomeWon     Outcome = "won"
	OutcomeLost    Outcome = "lost"
)

// PlayerState is one identity observed in round results.
type PlayerState struct {
	Address      common.Address `json:"address"`
	Eliminated   bool           `json:"eliminated"`
	EliminatedIn uint64         `json:"eliminated_in,omitempty"`
}

// TieBreak is the contract's hybrid tie resolution for a round. Display only.
type TieBreak struct {
	Round            uint64   `json:"round"`
	StartPrice       *big.Int `json:"start_price"`
	LastPrice        *big.Int `json:"last_price"`
	RandomValue      *big.Int `json:"random_value"`
	WinningSelection Choice   `json:"winning_selection"`
	HeadsCount       uint64   `json:"heads_count"`
	TailsCount       uint64   `json:"tails_count"`
}

// PlayerInfo is the contract's per-pool record of a player.
type PlayerInfo struct {
	Address    common.Address `json:"address"`
	Choice     Choice         `json:"choice"`
	Eliminated bool           `json:"eliminated"`
	HasClaimed bool           `json:"has_claimed"`
}

// GameView is the read-model of one watched pool.
type GameView struct {
	PoolID              uint64           `json:"pool_id"`
	Viewer              common.Address   `json:"viewer"`
	GameInfo            *Pool            `json:"game_info,omitempty"`
	CurrentRound        uint64           `json:"current_round"`
	SelectedOption      Choice           `json:"selected_option"`
	Selection           Selection        `json:"selection"`
	RoundResults        []RoundResult    `json:"round_results"`
	GameStatus          GameStatus       `json:"game_status"`
	SurvivingPlayers    uint64           `json:"surviving_players"`
	KnownPlayers        []PlayerState    `json:"known_players"`
	CurrentRoundWinners []common.Address `json:"current_round_winners"`
	CurrentRoundLosers  []common.Address `json:"current_round_losers"`
	TieBreaks           []TieBreak       `json:"tie_breaks,omitempty"`
	Eliminated          bool             `json:"eliminated"`
	HasParticipated     bool             `json:"has_participated"`
	IsLoading           bool             `json:"is_loading"`
	Processing          bool             `json:"processing"`
	Error               string           `json:"error,omitempty"`
	LastWriteError      string           `json:"last_write_error,omitempty"`
	Outcome             Outcome          `json:"outcome"`
}

// Clone deep-copies every slice and pointer in the view.
func (v GameView) Clone() GameView {
	out := v
	if v.GameInfo != nil {
		p := v.GameInfo.Clone()
		out.GameInfo = &p
	}
	out.RoundResults = make([]RoundResult, len(v.RoundResults))
	for i, r := range v.RoundResults {
		out.RoundResults[i] = r.Clone()
	}
	out.KnownPlayers = append([]PlayerState(nil), v.KnownPlayers...)
	out.CurrentRoundWinners = append([]common.Address(nil), v.CurrentRoundWinners...)
	out.CurrentRoundLosers = append([]common.Address(nil), v.CurrentRoundLosers...)
	out.TieBreaks = make([]TieBreak, len(v.TieBreaks))
	for i, t := range v.TieBreaks {
		t.StartPrice = cloneInt(t.StartPrice)
		t.LastPrice = cloneInt(t.LastPrice)
		t.RandomValue = cloneInt(t.RandomValue)
		out.TieBreaks[i] = t
	}
	return out
}
