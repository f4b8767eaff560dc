package domain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// EventKind names a contract event.
type EventKind string

const (
	EventPlayerJoined   EventKind = "PlayerJoined"
	EventRoundCompleted EventKind = "RoundCompleted"
	EventRoundWinners   EventKind = "RoundWinners"
	EventRoundLosers    EventKind = "RoundLosers"
	EventTieBroken      EventKind = "TieBrokenByHybrid"
)

// EventMeta identifies the log an event was decoded from.
type EventMeta struct {
	BlockNumber uint64      `json:"block_number"`
	TxHash      common.Hash `json:"tx_hash"`
	LogIndex    uint        `json:"log_index"`
}

// Key is unique per log and stable across redeliveries.
func (m EventMeta) Key() string {
	return fmt.Sprintf("%s:%d", m.TxHash.Hex(), m.LogIndex)
}

// ChainEvent is a decoded contract event scoped to one pool.
type ChainEvent interface {
	PoolID() uint64
	Kind() EventKind
	Meta() EventMeta
}

// PlayerJoined is emitted when a player enters a pool.
type PlayerJoined struct {
	Log    EventMeta      `json:"log"`
	Pool   uint64         `json:"pool_id"`
	Player common.Address `json:"player"`
}

func (e PlayerJoined) PoolID() uint64  { return e.Pool }
func (e PlayerJoined) Kind() EventKind { return EventPlayerJoined }
func (e PlayerJoined) Meta() EventMeta { return e.Log }

// RoundCompleted closes a round. WinningChoice uses the contract's choice
// enum and is informational; getRoundResults is authoritative.
type RoundCompleted struct {
	Log           EventMeta `json:"log"`
	Pool          uint64    `json:"pool_id"`
	Round         uint64    `json:"round"`
	WinningChoice Choice    `json:"winning_choice"`
}

func (e RoundCompleted) PoolID() uint64  { return e.Pool }
func (e RoundCompleted) Kind() EventKind { return EventRoundCompleted }
func (e RoundCompleted) Meta() EventMeta { return e.Log }

// RoundWinners lists the survivors of a round.
type RoundWinners struct {
	Log     EventMeta        `json:"log"`
	Pool    uint64           `json:"pool_id"`
	Round   uint64           `json:"round"`
	Winners []common.Address `json:"winners"`
}

func (e RoundWinners) PoolID() uint64  { return e.Pool }
func (e RoundWinners) Kind() EventKind { return EventRoundWinners }
func (e RoundWinners) Meta() EventMeta { return e.Log }

// RoundLosers lists the players eliminated in a round.
type RoundLosers struct {
	Log    EventMeta        `json:"log"`
	Pool   uint64           `json:"pool_id"`
	Round  uint64           `json:"round"`
	Losers []common.Address `json:"losers"`
}

func (e RoundLosers) PoolID() uint64  { return e.Pool }
func (e RoundLosers) Kind() EventKind { return EventRoundLosers }
func (e RoundLosers) Meta() EventMeta { return e.Log }

// TieBrokenByHybrid reports a hybrid tie-break for a round.
type TieBrokenByHybrid struct {
	Log              EventMeta `json:"log"`
	Pool             uint64    `json:"pool_id"`
	Round            uint64    `json:"round"`
	StartPrice       *big.Int  `json:"start_price"`
	LastPrice        *big.Int  `json:"last_price"`
	RandomValue      *big.Int  `json:"random_value"`
	WinningSelection Choice    `json:"winning_selection"`
	HeadsCount       uint64    `json:"heads_count"`
	TailsCount       uint64    `json:"tails_count"`
}

func (e TieBrokenByHybrid) PoolID() uint64  { return e.Pool }
func (e TieBrokenByHybrid) Kind() EventKind { return EventTieBroken }
func (e TieBrokenByHybrid) Meta() EventMeta { return e.Log }

// TieBreak converts the event into its display record.
func (e TieBrokenByHybrid) TieBreak() TieBreak {
	return TieBreak{
		Round:            e.Round,
		StartPrice:       cloneInt(e.StartPrice),
		LastPrice:        cloneInt(e.LastPrice),
		RandomValue:      cloneInt(e.RandomValue),
		WinningSelection: e.WinningSelection,
		HeadsCount:       e.HeadsCount,
		TailsCount:       e.TailsCount,
	}
}

// EventEnvelope is the JSON form of a chain event on the signal bus.
type EventEnvelope struct {
	Kind  EventKind  `json:"kind"`
	Pool  uint64     `json:"pool_id"`
	Log   EventMeta  `json:"log"`
	Event ChainEvent `json:"event"`
}

// Envelope wraps ev for publishing.
func Envelope(ev ChainEvent) EventEnvelope {
	return EventEnvelope{Kind: ev.Kind(), Pool: ev.PoolID(), Log: ev.Meta(), Event: ev}
}
