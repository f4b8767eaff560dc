package domain

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// SelectionState tracks an optimistic selection against its on-chain write.
type SelectionState string

const (
	SelectionPending   SelectionState = "pending"
	SelectionConfirmed SelectionState = "confirmed"
	SelectionFailed    SelectionState = "failed"
)

// Selection is the viewer's side for one round of one pool.
type Selection struct {
	Choice    Choice         `json:"choice"`
	Round     uint64         `json:"round"`
	State     SelectionState `json:"state,omitempty"`
	TxHash    common.Hash    `json:"tx_hash,omitempty"`
	UpdatedAt time.Time      `json:"updated_at,omitempty"`
}

// IsNone reports whether no side is selected.
func (s Selection) IsNone() bool {
	return !s.Choice.Valid()
}

// LiveFor reports whether the selection counts for round: a side is chosen
// for that round and its write has not failed.
func (s Selection) LiveFor(round uint64) bool {
	return s.Choice.Valid() && s.Round == round && s.State != SelectionFailed
}

// SelectionKey is the durable key for a pool's selection,
// "<namespace>-<poolId>-selection".
func SelectionKey(namespace string, poolID uint64) string {
	return fmt.Sprintf("%s-%d-selection", namespace, poolID)
}
