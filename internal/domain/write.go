package domain

import "github.com/ethereum/go-ethereum/common"

// WriteResult describes a mined wallet action.
type WriteResult struct {
	IntentID string      `json:"intent_id"`
	Action   string      `json:"action"`
	TxHash   common.Hash `json:"tx_hash"`
	Block    uint64      `json:"block"`
}
