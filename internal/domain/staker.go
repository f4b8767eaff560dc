package domain

import (
	"math/big"
	"time"
)

// MinStakingPeriod is how long a stake stays locked after the last deposit.
const MinStakingPeriod = 7 * 24 * time.Hour

// MinimumCreatorStake is the stake (wei) required to create pools: 100 tokens.
var MinimumCreatorStake = new(big.Int).Mul(big.NewInt(100), weiPerToken)

// Staker is the contract's staking record for an address.
type Staker struct {
	StakedAmount       *big.Int  `json:"staked_amount"`
	ActivePoolsCount   uint64    `json:"active_pools_count"`
	TotalRewards       *big.Int  `json:"total_rewards"`
	LastStakeTimestamp time.Time `json:"last_stake_timestamp"`
}

// CanCreatePools reports whether the stake reaches MinimumCreatorStake.
func (s Staker) CanCreatePools() bool {
	return s.StakedAmount != nil && s.StakedAmount.Cmp(MinimumCreatorStake) >= 0
}

// CanUnstake reports whether the lock period has passed and no created pool
// is still running.
func (s Staker) CanUnstake(now time.Time) bool {
	return s.ActivePoolsCount == 0 && !now.Before(s.LastStakeTimestamp.Add(MinStakingPeriod))
}

// UnlocksAt is when the current stake leaves its lock period.
func (s Staker) UnlocksAt() time.Time {
	return s.LastStakeTimestamp.Add(MinStakingPeriod)
}
