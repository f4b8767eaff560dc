// Package game reconciles one pool's contract state, chain events and the
// viewer's optimistic selection into a single read-model.
package game

import "github.com/alanyoungcy/flareflip/internal/domain"

// DeriveStatus maps pool status and selection onto the game state machine.
// A selection counts only while it belongs to currentRound and its write has
// not failed.
func DeriveStatus(poolStatus domain.PoolStatus, sel domain.Selection, currentRound uint64) domain.GameStatus {
	switch poolStatus {
	case domain.PoolStatusOpen:
		return domain.GameWaiting
	case domain.PoolStatusActive:
		if sel.LiveFor(currentRound) {
			return domain.GameRevealing
		}
		return domain.GameChoosing
	case domain.PoolStatusCompleted:
		return domain.GameFinished
	default:
		return domain.GameError
	}
}

// outcome decides the viewer's result. A completed pool is won when the
// viewer is among the winners of the last ingested round, which covers a
// split between several survivors.
func outcome(pool *domain.Pool, eliminated, participated bool, last *domain.RoundResult) domain.Outcome {
	if eliminated {
		return domain.OutcomeLost
	}
	if pool == nil || pool.Status != domain.PoolStatusCompleted {
		return domain.OutcomePending
	}
	if last != nil && last.Survived {
		return domain.OutcomeWon
	}
	if participated {
		return domain.OutcomeLost
	}
	return domain.OutcomePending
}
