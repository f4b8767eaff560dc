package domain

import "errors"

var (
	ErrNotFound             = errors.New("not found")
	ErrRateLimited          = errors.New("rate limited")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrLockHeld             = errors.New("lock already held")
	ErrSigningFailed        = errors.New("signing failed")
	ErrNoSigner             = errors.New("no signing key configured")
	ErrTxReverted           = errors.New("transaction reverted")
	ErrRoundNotEnded        = errors.New("round not ended")
	ErrRoundUndecided       = errors.New("round has no decided winner")
	ErrUnknownPoolStatus    = errors.New("unknown pool status")
	ErrMalformedRoundResult = errors.New("malformed round result")
	ErrInvalidChoice        = errors.New("invalid choice")
	ErrNotChoosing          = errors.New("pool is not accepting a choice")
	ErrSelectionInFlight    = errors.New("selection write already in flight")
	ErrEliminated           = errors.New("player eliminated")
	ErrWSDisconnect         = errors.New("websocket disconnected")
	ErrPoolNotJoinable      = errors.New("pool is not accepting players")
	ErrInvalidPoolParams    = errors.New("invalid pool parameters")
	ErrInsufficientStake    = errors.New("insufficient stake")
	ErrStakeLocked          = errors.New("stake is locked")
	ErrNothingToClaim       = errors.New("nothing to claim")
)
