package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"

	"github.com/alanyoungcy/flareflip/internal/domain"
)

// writeLockTTL bounds how long one wallet action holds its lock. It must
// cover signing, broadcast and receipt polling.
const writeLockTTL = 2 * time.Minute

// AccountGateway is the contract surface for wallet actions.
type AccountGateway interface {
	Pool(ctx context.Context, id uint64) (domain.Pool, error)
	Staker(ctx context.Context, addr common.Address) (domain.Staker, error)
	PlayerInfo(ctx context.Context, poolID uint64, addr common.Address) (domain.PlayerInfo, error)
	UserPools(ctx context.Context, addr common.Address) ([]uint64, error)

	JoinPool(ctx context.Context, poolID uint64, value *big.Int) (*types.Receipt, error)
	CreatePool(ctx context.Context, entryFee *big.Int, maxPlayers uint64, asset string) (*types.Receipt, error)
	Stake(ctx context.Context, value *big.Int) (*types.Receipt, error)
	Unstake(ctx context.Context, amount *big.Int) (*types.Receipt, error)
	ClaimPrize(ctx context.Context, poolID uint64) (*types.Receipt, error)
}

// AccountService performs the wallet's contract writes. Every write checks
// the contract's preconditions first, holds a per-wallet lock for its action
// and is audited under a fresh intent id.
type AccountService struct {
	gateway AccountGateway
	wallet  common.Address
	locks   domain.LockManager
	audit   domain.AuditStore
	now     func() time.Time
	logger  *slog.Logger
}

// NewAccountService creates an AccountService. locks and audit may be nil.
func NewAccountService(
	gateway AccountGateway,
	wallet common.Address,
	locks domain.LockManager,
	audit domain.AuditStore,
	logger *slog.Logger,
) *AccountService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccountService{
		gateway: gateway,
		wallet:  wallet,
		locks:   locks,
		audit:   audit,
		now:     time.Now,
		logger:  logger.With(slog.String("component", "account_service")),
	}
}

// Wallet returns the signing address.
func (s *AccountService) Wallet() common.Address { return s.wallet }

// Staker returns the staking record of addr, or of the wallet when addr is
// the zero address.
func (s *AccountService) Staker(ctx context.Context, addr common.Address) (domain.Staker, error) {
	if addr == (common.Address{}) {
		addr = s.wallet
	}
	st, err := s.gateway.Staker(ctx, addr)
	if err != nil {
		return domain.Staker{}, fmt.Errorf("account_service: staker %s: %w", addr.Hex(), err)
	}
	return st, nil
}

// UserPools lists the pools addr created.
func (s *AccountService) UserPools(ctx context.Context, addr common.Address) ([]uint64, error) {
	if addr == (common.Address{}) {
		addr = s.wallet
	}
	ids, err := s.gateway.UserPools(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("account_service: user pools %s: %w", addr.Hex(), err)
	}
	return ids, nil
}

// JoinPool pays the entry fee of an open pool that still has room.
func (s *AccountService) JoinPool(ctx context.Context, poolID uint64) (domain.WriteResult, error) {
	pool, err := s.gateway.Pool(ctx, poolID)
	if err != nil {
		return domain.WriteResult{}, fmt.Errorf("account_service: read pool %d: %w", poolID, err)
	}
	if pool.Status != domain.PoolStatusOpen || (pool.MaxPlayers > 0 && pool.CurrentPlayers >= pool.MaxPlayers) {
		return domain.WriteResult{}, fmt.Errorf("account_service: pool %d (%s, %d/%d): %w",
			poolID, pool.Status, pool.CurrentPlayers, pool.MaxPlayers, domain.ErrPoolNotJoinable)
	}
	fee := pool.EntryFee
	if fee == nil {
		fee = new(big.Int)
	}
	return s.write(ctx, "join", map[string]any{"pool_id": poolID, "value": fee.String()},
		func(ctx context.Context) (*types.Receipt, error) {
			return s.gateway.JoinPool(ctx, poolID, fee)
		})
}

// CreatePool opens a new pool. The wallet must hold the minimum creator
// stake; entry fee must be positive and at least two players allowed.
func (s *AccountService) CreatePool(ctx context.Context, entryFee *big.Int, maxPlayers uint64, asset string) (domain.WriteResult, error) {
	asset = strings.ToUpper(strings.TrimSpace(asset))
	if entryFee == nil || entryFee.Sign() <= 0 || maxPlayers <= 1 || asset == "" {
		return domain.WriteResult{}, fmt.Errorf("account_service: create pool: %w", domain.ErrInvalidPoolParams)
	}
	st, err := s.Staker(ctx, s.wallet)
	if err != nil {
		return domain.WriteResult{}, err
	}
	if !st.CanCreatePools() {
		return domain.WriteResult{}, fmt.Errorf("account_service: create pool needs %s staked: %w",
			domain.FormatToken(domain.MinimumCreatorStake), domain.ErrInsufficientStake)
	}
	detail := map[string]any{"entry_fee": entryFee.String(), "max_players": maxPlayers, "asset": asset}
	return s.write(ctx, "create_pool", detail, func(ctx context.Context) (*types.Receipt, error) {
		return s.gateway.CreatePool(ctx, entryFee, maxPlayers, asset)
	})
}

// Stake deposits value into the staking contract.
func (s *AccountService) Stake(ctx context.Context, value *big.Int) (domain.WriteResult, error) {
	if value == nil || value.Sign() <= 0 {
		return domain.WriteResult{}, fmt.Errorf("account_service: stake amount must be positive: %w", domain.ErrInvalidPoolParams)
	}
	return s.write(ctx, "stake", map[string]any{"value": value.String()}, func(ctx context.Context) (*types.Receipt, error) {
		return s.gateway.Stake(ctx, value)
	})
}

// Unstake withdraws amount once the lock period has passed and no created
// pool is active.
func (s *AccountService) Unstake(ctx context.Context, amount *big.Int) (domain.WriteResult, error) {
	if amount == nil || amount.Sign() <= 0 {
		return domain.WriteResult{}, fmt.Errorf("account_service: unstake amount must be positive: %w", domain.ErrInvalidPoolParams)
	}
	st, err := s.Staker(ctx, s.wallet)
	if err != nil {
		return domain.WriteResult{}, err
	}
	if st.StakedAmount == nil || amount.Cmp(st.StakedAmount) > 0 {
		return domain.WriteResult{}, fmt.Errorf("account_service: unstake %s: %w", domain.FormatToken(amount), domain.ErrInsufficientStake)
	}
	if !st.CanUnstake(s.now()) {
		return domain.WriteResult{}, fmt.Errorf("account_service: %d active pools, unlocks at %s: %w",
			st.ActivePoolsCount, st.UnlocksAt().UTC().Format(time.RFC3339), domain.ErrStakeLocked)
	}
	return s.write(ctx, "unstake", map[string]any{"amount": amount.String()}, func(ctx context.Context) (*types.Receipt, error) {
		return s.gateway.Unstake(ctx, amount)
	})
}

// ClaimPrize collects the wallet's share of a completed pool it survived.
func (s *AccountService) ClaimPrize(ctx context.Context, poolID uint64) (domain.WriteResult, error) {
	pool, err := s.gateway.Pool(ctx, poolID)
	if err != nil {
		return domain.WriteResult{}, fmt.Errorf("account_service: read pool %d: %w", poolID, err)
	}
	info, err := s.gateway.PlayerInfo(ctx, poolID, s.wallet)
	if err != nil {
		return domain.WriteResult{}, fmt.Errorf("account_service: player info %d: %w", poolID, err)
	}
	if pool.Status != domain.PoolStatusCompleted || info.Eliminated || info.HasClaimed || info.Address != s.wallet {
		return domain.WriteResult{}, fmt.Errorf("account_service: claim pool %d: %w", poolID, domain.ErrNothingToClaim)
	}
	return s.write(ctx, "claim", map[string]any{"pool_id": poolID}, func(ctx context.Context) (*types.Receipt, error) {
		return s.gateway.ClaimPrize(ctx, poolID)
	})
}

// write runs one audited, locked transaction.
func (s *AccountService) write(
	ctx context.Context,
	action string,
	detail map[string]any,
	send func(context.Context) (*types.Receipt, error),
) (domain.WriteResult, error) {
	res := domain.WriteResult{IntentID: uuid.NewString(), Action: action}

	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, "wallet:"+strings.ToLower(s.wallet.Hex())+":"+action, writeLockTTL)
		if err != nil {
			return res, fmt.Errorf("account_service: %s: %w", action, err)
		}
		defer unlock()
	}

	detail["intent_id"] = res.IntentID
	detail["wallet"] = s.wallet.Hex()
	s.logAudit(ctx, "account."+action+".submitted", detail)

	receipt, err := send(ctx)
	if err != nil {
		detail["error"] = err.Error()
		s.logAudit(ctx, "account."+action+".failed", detail)
		s.logger.WarnContext(ctx, "account_service: write failed",
			slog.String("action", action),
			slog.String("intent_id", res.IntentID),
			slog.String("error", err.Error()),
		)
		return res, fmt.Errorf("account_service: %s: %w", action, err)
	}

	res.TxHash = receipt.TxHash
	if receipt.BlockNumber != nil {
		res.Block = receipt.BlockNumber.Uint64()
	}
	detail["tx_hash"] = res.TxHash.Hex()
	detail["block"] = res.Block
	s.logAudit(ctx, "account."+action+".mined", detail)
	s.logger.InfoContext(ctx, "account_service: write mined",
		slog.String("action", action),
		slog.String("intent_id", res.IntentID),
		slog.String("tx", res.TxHash.Hex()),
	)
	return res, nil
}

func (s *AccountService) logAudit(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	// Copy so later mutations of detail do not race a buffered store.
	snapshot := make(map[string]any, len(detail))
	for k, v := range detail {
		snapshot[k] = v
	}
	if err := s.audit.Log(ctx, event, snapshot); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.WarnContext(ctx, "account_service: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
