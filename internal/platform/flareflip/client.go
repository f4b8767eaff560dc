package flareflip

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/flareflip/internal/crypto"
	"github.com/alanyoungcy/flareflip/internal/domain"
)

// roundNotEndedMsg is the contract's revert reason for a round that is still
// open.
const roundNotEndedMsg = "Round not ended"

// Backend is the subset of an Ethereum RPC client the gateway uses.
// *ethclient.Client satisfies it.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Dial connects to an RPC endpoint (http(s) or ws(s)).
func Dial(ctx context.Context, url string) (*ethclient.Client, error) {
	c, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("flareflip: dial %s: %w", url, err)
	}
	return c, nil
}

// Client reads and writes the game contract. Writes require a signer.
type Client struct {
	backend       Backend
	contract      common.Address
	signer        *crypto.Signer
	receiptPoll   time.Duration
	gasMultiplier float64
	logger        *slog.Logger

	// nonceMu serialises nonce assignment across concurrent writes.
	nonceMu sync.Mutex
}

// Option customises a Client.
type Option func(*Client)

// WithSigner enables writes.
func WithSigner(s *crypto.Signer) Option { return func(c *Client) { c.signer = s } }

// WithReceiptPoll sets how often a pending transaction's receipt is polled.
func WithReceiptPoll(d time.Duration) Option { return func(c *Client) { c.receiptPoll = d } }

// WithGasMultiplier pads gas estimates.
func WithGasMultiplier(m float64) Option { return func(c *Client) { c.gasMultiplier = m } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.logger = l } }

// NewClient creates a gateway for the contract at address.
func NewClient(backend Backend, address common.Address, opts ...Option) *Client {
	c := &Client{
		backend:       backend,
		contract:      address,
		receiptPoll:   2 * time.Second,
		gasMultiplier: 1.2,
		logger:        slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	c.logger = c.logger.With(slog.String("component", "flareflip_gateway"))
	return c
}

// Address returns the contract address.
func (c *Client) Address() common.Address { return c.contract }

// Signer returns the configured signer, or nil for a read-only client.
func (c *Client) Signer() *crypto.Signer { return c.signer }

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

func (c *Client) call(ctx context.Context, method string, args ...any) ([]any, error) {
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("flareflip: pack %s: %w", method, err)
	}
	msg := ethereum.CallMsg{To: &c.contract, Data: data}
	if c.signer != nil {
		msg.From = c.signer.Address()
	}
	out, err := c.backend.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("flareflip: call %s: %w", method, classify(err))
	}
	vals, err := contractABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("flareflip: unpack %s: %w", method, err)
	}
	return vals, nil
}

// PoolCount returns the number of pools ever created. Pool ids run from 0 to
// PoolCount-1.
func (c *Client) PoolCount(ctx context.Context) (uint64, error) {
	vals, err := c.call(ctx, "poolCount")
	if err != nil {
		return 0, err
	}
	return asUint64(vals[0], "poolCount")
}

// Pool reads pools, poolTradingPairs and poolMarketData concurrently and
// merges them. A pool the contract does not know yields domain.ErrNotFound;
// an unmapped status value yields domain.ErrUnknownPoolStatus.
func (c *Client) Pool(ctx context.Context, id uint64) (domain.Pool, error) {
	var core, pair, market []any
	pid := new(big.Int).SetUint64(id)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) { core, err = c.call(gctx, "pools", pid); return })
	g.Go(func() (err error) { pair, err = c.call(gctx, "poolTradingPairs", pid); return })
	g.Go(func() (err error) { market, err = c.call(gctx, "poolMarketData", pid); return })
	if err := g.Wait(); err != nil {
		return domain.Pool{}, err
	}
	return decodePool(id, core, pair, market)
}

func decodePool(id uint64, core, pair, market []any) (domain.Pool, error) {
	var (
		p   = domain.Pool{ID: id}
		err error
	)
	fail := func(e error) (domain.Pool, error) {
		return domain.Pool{}, fmt.Errorf("flareflip: pool %d: %w", id, e)
	}

	if p.AssetSymbol, err = asString(core[0], "assetSymbol"); err != nil {
		return fail(err)
	}
	if p.EntryFee, err = asBig(core[2], "entryFee"); err != nil {
		return fail(err)
	}
	if p.MaxPlayers, err = asUint64(core[3], "maxParticipants"); err != nil {
		return fail(err)
	}
	if p.CurrentPlayers, err = asUint64(core[4], "currentParticipants"); err != nil {
		return fail(err)
	}
	if p.PrizePool, err = asBig(core[5], "prizePool"); err != nil {
		return fail(err)
	}
	rawStatus, err := asUint8(core[6], "status")
	if err != nil {
		return fail(err)
	}
	if p.Creator, err = asAddress(core[7], "creator"); err != nil {
		return fail(err)
	}
	if p.CurrentRound, err = asUint64(core[8], "currentRound"); err != nil {
		return fail(err)
	}
	// Unset storage reads back as zeros.
	if p.MaxPlayers == 0 && p.Creator == (common.Address{}) {
		return fail(domain.ErrNotFound)
	}
	if p.Status, err = domain.ParsePoolStatus(rawStatus); err != nil {
		return fail(err)
	}

	// The trading pair symbol wins over the copy in the pool struct.
	if sym, err := asString(pair[0], "tradingPair.assetSymbol"); err == nil && sym != "" {
		p.AssetSymbol = sym
	}

	if p.Market.StartPrice, err = asBig(market[0], "startPrice"); err != nil {
		return fail(err)
	}
	if p.Market.LastPrice, err = asBig(market[1], "lastPrice"); err != nil {
		return fail(err)
	}
	updated, err := asUint64(market[3], "lastUpdated")
	if err != nil {
		return fail(err)
	}
	if updated > 0 && updated < math.MaxInt64 {
		p.Market.LastUpdated = time.Unix(int64(updated), 0).UTC()
	}
	return p, nil
}

// RoundResults calls getRoundResults. A round the contract has not closed
// yields domain.ErrRoundNotEnded.
func (c *Client) RoundResults(ctx context.Context, poolID, round uint64) (domain.RoundReply, error) {
	vals, err := c.call(ctx, "getRoundResults", new(big.Int).SetUint64(poolID), new(big.Int).SetUint64(round))
	if err != nil {
		return domain.RoundReply{}, err
	}
	var reply domain.RoundReply
	if reply.Winners, err = asAddresses(vals[0], "winners"); err != nil {
		return domain.RoundReply{}, err
	}
	if reply.Losers, err = asAddresses(vals[1], "losers"); err != nil {
		return domain.RoundReply{}, err
	}
	if reply.WinningIndex, err = asUint64(vals[2], "winningChoice"); err != nil {
		return domain.RoundReply{}, err
	}
	return reply, nil
}

// Staker reads the staking record of addr.
func (c *Client) Staker(ctx context.Context, addr common.Address) (domain.Staker, error) {
	vals, err := c.call(ctx, "stakers", addr)
	if err != nil {
		return domain.Staker{}, err
	}
	var s domain.Staker
	if s.StakedAmount, err = asBig(vals[0], "stakedAmount"); err != nil {
		return domain.Staker{}, err
	}
	if s.ActivePoolsCount, err = asUint64(vals[1], "activePoolsCount"); err != nil {
		return domain.Staker{}, err
	}
	if s.TotalRewards, err = asBig(vals[2], "totalRewards"); err != nil {
		return domain.Staker{}, err
	}
	ts, err := asUint64(vals[3], "lastStakeTimestamp")
	if err != nil {
		return domain.Staker{}, err
	}
	if ts > 0 && ts < math.MaxInt64 {
		s.LastStakeTimestamp = time.Unix(int64(ts), 0).UTC()
	}
	return s, nil
}

// PlayerInfo reads the per-pool record of addr.
func (c *Client) PlayerInfo(ctx context.Context, poolID uint64, addr common.Address) (domain.PlayerInfo, error) {
	vals, err := c.call(ctx, "players", new(big.Int).SetUint64(poolID), addr)
	if err != nil {
		return domain.PlayerInfo{}, err
	}
	var info domain.PlayerInfo
	if info.Address, err = asAddress(vals[0], "playerAddress"); err != nil {
		return domain.PlayerInfo{}, err
	}
	choice, err := asUint8(vals[1], "choice")
	if err != nil {
		return domain.PlayerInfo{}, err
	}
	info.Choice = domain.Choice(choice)
	if !info.Choice.Valid() {
		info.Choice = domain.ChoiceNone
	}
	if info.Eliminated, err = asBool(vals[2], "isEliminated"); err != nil {
		return domain.PlayerInfo{}, err
	}
	if info.HasClaimed, err = asBool(vals[3], "hasClaimed"); err != nil {
		return domain.PlayerInfo{}, err
	}
	return info, nil
}

// UserPools lists the pools addr created, using the staker's active pool
// count as the list length.
func (c *Client) UserPools(ctx context.Context, addr common.Address) ([]uint64, error) {
	st, err := c.Staker(ctx, addr)
	if err != nil {
		return nil, err
	}
	ids := make([]uint64, 0, st.ActivePoolsCount)
	for i := uint64(0); i < st.ActivePoolsCount; i++ {
		vals, err := c.call(ctx, "userPools", addr, new(big.Int).SetUint64(i))
		if err != nil {
			return nil, err
		}
		id, err := asUint64(vals[0], "userPools")
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ---------------------------------------------------------------------------
// Writes
// ---------------------------------------------------------------------------

// JoinPool enters poolID paying value. A nil value pays the pool's entry fee.
func (c *Client) JoinPool(ctx context.Context, poolID uint64, value *big.Int) (*types.Receipt, error) {
	if value == nil {
		p, err := c.Pool(ctx, poolID)
		if err != nil {
			return nil, err
		}
		value = p.EntryFee
	}
	return c.transact(ctx, "joinPool", value, new(big.Int).SetUint64(poolID))
}

// MakeSelection submits choice for the current round of poolID.
func (c *Client) MakeSelection(ctx context.Context, poolID uint64, choice domain.Choice) (*types.Receipt, error) {
	if !choice.Valid() {
		return nil, fmt.Errorf("flareflip: make selection: %w: %s", domain.ErrInvalidChoice, choice)
	}
	return c.transact(ctx, "makeSelection", nil, new(big.Int).SetUint64(poolID), uint8(choice))
}

// CreatePool opens a new pool. The asset symbol is upper-cased.
func (c *Client) CreatePool(ctx context.Context, entryFee *big.Int, maxPlayers uint64, asset string) (*types.Receipt, error) {
	if entryFee == nil || entryFee.Sign() <= 0 {
		return nil, errors.New("flareflip: create pool: entry fee must be positive")
	}
	if maxPlayers < 2 {
		return nil, errors.New("flareflip: create pool: need at least 2 players")
	}
	asset = strings.ToUpper(strings.TrimSpace(asset))
	if asset == "" {
		return nil, errors.New("flareflip: create pool: asset symbol is required")
	}
	return c.transact(ctx, "createPool", nil, entryFee, new(big.Int).SetUint64(maxPlayers), asset)
}

// Stake locks value.
func (c *Client) Stake(ctx context.Context, value *big.Int) (*types.Receipt, error) {
	if value == nil || value.Sign() <= 0 {
		return nil, errors.New("flareflip: stake: amount must be positive")
	}
	return c.transact(ctx, "stake", value)
}

// Unstake releases amount.
func (c *Client) Unstake(ctx context.Context, amount *big.Int) (*types.Receipt, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, errors.New("flareflip: unstake: amount must be positive")
	}
	return c.transact(ctx, "unstake", nil, amount)
}

// ClaimPrize withdraws the caller's winnings from poolID.
func (c *Client) ClaimPrize(ctx context.Context, poolID uint64) (*types.Receipt, error) {
	return c.transact(ctx, "claimPrize", nil, new(big.Int).SetUint64(poolID))
}

// transact signs and sends a contract call, then blocks until it is mined.
// A reverted receipt yields domain.ErrTxReverted.
func (c *Client) transact(ctx context.Context, method string, value *big.Int, args ...any) (*types.Receipt, error) {
	if c.signer == nil {
		return nil, fmt.Errorf("flareflip: %s: %w", method, domain.ErrNoSigner)
	}
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("flareflip: pack %s: %w", method, err)
	}
	if value == nil {
		value = new(big.Int)
	}

	tx, err := c.send(ctx, method, value, data)
	if err != nil {
		return nil, err
	}
	c.logger.Info("transaction sent",
		slog.String("method", method),
		slog.String("tx", tx.Hash().Hex()),
		slog.Uint64("nonce", tx.Nonce()),
	)

	receipt, err := c.waitMined(ctx, tx.Hash())
	if err != nil {
		return nil, fmt.Errorf("flareflip: %s: wait %s: %w", method, tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("flareflip: %s: %w (tx %s)", method, domain.ErrTxReverted, tx.Hash().Hex())
	}
	return receipt, nil
}

func (c *Client) send(ctx context.Context, method string, value *big.Int, data []byte) (*types.Transaction, error) {
	c.nonceMu.Lock()
	defer c.nonceMu.Unlock()

	from := c.signer.Address()
	nonce, err := c.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("flareflip: %s: nonce: %w", method, err)
	}
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("flareflip: %s: gas price: %w", method, err)
	}
	gas, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &c.contract, Value: value, Data: data})
	if err != nil {
		return nil, fmt.Errorf("flareflip: %s: estimate gas: %w", method, classify(err))
	}
	gas = uint64(float64(gas) * c.gasMultiplier)

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &c.contract,
		Value:    value,
		Data:     data,
	})
	signed, err := c.signer.SignTx(tx)
	if err != nil {
		return nil, err
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("flareflip: %s: send: %w", method, classify(err))
	}
	return signed, nil
}

func (c *Client) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(c.receiptPoll)
	defer ticker.Stop()
	for {
		receipt, err := c.backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			c.logger.Debug("receipt poll failed",
				slog.String("tx", hash.Hex()),
				slog.String("error", err.Error()),
			)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// classify maps known revert reasons onto domain sentinels while keeping the
// original error in the chain.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), roundNotEndedMsg) {
		return fmt.Errorf("%w: %w", domain.ErrRoundNotEnded, err)
	}
	if strings.Contains(strings.ToLower(err.Error()), "execution reverted") {
		return fmt.Errorf("%w: %w", domain.ErrTxReverted, err)
	}
	return err
}
