package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/flareflip/internal/domain"
)

// AccountService is the wallet surface: staking reads plus audited writes.
type AccountService interface {
	Wallet() common.Address
	Staker(ctx context.Context, addr common.Address) (domain.Staker, error)
	UserPools(ctx context.Context, addr common.Address) ([]uint64, error)
	JoinPool(ctx context.Context, poolID uint64) (domain.WriteResult, error)
	CreatePool(ctx context.Context, entryFee *big.Int, maxPlayers uint64, asset string) (domain.WriteResult, error)
	Stake(ctx context.Context, value *big.Int) (domain.WriteResult, error)
	Unstake(ctx context.Context, amount *big.Int) (domain.WriteResult, error)
	ClaimPrize(ctx context.Context, poolID uint64) (domain.WriteResult, error)
}

// AccountHandler serves staking reads and the wallet's contract writes.
type AccountHandler struct {
	accounts AccountService
	now      func() time.Time
	logger   *slog.Logger
}

// NewAccountHandler creates an AccountHandler.
func NewAccountHandler(accounts AccountService, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{
		accounts: accounts,
		now:      time.Now,
		logger:   logHandler(logger, "account"),
	}
}

type stakerResponse struct {
	Address        string        `json:"address"`
	Staker         domain.Staker `json:"staker"`
	CanCreatePools bool          `json:"can_create_pools"`
	CanUnstake     bool          `json:"can_unstake"`
	UnlocksAt      time.Time     `json:"unlocks_at"`
	CreatedPools   []uint64      `json:"created_pools"`
}

type createPoolRequest struct {
	EntryFee   string `json:"entry_fee"`
	MaxPlayers uint64 `json:"max_players"`
	Asset      string `json:"asset"`
}

type amountRequest struct {
	Amount string `json:"amount"`
}

// GetStaker returns an address's staking record. "me" resolves to the
// daemon's wallet.
// GET /api/stakers/{address}
func (h *AccountHandler) GetStaker(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("address")
	var addr common.Address
	switch {
	case raw == "me":
		addr = h.accounts.Wallet()
	case common.IsHexAddress(raw):
		addr = common.HexToAddress(raw)
	default:
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}

	st, err := h.accounts.Staker(r.Context(), addr)
	if err != nil {
		writeServiceError(w, r, h.logger, "failed to get staker", err, slog.String("address", addr.Hex()))
		return
	}
	created, err := h.accounts.UserPools(r.Context(), addr)
	if err != nil {
		writeServiceError(w, r, h.logger, "failed to list created pools", err, slog.String("address", addr.Hex()))
		return
	}
	if created == nil {
		created = []uint64{}
	}

	writeJSON(w, http.StatusOK, stakerResponse{
		Address:        addr.Hex(),
		Staker:         st,
		CanCreatePools: st.CanCreatePools(),
		CanUnstake:     st.CanUnstake(h.now()),
		UnlocksAt:      st.UnlocksAt().UTC(),
		CreatedPools:   created,
	})
}

// CreatePool opens a new pool from the wallet.
// POST /api/pools {"entry_fee":"1.5","max_players":8,"asset":"BTC"}
func (h *AccountHandler) CreatePool(w http.ResponseWriter, r *http.Request) {
	var req createPoolRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	fee, err := domain.ParseToken(req.EntryFee)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.respond(w, r, "failed to create pool", func(ctx context.Context) (domain.WriteResult, error) {
		return h.accounts.CreatePool(ctx, fee, req.MaxPlayers, req.Asset)
	})
}

// JoinPool pays the entry fee of a pool.
// POST /api/pools/{id}/join
func (h *AccountHandler) JoinPool(w http.ResponseWriter, r *http.Request) {
	id, err := poolIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.respond(w, r, "failed to join pool", func(ctx context.Context) (domain.WriteResult, error) {
		return h.accounts.JoinPool(ctx, id)
	})
}

// ClaimPrize collects the wallet's winnings from a completed pool.
// POST /api/pools/{id}/claim
func (h *AccountHandler) ClaimPrize(w http.ResponseWriter, r *http.Request) {
	id, err := poolIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.respond(w, r, "failed to claim prize", func(ctx context.Context) (domain.WriteResult, error) {
		return h.accounts.ClaimPrize(ctx, id)
	})
}

// Stake deposits tokens.
// POST /api/stake {"amount":"100"}
func (h *AccountHandler) Stake(w http.ResponseWriter, r *http.Request) {
	amount, ok := h.amount(w, r)
	if !ok {
		return
	}
	h.respond(w, r, "failed to stake", func(ctx context.Context) (domain.WriteResult, error) {
		return h.accounts.Stake(ctx, amount)
	})
}

// Unstake withdraws tokens.
// POST /api/unstake {"amount":"100"}
func (h *AccountHandler) Unstake(w http.ResponseWriter, r *http.Request) {
	amount, ok := h.amount(w, r)
	if !ok {
		return
	}
	h.respond(w, r, "failed to unstake", func(ctx context.Context) (domain.WriteResult, error) {
		return h.accounts.Unstake(ctx, amount)
	})
}

func (h *AccountHandler) amount(w http.ResponseWriter, r *http.Request) (*big.Int, bool) {
	var req amountRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	amount, err := domain.ParseToken(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return amount, true
}

func (h *AccountHandler) respond(w http.ResponseWriter, r *http.Request, fallback string, write func(context.Context) (domain.WriteResult, error)) {
	res, err := write(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, fallback, err, slog.String("intent_id", res.IntentID))
		return
	}
	writeJSON(w, http.StatusOK, res)
}
