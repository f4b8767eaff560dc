package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/sync/singleflight"

	"github.com/alanyoungcy/flareflip/internal/domain"
)

// Gateway is the contract surface the reducer reads and writes.
type Gateway interface {
	Pool(ctx context.Context, id uint64) (domain.Pool, error)
	RoundResults(ctx context.Context, poolID, round uint64) (domain.RoundReply, error)
	MakeSelection(ctx context.Context, poolID uint64, choice domain.Choice) (*types.Receipt, error)
	// PlayerInfo reports the player's choice for the pool's current round.
	PlayerInfo(ctx context.Context, poolID uint64, addr common.Address) (domain.PlayerInfo, error)
}

// Config wires a Reducer. Selections, Archive and the hooks are optional.
type Config struct {
	PoolID    uint64
	Viewer    common.Address
	Namespace string
	Gateway   Gateway

	// Selections persists the viewer's pending choice across restarts.
	Selections domain.SelectionStore
	// Archive is consulted before the contract when backfilling rounds.
	Archive domain.RoundArchive

	// OnChange receives a copy of the view after every state change, in
	// order.
	OnChange func(domain.GameView)
	// OnRound is called once for every round result fetched from the
	// contract.
	OnRound func(domain.RoundResult)
	// OnWrite is called when a selection write settles.
	OnWrite func(choice domain.Choice, round uint64, err error)

	Logger *slog.Logger
}

// Reducer owns the game state of one pool. Chain I/O happens outside its
// lock; every method is safe for concurrent use.
type Reducer struct {
	cfg    Config
	key    string
	logger *slog.Logger

	mu           sync.Mutex
	baseCtx      context.Context
	loading      bool
	initialized  bool
	readErr      error
	pool         *domain.Pool
	currentRound uint64
	// buffered holds completions that arrived ahead of currentRound.
	buffered    map[uint64]domain.RoundCompleted
	results     map[uint64]domain.RoundResult
	winners     map[uint64][]common.Address
	losers      map[uint64][]common.Address
	tieBreaks   map[uint64]domain.TieBreak
	players     map[common.Address]*domain.PlayerState
	playerOrder []common.Address
	selection   domain.Selection
	restored    domain.Choice
	// reconciled is set once the viewer's on-chain choice has been read.
	reconciled  bool
	eliminated  bool
	participant bool
	lastWrite   string

	// notifyMu keeps OnChange deliveries in state order.
	notifyMu sync.Mutex

	writing atomic.Bool
	writes  sync.WaitGroup
	fetches singleflight.Group
}

// NewReducer creates a reducer in the loading state.
func NewReducer(cfg Config) *Reducer {
	if cfg.Namespace == "" {
		cfg.Namespace = "flareflip"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Reducer{
		cfg: cfg,
		key: domain.SelectionKey(cfg.Namespace, cfg.PoolID),
		logger: logger.With(
			slog.String("component", "game_reducer"),
			slog.Uint64("pool_id", cfg.PoolID),
		),
		baseCtx:   context.Background(),
		loading:   true,
		buffered:  make(map[uint64]domain.RoundCompleted),
		results:   make(map[uint64]domain.RoundResult),
		winners:   make(map[uint64][]common.Address),
		losers:    make(map[uint64][]common.Address),
		tieBreaks: make(map[uint64]domain.TieBreak),
		players:   make(map[common.Address]*domain.PlayerState),
	}
}

// PoolID returns the watched pool.
func (r *Reducer) PoolID() uint64 { return r.cfg.PoolID }

// Start restores the persisted selection and performs the first read. The
// restored value is only a hint: the first read adopts whatever choice the
// contract holds for the viewer in the current round. ctx also bounds
// selection writes started later.
func (r *Reducer) Start(ctx context.Context) error {
	restored := domain.ChoiceNone
	if r.cfg.Selections != nil {
		c, err := r.cfg.Selections.Get(ctx, r.key)
		switch {
		case err == nil:
			restored = c
		case errors.Is(err, domain.ErrNotFound):
		default:
			r.logger.Warn("restore selection failed", slog.String("error", err.Error()))
		}
	}

	r.mu.Lock()
	r.baseCtx = ctx
	if restored.Valid() {
		r.restored = restored
	}
	r.mu.Unlock()

	return r.Refresh(ctx)
}

// Refresh re-reads the pool. The first successful read fixes currentRound and
// backfills earlier rounds; later reads that find the contract ahead accept
// one completion per missed round. Rounds whose results are still missing are
// fetched again.
func (r *Reducer) Refresh(ctx context.Context) error {
	pool, err := r.cfg.Gateway.Pool(ctx, r.cfg.PoolID)
	if err != nil && ctx.Err() != nil {
		// Shutting down: the last published view stays as it was.
		return ctx.Err()
	}

	var chain *domain.PlayerInfo
	if err == nil && r.needsReconcile() {
		info, perr := r.cfg.Gateway.PlayerInfo(ctx, r.cfg.PoolID, r.cfg.Viewer)
		switch {
		case perr == nil:
			chain = &info
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			r.logger.Warn("read viewer choice failed", slog.String("error", perr.Error()))
		}
	}

	r.mu.Lock()
	r.loading = false
	if err != nil {
		r.readErr = err
		r.unlockAndNotify()
		r.logger.Warn("pool read failed", slog.String("error", err.Error()))
		return fmt.Errorf("game: refresh pool %d: %w", r.cfg.PoolID, err)
	}
	r.readErr = nil
	r.pool = &pool

	clearKey := false
	contractRound := pool.CurrentRound
	if contractRound < 1 {
		contractRound = 1
	}
	if !r.initialized {
		r.initialized = true
		r.currentRound = contractRound
		clearKey = r.drainLocked()
	} else if contractRound > r.currentRound {
		r.logger.Info("contract round ahead, catching up",
			slog.Uint64("local_round", r.currentRound),
			slog.Uint64("contract_round", contractRound),
		)
		for r.currentRound < contractRound {
			r.acceptLocked()
			clearKey = true
		}
		if r.drainLocked() {
			clearKey = true
		}
	}
	if chain != nil && !r.reconciled {
		if r.reconcileLocked(*chain) {
			clearKey = true
		}
	}
	missing := r.missingLocked()
	r.unlockAndNotify()

	if clearKey {
		r.deletePersisted(ctx)
	}
	r.fetchRounds(ctx, missing)
	return nil
}

func (r *Reducer) needsReconcile() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.reconciled && r.cfg.Viewer != (common.Address{})
}

// reconcileLocked adopts the viewer's on-chain choice for currentRound. The
// contract resets a player's choice when a round completes, so a persisted
// value left over from an earlier round is dropped here. It reports whether
// the persisted key must be removed.
func (r *Reducer) reconcileLocked(info domain.PlayerInfo) bool {
	r.reconciled = true
	restored := r.restored
	r.restored = domain.ChoiceNone

	if r.selection.Choice.Valid() {
		// Chosen since Start; newer than either record.
		return false
	}
	if r.eliminated || !info.Choice.Valid() {
		if restored.Valid() {
			r.logger.Info("dropping stale persisted selection", slog.String("choice", restored.String()))
		}
		return restored.Valid()
	}
	r.selection = domain.Selection{Choice: info.Choice, Round: r.currentRound, State: domain.SelectionConfirmed, UpdatedAt: time.Now().UTC()}
	r.participant = true
	if restored.Valid() && restored != info.Choice {
		r.logger.Warn("persisted selection disagrees with contract",
			slog.String("persisted", restored.String()),
			slog.String("contract", info.Choice.String()),
		)
		return true
	}
	return false
}

// Apply consumes one chain event. Events for other pools are ignored.
func (r *Reducer) Apply(ctx context.Context, ev domain.ChainEvent) {
	if ev.PoolID() != r.cfg.PoolID {
		return
	}
	switch e := ev.(type) {
	case domain.RoundCompleted:
		r.onRoundCompleted(ctx, e)
	case domain.RoundWinners:
		r.mu.Lock()
		r.winners[e.Round] = append([]common.Address(nil), e.Winners...)
		if containsAddr(e.Winners, r.cfg.Viewer) {
			r.participant = true
		}
		r.unlockAndNotify()
	case domain.RoundLosers:
		r.mu.Lock()
		r.losers[e.Round] = append([]common.Address(nil), e.Losers...)
		clearKey := false
		if containsAddr(e.Losers, r.cfg.Viewer) {
			clearKey = r.eliminateLocked(e.Round)
		}
		r.unlockAndNotify()
		if clearKey {
			r.deletePersisted(ctx)
		}
	case domain.TieBrokenByHybrid:
		// Display only; the round advances on RoundCompleted.
		r.mu.Lock()
		r.tieBreaks[e.Round] = e.TieBreak()
		r.unlockAndNotify()
	case domain.PlayerJoined:
		r.mu.Lock()
		if r.pool != nil && r.pool.CurrentPlayers < r.pool.MaxPlayers {
			r.pool.CurrentPlayers++
			if r.pool.EntryFee != nil {
				prize := new(big.Int)
				if r.pool.PrizePool != nil {
					prize.Set(r.pool.PrizePool)
				}
				r.pool.PrizePool = prize.Add(prize, r.pool.EntryFee)
			}
		}
		if e.Player == r.cfg.Viewer && e.Player != (common.Address{}) {
			r.participant = true
		}
		r.unlockAndNotify()
	}
}

func (r *Reducer) onRoundCompleted(ctx context.Context, e domain.RoundCompleted) {
	r.mu.Lock()
	var fetch []uint64
	clearKey := false
	switch {
	case !r.initialized || e.Round > r.currentRound:
		r.buffered[e.Round] = e
	case e.Round < r.currentRound:
		// Late or repeated: the round already advanced past it.
		if _, ok := r.results[e.Round]; !ok && e.Round >= 1 {
			fetch = append(fetch, e.Round)
		}
	default:
		fetch = append(fetch, r.acceptLocked())
		r.drainLocked()
		clearKey = true
		fetch = append(fetch, r.missingLocked()...)
	}
	r.unlockAndNotify()

	if clearKey {
		r.deletePersisted(ctx)
	}
	r.fetchRounds(ctx, fetch)
}

// acceptLocked completes currentRound and advances by exactly one.
func (r *Reducer) acceptLocked() uint64 {
	done := r.currentRound
	r.currentRound++
	r.selection = domain.Selection{}
	delete(r.buffered, done)
	r.logger.Info("round completed", slog.Uint64("round", done))
	return done
}

// drainLocked accepts buffered completions that became current and drops
// those left behind. It reports whether any round was accepted.
func (r *Reducer) drainLocked() bool {
	accepted := false
	for round := range r.buffered {
		if round < r.currentRound {
			delete(r.buffered, round)
		}
	}
	for {
		if _, ok := r.buffered[r.currentRound]; !ok {
			return accepted
		}
		r.acceptLocked()
		accepted = true
	}
}

// missingLocked lists completed rounds without a stored result.
func (r *Reducer) missingLocked() []uint64 {
	var out []uint64
	for round := uint64(1); round < r.currentRound; round++ {
		if _, ok := r.results[round]; !ok {
			out = append(out, round)
		}
	}
	return out
}

// eliminateLocked records the viewer's elimination and clears the
// selection. The persisted selection must be removed afterwards.
func (r *Reducer) eliminateLocked(round uint64) bool {
	r.participant = true
	if !r.eliminated {
		r.logger.Info("viewer eliminated", slog.Uint64("round", round))
	}
	r.eliminated = true
	r.restored = domain.ChoiceNone
	r.selection = domain.Selection{}
	return true
}

func (r *Reducer) fetchRounds(ctx context.Context, rounds []uint64) {
	seen := make(map[uint64]bool, len(rounds))
	for _, round := range rounds {
		if round < 1 || seen[round] {
			continue
		}
		seen[round] = true
		if err := r.fetchRound(ctx, round); err != nil {
			r.logger.Warn("fetch round results failed",
				slog.Uint64("round", round),
				slog.String("error", err.Error()),
			)
		}
	}
}

// fetchRound ingests one round. Concurrent callers for the same round share
// one contract call, and a stored result is never fetched again.
func (r *Reducer) fetchRound(ctx context.Context, round uint64) error {
	if r.hasResult(round) {
		return nil
	}
	_, err, _ := r.fetches.Do(strconv.FormatUint(round, 10), func() (any, error) {
		if r.hasResult(round) {
			return nil, nil
		}
		if res, ok := r.fromArchive(ctx, round); ok {
			r.ingest(ctx, res, false)
			return nil, nil
		}

		reply, err := r.cfg.Gateway.RoundResults(ctx, r.cfg.PoolID, round)
		if err != nil {
			if errors.Is(err, domain.ErrRoundNotEnded) {
				r.logger.Debug("round not ended yet", slog.Uint64("round", round))
				return nil, nil
			}
			return nil, err
		}
		res, err := domain.NewRoundResult(r.cfg.PoolID, round, reply.Winners, reply.Losers, reply.WinningIndex, r.cfg.Viewer)
		if err != nil {
			if errors.Is(err, domain.ErrRoundUndecided) {
				r.logger.Debug("round has no winner yet", slog.Uint64("round", round))
				return nil, nil
			}
			return nil, err
		}
		r.ingest(ctx, res, true)
		return nil, nil
	})
	return err
}

func (r *Reducer) fromArchive(ctx context.Context, round uint64) (domain.RoundResult, bool) {
	if r.cfg.Archive == nil {
		return domain.RoundResult{}, false
	}
	res, err := r.cfg.Archive.Get(ctx, r.cfg.PoolID, round)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			r.logger.Warn("round archive read failed",
				slog.Uint64("round", round),
				slog.String("error", err.Error()),
			)
		}
		return domain.RoundResult{}, false
	}
	// Survival is relative to whoever stored the row.
	res.Survived = res.IsWinner(r.cfg.Viewer)
	return res, true
}

func (r *Reducer) hasResult(round uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.results[round]
	return ok
}

// ingest stores an immutable round result and updates the player set.
func (r *Reducer) ingest(ctx context.Context, res domain.RoundResult, fresh bool) {
	r.mu.Lock()
	if _, ok := r.results[res.Round]; ok {
		r.mu.Unlock()
		return
	}
	r.results[res.Round] = res
	if _, ok := r.winners[res.Round]; !ok {
		r.winners[res.Round] = append([]common.Address(nil), res.Winners...)
	}
	if _, ok := r.losers[res.Round]; !ok {
		r.losers[res.Round] = append([]common.Address(nil), res.Losers...)
	}
	for _, a := range res.Winners {
		r.trackLocked(a)
	}
	for _, a := range res.Losers {
		p := r.trackLocked(a)
		if !p.Eliminated {
			p.Eliminated = true
			p.EliminatedIn = res.Round
		}
	}
	clearKey := false
	if res.Survived {
		r.participant = true
	}
	if res.IsLoser(r.cfg.Viewer) {
		clearKey = r.eliminateLocked(res.Round)
	}
	r.unlockAndNotify()

	if clearKey {
		r.deletePersisted(ctx)
	}
	if fresh && r.cfg.OnRound != nil {
		r.cfg.OnRound(res.Clone())
	}
}

func (r *Reducer) trackLocked(a common.Address) *domain.PlayerState {
	if p, ok := r.players[a]; ok {
		return p
	}
	p := &domain.PlayerState{Address: a}
	r.players[a] = p
	r.playerOrder = append(r.playerOrder, a)
	return p
}

// MakeChoice records choice for the current round and submits it. The
// selection is set and persisted before the write is mined; a failed write
// rolls it back. A call made while another write is outstanding is rejected
// with domain.ErrSelectionInFlight.
func (r *Reducer) MakeChoice(ctx context.Context, choice domain.Choice) error {
	if !choice.Valid() {
		return fmt.Errorf("game: %w: %s", domain.ErrInvalidChoice, choice)
	}
	if !r.writing.CompareAndSwap(false, true) {
		return domain.ErrSelectionInFlight
	}

	r.mu.Lock()
	if r.eliminated {
		r.mu.Unlock()
		r.writing.Store(false)
		return domain.ErrEliminated
	}
	if st := r.statusLocked(); st != domain.GameChoosing {
		r.mu.Unlock()
		r.writing.Store(false)
		return fmt.Errorf("game: %w (status %s)", domain.ErrNotChoosing, st)
	}
	round := r.currentRound
	r.selection = domain.Selection{Choice: choice, Round: round, State: domain.SelectionPending, UpdatedAt: time.Now().UTC()}
	r.lastWrite = ""
	r.participant = true
	base := r.baseCtx
	r.unlockAndNotify()

	r.persist(ctx, choice, round)

	r.writes.Add(1)
	go r.submit(base, choice, round)
	return nil
}

func (r *Reducer) submit(ctx context.Context, choice domain.Choice, round uint64) {
	defer r.writes.Done()
	defer r.writing.Store(false)

	receipt, err := r.cfg.Gateway.MakeSelection(ctx, r.cfg.PoolID, choice)

	r.mu.Lock()
	current := r.selection.Choice == choice && r.selection.Round == round && r.selection.State == domain.SelectionPending
	clearKey := false
	if err != nil {
		r.lastWrite = err.Error()
		if current {
			r.selection = domain.Selection{}
			clearKey = true
		}
	} else if current {
		r.selection.State = domain.SelectionConfirmed
		r.selection.TxHash = receipt.TxHash
		r.selection.UpdatedAt = time.Now().UTC()
	}
	r.unlockAndNotify()

	if err != nil {
		r.logger.Warn("selection write failed",
			slog.String("choice", choice.String()),
			slog.Uint64("round", round),
			slog.String("error", err.Error()),
		)
	} else {
		r.logger.Info("selection confirmed",
			slog.String("choice", choice.String()),
			slog.Uint64("round", round),
			slog.String("tx", receipt.TxHash.Hex()),
		)
	}
	if clearKey {
		r.deletePersisted(context.WithoutCancel(ctx))
	}
	if r.cfg.OnWrite != nil {
		r.cfg.OnWrite(choice, round, err)
	}
}

// persist stores choice for round. A completion or elimination handled while
// Set was in flight has already deleted the key, so the late write is undone.
func (r *Reducer) persist(ctx context.Context, choice domain.Choice, round uint64) {
	if r.cfg.Selections == nil {
		return
	}
	if err := r.cfg.Selections.Set(ctx, r.key, choice); err != nil {
		r.logger.Warn("persist selection failed", slog.String("error", err.Error()))
		return
	}
	r.mu.Lock()
	live := r.selection.Choice == choice && r.selection.Round == round
	r.mu.Unlock()
	if !live {
		r.deletePersisted(context.WithoutCancel(ctx))
	}
}

// Wait blocks until no selection write is outstanding.
func (r *Reducer) Wait() { r.writes.Wait() }

func (r *Reducer) deletePersisted(ctx context.Context) {
	if r.cfg.Selections == nil {
		return
	}
	if err := r.cfg.Selections.Delete(ctx, r.key); err != nil && !errors.Is(err, domain.ErrNotFound) {
		r.logger.Warn("remove persisted selection failed", slog.String("error", err.Error()))
	}
}

// Snapshot returns a deep copy of the current view.
func (r *Reducer) Snapshot() domain.GameView {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.viewLocked()
}

// unlockAndNotify releases r.mu and delivers the resulting view.
func (r *Reducer) unlockAndNotify() {
	view := r.viewLocked()
	r.notifyMu.Lock()
	r.mu.Unlock()
	defer r.notifyMu.Unlock()
	if r.cfg.OnChange != nil {
		r.cfg.OnChange(view)
	}
}

func (r *Reducer) statusLocked() domain.GameStatus {
	switch {
	case r.loading:
		return domain.GameLoading
	case r.readErr != nil || r.pool == nil:
		return domain.GameError
	default:
		return DeriveStatus(r.pool.Status, r.selection, r.currentRound)
	}
}

func (r *Reducer) viewLocked() domain.GameView {
	v := domain.GameView{
		PoolID:          r.cfg.PoolID,
		Viewer:          r.cfg.Viewer,
		CurrentRound:    r.currentRound,
		SelectedOption:  r.selection.Choice,
		Selection:       r.selection,
		GameStatus:      r.statusLocked(),
		Eliminated:      r.eliminated,
		HasParticipated: r.participant,
		IsLoading:       r.loading,
		Processing:      r.writing.Load(),
		LastWriteError:  r.lastWrite,
	}
	if r.pool != nil {
		p := r.pool.Clone()
		v.GameInfo = &p
	}
	if r.readErr != nil {
		v.Error = r.readErr.Error()
	}

	rounds := make([]uint64, 0, len(r.results))
	for round := range r.results {
		rounds = append(rounds, round)
	}
	sort.Slice(rounds, func(i, j int) bool { return rounds[i] < rounds[j] })
	v.RoundResults = make([]domain.RoundResult, 0, len(rounds))
	for _, round := range rounds {
		v.RoundResults = append(v.RoundResults, r.results[round].Clone())
	}

	var last *domain.RoundResult
	if n := len(v.RoundResults); n > 0 {
		last = &v.RoundResults[n-1]
		v.SurvivingPlayers = uint64(len(last.Winners))
	} else if r.pool != nil {
		v.SurvivingPlayers = r.pool.CurrentPlayers
	}

	v.KnownPlayers = make([]domain.PlayerState, 0, len(r.playerOrder))
	for _, a := range r.playerOrder {
		v.KnownPlayers = append(v.KnownPlayers, *r.players[a])
	}

	if round, ok := r.displayRoundLocked(); ok {
		v.CurrentRoundWinners = append([]common.Address{}, r.winners[round]...)
		v.CurrentRoundLosers = append([]common.Address{}, r.losers[round]...)
	} else {
		v.CurrentRoundWinners = []common.Address{}
		v.CurrentRoundLosers = []common.Address{}
	}

	tbRounds := make([]uint64, 0, len(r.tieBreaks))
	for round := range r.tieBreaks {
		tbRounds = append(tbRounds, round)
	}
	sort.Slice(tbRounds, func(i, j int) bool { return tbRounds[i] < tbRounds[j] })
	for _, round := range tbRounds {
		v.TieBreaks = append(v.TieBreaks, r.tieBreaks[round])
	}

	v.Outcome = outcome(r.pool, r.eliminated, r.participant, last)
	return v.Clone()
}

// displayRoundLocked picks the round whose winners and losers are shown: the
// highest round at or after the one that just completed.
func (r *Reducer) displayRoundLocked() (uint64, bool) {
	var best uint64
	found := false
	floor := uint64(0)
	if r.currentRound > 0 {
		floor = r.currentRound - 1
	}
	consider := func(round uint64) {
		if round >= floor && (!found || round > best) {
			best, found = round, true
		}
	}
	for round := range r.winners {
		consider(round)
	}
	for round := range r.losers {
		consider(round)
	}
	return best, found
}

func containsAddr(set []common.Address, addr common.Address) bool {
	if addr == (common.Address{}) {
		return false
	}
	for _, a := range set {
		if a == addr {
			return true
		}
	}
	return false
}
