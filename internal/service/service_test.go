package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/flareflip/internal/domain"
	"github.com/alanyoungcy/flareflip/internal/game"
	"github.com/alanyoungcy/flareflip/internal/notify"
	"github.com/alanyoungcy/flareflip/internal/pools"
)

var (
	viewer = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	other  = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

func token(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

// fakeChain implements every gateway interface the services use.
type fakeChain struct {
	mu       sync.Mutex
	pools    map[uint64]domain.Pool
	poolErr  map[uint64]error
	replies  map[uint64]domain.RoundReply
	staker   domain.Staker
	player   domain.PlayerInfo
	writes   []string
	writeErr error
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		pools:   make(map[uint64]domain.Pool),
		poolErr: make(map[uint64]error),
		replies: make(map[uint64]domain.RoundReply),
	}
}

func (f *fakeChain) PoolCount(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.pools) + len(f.poolErr)), nil
}

func (f *fakeChain) Pool(ctx context.Context, id uint64) (domain.Pool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.poolErr[id]; err != nil {
		return domain.Pool{}, err
	}
	p, ok := f.pools[id]
	if !ok {
		return domain.Pool{}, domain.ErrNotFound
	}
	return p.Clone(), nil
}

func (f *fakeChain) RoundResults(ctx context.Context, poolID, round uint64) (domain.RoundReply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.replies[round]
	if !ok {
		return domain.RoundReply{}, domain.ErrRoundNotEnded
	}
	return r, nil
}

func (f *fakeChain) record(action string) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return nil, f.writeErr
	}
	f.writes = append(f.writes, action)
	return &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      common.HexToHash("0xabc"),
		BlockNumber: big.NewInt(77),
	}, nil
}

func (f *fakeChain) MakeSelection(ctx context.Context, poolID uint64, choice domain.Choice) (*types.Receipt, error) {
	return f.record("select:" + choice.String())
}

func (f *fakeChain) Staker(ctx context.Context, addr common.Address) (domain.Staker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.staker, nil
}

func (f *fakeChain) PlayerInfo(ctx context.Context, poolID uint64, addr common.Address) (domain.PlayerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.player, nil
}

func (f *fakeChain) UserPools(ctx context.Context, addr common.Address) ([]uint64, error) {
	return []uint64{4, 9}, nil
}

func (f *fakeChain) JoinPool(ctx context.Context, poolID uint64, value *big.Int) (*types.Receipt, error) {
	return f.record(fmt.Sprintf("join:%d:%s", poolID, value))
}

func (f *fakeChain) CreatePool(ctx context.Context, entryFee *big.Int, maxPlayers uint64, asset string) (*types.Receipt, error) {
	return f.record("create:" + asset)
}

func (f *fakeChain) Stake(ctx context.Context, value *big.Int) (*types.Receipt, error) {
	return f.record("stake")
}

func (f *fakeChain) Unstake(ctx context.Context, amount *big.Int) (*types.Receipt, error) {
	return f.record("unstake")
}

func (f *fakeChain) ClaimPrize(ctx context.Context, poolID uint64) (*types.Receipt, error) {
	return f.record(fmt.Sprintf("claim:%d", poolID))
}

func (f *fakeChain) written() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.writes...)
}

type memBus struct {
	mu       sync.Mutex
	messages map[string][][]byte
}

func newMemBus() *memBus { return &memBus{messages: make(map[string][][]byte)} }

func (b *memBus) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages[channel] = append(b.messages[channel], payload)
	return nil
}

func (b *memBus) PSubscribe(ctx context.Context, pattern string) (<-chan domain.BusMessage, error) {
	return nil, errors.New("not supported")
}

func (b *memBus) count(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.messages[channel])
}

type memPoolStore struct {
	mu    sync.Mutex
	pools map[uint64]domain.Pool
}

func (m *memPoolStore) Upsert(ctx context.Context, p domain.Pool) error {
	return m.UpsertBatch(ctx, []domain.Pool{p})
}

func (m *memPoolStore) UpsertBatch(ctx context.Context, ps []domain.Pool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pools == nil {
		m.pools = make(map[uint64]domain.Pool)
	}
	for _, p := range ps {
		m.pools[p.ID] = p
	}
	return nil
}

func (m *memPoolStore) GetByID(ctx context.Context, id uint64) (domain.Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[id]
	if !ok {
		return domain.Pool{}, domain.ErrNotFound
	}
	return p, nil
}

func (m *memPoolStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Pool, error) {
	return nil, nil
}

func (m *memPoolStore) Count(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.pools)), nil
}

type memPoolCache struct {
	mu      sync.Mutex
	entries map[uint64]domain.PoolSummary
}

func (m *memPoolCache) Set(ctx context.Context, s domain.PoolSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries == nil {
		m.entries = make(map[uint64]domain.PoolSummary)
	}
	m.entries[s.ID] = s
	return nil
}

func (m *memPoolCache) Get(ctx context.Context, id uint64) (domain.PoolSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.entries[id]
	if !ok {
		return domain.PoolSummary{}, domain.ErrNotFound
	}
	return s, nil
}

func (m *memPoolCache) Invalidate(ctx context.Context, id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	return nil
}

type memRounds struct {
	mu     sync.Mutex
	rounds map[uint64]domain.RoundResult
}

func (m *memRounds) Save(ctx context.Context, res domain.RoundResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rounds == nil {
		m.rounds = make(map[uint64]domain.RoundResult)
	}
	m.rounds[res.Round] = res
	return nil
}

func (m *memRounds) Get(ctx context.Context, poolID, round uint64) (domain.RoundResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rounds[round]
	if !ok {
		return domain.RoundResult{}, domain.ErrNotFound
	}
	return r, nil
}

func (m *memRounds) List(ctx context.Context, poolID uint64) ([]domain.RoundResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.RoundResult
	for round := uint64(1); round <= uint64(len(m.rounds)); round++ {
		if r, ok := m.rounds[round]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memRounds) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rounds)
}

type memArchiver struct {
	mu          sync.Mutex
	transcripts map[uint64]domain.GameTranscript
}

func (m *memArchiver) ArchiveGame(ctx context.Context, t domain.GameTranscript) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.transcripts == nil {
		m.transcripts = make(map[uint64]domain.GameTranscript)
	}
	m.transcripts[t.Pool.ID] = t
	return fmt.Sprintf("games/%d/transcript.json", t.Pool.ID), nil
}

func (m *memArchiver) IsArchived(ctx context.Context, poolID uint64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.transcripts[poolID]
	return ok, nil
}

func (m *memArchiver) ArchivedPools(ctx context.Context) ([]uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]uint64, 0, len(m.transcripts))
	for id := range m.transcripts {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

func (m *memArchiver) LoadGame(ctx context.Context, poolID uint64) (domain.GameTranscript, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transcripts[poolID]
	if !ok {
		return domain.GameTranscript{}, domain.ErrNotFound
	}
	return t, nil
}

type memLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

func (m *memLocks) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held == nil {
		m.held = make(map[string]bool)
	}
	if m.held[key] {
		return nil, domain.ErrLockHeld
	}
	m.held[key] = true
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.held, key)
	}, nil
}

type memAudit struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (m *memAudit) Log(ctx context.Context, event string, detail map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, domain.AuditEntry{Event: event, Detail: detail})
	return nil
}

func (m *memAudit) List(ctx context.Context, q domain.AuditQuery) ([]domain.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.AuditEntry(nil), m.entries...), nil
}

type recordSender struct {
	mu     sync.Mutex
	titles []string
}

func (r *recordSender) Send(ctx context.Context, title, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titles = append(r.titles, title)
	return nil
}

func (r *recordSender) Name() string { return "record" }

func (r *recordSender) has(prefix string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.titles {
		if strings.HasPrefix(t, prefix) {
			return true
		}
	}
	return false
}

type chanFeed struct {
	ch     chan domain.ChainEvent
	closed chan struct{}
	once   sync.Once
}

func newChanFeed() *chanFeed {
	return &chanFeed{ch: make(chan domain.ChainEvent, 16), closed: make(chan struct{})}
}

func (f *chanFeed) Events() <-chan domain.ChainEvent { return f.ch }
func (f *chanFeed) Close() { f.once.Do(func() { close(f.closed) }) }

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// ---------------------------------------------------------------------------
// PoolService
// ---------------------------------------------------------------------------

func openPool(id, players, max uint64) domain.Pool {
	return domain.Pool{
		ID:             id,
		AssetSymbol:    "BTC",
		EntryFee:       token(1),
		MaxPlayers:     max,
		CurrentPlayers: players,
		PrizePool:      new(big.Int).Mul(token(1), new(big.Int).SetUint64(players)),
		Status:         domain.PoolStatusOpen,
	}
}

func TestPoolServiceSync(t *testing.T) {
	chain := newFakeChain()
	chain.pools[0] = openPool(0, 1, 10)
	chain.pools[1] = openPool(1, 9, 10)
	chain.poolErr[2] = errors.New("rpc timeout")
	store := &memPoolStore{}
	cache := &memPoolCache{}
	bus := newMemBus()

	svc := NewPoolService(chain, pools.NewList(0.8), store, cache, bus, nil, 6, nil)
	if err := svc.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	if n, _ := store.Count(context.Background()); n != 2 {
		t.Fatalf("stored %d pools, want 2", n)
	}
	sum, err := cache.Get(context.Background(), 1)
	if err != nil || sum.DisplayStatus != domain.DisplayFilling {
		t.Fatalf("cached pool 1 = %+v, %v", sum, err)
	}
	if bus.count(domain.ChannelPools) != 1 {
		t.Fatal("sync not announced")
	}
}

func TestPoolServicePlayerJoinedActivates(t *testing.T) {
	chain := newFakeChain()
	chain.pools[0] = openPool(0, 1, 2)
	sender := &recordSender{}
	n := notify.NewNotifier([]notify.Sender{sender}, nil, nil)
	cache := &memPoolCache{}
	svc := NewPoolService(chain, pools.NewList(0.8), nil, cache, newMemBus(), n, 6, nil)
	ctx := context.Background()
	if err := svc.Sync(ctx); err != nil {
		t.Fatal(err)
	}

	svc.PlayerJoined(ctx, domain.PlayerJoined{Pool: 0, Player: other})
	sum, _ := svc.Summary(0)
	if sum.CurrentPlayers != 2 || sum.DisplayStatus != domain.DisplayActive {
		t.Fatalf("summary = %+v", sum)
	}
	if sum.PrizePool.Cmp(token(2)) != 0 {
		t.Fatalf("prize = %s", sum.PrizePool)
	}
	if !sender.has("Pool #0 is active") {
		t.Fatalf("no activation notice: %v", sender.titles)
	}

	// A join for a pool outside the list drops its stale cache entry.
	_ = cache.Set(ctx, domain.PoolSummary{Pool: openPool(42, 1, 4)})
	svc.PlayerJoined(ctx, domain.PlayerJoined{Pool: 42, Player: other})
	if _, err := cache.Get(ctx, 42); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("cache entry for unsynced pool survived the join: %v", err)
	}
	if _, ok := svc.Summary(42); ok {
		t.Fatal("unknown pool added to the list")
	}
}

func TestPoolServiceListPaging(t *testing.T) {
	chain := newFakeChain()
	for id := uint64(0); id < 10; id++ {
		chain.pools[id] = openPool(id, id%3, 10)
	}
	svc := NewPoolService(chain, pools.NewList(0.8), nil, nil, nil, nil, 6, nil)
	if err := svc.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}

	first := svc.List(pools.Query{}, 0)
	if first.Visible != 6 || first.Total != 10 || !first.HasMore {
		t.Fatalf("first page = %+v", first)
	}
	all := svc.List(pools.Query{}, 3)
	if all.Visible != 10 || all.HasMore {
		t.Fatalf("expanded page = %+v", all)
	}
}

func TestPoolServiceGetFallsBack(t *testing.T) {
	chain := newFakeChain()
	chain.pools[5] = openPool(5, 2, 4)
	store := &memPoolStore{}
	_ = store.Upsert(context.Background(), domain.Pool{ID: 3, Status: domain.PoolStatusCompleted})
	svc := NewPoolService(chain, pools.NewList(0.8), store, &memPoolCache{}, nil, nil, 6, nil)
	ctx := context.Background()

	got, err := svc.Get(ctx, 3)
	if err != nil || got.DisplayStatus != domain.DisplayCompleted {
		t.Fatalf("snapshot fallback = %+v, %v", got, err)
	}
	got, err = svc.Get(ctx, 5)
	if err != nil || got.CurrentPlayers != 2 {
		t.Fatalf("contract fallback = %+v, %v", got, err)
	}
	if _, ok := svc.Summary(5); !ok {
		t.Fatal("contract read not folded into the list")
	}
	if _, err := svc.Get(ctx, 99); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing pool err = %v", err)
	}
}

// ---------------------------------------------------------------------------
// AccountService
// ---------------------------------------------------------------------------

func TestAccountJoinPool(t *testing.T) {
	chain := newFakeChain()
	chain.pools[1] = openPool(1, 1, 4)
	full := openPool(2, 4, 4)
	chain.pools[2] = full
	audit := &memAudit{}
	svc := NewAccountService(chain, viewer, &memLocks{}, audit, nil)
	ctx := context.Background()

	res, err := svc.JoinPool(ctx, 1)
	if err != nil {
		t.Fatalf("JoinPool: %v", err)
	}
	if res.IntentID == "" || res.Block != 77 {
		t.Fatalf("result = %+v", res)
	}
	if w := chain.written(); len(w) != 1 || w[0] != "join:1:"+token(1).String() {
		t.Fatalf("writes = %v", w)
	}
	entries, _ := audit.List(ctx, domain.AuditQuery{})
	if len(entries) != 2 || entries[0].Event != "account.join.submitted" || entries[1].Event != "account.join.mined" {
		t.Fatalf("audit = %+v", entries)
	}
	if entries[0].Detail["intent_id"] != entries[1].Detail["intent_id"] {
		t.Fatal("audit rows do not share the intent id")
	}

	if _, err := svc.JoinPool(ctx, 2); !errors.Is(err, domain.ErrPoolNotJoinable) {
		t.Fatalf("full pool err = %v", err)
	}
}

func TestAccountWriteLockHeld(t *testing.T) {
	chain := newFakeChain()
	locks := &memLocks{}
	svc := NewAccountService(chain, viewer, locks, nil, nil)
	unlock, err := locks.Acquire(context.Background(), "wallet:"+strings.ToLower(viewer.Hex())+":stake", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	defer unlock()

	if _, err := svc.Stake(context.Background(), token(1)); !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("err = %v", err)
	}
	if len(chain.written()) != 0 {
		t.Fatal("write sent while locked")
	}
}

func TestAccountPreconditions(t *testing.T) {
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		staker domain.Staker
		player domain.PlayerInfo
		pool   domain.Pool
		run    func(*AccountService) error
		want   error
	}{
		{
			name:   "create without stake",
			staker: domain.Staker{StakedAmount: token(50)},
			run: func(s *AccountService) error {
				_, err := s.CreatePool(context.Background(), token(1), 4, "btc")
				return err
			},
			want: domain.ErrInsufficientStake,
		},
		{
			name:   "create with one player",
			staker: domain.Staker{StakedAmount: token(500)},
			run: func(s *AccountService) error {
				_, err := s.CreatePool(context.Background(), token(1), 1, "btc")
				return err
			},
			want: domain.ErrInvalidPoolParams,
		},
		{
			name:   "create ok",
			staker: domain.Staker{StakedAmount: token(100)},
			run: func(s *AccountService) error {
				_, err := s.CreatePool(context.Background(), token(1), 4, " btc ")
				return err
			},
		},
		{
			name:   "unstake inside lock period",
			staker: domain.Staker{StakedAmount: token(100), LastStakeTimestamp: now.Add(-24 * time.Hour)},
			run: func(s *AccountService) error {
				_, err := s.Unstake(context.Background(), token(10))
				return err
			},
			want: domain.ErrStakeLocked,
		},
		{
			name:   "unstake with active pools",
			staker: domain.Staker{StakedAmount: token(100), ActivePoolsCount: 1, LastStakeTimestamp: now.Add(-30 * 24 * time.Hour)},
			run: func(s *AccountService) error {
				_, err := s.Unstake(context.Background(), token(10))
				return err
			},
			want: domain.ErrStakeLocked,
		},
		{
			name:   "unstake more than staked",
			staker: domain.Staker{StakedAmount: token(5), LastStakeTimestamp: now.Add(-30 * 24 * time.Hour)},
			run: func(s *AccountService) error {
				_, err := s.Unstake(context.Background(), token(10))
				return err
			},
			want: domain.ErrInsufficientStake,
		},
		{
			name:   "unstake ok",
			staker: domain.Staker{StakedAmount: token(100), LastStakeTimestamp: now.Add(-8 * 24 * time.Hour)},
			run: func(s *AccountService) error {
				_, err := s.Unstake(context.Background(), token(10))
				return err
			},
		},
		{
			name:   "claim while active",
			pool:   domain.Pool{ID: 1, Status: domain.PoolStatusActive},
			player: domain.PlayerInfo{Address: viewer},
			run: func(s *AccountService) error {
				_, err := s.ClaimPrize(context.Background(), 1)
				return err
			},
			want: domain.ErrNothingToClaim,
		},
		{
			name:   "claim eliminated",
			pool:   domain.Pool{ID: 1, Status: domain.PoolStatusCompleted},
			player: domain.PlayerInfo{Address: viewer, Eliminated: true},
			run: func(s *AccountService) error {
				_, err := s.ClaimPrize(context.Background(), 1)
				return err
			},
			want: domain.ErrNothingToClaim,
		},
		{
			name:   "claim ok",
			pool:   domain.Pool{ID: 1, Status: domain.PoolStatusCompleted},
			player: domain.PlayerInfo{Address: viewer},
			run: func(s *AccountService) error {
				_, err := s.ClaimPrize(context.Background(), 1)
				return err
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			chain := newFakeChain()
			chain.staker = tc.staker
			chain.player = tc.player
			chain.pools[1] = tc.pool
			svc := NewAccountService(chain, viewer, nil, nil, nil)
			svc.now = func() time.Time { return now }

			err := tc.run(svc)
			if tc.want == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if len(chain.written()) != 1 {
					t.Fatalf("writes = %v", chain.written())
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
			if len(chain.written()) != 0 {
				t.Fatalf("write sent despite failed precondition: %v", chain.written())
			}
		})
	}
}

func TestAccountWriteFailureAudited(t *testing.T) {
	chain := newFakeChain()
	chain.writeErr = domain.ErrTxReverted
	audit := &memAudit{}
	svc := NewAccountService(chain, viewer, nil, audit, nil)

	if _, err := svc.Stake(context.Background(), token(1)); !errors.Is(err, domain.ErrTxReverted) {
		t.Fatalf("err = %v", err)
	}
	entries, _ := audit.List(context.Background(), domain.AuditQuery{})
	if len(entries) != 2 || entries[1].Event != "account.stake.failed" {
		t.Fatalf("audit = %+v", entries)
	}
}

// ---------------------------------------------------------------------------
// GameService
// ---------------------------------------------------------------------------

type gameHarness struct {
	svc      *GameService
	chain    *fakeChain
	feed     *chanFeed
	rounds   *memRounds
	archiver *memArchiver
	bus      *memBus
	sender   *recordSender
	cancel   context.CancelFunc
	done     chan error
	stopped  sync.Once
}

func newGameHarness(t *testing.T, pool domain.Pool, replies map[uint64]domain.RoundReply, archived ...domain.GameTranscript) *gameHarness {
	t.Helper()
	h := &gameHarness{
		chain:    newFakeChain(),
		feed:     newChanFeed(),
		rounds:   &memRounds{},
		archiver: &memArchiver{},
		bus:      newMemBus(),
		sender:   &recordSender{},
		done:     make(chan error, 1),
	}
	for _, tr := range archived {
		_, _ = h.archiver.ArchiveGame(context.Background(), tr)
	}
	h.chain.pools[pool.ID] = pool
	for round, r := range replies {
		h.chain.replies[round] = r
	}
	h.svc = NewGameService(GameConfig{
		Gateway:  h.chain,
		Feeds:    func(uint64) game.Feed { return h.feed },
		Viewer:   viewer,
		Rounds:   h.rounds,
		Archiver: h.archiver,
		Bus:      h.bus,
		Notifier: notify.NewNotifier([]notify.Sender{h.sender}, nil, nil),
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.svc.Run(ctx, []uint64{pool.ID}) }()
	eventually(t, "watch", func() bool { return len(h.svc.Watched()) == 1 })
	t.Cleanup(h.stop)
	return h
}

func (h *gameHarness) stop() {
	h.stopped.Do(func() {
		h.cancel()
		<-h.done
	})
}

func TestGameServiceLiveRound(t *testing.T) {
	pool := domain.Pool{ID: 7, AssetSymbol: "ETH", Status: domain.PoolStatusActive, CurrentRound: 1, CurrentPlayers: 3, MaxPlayers: 3}
	h := newGameHarness(t, pool, nil)

	eventually(t, "first read", func() bool {
		v, err := h.svc.View(7)
		return err == nil && v.GameStatus == domain.GameChoosing
	})
	if err := h.svc.MakeChoice(context.Background(), 7, domain.ChoiceTails); err != nil {
		t.Fatalf("MakeChoice: %v", err)
	}
	eventually(t, "confirmed selection", func() bool {
		v, _ := h.svc.View(7)
		return v.Selection.State == domain.SelectionConfirmed
	})

	h.chain.mu.Lock()
	h.chain.replies[1] = domain.RoundReply{Winners: []common.Address{viewer}, Losers: []common.Address{other}, WinningIndex: 1}
	h.chain.mu.Unlock()
	h.feed.ch <- domain.RoundCompleted{Pool: 7, Round: 1}

	eventually(t, "round archived", func() bool { return h.rounds.len() == 1 })
	eventually(t, "survived notice", func() bool { return h.sender.has("Survived round 1") })

	rounds, err := h.svc.Rounds(context.Background(), 7)
	if err != nil || len(rounds) != 1 || !rounds[0].Survived {
		t.Fatalf("rounds = %+v, %v", rounds, err)
	}
	if h.bus.count(domain.GameChannel(7)) == 0 {
		t.Fatal("views not published")
	}
	if err := h.svc.MakeChoice(context.Background(), 8, domain.ChoiceHeads); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unwatched pool err = %v", err)
	}
}

func TestGameServiceArchivesFinishedPool(t *testing.T) {
	pool := domain.Pool{ID: 9, AssetSymbol: "BTC", Status: domain.PoolStatusCompleted, CurrentRound: 2, CurrentPlayers: 2, MaxPlayers: 2}
	h := newGameHarness(t, pool, map[uint64]domain.RoundReply{
		1: {Winners: []common.Address{viewer}, Losers: []common.Address{other}, WinningIndex: 0},
	})

	eventually(t, "transcript", func() bool {
		_, err := h.svc.Transcript(context.Background(), 9)
		return err == nil
	})
	got, _ := h.svc.Transcript(context.Background(), 9)
	if got.Outcome != domain.OutcomeWon || len(got.Rounds) != 1 {
		t.Fatalf("transcript = %+v", got)
	}
	eventually(t, "won notice", func() bool { return h.sender.has("Pool #9 won") })
	// Round 1 completed before the watch began.
	if h.sender.has("Survived") {
		t.Fatal("historic round announced")
	}
	if ids, err := h.svc.ArchivedPools(context.Background()); err != nil || !slices.Equal(ids, []uint64{9}) {
		t.Fatalf("ArchivedPools = %v, %v", ids, err)
	}
}

func TestGameServiceKeepsExistingArchive(t *testing.T) {
	pool := domain.Pool{ID: 9, AssetSymbol: "BTC", Status: domain.PoolStatusCompleted, CurrentRound: 2, CurrentPlayers: 2, MaxPlayers: 2}
	first := domain.GameTranscript{Pool: pool, Viewer: "first-upload", Outcome: domain.OutcomeWon}
	h := newGameHarness(t, pool, map[uint64]domain.RoundReply{
		1: {Winners: []common.Address{viewer}, Losers: []common.Address{other}, WinningIndex: 0},
	}, first)

	eventually(t, "finished view", func() bool {
		v, err := h.svc.View(9)
		return err == nil && v.GameStatus == domain.GameFinished && len(v.RoundResults) == 1
	})
	// Stopping waits for the watcher and any background archive upload.
	h.stop()
	got, err := h.svc.Transcript(context.Background(), 9)
	if err != nil || got.Viewer != "first-upload" {
		t.Fatalf("transcript = %+v, %v", got, err)
	}
}

func TestGameServiceUnwatch(t *testing.T) {
	pool := domain.Pool{ID: 4, Status: domain.PoolStatusOpen, CurrentRound: 0}
	h := newGameHarness(t, pool, nil)

	if !h.svc.Unwatch(4) {
		t.Fatal("Unwatch reported nothing to stop")
	}
	if h.svc.Unwatch(4) {
		t.Fatal("second Unwatch should be a no-op")
	}
	select {
	case <-h.feed.closed:
	default:
		t.Fatal("feed not closed on unwatch")
	}
	if _, err := h.svc.View(4); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("View after unwatch err = %v", err)
	}
}
