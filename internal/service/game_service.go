package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/flareflip/internal/domain"
	"github.com/alanyoungcy/flareflip/internal/game"
	"github.com/alanyoungcy/flareflip/internal/notify"
)

// FeedSource opens an event subscription for one pool.
type FeedSource func(poolID uint64) game.Feed

// GameConfig holds the GameService collaborators. Everything except Gateway
// and Feeds may be nil.
type GameConfig struct {
	Gateway         game.Gateway
	Feeds           FeedSource
	Viewer          common.Address
	Namespace       string
	RefreshInterval time.Duration

	Selections domain.SelectionStore
	Rounds     domain.RoundArchive
	Archiver   domain.Archiver
	Bus        domain.SignalBus
	Notifier   *notify.Notifier
}

// GameService owns one watcher per watched pool and fans reducer changes out
// to the signal bus, the round archive, notifications and cold storage.
type GameService struct {
	cfg    GameConfig
	logger *slog.Logger

	mu      sync.Mutex
	root    context.Context
	games   map[uint64]*watchedGame
	pending sync.WaitGroup
}

type watchedGame struct {
	watcher *game.Watcher
	cancel  context.CancelFunc
	done    chan struct{}

	// guarded by GameService.mu
	baseline   uint64
	started    bool
	notified   uint64
	wonSent    bool
	archived   bool
	archiving  bool
	eliminated bool
}

// NewGameService creates a GameService. Watch fails until Run is called.
func NewGameService(cfg GameConfig, logger *slog.Logger) *GameService {
	if logger == nil {
		logger = slog.Default()
	}
	return &GameService{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "game_service")),
		games:  make(map[uint64]*watchedGame),
	}
}

// Run watches the initial pools and blocks until ctx is cancelled, then stops
// every watcher.
func (s *GameService) Run(ctx context.Context, poolIDs []uint64) error {
	s.mu.Lock()
	s.root = ctx
	s.mu.Unlock()

	for _, id := range poolIDs {
		if err := s.Watch(ctx, id); err != nil {
			return err
		}
	}
	<-ctx.Done()

	s.mu.Lock()
	ids := make([]uint64, 0, len(s.games))
	for id := range s.games {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		s.Unwatch(id)
	}
	s.pending.Wait()
	return ctx.Err()
}

// Watch starts a reducer for poolID. Watching an already watched pool is a
// no-op.
func (s *GameService) Watch(ctx context.Context, poolID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.root == nil {
		return errors.New("game_service: not running")
	}
	if _, ok := s.games[poolID]; ok {
		return nil
	}

	g := &watchedGame{done: make(chan struct{})}
	reducer := game.NewReducer(game.Config{
		PoolID:     poolID,
		Viewer:     s.cfg.Viewer,
		Namespace:  s.cfg.Namespace,
		Gateway:    s.cfg.Gateway,
		Selections: s.cfg.Selections,
		Archive:    s.cfg.Rounds,
		OnChange:   func(v domain.GameView) { s.onChange(g, v) },
		OnRound:    s.onRound,
		OnWrite: func(choice domain.Choice, round uint64, err error) {
			s.onWrite(poolID, choice, round, err)
		},
		Logger: s.logger,
	})
	g.watcher = game.NewWatcher(reducer, s.cfg.Feeds(poolID), s.cfg.RefreshInterval, s.logger)

	wctx, cancel := context.WithCancel(s.root)
	g.cancel = cancel
	s.games[poolID] = g

	go func() {
		defer close(g.done)
		if err := g.watcher.Run(wctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.WarnContext(wctx, "game_service: watcher stopped",
				slog.Uint64("pool_id", poolID),
				slog.String("error", err.Error()),
			)
		}
	}()

	s.logger.InfoContext(ctx, "game_service: watching pool", slog.Uint64("pool_id", poolID))
	return nil
}

// Unwatch stops the watcher for poolID and waits for it to exit.
func (s *GameService) Unwatch(poolID uint64) bool {
	s.mu.Lock()
	g, ok := s.games[poolID]
	delete(s.games, poolID)
	s.mu.Unlock()
	if !ok {
		return false
	}
	g.cancel()
	<-g.done
	s.logger.Info("game_service: stopped watching pool", slog.Uint64("pool_id", poolID))
	return true
}

// Watched lists watched pool ids in ascending order.
func (s *GameService) Watched() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uint64, 0, len(s.games))
	for id := range s.games {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *GameService) reducer(poolID uint64) (*game.Reducer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.games[poolID]
	if !ok {
		return nil, fmt.Errorf("game_service: pool %d not watched: %w", poolID, domain.ErrNotFound)
	}
	return g.watcher.Reducer(), nil
}

// View returns the current view of a watched pool.
func (s *GameService) View(poolID uint64) (domain.GameView, error) {
	r, err := s.reducer(poolID)
	if err != nil {
		return domain.GameView{}, err
	}
	return r.Snapshot(), nil
}

// MakeChoice submits the viewer's side for the current round of poolID.
func (s *GameService) MakeChoice(ctx context.Context, poolID uint64, choice domain.Choice) error {
	r, err := s.reducer(poolID)
	if err != nil {
		return err
	}
	return r.MakeChoice(ctx, choice)
}

// Rounds returns a pool's round history: the live view for watched pools,
// otherwise the round archive.
func (s *GameService) Rounds(ctx context.Context, poolID uint64) ([]domain.RoundResult, error) {
	if r, err := s.reducer(poolID); err == nil {
		return r.Snapshot().RoundResults, nil
	}
	if s.cfg.Rounds == nil {
		return nil, fmt.Errorf("game_service: pool %d: %w", poolID, domain.ErrNotFound)
	}
	rounds, err := s.cfg.Rounds.List(ctx, poolID)
	if err != nil {
		return nil, fmt.Errorf("game_service: list rounds %d: %w", poolID, err)
	}
	for i := range rounds {
		rounds[i].Survived = rounds[i].IsWinner(s.cfg.Viewer)
	}
	return rounds, nil
}

// Transcript loads the archived transcript of a finished pool.
func (s *GameService) Transcript(ctx context.Context, poolID uint64) (domain.GameTranscript, error) {
	if s.cfg.Archiver == nil {
		return domain.GameTranscript{}, fmt.Errorf("game_service: archive disabled: %w", domain.ErrNotFound)
	}
	t, err := s.cfg.Archiver.LoadGame(ctx, poolID)
	if err != nil {
		return domain.GameTranscript{}, fmt.Errorf("game_service: load transcript %d: %w", poolID, err)
	}
	return t, nil
}

// ArchivedPools lists the pools with a transcript in cold storage.
func (s *GameService) ArchivedPools(ctx context.Context) ([]uint64, error) {
	if s.cfg.Archiver == nil {
		return nil, fmt.Errorf("game_service: archive disabled: %w", domain.ErrNotFound)
	}
	ids, err := s.cfg.Archiver.ArchivedPools(ctx)
	if err != nil {
		return nil, fmt.Errorf("game_service: list archive: %w", err)
	}
	return ids, nil
}

// Wait blocks until background notifications and archive uploads finish.
func (s *GameService) Wait() { s.pending.Wait() }

func (s *GameService) ctx() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.root == nil {
		return context.Background()
	}
	return context.WithoutCancel(s.root)
}

func (s *GameService) onChange(g *watchedGame, v domain.GameView) {
	ctx := s.ctx()
	s.publish(ctx, v)

	s.mu.Lock()
	var msgs []notify.Message
	if !v.IsLoading && v.GameInfo != nil && !g.started {
		// Rounds completed before the first read are history, not news.
		g.started = true
		g.baseline = v.CurrentRound
		g.notified = v.CurrentRound - 1
		g.eliminated = v.Eliminated
	}
	if g.started && v.GameInfo != nil {
		for _, res := range v.RoundResults {
			if res.Round <= g.notified {
				continue
			}
			g.notified = res.Round
			switch {
			case res.Survived:
				msgs = append(msgs, notify.Survived(*v.GameInfo, res))
			case res.IsLoser(v.Viewer) && !g.eliminated:
				g.eliminated = true
				msgs = append(msgs, notify.Eliminated(*v.GameInfo, res))
			}
		}
		if v.Outcome == domain.OutcomeWon && !g.wonSent {
			g.wonSent = true
			msgs = append(msgs, notify.Won(*v.GameInfo))
		}
	}
	archive := s.cfg.Archiver != nil && v.GameStatus == domain.GameFinished &&
		!g.archived && !g.archiving && roundsComplete(v)
	if archive {
		g.archiving = true
	}
	s.mu.Unlock()

	for _, m := range msgs {
		s.notify(ctx, m)
	}
	if archive {
		s.archive(ctx, g, v)
	}
}

// roundsComplete reports whether every round before CurrentRound has a result.
func roundsComplete(v domain.GameView) bool {
	var n uint64
	for _, r := range v.RoundResults {
		if r.Round < v.CurrentRound {
			n++
		}
	}
	return v.CurrentRound == 0 || n >= v.CurrentRound-1
}

func (s *GameService) publish(ctx context.Context, v domain.GameView) {
	if s.cfg.Bus == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		s.logger.WarnContext(ctx, "game_service: marshal view failed", slog.String("error", err.Error()))
		return
	}
	if err := s.cfg.Bus.Publish(ctx, domain.GameChannel(v.PoolID), payload); err != nil {
		s.logger.WarnContext(ctx, "game_service: publish view failed",
			slog.Uint64("pool_id", v.PoolID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *GameService) onRound(res domain.RoundResult) {
	if s.cfg.Rounds == nil {
		return
	}
	ctx := s.ctx()
	if err := s.cfg.Rounds.Save(ctx, res); err != nil {
		s.logger.WarnContext(ctx, "game_service: save round failed",
			slog.Uint64("pool_id", res.PoolID),
			slog.Uint64("round", res.Round),
			slog.String("error", err.Error()),
		)
	}
}

func (s *GameService) onWrite(poolID uint64, choice domain.Choice, round uint64, err error) {
	if err == nil {
		return
	}
	s.notify(s.ctx(), notify.WriteFailed(poolID, choice, round, err))
}

// notify delivers in the background; senders retry with backoff.
func (s *GameService) notify(ctx context.Context, m notify.Message) {
	if !s.cfg.Notifier.Enabled(m.Event) {
		return
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if err := s.cfg.Notifier.Notify(ctx, m.Event, m.Title, m.Body); err != nil {
			s.logger.WarnContext(ctx, "game_service: notify failed",
				slog.String("event", m.Event),
				slog.String("error", err.Error()),
			)
		}
	}()
}

func (s *GameService) archive(ctx context.Context, g *watchedGame, v domain.GameView) {
	t := domain.GameTranscript{
		Pool:       *v.GameInfo,
		Viewer:     v.Viewer.Hex(),
		Rounds:     v.RoundResults,
		TieBreaks:  v.TieBreaks,
		Outcome:    v.Outcome,
		ArchivedAt: time.Now().UTC(),
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		// A restarted daemon re-watching a finished pool keeps the first upload.
		if done, err := s.cfg.Archiver.IsArchived(ctx, v.PoolID); err == nil && done {
			s.mu.Lock()
			g.archiving = false
			g.archived = true
			s.mu.Unlock()
			s.logger.DebugContext(ctx, "game_service: pool already archived", slog.Uint64("pool_id", v.PoolID))
			return
		}
		path, err := s.cfg.Archiver.ArchiveGame(ctx, t)

		s.mu.Lock()
		g.archiving = false
		g.archived = err == nil
		s.mu.Unlock()

		if err != nil {
			s.logger.WarnContext(ctx, "game_service: archive failed",
				slog.Uint64("pool_id", v.PoolID),
				slog.String("error", err.Error()),
			)
			return
		}
		s.logger.InfoContext(ctx, "game_service: archived finished pool",
			slog.Uint64("pool_id", v.PoolID),
			slog.String("path", path),
		)
	}()
}
