package app

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/flareflip/internal/game"
	"github.com/alanyoungcy/flareflip/internal/pools"
	"github.com/alanyoungcy/flareflip/internal/server"
	"github.com/alanyoungcy/flareflip/internal/server/handler"
	"github.com/alanyoungcy/flareflip/internal/server/ws"
	"github.com/alanyoungcy/flareflip/internal/service"
)

// shutdownTimeout bounds the HTTP server's graceful shutdown.
const shutdownTimeout = 5 * time.Second

// services holds the long-lived services every mode shares.
type services struct {
	pools    *service.PoolService
	games    *service.GameService
	accounts *service.AccountService
}

func (a *App) buildServices(deps *Dependencies) services {
	list := pools.NewList(a.cfg.Pools.FillingThreshold)
	return services{
		pools: service.NewPoolService(
			deps.Gateway, list, deps.PoolStore, deps.PoolCache,
			deps.SignalBus, deps.Notifier, a.cfg.Pools.PageSize, a.logger,
		),
		games: service.NewGameService(service.GameConfig{
			Gateway:         deps.Gateway,
			Feeds:           func(id uint64) game.Feed { return deps.Listener.Subscribe(id) },
			Viewer:          deps.Viewer,
			Namespace:       a.cfg.Watch.SelectionNamespace,
			RefreshInterval: a.cfg.Watch.RefreshInterval.Duration,
			Selections:      deps.Selections,
			Rounds:          deps.Rounds,
			Archiver:        deps.Archiver,
			Bus:             deps.SignalBus,
			Notifier:        deps.Notifier,
		}, a.logger),
		accounts: service.NewAccountService(deps.Gateway, deps.Viewer, deps.LockManager, deps.AuditStore, a.logger),
	}
}

// WatchMode follows the chain for the configured pools without serving HTTP.
func (a *App) WatchMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting watch mode", slog.Any("pool_ids", a.cfg.Watch.PoolIDs))
	return a.run(ctx, deps, a.cfg.Watch.PoolIDs, false)
}

// ServerMode serves the API; pools are watched on demand through
// POST /api/pools/{id}/watch.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")
	return a.run(ctx, deps, nil, true)
}

// FullMode watches the configured pools and serves the API.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode", slog.Any("pool_ids", a.cfg.Watch.PoolIDs))
	return a.run(ctx, deps, a.cfg.Watch.PoolIDs, a.cfg.Server.Enabled)
}

func (a *App) run(ctx context.Context, deps *Dependencies, watch []uint64, serve bool) error {
	if deps.Viewer == (common.Address{}) {
		a.logger.WarnContext(ctx, "no wallet or viewer_address configured; game views are spectator-only")
	}

	svc := a.buildServices(deps)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.Listener.Run(ctx)
	})
	g.Go(func() error {
		return svc.pools.Run(ctx, deps.Listener.SubscribeAll(), a.cfg.Pools.SyncInterval.Duration)
	})
	g.Go(func() error {
		return svc.games.Run(ctx, watch)
	})

	if serve {
		a.startHTTPServer(ctx, g, deps, svc)
	}

	return g.Wait()
}

// startHTTPServer adds the HTTP server and, when a signal bus is wired, the
// WebSocket hub to the errgroup. The server shuts down gracefully when ctx is
// cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svc services) {
	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, a.logger, ws.Config{
			Mode:           a.cfg.Mode,
			StartedAt:      time.Now().UTC(),
			Watched:        svc.games.Watched,
			AllowedOrigins: a.cfg.Server.CORSOrigins,
		})
		g.Go(func() error {
			return hub.Run(ctx)
		})
	} else {
		a.logger.WarnContext(ctx, "redis disabled; /ws is not served")
	}

	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(strings.ToLower(a.cfg.Mode), svc.games.Watched, deps.HealthChecks, a.logger),
		Pools:   handler.NewPoolHandler(svc.pools, a.logger),
		Game:    handler.NewGameHandler(svc.games, a.logger),
		Account: handler.NewAccountHandler(svc.accounts, a.logger),
	}
	if deps.AuditStore != nil {
		handlers.Audit = handler.NewAuditHandler(deps.AuditStore, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Run(ctx, shutdownTimeout)
	})
}
