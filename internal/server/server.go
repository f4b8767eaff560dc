// Package server exposes the daemon's read models and wallet actions over
// HTTP and bridges the signal bus to WebSocket clients.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/alanyoungcy/flareflip/internal/domain"
	"github.com/alanyoungcy/flareflip/internal/server/handler"
	"github.com/alanyoungcy/flareflip/internal/server/middleware"
	"github.com/alanyoungcy/flareflip/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	RateLimit   int
	RateWindow  time.Duration
}

// Handlers aggregates the HTTP handlers the server registers. Nil handlers
// leave their routes unregistered.
type Handlers struct {
	Health  *handler.HealthHandler
	Pools   *handler.PoolHandler
	Game    *handler.GameHandler
	Account *handler.AccountHandler
	Audit   *handler.AuditHandler
}

// Server is the headless HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered on a ServeMux and
// wraps it in the middleware chain: CORS, logging, rate limit, auth.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "http_server"))

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      Routes(cfg, handlers, wsHub, limiter, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 3 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	return &Server{httpServer: srv, logger: logger}
}

// Routes builds the routed, middleware-wrapped handler.
func Routes(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	if h := handlers.Health; h != nil {
		mux.HandleFunc("GET /api/health", h.HealthCheck)
	}

	if h := handlers.Pools; h != nil {
		mux.HandleFunc("GET /api/pools", h.ListPools)
		mux.HandleFunc("GET /api/pools/{id}", h.GetPool)
	}

	if h := handlers.Game; h != nil {
		mux.HandleFunc("GET /api/pools/{id}/game", h.GetGame)
		mux.HandleFunc("POST /api/pools/{id}/choice", h.MakeChoice)
		mux.HandleFunc("GET /api/pools/{id}/rounds", h.ListRounds)
		mux.HandleFunc("GET /api/pools/{id}/archive", h.GetArchive)
		mux.HandleFunc("GET /api/archive", h.ListArchive)
		mux.HandleFunc("POST /api/pools/{id}/watch", h.Watch)
		mux.HandleFunc("DELETE /api/pools/{id}/watch", h.Unwatch)
	}

	if h := handlers.Account; h != nil {
		mux.HandleFunc("POST /api/pools", h.CreatePool)
		mux.HandleFunc("POST /api/pools/{id}/join", h.JoinPool)
		mux.HandleFunc("POST /api/pools/{id}/claim", h.ClaimPrize)
		mux.HandleFunc("GET /api/stakers/{address}", h.GetStaker)
		mux.HandleFunc("POST /api/stake", h.Stake)
		mux.HandleFunc("POST /api/unstake", h.Unstake)
	}

	if h := handlers.Audit; h != nil {
		mux.HandleFunc("GET /api/audit", h.ListAudit)
	}

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey)(h)
	h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Run serves until ctx is cancelled, then shuts down within timeout.
func (s *Server) Run(ctx context.Context, timeout time.Duration) error {
	s.httpServer.BaseContext = func(net.Listener) context.Context { return ctx }

	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
