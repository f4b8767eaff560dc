package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alanyoungcy/flareflip/internal/domain"
	"github.com/alanyoungcy/flareflip/internal/pools"
	"github.com/alanyoungcy/flareflip/internal/server/handler"
)

type stubPools struct{}

func (stubPools) List(pools.Query, int) pools.Page { return pools.Page{} }
func (stubPools) Get(context.Context, uint64) (domain.PoolSummary, error) {
	return domain.PoolSummary{}, domain.ErrNotFound
}

func TestRoutes(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := Routes(Config{APIKey: "k"}, Handlers{
		Health: handler.NewHealthHandler("watch", nil, nil, logger),
		Pools:  handler.NewPoolHandler(stubPools{}, logger),
	}, nil, nil, logger)

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/api/health", http.StatusOK},
		{http.MethodGet, "/api/pools", http.StatusOK},
		{http.MethodGet, "/api/pools/9", http.StatusNotFound},
		// Unauthenticated writes are rejected before routing.
		{http.MethodPost, "/api/stake", http.StatusUnauthorized},
		{http.MethodGet, "/ws", http.StatusNotFound},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
		if rec.Code != tt.want {
			t.Errorf("%s %s: status = %d, want %d", tt.method, tt.path, rec.Code, tt.want)
		}
	}

	// Account routes are absent without a wallet handler.
	req := httptest.NewRequest(http.MethodPost, "/api/stake", nil)
	req.Header.Set("X-API-Key", "k")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("authorised stake without account handler: %d", rec.Code)
	}
}
