package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

func TestAuthGuardsWritesOnly(t *testing.T) {
	h := Auth("secret")(ok)

	tests := []struct {
		name   string
		method string
		header string
		value  string
		want   int
	}{
		{"read passes", http.MethodGet, "", "", http.StatusOK},
		{"write without token", http.MethodPost, "", "", http.StatusUnauthorized},
		{"write with bearer", http.MethodPost, "Authorization", "Bearer secret", http.StatusOK},
		{"write with api key", http.MethodPost, "X-API-Key", "secret", http.StatusOK},
		{"wrong token", http.MethodDelete, "X-API-Key", "nope", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/stake", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}

	rec := httptest.NewRecorder()
	Auth("")(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/stake", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("disabled auth: status = %d", rec.Code)
	}
}

type countingLimiter struct {
	keys  []string
	limit int
	err   error
}

func (l *countingLimiter) Allow(_ context.Context, key string, limit int, _ time.Duration) (bool, error) {
	l.keys = append(l.keys, key)
	if l.err != nil {
		return false, l.err
	}
	return len(l.keys) <= l.limit, nil
}

func TestRateLimit(t *testing.T) {
	lim := &countingLimiter{limit: 1}
	h := RateLimit(lim, 1, 30*time.Second, nil)(ok)

	req := httptest.NewRequest(http.MethodGet, "/api/pools", nil)
	req.Header.Set("X-Forwarded-For", "10.0.0.1, 10.0.0.2")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request: %d", rec.Code)
	}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests || rec.Header().Get("Retry-After") != "30" {
		t.Errorf("second request: %d retry-after %q", rec.Code, rec.Header().Get("Retry-After"))
	}
	if lim.keys[0] != "api:10.0.0.1" {
		t.Errorf("key = %q", lim.keys[0])
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	if rec.Code != http.StatusOK || len(lim.keys) != 2 {
		t.Errorf("ws upgrade was rate limited")
	}

	failing := RateLimit(&countingLimiter{err: errors.New("redis down")}, 1, time.Second,
		slog.New(slog.NewTextHandler(io.Discard, nil)))(ok)
	rec = httptest.NewRecorder()
	failing.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/pools", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("limiter error should fail open, got %d", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	h := CORS([]string{"http://localhost:3000"})(ok)

	req := httptest.NewRequest(http.MethodOptions, "/api/pools", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent || rec.Header().Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
		t.Errorf("preflight: %d %v", rec.Code, rec.Header())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/pools", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Errorf("disallowed origin got CORS headers")
	}
}

func TestLoggingRequestID(t *testing.T) {
	h := Logging(slog.New(slog.NewTextHandler(io.Discard, nil)))(ok)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("missing generated request id")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set(RequestIDHeader, "abc")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get(RequestIDHeader); got != "abc" {
		t.Errorf("request id = %q", got)
	}
}
