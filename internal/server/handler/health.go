package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"
)

// healthCheckTimeout bounds each dependency probe.
const healthCheckTimeout = 2 * time.Second

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	mode      string
	startedAt time.Time
	watched   func() []uint64
	checks    map[string]HealthCheck
	logger    *slog.Logger
}

// NewHealthHandler creates a HealthHandler. checks maps a dependency name
// (postgres, redis, s3, rpc) to its probe; watched may be nil.
func NewHealthHandler(mode string, watched func() []uint64, checks map[string]HealthCheck, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		mode:      mode,
		startedAt: time.Now().UTC(),
		watched:   watched,
		checks:    checks,
		logger:    logHandler(logger, "health"),
	}
}

type healthResponse struct {
	Status    string            `json:"status"`
	Mode      string            `json:"mode"`
	Timestamp string            `json:"timestamp"`
	Uptime    string            `json:"uptime"`
	Watched   []uint64          `json:"watched"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// HealthCheck reports liveness plus the state of each configured dependency.
// Any failed probe degrades the status and answers 503.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:    "ok",
		Mode:      h.mode,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    time.Since(h.startedAt).Round(time.Second).String(),
		Watched:   []uint64{},
	}
	if h.watched != nil {
		resp.Watched = h.watched()
	}

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	if len(names) > 0 {
		resp.Checks = make(map[string]string, len(names))
	}
	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := h.checks[name](ctx)
		cancel()
		if err != nil {
			h.logger.WarnContext(r.Context(), "handler: health check failed",
				slog.String("dependency", name),
				slog.String("error", err.Error()),
			)
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}

	writeJSON(w, status, resp)
}
