package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/flareflip/internal/domain"
)

// AuditLog is the read side of the audit store.
type AuditLog interface {
	List(ctx context.Context, q domain.AuditQuery) ([]domain.AuditEntry, error)
}

// AuditHandler serves the wallet action audit trail.
type AuditHandler struct {
	audit  AuditLog
	logger *slog.Logger
}

// NewAuditHandler creates an AuditHandler.
func NewAuditHandler(audit AuditLog, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{audit: audit, logger: logHandler(logger, "audit")}
}

type auditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	IntentID  string         `json:"intent_id,omitempty"`
	PoolID    *uint64        `json:"pool_id,omitempty"`
	Detail    map[string]any `json:"detail"`
	CreatedAt string         `json:"created_at"`
}

type listAuditResponse struct {
	Entries []auditEntry `json:"entries"`
	Limit   int          `json:"limit"`
	Offset  int          `json:"offset"`
}

// ListAudit returns audit entries, newest first.
// GET /api/audit?limit=50&offset=0&since=2026-01-01T00:00:00Z&event=account.&pool_id=3&intent_id=...
func (h *AuditHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := domain.AuditQuery{
		ListOpts:    parseListOpts(r),
		EventPrefix: q.Get("event"),
		IntentID:    q.Get("intent_id"),
	}
	if v := q.Get("pool_id"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid pool_id")
			return
		}
		query.PoolID = &id
	}
	opts := query.ListOpts

	entries, err := h.audit.List(r.Context(), query)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list audit failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list audit log")
		return
	}

	out := make([]auditEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, auditEntry{
			ID:        e.ID,
			Event:     e.Event,
			IntentID:  e.IntentID,
			PoolID:    e.PoolID,
			Detail:    e.Detail,
			CreatedAt: e.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		})
	}
	writeJSON(w, http.StatusOK, listAuditResponse{
		Entries: out,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}
