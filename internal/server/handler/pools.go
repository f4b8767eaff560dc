package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/flareflip/internal/domain"
	"github.com/alanyoungcy/flareflip/internal/pools"
)

// PoolService defines the methods that the pool handler requires from the
// service layer. It is declared locally so the handler package does not
// depend on the concrete service implementation.
type PoolService interface {
	List(q pools.Query, more int) pools.Page
	Get(ctx context.Context, id uint64) (domain.PoolSummary, error)
}

// PoolHandler serves the pool list endpoints.
type PoolHandler struct {
	pools  PoolService
	logger *slog.Logger
}

// NewPoolHandler creates a PoolHandler with the given service and logger.
func NewPoolHandler(svc PoolService, logger *slog.Logger) *PoolHandler {
	return &PoolHandler{
		pools:  svc,
		logger: logHandler(logger, "pools"),
	}
}

// ListPools returns one page of the filtered, sorted pool list.
// GET /api/pools?status=open&search=btc&sort=reward&more=1
func (h *PoolHandler) ListPools(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	status, err := pools.ParseStatusFilter(q.Get("status"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sortKey, err := pools.ParseSortKey(q.Get("sort"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	more := 0
	if v := q.Get("more"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "more must be a non-negative integer")
			return
		}
		more = n
	}

	writeJSON(w, http.StatusOK, h.pools.List(pools.Query{
		Status: status,
		Search: q.Get("search"),
		Sort:   sortKey,
	}, more))
}

// GetPool returns a single pool by its id.
// GET /api/pools/{id}
func (h *PoolHandler) GetPool(w http.ResponseWriter, r *http.Request) {
	id, err := poolIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sum, err := h.pools.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "failed to get pool", err, slog.Uint64("pool_id", id))
		return
	}

	writeJSON(w, http.StatusOK, sum)
}
