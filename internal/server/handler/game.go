package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/flareflip/internal/domain"
)

// GameService is the game surface the handler needs.
type GameService interface {
	Watch(ctx context.Context, poolID uint64) error
	Unwatch(poolID uint64) bool
	Watched() []uint64
	View(poolID uint64) (domain.GameView, error)
	MakeChoice(ctx context.Context, poolID uint64, choice domain.Choice) error
	Rounds(ctx context.Context, poolID uint64) ([]domain.RoundResult, error)
	Transcript(ctx context.Context, poolID uint64) (domain.GameTranscript, error)
	ArchivedPools(ctx context.Context) ([]uint64, error)
}

// GameHandler serves per-pool game state and the choice action.
type GameHandler struct {
	games  GameService
	logger *slog.Logger
}

// NewGameHandler creates a GameHandler.
func NewGameHandler(games GameService, logger *slog.Logger) *GameHandler {
	return &GameHandler{games: games, logger: logHandler(logger, "game")}
}

type choiceRequest struct {
	Choice string `json:"choice"`
}

// GetGame returns the live view of a watched pool.
// GET /api/pools/{id}/game
func (h *GameHandler) GetGame(w http.ResponseWriter, r *http.Request) {
	id, err := poolIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	view, err := h.games.View(id)
	if err != nil {
		writeServiceError(w, r, h.logger, "failed to get game", err, slog.Uint64("pool_id", id))
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// MakeChoice submits heads or tails for the current round.
// POST /api/pools/{id}/choice {"choice":"heads"}
func (h *GameHandler) MakeChoice(w http.ResponseWriter, r *http.Request) {
	id, err := poolIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req choiceRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	choice, err := domain.ParseChoice(req.Choice)
	if err != nil || !choice.Valid() {
		writeError(w, http.StatusBadRequest, "choice must be heads or tails")
		return
	}
	if err := h.games.MakeChoice(r.Context(), id, choice); err != nil {
		writeServiceError(w, r, h.logger, "failed to submit choice", err,
			slog.Uint64("pool_id", id),
			slog.String("choice", choice.String()),
		)
		return
	}
	view, err := h.games.View(id)
	if err != nil {
		writeJSON(w, http.StatusAccepted, map[string]string{"choice": choice.String()})
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// ListRounds returns a pool's round history.
// GET /api/pools/{id}/rounds
func (h *GameHandler) ListRounds(w http.ResponseWriter, r *http.Request) {
	id, err := poolIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rounds, err := h.games.Rounds(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "failed to list rounds", err, slog.Uint64("pool_id", id))
		return
	}
	if rounds == nil {
		rounds = []domain.RoundResult{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"pool_id": id, "rounds": rounds})
}

// GetArchive returns the cold-storage transcript of a finished pool.
// GET /api/pools/{id}/archive
func (h *GameHandler) GetArchive(w http.ResponseWriter, r *http.Request) {
	id, err := poolIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	t, err := h.games.Transcript(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "failed to load archive", err, slog.Uint64("pool_id", id))
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// ListArchive lists the pools with an archived transcript.
// GET /api/archive
func (h *GameHandler) ListArchive(w http.ResponseWriter, r *http.Request) {
	ids, err := h.games.ArchivedPools(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "failed to list archive", err)
		return
	}
	if ids == nil {
		ids = []uint64{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"pool_ids": ids})
}

// Watch starts a live reducer for a pool.
// POST /api/pools/{id}/watch
func (h *GameHandler) Watch(w http.ResponseWriter, r *http.Request) {
	id, err := poolIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.games.Watch(r.Context(), id); err != nil {
		writeServiceError(w, r, h.logger, "failed to watch pool", err, slog.Uint64("pool_id", id))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"watched": h.games.Watched()})
}

// Unwatch stops a pool's reducer.
// DELETE /api/pools/{id}/watch
func (h *GameHandler) Unwatch(w http.ResponseWriter, r *http.Request) {
	id, err := poolIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !h.games.Unwatch(id) {
		writeError(w, http.StatusNotFound, "pool not watched")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"watched": h.games.Watched()})
}
