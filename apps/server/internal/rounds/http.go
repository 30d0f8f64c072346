package rounds

import (
	"log/slog"
	"net/http"

	"jantaku-lite/apps/server/internal/auth"
	"jantaku-lite/apps/server/internal/httpx"
	"jantaku-lite/mahjong"
)

type HTTPHandler struct {
	auth       auth.Service
	controller *Controller
	logger     *slog.Logger
}

func NewHTTPHandler(authService auth.Service, controller *Controller, logger *slog.Logger) *HTTPHandler {
	return &HTTPHandler{auth: authService, controller: controller, logger: logger}
}

func (h *HTTPHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/tables/{id}/rounds", auth.Require(h.auth, h.handleList))
	mux.HandleFunc("POST /api/tables/{id}/rounds", auth.Require(h.auth, h.handleStart))
	mux.HandleFunc("PATCH /api/stats/{id}", auth.Require(h.auth, h.handlePatch))
}

func (h *HTTPHandler) handleList(w http.ResponseWriter, r *http.Request, _ auth.Identity) {
	tableID, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.WriteDomainError(w, h.logger, err)
		return
	}
	rounds, err := h.controller.Rounds(r.Context(), tableID)
	if err != nil {
		httpx.WriteDomainError(w, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": rounds})
}

func (h *HTTPHandler) handleStart(w http.ResponseWriter, r *http.Request, _ auth.Identity) {
	tableID, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.WriteDomainError(w, h.logger, err)
		return
	}
	round, err := h.controller.StartRound(r.Context(), tableID)
	if err != nil {
		httpx.WriteDomainError(w, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, round)
}

func (h *HTTPHandler) handlePatch(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	statID, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.WriteDomainError(w, h.logger, err)
		return
	}
	var patch mahjong.StatPatch
	if err := httpx.ReadJSON(r, &patch); err != nil {
		httpx.WriteDecodeError(w, h.logger, err)
		return
	}
	stat, err := h.controller.RecordOwnStat(r.Context(), id, statID, patch)
	if err != nil {
		httpx.WriteDomainError(w, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, stat)
}
