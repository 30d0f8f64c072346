package seating

import (
	"log/slog"
	"net/http"

	"jantaku-lite/apps/server/internal/auth"
	"jantaku-lite/apps/server/internal/httpx"
	"jantaku-lite/mahjong"
)

type HTTPHandler struct {
	auth    auth.Service
	manager *Manager
	logger  *slog.Logger
}

type fillRequest struct {
	Count int `json:"count" validate:"min=0,max=4"`
}

func NewHTTPHandler(authService auth.Service, manager *Manager, logger *slog.Logger) *HTTPHandler {
	return &HTTPHandler{auth: authService, manager: manager, logger: logger}
}

func (h *HTTPHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/tables/{id}/seats", auth.Require(h.auth, h.handleSeats))
	mux.HandleFunc("PUT /api/tables/{id}/seats/{position}", auth.Require(h.auth, h.handleTake))
	mux.HandleFunc("DELETE /api/tables/{id}/seats/me", auth.Require(h.auth, h.handleLeave))
	mux.HandleFunc("DELETE /api/tables/{id}/occupants/{occupant}", auth.Require(h.auth, h.handleForceLeave))
	mux.HandleFunc("POST /api/tables/{id}/bots", auth.Require(h.auth, h.handleFill))
	mux.HandleFunc("POST /api/tables/{id}/start", auth.Require(h.auth, h.handleStart))
}

func (h *HTTPHandler) handleSeats(w http.ResponseWriter, r *http.Request, _ auth.Identity) {
	tableID, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.WriteDomainError(w, h.logger, err)
		return
	}
	seats, err := h.manager.Seats(r.Context(), tableID)
	if err != nil {
		httpx.WriteDomainError(w, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": seats})
}

// handleTake joins the table, or moves within it when already seated there.
func (h *HTTPHandler) handleTake(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	tableID, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.WriteDomainError(w, h.logger, err)
		return
	}
	position := mahjong.Position(r.PathValue("position"))

	seats, err := h.manager.Seats(r.Context(), tableID)
	if err != nil {
		httpx.WriteDomainError(w, h.logger, err)
		return
	}
	var seat mahjong.Seat
	if seatedAt(seats, id.Occupant()) {
		seat, err = h.manager.Move(r.Context(), tableID, id.Occupant(), position)
	} else {
		seat, err = h.manager.Join(r.Context(), tableID, id.Member(), position)
	}
	if err != nil {
		httpx.WriteDomainError(w, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, seat)
}

func (h *HTTPHandler) handleLeave(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	tableID, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.WriteDomainError(w, h.logger, err)
		return
	}
	if err := h.manager.Leave(r.Context(), tableID, id.Occupant()); err != nil {
		httpx.WriteDomainError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) handleForceLeave(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	tableID, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.WriteDomainError(w, h.logger, err)
		return
	}
	occupant, err := mahjong.ParseOccupant(r.PathValue("occupant"))
	if err != nil {
		httpx.WriteDomainError(w, h.logger, err)
		return
	}
	if err := h.manager.ForceLeave(r.Context(), tableID, occupant, id); err != nil {
		httpx.WriteDomainError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) handleFill(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	tableID, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.WriteDomainError(w, h.logger, err)
		return
	}
	var req fillRequest
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteDecodeError(w, h.logger, err)
		return
	}
	seats, err := h.manager.Seats(r.Context(), tableID)
	if err != nil {
		httpx.WriteDomainError(w, h.logger, err)
		return
	}
	if !id.Admin && !seatedAt(seats, id.Occupant()) {
		httpx.WriteDomainError(w, h.logger, mahjong.ErrPermissionDenied)
		return
	}
	created, err := h.manager.FillWithPlaceholders(r.Context(), tableID, req.Count)
	if err != nil {
		httpx.WriteDomainError(w, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": created})
}

func (h *HTTPHandler) handleStart(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	tableID, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.WriteDomainError(w, h.logger, err)
		return
	}
	t, err := h.manager.Start(r.Context(), tableID, id)
	if err != nil {
		httpx.WriteDomainError(w, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, t)
}

func seatedAt(seats []mahjong.Seat, occupant mahjong.OccupantID) bool {
	for _, s := range seats {
		if s.Occupant == occupant {
			return true
		}
	}
	return false
}
