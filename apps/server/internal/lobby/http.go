package lobby

import (
	"log/slog"
	"net/http"

	"jantaku-lite/apps/server/internal/auth"
	"jantaku-lite/apps/server/internal/httpx"
	"jantaku-lite/mahjong"
)

type HTTPHandler struct {
	auth   auth.Service
	lobby  *Lobby
	logger *slog.Logger
}

type createTableRequest struct {
	RoomID string  `json:"room_id" validate:"required,max=64"`
	Name   string  `json:"name" validate:"required,max=64"`
	Mode   string  `json:"mode" validate:"required,oneof=sanma yonma"`
	Length string  `json:"length" validate:"required,oneof=tonpu hanchan"`
	Uma    []int64 `json:"uma" validate:"required,min=3,max=4"`
}

func NewHTTPHandler(authService auth.Service, lobby *Lobby, logger *slog.Logger) *HTTPHandler {
	return &HTTPHandler{auth: authService, lobby: lobby, logger: logger}
}

func (h *HTTPHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/tables", auth.Require(h.auth, h.handleCreate))
	mux.HandleFunc("GET /api/tables/{id}", auth.Require(h.auth, h.handleGet))
	mux.HandleFunc("GET /api/rooms/{room}/tables", auth.Require(h.auth, h.handleList))
	mux.HandleFunc("DELETE /api/rooms/{room}/tables", auth.Require(h.auth, h.handleTeardown))
}

func (h *HTTPHandler) handleCreate(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	var req createTableRequest
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteDecodeError(w, h.logger, err)
		return
	}
	view, err := h.lobby.Create(r.Context(), mahjong.TableConfig{
		RoomID: req.RoomID,
		Name:   req.Name,
		Mode:   mahjong.Mode(req.Mode),
		Length: mahjong.Length(req.Length),
		Uma:    req.Uma,
	}, id)
	if err != nil {
		httpx.WriteDomainError(w, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, view)
}

func (h *HTTPHandler) handleGet(w http.ResponseWriter, r *http.Request, _ auth.Identity) {
	tableID, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.WriteDomainError(w, h.logger, err)
		return
	}
	view, err := h.lobby.Get(r.Context(), tableID)
	if err != nil {
		httpx.WriteDomainError(w, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, view)
}

func (h *HTTPHandler) handleList(w http.ResponseWriter, r *http.Request, _ auth.Identity) {
	tables, err := h.lobby.ListByRoom(r.Context(), r.PathValue("room"))
	if err != nil {
		httpx.WriteDomainError(w, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": tables})
}

func (h *HTTPHandler) handleTeardown(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	ids, err := h.lobby.TeardownRoom(r.Context(), r.PathValue("room"), id)
	if err != nil {
		httpx.WriteDomainError(w, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"deleted": ids})
}
