package ledger

import (
	"log/slog"
	"net/http"
	"strconv"

	"jantaku-lite/apps/server/internal/auth"
	"jantaku-lite/apps/server/internal/httpx"
	"jantaku-lite/mahjong"
	"jantaku-lite/scoresheet"
)

type HTTPHandler struct {
	auth   auth.Service
	ledger *Service
	logger *slog.Logger
}

type setBonusRequest struct {
	Amount          *int64 `json:"amount" validate:"required"`
	ExpectedVersion *int64 `json:"expected_version,omitempty" validate:"omitempty,min=0"`
}

type sheetResponse struct {
	Sheet scoresheet.Sheet `json:"sheet"`
	Rows  []scoresheet.Row `json:"rows"`
}

func NewHTTPHandler(authService auth.Service, ledger *Service, logger *slog.Logger) *HTTPHandler {
	return &HTTPHandler{auth: authService, ledger: ledger, logger: logger}
}

func (h *HTTPHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/tables/{id}/sheet", auth.Require(h.auth, h.handleSheet))
	mux.HandleFunc("GET /api/tables/{id}/bonuses", auth.Require(h.auth, h.handleBonuses))
	mux.HandleFunc("PUT /api/tables/{id}/bonuses/{occupant}", auth.Require(h.auth, h.handleSetBonus))
	mux.HandleFunc("GET /api/players/{player}/stats", auth.Require(h.auth, h.handlePlayerStats))
}

func (h *HTTPHandler) handleSheet(w http.ResponseWriter, r *http.Request, _ auth.Identity) {
	tableID, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.WriteDomainError(w, h.logger, err)
		return
	}
	sheet, err := h.ledger.TableSheet(r.Context(), tableID)
	if err != nil {
		httpx.WriteDomainError(w, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, sheetResponse{Sheet: sheet, Rows: sheet.Rows()})
}

func (h *HTTPHandler) handleBonuses(w http.ResponseWriter, r *http.Request, _ auth.Identity) {
	tableID, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.WriteDomainError(w, h.logger, err)
		return
	}
	bonuses, err := h.ledger.Bonuses(r.Context(), tableID)
	if err != nil {
		httpx.WriteDomainError(w, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": bonuses})
}

func (h *HTTPHandler) handleSetBonus(w http.ResponseWriter, r *http.Request, _ auth.Identity) {
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
	var req setBonusRequest
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteDecodeError(w, h.logger, err)
		return
	}

	var out mahjong.BonusOverride
	if req.ExpectedVersion != nil {
		out, err = h.ledger.SetBonusIfVersion(r.Context(), tableID, occupant, *req.Amount, *req.ExpectedVersion)
	} else {
		out, err = h.ledger.SetBonus(r.Context(), tableID, occupant, *req.Amount)
	}
	if err != nil {
		httpx.WriteDomainError(w, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

// handlePlayerStats accepts an account id or a full occupant id.
func (h *HTTPHandler) handlePlayerStats(w http.ResponseWriter, r *http.Request, _ auth.Identity) {
	raw := r.PathValue("player")
	var occupant mahjong.OccupantID
	if id, err := strconv.ParseUint(raw, 10, 64); err == nil && id > 0 {
		occupant = mahjong.UserOccupant(id)
	} else if occupant, err = mahjong.ParseOccupant(raw); err != nil {
		httpx.WriteDomainError(w, h.logger, err)
		return
	}
	summary, err := h.ledger.PlayerStats(r.Context(), occupant)
	if err != nil {
		httpx.WriteDomainError(w, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, summary)
}
