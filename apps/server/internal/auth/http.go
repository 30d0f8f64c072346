package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"jantaku-lite/apps/server/internal/httpx"
)

type HTTPHandler struct {
	manager Service
	logger  *slog.Logger
}

type credentialsRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type guestRequest struct {
	DisplayName string `json:"display_name" validate:"required"`
}

type authResponse struct {
	Identity
	SessionToken string `json:"session_token"`
}

func NewHTTPHandler(manager Service, logger *slog.Logger) *HTTPHandler {
	return &HTTPHandler{manager: manager, logger: logger}
}

func (h *HTTPHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/auth/register", h.handleRegister)
	mux.HandleFunc("POST /api/auth/login", h.handleLogin)
	mux.HandleFunc("POST /api/auth/guest", h.handleGuest)
	mux.HandleFunc("POST /api/auth/logout", h.handleLogout)
	mux.HandleFunc("GET /api/auth/me", h.handleMe)
}

func (h *HTTPHandler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteDecodeError(w, h.logger, err)
		return
	}

	id, token, err := h.manager.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidUsername), errors.Is(err, ErrInvalidPassword):
			httpx.WriteError(w, http.StatusBadRequest, "invalid_credentials_format", err.Error())
		case errors.Is(err, ErrUsernameTaken):
			httpx.WriteError(w, http.StatusConflict, "username_taken", err.Error())
		default:
			h.logger.Error("auth_register_failed", "err", err)
			httpx.WriteError(w, http.StatusInternalServerError, "internal", "register failed")
		}
		return
	}
	h.logger.Info("auth_registered", "user_id", id.AccountID, "admin", id.Admin)
	httpx.WriteJSON(w, http.StatusOK, authResponse{Identity: id, SessionToken: token})
}

func (h *HTTPHandler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteDecodeError(w, h.logger, err)
		return
	}

	id, token, err := h.manager.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			httpx.WriteError(w, http.StatusUnauthorized, "invalid_credentials", "invalid username or password")
			return
		}
		h.logger.Error("auth_login_failed", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "login failed")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, authResponse{Identity: id, SessionToken: token})
}

func (h *HTTPHandler) handleGuest(w http.ResponseWriter, r *http.Request) {
	var req guestRequest
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteDecodeError(w, h.logger, err)
		return
	}

	id, token, err := h.manager.Guest(r.Context(), req.DisplayName)
	if err != nil {
		if errors.Is(err, ErrInvalidDisplayName) {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_display_name", err.Error())
			return
		}
		h.logger.Error("auth_guest_failed", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "guest sign-in failed")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, authResponse{Identity: id, SessionToken: token})
}

func (h *HTTPHandler) handleLogout(w http.ResponseWriter, r *http.Request) {
	token := httpx.BearerToken(r.Header.Get("Authorization"))
	if token == "" {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "missing session token")
		return
	}
	h.manager.Logout(r.Context(), token)
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) handleMe(w http.ResponseWriter, r *http.Request) {
	id, ok := Resolve(r, h.manager)
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "invalid session token")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, id)
}

// Resolve reads the bearer token of r and returns its identity.
func Resolve(r *http.Request, svc Service) (Identity, bool) {
	token := httpx.BearerToken(r.Header.Get("Authorization"))
	if token == "" {
		return Identity{}, false
	}
	return svc.ResolveSession(r.Context(), token)
}

type identityKey struct{}

// Require rejects requests without a valid session and stores the identity
// in the request context.
func Require(svc Service, next func(w http.ResponseWriter, r *http.Request, id Identity)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := Resolve(r, svc)
		if !ok {
			httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "invalid session token")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, id)), id)
	}
}

// FromContext returns the identity stored by Require.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}
