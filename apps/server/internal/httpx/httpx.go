// Package httpx holds the JSON plumbing shared by every HTTP handler.
package httpx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/go-playground/validator/v10"

	"jantaku-lite/mahjong"
)

const maxBodyBytes = 64 << 10

var ErrEmptyBody = errors.New("empty request body")

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// ReadJSON decodes the body into out, rejecting unknown fields, then runs
// the struct's validate tags.
func ReadJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return ErrEmptyBody
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes+1))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return ErrEmptyBody
		}
		return fmt.Errorf("decode json failed: %w", err)
	}
	return Validate(out)
}

// Validate maps validator failures onto mahjong.ValidationError.
func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return mahjong.NewValidationError(fe.Field(), fmt.Sprintf("failed %q check", fe.Tag()))
	}
	return err
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func WriteError(w http.ResponseWriter, status int, code, msg string) {
	WriteJSON(w, status, ErrorResponse{Error: code, Message: msg})
}

// StatusFor maps a domain error onto an HTTP status and a stable code.
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrEmptyBody):
		return http.StatusBadRequest, "empty_body"
	case errors.Is(err, mahjong.ErrValidation):
		return http.StatusUnprocessableEntity, "validation_failed"
	case errors.Is(err, mahjong.ErrSeatConflict):
		return http.StatusConflict, "seat_conflict"
	case errors.Is(err, mahjong.ErrDuplicateRound):
		return http.StatusConflict, "duplicate_round"
	case errors.Is(err, mahjong.ErrStaleBonus):
		return http.StatusConflict, "stale_bonus"
	case errors.Is(err, mahjong.ErrNoOccupants):
		return http.StatusConflict, "no_occupants"
	case errors.Is(err, mahjong.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, mahjong.ErrPermissionDenied):
		return http.StatusForbidden, "permission_denied"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// WriteDomainError renders err. Internal errors are logged and replaced by a
// generic message.
func WriteDomainError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status, code := StatusFor(err)
	resp := ErrorResponse{Error: code, Message: err.Error()}
	var ve *mahjong.ValidationError
	if errors.As(err, &ve) {
		resp.Field = ve.Field
	}
	if status >= http.StatusInternalServerError {
		logger.Error("http_request_failed", "err", err)
		resp.Message = "internal error"
	}
	WriteJSON(w, status, resp)
}

// WriteDecodeError renders a body decoding or validation failure.
func WriteDecodeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	if errors.Is(err, mahjong.ErrValidation) || errors.Is(err, ErrEmptyBody) {
		WriteDomainError(w, logger, err)
		return
	}
	WriteError(w, http.StatusBadRequest, "invalid_body", "invalid request body")
}

// BearerToken extracts the token of an "Authorization: Bearer <token>" value.
func BearerToken(raw string) string {
	token, ok := strings.CutPrefix(raw, "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}

// PathID parses a positive integer path value.
func PathID(r *http.Request, name string) (uint64, error) {
	raw := r.PathValue(name)
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, mahjong.NewValidationError(name, fmt.Sprintf("invalid id %q", raw))
	}
	return id, nil
}
