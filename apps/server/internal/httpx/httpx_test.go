package httpx

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	json "github.com/goccy/go-json"

	"jantaku-lite/mahjong"
)

type createBody struct {
	RoomID string `json:"room_id" validate:"required"`
	Seats  int    `json:"seats" validate:"min=3,max=4"`
}

func TestReadJSONValidates(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"room_id":"r1","seats":4}`))
	var body createBody
	if err := ReadJSON(req, &body); err != nil {
		t.Fatalf("read: %v", err)
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"room_id":"","seats":4}`))
	err := ReadJSON(req, &body)
	var ve *mahjong.ValidationError
	if !errors.As(err, &ve) || ve.Field != "room_id" {
		t.Fatalf("expected room_id validation error, got %v", err)
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"room_id":"r1","extra":1}`))
	if err := ReadJSON(req, &body); err == nil || errors.Is(err, mahjong.ErrValidation) {
		t.Fatalf("unknown field should be a decode error, got %v", err)
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(``))
	if err := ReadJSON(req, &body); !errors.Is(err, ErrEmptyBody) {
		t.Fatalf("expected ErrEmptyBody, got %v", err)
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("wrap: %w", mahjong.ErrSeatConflict), http.StatusConflict},
		{mahjong.ErrDuplicateRound, http.StatusConflict},
		{mahjong.ErrNoOccupants, http.StatusConflict},
		{mahjong.ErrStaleBonus, http.StatusConflict},
		{mahjong.ErrNotFound, http.StatusNotFound},
		{mahjong.ErrPermissionDenied, http.StatusForbidden},
		{mahjong.NewValidationError("rank", "bad"), http.StatusUnprocessableEntity},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got, _ := StatusFor(tc.err); got != tc.want {
			t.Fatalf("StatusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestWriteDomainErrorHidesInternals(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	rec := httptest.NewRecorder()
	WriteDomainError(rec, logger, errors.New("dial tcp: secret host"))
	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Code != http.StatusInternalServerError || strings.Contains(resp.Message, "secret") {
		t.Fatalf("internal error leaked: %d %+v", rec.Code, resp)
	}

	rec = httptest.NewRecorder()
	WriteDomainError(rec, logger, mahjong.NewValidationError("rank", "must be between 1 and 4"))
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Code != http.StatusUnprocessableEntity || resp.Field != "rank" {
		t.Fatalf("unexpected validation response: %d %+v", rec.Code, resp)
	}
}

func TestBearerToken(t *testing.T) {
	if got := BearerToken("Bearer abc "); got != "abc" {
		t.Fatalf("got %q", got)
	}
	if got := BearerToken("Basic abc"); got != "" {
		t.Fatalf("got %q", got)
	}
}
