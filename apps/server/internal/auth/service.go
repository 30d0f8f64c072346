// Package auth provides accounts and bearer sessions. Tables and seats only
// need an identity and the admin flag from it.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"regexp"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"jantaku-lite/mahjong"
)

const (
	defaultSessionTTL = 30 * 24 * time.Hour
	tokenBytes        = 32
)

var (
	ErrInvalidUsername    = errors.New("invalid username")
	ErrInvalidPassword    = errors.New("invalid password")
	ErrInvalidDisplayName = errors.New("invalid display name")
	ErrUsernameTaken      = errors.New("username already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_][a-zA-Z0-9_.-]{2,31}$`)

// Identity is who a session belongs to.
type Identity struct {
	AccountID   uint64 `json:"user_id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Guest       bool   `json:"guest"`
	Admin       bool   `json:"admin"`
}

func (i Identity) Occupant() mahjong.OccupantID {
	return mahjong.UserOccupant(i.AccountID)
}

// Member is how the identity appears in a seat.
func (i Identity) Member() mahjong.Member {
	name := i.DisplayName
	if name == "" {
		name = i.Username
	}
	return mahjong.Member{ID: i.Occupant(), Name: name}
}

// Service is the account/session contract consumed by the HTTP handlers and
// the seating privilege check.
type Service interface {
	Register(ctx context.Context, username, password string) (Identity, string, error)
	Login(ctx context.Context, username, password string) (Identity, string, error)
	// Guest creates a password-less account with a fresh session.
	Guest(ctx context.Context, displayName string) (Identity, string, error)
	ResolveSession(ctx context.Context, token string) (Identity, bool)
	IsAdmin(ctx context.Context, accountID uint64) (bool, error)
	Logout(ctx context.Context, token string)
	Close() error
}

type Options struct {
	SessionTTL     time.Duration
	AdminUsernames []string
}

func (o Options) sessionTTL() time.Duration {
	if o.SessionTTL <= 0 {
		return defaultSessionTTL
	}
	return o.SessionTTL
}

func (o Options) isAdmin(normalized string) bool {
	return slices.ContainsFunc(o.AdminUsernames, func(name string) bool {
		return normalizeUsername(name) == normalized
	})
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func validateUsername(username string) error {
	if !usernamePattern.MatchString(strings.TrimSpace(username)) {
		return ErrInvalidUsername
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < 6 || len(password) > 72 {
		return ErrInvalidPassword
	}
	return nil
}

func normalizeDisplayName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if n := utf8.RuneCountInString(name); n == 0 || n > 32 {
		return "", ErrInvalidDisplayName
	}
	return name, nil
}

func guestUsername() string {
	return "guest_" + mustToken()[:12]
}

func mustToken() string {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}
