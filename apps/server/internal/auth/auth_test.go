package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"jantaku-lite/apps/server/internal/store"
)

func managers(t *testing.T, opts Options) map[string]Service {
	t.Helper()
	db, err := store.OpenSQLite(context.Background(), ":memory:", time.Second)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return map[string]Service{
		"memory": NewManager(opts),
		"sql":    NewSQLManager(db, opts),
	}
}

func TestRegisterAndLogin(t *testing.T) {
	for name, m := range managers(t, Options{}) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			id, token, err := m.Register(ctx, "alice_01", "secret12")
			if err != nil {
				t.Fatalf("register failed: %v", err)
			}
			if id.AccountID == 0 || token == "" {
				t.Fatalf("expected account id and token, got %+v %q", id, token)
			}

			resolved, ok := m.ResolveSession(ctx, token)
			if !ok {
				t.Fatalf("expected valid session")
			}
			if resolved.AccountID != id.AccountID || resolved.Username != "alice_01" {
				t.Fatalf("unexpected identity %+v", resolved)
			}

			loginID, loginToken, err := m.Login(ctx, "Alice_01", "secret12")
			if err != nil {
				t.Fatalf("login failed: %v", err)
			}
			if loginID.AccountID != id.AccountID || loginToken == "" || loginToken == token {
				t.Fatalf("expected a fresh session for the same account")
			}
		})
	}
}

func TestRegisterRejectsDuplicateUsername(t *testing.T) {
	for name, m := range managers(t, Options{}) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, _, err := m.Register(ctx, "alice_01", "secret12"); err != nil {
				t.Fatalf("register failed: %v", err)
			}
			if _, _, err := m.Register(ctx, "Alice_01", "secret12"); !errors.Is(err, ErrUsernameTaken) {
				t.Fatalf("expected ErrUsernameTaken, got %v", err)
			}
		})
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	for name, m := range managers(t, Options{}) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, _, err := m.Register(ctx, "alice_01", "secret12"); err != nil {
				t.Fatalf("register failed: %v", err)
			}
			if _, _, err := m.Login(ctx, "alice_01", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
				t.Fatalf("expected ErrInvalidCredentials, got %v", err)
			}
		})
	}
}

func TestLogoutInvalidatesSession(t *testing.T) {
	for name, m := range managers(t, Options{}) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, token, err := m.Register(ctx, "alice_01", "secret12")
			if err != nil {
				t.Fatalf("register failed: %v", err)
			}
			m.Logout(ctx, token)
			if _, ok := m.ResolveSession(ctx, token); ok {
				t.Fatalf("expected logged out token to be invalid")
			}
		})
	}
}

func TestGuestAndAdmin(t *testing.T) {
	for name, m := range managers(t, Options{AdminUsernames: []string{"Boss"}}) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			guest, token, err := m.Guest(ctx, "  Guest Player ")
			if err != nil {
				t.Fatalf("guest failed: %v", err)
			}
			if !guest.Guest || guest.DisplayName != "Guest Player" {
				t.Fatalf("unexpected guest identity %+v", guest)
			}
			if resolved, ok := m.ResolveSession(ctx, token); !ok || resolved.AccountID != guest.AccountID {
				t.Fatalf("guest session not resolvable")
			}
			if _, _, err := m.Guest(ctx, " "); !errors.Is(err, ErrInvalidDisplayName) {
				t.Fatalf("expected ErrInvalidDisplayName, got %v", err)
			}

			boss, _, err := m.Register(ctx, "boss", "secret12")
			if err != nil {
				t.Fatalf("register boss: %v", err)
			}
			if ok, err := m.IsAdmin(ctx, boss.AccountID); err != nil || !ok {
				t.Fatalf("boss should be admin: %v %v", ok, err)
			}
			if ok, err := m.IsAdmin(ctx, guest.AccountID); err != nil || ok {
				t.Fatalf("guest should not be admin: %v %v", ok, err)
			}
		})
	}
}
