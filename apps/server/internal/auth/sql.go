package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"jantaku-lite/apps/server/internal/store"
	"jantaku-lite/mahjong"
)

// SQLManager keeps accounts and sessions in the shared store, so sessions
// survive restarts and are visible to every server process.
type SQLManager struct {
	db   *store.DB
	opts Options
}

func NewSQLManager(db *store.DB, opts Options) *SQLManager {
	return &SQLManager{db: db, opts: opts}
}

// Close is a no-op; the store is owned by the caller.
func (m *SQLManager) Close() error { return nil }

func (m *SQLManager) Register(ctx context.Context, username, password string) (Identity, string, error) {
	if err := validateUsername(username); err != nil {
		return Identity{}, "", err
	}
	if err := validatePassword(password); err != nil {
		return Identity{}, "", err
	}
	normalized := normalizeUsername(username)
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return Identity{}, "", err
	}

	ctx, cancel := m.db.WithTimeout(ctx)
	defer cancel()

	id := Identity{Username: normalized, DisplayName: normalized, Admin: m.opts.isAdmin(normalized)}
	var token string
	err = m.db.Tx(ctx, func(c *store.Conn) error {
		nowMs := time.Now().UTC().UnixMilli()
		if err := c.QueryRowContext(ctx, `
INSERT INTO accounts (username, display_name, password_hash, is_guest, is_admin, created_at_ms, last_login_at_ms)
VALUES (?, ?, ?, 0, ?, ?, ?)
RETURNING id
`, normalized, normalized, string(hash), boolInt(id.Admin), nowMs, nowMs).Scan(&id.AccountID); err != nil {
			if store.IsUniqueViolation(err) {
				return ErrUsernameTaken
			}
			return err
		}
		var err error
		token, err = m.issueSession(ctx, c, id.AccountID, nowMs)
		return err
	})
	if err != nil {
		return Identity{}, "", err
	}
	return id, token, nil
}

func (m *SQLManager) Login(ctx context.Context, username, password string) (Identity, string, error) {
	normalized := normalizeUsername(username)
	if normalized == "" || password == "" {
		return Identity{}, "", ErrInvalidCredentials
	}

	ctx, cancel := m.db.WithTimeout(ctx)
	defer cancel()

	var (
		id    Identity
		hash  sql.NullString
		admin int
	)
	err := m.db.QueryRowContext(ctx, `
SELECT id, username, display_name, password_hash, is_admin
FROM accounts
WHERE username = ? AND is_guest = 0
`, normalized).Scan(&id.AccountID, &id.Username, &id.DisplayName, &hash, &admin)
	if errors.Is(err, sql.ErrNoRows) {
		return Identity{}, "", ErrInvalidCredentials
	}
	if err != nil {
		return Identity{}, "", err
	}
	if !hash.Valid || bcrypt.CompareHashAndPassword([]byte(hash.String), []byte(password)) != nil {
		return Identity{}, "", ErrInvalidCredentials
	}
	id.Admin = admin != 0

	var token string
	err = m.db.Tx(ctx, func(c *store.Conn) error {
		nowMs := time.Now().UTC().UnixMilli()
		if _, err := c.ExecContext(ctx, `UPDATE accounts SET last_login_at_ms = ? WHERE id = ?`, nowMs, id.AccountID); err != nil {
			return err
		}
		var err error
		token, err = m.issueSession(ctx, c, id.AccountID, nowMs)
		return err
	})
	if err != nil {
		return Identity{}, "", err
	}
	return id, token, nil
}

func (m *SQLManager) Guest(ctx context.Context, displayName string) (Identity, string, error) {
	name, err := normalizeDisplayName(displayName)
	if err != nil {
		return Identity{}, "", err
	}

	ctx, cancel := m.db.WithTimeout(ctx)
	defer cancel()

	id := Identity{Username: guestUsername(), DisplayName: name, Guest: true}
	var token string
	err = m.db.Tx(ctx, func(c *store.Conn) error {
		nowMs := time.Now().UTC().UnixMilli()
		if err := c.QueryRowContext(ctx, `
INSERT INTO accounts (username, display_name, is_guest, is_admin, created_at_ms, last_login_at_ms)
VALUES (?, ?, 1, 0, ?, ?)
RETURNING id
`, id.Username, id.DisplayName, nowMs, nowMs).Scan(&id.AccountID); err != nil {
			return err
		}
		var err error
		token, err = m.issueSession(ctx, c, id.AccountID, nowMs)
		return err
	})
	if err != nil {
		return Identity{}, "", err
	}
	return id, token, nil
}

func (m *SQLManager) ResolveSession(ctx context.Context, token string) (Identity, bool) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, false
	}
	ctx, cancel := m.db.WithTimeout(ctx)
	defer cancel()

	var id Identity
	err := m.db.Tx(ctx, func(c *store.Conn) error {
		nowMs := time.Now().UTC().UnixMilli()
		res, err := c.ExecContext(ctx, `
UPDATE auth_sessions
SET last_seen_at_ms = ?, expires_at_ms = ?
WHERE token = ? AND revoked_at_ms IS NULL AND expires_at_ms > ?
`, nowMs, nowMs+m.opts.sessionTTL().Milliseconds(), token, nowMs)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil || n == 0 {
			return sql.ErrNoRows
		}
		var guest, admin int
		if err := c.QueryRowContext(ctx, `
SELECT a.id, a.username, a.display_name, a.is_guest, a.is_admin
FROM auth_sessions AS s
JOIN accounts AS a ON a.id = s.account_id
WHERE s.token = ?
`, token).Scan(&id.AccountID, &id.Username, &id.DisplayName, &guest, &admin); err != nil {
			return err
		}
		id.Guest, id.Admin = guest != 0, admin != 0
		return nil
	})
	if err != nil {
		return Identity{}, false
	}
	return id, true
}

func (m *SQLManager) IsAdmin(ctx context.Context, accountID uint64) (bool, error) {
	ctx, cancel := m.db.WithTimeout(ctx)
	defer cancel()

	var admin int
	err := m.db.QueryRowContext(ctx, `SELECT is_admin FROM accounts WHERE id = ?`, accountID).Scan(&admin)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("account %d: %w", accountID, mahjong.ErrNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("load account %d: %w", accountID, err)
	}
	return admin != 0, nil
}

func (m *SQLManager) Logout(ctx context.Context, token string) {
	token = strings.TrimSpace(token)
	if token == "" {
		return
	}
	ctx, cancel := m.db.WithTimeout(ctx)
	defer cancel()
	_, _ = m.db.ExecContext(ctx, `
UPDATE auth_sessions
SET revoked_at_ms = ?
WHERE token = ? AND revoked_at_ms IS NULL
`, time.Now().UTC().UnixMilli(), token)
}

func (m *SQLManager) issueSession(ctx context.Context, c *store.Conn, accountID uint64, nowMs int64) (string, error) {
	token := mustToken()
	if _, err := c.ExecContext(ctx, `
INSERT INTO auth_sessions (token, account_id, issued_at_ms, expires_at_ms, last_seen_at_ms)
VALUES (?, ?, ?, ?, ?)
`, token, accountID, nowMs, nowMs+m.opts.sessionTTL().Milliseconds(), nowMs); err != nil {
		return "", fmt.Errorf("issue session: %w", err)
	}
	return token, nil
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
