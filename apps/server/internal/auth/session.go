package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"jantaku-lite/mahjong"
)

// Manager keeps accounts and sessions in process memory.
type Manager struct {
	mu   sync.Mutex
	opts Options

	nextAccountID uint64
	sessions      map[string]sessionRecord // token -> account
	accountsByID  map[uint64]accountRecord
	accountsByKey map[string]uint64 // normalized username -> account
}

type sessionRecord struct {
	AccountID uint64
	ExpiresAt time.Time
}

type accountRecord struct {
	Identity
	PasswordHash  []byte
	LastLoginTime time.Time
}

func NewManager(opts Options) *Manager {
	return &Manager{
		opts:          opts,
		nextAccountID: 100000,
		sessions:      make(map[string]sessionRecord),
		accountsByID:  make(map[uint64]accountRecord),
		accountsByKey: make(map[string]uint64),
	}
}

func (m *Manager) Close() error { return nil }

func (m *Manager) issueSessionLocked(accountID uint64, now time.Time) string {
	token := mustToken()
	m.sessions[token] = sessionRecord{AccountID: accountID, ExpiresAt: now.Add(m.opts.sessionTTL())}
	return token
}

func (m *Manager) Register(_ context.Context, username, password string) (Identity, string, error) {
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

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.accountsByKey[normalized]; exists {
		return Identity{}, "", ErrUsernameTaken
	}

	now := time.Now()
	m.nextAccountID++
	rec := accountRecord{
		Identity: Identity{
			AccountID:   m.nextAccountID,
			Username:    normalized,
			DisplayName: normalized,
			Admin:       m.opts.isAdmin(normalized),
		},
		PasswordHash:  hash,
		LastLoginTime: now,
	}
	m.accountsByID[rec.AccountID] = rec
	m.accountsByKey[normalized] = rec.AccountID
	return rec.Identity, m.issueSessionLocked(rec.AccountID, now), nil
}

func (m *Manager) Login(_ context.Context, username, password string) (Identity, string, error) {
	normalized := normalizeUsername(username)
	if normalized == "" || password == "" {
		return Identity{}, "", ErrInvalidCredentials
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	accountID, exists := m.accountsByKey[normalized]
	if !exists {
		return Identity{}, "", ErrInvalidCredentials
	}
	rec := m.accountsByID[accountID]
	if rec.Guest || len(rec.PasswordHash) == 0 {
		return Identity{}, "", ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword(rec.PasswordHash, []byte(password)) != nil {
		return Identity{}, "", ErrInvalidCredentials
	}

	now := time.Now()
	rec.LastLoginTime = now
	m.accountsByID[accountID] = rec
	return rec.Identity, m.issueSessionLocked(accountID, now), nil
}

func (m *Manager) Guest(_ context.Context, displayName string) (Identity, string, error) {
	name, err := normalizeDisplayName(displayName)
	if err != nil {
		return Identity{}, "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	m.nextAccountID++
	rec := accountRecord{
		Identity: Identity{
			AccountID:   m.nextAccountID,
			Username:    guestUsername(),
			DisplayName: name,
			Guest:       true,
		},
		LastLoginTime: now,
	}
	m.accountsByID[rec.AccountID] = rec
	m.accountsByKey[rec.Username] = rec.AccountID
	return rec.Identity, m.issueSessionLocked(rec.AccountID, now), nil
}

// ResolveSession validates token and slides its expiry.
func (m *Manager) ResolveSession(_ context.Context, token string) (Identity, bool) {
	if token == "" {
		return Identity{}, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	rec, exists := m.sessions[token]
	if !exists {
		return Identity{}, false
	}
	if !now.Before(rec.ExpiresAt) {
		delete(m.sessions, token)
		return Identity{}, false
	}
	rec.ExpiresAt = now.Add(m.opts.sessionTTL())
	m.sessions[token] = rec
	return m.accountsByID[rec.AccountID].Identity, true
}

func (m *Manager) IsAdmin(_ context.Context, accountID uint64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.accountsByID[accountID]
	if !ok {
		return false, fmt.Errorf("account %d: %w", accountID, mahjong.ErrNotFound)
	}
	return rec.Admin, nil
}

func (m *Manager) Logout(_ context.Context, token string) {
	if token == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, token)
}
