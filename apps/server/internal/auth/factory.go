package auth

import (
	"fmt"

	"jantaku-lite/apps/server/internal/config"
	"jantaku-lite/apps/server/internal/store"
)

const (
	ModeMemory = "memory"
	ModeStore  = "store"
)

// NewService keeps accounts next to the tables unless the store itself is
// in-memory, in which case the lighter map-backed manager is used.
func NewService(cfg *config.Config, db *store.DB) (Service, string, error) {
	opts := Options{SessionTTL: cfg.Auth.SessionTTL, AdminUsernames: cfg.Auth.AdminUsernames}
	switch cfg.Store.Mode {
	case config.StoreModeMemory:
		return NewManager(opts), ModeMemory, nil
	case config.StoreModeSQLite, config.StoreModePostgres:
		if db == nil {
			return nil, ModeStore, fmt.Errorf("store mode %s needs an open store", cfg.Store.Mode)
		}
		return NewSQLManager(db, opts), ModeStore, nil
	default:
		return nil, "", fmt.Errorf("invalid store mode %q", cfg.Store.Mode)
	}
}
