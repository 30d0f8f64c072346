package store

import (
	"context"
	"strings"
)

var schema = []string{
	`
CREATE TABLE IF NOT EXISTS accounts (
    id {{pk}},
    username TEXT NOT NULL,
    display_name TEXT NOT NULL DEFAULT '',
    password_hash TEXT,
    is_guest INTEGER NOT NULL DEFAULT 0,
    is_admin INTEGER NOT NULL DEFAULT 0,
    created_at_ms BIGINT NOT NULL,
    last_login_at_ms BIGINT
)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_accounts_username ON accounts(username)`,
	`
CREATE TABLE IF NOT EXISTS auth_sessions (
    token TEXT PRIMARY KEY,
    account_id BIGINT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
    issued_at_ms BIGINT NOT NULL,
    expires_at_ms BIGINT NOT NULL,
    revoked_at_ms BIGINT,
    last_seen_at_ms BIGINT NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_auth_sessions_account ON auth_sessions(account_id, expires_at_ms)`,
	`
CREATE TABLE IF NOT EXISTS mj_tables (
    id {{pk}},
    room_id TEXT NOT NULL,
    name TEXT NOT NULL,
    mode TEXT NOT NULL,
    length TEXT NOT NULL,
    uma TEXT NOT NULL,
    status TEXT NOT NULL,
    created_by BIGINT NOT NULL,
    created_at_ms BIGINT NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_mj_tables_room ON mj_tables(room_id, id)`,
	`
CREATE TABLE IF NOT EXISTS seats (
    table_id BIGINT NOT NULL REFERENCES mj_tables(id) ON DELETE CASCADE,
    seat_position TEXT NOT NULL,
    occupant_id TEXT NOT NULL,
    display_name TEXT NOT NULL,
    seated_at_ms BIGINT NOT NULL,
    PRIMARY KEY (table_id, seat_position),
    UNIQUE (table_id, occupant_id),
    UNIQUE (occupant_id)
)`,
	`
CREATE TABLE IF NOT EXISTS rounds (
    id {{pk}},
    table_id BIGINT NOT NULL REFERENCES mj_tables(id) ON DELETE CASCADE,
    number INTEGER NOT NULL,
    status TEXT NOT NULL,
    created_at_ms BIGINT NOT NULL,
    UNIQUE (table_id, number)
)`,
	`
CREATE TABLE IF NOT EXISTS round_stats (
    id {{pk}},
    round_id BIGINT NOT NULL REFERENCES rounds(id) ON DELETE CASCADE,
    occupant_id TEXT NOT NULL,
    mode TEXT NOT NULL,
    length TEXT NOT NULL,
    final_rank INTEGER NOT NULL DEFAULT 0,
    point BIGINT NOT NULL DEFAULT 0,
    score BIGINT NOT NULL DEFAULT 0,
    chip BIGINT NOT NULL DEFAULT 0,
    agari_count BIGINT NOT NULL DEFAULT 0,
    agari_point_total BIGINT NOT NULL DEFAULT 0,
    deal_in_count BIGINT NOT NULL DEFAULT 0,
    deal_in_point_total BIGINT NOT NULL DEFAULT 0,
    riichi_count BIGINT NOT NULL DEFAULT 0,
    furo_count BIGINT NOT NULL DEFAULT 0,
    hands_played BIGINT NOT NULL DEFAULT 0,
    yakuman_count BIGINT NOT NULL DEFAULT 0,
    double_yakuman_count BIGINT NOT NULL DEFAULT 0,
    submitted INTEGER NOT NULL DEFAULT 0,
    updated_at_ms BIGINT NOT NULL,
    UNIQUE (round_id, occupant_id)
)`,
	`CREATE INDEX IF NOT EXISTS idx_round_stats_occupant ON round_stats(occupant_id, submitted)`,
	`
CREATE TABLE IF NOT EXISTS bonuses (
    table_id BIGINT NOT NULL REFERENCES mj_tables(id) ON DELETE CASCADE,
    occupant_id TEXT NOT NULL,
    amount BIGINT NOT NULL,
    version BIGINT NOT NULL,
    updated_at_ms BIGINT NOT NULL,
    PRIMARY KEY (table_id, occupant_id)
)`,
}

func (db *DB) ensureSchema(ctx context.Context) error {
	pk := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if db.dialect == DialectPostgres {
		pk = "BIGSERIAL PRIMARY KEY"
	}
	for _, stmt := range schema {
		if _, err := db.db.ExecContext(ctx, strings.ReplaceAll(stmt, "{{pk}}", pk)); err != nil {
			return err
		}
	}
	return nil
}
