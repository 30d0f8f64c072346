// Package store is the shared relational store behind every table, seat,
// round and bonus operation. Uniqueness constraints in the schema are the
// only mutual exclusion the rest of the server relies on.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"jantaku-lite/apps/server/internal/config"
)

type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

func (d Dialect) String() string {
	if d == DialectPostgres {
		return "postgres"
	}
	return "sqlite"
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Conn runs queries written with ? placeholders against either a pool or an
// open transaction.
type Conn struct {
	q       queryer
	dialect Dialect
}

type DB struct {
	*Conn
	db        *sql.DB
	opTimeout time.Duration
}

// Open connects according to cfg.Mode and ensures the schema.
func Open(ctx context.Context, cfg config.StoreConfig) (*DB, error) {
	switch cfg.Mode {
	case config.StoreModeMemory:
		return OpenSQLite(ctx, ":memory:", cfg.OpTimeout)
	case config.StoreModeSQLite:
		return OpenSQLite(ctx, cfg.SQLitePath, cfg.OpTimeout)
	case config.StoreModePostgres:
		return OpenPostgres(ctx, cfg.PostgresDSN, cfg.OpTimeout)
	default:
		return nil, fmt.Errorf("invalid store mode %q", cfg.Mode)
	}
}

// OpenSQLite opens a single-connection pool so that ":memory:" stays one
// database and writers queue on the pool instead of on SQLITE_BUSY.
func OpenSQLite(ctx context.Context, path string, opTimeout time.Duration) (*DB, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("empty sqlite database path")
	}
	if path != ":memory:" {
		if parent := filepath.Dir(path); parent != "" && parent != "." {
			if err := os.MkdirAll(parent, 0o755); err != nil {
				return nil, err
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		`PRAGMA busy_timeout = 5000;`,
		`PRAGMA journal_mode = WAL;`,
		`PRAGMA foreign_keys = ON;`,
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite %s: %w", p, err)
		}
	}
	return finishOpen(ctx, db, DialectSQLite, opTimeout)
}

func OpenPostgres(ctx context.Context, dsn string, opTimeout time.Duration) (*DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("empty postgres dsn")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	return finishOpen(ctx, db, DialectPostgres, opTimeout)
}

func finishOpen(ctx context.Context, db *sql.DB, dialect Dialect, opTimeout time.Duration) (*DB, error) {
	if opTimeout <= 0 {
		opTimeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	out := &DB{Conn: &Conn{q: db, dialect: dialect}, db: db, opTimeout: opTimeout}
	if err := out.ensureSchema(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return out, nil
}

func (db *DB) Close() error {
	if db == nil || db.db == nil {
		return nil
	}
	return db.db.Close()
}

// WithTimeout bounds ctx by the configured per-operation timeout.
func (db *DB) WithTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, db.opTimeout)
}

// Tx runs fn in one transaction. Any error rolls everything back.
func (db *DB) Tx(ctx context.Context, fn func(c *Conn) error) error {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&Conn{q: tx, dialect: db.dialect}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		if IsUniqueViolation(err) {
			return err
		}
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (c *Conn) Dialect() Dialect { return c.dialect }

func (c *Conn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.q.ExecContext(ctx, c.rebind(query), args...)
}

func (c *Conn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.q.QueryContext(ctx, c.rebind(query), args...)
}

func (c *Conn) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return c.q.QueryRowContext(ctx, c.rebind(query), args...)
}

// rebind turns ? placeholders into $n for postgres.
func (c *Conn) rebind(query string) string {
	if c.dialect != DialectPostgres || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
