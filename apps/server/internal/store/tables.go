package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	json "github.com/goccy/go-json"

	"jantaku-lite/mahjong"
)

const tableColumns = `id, room_id, name, mode, length, uma, status, created_by, created_at_ms`

// InsertTable stores t and fills in its ID.
func (c *Conn) InsertTable(ctx context.Context, t *mahjong.Table) error {
	uma, err := json.Marshal(t.Uma)
	if err != nil {
		return fmt.Errorf("encode uma: %w", err)
	}
	err = c.QueryRowContext(ctx, `
INSERT INTO mj_tables (room_id, name, mode, length, uma, status, created_by, created_at_ms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
RETURNING id
`, t.RoomID, t.Name, string(t.Mode), string(t.Length), string(uma), string(t.Status), t.CreatedBy, toMillis(t.CreatedAt)).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("insert table: %w", err)
	}
	return nil
}

func (c *Conn) Table(ctx context.Context, id uint64) (mahjong.Table, error) {
	row := c.QueryRowContext(ctx, `SELECT `+tableColumns+` FROM mj_tables WHERE id = ?`, id)
	t, err := scanTable(row)
	if errors.Is(err, sql.ErrNoRows) {
		return mahjong.Table{}, fmt.Errorf("table %d: %w", id, mahjong.ErrNotFound)
	}
	if err != nil {
		return mahjong.Table{}, fmt.Errorf("load table %d: %w", id, err)
	}
	return t, nil
}

func (c *Conn) TablesByRoom(ctx context.Context, roomID string) ([]mahjong.Table, error) {
	rows, err := c.QueryContext(ctx, `SELECT `+tableColumns+` FROM mj_tables WHERE room_id = ? ORDER BY id`, roomID)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	out := make([]mahjong.Table, 0)
	for rows.Next() {
		t, err := scanTable(rows)
		if err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (c *Conn) SetTableStatus(ctx context.Context, id uint64, status mahjong.TableStatus) error {
	res, err := c.ExecContext(ctx, `UPDATE mj_tables SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("update table status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("table %d: %w", id, mahjong.ErrNotFound)
	}
	return nil
}

// DeleteTablesByRoom removes every table of the room together with its
// seats, rounds, stats and bonuses. It returns the deleted table ids.
func (c *Conn) DeleteTablesByRoom(ctx context.Context, roomID string) ([]uint64, error) {
	tables, err := c.TablesByRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if _, err := c.ExecContext(ctx, `DELETE FROM mj_tables WHERE room_id = ?`, roomID); err != nil {
		return nil, fmt.Errorf("delete tables: %w", err)
	}
	ids := make([]uint64, 0, len(tables))
	for _, t := range tables {
		ids = append(ids, t.ID)
	}
	return ids, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTable(s rowScanner) (mahjong.Table, error) {
	var (
		t                  mahjong.Table
		mode, length, stat string
		uma                string
		createdAtMs        int64
	)
	if err := s.Scan(&t.ID, &t.RoomID, &t.Name, &mode, &length, &uma, &stat, &t.CreatedBy, &createdAtMs); err != nil {
		return mahjong.Table{}, err
	}
	t.Mode = mahjong.Mode(mode)
	t.Length = mahjong.Length(length)
	t.Status = mahjong.TableStatus(stat)
	t.CreatedAt = fromMillis(createdAtMs)
	if err := json.Unmarshal([]byte(uma), &t.Uma); err != nil {
		return mahjong.Table{}, fmt.Errorf("decode uma: %w", err)
	}
	return t, nil
}
