package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"jantaku-lite/mahjong"
)

// Seats returns the occupancy of a table in position order.
func (c *Conn) Seats(ctx context.Context, tableID uint64) ([]mahjong.Seat, error) {
	rows, err := c.QueryContext(ctx, `
SELECT table_id, seat_position, occupant_id, display_name, seated_at_ms
FROM seats
WHERE table_id = ?
`, tableID)
	if err != nil {
		return nil, fmt.Errorf("list seats: %w", err)
	}
	defer rows.Close()

	out := make([]mahjong.Seat, 0, 4)
	for rows.Next() {
		s, err := scanSeat(rows)
		if err != nil {
			return nil, fmt.Errorf("scan seat: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position.Index() < out[j].Position.Index() })
	return out, nil
}

// SeatOf returns the seat the occupant holds anywhere, if any.
func (c *Conn) SeatOf(ctx context.Context, occupant mahjong.OccupantID) (mahjong.Seat, bool, error) {
	row := c.QueryRowContext(ctx, `
SELECT table_id, seat_position, occupant_id, display_name, seated_at_ms
FROM seats
WHERE occupant_id = ?
`, string(occupant))
	s, err := scanSeat(row)
	if errors.Is(err, sql.ErrNoRows) {
		return mahjong.Seat{}, false, nil
	}
	if err != nil {
		return mahjong.Seat{}, false, fmt.Errorf("load seat of %s: %w", occupant, err)
	}
	return s, true, nil
}

// InsertSeat fails with ErrSeatConflict when the position, or the occupant,
// is already taken.
func (c *Conn) InsertSeat(ctx context.Context, s mahjong.Seat) error {
	_, err := c.ExecContext(ctx, `
INSERT INTO seats (table_id, seat_position, occupant_id, display_name, seated_at_ms)
VALUES (?, ?, ?, ?, ?)
`, s.TableID, string(s.Position), string(s.Occupant), s.DisplayName, toMillis(s.SeatedAt))
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("table %d %s: %w", s.TableID, s.Position, mahjong.ErrSeatConflict)
		}
		return fmt.Errorf("insert seat: %w", err)
	}
	return nil
}

// DeleteSeat removes the occupant from the table. Removing an absent
// occupant is not an error.
func (c *Conn) DeleteSeat(ctx context.Context, tableID uint64, occupant mahjong.OccupantID) (bool, error) {
	res, err := c.ExecContext(ctx, `DELETE FROM seats WHERE table_id = ? AND occupant_id = ?`, tableID, string(occupant))
	if err != nil {
		return false, fmt.Errorf("delete seat: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeleteSeatsOf removes every seat the occupant holds and returns the tables
// it was removed from.
func (c *Conn) DeleteSeatsOf(ctx context.Context, occupant mahjong.OccupantID) ([]uint64, error) {
	rows, err := c.QueryContext(ctx, `SELECT table_id FROM seats WHERE occupant_id = ?`, string(occupant))
	if err != nil {
		return nil, fmt.Errorf("find seats of %s: %w", occupant, err)
	}
	var tables []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		tables = append(tables, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(tables) == 0 {
		return nil, nil
	}
	if _, err := c.ExecContext(ctx, `DELETE FROM seats WHERE occupant_id = ?`, string(occupant)); err != nil {
		return nil, fmt.Errorf("delete seats of %s: %w", occupant, err)
	}
	return tables, nil
}

func scanSeat(s rowScanner) (mahjong.Seat, error) {
	var (
		seat           mahjong.Seat
		position, occ  string
		seatedAtMillis int64
	)
	if err := s.Scan(&seat.TableID, &position, &occ, &seat.DisplayName, &seatedAtMillis); err != nil {
		return mahjong.Seat{}, err
	}
	seat.Position = mahjong.Position(position)
	seat.Occupant = mahjong.OccupantID(occ)
	seat.SeatedAt = fromMillis(seatedAtMillis)
	return seat, nil
}

// ReleaseIfNoHumans returns a playing table to waiting once no user
// occupant is seated. It reports whether the status changed.
func (c *Conn) ReleaseIfNoHumans(ctx context.Context, tableID uint64) (bool, error) {
	res, err := c.ExecContext(ctx, `
UPDATE mj_tables SET status = ?
WHERE id = ? AND status = ?
  AND NOT EXISTS (SELECT 1 FROM seats WHERE table_id = ? AND occupant_id LIKE 'user:%')
`, string(mahjong.TableStatusWaiting), tableID, string(mahjong.TableStatusPlaying), tableID)
	if err != nil {
		return false, fmt.Errorf("release table %d: %w", tableID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
