package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"jantaku-lite/mahjong"
)

const statColumns = `s.id, s.round_id, s.occupant_id, s.mode, s.length, s.final_rank, s.point, s.score, s.chip,
    s.agari_count, s.agari_point_total, s.deal_in_count, s.deal_in_point_total, s.riichi_count,
    s.furo_count, s.hands_played, s.yakuman_count, s.double_yakuman_count, s.submitted, s.updated_at_ms`

// MaxRoundNumber returns 0 when the table has no rounds.
func (c *Conn) MaxRoundNumber(ctx context.Context, tableID uint64) (int, error) {
	var n sql.NullInt64
	if err := c.QueryRowContext(ctx, `SELECT MAX(number) FROM rounds WHERE table_id = ?`, tableID).Scan(&n); err != nil {
		return 0, fmt.Errorf("max round number: %w", err)
	}
	return int(n.Int64), nil
}

// InsertRound fails with ErrDuplicateRound when the number is taken.
func (c *Conn) InsertRound(ctx context.Context, r *mahjong.Round) error {
	err := c.QueryRowContext(ctx, `
INSERT INTO rounds (table_id, number, status, created_at_ms)
VALUES (?, ?, ?, ?)
RETURNING id
`, r.TableID, r.Number, string(r.Status), toMillis(r.CreatedAt)).Scan(&r.ID)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("table %d round %d: %w", r.TableID, r.Number, mahjong.ErrDuplicateRound)
		}
		return fmt.Errorf("insert round: %w", err)
	}
	return nil
}

func (c *Conn) Round(ctx context.Context, id uint64) (mahjong.Round, error) {
	var (
		r       mahjong.Round
		status  string
		created int64
	)
	err := c.QueryRowContext(ctx, `SELECT id, table_id, number, status, created_at_ms FROM rounds WHERE id = ?`, id).
		Scan(&r.ID, &r.TableID, &r.Number, &status, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return mahjong.Round{}, fmt.Errorf("round %d: %w", id, mahjong.ErrNotFound)
	}
	if err != nil {
		return mahjong.Round{}, fmt.Errorf("load round %d: %w", id, err)
	}
	r.Status = mahjong.RoundStatus(status)
	r.CreatedAt = fromMillis(created)
	return r, nil
}

func (c *Conn) SetRoundStatus(ctx context.Context, id uint64, status mahjong.RoundStatus) error {
	if _, err := c.ExecContext(ctx, `UPDATE rounds SET status = ? WHERE id = ?`, string(status), id); err != nil {
		return fmt.Errorf("update round status: %w", err)
	}
	return nil
}

// Rounds returns every round of the table with its stat rows, ascending by
// round number.
func (c *Conn) Rounds(ctx context.Context, tableID uint64) ([]mahjong.RoundWithStats, error) {
	rows, err := c.QueryContext(ctx, `
SELECT id, table_id, number, status, created_at_ms
FROM rounds
WHERE table_id = ?
ORDER BY number
`, tableID)
	if err != nil {
		return nil, fmt.Errorf("list rounds: %w", err)
	}
	out := make([]mahjong.RoundWithStats, 0)
	index := make(map[uint64]int)
	for rows.Next() {
		var (
			r       mahjong.Round
			status  string
			created int64
		)
		if err := rows.Scan(&r.ID, &r.TableID, &r.Number, &status, &created); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan round: %w", err)
		}
		r.Status = mahjong.RoundStatus(status)
		r.CreatedAt = fromMillis(created)
		index[r.ID] = len(out)
		out = append(out, mahjong.RoundWithStats{Round: r, Stats: []mahjong.RoundStat{}})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return out, nil
	}

	stats, err := c.queryStats(ctx, `
SELECT `+statColumns+`
FROM round_stats AS s
JOIN rounds AS r ON r.id = s.round_id
WHERE r.table_id = ?
ORDER BY r.number, s.id
`, tableID)
	if err != nil {
		return nil, err
	}
	for _, s := range stats {
		if i, ok := index[s.RoundID]; ok {
			out[i].Stats = append(out[i].Stats, s)
		}
	}
	return out, nil
}

// InsertRoundStat stores s and fills in its ID.
func (c *Conn) InsertRoundStat(ctx context.Context, s *mahjong.RoundStat) error {
	err := c.QueryRowContext(ctx, `
INSERT INTO round_stats (round_id, occupant_id, mode, length, final_rank, point, score, chip,
    agari_count, agari_point_total, deal_in_count, deal_in_point_total, riichi_count,
    furo_count, hands_played, yakuman_count, double_yakuman_count, submitted, updated_at_ms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
RETURNING id
`, s.RoundID, string(s.Occupant), string(s.Mode), string(s.Length), s.Rank, s.Point, s.Score, s.Chip,
		s.AgariCount, s.AgariPointTotal, s.DealInCount, s.DealInPointTotal, s.RiichiCount,
		s.FuroCount, s.HandsPlayed, s.YakumanCount, s.DoubleYakumanCount, boolToInt(s.Submitted), toMillis(s.UpdatedAt)).Scan(&s.ID)
	if err != nil {
		return fmt.Errorf("insert round stat: %w", err)
	}
	return nil
}

func (c *Conn) RoundStat(ctx context.Context, id uint64) (mahjong.RoundStat, error) {
	stats, err := c.queryStats(ctx, `SELECT `+statColumns+` FROM round_stats AS s WHERE s.id = ?`, id)
	if err != nil {
		return mahjong.RoundStat{}, err
	}
	if len(stats) == 0 {
		return mahjong.RoundStat{}, fmt.Errorf("round stat %d: %w", id, mahjong.ErrNotFound)
	}
	return stats[0], nil
}

// UpdateRoundStat writes every mutable field of s.
func (c *Conn) UpdateRoundStat(ctx context.Context, s mahjong.RoundStat) error {
	res, err := c.ExecContext(ctx, `
UPDATE round_stats
SET final_rank = ?, point = ?, score = ?, chip = ?,
    agari_count = ?, agari_point_total = ?, deal_in_count = ?, deal_in_point_total = ?,
    riichi_count = ?, furo_count = ?, hands_played = ?, yakuman_count = ?, double_yakuman_count = ?,
    submitted = ?, updated_at_ms = ?
WHERE id = ?
`, s.Rank, s.Point, s.Score, s.Chip,
		s.AgariCount, s.AgariPointTotal, s.DealInCount, s.DealInPointTotal,
		s.RiichiCount, s.FuroCount, s.HandsPlayed, s.YakumanCount, s.DoubleYakumanCount,
		boolToInt(s.Submitted), toMillis(s.UpdatedAt), s.ID)
	if err != nil {
		return fmt.Errorf("update round stat: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("round stat %d: %w", s.ID, mahjong.ErrNotFound)
	}
	return nil
}

// PendingStats counts the rows of a round that were not submitted yet.
func (c *Conn) PendingStats(ctx context.Context, roundID uint64) (int, error) {
	var n int
	if err := c.QueryRowContext(ctx, `SELECT COUNT(*) FROM round_stats WHERE round_id = ? AND submitted = 0`, roundID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pending stats: %w", err)
	}
	return n, nil
}

// History returns every submitted row of the occupant, oldest first.
func (c *Conn) History(ctx context.Context, occupant mahjong.OccupantID) ([]mahjong.RoundStat, error) {
	return c.queryStats(ctx, `
SELECT `+statColumns+`
FROM round_stats AS s
WHERE s.occupant_id = ? AND s.submitted = 1
ORDER BY s.updated_at_ms, s.id
`, string(occupant))
}

func (c *Conn) queryStats(ctx context.Context, query string, args ...any) ([]mahjong.RoundStat, error) {
	rows, err := c.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query round stats: %w", err)
	}
	defer rows.Close()

	out := make([]mahjong.RoundStat, 0)
	for rows.Next() {
		var (
			s                 mahjong.RoundStat
			occ, mode, length string
			submitted         int
			updatedAtMillis   int64
		)
		if err := rows.Scan(&s.ID, &s.RoundID, &occ, &mode, &length, &s.Rank, &s.Point, &s.Score, &s.Chip,
			&s.AgariCount, &s.AgariPointTotal, &s.DealInCount, &s.DealInPointTotal, &s.RiichiCount,
			&s.FuroCount, &s.HandsPlayed, &s.YakumanCount, &s.DoubleYakumanCount, &submitted, &updatedAtMillis); err != nil {
			return nil, fmt.Errorf("scan round stat: %w", err)
		}
		s.Occupant = mahjong.OccupantID(occ)
		s.Mode = mahjong.Mode(mode)
		s.Length = mahjong.Length(length)
		s.Submitted = submitted != 0
		s.UpdatedAt = fromMillis(updatedAtMillis)
		out = append(out, s)
	}
	return out, rows.Err()
}
