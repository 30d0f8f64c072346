package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"jantaku-lite/mahjong"
)

func (c *Conn) Bonuses(ctx context.Context, tableID uint64) ([]mahjong.BonusOverride, error) {
	rows, err := c.QueryContext(ctx, `
SELECT table_id, occupant_id, amount, version, updated_at_ms
FROM bonuses
WHERE table_id = ?
ORDER BY occupant_id
`, tableID)
	if err != nil {
		return nil, fmt.Errorf("list bonuses: %w", err)
	}
	defer rows.Close()

	out := make([]mahjong.BonusOverride, 0)
	for rows.Next() {
		var (
			b         mahjong.BonusOverride
			occ       string
			updatedMs int64
		)
		if err := rows.Scan(&b.TableID, &occ, &b.Amount, &b.Version, &updatedMs); err != nil {
			return nil, fmt.Errorf("scan bonus: %w", err)
		}
		b.Occupant = mahjong.OccupantID(occ)
		b.UpdatedAt = fromMillis(updatedMs)
		out = append(out, b)
	}
	return out, rows.Err()
}

// UpsertBonus overwrites the amount and bumps the version. Last write wins.
func (c *Conn) UpsertBonus(ctx context.Context, b mahjong.BonusOverride) (mahjong.BonusOverride, error) {
	err := c.QueryRowContext(ctx, `
INSERT INTO bonuses (table_id, occupant_id, amount, version, updated_at_ms)
VALUES (?, ?, ?, 1, ?)
ON CONFLICT (table_id, occupant_id) DO UPDATE
SET amount = excluded.amount,
    version = bonuses.version + 1,
    updated_at_ms = excluded.updated_at_ms
RETURNING version
`, b.TableID, string(b.Occupant), b.Amount, toMillis(b.UpdatedAt)).Scan(&b.Version)
	if err != nil {
		return mahjong.BonusOverride{}, fmt.Errorf("upsert bonus: %w", err)
	}
	return b, nil
}

// UpdateBonusIfVersion writes only when the stored version still equals
// expected. Version 0 means the override must not exist yet. A mismatch
// returns ErrStaleBonus and leaves the row untouched.
func (c *Conn) UpdateBonusIfVersion(ctx context.Context, b mahjong.BonusOverride, expected int64) (mahjong.BonusOverride, error) {
	if expected == 0 {
		_, err := c.ExecContext(ctx, `
INSERT INTO bonuses (table_id, occupant_id, amount, version, updated_at_ms)
VALUES (?, ?, ?, 1, ?)
`, b.TableID, string(b.Occupant), b.Amount, toMillis(b.UpdatedAt))
		if err != nil {
			if IsUniqueViolation(err) {
				return mahjong.BonusOverride{}, fmt.Errorf("bonus %s: %w", b.Occupant, mahjong.ErrStaleBonus)
			}
			return mahjong.BonusOverride{}, fmt.Errorf("insert bonus: %w", err)
		}
		b.Version = 1
		return b, nil
	}

	err := c.QueryRowContext(ctx, `
UPDATE bonuses
SET amount = ?, version = version + 1, updated_at_ms = ?
WHERE table_id = ? AND occupant_id = ? AND version = ?
RETURNING version
`, b.Amount, toMillis(b.UpdatedAt), b.TableID, string(b.Occupant), expected).Scan(&b.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return mahjong.BonusOverride{}, fmt.Errorf("bonus %s at version %d: %w", b.Occupant, expected, mahjong.ErrStaleBonus)
	}
	if err != nil {
		return mahjong.BonusOverride{}, fmt.Errorf("update bonus: %w", err)
	}
	return b, nil
}
