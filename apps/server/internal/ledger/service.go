// Package ledger reads and writes the money side of a table: bonus
// overrides, the assembled score sheet and per-player statistics.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"jantaku-lite/apps/server/internal/metrics"
	"jantaku-lite/apps/server/internal/notify"
	"jantaku-lite/apps/server/internal/store"
	"jantaku-lite/mahjong"
	"jantaku-lite/scoresheet"
	"jantaku-lite/stats"
)

type Service struct {
	db      *store.DB
	hub     notify.Hub
	metrics *metrics.Metrics
	logger  *slog.Logger
	cals    mahjong.Calibrations
	now     func() time.Time
}

func NewService(db *store.DB, hub notify.Hub, m *metrics.Metrics, cals mahjong.Calibrations, logger *slog.Logger) *Service {
	if cals == nil {
		cals = mahjong.DefaultCalibrations()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{db: db, hub: hub, metrics: m, logger: logger, cals: cals, now: time.Now}
}

// SetBonus overwrites the occupant's bonus. Concurrent writers are not
// merged: the last write wins.
func (s *Service) SetBonus(ctx context.Context, tableID uint64, occupant mahjong.OccupantID, amount int64) (mahjong.BonusOverride, error) {
	return s.writeBonus(ctx, tableID, occupant, amount, func(c *store.Conn, b mahjong.BonusOverride) (mahjong.BonusOverride, error) {
		return c.UpsertBonus(ctx, b)
	})
}

// SetBonusIfVersion writes only if the stored version is still expected
// (0 when no override exists yet). Otherwise it returns ErrStaleBonus and
// the caller reloads.
func (s *Service) SetBonusIfVersion(ctx context.Context, tableID uint64, occupant mahjong.OccupantID, amount, expected int64) (mahjong.BonusOverride, error) {
	if expected < 0 {
		return mahjong.BonusOverride{}, mahjong.NewValidationError("expected_version", "must be >= 0")
	}
	return s.writeBonus(ctx, tableID, occupant, amount, func(c *store.Conn, b mahjong.BonusOverride) (mahjong.BonusOverride, error) {
		return c.UpdateBonusIfVersion(ctx, b, expected)
	})
}

func (s *Service) writeBonus(
	ctx context.Context,
	tableID uint64,
	occupant mahjong.OccupantID,
	amount int64,
	write func(c *store.Conn, b mahjong.BonusOverride) (mahjong.BonusOverride, error),
) (mahjong.BonusOverride, error) {
	if _, err := mahjong.ParseOccupant(string(occupant)); err != nil {
		return mahjong.BonusOverride{}, err
	}
	ctx, cancel := s.db.WithTimeout(ctx)
	defer cancel()

	if _, err := s.db.Table(ctx, tableID); err != nil {
		return mahjong.BonusOverride{}, err
	}
	out, err := write(s.db.Conn, mahjong.BonusOverride{
		TableID:   tableID,
		Occupant:  occupant,
		Amount:    amount,
		UpdatedAt: s.now(),
	})
	if err != nil {
		if errors.Is(err, mahjong.ErrStaleBonus) {
			s.metrics.BonusWritten("stale")
			s.logger.Info("bonus_stale", "table_id", tableID, "occupant", occupant)
		}
		return mahjong.BonusOverride{}, err
	}

	s.metrics.BonusWritten("ok")
	s.logger.Info("bonus_written", "table_id", tableID, "occupant", occupant, "amount", amount, "version", out.Version)
	notify.PublishAll(ctx, s.hub, s.logger, notify.Event{TableID: tableID, Resource: notify.ResourceBonuses})
	return out, nil
}

// Bonuses returns the overrides of a table keyed by occupant.
func (s *Service) Bonuses(ctx context.Context, tableID uint64) (map[mahjong.OccupantID]mahjong.BonusOverride, error) {
	ctx, cancel := s.db.WithTimeout(ctx)
	defer cancel()

	list, err := s.db.Bonuses(ctx, tableID)
	if err != nil {
		return nil, err
	}
	out := make(map[mahjong.OccupantID]mahjong.BonusOverride, len(list))
	for _, b := range list {
		out[b.Occupant] = b
	}
	return out, nil
}

// Amounts flattens overrides into what scoresheet.Compute consumes.
func Amounts(list []mahjong.BonusOverride) map[mahjong.OccupantID]int64 {
	out := make(map[mahjong.OccupantID]int64, len(list))
	for _, b := range list {
		out[b.Occupant] = b.Amount
	}
	return out
}

// Members turns a table's seats into score sheet columns.
func Members(seats []mahjong.Seat) []mahjong.Member {
	out := make([]mahjong.Member, 0, len(seats))
	for _, seat := range seats {
		out = append(out, mahjong.Member{ID: seat.Occupant, Name: seat.DisplayName})
	}
	return out
}

// TableSheet computes the score sheet of the table's current members.
func (s *Service) TableSheet(ctx context.Context, tableID uint64) (scoresheet.Sheet, error) {
	ctx, cancel := s.db.WithTimeout(ctx)
	defer cancel()

	if _, err := s.db.Table(ctx, tableID); err != nil {
		return scoresheet.Sheet{}, err
	}
	seats, err := s.db.Seats(ctx, tableID)
	if err != nil {
		return scoresheet.Sheet{}, err
	}
	rounds, err := s.db.Rounds(ctx, tableID)
	if err != nil {
		return scoresheet.Sheet{}, err
	}
	bonuses, err := s.db.Bonuses(ctx, tableID)
	if err != nil {
		return scoresheet.Sheet{}, err
	}
	return scoresheet.Compute(Members(seats), rounds, Amounts(bonuses)), nil
}

// PlayerStats recomputes the occupant's buckets from every submitted row.
func (s *Service) PlayerStats(ctx context.Context, occupant mahjong.OccupantID) (stats.Summary, error) {
	if _, err := mahjong.ParseOccupant(string(occupant)); err != nil {
		return stats.Summary{}, err
	}
	ctx, cancel := s.db.WithTimeout(ctx)
	defer cancel()

	history, err := s.db.History(ctx, occupant)
	if err != nil {
		return stats.Summary{}, fmt.Errorf("load history of %s: %w", occupant, err)
	}
	return stats.Compute(history, s.cals), nil
}
