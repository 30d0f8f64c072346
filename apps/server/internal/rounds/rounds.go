// Package rounds opens numbered rounds at a table and records each
// occupant's result for them.
package rounds

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"jantaku-lite/apps/server/internal/auth"
	"jantaku-lite/apps/server/internal/metrics"
	"jantaku-lite/apps/server/internal/notify"
	"jantaku-lite/apps/server/internal/store"
	"jantaku-lite/mahjong"
)

type Controller struct {
	db      *store.DB
	hub     notify.Hub
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time

	// lastRound reads the highest round number inside the start transaction.
	lastRound func(ctx context.Context, conn *store.Conn, tableID uint64) (int, error)
}

func NewController(db *store.DB, hub notify.Hub, m *metrics.Metrics, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{db: db, hub: hub, metrics: m, logger: logger, now: time.Now}
	c.lastRound = func(ctx context.Context, conn *store.Conn, tableID uint64) (int, error) {
		return conn.MaxRoundNumber(ctx, tableID)
	}
	return c
}

// StartRound opens round max+1 and seeds a zeroed stat row for every
// occupant seated right now. Losing a race to another starter surfaces as
// ErrDuplicateRound; callers reload instead of retrying.
func (c *Controller) StartRound(ctx context.Context, tableID uint64) (mahjong.RoundWithStats, error) {
	ctx, cancel := c.db.WithTimeout(ctx)
	defer cancel()

	var out mahjong.RoundWithStats
	err := c.db.Tx(ctx, func(conn *store.Conn) error {
		t, err := conn.Table(ctx, tableID)
		if err != nil {
			return err
		}
		seats, err := conn.Seats(ctx, tableID)
		if err != nil {
			return err
		}
		if len(seats) == 0 {
			return fmt.Errorf("table %d: %w", tableID, mahjong.ErrNoOccupants)
		}
		last, err := c.lastRound(ctx, conn, tableID)
		if err != nil {
			return err
		}

		now := c.now()
		r := mahjong.Round{TableID: tableID, Number: last + 1, Status: mahjong.RoundStatusOpen, CreatedAt: now}
		if err := conn.InsertRound(ctx, &r); err != nil {
			return err
		}
		out = mahjong.RoundWithStats{Round: r, Stats: make([]mahjong.RoundStat, 0, len(seats))}
		for _, s := range seats {
			stat := mahjong.RoundStat{
				RoundID:   r.ID,
				Occupant:  s.Occupant,
				Mode:      t.Mode,
				Length:    t.Length,
				UpdatedAt: now,
			}
			if err := conn.InsertRoundStat(ctx, &stat); err != nil {
				return err
			}
			out.Stats = append(out.Stats, stat)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, mahjong.ErrDuplicateRound) {
			c.metrics.DuplicateRound()
			c.logger.Info("round_duplicate", "table_id", tableID)
		}
		return mahjong.RoundWithStats{}, err
	}

	c.metrics.RoundStarted()
	c.logger.Info("round_started", "table_id", tableID, "round", out.Number, "occupants", len(out.Stats))
	notify.PublishAll(ctx, c.hub, c.logger, notify.Event{TableID: tableID, Resource: notify.ResourceRounds})
	return out, nil
}

// RecordStat merges patch into a stat row. A rank marks the row submitted;
// the round completes once no row is left unsubmitted.
func (c *Controller) RecordStat(ctx context.Context, statID uint64, patch mahjong.StatPatch) (mahjong.RoundStat, error) {
	if err := patch.CheckFields(); err != nil {
		return mahjong.RoundStat{}, err
	}
	ctx, cancel := c.db.WithTimeout(ctx)
	defer cancel()

	var (
		stat      mahjong.RoundStat
		round     mahjong.Round
		completed bool
	)
	err := c.db.Tx(ctx, func(conn *store.Conn) error {
		var err error
		if stat, err = conn.RoundStat(ctx, statID); err != nil {
			return err
		}
		if err := patch.Validate(stat.Mode.SeatCount()); err != nil {
			return err
		}
		if round, err = conn.Round(ctx, stat.RoundID); err != nil {
			return err
		}

		patch.Apply(&stat)
		stat.UpdatedAt = c.now()
		if err := conn.UpdateRoundStat(ctx, stat); err != nil {
			return err
		}
		if round.Status == mahjong.RoundStatusComplete {
			return nil
		}
		pending, err := conn.PendingStats(ctx, round.ID)
		if err != nil {
			return err
		}
		if pending > 0 {
			return nil
		}
		if err := conn.SetRoundStatus(ctx, round.ID, mahjong.RoundStatusComplete); err != nil {
			return err
		}
		completed = true
		return nil
	})
	if err != nil {
		return mahjong.RoundStat{}, err
	}

	c.metrics.StatUpdated()
	c.logger.Info("stat_recorded", "table_id", round.TableID, "round", round.Number, "occupant", stat.Occupant, "submitted", stat.Submitted)
	if completed {
		c.metrics.RoundCompleted()
		c.logger.Info("round_completed", "table_id", round.TableID, "round", round.Number)
	}
	notify.PublishAll(ctx, c.hub, c.logger, notify.Event{TableID: round.TableID, Resource: notify.ResourceRounds})
	return stat, nil
}

// RecordOwnStat is RecordStat for a row the actor owns. Admins may edit
// any row.
func (c *Controller) RecordOwnStat(ctx context.Context, actor auth.Identity, statID uint64, patch mahjong.StatPatch) (mahjong.RoundStat, error) {
	lookupCtx, cancel := c.db.WithTimeout(ctx)
	stat, err := c.db.RoundStat(lookupCtx, statID)
	cancel()
	if err != nil {
		return mahjong.RoundStat{}, err
	}
	if !actor.Admin && stat.Occupant != actor.Occupant() {
		return mahjong.RoundStat{}, fmt.Errorf("stat %d: %w", statID, mahjong.ErrPermissionDenied)
	}
	return c.RecordStat(ctx, statID, patch)
}

// Rounds lists the rounds of a table with their stat rows, ascending.
func (c *Controller) Rounds(ctx context.Context, tableID uint64) ([]mahjong.RoundWithStats, error) {
	ctx, cancel := c.db.WithTimeout(ctx)
	defer cancel()
	if _, err := c.db.Table(ctx, tableID); err != nil {
		return nil, err
	}
	return c.db.Rounds(ctx, tableID)
}
