// Package seating assigns table positions to occupants. Storage uniqueness
// on (table, position) and on the occupant is the only mutual exclusion:
// two clients racing for one seat get one success and one ErrSeatConflict.
package seating

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

type Options struct {
	// MinOccupants gates Start; 0 requires every seat of the mode.
	MinOccupants int
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
}

type Manager struct {
	db           *store.DB
	hub          notify.Hub
	metrics      *metrics.Metrics
	logger       *slog.Logger
	minOccupants int
	now          func() time.Time
}

func NewManager(db *store.DB, hub notify.Hub, opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		db:           db,
		hub:          hub,
		metrics:      opts.Metrics,
		logger:       logger,
		minOccupants: opts.MinOccupants,
		now:          time.Now,
	}
}

// changes collects the tables touched by a committed seat mutation.
type changes struct {
	seats    []uint64
	released []uint64
}

func (c *changes) releaseCheck(ctx context.Context, conn *store.Conn, tableID uint64) error {
	ok, err := conn.ReleaseIfNoHumans(ctx, tableID)
	if err != nil {
		return err
	}
	if ok {
		c.released = append(c.released, tableID)
	}
	return nil
}

func (m *Manager) publish(ctx context.Context, ch changes) {
	events := make([]notify.Event, 0, len(ch.seats)+len(ch.released))
	for _, id := range ch.seats {
		events = append(events, notify.Event{TableID: id, Resource: notify.ResourceSeats})
	}
	for _, id := range ch.released {
		m.logger.Info("table_released", "table_id", id)
		events = append(events, notify.Event{TableID: id, Resource: notify.ResourceTable})
	}
	notify.PublishAll(ctx, m.hub, m.logger, events...)
}

func (m *Manager) conflict(err error, tableID uint64, pos mahjong.Position, occ mahjong.OccupantID) error {
	if errors.Is(err, mahjong.ErrSeatConflict) {
		m.metrics.SeatConflict()
		m.logger.Info("seat_conflict", "table_id", tableID, "position", pos, "occupant", occ)
	}
	return err
}

func (m *Manager) tableFor(ctx context.Context, tableID uint64, pos mahjong.Position) (mahjong.Table, error) {
	t, err := m.db.Table(ctx, tableID)
	if err != nil {
		return mahjong.Table{}, err
	}
	if !t.Mode.HasPosition(pos) {
		return mahjong.Table{}, mahjong.NewValidationError("position", fmt.Sprintf("%q is not a seat of a %s table", pos, t.Mode))
	}
	return t, nil
}

// Join seats occupant at position. Any seat the occupant holds, here or at
// another table, is released in the same transaction, so a lost race
// leaves the previous seat untouched.
func (m *Manager) Join(ctx context.Context, tableID uint64, occupant mahjong.Member, position mahjong.Position) (mahjong.Seat, error) {
	if _, err := mahjong.ParseOccupant(string(occupant.ID)); err != nil {
		return mahjong.Seat{}, err
	}
	ctx, cancel := m.db.WithTimeout(ctx)
	defer cancel()

	if _, err := m.tableFor(ctx, tableID, position); err != nil {
		return mahjong.Seat{}, err
	}

	seat := mahjong.Seat{
		TableID:     tableID,
		Position:    position,
		Occupant:    occupant.ID,
		DisplayName: occupant.Name,
		SeatedAt:    m.now(),
	}
	var ch changes
	err := m.db.Tx(ctx, func(c *store.Conn) error {
		left, err := c.DeleteSeatsOf(ctx, occupant.ID)
		if err != nil {
			return err
		}
		if err := c.InsertSeat(ctx, seat); err != nil {
			return err
		}
		ch.seats = append(ch.seats, tableID)
		for _, id := range left {
			if id == tableID {
				continue
			}
			ch.seats = append(ch.seats, id)
			if err := ch.releaseCheck(ctx, c, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return mahjong.Seat{}, m.conflict(err, tableID, position, occupant.ID)
	}

	m.metrics.SeatChanged("join")
	m.logger.Info("seat_joined", "table_id", tableID, "position", position, "occupant", occupant.ID)
	m.publish(ctx, ch)
	return seat, nil
}

// Move changes the occupant's position within the table it already sits at.
func (m *Manager) Move(ctx context.Context, tableID uint64, occupant mahjong.OccupantID, position mahjong.Position) (mahjong.Seat, error) {
	ctx, cancel := m.db.WithTimeout(ctx)
	defer cancel()

	if _, err := m.tableFor(ctx, tableID, position); err != nil {
		return mahjong.Seat{}, err
	}

	var seat mahjong.Seat
	moved := false
	err := m.db.Tx(ctx, func(c *store.Conn) error {
		current, ok, err := c.SeatOf(ctx, occupant)
		if err != nil {
			return err
		}
		if !ok || current.TableID != tableID {
			return fmt.Errorf("%s at table %d: %w", occupant, tableID, mahjong.ErrNotFound)
		}
		if current.Position == position {
			seat = current
			return nil
		}
		if _, err := c.DeleteSeat(ctx, tableID, occupant); err != nil {
			return err
		}
		seat = current
		seat.Position = position
		seat.SeatedAt = m.now()
		moved = true
		return c.InsertSeat(ctx, seat)
	})
	if err != nil {
		return mahjong.Seat{}, m.conflict(err, tableID, position, occupant)
	}
	if !moved {
		return seat, nil
	}

	m.metrics.SeatChanged("move")
	m.logger.Info("seat_moved", "table_id", tableID, "position", position, "occupant", occupant)
	m.publish(ctx, changes{seats: []uint64{tableID}})
	return seat, nil
}

// Leave removes the occupant from the table. Leaving twice is not an error.
func (m *Manager) Leave(ctx context.Context, tableID uint64, occupant mahjong.OccupantID) error {
	ctx, cancel := m.db.WithTimeout(ctx)
	defer cancel()
	return m.leave(ctx, tableID, occupant, "leave")
}

// ForceLeave removes someone else. The actor must be an admin or the
// creator of the table.
func (m *Manager) ForceLeave(ctx context.Context, tableID uint64, occupant mahjong.OccupantID, actor auth.Identity) error {
	ctx, cancel := m.db.WithTimeout(ctx)
	defer cancel()

	t, err := m.db.Table(ctx, tableID)
	if err != nil {
		return err
	}
	if !actor.Admin && (actor.AccountID == 0 || t.CreatedBy != actor.AccountID) {
		m.logger.Warn("force_leave_denied", "table_id", tableID, "occupant", occupant, "actor", actor.AccountID)
		return fmt.Errorf("force leave at table %d: %w", tableID, mahjong.ErrPermissionDenied)
	}
	return m.leave(ctx, tableID, occupant, "force_leave")
}

func (m *Manager) leave(ctx context.Context, tableID uint64, occupant mahjong.OccupantID, kind string) error {
	var ch changes
	err := m.db.Tx(ctx, func(c *store.Conn) error {
		removed, err := c.DeleteSeat(ctx, tableID, occupant)
		if err != nil || !removed {
			return err
		}
		ch.seats = append(ch.seats, tableID)
		return ch.releaseCheck(ctx, c, tableID)
	})
	if err != nil {
		return err
	}
	if len(ch.seats) == 0 {
		return nil
	}

	m.metrics.SeatChanged(kind)
	m.logger.Info("seat_left", "table_id", tableID, "occupant", occupant, "kind", kind)
	m.publish(ctx, ch)
	return nil
}

// FillWithPlaceholders seats up to count bots in the empty positions, in
// position order. A full table is a no-op.
func (m *Manager) FillWithPlaceholders(ctx context.Context, tableID uint64, count int) ([]mahjong.Seat, error) {
	if count < 0 {
		return nil, mahjong.NewValidationError("count", "must be >= 0")
	}
	ctx, cancel := m.db.WithTimeout(ctx)
	defer cancel()

	var created []mahjong.Seat
	err := m.db.Tx(ctx, func(c *store.Conn) error {
		t, err := c.Table(ctx, tableID)
		if err != nil {
			return err
		}
		seats, err := c.Seats(ctx, tableID)
		if err != nil {
			return err
		}
		taken := make(map[mahjong.Position]bool, len(seats))
		for _, s := range seats {
			taken[s.Position] = true
		}

		now := m.now()
		for _, pos := range t.Mode.Positions() {
			if len(created) >= count {
				break
			}
			if taken[pos] {
				continue
			}
			s := mahjong.Seat{
				TableID:     tableID,
				Position:    pos,
				Occupant:    botFor(tableID, pos),
				DisplayName: mahjong.BotName(pos),
				SeatedAt:    now,
			}
			if err := c.InsertSeat(ctx, s); err != nil {
				return err
			}
			created = append(created, s)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(created) == 0 {
		return created, nil
	}

	m.metrics.SeatChanged("fill")
	m.logger.Info("seats_filled", "table_id", tableID, "bots", len(created))
	m.publish(ctx, changes{seats: []uint64{tableID}})
	return created, nil
}

// botFor gives each (table, position) its own bot id, so placeholders never
// collide with the occupant uniqueness across tables.
func botFor(tableID uint64, pos mahjong.Position) mahjong.OccupantID {
	return mahjong.BotOccupant(tableID*10 + uint64(pos.Index()) + 1)
}

// Start moves the table to playing. The actor must be seated at it and the
// occupancy threshold must be met.
func (m *Manager) Start(ctx context.Context, tableID uint64, actor auth.Identity) (mahjong.Table, error) {
	ctx, cancel := m.db.WithTimeout(ctx)
	defer cancel()

	var t mahjong.Table
	changed := false
	err := m.db.Tx(ctx, func(c *store.Conn) error {
		var err error
		if t, err = c.Table(ctx, tableID); err != nil {
			return err
		}
		seats, err := c.Seats(ctx, tableID)
		if err != nil {
			return err
		}
		seated := false
		for _, s := range seats {
			if s.Occupant == actor.Occupant() {
				seated = true
				break
			}
		}
		if !seated {
			return fmt.Errorf("start table %d: actor not seated: %w", tableID, mahjong.ErrPermissionDenied)
		}
		if need := m.required(t.Mode); len(seats) < need {
			return mahjong.NewValidationError("seats", fmt.Sprintf("need %d occupants, have %d", need, len(seats)))
		}
		if t.Status == mahjong.TableStatusPlaying {
			return nil
		}
		if err := c.SetTableStatus(ctx, tableID, mahjong.TableStatusPlaying); err != nil {
			return err
		}
		t.Status = mahjong.TableStatusPlaying
		changed = true
		return nil
	})
	if err != nil {
		return mahjong.Table{}, err
	}
	if changed {
		m.logger.Info("table_started", "table_id", tableID, "by", actor.AccountID)
		notify.PublishAll(ctx, m.hub, m.logger, notify.Event{TableID: tableID, Resource: notify.ResourceTable})
	}
	return t, nil
}

func (m *Manager) required(mode mahjong.Mode) int {
	if m.minOccupants <= 0 || m.minOccupants > mode.SeatCount() {
		return mode.SeatCount()
	}
	return m.minOccupants
}

// Seats returns the current occupancy ordered by position.
func (m *Manager) Seats(ctx context.Context, tableID uint64) ([]mahjong.Seat, error) {
	ctx, cancel := m.db.WithTimeout(ctx)
	defer cancel()
	if _, err := m.db.Table(ctx, tableID); err != nil {
		return nil, err
	}
	return m.db.Seats(ctx, tableID)
}
