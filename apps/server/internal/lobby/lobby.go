// Package lobby is the table catalog: creating, listing and tearing down
// the tables of a room.
package lobby

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"jantaku-lite/apps/server/internal/auth"
	"jantaku-lite/apps/server/internal/notify"
	"jantaku-lite/apps/server/internal/store"
	"jantaku-lite/mahjong"
)

// Lobby manages the tables of every room. The store is the only state.
type Lobby struct {
	db     *store.DB
	hub    notify.Hub
	logger *slog.Logger
	now    func() time.Time
}

func New(db *store.DB, hub notify.Hub, logger *slog.Logger) *Lobby {
	return &Lobby{db: db, hub: hub, logger: logger, now: time.Now}
}

// TableView is a table together with its current occupancy.
type TableView struct {
	mahjong.Table
	Seats []mahjong.Seat `json:"seats"`
}

// Create opens a table and seats the creator at the first position. A seat
// the creator held elsewhere is given up in the same transaction.
func (l *Lobby) Create(ctx context.Context, cfg mahjong.TableConfig, creator auth.Identity) (TableView, error) {
	cfg.RoomID = strings.TrimSpace(cfg.RoomID)
	cfg.Name = strings.TrimSpace(cfg.Name)
	if err := cfg.Validate(); err != nil {
		return TableView{}, err
	}
	if creator.AccountID == 0 {
		return TableView{}, fmt.Errorf("create table: %w", mahjong.ErrPermissionDenied)
	}

	ctx, cancel := l.db.WithTimeout(ctx)
	defer cancel()

	now := l.now()
	t := mahjong.Table{
		RoomID:    cfg.RoomID,
		Name:      cfg.Name,
		Mode:      cfg.Mode,
		Length:    cfg.Length,
		Uma:       append([]int64(nil), cfg.Uma...),
		Status:    mahjong.TableStatusWaiting,
		CreatedBy: creator.AccountID,
		CreatedAt: now,
	}
	seat := mahjong.Seat{
		Position:    mahjong.PositionEast,
		Occupant:    creator.Occupant(),
		DisplayName: creator.DisplayName,
		SeatedAt:    now,
	}
	var left, released []uint64
	err := l.db.Tx(ctx, func(c *store.Conn) error {
		if err := c.InsertTable(ctx, &t); err != nil {
			return err
		}
		var err error
		if left, err = c.DeleteSeatsOf(ctx, seat.Occupant); err != nil {
			return err
		}
		for _, id := range left {
			ok, err := c.ReleaseIfNoHumans(ctx, id)
			if err != nil {
				return err
			}
			if ok {
				released = append(released, id)
			}
		}
		seat.TableID = t.ID
		return c.InsertSeat(ctx, seat)
	})
	if err != nil {
		return TableView{}, err
	}

	l.logger.Info("table_created", "table_id", t.ID, "room_id", t.RoomID, "mode", t.Mode, "length", t.Length, "creator", creator.AccountID)
	events := []notify.Event{{TableID: t.ID, Resource: notify.ResourceTable}, {TableID: t.ID, Resource: notify.ResourceSeats}}
	for _, id := range left {
		events = append(events, notify.Event{TableID: id, Resource: notify.ResourceSeats})
	}
	for _, id := range released {
		events = append(events, notify.Event{TableID: id, Resource: notify.ResourceTable})
	}
	notify.PublishAll(ctx, l.hub, l.logger, events...)
	return TableView{Table: t, Seats: []mahjong.Seat{seat}}, nil
}

// Get returns a table with its seats.
func (l *Lobby) Get(ctx context.Context, tableID uint64) (TableView, error) {
	ctx, cancel := l.db.WithTimeout(ctx)
	defer cancel()

	t, err := l.db.Table(ctx, tableID)
	if err != nil {
		return TableView{}, err
	}
	seats, err := l.db.Seats(ctx, tableID)
	if err != nil {
		return TableView{}, err
	}
	return TableView{Table: t, Seats: seats}, nil
}

// ListByRoom returns the tables of a room in creation order.
func (l *Lobby) ListByRoom(ctx context.Context, roomID string) ([]mahjong.Table, error) {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return nil, mahjong.NewValidationError("room_id", "must not be empty")
	}
	ctx, cancel := l.db.WithTimeout(ctx)
	defer cancel()
	return l.db.TablesByRoom(ctx, roomID)
}

// TeardownRoom deletes every table of an expired room with everything that
// hangs off it. Only admins may call it.
func (l *Lobby) TeardownRoom(ctx context.Context, roomID string, actor auth.Identity) ([]uint64, error) {
	if !actor.Admin {
		return nil, fmt.Errorf("teardown room %q: %w", roomID, mahjong.ErrPermissionDenied)
	}
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return nil, mahjong.NewValidationError("room_id", "must not be empty")
	}

	ctx, cancel := l.db.WithTimeout(ctx)
	defer cancel()

	var ids []uint64
	err := l.db.Tx(ctx, func(c *store.Conn) error {
		var err error
		ids, err = c.DeleteTablesByRoom(ctx, roomID)
		return err
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("room_torn_down", "room_id", roomID, "tables", len(ids), "by", actor.AccountID)
	events := make([]notify.Event, 0, len(ids))
	for _, id := range ids {
		events = append(events, notify.Event{TableID: id, Resource: notify.ResourceTable})
	}
	notify.PublishAll(ctx, l.hub, l.logger, events...)
	return ids, nil
}
