package seating

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"jantaku-lite/apps/server/internal/auth"
	"jantaku-lite/apps/server/internal/logging"
	"jantaku-lite/apps/server/internal/notify"
	"jantaku-lite/apps/server/internal/store"
	"jantaku-lite/mahjong"
)

type fixture struct {
	db  *store.DB
	hub *notify.MemoryHub
	m   *Manager
}

func newFixture(t *testing.T, minOccupants int) *fixture {
	t.Helper()
	db, err := store.OpenSQLite(context.Background(), ":memory:", 2*time.Second)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	hub := notify.NewMemoryHub()
	t.Cleanup(func() {
		_ = hub.Close()
		_ = db.Close()
	})
	m := NewManager(db, hub, Options{MinOccupants: minOccupants, Logger: logging.Discard()})
	return &fixture{db: db, hub: hub, m: m}
}

func (f *fixture) table(t *testing.T, mode mahjong.Mode, creator uint64) mahjong.Table {
	t.Helper()
	uma := []int64{30, 10, -10, -30}
	if mode == mahjong.ModeSanma {
		uma = []int64{20, 0, -20}
	}
	tbl := mahjong.Table{
		RoomID:    "room",
		Name:      "table",
		Mode:      mode,
		Length:    mahjong.LengthHanchan,
		Uma:       uma,
		Status:    mahjong.TableStatusWaiting,
		CreatedBy: creator,
		CreatedAt: time.Now(),
	}
	if err := f.db.InsertTable(context.Background(), &tbl); err != nil {
		t.Fatalf("insert table: %v", err)
	}
	return tbl
}

func user(id uint64) mahjong.Member {
	return mahjong.Member{ID: mahjong.UserOccupant(id), Name: "player"}
}

func identity(id uint64) auth.Identity {
	return auth.Identity{AccountID: id, DisplayName: "player"}
}

func TestConcurrentJoinsOneSeatOneWinner(t *testing.T) {
	f := newFixture(t, 0)
	tbl := f.table(t, mahjong.ModeYonma, 1)
	ctx := context.Background()

	const racers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(id uint64) {
			defer wg.Done()
			_, err := f.m.Join(ctx, tbl.ID, user(id), mahjong.PositionSouth)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, mahjong.ErrSeatConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(uint64(i + 1))
	}
	wg.Wait()

	if wins != 1 || conflicts != racers-1 {
		t.Fatalf("expected 1 win and %d conflicts, got %d and %d", racers-1, wins, conflicts)
	}
	seats, err := f.m.Seats(ctx, tbl.ID)
	if err != nil || len(seats) != 1 {
		t.Fatalf("expected one seat, got %v (%v)", seats, err)
	}
}

func TestSanmaHasNoNorthSeat(t *testing.T) {
	f := newFixture(t, 0)
	tbl := f.table(t, mahjong.ModeSanma, 1)
	ctx := context.Background()

	for i, pos := range mahjong.ModeSanma.Positions() {
		if _, err := f.m.Join(ctx, tbl.ID, user(uint64(i+1)), pos); err != nil {
			t.Fatalf("join %s: %v", pos, err)
		}
	}
	if _, err := f.m.Join(ctx, tbl.ID, user(4), mahjong.PositionNorth); !errors.Is(err, mahjong.ErrValidation) {
		t.Fatalf("north must be rejected for sanma, got %v", err)
	}
	if _, err := f.m.Join(ctx, tbl.ID, user(4), mahjong.PositionWest); !errors.Is(err, mahjong.ErrSeatConflict) {
		t.Fatalf("expected conflict on a full sanma table, got %v", err)
	}
}

func TestJoinReleasesSeatAtOtherTable(t *testing.T) {
	f := newFixture(t, 0)
	a := f.table(t, mahjong.ModeYonma, 1)
	b := f.table(t, mahjong.ModeYonma, 1)
	ctx := context.Background()

	if _, err := f.m.Join(ctx, a.ID, user(1), mahjong.PositionEast); err != nil {
		t.Fatalf("join a: %v", err)
	}
	if _, err := f.m.Join(ctx, b.ID, user(1), mahjong.PositionWest); err != nil {
		t.Fatalf("join b: %v", err)
	}
	if seats, _ := f.m.Seats(ctx, a.ID); len(seats) != 0 {
		t.Fatalf("occupant must sit at one table only: %+v", seats)
	}
}

func TestFailedMoveKeepsOldSeat(t *testing.T) {
	f := newFixture(t, 0)
	tbl := f.table(t, mahjong.ModeYonma, 1)
	ctx := context.Background()

	if _, err := f.m.Join(ctx, tbl.ID, user(1), mahjong.PositionEast); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := f.m.Join(ctx, tbl.ID, user(2), mahjong.PositionSouth); err != nil {
		t.Fatalf("join: %v", err)
	}

	if _, err := f.m.Move(ctx, tbl.ID, mahjong.UserOccupant(1), mahjong.PositionSouth); !errors.Is(err, mahjong.ErrSeatConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	seat, found, err := f.db.SeatOf(ctx, mahjong.UserOccupant(1))
	if err != nil || !found || seat.Position != mahjong.PositionEast {
		t.Fatalf("mover should still be at east: %+v %v %v", seat, found, err)
	}

	moved, err := f.m.Move(ctx, tbl.ID, mahjong.UserOccupant(1), mahjong.PositionNorth)
	if err != nil || moved.Position != mahjong.PositionNorth {
		t.Fatalf("move to free seat failed: %+v %v", moved, err)
	}
	if _, err := f.m.Move(ctx, tbl.ID, mahjong.UserOccupant(3), mahjong.PositionWest); !errors.Is(err, mahjong.ErrNotFound) {
		t.Fatalf("moving an unseated occupant should be not found, got %v", err)
	}
}

func TestLeaveIsIdempotentAndPublishes(t *testing.T) {
	f := newFixture(t, 0)
	tbl := f.table(t, mahjong.ModeYonma, 1)
	ctx := context.Background()

	if _, err := f.m.Join(ctx, tbl.ID, user(1), mahjong.PositionEast); err != nil {
		t.Fatalf("join: %v", err)
	}
	sub, err := f.hub.Subscribe(ctx, tbl.ID)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	if err := f.m.Leave(ctx, tbl.ID, mahjong.UserOccupant(1)); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if err := f.m.Leave(ctx, tbl.ID, mahjong.UserOccupant(1)); err != nil {
		t.Fatalf("second leave should be a no-op, got %v", err)
	}
	select {
	case ev := <-sub.Events():
		if ev.Resource != notify.ResourceSeats {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected a seats event")
	}
	select {
	case ev := <-sub.Events():
		t.Fatalf("no-op leave must not publish, got %+v", ev)
	default:
	}
}

func TestForceLeavePermissions(t *testing.T) {
	f := newFixture(t, 0)
	tbl := f.table(t, mahjong.ModeYonma, 1)
	ctx := context.Background()

	if _, err := f.m.Join(ctx, tbl.ID, user(2), mahjong.PositionSouth); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := f.m.ForceLeave(ctx, tbl.ID, mahjong.UserOccupant(2), identity(3)); !errors.Is(err, mahjong.ErrPermissionDenied) {
		t.Fatalf("stranger should be denied, got %v", err)
	}
	if err := f.m.ForceLeave(ctx, tbl.ID, mahjong.UserOccupant(2), identity(1)); err != nil {
		t.Fatalf("creator should be allowed: %v", err)
	}

	if _, err := f.m.Join(ctx, tbl.ID, user(2), mahjong.PositionSouth); err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	admin := auth.Identity{AccountID: 9, Admin: true}
	if err := f.m.ForceLeave(ctx, tbl.ID, mahjong.UserOccupant(2), admin); err != nil {
		t.Fatalf("admin should be allowed: %v", err)
	}
}

func TestFillWithPlaceholders(t *testing.T) {
	f := newFixture(t, 0)
	tbl := f.table(t, mahjong.ModeYonma, 1)
	ctx := context.Background()

	if _, err := f.m.Join(ctx, tbl.ID, user(1), mahjong.PositionSouth); err != nil {
		t.Fatalf("join: %v", err)
	}
	created, err := f.m.FillWithPlaceholders(ctx, tbl.ID, 2)
	if err != nil {
		t.Fatalf("fill: %v", err)
	}
	if len(created) != 2 || created[0].Position != mahjong.PositionEast || created[1].Position != mahjong.PositionWest {
		t.Fatalf("bots must fill empty seats in position order: %+v", created)
	}
	for _, s := range created {
		if !s.Occupant.IsBot() || s.DisplayName != mahjong.BotName(s.Position) {
			t.Fatalf("unexpected bot seat: %+v", s)
		}
	}

	rest, err := f.m.FillWithPlaceholders(ctx, tbl.ID, 4)
	if err != nil || len(rest) != 1 || rest[0].Position != mahjong.PositionNorth {
		t.Fatalf("expected north bot, got %+v (%v)", rest, err)
	}
	none, err := f.m.FillWithPlaceholders(ctx, tbl.ID, 4)
	if err != nil || len(none) != 0 {
		t.Fatalf("full table should be a no-op, got %+v (%v)", none, err)
	}
}

func TestStartAndReleaseWhenHumansLeave(t *testing.T) {
	f := newFixture(t, 2)
	tbl := f.table(t, mahjong.ModeYonma, 1)
	ctx := context.Background()

	if _, err := f.m.Join(ctx, tbl.ID, user(1), mahjong.PositionEast); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := f.m.Start(ctx, tbl.ID, identity(2)); !errors.Is(err, mahjong.ErrPermissionDenied) {
		t.Fatalf("unseated actor should be denied, got %v", err)
	}
	if _, err := f.m.Start(ctx, tbl.ID, identity(1)); !errors.Is(err, mahjong.ErrValidation) {
		t.Fatalf("below threshold should fail validation, got %v", err)
	}
	if _, err := f.m.FillWithPlaceholders(ctx, tbl.ID, 1); err != nil {
		t.Fatalf("fill: %v", err)
	}
	started, err := f.m.Start(ctx, tbl.ID, identity(1))
	if err != nil || started.Status != mahjong.TableStatusPlaying {
		t.Fatalf("start failed: %+v %v", started, err)
	}

	if err := f.m.Leave(ctx, tbl.ID, mahjong.UserOccupant(1)); err != nil {
		t.Fatalf("leave: %v", err)
	}
	got, err := f.db.Table(ctx, tbl.ID)
	if err != nil {
		t.Fatalf("load table: %v", err)
	}
	if got.Status != mahjong.TableStatusWaiting {
		t.Fatalf("table with only bots should return to waiting, got %s", got.Status)
	}
}

func TestStartDefaultsToFullTable(t *testing.T) {
	f := newFixture(t, 0)
	tbl := f.table(t, mahjong.ModeSanma, 1)
	ctx := context.Background()

	if _, err := f.m.Join(ctx, tbl.ID, user(1), mahjong.PositionEast); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := f.m.FillWithPlaceholders(ctx, tbl.ID, 1); err != nil {
		t.Fatalf("fill: %v", err)
	}
	if _, err := f.m.Start(ctx, tbl.ID, identity(1)); !errors.Is(err, mahjong.ErrValidation) {
		t.Fatalf("2 of 3 seats should not start, got %v", err)
	}
	if _, err := f.m.FillWithPlaceholders(ctx, tbl.ID, 1); err != nil {
		t.Fatalf("fill: %v", err)
	}
	if _, err := f.m.Start(ctx, tbl.ID, identity(1)); err != nil {
		t.Fatalf("full sanma table should start: %v", err)
	}
}
