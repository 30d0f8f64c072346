package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"jantaku-lite/mahjong"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenSQLite(context.Background(), ":memory:", time.Second)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func insertTable(t *testing.T, db *DB, room string, mode mahjong.Mode) mahjong.Table {
	t.Helper()
	uma := []int64{30, 10, -10, -30}
	if mode == mahjong.ModeSanma {
		uma = []int64{20, 0, -20}
	}
	tbl := mahjong.Table{
		RoomID:    room,
		Name:      "table",
		Mode:      mode,
		Length:    mahjong.LengthHanchan,
		Uma:       uma,
		Status:    mahjong.TableStatusWaiting,
		CreatedBy: 1,
		CreatedAt: time.Now(),
	}
	if err := db.InsertTable(context.Background(), &tbl); err != nil {
		t.Fatalf("insert table: %v", err)
	}
	return tbl
}

func seat(tableID uint64, pos mahjong.Position, occ mahjong.OccupantID) mahjong.Seat {
	return mahjong.Seat{TableID: tableID, Position: pos, Occupant: occ, DisplayName: string(occ), SeatedAt: time.Now()}
}

func TestRebindPostgres(t *testing.T) {
	c := &Conn{dialect: DialectPostgres}
	got := c.rebind(`SELECT a FROM b WHERE x = ? AND y = ?`)
	if got != `SELECT a FROM b WHERE x = $1 AND y = $2` {
		t.Fatalf("unexpected rebind: %s", got)
	}
	sqlite := &Conn{dialect: DialectSQLite}
	if q := sqlite.rebind(`x = ?`); q != `x = ?` {
		t.Fatalf("sqlite query must not change: %s", q)
	}
}

func TestTableRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	tbl := insertTable(t, db, "room-a", mahjong.ModeYonma)

	got, err := db.Table(ctx, tbl.ID)
	if err != nil {
		t.Fatalf("load table: %v", err)
	}
	if got.Name != "table" || len(got.Uma) != 4 || got.Uma[0] != 30 || got.Status != mahjong.TableStatusWaiting {
		t.Fatalf("unexpected table: %+v", got)
	}
	if _, err := db.Table(ctx, tbl.ID+100); !errors.Is(err, mahjong.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := db.SetTableStatus(ctx, tbl.ID, mahjong.TableStatusPlaying); err != nil {
		t.Fatalf("set status: %v", err)
	}
	if got, _ := db.Table(ctx, tbl.ID); got.Status != mahjong.TableStatusPlaying {
		t.Fatalf("status not updated: %s", got.Status)
	}
}

func TestSeatUniqueness(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	a := insertTable(t, db, "room-a", mahjong.ModeYonma)
	b := insertTable(t, db, "room-a", mahjong.ModeYonma)

	if err := db.InsertSeat(ctx, seat(a.ID, mahjong.PositionEast, "user:1")); err != nil {
		t.Fatalf("first seat: %v", err)
	}
	if err := db.InsertSeat(ctx, seat(a.ID, mahjong.PositionEast, "user:2")); !errors.Is(err, mahjong.ErrSeatConflict) {
		t.Fatalf("same position should conflict, got %v", err)
	}
	if err := db.InsertSeat(ctx, seat(a.ID, mahjong.PositionSouth, "user:1")); !errors.Is(err, mahjong.ErrSeatConflict) {
		t.Fatalf("same occupant at same table should conflict, got %v", err)
	}
	if err := db.InsertSeat(ctx, seat(b.ID, mahjong.PositionEast, "user:1")); !errors.Is(err, mahjong.ErrSeatConflict) {
		t.Fatalf("same occupant at another table should conflict, got %v", err)
	}

	if err := db.InsertSeat(ctx, seat(a.ID, mahjong.PositionNorth, "user:3")); err != nil {
		t.Fatalf("north seat: %v", err)
	}
	seats, err := db.Seats(ctx, a.ID)
	if err != nil {
		t.Fatalf("seats: %v", err)
	}
	if len(seats) != 2 || seats[0].Position != mahjong.PositionEast || seats[1].Position != mahjong.PositionNorth {
		t.Fatalf("seats not in position order: %+v", seats)
	}

	tables, err := db.DeleteSeatsOf(ctx, "user:1")
	if err != nil || len(tables) != 1 || tables[0] != a.ID {
		t.Fatalf("delete seats of: %v %v", tables, err)
	}
	if _, ok, _ := db.SeatOf(ctx, "user:1"); ok {
		t.Fatalf("user:1 should be unseated")
	}
	removed, err := db.DeleteSeat(ctx, a.ID, "user:1")
	if err != nil || removed {
		t.Fatalf("deleting an absent seat should be a no-op: %v %v", removed, err)
	}
}

func TestTxRollsBackOnError(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	a := insertTable(t, db, "room-a", mahjong.ModeYonma)
	if err := db.InsertSeat(ctx, seat(a.ID, mahjong.PositionEast, "user:1")); err != nil {
		t.Fatalf("seat: %v", err)
	}
	if err := db.InsertSeat(ctx, seat(a.ID, mahjong.PositionSouth, "user:2")); err != nil {
		t.Fatalf("seat: %v", err)
	}

	err := db.Tx(ctx, func(c *Conn) error {
		if _, err := c.DeleteSeatsOf(ctx, "user:1"); err != nil {
			return err
		}
		return c.InsertSeat(ctx, seat(a.ID, mahjong.PositionSouth, "user:1"))
	})
	if !errors.Is(err, mahjong.ErrSeatConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	s, ok, err := db.SeatOf(ctx, "user:1")
	if err != nil || !ok || s.Position != mahjong.PositionEast {
		t.Fatalf("old seat should survive the failed swap: %+v %v %v", s, ok, err)
	}
}

func TestRoundsAndStats(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	tbl := insertTable(t, db, "room-a", mahjong.ModeSanma)

	if n, err := db.MaxRoundNumber(ctx, tbl.ID); err != nil || n != 0 {
		t.Fatalf("empty max: %d %v", n, err)
	}
	r1 := mahjong.Round{TableID: tbl.ID, Number: 1, Status: mahjong.RoundStatusOpen, CreatedAt: time.Now()}
	if err := db.InsertRound(ctx, &r1); err != nil {
		t.Fatalf("insert round: %v", err)
	}
	dup := mahjong.Round{TableID: tbl.ID, Number: 1, Status: mahjong.RoundStatusOpen, CreatedAt: time.Now()}
	if err := db.InsertRound(ctx, &dup); !errors.Is(err, mahjong.ErrDuplicateRound) {
		t.Fatalf("expected duplicate round, got %v", err)
	}

	stat := mahjong.RoundStat{RoundID: r1.ID, Occupant: "user:1", Mode: tbl.Mode, Length: tbl.Length, UpdatedAt: time.Now()}
	if err := db.InsertRoundStat(ctx, &stat); err != nil {
		t.Fatalf("insert stat: %v", err)
	}
	if pending, _ := db.PendingStats(ctx, r1.ID); pending != 1 {
		t.Fatalf("expected one pending row, got %d", pending)
	}

	stat.Rank, stat.Score, stat.Submitted = 1, 15000, true
	stat.HandsPlayed = 9
	if err := db.UpdateRoundStat(ctx, stat); err != nil {
		t.Fatalf("update stat: %v", err)
	}
	got, err := db.RoundStat(ctx, stat.ID)
	if err != nil || got.Score != 15000 || !got.Submitted || got.HandsPlayed != 9 {
		t.Fatalf("stat not updated: %+v %v", got, err)
	}
	if pending, _ := db.PendingStats(ctx, r1.ID); pending != 0 {
		t.Fatalf("expected no pending rows, got %d", pending)
	}
	if _, err := db.RoundStat(ctx, 999); !errors.Is(err, mahjong.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	r2 := mahjong.Round{TableID: tbl.ID, Number: 2, Status: mahjong.RoundStatusOpen, CreatedAt: time.Now()}
	if err := db.InsertRound(ctx, &r2); err != nil {
		t.Fatalf("insert round 2: %v", err)
	}
	rounds, err := db.Rounds(ctx, tbl.ID)
	if err != nil {
		t.Fatalf("rounds: %v", err)
	}
	if len(rounds) != 2 || rounds[0].Number != 1 || len(rounds[0].Stats) != 1 || len(rounds[1].Stats) != 0 {
		t.Fatalf("unexpected rounds: %+v", rounds)
	}

	history, err := db.History(ctx, "user:1")
	if err != nil || len(history) != 1 || history[0].Mode != mahjong.ModeSanma {
		t.Fatalf("history: %+v %v", history, err)
	}
}

func TestBonusLastWriteWinsAndVersioning(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	tbl := insertTable(t, db, "room-a", mahjong.ModeYonma)

	first, err := db.UpsertBonus(ctx, mahjong.BonusOverride{TableID: tbl.ID, Occupant: "user:1", Amount: 2000, UpdatedAt: time.Now()})
	if err != nil || first.Version != 1 {
		t.Fatalf("first upsert: %+v %v", first, err)
	}
	second, err := db.UpsertBonus(ctx, mahjong.BonusOverride{TableID: tbl.ID, Occupant: "user:1", Amount: -500, UpdatedAt: time.Now()})
	if err != nil || second.Version != 2 {
		t.Fatalf("second upsert: %+v %v", second, err)
	}
	bonuses, err := db.Bonuses(ctx, tbl.ID)
	if err != nil || len(bonuses) != 1 || bonuses[0].Amount != -500 {
		t.Fatalf("last write should win: %+v %v", bonuses, err)
	}

	if _, err := db.UpdateBonusIfVersion(ctx, mahjong.BonusOverride{TableID: tbl.ID, Occupant: "user:1", Amount: 1}, 1); !errors.Is(err, mahjong.ErrStaleBonus) {
		t.Fatalf("expected stale bonus, got %v", err)
	}
	third, err := db.UpdateBonusIfVersion(ctx, mahjong.BonusOverride{TableID: tbl.ID, Occupant: "user:1", Amount: 1}, 2)
	if err != nil || third.Version != 3 {
		t.Fatalf("versioned write: %+v %v", third, err)
	}
	if _, err := db.UpdateBonusIfVersion(ctx, mahjong.BonusOverride{TableID: tbl.ID, Occupant: "user:1", Amount: 5}, 0); !errors.Is(err, mahjong.ErrStaleBonus) {
		t.Fatalf("create-only write over an existing row should be stale, got %v", err)
	}
	if _, err := db.UpdateBonusIfVersion(ctx, mahjong.BonusOverride{TableID: tbl.ID, Occupant: "user:2", Amount: 5}, 0); err != nil {
		t.Fatalf("create-only write: %v", err)
	}
}

func TestDeleteTablesByRoomCascades(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	a := insertTable(t, db, "room-a", mahjong.ModeYonma)
	other := insertTable(t, db, "room-b", mahjong.ModeYonma)
	if err := db.InsertSeat(ctx, seat(a.ID, mahjong.PositionEast, "user:1")); err != nil {
		t.Fatalf("seat: %v", err)
	}
	r := mahjong.Round{TableID: a.ID, Number: 1, Status: mahjong.RoundStatusOpen, CreatedAt: time.Now()}
	if err := db.InsertRound(ctx, &r); err != nil {
		t.Fatalf("round: %v", err)
	}

	ids, err := db.DeleteTablesByRoom(ctx, "room-a")
	if err != nil || len(ids) != 1 || ids[0] != a.ID {
		t.Fatalf("delete: %v %v", ids, err)
	}
	if _, ok, _ := db.SeatOf(ctx, "user:1"); ok {
		t.Fatalf("seat should be removed with its table")
	}
	if rounds, _ := db.Rounds(ctx, a.ID); len(rounds) != 0 {
		t.Fatalf("rounds should be removed with their table")
	}
	if _, err := db.Table(ctx, other.ID); err != nil {
		t.Fatalf("other room must survive: %v", err)
	}
}

func TestReleaseIfNoHumans(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	tbl := insertTable(t, db, "room-r", mahjong.ModeSanma)
	if err := db.SetTableStatus(ctx, tbl.ID, mahjong.TableStatusPlaying); err != nil {
		t.Fatalf("set status: %v", err)
	}
	if err := db.InsertSeat(ctx, seat(tbl.ID, mahjong.PositionEast, mahjong.UserOccupant(1))); err != nil {
		t.Fatalf("insert user seat: %v", err)
	}
	if err := db.InsertSeat(ctx, seat(tbl.ID, mahjong.PositionSouth, mahjong.BotOccupant(99))); err != nil {
		t.Fatalf("insert bot seat: %v", err)
	}

	if ok, err := db.ReleaseIfNoHumans(ctx, tbl.ID); err != nil || ok {
		t.Fatalf("table with a human must stay playing: %v %v", ok, err)
	}
	if _, err := db.DeleteSeat(ctx, tbl.ID, mahjong.UserOccupant(1)); err != nil {
		t.Fatalf("delete seat: %v", err)
	}
	if ok, err := db.ReleaseIfNoHumans(ctx, tbl.ID); err != nil || !ok {
		t.Fatalf("bot-only table should be released: %v %v", ok, err)
	}
	got, err := db.Table(ctx, tbl.ID)
	if err != nil {
		t.Fatalf("load table: %v", err)
	}
	if got.Status != mahjong.TableStatusWaiting {
		t.Fatalf("expected waiting, got %s", got.Status)
	}
}
