package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/protobuf/types/known/structpb"

	"jantaku-lite/apps/server/internal/auth"
	"jantaku-lite/apps/server/internal/codec"
	"jantaku-lite/apps/server/internal/logging"
	"jantaku-lite/apps/server/internal/notify"
	"jantaku-lite/apps/server/internal/seating"
	"jantaku-lite/apps/server/internal/store"
	"jantaku-lite/apps/server/internal/viewer"
	"jantaku-lite/mahjong"
)

type harness struct {
	db      *store.DB
	hub     *notify.MemoryHub
	auth    *auth.Manager
	seating *seating.Manager
	gw      *Gateway
	srv     *httptest.Server
	table   mahjong.Table
	token   string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	db, err := store.OpenSQLite(ctx, ":memory:", 2*time.Second)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	hub := notify.NewMemoryHub()
	logger := logging.Discard()
	authManager := auth.NewManager(auth.Options{})
	_, token, err := authManager.Register(ctx, "alice_01", "secret12")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	tbl := mahjong.Table{
		RoomID: "room", Name: "table", Mode: mahjong.ModeYonma, Length: mahjong.LengthHanchan,
		Uma: []int64{30, 10, -10, -30}, Status: mahjong.TableStatusWaiting, CreatedBy: 1, CreatedAt: time.Now(),
	}
	if err := db.InsertTable(ctx, &tbl); err != nil {
		t.Fatalf("insert table: %v", err)
	}

	refresher := viewer.NewRefresher(db, hub, viewer.Options{Logger: logger})
	gw := New(authManager, refresher, Options{Logger: logger})
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", gw.HandleWebSocket)
	srv := httptest.NewServer(mux)

	t.Cleanup(func() {
		gw.Close()
		srv.Close()
		_ = hub.Close()
		_ = db.Close()
	})
	return &harness{
		db:      db,
		hub:     hub,
		auth:    authManager,
		seating: seating.NewManager(db, hub, seating.Options{Logger: logger}),
		gw:      gw,
		srv:     srv,
		table:   tbl,
		token:   token,
	}
}

func (h *harness) url(query string) string {
	return "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws?" + query
}

func readFrame(t *testing.T, conn *websocket.Conn, format codec.Format) *structpb.Struct {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	env, err := codec.Unmarshal(data, format)
	if err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	return env
}

func seatCount(env *structpb.Struct) int {
	return len(env.GetFields()["payload"].GetStructValue().GetFields()["seats"].GetListValue().GetValues())
}

func TestStreamPushesViewAfterSeatChange(t *testing.T) {
	h := newHarness(t)
	conn, _, err := websocket.DefaultDialer.Dial(h.url("table="+itoa(h.table.ID)+"&token="+h.token), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	first := readFrame(t, conn, codec.FormatBinary)
	if codec.KindOf(first) != codec.KindView || seatCount(first) != 0 {
		t.Fatalf("unexpected first frame: %v", first)
	}

	member := mahjong.Member{ID: mahjong.UserOccupant(1), Name: "Alice"}
	if _, err := h.seating.Join(context.Background(), h.table.ID, member, mahjong.PositionEast); err != nil {
		t.Fatalf("join: %v", err)
	}
	second := readFrame(t, conn, codec.FormatBinary)
	if seatCount(second) != 1 {
		t.Fatalf("expected one seat after join, got %v", second)
	}
	if second.GetFields()["server_seq"].GetNumberValue() <= first.GetFields()["server_seq"].GetNumberValue() {
		t.Fatalf("server_seq must increase")
	}
}

func TestStreamSendsGoneWhenTableDeleted(t *testing.T) {
	h := newHarness(t)
	conn, _, err := websocket.DefaultDialer.Dial(h.url("table="+itoa(h.table.ID)+"&token="+h.token+"&format=json"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	readFrame(t, conn, codec.FormatJSON)

	ctx := context.Background()
	if _, err := h.db.DeleteTablesByRoom(ctx, h.table.RoomID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_ = h.hub.Publish(ctx, notify.Event{TableID: h.table.ID, Resource: notify.ResourceTable})

	if gone := readFrame(t, conn, codec.FormatJSON); codec.KindOf(gone) != codec.KindGone {
		t.Fatalf("expected gone frame, got %v", gone)
	}
}

func TestHandshakeRejections(t *testing.T) {
	h := newHarness(t)
	cases := []struct {
		name   string
		query  string
		status int
	}{
		{"no token", "table=" + itoa(h.table.ID), http.StatusUnauthorized},
		{"bad token", "table=" + itoa(h.table.ID) + "&token=nope", http.StatusUnauthorized},
		{"bad table", "table=abc&token=" + h.token, http.StatusUnprocessableEntity},
		{"unknown table", "table=999&token=" + h.token, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, resp, err := websocket.DefaultDialer.Dial(h.url(tc.query), nil)
			if err == nil {
				t.Fatalf("expected handshake failure")
			}
			if resp == nil || resp.StatusCode != tc.status {
				t.Fatalf("expected status %d, got %+v", tc.status, resp)
			}
		})
	}
	if h.gw.Count() != 0 {
		t.Fatalf("rejected handshakes must not register connections")
	}
}

func itoa(v uint64) string {
	return strconv.FormatUint(v, 10)
}
