// Package gateway streams table views to WebSocket clients. Each
// connection owns one viewer session; the stream is read-only.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/protobuf/types/known/structpb"

	"jantaku-lite/apps/server/internal/auth"
	"jantaku-lite/apps/server/internal/codec"
	"jantaku-lite/apps/server/internal/httpx"
	"jantaku-lite/apps/server/internal/viewer"
	"jantaku-lite/mahjong"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	readLimit  = 4096
	sendBuffer = 16
)

type Options struct {
	// AllowedOrigins empty accepts any origin.
	AllowedOrigins []string
	Logger         *slog.Logger
}

// Connection is one WebSocket client watching one table.
type Connection struct {
	ID       uint64
	Identity auth.Identity
	TableID  uint64

	conn    *websocket.Conn
	session *viewer.Session
	format  codec.Format
	send    chan []byte
	done    chan struct{}
	once    sync.Once
	seq     atomic.Uint64
	gateway *Gateway
}

type Gateway struct {
	auth      auth.Service
	refresher *viewer.Refresher
	logger    *slog.Logger
	upgrader  websocket.Upgrader

	mu          sync.RWMutex
	connections map[uint64]*Connection
	nextConnID  atomic.Uint64
}

func New(authService auth.Service, refresher *viewer.Refresher, opts Options) *Gateway {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gateway{
		auth:        authService,
		refresher:   refresher,
		logger:      logger,
		connections: make(map[uint64]*Connection),
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}
	return g
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		return set[r.Header.Get("Origin")]
	}
}

// HandleWebSocket serves GET /ws?table=<id>&token=<session>[&format=json].
// Browsers cannot set headers on a WebSocket handshake, so the token may
// come from the query string.
func (g *Gateway) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = httpx.BearerToken(r.Header.Get("Authorization"))
	}
	id, ok := g.auth.ResolveSession(r.Context(), token)
	if token == "" || !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "invalid session token")
		return
	}
	tableID, err := strconv.ParseUint(r.URL.Query().Get("table"), 10, 64)
	if err != nil || tableID == 0 {
		httpx.WriteDomainError(w, g.logger, mahjong.NewValidationError("table", "must be a positive id"))
		return
	}

	// the session outlives the handshake request
	session, err := g.refresher.Open(context.WithoutCancel(r.Context()), tableID)
	if err != nil {
		httpx.WriteDomainError(w, g.logger, err)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		session.Close()
		g.logger.Warn("ws_upgrade_failed", "err", err)
		return
	}

	c := &Connection{
		ID:       g.nextConnID.Add(1),
		Identity: id,
		TableID:  tableID,
		conn:     conn,
		session:  session,
		format:   codec.ParseFormat(r.URL.Query().Get("format")),
		send:     make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
		gateway:  g,
	}
	g.mu.Lock()
	g.connections[c.ID] = c
	total := len(g.connections)
	g.mu.Unlock()

	g.logger.Info("ws_connected", "conn_id", c.ID, "user_id", id.AccountID, "table_id", tableID, "total", total)

	go c.readPump()
	go c.writePump()
	go c.forward()
}

// Count returns the number of open connections.
func (g *Gateway) Count() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.connections)
}

// Close drops every connection.
func (g *Gateway) Close() {
	g.mu.RLock()
	conns := make([]*Connection, 0, len(g.connections))
	for _, c := range g.connections {
		conns = append(conns, c)
	}
	g.mu.RUnlock()
	for _, c := range conns {
		c.close()
	}
}

func (g *Gateway) removeConnection(c *Connection) {
	g.mu.Lock()
	delete(g.connections, c.ID)
	total := len(g.connections)
	g.mu.Unlock()
	g.logger.Info("ws_disconnected", "conn_id", c.ID, "table_id", c.TableID, "total", total)
}

func (c *Connection) close() {
	c.once.Do(func() {
		close(c.done)
		c.session.Close()
		c.gateway.removeConnection(c)
	})
}

// readPump only services control frames; the stream ignores client data.
func (c *Connection) readPump() {
	defer c.close()

	c.conn.SetReadLimit(readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.gateway.logger.Debug("ws_read_failed", "conn_id", c.ID, "err", err)
			}
			return
		}
	}
}

// forward encodes each view the session produces.
func (c *Connection) forward() {
	for v := range c.session.Updates() {
		env, err := codec.ViewFrame(v, c.seq.Add(1))
		if err != nil {
			c.gateway.logger.Error("ws_encode_failed", "conn_id", c.ID, "err", err)
			continue
		}
		if !c.enqueue(env) {
			return
		}
	}
	if errors.Is(c.session.Err(), mahjong.ErrNotFound) {
		if env, err := codec.GoneFrame(c.TableID, c.seq.Add(1)); err == nil {
			c.enqueue(env)
		}
	}
	c.close()
}

func (c *Connection) enqueue(env *structpb.Struct) bool {
	data, err := codec.Marshal(env, c.format)
	if err != nil {
		c.gateway.logger.Error("ws_encode_failed", "conn_id", c.ID, "err", err)
		return true
	}
	select {
	case c.send <- data:
		return true
	case <-c.done:
		return false
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	messageType := websocket.BinaryMessage
	if c.format == codec.FormatJSON {
		messageType = websocket.TextMessage
	}
	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(messageType, message); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			// what forward queued before closing still goes out, the gone frame included
			if !c.flush(messageType) {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *Connection) flush(messageType int) bool {
	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(messageType, message); err != nil {
				return false
			}
		default:
			return true
		}
	}
}
