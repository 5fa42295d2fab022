package ws

import (
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/NainaKothari-14/drawtogether/backend/internal/canvas"
	"github.com/NainaKothari-14/drawtogether/backend/internal/collab"
)

const maxNameLen = 32

type Options struct {
	SendQueue    int
	ReadLimit    int64
	WriteTimeout time.Duration
	PongWait     time.Duration
	PingPeriod   time.Duration
	OpTimeout    time.Duration
	// origins accepted on upgrade, matched by OriginAllowed; "*" accepts any
	AllowedOrigins []string
	Logger         *slog.Logger
}

var defaultOrigins = []string{
	"http://localhost",
	"http://127.0.0.1",
	"https://localhost",
	"https://127.0.0.1",
}

func (o Options) withDefaults() Options {
	if o.SendQueue <= 0 {
		o.SendQueue = 256
	}
	if o.ReadLimit <= 0 {
		// room for a full-canvas PNG snapshot in base64
		o.ReadLimit = 16 << 20
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = o.PongWait * 9 / 10
	}
	if o.OpTimeout <= 0 {
		o.OpTimeout = 5 * time.Second
	}
	if len(o.AllowedOrigins) == 0 {
		o.AllowedOrigins = defaultOrigins
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Manager upgrades HTTP requests into participant connections.
type Manager struct {
	relay    *collab.Relay
	opt      Options
	log      *slog.Logger
	upgrader websocket.Upgrader
	active   atomic.Int64
}

func NewManager(relay *collab.Relay, opt Options) *Manager {
	opt = opt.withDefaults()
	m := &Manager{relay: relay, opt: opt, log: opt.Logger.With("component", "ws")}
	m.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     m.checkOrigin,
	}
	return m
}

func (m *Manager) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	// some clients send no Origin, or "null"
	if origin == "" || origin == "null" {
		return true
	}
	return OriginAllowed(origin, m.opt.AllowedOrigins)
}

// Active reports open connections.
func (m *Manager) Active() int64 { return m.active.Load() }

// WebSocketConnect serves GET /draw/ws?board=&name=. The handler blocks for
// the lifetime of the connection.
func (m *Manager) WebSocketConnect(c *gin.Context) {
	board := c.Query("board")
	if board != "" && !collab.ValidBoardKey(board) {
		c.JSON(http.StatusBadRequest, gin.H{"error": collab.ErrInvalidBoardKey.Error()})
		return
	}
	id := uuid.NewString()
	name := cleanName(c.Query("name"), "Guest-"+id[:4])

	conn, err := m.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		m.log.Warn("websocket upgrade failed", "origin", c.Request.Header.Get("Origin"), "err", err)
		return
	}
	m.active.Add(1)
	defer m.active.Add(-1)

	wsConn := newConn(conn, m.relay, id, name, m.opt, m.log)
	// start writing first so the welcome and board state flush immediately
	go wsConn.writeLoop()
	wsConn.enqueue(ServerMessage{Type: TypeWelcome, Identity: id, Name: name, Color: canvas.ColorFor(id)})
	m.log.Info("participant connected", "identity", id, "name", name, "remote", c.ClientIP())

	ctx := c.Request.Context()
	if board != "" {
		wsConn.handle(ctx, ClientMessage{Type: TypeJoin, BoardKey: board})
	}
	wsConn.readLoop(ctx)
	m.log.Info("participant disconnected", "identity", id, "name", name)
}

// cleanName trims and bounds a display name, falling back to def.
func cleanName(name, def string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return def
	}
	if utf8.RuneCountInString(name) > maxNameLen {
		name = string([]rune(name)[:maxNameLen])
	}
	return name
}
