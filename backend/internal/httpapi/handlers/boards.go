package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/NainaKothari-14/drawtogether/backend/internal/canvas"
	"github.com/NainaKothari-14/drawtogether/backend/internal/collab"
	"github.com/NainaKothari-14/drawtogether/backend/internal/raster"
)

const boardKeyLen = 7

// Boards serves the REST surface next to the websocket endpoint.
type Boards struct {
	registry  *collab.Registry
	relay     *collab.Relay
	width     int
	height    int
	tolerance int
	// extra health fields, e.g. open connections
	health func() gin.H
}

type BoardsOptions struct {
	Width, Height int
	// fill tolerance of the server-side render, as in fill.New
	Tolerance int
	Health    func() gin.H
}

func NewBoards(registry *collab.Registry, relay *collab.Relay, opt BoardsOptions) *Boards {
	return &Boards{
		registry:  registry,
		relay:     relay,
		width:     opt.Width,
		height:    opt.Height,
		tolerance: opt.Tolerance,
		health:    opt.Health,
	}
}

// Register mounts the board routes on g.
func (h *Boards) Register(g *gin.RouterGroup) {
	g.POST("/boards", h.CreateBoard)
	g.GET("/boards/:key", h.GetBoard)
	g.GET("/boards/:key/snapshot", h.GetSnapshot)
	g.GET("/boards/:key/image", h.GetImage)
	g.GET("/healthz", h.Healthz)
}

// NewBoardKey returns a short random key users can share.
func NewBoardKey() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:boardKeyLen]
}

func (h *Boards) CreateBoard(c *gin.Context) {
	key := NewBoardKey()
	for _, ok := h.registry.Peek(key); ok; _, ok = h.registry.Peek(key) {
		key = NewBoardKey()
	}
	b, err := h.registry.GetOrCreate(c.Request.Context(), key)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"boardKey": key, "createdAt": b.CreatedAt().Format(time.RFC3339)})
}

// lookup answers 400/404 itself and reports whether st is usable.
func (h *Boards) lookup(c *gin.Context) (collab.State, bool) {
	key := c.Param("key")
	if !collab.ValidBoardKey(key) {
		c.JSON(http.StatusBadRequest, gin.H{"error": collab.ErrInvalidBoardKey.Error()})
		return collab.State{}, false
	}
	st, ok := h.registry.Peek(key)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "BOARD_NOT_FOUND"})
		return collab.State{}, false
	}
	return st, true
}

func (h *Boards) GetBoard(c *gin.Context) {
	st, ok := h.lookup(c)
	if !ok {
		return
	}
	actions := st.Actions
	if actions == nil {
		actions = []canvas.Action{}
	}
	c.JSON(http.StatusOK, gin.H{
		"boardKey":     st.BoardKey,
		"seq":          st.Seq,
		"actions":      actions,
		"hasSnapshot":  !st.Snapshot.Empty(),
		"participants": h.relay.Members(st.BoardKey),
	})
}

// GetSnapshot returns the stored snapshot bytes as pushed by a participant.
func (h *Boards) GetSnapshot(c *gin.Context) {
	st, ok := h.lookup(c)
	if !ok {
		return
	}
	if st.Snapshot.Empty() {
		c.JSON(http.StatusNotFound, gin.H{"error": "NO_SNAPSHOT"})
		return
	}
	c.Header("X-Board-Seq", strconv.FormatUint(st.Snapshot.Seq, 10))
	c.Data(http.StatusOK, "image/png", st.Snapshot.Data)
}

// GetImage renders the current board: the snapshot with the log replayed on
// top.
func (h *Boards) GetImage(c *gin.Context) {
	st, ok := h.lookup(c)
	if !ok {
		return
	}
	cv := raster.New(h.width, h.height, h.tolerance)
	if err := cv.Rebuild(st.Snapshot, st.Actions); err != nil {
		c.Error(err)
	}
	data, err := cv.Encode()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Header("X-Board-Seq", strconv.FormatUint(st.Seq, 10))
	c.Data(http.StatusOK, "image/png", data)
}

func (h *Boards) Healthz(c *gin.Context) {
	body := gin.H{"message": "ok", "stats": h.relay.Stats()}
	if h.health != nil {
		for k, v := range h.health() {
			body[k] = v
		}
	}
	c.JSON(http.StatusOK, body)
}
