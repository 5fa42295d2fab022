package ws

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/NainaKothari-14/drawtogether/backend/internal/canvas"
	"github.com/NainaKothari-14/drawtogether/backend/internal/collab"
)

// Conn is one websocket participant. The read loop owns the board the
// connection is joined to; the write loop owns the socket writes. Deliver
// only enqueues, so the relay never waits on the network.
type Conn struct {
	ws    *websocket.Conn
	relay *collab.Relay
	id    string
	opt   Options
	log   *slog.Logger

	nameMu sync.RWMutex
	name   string

	// read loop only
	board string

	send      chan ServerMessage
	done      chan struct{}
	closeOnce sync.Once
}

func newConn(ws *websocket.Conn, relay *collab.Relay, id, name string, opt Options, logger *slog.Logger) *Conn {
	return &Conn{
		ws:    ws,
		relay: relay,
		id:    id,
		name:  name,
		opt:   opt,
		log:   logger.With("identity", id),
		send:  make(chan ServerMessage, opt.SendQueue),
		done:  make(chan struct{}),
	}
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) Name() string {
	c.nameMu.RLock()
	defer c.nameMu.RUnlock()
	return c.name
}

func (c *Conn) setName(name string) {
	c.nameMu.Lock()
	c.name = name
	c.nameMu.Unlock()
}

func (c *Conn) Deliver(e collab.Event) bool {
	return c.enqueue(FromEvent(e))
}

// enqueue reports false when the connection is closed or its queue is full.
func (c *Conn) enqueue(msg ServerMessage) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Close stops the write loop, which closes the socket. Safe to call from
// any goroutine, any number of times.
func (c *Conn) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Conn) sendError(boardKey string, err error) {
	c.enqueue(errorMessage(boardKey, err))
}

func (c *Conn) readLoop(ctx context.Context) {
	defer func() {
		c.relay.Disconnect(c.id)
		c.Close()
	}()

	c.ws.SetReadLimit(c.opt.ReadLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.opt.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.opt.PongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Info("read failed", "board", c.board, "err", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.opt.PongWait))

		msg, err := DecodeClientMessage(data)
		if err != nil {
			c.sendError(c.board, err)
			continue
		}
		c.handle(ctx, msg)
	}
}

func (c *Conn) boardFor(msg ClientMessage) (string, error) {
	if msg.BoardKey != "" {
		return msg.BoardKey, nil
	}
	if c.board == "" {
		return "", collab.ErrNotJoined
	}
	return c.board, nil
}

func (c *Conn) handle(ctx context.Context, msg ClientMessage) {
	if msg.Type == TypeHeartbeat {
		c.relay.Heartbeat(c.id)
		c.enqueue(ServerMessage{Type: TypeFeedback, BoardKey: c.board, Content: "heartbeat received"})
		return
	}

	key, err := c.boardFor(msg)
	if err != nil {
		c.sendError(msg.BoardKey, err)
		return
	}
	opCtx, cancel := context.WithTimeout(ctx, c.opt.OpTimeout)
	defer cancel()

	switch msg.Type {
	case TypeJoin:
		if msg.Name != "" && key != c.board {
			c.setName(cleanName(msg.Name, c.Name()))
		}
		_, err = c.relay.Join(opCtx, key, c)

	case TypeCursor:
		err = c.relay.UpdateCursor(opCtx, key, c, msg.X, msg.Y)

	case TypeOperation:
		var p canvas.Payload
		if p, err = msg.DrawPayload(); err == nil {
			_, err = c.relay.Publish(opCtx, key, c, p)
		}

	case TypeClear:
		_, err = c.relay.ClearCanvas(opCtx, key, c)

	case TypeSnapshot:
		if msg.Snapshot.Empty() {
			err = errors.Join(ErrProtocol, errors.New("missing snapshot"))
			break
		}
		err = c.relay.PushSnapshot(opCtx, key, c, msg.Snapshot)

	case TypeLeave:
		c.relay.Leave(key, c.id)
		if key == c.board {
			c.board = ""
		}
		return

	default:
		c.sendError(key, errors.Join(ErrProtocol, errors.New("unknown message type "+msg.Type)))
		return
	}

	if err != nil {
		if errors.Is(err, collab.ErrEvicted) {
			return
		}
		c.log.Debug("message rejected", "type", msg.Type, "board", key, "err", err)
		c.sendError(key, err)
		return
	}
	// every handled message leaves the connection joined to key
	c.board = key
}

func (c *Conn) writeLoop() {
	ticker := time.NewTicker(c.opt.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.opt.WriteTimeout))
			if err := c.ws.WriteJSON(msg); err != nil {
				c.log.Info("write failed", "err", err)
				c.Close()
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opt.WriteTimeout)); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.opt.WriteTimeout))
			return
		}
	}
}
