package participant

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/NainaKothari-14/drawtogether/backend/internal/ws"
)

const defaultWriteTimeout = 10 * time.Second

// Client is a websocket connection to a draw server. It implements Outbox.
type Client struct {
	conn   *websocket.Conn
	closed atomic.Bool

	wmu sync.Mutex
}

// Dial connects to server, e.g. "http://localhost:8080", as name.
func Dial(ctx context.Context, server, name string) (*Client, error) {
	u, err := wsURL(server, name)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	header.Set("Origin", "http://localhost")
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u, err)
	}
	return &Client{conn: conn}, nil
}

func wsURL(server, name string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http", "":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/draw/ws"
	q := u.Query()
	q.Set("name", name)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) Send(ctx context.Context, msg ws.ClientMessage) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultWriteTimeout)
	}
	_ = c.conn.SetWriteDeadline(deadline)
	return c.conn.WriteJSON(msg)
}

func (c *Client) Receive() (ws.ServerMessage, error) {
	var msg ws.ServerMessage
	err := c.conn.ReadJSON(&msg)
	return msg, err
}

// Run feeds server messages into s until the connection ends or ctx is
// done. A normal close returns nil.
func (c *Client) Run(ctx context.Context, s *Session) error {
	stop := context.AfterFunc(ctx, func() { c.conn.Close() })
	defer stop()
	for {
		msg, err := c.Receive()
		if err != nil {
			if ctx.Err() != nil || c.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		if err := s.Handle(msg); err != nil {
			s.log.Warn("apply server message failed", "type", msg.Type, "err", err)
		}
	}
}

// Close sends a close frame and closes the connection.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.wmu.Lock()
	err := c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.wmu.Unlock()
	return errors.Join(err, c.conn.Close())
}
