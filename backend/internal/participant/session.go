package participant

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/NainaKothari-14/drawtogether/backend/internal/canvas"
	"github.com/NainaKothari-14/drawtogether/backend/internal/collab"
	"github.com/NainaKothari-14/drawtogether/backend/internal/history"
	"github.com/NainaKothari-14/drawtogether/backend/internal/presence"
	"github.com/NainaKothari-14/drawtogether/backend/internal/raster"
	"github.com/NainaKothari-14/drawtogether/backend/internal/ws"
)

const maxActivity = 50

// Outbox carries a session's messages to the server.
type Outbox interface {
	Send(ctx context.Context, msg ws.ClientMessage) error
}

type Activity struct {
	At   time.Time
	Name string
	Text string
}

type Options struct {
	Width, Height int
	// 0 uses fill.DefaultTolerance, negative matches exactly
	Tolerance    int
	HistoryDepth int
	// 0 uses history.DefaultPersistEvery, negative disables pushes
	PersistEvery int
	Logger       *slog.Logger
}

// Session is one participant's view of a board: a local canvas, its
// undo/redo history, the roster and the other participants' cursors.
type Session struct {
	board string
	name  string
	out   Outbox
	hist  *history.Store
	log   *slog.Logger

	mu       sync.Mutex
	cv       *raster.Canvas
	identity string
	color    string
	seq      uint64
	members  []presence.Member
	cursors  map[string]presence.Cursor
	activity []Activity
	lastErr  string
}

func NewSession(board, name string, out Outbox, opt Options) (*Session, error) {
	lg := opt.Logger
	if lg == nil {
		lg = slog.Default()
	}
	s := &Session{
		board:   board,
		name:    name,
		out:     out,
		log:     lg.With("component", "participant", "board", board),
		cv:      raster.New(opt.Width, opt.Height, opt.Tolerance),
		cursors: map[string]presence.Cursor{},
	}
	if opt.PersistEvery == 0 {
		opt.PersistEvery = history.DefaultPersistEvery
	}
	s.hist = history.New(history.Options{
		Depth:        opt.HistoryDepth,
		PersistEvery: opt.PersistEvery,
		Persister:    history.PersisterFunc(s.pushSnapshot),
		Logger:       lg,
	})
	// the blank canvas is step 0
	if err := s.recordLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Session) pushSnapshot(ctx context.Context, boardKey string, snap *canvas.Snapshot) error {
	return s.out.Send(ctx, ws.ClientMessage{Type: ws.TypeSnapshot, BoardKey: boardKey, Snapshot: snap})
}

// recordLocked captures the canvas as a history step tagged with the last
// sequence the session has seen.
func (s *Session) recordLocked() error {
	snap, err := s.cv.Snapshot(s.seq)
	if err != nil {
		return err
	}
	s.hist.Record(s.board, snap)
	return nil
}

func (s *Session) Join(ctx context.Context) error {
	return s.out.Send(ctx, ws.ClientMessage{Type: ws.TypeJoin, BoardKey: s.board, Name: s.name})
}

func (s *Session) Leave(ctx context.Context) error {
	return s.out.Send(ctx, ws.ClientMessage{Type: ws.TypeLeave, BoardKey: s.board})
}

// Draw applies a completed local edit, records one history step and sends
// the edit to the board.
func (s *Session) Draw(ctx context.Context, p canvas.Payload) error {
	if p == nil {
		return fmt.Errorf("%w: missing payload", canvas.ErrInvalidAction)
	}
	if err := p.Validate(); err != nil {
		return err
	}
	msg := ws.ClientMessage{Type: ws.TypeClear, BoardKey: s.board}
	if p.Kind() != canvas.KindClear {
		raw, err := json.Marshal(p)
		if err != nil {
			return err
		}
		msg = ws.ClientMessage{Type: ws.TypeOperation, BoardKey: s.board, Kind: p.Kind(), Payload: raw}
	}

	s.mu.Lock()
	err := s.cv.ApplyPayload(p)
	if err == nil {
		err = s.recordLocked()
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.out.Send(ctx, msg)
}

func (s *Session) Clear(ctx context.Context) error { return s.Draw(ctx, canvas.Clear{}) }

func (s *Session) MoveCursor(ctx context.Context, x, y float64) error {
	return s.out.Send(ctx, ws.ClientMessage{Type: ws.TypeCursor, BoardKey: s.board, X: x, Y: y})
}

// Undo restores the previous local step. Nothing is sent to the board.
func (s *Session) Undo() bool {
	snap, ok := s.hist.Undo(s.board)
	if !ok {
		return false
	}
	return s.load(snap) == nil
}

func (s *Session) Redo() bool {
	snap, ok := s.hist.Redo(s.board)
	if !ok {
		return false
	}
	return s.load(snap) == nil
}

func (s *Session) CanUndo() bool { return s.hist.CanUndo(s.board) }
func (s *Session) CanRedo() bool { return s.hist.CanRedo(s.board) }

func (s *Session) load(snap *canvas.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.cv.Load(snap.Data); err != nil {
		s.log.Warn("load history step failed", "err", err)
		return err
	}
	return nil
}

// Replay plays the local history up to the current step back onto the
// canvas, waiting delay between steps. A canceled replay leaves the canvas at
// the last completed step.
func (s *Session) Replay(ctx context.Context, delay time.Duration, onStep func(i int)) (int, error) {
	steps := s.hist.Steps(s.board)
	return history.Replay(ctx, steps, delay, func(i int, snap *canvas.Snapshot) error {
		if err := s.load(snap); err != nil {
			return err
		}
		if onStep != nil {
			onStep(i)
		}
		return nil
	})
}

// Handle applies one server message to the local view.
func (s *Session) Handle(msg ws.ServerMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch msg.Type {
	case ws.TypeWelcome:
		s.identity, s.color = msg.Identity, msg.Color

	case string(collab.EventBoardState):
		s.seq = msg.Seq
		err := s.cv.Rebuild(msg.Snapshot, msg.Actions)
		if rerr := s.recordLocked(); err == nil {
			err = rerr
		}
		return err

	case string(collab.EventOperation):
		if msg.Action == nil {
			return fmt.Errorf("%w: operation without action", ws.ErrProtocol)
		}
		s.advance(msg.Action.Seq)
		s.addActivity(msg.Name, describe(*msg.Action))
		return s.cv.Apply(*msg.Action)

	case string(collab.EventCleared):
		s.advance(msg.Seq)
		s.cv.Reset()
		s.addActivity(msg.Name, "cleared the canvas")
		return s.recordLocked()

	case string(collab.EventAck):
		s.advance(msg.Seq)

	case string(collab.EventRoster):
		s.members = msg.Members

	case string(collab.EventCursors):
		s.cursors = msg.Cursors
		if s.cursors == nil {
			s.cursors = map[string]presence.Cursor{}
		}

	case string(collab.EventJoined):
		s.addActivity(msg.Name, "joined the board")

	case string(collab.EventLeft):
		delete(s.cursors, msg.Identity)
		s.addActivity(msg.Name, "left the board")

	case ws.TypeError:
		s.lastErr = msg.Content
		s.log.Warn("server rejected message", "err", msg.Content)

	case ws.TypeFeedback:
	default:
		s.log.Debug("ignored message", "type", msg.Type)
	}
	return nil
}

func (s *Session) advance(seq uint64) {
	if seq > s.seq {
		s.seq = seq
	}
}

func (s *Session) addActivity(name, text string) {
	s.activity = append(s.activity, Activity{At: time.Now(), Name: name, Text: text})
	if n := len(s.activity); n > maxActivity {
		s.activity = append([]Activity(nil), s.activity[n-maxActivity:]...)
	}
}

func describe(a canvas.Action) string {
	switch p := a.Payload.(type) {
	case canvas.Stroke:
		return "drew a line"
	case canvas.Shape:
		return "drew a " + string(p.Type)
	case canvas.Erase:
		return "erased"
	case canvas.Fill:
		return "filled an area"
	case canvas.Clear:
		return "cleared the canvas"
	}
	return string(a.Kind)
}

func (s *Session) Identity() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

func (s *Session) Color() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.color
}

// Seq is the highest board sequence the session has seen.
func (s *Session) Seq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

func (s *Session) Members() []presence.Member {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]presence.Member(nil), s.members...)
}

func (s *Session) Cursors() map[string]presence.Cursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]presence.Cursor, len(s.cursors))
	for k, v := range s.cursors {
		out[k] = v
	}
	return out
}

func (s *Session) Activity() []Activity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Activity(nil), s.activity...)
}

func (s *Session) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Pix returns a copy of the local canvas pixels.
func (s *Session) Pix() []uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cv.Pix()
}

// PNG encodes the local canvas.
func (s *Session) PNG() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cv.Encode()
}

// Close waits for pending snapshot pushes.
func (s *Session) Close() { s.hist.Wait() }
