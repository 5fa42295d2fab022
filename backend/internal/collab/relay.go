package collab

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/NainaKothari-14/drawtogether/backend/internal/canvas"
	"github.com/NainaKothari-14/drawtogether/backend/internal/presence"
)

var (
	ErrBoardFull       = presence.ErrBoardFull
	ErrNotJoined       = errors.New("NOT_JOINED")
	ErrInvalidBoardKey = errors.New("INVALID_BOARD_KEY")
	ErrEvicted         = errors.New("EVICTED_SLOW_CONSUMER")
)

const maxBoardKeyLen = 128

type RelayOptions struct {
	Actions   ActionSink
	Mirror    PresenceMirror
	Snapshots SnapshotSink
	Logger    *slog.Logger
	// pushed snapshots larger than this are rejected; <= 0 disables the bound
	CanvasWidth  int
	CanvasHeight int
}

// Relay routes participant events to the subscribers of a board. All
// mutations of one board happen under that board's room lock, so the order
// in which publishes are applied to the log is the order every subscriber
// queue receives them.
type Relay struct {
	registry *Registry
	tracker  *presence.Tracker

	actions   ActionSink
	mirror    PresenceMirror
	snapshots SnapshotSink
	log       *slog.Logger
	maxW      int
	maxH      int

	mu    sync.RWMutex
	rooms map[string]*room

	memberMu sync.Mutex
	boardOf  map[string]string // identity -> joined board

	published   atomic.Uint64
	evicted     atomic.Uint64
	cursorDrops atomic.Uint64
}

// room is the subscriber set of one board; its lock is the board's
// sequential boundary.
type room struct {
	key  string
	mu   sync.Mutex
	subs map[string]Subscriber
}

func NewRelay(registry *Registry, tracker *presence.Tracker, opt RelayOptions) *Relay {
	lg := opt.Logger
	if lg == nil {
		lg = slog.Default()
	}
	return &Relay{
		registry:  registry,
		tracker:   tracker,
		actions:   opt.Actions,
		mirror:    opt.Mirror,
		snapshots: opt.Snapshots,
		log:       lg.With("component", "relay"),
		maxW:      opt.CanvasWidth,
		maxH:      opt.CanvasHeight,
		rooms:     make(map[string]*room),
		boardOf:   make(map[string]string),
	}
}

// ValidBoardKey reports whether key can name a board.
func ValidBoardKey(key string) bool {
	return key != "" && len(key) <= maxBoardKeyLen && strings.TrimSpace(key) == key
}

func (r *Relay) room(key string) *room {
	r.mu.RLock()
	rm := r.rooms[key]
	r.mu.RUnlock()
	if rm != nil {
		return rm
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if rm = r.rooms[key]; rm == nil {
		rm = &room{key: key, subs: make(map[string]Subscriber)}
		r.rooms[key] = rm
	}
	return rm
}

func (r *Relay) lookupRoom(key string) *room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rooms[key]
}

// BoardOf returns the board identity is currently joined to.
func (r *Relay) BoardOf(identity string) (string, bool) {
	r.memberMu.Lock()
	defer r.memberMu.Unlock()
	key, ok := r.boardOf[identity]
	return key, ok
}

func (r *Relay) setBoard(identity, key string) {
	r.memberMu.Lock()
	r.boardOf[identity] = key
	r.memberMu.Unlock()
}

func (r *Relay) clearBoard(identity, key string) {
	r.memberMu.Lock()
	if r.boardOf[identity] == key {
		delete(r.boardOf, identity)
	}
	r.memberMu.Unlock()
}

// Join subscribes sub to the board, registers its presence and transfers
// the board state to it before any later action. A connection joined to
// another board leaves that board first. Joining again is idempotent.
func (r *Relay) Join(ctx context.Context, boardKey string, sub Subscriber) (State, error) {
	if !ValidBoardKey(boardKey) {
		return State{}, ErrInvalidBoardKey
	}
	if prev, ok := r.BoardOf(sub.ID()); ok && prev != boardKey {
		r.Leave(prev, sub.ID())
	}
	// create (and hydrate) outside the room lock
	if _, err := r.registry.GetOrCreate(ctx, boardKey); err != nil {
		return State{}, err
	}

	rm := r.room(boardKey)
	rm.mu.Lock()
	defer rm.mu.Unlock()

	color, err := r.tracker.Register(boardKey, sub.ID(), sub.Name())
	if err != nil {
		return State{}, err
	}
	state, err := r.registry.GetState(ctx, boardKey)
	if err != nil {
		r.tracker.Unregister(boardKey, sub.ID())
		return State{}, err
	}
	_, rejoin := rm.subs[sub.ID()]
	rm.subs[sub.ID()] = sub
	r.setBoard(sub.ID(), boardKey)

	var failed []Subscriber
	if !sub.Deliver(Event{Type: EventBoardState, BoardKey: boardKey, State: &state}) {
		failed = append(failed, sub)
	}
	if !rejoin {
		joined := Event{Type: EventJoined, BoardKey: boardKey, Identity: sub.ID(), Name: sub.Name(), Color: color}
		failed = r.broadcastLocked(rm, joined, sub.ID(), failed)
		if r.mirror != nil {
			r.mirror.MemberJoined(boardKey, presence.Member{Identity: sub.ID(), Name: sub.Name(), Color: color})
		}
		r.log.Info("participant joined", "board", boardKey, "identity", sub.ID(), "name", sub.Name(), "participants", len(rm.subs))
	}
	failed = r.broadcastLocked(rm, Event{Type: EventRoster, BoardKey: boardKey, Members: r.tracker.Roster(boardKey)}, "", failed)
	if others := r.tracker.Cursors(boardKey, sub.ID()); len(others) > 0 {
		sub.Deliver(Event{Type: EventCursors, BoardKey: boardKey, Cursors: others})
	}
	r.evictLocked(rm, failed)

	if _, ok := rm.subs[sub.ID()]; !ok {
		return State{}, ErrEvicted
	}
	return state, nil
}

// Publish appends payload to the board log as an action of sub and fans it
// out to every other subscriber, in apply order. The sender receives an ack
// carrying the assigned sequence. A sender not joined to the board joins it
// first.
func (r *Relay) Publish(ctx context.Context, boardKey string, sub Subscriber, payload canvas.Payload) (canvas.Action, error) {
	if payload == nil {
		return canvas.Action{}, fmt.Errorf("%w: missing payload", canvas.ErrInvalidAction)
	}
	if err := payload.Validate(); err != nil {
		return canvas.Action{}, err
	}
	rm, err := r.ensureJoined(ctx, boardKey, sub)
	if err != nil {
		return canvas.Action{}, err
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	if cur, ok := rm.subs[sub.ID()]; !ok || cur != sub {
		return canvas.Action{}, ErrNotJoined
	}

	a, err := r.registry.AppendAction(ctx, boardKey, canvas.Action{
		Author:   sub.Name(),
		AuthorID: sub.ID(),
		At:       time.Now(),
		Payload:  payload,
	})
	if err != nil {
		return canvas.Action{}, err
	}

	typ := EventOperation
	if a.Kind == canvas.KindClear {
		typ = EventCleared
		r.log.Info("board cleared", "board", boardKey, "by", sub.Name(), "seq", a.Seq)
	}
	ev := Event{Type: typ, BoardKey: boardKey, Identity: sub.ID(), Name: sub.Name(), Color: canvas.ColorFor(sub.ID()), Action: &a}
	failed := r.broadcastLocked(rm, ev, sub.ID(), nil)
	if !sub.Deliver(Event{Type: EventAck, BoardKey: boardKey, Seq: a.Seq}) {
		failed = append(failed, sub)
	}
	r.evictLocked(rm, failed)

	if r.actions != nil {
		r.actions.PublishAction(boardKey, a)
	}
	r.published.Add(1)
	return a, nil
}

// ClearCanvas publishes a clear action: the log and snapshot are dropped and
// every other subscriber is told to reset.
func (r *Relay) ClearCanvas(ctx context.Context, boardKey string, sub Subscriber) (canvas.Action, error) {
	return r.Publish(ctx, boardKey, sub, canvas.Clear{})
}

// UpdateCursor records sub's cursor and sends each other subscriber the
// cursors it can see. Delivery is best effort.
func (r *Relay) UpdateCursor(ctx context.Context, boardKey string, sub Subscriber, x, y float64) error {
	rm, err := r.ensureJoined(ctx, boardKey, sub)
	if err != nil {
		return err
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	c, ok := r.tracker.UpdateCursor(boardKey, sub.ID(), x, y)
	if !ok {
		return ErrNotJoined
	}
	for id, s := range rm.subs {
		if id == sub.ID() {
			continue
		}
		if !s.Deliver(Event{Type: EventCursors, BoardKey: boardKey, Cursors: r.tracker.Cursors(boardKey, id)}) {
			r.cursorDrops.Add(1)
		}
	}
	if r.mirror != nil {
		r.mirror.CursorMoved(boardKey, sub.ID(), c)
		if m, ok := r.tracker.Member(boardKey, sub.ID()); ok {
			r.mirror.MemberSeen(boardKey, m)
		}
	}
	return nil
}

// Heartbeat marks identity as alive on the board it joined, keeping its
// mirrored presence from expiring. It reports whether identity is joined.
func (r *Relay) Heartbeat(identity string) bool {
	key, ok := r.BoardOf(identity)
	if !ok {
		return false
	}
	rm := r.lookupRoom(key)
	if rm == nil {
		return false
	}
	// under the room lock so a concurrent leave is mirrored after this
	rm.mu.Lock()
	defer rm.mu.Unlock()
	m, ok := r.tracker.Member(key, identity)
	if !ok {
		return false
	}
	if r.mirror != nil {
		r.mirror.MemberSeen(key, m)
	}
	return true
}

// PushSnapshot stores snap as the board's latest snapshot. Nothing is
// broadcast. A snapshot that is not a PNG within the canvas bounds fails
// with canvas.ErrInvalidSnapshot; one older than the stored snapshot or the
// last clear is dropped without error and never reaches the snapshot sink.
func (r *Relay) PushSnapshot(ctx context.Context, boardKey string, sub Subscriber, snap *canvas.Snapshot) error {
	rm, err := r.ensureJoined(ctx, boardKey, sub)
	if err != nil {
		return err
	}
	if err := snap.Check(r.maxW, r.maxH); err != nil {
		return err
	}
	// the sink sees snapshots and clears in board order
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if err := r.registry.SetSnapshot(ctx, boardKey, snap); err != nil {
		if errors.Is(err, ErrStaleSnapshot) {
			r.log.Debug("stale snapshot ignored", "board", boardKey, "identity", sub.ID(), "err", err)
			return nil
		}
		return err
	}
	if r.snapshots != nil && !r.snapshots.Submit(boardKey, snap.Clone()) {
		r.log.Warn("snapshot not persisted, writer busy", "board", boardKey, "seq", snap.Seq)
	}
	return nil
}

// Leave removes identity from the board and tells the remaining subscribers.
// Repeated or unknown leaves are no-ops; it reports whether anything was
// removed.
func (r *Relay) Leave(boardKey, identity string) bool {
	rm := r.lookupRoom(boardKey)
	if rm == nil {
		r.tracker.Unregister(boardKey, identity)
		r.clearBoard(identity, boardKey)
		return false
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	s, ok := rm.subs[identity]
	if !ok {
		r.tracker.Unregister(boardKey, identity)
		r.clearBoard(identity, boardKey)
		return false
	}
	failed := r.removeLocked(rm, s, nil)
	r.evictLocked(rm, failed)
	r.log.Info("participant left", "board", boardKey, "identity", identity, "participants", len(rm.subs))
	return true
}

// Disconnect leaves whatever board identity is joined to.
func (r *Relay) Disconnect(identity string) bool {
	key, ok := r.BoardOf(identity)
	if !ok {
		return false
	}
	return r.Leave(key, identity)
}

func (r *Relay) ensureJoined(ctx context.Context, boardKey string, sub Subscriber) (*room, error) {
	if key, ok := r.BoardOf(sub.ID()); !ok || key != boardKey {
		if _, err := r.Join(ctx, boardKey, sub); err != nil {
			return nil, err
		}
	}
	return r.room(boardKey), nil
}

// broadcastLocked delivers ev to every subscriber but exclude and appends the
// ones that could not take an ordered event to failed.
func (r *Relay) broadcastLocked(rm *room, ev Event, exclude string, failed []Subscriber) []Subscriber {
	for id, s := range rm.subs {
		if id == exclude {
			continue
		}
		if !s.Deliver(ev) && ev.Ordered() {
			failed = append(failed, s)
		}
	}
	return failed
}

// removeLocked drops s from the room and presence and notifies the rest.
func (r *Relay) removeLocked(rm *room, s Subscriber, failed []Subscriber) []Subscriber {
	delete(rm.subs, s.ID())
	r.clearBoard(s.ID(), rm.key)
	if !r.tracker.Unregister(rm.key, s.ID()) {
		return failed
	}
	if r.mirror != nil {
		r.mirror.MemberLeft(rm.key, s.ID())
	}
	failed = r.broadcastLocked(rm, Event{Type: EventLeft, BoardKey: rm.key, Identity: s.ID(), Name: s.Name()}, "", failed)
	failed = r.broadcastLocked(rm, Event{Type: EventRoster, BoardKey: rm.key, Members: r.tracker.Roster(rm.key)}, "", failed)
	for id, other := range rm.subs {
		if !other.Deliver(Event{Type: EventCursors, BoardKey: rm.key, Cursors: r.tracker.Cursors(rm.key, id)}) {
			r.cursorDrops.Add(1)
		}
	}
	return failed
}

// evictLocked disconnects subscribers that fell behind. Their departure is
// broadcast like a leave, which may in turn overflow further subscribers.
func (r *Relay) evictLocked(rm *room, failed []Subscriber) {
	for len(failed) > 0 {
		s := failed[0]
		failed = failed[1:]
		if cur, ok := rm.subs[s.ID()]; !ok || cur != s {
			continue
		}
		r.evicted.Add(1)
		r.log.Warn("evicting slow subscriber", "board", rm.key, "identity", s.ID(), "name", s.Name())
		failed = r.removeLocked(rm, s, failed)
		s.Close()
	}
}

// Members returns the board roster in join order.
func (r *Relay) Members(boardKey string) []presence.Member {
	return r.tracker.Roster(boardKey)
}

type Stats struct {
	Boards      int    `json:"boards"`
	Subscribers int    `json:"subscribers"`
	Appended    uint64 `json:"appended"`
	Published   uint64 `json:"published"`
	Evicted     uint64 `json:"evicted"`
	CursorDrops uint64 `json:"cursorDrops"`
}

func (r *Relay) Stats() Stats {
	r.mu.RLock()
	rooms := make([]*room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		rooms = append(rooms, rm)
	}
	r.mu.RUnlock()

	st := Stats{
		Boards:      r.registry.Len(),
		Appended:    r.registry.Appended(),
		Published:   r.published.Load(),
		Evicted:     r.evicted.Load(),
		CursorDrops: r.cursorDrops.Load(),
	}
	for _, rm := range rooms {
		rm.mu.Lock()
		st.Subscribers += len(rm.subs)
		rm.mu.Unlock()
	}
	return st
}

// Close disconnects every subscriber.
func (r *Relay) Close() {
	r.mu.Lock()
	rooms := r.rooms
	r.rooms = make(map[string]*room)
	r.mu.Unlock()
	for _, rm := range rooms {
		rm.mu.Lock()
		for id, s := range rm.subs {
			delete(rm.subs, id)
			r.tracker.Unregister(rm.key, id)
			r.clearBoard(id, rm.key)
			s.Close()
		}
		rm.mu.Unlock()
	}
}
