package collab

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/NainaKothari-14/drawtogether/backend/internal/canvas"
)

const DefaultMaxActions = 5000

var (
	ErrRegistryClosed = errors.New("REGISTRY_CLOSED")
	// ErrStaleSnapshot rejects a snapshot older than the stored one or than
	// the board's last clear.
	ErrStaleSnapshot = errors.New("STALE_SNAPSHOT")
)

// SnapshotLoader returns the last durable snapshot of a board, or nil.
type SnapshotLoader interface {
	LoadSnapshot(ctx context.Context, boardKey string) (*canvas.Snapshot, error)
}

// Board is the authoritative aggregate of one board: its ordered action log
// and latest snapshot. It is only mutated through the Registry.
type Board struct {
	key       string
	createdAt time.Time

	mu       sync.RWMutex
	seq      uint64
	actions  []canvas.Action
	snapshot *canvas.Snapshot
	evicted  uint64
	// lowest seq a snapshot may carry; raised by clears
	clearedSeq uint64
}

func (b *Board) Key() string          { return b.key }
func (b *Board) CreatedAt() time.Time { return b.createdAt }

// Seq returns the sequence of the last action applied to the board.
func (b *Board) Seq() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.seq
}

// State is a copy of a board's log and snapshot, safe to hand out.
type State struct {
	BoardKey string           `json:"boardKey"`
	Seq      uint64           `json:"seq"`
	Actions  []canvas.Action  `json:"actions"`
	Snapshot *canvas.Snapshot `json:"snapshot,omitempty"`
}

type RegistryOptions struct {
	MaxActions int // log cap per board; <= 0 uses DefaultMaxActions
	Loader     SnapshotLoader
	// LoadSem bounds concurrent Loader calls across boards.
	LoadSem     *SemaphoreControl
	LoadTimeout time.Duration
	Logger      *slog.Logger
}

// Registry owns every live board. Construct one per process and inject it;
// Close tears it down.
type Registry struct {
	mu     sync.RWMutex
	boards map[string]*Board
	closed bool

	maxActions  int
	loader      SnapshotLoader
	loadSem     *SemaphoreControl
	loadTimeout time.Duration
	group       singleflight.Group
	log         *slog.Logger

	appended atomic.Uint64
}

func NewRegistry(opt RegistryOptions) *Registry {
	if opt.MaxActions <= 0 {
		opt.MaxActions = DefaultMaxActions
	}
	if opt.LoadTimeout <= 0 {
		opt.LoadTimeout = 3 * time.Second
	}
	lg := opt.Logger
	if lg == nil {
		lg = slog.Default()
	}
	return &Registry{
		boards:      make(map[string]*Board),
		maxActions:  opt.MaxActions,
		loader:      opt.Loader,
		loadSem:     opt.LoadSem,
		loadTimeout: opt.LoadTimeout,
		log:         lg.With("component", "registry"),
	}
}

func (r *Registry) lookup(key string) *Board {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.boards[key]
}

// GetOrCreate returns the board for key, creating it on first use. Concurrent
// first calls share one creation (and one durable snapshot load).
func (r *Registry) GetOrCreate(ctx context.Context, key string) (*Board, error) {
	if b := r.lookup(key); b != nil {
		return b, nil
	}
	ch := r.group.DoChan(key, func() (any, error) {
		if b := r.lookup(key); b != nil {
			return b, nil
		}
		snap := r.hydrate(key)

		r.mu.Lock()
		defer r.mu.Unlock()
		if r.closed {
			return nil, ErrRegistryClosed
		}
		if b := r.boards[key]; b != nil {
			return b, nil
		}
		b := &Board{key: key, createdAt: time.Now()}
		if snap != nil {
			b.snapshot = snap
			b.seq = snap.Seq
		}
		r.boards[key] = b
		return b, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Board), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// hydrate loads the durable snapshot of a cold board. Failures only log: the
// board starts empty instead.
func (r *Registry) hydrate(key string) *canvas.Snapshot {
	if r.loader == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.loadTimeout)
	defer cancel()
	if r.loadSem != nil {
		if err := r.loadSem.Acquire(ctx); err != nil {
			r.log.Warn("snapshot load skipped", "board", key, "err", err)
			return nil
		}
		defer r.loadSem.Release()
	}
	snap, err := r.loader.LoadSnapshot(ctx, key)
	if err != nil {
		r.log.Warn("snapshot load failed", "board", key, "err", err)
		return nil
	}
	if snap.Empty() {
		return nil
	}
	r.log.Info("board hydrated", "board", key, "seq", snap.Seq, "bytes", len(snap.Data))
	return snap
}

// AppendAction stamps a with the board's next sequence and appends it. A
// clear action empties the log and snapshot instead of being stored.
func (r *Registry) AppendAction(ctx context.Context, key string, a canvas.Action) (canvas.Action, error) {
	if a.Payload == nil {
		return canvas.Action{}, fmt.Errorf("%w: missing payload", canvas.ErrInvalidAction)
	}
	if err := a.Payload.Validate(); err != nil {
		return canvas.Action{}, err
	}
	b, err := r.GetOrCreate(ctx, key)
	if err != nil {
		return canvas.Action{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	a.Seq = b.seq
	a.Kind = a.Payload.Kind()
	if a.At.IsZero() {
		a.At = time.Now()
	}
	r.appended.Add(1)

	if a.Kind == canvas.KindClear {
		b.actions = nil
		b.snapshot = nil
		b.clearedSeq = a.Seq
		return a, nil
	}

	b.actions = append(b.actions, a)
	if over := len(b.actions) - r.maxActions; over > 0 {
		b.actions = slices.Delete(b.actions, 0, over)
		b.evicted += uint64(over)
		if b.evicted == uint64(over) || b.evicted%1000 == 0 {
			r.log.Warn("action log capped, oldest actions evicted", "board", key, "max", r.maxActions, "evicted", b.evicted)
		}
	}
	return a, nil
}

// GetState returns a copy of the board's log and snapshot, creating the
// board when it does not exist yet.
func (r *Registry) GetState(ctx context.Context, key string) (State, error) {
	b, err := r.GetOrCreate(ctx, key)
	if err != nil {
		return State{}, err
	}
	return b.state(), nil
}

// Peek is GetState without the implicit creation.
func (r *Registry) Peek(key string) (State, bool) {
	b := r.lookup(key)
	if b == nil {
		return State{}, false
	}
	return b.state(), true
}

func (b *Board) state() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return State{
		BoardKey: b.key,
		Seq:      b.seq,
		Actions:  slices.Clone(b.actions),
		Snapshot: b.snapshot.Clone(),
	}
}

// SetSnapshot installs snap as the board's latest snapshot. When snap.Seq is
// set, log entries already painted into it are dropped. A snapshot tagged
// below the stored one or below the last clear fails with ErrStaleSnapshot
// and leaves the board untouched.
func (r *Registry) SetSnapshot(ctx context.Context, key string, snap *canvas.Snapshot) error {
	if snap.Empty() {
		return fmt.Errorf("%w: empty snapshot", canvas.ErrInvalidAction)
	}
	b, err := r.GetOrCreate(ctx, key)
	if err != nil {
		return err
	}
	snap = snap.Clone()
	if snap.At.IsZero() {
		snap.At = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if snap.Seq > b.seq {
		snap.Seq = b.seq
	}
	if b.snapshot != nil && snap.Seq < b.snapshot.Seq {
		return fmt.Errorf("%w: seq %d behind stored %d", ErrStaleSnapshot, snap.Seq, b.snapshot.Seq)
	}
	if snap.Seq < b.clearedSeq {
		return fmt.Errorf("%w: seq %d predates clear at %d", ErrStaleSnapshot, snap.Seq, b.clearedSeq)
	}
	b.snapshot = snap
	if snap.Seq > 0 {
		i, _ := slices.BinarySearchFunc(b.actions, snap.Seq+1, func(a canvas.Action, seq uint64) int {
			switch {
			case a.Seq < seq:
				return -1
			case a.Seq > seq:
				return 1
			}
			return 0
		})
		b.actions = slices.Delete(b.actions, 0, i)
	}
	return nil
}

// Clear empties the log and drops the snapshot. Participants stay joined.
// No seq is consumed, so snapshots are accepted again from the next action.
func (r *Registry) Clear(ctx context.Context, key string) error {
	b, err := r.GetOrCreate(ctx, key)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.actions = nil
	b.snapshot = nil
	b.clearedSeq = b.seq + 1
	return nil
}

// Keys lists the live boards in lexical order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.boards))
	for k := range r.boards {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.boards)
}

// Appended counts actions appended since start, across boards.
func (r *Registry) Appended() uint64 { return r.appended.Load() }

// Close drops every board. Later calls fail with ErrRegistryClosed.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.boards = make(map[string]*Board)
}
