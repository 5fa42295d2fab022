// Package history keeps a participant's local undo/redo snapshots.
package history

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/NainaKothari-14/drawtogether/backend/internal/canvas"
)

const (
	DefaultDepth        = 100
	DefaultPersistEvery = 5
)

// Persister receives the periodic snapshot push. Implementations may block;
// they run off the caller's goroutine.
type Persister interface {
	PersistSnapshot(ctx context.Context, boardKey string, snap *canvas.Snapshot) error
}

type PersisterFunc func(ctx context.Context, boardKey string, snap *canvas.Snapshot) error

func (f PersisterFunc) PersistSnapshot(ctx context.Context, boardKey string, snap *canvas.Snapshot) error {
	return f(ctx, boardKey, snap)
}

type Options struct {
	Depth          int // steps kept per board; oldest dropped first
	PersistEvery   int // every Nth record is pushed to Persister; <=0 disables
	PersistTimeout time.Duration
	Persister      Persister
	Logger         *slog.Logger
}

type Store struct {
	mu     sync.Mutex
	boards map[string]*stack
	opt    Options
	log    *slog.Logger

	pending sync.WaitGroup
}

// stack is a linear history: steps[cursor] is the current canvas.
type stack struct {
	steps    []*canvas.Snapshot
	cursor   int
	recorded uint64
}

func New(opt Options) *Store {
	if opt.Depth <= 0 {
		opt.Depth = DefaultDepth
	}
	if opt.PersistTimeout <= 0 {
		opt.PersistTimeout = 5 * time.Second
	}
	lg := opt.Logger
	if lg == nil {
		lg = slog.Default()
	}
	return &Store{boards: make(map[string]*stack), opt: opt, log: lg.With("component", "history")}
}

func (s *Store) get(boardKey string) *stack {
	st := s.boards[boardKey]
	if st == nil {
		st = &stack{cursor: -1}
		s.boards[boardKey] = st
	}
	return st
}

// Record pushes snap as the new current step, discarding any redo entries,
// and returns its step index.
func (s *Store) Record(boardKey string, snap *canvas.Snapshot) int {
	snap = snap.Clone()

	s.mu.Lock()
	st := s.get(boardKey)
	st.steps = append(st.steps[:st.cursor+1], snap)
	if over := len(st.steps) - s.opt.Depth; over > 0 {
		clear(st.steps[:over])
		st.steps = st.steps[over:]
	}
	st.cursor = len(st.steps) - 1
	st.recorded++
	persist := s.opt.Persister != nil && s.opt.PersistEvery > 0 && st.recorded%uint64(s.opt.PersistEvery) == 0
	idx := st.cursor
	s.mu.Unlock()

	if persist {
		s.pending.Add(1)
		go s.persist(boardKey, snap)
	}
	return idx
}

func (s *Store) persist(boardKey string, snap *canvas.Snapshot) {
	defer s.pending.Done()
	ctx, cancel := context.WithTimeout(context.Background(), s.opt.PersistTimeout)
	defer cancel()
	if err := s.opt.Persister.PersistSnapshot(ctx, boardKey, snap); err != nil {
		// retried implicitly on the next periodic push
		s.log.Warn("persist snapshot failed", "board", boardKey, "seq", snap.Seq, "err", err)
	}
}

// Wait blocks until every in-flight persist call has returned.
func (s *Store) Wait() { s.pending.Wait() }

// Undo moves one step back and returns that snapshot, or false at step 0.
func (s *Store) Undo(boardKey string) (*canvas.Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.boards[boardKey]
	if st == nil || st.cursor <= 0 {
		return nil, false
	}
	st.cursor--
	return st.steps[st.cursor].Clone(), true
}

// Redo moves one step forward and returns that snapshot, or false at the
// last step.
func (s *Store) Redo(boardKey string) (*canvas.Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.boards[boardKey]
	if st == nil || st.cursor >= len(st.steps)-1 {
		return nil, false
	}
	st.cursor++
	return st.steps[st.cursor].Clone(), true
}

func (s *Store) CanUndo(boardKey string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.boards[boardKey]
	return st != nil && st.cursor > 0
}

func (s *Store) CanRedo(boardKey string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.boards[boardKey]
	return st != nil && st.cursor < len(st.steps)-1
}

// Steps returns copies of the recorded steps up to and including the
// current one, oldest first.
func (s *Store) Steps(boardKey string) []*canvas.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.boards[boardKey]
	if st == nil {
		return nil
	}
	out := make([]*canvas.Snapshot, 0, st.cursor+1)
	for _, snap := range st.steps[:st.cursor+1] {
		out = append(out, snap.Clone())
	}
	return out
}
