package history

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/NainaKothari-14/drawtogether/backend/internal/canvas"
)

func snap(b byte) *canvas.Snapshot { return &canvas.Snapshot{Data: []byte{b}} }

func data(s *canvas.Snapshot) byte {
	if s == nil || len(s.Data) == 0 {
		return 0
	}
	return s.Data[0]
}

func TestUndoRedoRoundTrip(t *testing.T) {
	s := New(Options{})
	if s.CanUndo("b1") || s.CanRedo("b1") {
		t.Fatalf("empty store should not undo/redo")
	}
	if idx := s.Record("b1", snap(0)); idx != 0 {
		t.Fatalf("first step index = %d", idx)
	}
	if idx := s.Record("b1", snap(1)); idx != 1 {
		t.Fatalf("second step index = %d", idx)
	}

	got, ok := s.Undo("b1")
	if !ok || data(got) != 0 {
		t.Fatalf("undo = %v,%v want S0", got, ok)
	}
	got, ok = s.Redo("b1")
	if !ok || data(got) != 1 {
		t.Fatalf("redo = %v,%v want S1", got, ok)
	}
}

func TestBoundariesAreNoOps(t *testing.T) {
	s := New(Options{})
	if _, ok := s.Undo("b1"); ok {
		t.Fatalf("undo on empty history")
	}
	s.Record("b1", snap(0))
	if _, ok := s.Undo("b1"); ok {
		t.Fatalf("undo at step 0")
	}
	if _, ok := s.Redo("b1"); ok {
		t.Fatalf("redo at last step")
	}
	if len(s.Steps("b1")) != 1 {
		t.Fatalf("boundary calls moved the cursor")
	}
}

func TestRecordDiscardsForwardHistory(t *testing.T) {
	s := New(Options{})
	s.Record("b1", snap(0))
	s.Record("b1", snap(1))
	s.Record("b1", snap(2))
	s.Undo("b1")
	s.Undo("b1")
	s.Record("b1", snap(3))
	if _, ok := s.Redo("b1"); ok {
		t.Fatalf("redo should be empty after recording")
	}
	steps := s.Steps("b1")
	if len(steps) != 2 || data(steps[0]) != 0 || data(steps[1]) != 3 {
		t.Fatalf("unexpected steps %v", steps)
	}
}

func TestBoardsAreIndependent(t *testing.T) {
	s := New(Options{})
	s.Record("a", snap(1))
	s.Record("a", snap(2))
	s.Record("b", snap(9))
	if s.CanUndo("b") {
		t.Fatalf("board b has one step only")
	}
	if !s.CanUndo("a") {
		t.Fatalf("board a lost its history")
	}
	if len(s.Steps("a")) != 2 || len(s.Steps("b")) != 1 {
		t.Fatalf("steps mixed across boards")
	}
}

func TestDepthDropsOldest(t *testing.T) {
	s := New(Options{Depth: 3})
	for i := byte(0); i < 5; i++ {
		s.Record("b1", snap(i))
	}
	steps := s.Steps("b1")
	if len(steps) != 3 || data(steps[0]) != 2 || data(steps[2]) != 4 {
		t.Fatalf("unexpected steps after depth trim: %v", steps)
	}
	s.Undo("b1")
	s.Undo("b1")
	if s.CanUndo("b1") {
		t.Fatalf("undo should stop at the oldest kept step")
	}
}

func TestRecordedSnapshotsAreCopied(t *testing.T) {
	s := New(Options{})
	in := snap(7)
	s.Record("b1", in)
	in.Data[0] = 99
	s.Record("b1", snap(8))
	got, _ := s.Undo("b1")
	if data(got) != 7 {
		t.Fatalf("stored snapshot aliased caller buffer: %d", data(got))
	}
}

type recordingPersister struct {
	mu    sync.Mutex
	seen  []byte
	fail  bool
	calls int
}

func (p *recordingPersister) PersistSnapshot(_ context.Context, boardKey string, s *canvas.Snapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.fail {
		return errors.New("store down")
	}
	p.seen = append(p.seen, data(s))
	return nil
}

func TestEveryFifthRecordIsPersisted(t *testing.T) {
	p := &recordingPersister{}
	s := New(Options{PersistEvery: DefaultPersistEvery, Persister: p})
	for i := byte(1); i <= 12; i++ {
		s.Record("b1", snap(i))
	}
	s.Wait()
	if len(p.seen) != 2 || p.seen[0] != 5 || p.seen[1] != 10 {
		t.Fatalf("persisted %v, want [5 10]", p.seen)
	}
}

func TestPersistFailureDoesNotBlockUndo(t *testing.T) {
	p := &recordingPersister{fail: true}
	s := New(Options{PersistEvery: 1, Persister: p})
	s.Record("b1", snap(1))
	s.Record("b1", snap(2))
	if got, ok := s.Undo("b1"); !ok || data(got) != 1 {
		t.Fatalf("undo failed after persist error")
	}
	s.Wait()
	if p.calls != 2 {
		t.Fatalf("expected 2 persist attempts, got %d", p.calls)
	}
}

func TestReplayAppliesInOrder(t *testing.T) {
	steps := []*canvas.Snapshot{snap(1), snap(2), snap(3)}
	var got []byte
	n, err := Replay(context.Background(), steps, 0, func(i int, s *canvas.Snapshot) error {
		got = append(got, data(s))
		return nil
	})
	if err != nil || n != 3 {
		t.Fatalf("replay n=%d err=%v", n, err)
	}
	if string(got) != string([]byte{1, 2, 3}) {
		t.Fatalf("replay order %v", got)
	}
}

func TestReplayCancelStopsBetweenSteps(t *testing.T) {
	steps := []*canvas.Snapshot{snap(1), snap(2), snap(3), snap(4)}
	ctx, cancel := context.WithCancel(context.Background())
	var last byte
	n, err := Replay(ctx, steps, time.Millisecond, func(i int, s *canvas.Snapshot) error {
		last = data(s)
		if i == 1 {
			cancel()
		}
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if n != 2 || last != 2 {
		t.Fatalf("replay should stop after the step in progress: n=%d last=%d", n, last)
	}
}
