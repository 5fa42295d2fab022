package collab

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/NainaKothari-14/drawtogether/backend/internal/canvas"
)

func stroke(x float64) canvas.Action {
	return canvas.Action{Author: "alice", Payload: canvas.Stroke{X0: x, Y0: x, X1: x + 1, Y1: x + 1, Color: "#ff0000", Size: 3}}
}

func TestGetOrCreateIdempotent(t *testing.T) {
	r := NewRegistry(RegistryOptions{})
	ctx := context.Background()

	var wg sync.WaitGroup
	boards := make([]*Board, 64)
	for i := range boards {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b, err := r.GetOrCreate(ctx, "b1")
			if err != nil {
				t.Errorf("GetOrCreate: %v", err)
			}
			boards[i] = b
		}(i)
	}
	wg.Wait()
	for _, b := range boards {
		if b != boards[0] {
			t.Fatalf("concurrent first calls created different boards")
		}
	}
	if r.Len() != 1 {
		t.Fatalf("expected one board, got %d", r.Len())
	}
}

func TestAppendAssignsSequence(t *testing.T) {
	r := NewRegistry(RegistryOptions{})
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		a, err := r.AppendAction(ctx, "b1", stroke(float64(i)))
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		if a.Seq != uint64(i) || a.Kind != canvas.KindStroke || a.At.IsZero() {
			t.Fatalf("unexpected stamped action %+v", a)
		}
	}
	st, _ := r.GetState(ctx, "b1")
	if len(st.Actions) != 3 || st.Seq != 3 {
		t.Fatalf("unexpected state %+v", st)
	}
	for i, a := range st.Actions {
		if a.Seq != uint64(i+1) {
			t.Fatalf("log out of order: %+v", st.Actions)
		}
	}
}

func TestAppendRejectsMalformed(t *testing.T) {
	r := NewRegistry(RegistryOptions{})
	ctx := context.Background()
	if _, err := r.AppendAction(ctx, "b1", canvas.Action{}); !errors.Is(err, canvas.ErrInvalidAction) {
		t.Fatalf("expected ErrInvalidAction, got %v", err)
	}
	bad := canvas.Action{Payload: canvas.Erase{X: 1, Y: 1, Size: -1}}
	if _, err := r.AppendAction(ctx, "b1", bad); !errors.Is(err, canvas.ErrInvalidAction) {
		t.Fatalf("expected ErrInvalidAction, got %v", err)
	}
}

func TestClearKeepsSequenceMonotonic(t *testing.T) {
	r := NewRegistry(RegistryOptions{})
	ctx := context.Background()
	r.AppendAction(ctx, "b1", stroke(1))
	r.SetSnapshot(ctx, "b1", &canvas.Snapshot{Data: []byte{1}})
	c, err := r.AppendAction(ctx, "b1", canvas.Action{Payload: canvas.Clear{}})
	if err != nil {
		t.Fatal(err)
	}
	if c.Seq != 2 || c.Kind != canvas.KindClear {
		t.Fatalf("unexpected clear action %+v", c)
	}
	st, _ := r.GetState(ctx, "b1")
	if len(st.Actions) != 0 || st.Snapshot != nil {
		t.Fatalf("clear left state behind: %+v", st)
	}
	a, _ := r.AppendAction(ctx, "b1", stroke(2))
	if a.Seq != 3 {
		t.Fatalf("seq after clear = %d, want 3", a.Seq)
	}

	r.Clear(ctx, "b1")
	if st, _ := r.GetState(ctx, "b1"); len(st.Actions) != 0 || st.Seq != 3 {
		t.Fatalf("Clear did not truncate: %+v", st)
	}
}

func TestLogCapEvictsOldest(t *testing.T) {
	r := NewRegistry(RegistryOptions{MaxActions: 3})
	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		r.AppendAction(ctx, "b1", stroke(float64(i)))
	}
	st, _ := r.GetState(ctx, "b1")
	if len(st.Actions) != 3 || st.Actions[0].Seq != 3 || st.Actions[2].Seq != 5 {
		t.Fatalf("unexpected capped log %+v", st.Actions)
	}
}

func TestSnapshotCoalescesLog(t *testing.T) {
	r := NewRegistry(RegistryOptions{})
	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		r.AppendAction(ctx, "b1", stroke(float64(i)))
	}
	if err := r.SetSnapshot(ctx, "b1", &canvas.Snapshot{Data: []byte{9}, Seq: 3}); err != nil {
		t.Fatal(err)
	}
	st, _ := r.GetState(ctx, "b1")
	if st.Snapshot == nil || st.Snapshot.Seq != 3 {
		t.Fatalf("snapshot not installed: %+v", st.Snapshot)
	}
	if len(st.Actions) != 2 || st.Actions[0].Seq != 4 {
		t.Fatalf("log not trimmed to actions after the snapshot: %+v", st.Actions)
	}

	// a snapshot without a sequence cannot replace a tagged one
	if err := r.SetSnapshot(ctx, "b1", &canvas.Snapshot{Data: []byte{10}}); !errors.Is(err, ErrStaleSnapshot) {
		t.Fatalf("expected ErrStaleSnapshot, got %v", err)
	}
	st, _ = r.GetState(ctx, "b1")
	if len(st.Actions) != 2 || st.Snapshot.Data[0] != 9 {
		t.Fatalf("unexpected state %+v", st)
	}

	if err := r.SetSnapshot(ctx, "b1", &canvas.Snapshot{}); !errors.Is(err, canvas.ErrInvalidAction) {
		t.Fatalf("expected empty snapshot rejection, got %v", err)
	}
}

func TestOutOfOrderSnapshotIsIgnored(t *testing.T) {
	r := NewRegistry(RegistryOptions{})
	ctx := context.Background()
	for i := 1; i <= 12; i++ {
		r.AppendAction(ctx, "b1", stroke(float64(i)))
	}
	if err := r.SetSnapshot(ctx, "b1", &canvas.Snapshot{Data: []byte{10}, Seq: 10}); err != nil {
		t.Fatal(err)
	}
	// a slower peer's older snapshot arrives second
	if err := r.SetSnapshot(ctx, "b1", &canvas.Snapshot{Data: []byte{5}, Seq: 5}); !errors.Is(err, ErrStaleSnapshot) {
		t.Fatalf("expected ErrStaleSnapshot, got %v", err)
	}
	st, _ := r.GetState(ctx, "b1")
	if st.Snapshot.Seq != 10 || st.Snapshot.Data[0] != 10 {
		t.Fatalf("older snapshot replaced newer: %+v", st.Snapshot)
	}
	if len(st.Actions) != 2 || st.Actions[0].Seq != 11 || st.Actions[1].Seq != 12 {
		t.Fatalf("log changed by a rejected snapshot: %+v", st.Actions)
	}

	// same seq is a refresh, not a regression
	if err := r.SetSnapshot(ctx, "b1", &canvas.Snapshot{Data: []byte{11}, Seq: 10}); err != nil {
		t.Fatalf("equal seq rejected: %v", err)
	}
}

func TestSnapshotFromBeforeClearIsIgnored(t *testing.T) {
	r := NewRegistry(RegistryOptions{})
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		r.AppendAction(ctx, "b1", stroke(float64(i)))
	}
	c, _ := r.AppendAction(ctx, "b1", canvas.Action{Payload: canvas.Clear{}})
	if c.Seq != 4 {
		t.Fatalf("clear seq = %d", c.Seq)
	}
	for _, seq := range []uint64{0, 3} {
		if err := r.SetSnapshot(ctx, "b1", &canvas.Snapshot{Data: []byte{1}, Seq: seq}); !errors.Is(err, ErrStaleSnapshot) {
			t.Fatalf("seq %d: expected ErrStaleSnapshot, got %v", seq, err)
		}
	}
	if st, _ := r.GetState(ctx, "b1"); st.Snapshot != nil {
		t.Fatalf("pre-clear pixels resurrected: %+v", st.Snapshot)
	}

	// a peer that saw the clear tags its snapshot with it
	if err := r.SetSnapshot(ctx, "b1", &canvas.Snapshot{Data: []byte{2}, Seq: 4}); err != nil {
		t.Fatalf("post-clear snapshot rejected: %v", err)
	}

	// Clear does not consume a seq: only snapshots past the next action count
	r.AppendAction(ctx, "b1", stroke(5))
	r.Clear(ctx, "b1")
	if err := r.SetSnapshot(ctx, "b1", &canvas.Snapshot{Data: []byte{3}, Seq: 5}); !errors.Is(err, ErrStaleSnapshot) {
		t.Fatalf("expected ErrStaleSnapshot after Clear, got %v", err)
	}
	r.AppendAction(ctx, "b1", stroke(6))
	if err := r.SetSnapshot(ctx, "b1", &canvas.Snapshot{Data: []byte{4}, Seq: 6}); err != nil {
		t.Fatalf("snapshot after Clear and a new action: %v", err)
	}
}

func TestStateIsACopy(t *testing.T) {
	r := NewRegistry(RegistryOptions{})
	ctx := context.Background()
	r.AppendAction(ctx, "b1", stroke(1))
	r.SetSnapshot(ctx, "b1", &canvas.Snapshot{Data: []byte{1}})
	st, _ := r.GetState(ctx, "b1")
	st.Actions[0].Author = "mallory"
	st.Snapshot.Data[0] = 42
	again, _ := r.GetState(ctx, "b1")
	if again.Actions[0].Author != "alice" || again.Snapshot.Data[0] != 1 {
		t.Fatalf("state aliased registry storage")
	}
}

type slowLoader struct {
	calls atomic.Int32
	snap  *canvas.Snapshot
	err   error
}

func (l *slowLoader) LoadSnapshot(ctx context.Context, key string) (*canvas.Snapshot, error) {
	l.calls.Add(1)
	time.Sleep(20 * time.Millisecond)
	return l.snap.Clone(), l.err
}

func TestColdBoardHydratesOnce(t *testing.T) {
	loader := &slowLoader{snap: &canvas.Snapshot{Data: []byte{7}, Seq: 40}}
	r := NewRegistry(RegistryOptions{Loader: loader, LoadSem: NewSemaphoreControl(2)})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.GetOrCreate(ctx, "cold"); err != nil {
				t.Errorf("GetOrCreate: %v", err)
			}
		}()
	}
	wg.Wait()
	if n := loader.calls.Load(); n != 1 {
		t.Fatalf("loader called %d times, want 1", n)
	}
	st, _ := r.GetState(ctx, "cold")
	if st.Snapshot == nil || st.Snapshot.Data[0] != 7 || st.Seq != 40 {
		t.Fatalf("board not hydrated: %+v", st)
	}
	a, _ := r.AppendAction(ctx, "cold", stroke(1))
	if a.Seq != 41 {
		t.Fatalf("sequence did not continue from the snapshot: %d", a.Seq)
	}
}

func TestHydrationFailureStartsEmpty(t *testing.T) {
	r := NewRegistry(RegistryOptions{Loader: &slowLoader{err: errors.New("mysql down")}})
	st, err := r.GetState(context.Background(), "b1")
	if err != nil {
		t.Fatalf("hydration failure must not fail the board: %v", err)
	}
	if st.Snapshot != nil || len(st.Actions) != 0 {
		t.Fatalf("expected empty board, got %+v", st)
	}
}

func TestPeekKeysAndClose(t *testing.T) {
	r := NewRegistry(RegistryOptions{})
	ctx := context.Background()
	if _, ok := r.Peek("b1"); ok {
		t.Fatalf("peek created a board")
	}
	r.GetOrCreate(ctx, "b2")
	r.GetOrCreate(ctx, "b1")
	if keys := r.Keys(); len(keys) != 2 || keys[0] != "b1" || keys[1] != "b2" {
		t.Fatalf("unexpected keys %v", keys)
	}
	r.Close()
	if _, err := r.GetOrCreate(ctx, "b1"); !errors.Is(err, ErrRegistryClosed) {
		t.Fatalf("expected ErrRegistryClosed, got %v", err)
	}
}
