package collab

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"

	"github.com/NainaKothari-14/drawtogether/backend/internal/canvas"
)

func mockProducer(t *testing.T) *mocks.SyncProducer {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	return mocks.NewSyncProducer(t, cfg)
}

func TestDispatcherSendsKeyedByBoard(t *testing.T) {
	p := mockProducer(t)
	p.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		if len(val) == 0 {
			return errors.New("empty value")
		}
		return nil
	})
	d := NewKafkaDispatcher(p, "board-actions", NewSemaphoreControl(1), KafkaDispatcherOptions{Workers: 1})

	a := canvas.Action{Seq: 7, Kind: canvas.KindStroke, Author: "alice", At: time.Now(), Payload: red}
	d.PublishAction("b1", a)
	d.Close()

	if sent, dropped := d.Stats(); sent != 1 || dropped != 0 {
		t.Fatalf("sent=%d dropped=%d", sent, dropped)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("producer expectations: %v", err)
	}
}

func TestDispatcherRetriesThenDrops(t *testing.T) {
	p := mockProducer(t)
	boom := errors.New("broker unavailable")
	p.ExpectSendMessageAndFail(boom)
	p.ExpectSendMessageAndFail(boom)
	p.ExpectSendMessageAndSucceed()
	p.ExpectSendMessageAndFail(boom)
	p.ExpectSendMessageAndFail(boom)
	p.ExpectSendMessageAndFail(boom)

	d := NewKafkaDispatcher(p, "board-actions", nil, KafkaDispatcherOptions{
		Workers:     1,
		MaxRetry:    2,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  2 * time.Millisecond,
	})
	if err := d.Offer(BoardActionEvent{BoardKey: "b1", Seq: 1}); err != nil {
		t.Fatal(err)
	}
	if err := d.Offer(BoardActionEvent{BoardKey: "b1", Seq: 2}); err != nil {
		t.Fatal(err)
	}
	d.Close()

	sent, dropped := d.Stats()
	if sent != 1 || dropped != 1 {
		t.Fatalf("sent=%d dropped=%d, want 1/1", sent, dropped)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("producer expectations: %v", err)
	}
}

func TestDispatcherRejectsAfterClose(t *testing.T) {
	d := NewKafkaDispatcher(nil, "", nil, KafkaDispatcherOptions{Workers: 1})
	d.Close()
	d.Close()
	if err := d.Offer(BoardActionEvent{BoardKey: "b1"}); !errors.Is(err, ErrDispatcherClosed) {
		t.Fatalf("expected ErrDispatcherClosed, got %v", err)
	}
	// a closed dispatcher still satisfies ActionSink without panicking
	d.PublishAction("b1", canvas.Action{Seq: 1, Kind: canvas.KindClear, Payload: canvas.Clear{}})
	if sent, dropped := d.Stats(); sent != 0 || dropped != 0 {
		t.Fatalf("closed dispatcher counted sent=%d dropped=%d", sent, dropped)
	}
}

func TestOfferDropsWhenFull(t *testing.T) {
	// no producer: sendOnce is a no-op, but the worker is held on the semaphore
	sem := NewSemaphoreControl(1)
	sem.TryAcquire()
	d := NewKafkaDispatcher(nil, "", sem, KafkaDispatcherOptions{QueueSize: 1, Workers: 1})

	accepted := 0
	for i := 0; i < 10; i++ {
		switch err := d.Offer(BoardActionEvent{BoardKey: "b1", Seq: uint64(i)}); {
		case err == nil:
			accepted++
		case !errors.Is(err, ErrDispatcherFull):
			t.Fatalf("unexpected offer error %v", err)
		}
	}
	// one event may be held by the worker, one sits in the queue
	if accepted > 2 {
		t.Fatalf("accepted %d events into a queue of 1", accepted)
	}
	if _, dropped := d.Stats(); dropped != uint64(10-accepted) {
		t.Fatalf("dropped=%d, want %d", dropped, 10-accepted)
	}
	sem.Release()
	d.Close()
}

func TestBoardActionEventType(t *testing.T) {
	if e := newBoardActionEvent("b1", canvas.Action{Kind: canvas.KindClear, Seq: 3}); e.EventType != EventBoardCleared || e.Seq != 3 {
		t.Fatalf("unexpected clear event %+v", e)
	}
	if e := newBoardActionEvent("b1", canvas.Action{Kind: canvas.KindFill}); e.EventType != EventActionApplied {
		t.Fatalf("unexpected event type %q", e.EventType)
	}
}

func TestSemaphoreControl(t *testing.T) {
	s := NewSemaphoreControl(2)
	if !s.TryAcquire() || !s.TryAcquire() {
		t.Fatalf("could not take free slots")
	}
	if s.TryAcquire() {
		t.Fatalf("acquired past capacity")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := s.Acquire(ctx); !errors.Is(err, ErrAcquireTimeout) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if s.InUse() != 2 {
		t.Fatalf("in use = %d", s.InUse())
	}
	s.Release()
	s.Release()
	if err := s.Release(); !errors.Is(err, ErrNotAcquired) {
		t.Fatalf("expected ErrNotAcquired, got %v", err)
	}
}

type memSaver struct {
	saved chan string
	err   error
}

func (m *memSaver) SaveSnapshot(_ context.Context, key string, _ *canvas.Snapshot) error {
	m.saved <- key
	return m.err
}

func TestSnapshotWriter(t *testing.T) {
	store := &memSaver{saved: make(chan string, 4)}
	w := NewSnapshotWriter(store, NewSemaphoreControl(2), time.Second, nil)
	if !w.Submit("b1", &canvas.Snapshot{Data: []byte{1}}) {
		t.Fatalf("submit rejected")
	}
	w.Wait()
	if got := <-store.saved; got != "b1" {
		t.Fatalf("saved %q", got)
	}
	if saved, failed := w.Stats(); saved != 1 || failed != 0 {
		t.Fatalf("saved=%d failed=%d", saved, failed)
	}

	store.err = errors.New("disk full")
	w.Submit("b2", &canvas.Snapshot{Data: []byte{1}})
	w.Wait()
	if _, failed := w.Stats(); failed != 1 {
		t.Fatalf("failure not counted")
	}
}

func TestSnapshotWriterSkipsWhenBusy(t *testing.T) {
	sem := NewSemaphoreControl(1)
	sem.TryAcquire()
	w := NewSnapshotWriter(&memSaver{saved: make(chan string, 1)}, sem, time.Second, nil)
	if w.Submit("b1", &canvas.Snapshot{Data: []byte{1}}) {
		t.Fatalf("submit accepted with no free slot")
	}
}
