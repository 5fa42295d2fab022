package collab

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/NainaKothari-14/drawtogether/backend/internal/canvas"
)

// SnapshotSaver is the durable store behind the writer.
type SnapshotSaver interface {
	SaveSnapshot(ctx context.Context, boardKey string, snap *canvas.Snapshot) error
}

// SnapshotWriter persists pushed snapshots in the background. At most
// sem-many writes are in flight; pushes beyond that are skipped and the next
// periodic push retries.
type SnapshotWriter struct {
	store   SnapshotSaver
	sem     *SemaphoreControl
	timeout time.Duration
	log     *slog.Logger

	wg     sync.WaitGroup
	saved  atomic.Uint64
	failed atomic.Uint64
}

func NewSnapshotWriter(store SnapshotSaver, sem *SemaphoreControl, timeout time.Duration, logger *slog.Logger) *SnapshotWriter {
	if sem == nil {
		sem = NewSemaphoreControl(4)
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SnapshotWriter{store: store, sem: sem, timeout: timeout, log: logger.With("component", "snapshot_writer")}
}

// Submit starts a background save and reports whether it was accepted.
func (w *SnapshotWriter) Submit(boardKey string, snap *canvas.Snapshot) bool {
	if !w.sem.TryAcquire() {
		return false
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer w.sem.Release()
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		defer cancel()
		if err := w.store.SaveSnapshot(ctx, boardKey, snap); err != nil {
			w.failed.Add(1)
			w.log.Warn("save snapshot failed", "board", boardKey, "seq", snap.Seq, "err", err)
			return
		}
		w.saved.Add(1)
	}()
	return true
}

// Wait blocks until in-flight saves finish.
func (w *SnapshotWriter) Wait() { w.wg.Wait() }

func (w *SnapshotWriter) Stats() (saved, failed uint64) {
	return w.saved.Load(), w.failed.Load()
}
