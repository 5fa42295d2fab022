package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/NainaKothari-14/drawtogether/backend/internal/canvas"
)

type snapshotBackend interface {
	SaveSnapshot(ctx context.Context, boardKey string, snap *canvas.Snapshot) error
	LoadSnapshot(ctx context.Context, boardKey string) (*canvas.Snapshot, error)
	DeleteSnapshots(ctx context.Context, boardKey string, upTo uint64) (int64, error)
	Prune(ctx context.Context, boardKey string, keep int) (int64, error)
}

type boardCatalog interface {
	Touch(ctx context.Context, boardKey string) error
	RecordSnapshot(ctx context.Context, boardKey string, seq uint64, at time.Time) error
	RecordClear(ctx context.Context, boardKey string, seq uint64) error
}

// Durable joins the snapshot table and the board catalog. It loads and saves
// board snapshots for the registry and drops them when a board is cleared.
type Durable struct {
	snaps   snapshotBackend
	catalog boardCatalog // optional
	keep    int
	timeout time.Duration
	log     *slog.Logger
	wg      sync.WaitGroup
}

type DurableOptions struct {
	// Keep bounds stored snapshots per board; 0 keeps all.
	Keep    int
	Timeout time.Duration
	Logger  *slog.Logger
}

func NewDurable(snaps snapshotBackend, catalog boardCatalog, opt DurableOptions) *Durable {
	if opt.Timeout <= 0 {
		opt.Timeout = 5 * time.Second
	}
	lg := opt.Logger
	if lg == nil {
		lg = slog.Default()
	}
	return &Durable{
		snaps:   snaps,
		catalog: catalog,
		keep:    opt.Keep,
		timeout: opt.Timeout,
		log:     lg.With("component", "durable"),
	}
}

func (d *Durable) SaveSnapshot(ctx context.Context, boardKey string, snap *canvas.Snapshot) error {
	if err := d.snaps.SaveSnapshot(ctx, boardKey, snap); err != nil {
		return err
	}
	if d.catalog != nil {
		at := snap.At
		if at.IsZero() {
			at = time.Now()
		}
		if err := d.catalog.RecordSnapshot(ctx, boardKey, snap.Seq, at); err != nil {
			d.log.Warn("catalog update failed", "board", boardKey, "err", err)
		}
	}
	if d.keep > 0 {
		if _, err := d.snaps.Prune(ctx, boardKey, d.keep); err != nil {
			d.log.Warn("prune snapshots failed", "board", boardKey, "err", err)
		}
	}
	return nil
}

func (d *Durable) LoadSnapshot(ctx context.Context, boardKey string) (*canvas.Snapshot, error) {
	if d.catalog != nil {
		if err := d.catalog.Touch(ctx, boardKey); err != nil {
			d.log.Warn("catalog touch failed", "board", boardKey, "err", err)
		}
	}
	return d.snaps.LoadSnapshot(ctx, boardKey)
}

// PublishAction drops the stored snapshots of a cleared board in the
// background. Other actions are ignored.
func (d *Durable) PublishAction(boardKey string, a canvas.Action) {
	if a.Kind != canvas.KindClear {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		n, err := d.snaps.DeleteSnapshots(ctx, boardKey, a.Seq)
		if err != nil {
			d.log.Warn("drop snapshots after clear failed", "board", boardKey, "seq", a.Seq, "err", err)
			return
		}
		if d.catalog != nil {
			if err := d.catalog.RecordClear(ctx, boardKey, a.Seq); err != nil {
				d.log.Warn("catalog update failed", "board", boardKey, "err", err)
			}
		}
		d.log.Info("board snapshots dropped", "board", boardKey, "seq", a.Seq, "rows", n)
	}()
}

// Wait blocks until background clears finish.
func (d *Durable) Wait() { d.wg.Wait() }
