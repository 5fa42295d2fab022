package store

import (
	"context"
	"os"
	"testing"

	"github.com/NainaKothari-14/drawtogether/backend/internal/canvas"
)

// DRAW_TEST_MYSQL_DSN points at a scratch database, e.g.
// root:pass@tcp(127.0.0.1:3306)/draw_test
func mysqlOrSkip(t *testing.T) *SnapshotStore {
	t.Helper()
	dsn := os.Getenv("DRAW_TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("skip: DRAW_TEST_MYSQL_DSN not set")
	}
	db, err := OpenMySQL(dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Skipf("skip: mysql not available: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	s := NewSnapshotStore(db)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func TestSnapshotStoreRoundTrip(t *testing.T) {
	s := mysqlOrSkip(t)
	ctx := context.Background()
	key := "test-" + t.Name()
	t.Cleanup(func() { s.DeleteSnapshots(ctx, key, ^uint64(0)) })

	snap := &canvas.Snapshot{Data: []byte("png-bytes"), Seq: 7}
	if err := s.SaveSnapshot(ctx, key, snap); err != nil {
		t.Fatalf("save: %v", err)
	}
	// same image at the same seq is a duplicate and tolerated
	if err := s.SaveSnapshot(ctx, key, snap); err != nil {
		t.Fatalf("duplicate save: %v", err)
	}
	s.SaveSnapshot(ctx, key, &canvas.Snapshot{Data: []byte("newer"), Seq: 9})

	got, err := s.LoadSnapshot(ctx, key)
	if err != nil || got == nil || got.Seq != 9 || string(got.Data) != "newer" {
		t.Fatalf("load = %+v, %v", got, err)
	}
	s.SaveSnapshot(ctx, key, &canvas.Snapshot{Data: []byte("late"), Seq: 8})
	if got, _ := s.LoadSnapshot(ctx, key); got == nil || got.Seq != 9 {
		t.Fatalf("late older snapshot shadowed seq 9: %+v", got)
	}
	if n, err := s.Prune(ctx, key, 1); err != nil || n != 2 {
		t.Fatalf("prune = %d, %v", n, err)
	}
	if n, err := s.DeleteSnapshots(ctx, key, 9); err != nil || n != 1 {
		t.Fatalf("delete = %d, %v", n, err)
	}
	if got, _ := s.LoadSnapshot(ctx, key); got != nil {
		t.Fatalf("snapshot left after delete: %+v", got)
	}
}

func TestSnapshotStoreRejectsEmpty(t *testing.T) {
	s := NewSnapshotStore(nil)
	if err := s.SaveSnapshot(context.Background(), "b1", &canvas.Snapshot{}); err == nil {
		t.Fatalf("expected error for empty snapshot")
	}
}
