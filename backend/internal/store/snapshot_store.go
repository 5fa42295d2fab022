package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/go-sql-driver/mysql"

	"github.com/NainaKothari-14/drawtogether/backend/internal/canvas"
)

const snapshotsDDL = `CREATE TABLE IF NOT EXISTS board_snapshots (
	id         BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
	board_key  VARCHAR(128)    NOT NULL,
	seq        BIGINT UNSIGNED NOT NULL,
	digest     BIGINT UNSIGNED NOT NULL,
	data       MEDIUMBLOB      NOT NULL,
	created_at DATETIME(3)     NOT NULL,
	PRIMARY KEY (id),
	UNIQUE KEY uk_board_seq_digest (board_key, seq, digest)
)`

// SnapshotStore keeps PNG board snapshots in MySQL. The latest written row
// of a board is its durable snapshot.
type SnapshotStore struct{ db *sql.DB }

func NewSnapshotStore(db *sql.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

func (s *SnapshotStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, snapshotsDDL)
	return err
}

// SaveSnapshot inserts snap. The same image at the same sequence is stored
// once; a duplicate is not an error.
func (s *SnapshotStore) SaveSnapshot(ctx context.Context, boardKey string, snap *canvas.Snapshot) error {
	if snap.Empty() {
		return canvas.ErrInvalidAction
	}
	at := snap.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO board_snapshots (board_key, seq, digest, data, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		boardKey,
		snap.Seq,
		xxhash.Sum64(snap.Data),
		snap.Data,
		at.UTC(),
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return nil
		}
		return err
	}
	return nil
}

// LoadSnapshot returns the highest-seq snapshot of the board, or nil when
// there is none. A late write of an older snapshot does not shadow it.
func (s *SnapshotStore) LoadSnapshot(ctx context.Context, boardKey string) (*canvas.Snapshot, error) {
	var snap canvas.Snapshot
	err := s.db.QueryRowContext(ctx,
		`SELECT seq, data, created_at FROM board_snapshots
		WHERE board_key = ? ORDER BY seq DESC, id DESC LIMIT 1`,
		boardKey,
	).Scan(&snap.Seq, &snap.Data, &snap.At)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// DeleteSnapshots drops every snapshot of the board up to and including seq.
func (s *SnapshotStore) DeleteSnapshots(ctx context.Context, boardKey string, upTo uint64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM board_snapshots WHERE board_key = ? AND seq <= ?`,
		boardKey, upTo,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Prune keeps the keep highest-seq snapshots of the board.
func (s *SnapshotStore) Prune(ctx context.Context, boardKey string, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}
	var cutSeq, cutID uint64
	err := s.db.QueryRowContext(ctx,
		`SELECT seq, id FROM board_snapshots WHERE board_key = ?
		ORDER BY seq DESC, id DESC LIMIT 1 OFFSET ?`,
		boardKey, keep,
	).Scan(&cutSeq, &cutID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM board_snapshots
		WHERE board_key = ? AND (seq < ? OR (seq = ? AND id <= ?))`,
		boardKey, cutSeq, cutSeq, cutID,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// OpenMySQL opens a database/sql handle; parseTime is required to scan
// created_at into time.Time.
func OpenMySQL(dsn string) (*sql.DB, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	cfg.ParseTime = true
	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetConnMaxLifetime(5 * time.Minute)
	return db, nil
}
