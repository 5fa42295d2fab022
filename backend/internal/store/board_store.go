package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BoardRecord is the catalog row of a board.
type BoardRecord struct {
	BoardKey        string `gorm:"primaryKey;type:varchar(128)"`
	ClearedSeq      uint64 `gorm:"default:0"`
	LastSnapshotSeq uint64 `gorm:"default:0"`
	LastSnapshotAt  *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (BoardRecord) TableName() string { return "boards" }

type BoardStore struct {
	db *gorm.DB
}

func NewBoardStore(db *gorm.DB) *BoardStore {
	return &BoardStore{db: db}
}

func (s *BoardStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&BoardRecord{})
}

// Touch creates the catalog row if it does not exist.
func (s *BoardStore) Touch(ctx context.Context, boardKey string) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&BoardRecord{BoardKey: boardKey}).Error
}

// Get returns nil, nil for an unknown board.
func (s *BoardStore) Get(ctx context.Context, boardKey string) (*BoardRecord, error) {
	var rec BoardRecord
	err := s.db.WithContext(ctx).Where("board_key = ?", boardKey).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

func (s *BoardStore) RecordSnapshot(ctx context.Context, boardKey string, seq uint64, at time.Time) error {
	rec := BoardRecord{BoardKey: boardKey, LastSnapshotSeq: seq, LastSnapshotAt: &at}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "board_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"last_snapshot_seq", "last_snapshot_at", "updated_at"}),
		}).
		Create(&rec).Error
}

func (s *BoardStore) RecordClear(ctx context.Context, boardKey string, seq uint64) error {
	rec := BoardRecord{BoardKey: boardKey, ClearedSeq: seq}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "board_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"cleared_seq", "updated_at"}),
		}).
		Create(&rec).Error
}

// Recent lists boards by last update, newest first.
func (s *BoardStore) Recent(ctx context.Context, limit int) ([]BoardRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var recs []BoardRecord
	err := s.db.WithContext(ctx).Order("updated_at DESC").Limit(limit).Find(&recs).Error
	return recs, err
}
