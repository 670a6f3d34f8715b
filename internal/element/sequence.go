package element

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// annotation versions share a single durable counter
const versionSequence = "annotation_version"

// SequenceRow is a named durable counter.  Versions must never repeat,
// even across restarts, so the counter lives in the database and is
// incremented atomically.
type SequenceRow struct {
	Name  string `gorm:"primaryKey;size:64"`
	Value int64
}

// TableName keeps the counter table name explicit
func (SequenceRow) TableName() string { return "annotation_sequences" }

// Sequence issues strictly increasing version numbers
type Sequence struct {
	db *gorm.DB
}

// NewSequence creates the database-backed version sequencer
func NewSequence(db *gorm.DB) *Sequence {
	return &Sequence{db: db}
}

// NextVersion atomically increments and returns the shared counter
func (s *Sequence) NextVersion(ctx context.Context) (int64, error) {
	var value int64
	err := s.db.WithContext(ctx).Raw(`
		UPDATE annotation_sequences
		SET value = value + 1
		WHERE name = ?
		RETURNING value
	`, versionSequence).Scan(&value).Error
	if err != nil {
		return 0, err
	}
	if value == 0 {
		return 0, fmt.Errorf("version sequence %q is missing", versionSequence)
	}
	return value, nil
}

// EnsureSequence seeds the counter row if it does not exist yet
func EnsureSequence(db *gorm.DB) error {
	return db.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&SequenceRow{Name: versionSequence, Value: 0}).Error
}
