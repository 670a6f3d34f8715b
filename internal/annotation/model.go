package annotation

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"image-annotation-service/internal/access"
	"image-annotation-service/internal/element"
)

// JSONMap stores free-form attributes as jsonb
type JSONMap map[string]any

// Value implements driver.Valuer
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner
func (m *JSONMap) Scan(value any) error {
	return scanJSON(value, m)
}

// StringSet stores the cached group-label set as jsonb.  A nil set marks
// a record whose labels have not been computed yet.
type StringSet []string

// Value implements driver.Valuer
func (s StringSet) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	return json.Marshal(s)
}

// Scan implements sql.Scanner
func (s *StringSet) Scan(value any) error {
	return scanJSON(value, s)
}

func scanJSON(value, dest any) error {
	if value == nil {
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, dest)
	case string:
		return json.Unmarshal([]byte(v), dest)
	}
	return fmt.Errorf("unsupported jsonb column type %T", value)
}

// Annotation is one stored annotation record.  The head of an annotation
// keeps its stable id in ID with HeadID empty; an archived snapshot has
// its own physical ID and points back at the head through HeadID.
// Elements are persisted separately and only attached in memory.
type Annotation struct {
	ID          string `gorm:"primaryKey;size:24"`
	HeadID      string `gorm:"size:24;index:idx_annotations_head_version"`
	Version     int64  `gorm:"index:idx_annotations_head_version"`
	Active      bool   `gorm:"index"`
	ItemID      string `gorm:"size:24;index"`
	CreatorID   string `gorm:"size:24;index"`
	UpdatedID   string `gorm:"size:24"`
	Public      bool
	Access      *access.Policy `gorm:"type:jsonb"`
	Groups      StringSet      `gorm:"type:jsonb"`
	Name        string         `gorm:"size:255"`
	Description string
	Attributes  JSONMap           `gorm:"type:jsonb"`
	Elements    []element.Element `gorm:"-"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// StableID returns the externally visible annotation id: the head's id
// for archived snapshots, the record's own id otherwise
func (a *Annotation) StableID() string {
	if a.HeadID != "" {
		return a.HeadID
	}
	return a.ID
}

// Archived reports whether this record is an immutable snapshot
func (a *Annotation) Archived() bool { return a.HeadID != "" }

// AccessPolicy implements access.Controlled
func (a *Annotation) AccessPolicy() *access.Policy { return a.Access }

// IsPublic implements access.Controlled
func (a *Annotation) IsPublic() bool { return a.Public }
