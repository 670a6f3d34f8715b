package element

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// Element is one shape entry of an annotation's markup.  Elements are
// schemaless maps so that the similarity fast path and per-shape
// validation can walk their raw structure.
type Element map[string]any

// ID returns the element's explicit identifier, if set
func (e Element) ID() string {
	id, _ := e["id"].(string)
	return id
}

// Type returns the shape kind tag
func (e Element) Type() string {
	t, _ := e["type"].(string)
	return t
}

// Group returns the element's group label, if set
func (e Element) Group() string {
	g, _ := e["group"].(string)
	return g
}

// NewID returns a fresh 24-character hex token, the identifier shape used
// for annotations and elements alike
func NewID() string {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		panic(err) // rand.Read does not fail on supported platforms
	}
	return hex.EncodeToString(buf)
}

// Record is one stored element row.  The body keeps the full element
// document; the bounding box and group label are lifted into columns so
// region and group filters run in the database.
type Record struct {
	ID           uint64 `gorm:"primaryKey;autoIncrement"`
	AnnotationID string `gorm:"size:24;index:idx_elements_owner_version"`
	Version      int64  `gorm:"index:idx_elements_owner_version"`
	SortIndex    int
	ElementID    string `gorm:"size:24;index"`
	GroupLabel   string `gorm:"size:255"`
	Left         float64
	Top          float64
	Right        float64
	Bottom       float64
	Body         []byte `gorm:"type:jsonb"`
	CreatedAt    time.Time
}

// TableName keeps the historical table name
func (Record) TableName() string { return "annotation_elements" }

// Filter restricts element retrieval.  The bbox fields select elements
// whose bounding box intersects the region; Limit of 0 means no limit.
type Filter struct {
	Left   *float64
	Top    *float64
	Right  *float64
	Bottom *float64
	Group  string
	Limit  int
	Offset int
}
