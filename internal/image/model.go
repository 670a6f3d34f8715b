package image

import (
	"time"

	"image-annotation-service/internal/access"
)

// Item is an image item that annotations attach to.  Tile data itself is
// served elsewhere; the store only needs identity and the containing
// folder.
type Item struct {
	ID        string `gorm:"primaryKey;size:24"`
	FolderID  string `gorm:"size:24;index"`
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Folder contains image items and is the source of the access policy
// copied onto new annotations.
type Folder struct {
	ID        string         `gorm:"primaryKey;size:24"`
	Name      string
	Public    bool           `gorm:"default:false"`
	Access    *access.Policy `gorm:"type:jsonb"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AccessPolicy implements access.Controlled
func (f *Folder) AccessPolicy() *access.Policy { return f.Access }

// IsPublic implements access.Controlled
func (f *Folder) IsPublic() bool { return f.Public }
