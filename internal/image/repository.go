package image

import (
	"context"
	defError "errors"

	"gorm.io/gorm"
)

// Provider is the owning-image collaborator consumed by the annotation
// store: item lookup plus the containing folder for policy inheritance.
type Provider interface {
	GetItem(ctx context.Context, id string) (*Item, error)
	GetFolder(ctx context.Context, id string) (*Folder, error)
}

type RepositoryImpl struct {
	db *gorm.DB
}

// NewRepository creates a new image repository
func NewRepository(db *gorm.DB) Provider {
	return &RepositoryImpl{db: db}
}

// GetItem finds an item by ID, returning nil when it does not exist
func (r *RepositoryImpl) GetItem(ctx context.Context, id string) (*Item, error) {
	var item Item
	err := r.db.WithContext(ctx).First(&item, "id = ?", id).Error
	if defError.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// GetFolder finds a folder by ID, returning nil when it does not exist
func (r *RepositoryImpl) GetFolder(ctx context.Context, id string) (*Folder, error) {
	var folder Folder
	err := r.db.WithContext(ctx).First(&folder, "id = ?", id).Error
	if defError.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &folder, nil
}
