package annotation

import (
	"context"
	defError "errors"

	"gorm.io/gorm"

	"image-annotation-service/internal/access"
)

// Repository is the metadata-collection contract: single-record
// insert/replace/delete with read-before-write, plus the version-history
// aggregation.
type Repository interface {
	Insert(ctx context.Context, ann *Annotation) error
	Replace(ctx context.Context, ann *Annotation) error
	Get(ctx context.Context, id string) (*Annotation, error)
	Delete(ctx context.Context, id string) error
	SetActive(ctx context.Context, id string, active bool) error
	SetGroups(ctx context.Context, id string, groups StringSet) error
	SetAccess(ctx context.Context, id string, policy *access.Policy, public bool) error
	Versions(ctx context.Context, stableID string) ([]*Annotation, error)
	FindVersion(ctx context.Context, stableID string, version int64) (*Annotation, error)
	FindByItem(ctx context.Context, itemID string, activeOnly bool) ([]*Annotation, error)
	FindActive(ctx context.Context, creatorID string) ([]*Annotation, error)
}

type RepositoryImpl struct {
	db *gorm.DB
}

// NewRepository creates a new annotation repository
func NewRepository(db *gorm.DB) Repository {
	return &RepositoryImpl{db: db}
}

// Insert creates a new record
func (r *RepositoryImpl) Insert(ctx context.Context, ann *Annotation) error {
	return r.db.WithContext(ctx).Create(ann).Error
}

// Replace overwrites the whole record identified by ann.ID
func (r *RepositoryImpl) Replace(ctx context.Context, ann *Annotation) error {
	return r.db.WithContext(ctx).Save(ann).Error
}

// Get finds a record by physical id, returning nil when missing
func (r *RepositoryImpl) Get(ctx context.Context, id string) (*Annotation, error) {
	var ann Annotation
	err := r.db.WithContext(ctx).First(&ann, "id = ?", id).Error
	if defError.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ann, nil
}

// Delete hard-deletes a record
func (r *RepositoryImpl) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Delete(&Annotation{}, "id = ?", id).Error
}

// SetActive flips the soft-delete flag in place
func (r *RepositoryImpl) SetActive(ctx context.Context, id string, active bool) error {
	return r.db.WithContext(ctx).Model(&Annotation{}).
		Where("id = ?", id).
		Update("active", active).Error
}

// SetGroups persists the cached group-label set
func (r *RepositoryImpl) SetGroups(ctx context.Context, id string, groups StringSet) error {
	return r.db.WithContext(ctx).Model(&Annotation{}).
		Where("id = ?", id).
		Update("groups", groups).Error
}

// SetAccess persists a backfilled access policy
func (r *RepositoryImpl) SetAccess(ctx context.Context, id string, policy *access.Policy, public bool) error {
	return r.db.WithContext(ctx).Model(&Annotation{}).
		Where("id = ?", id).
		Updates(map[string]any{"access": policy, "public": public}).Error
}

// Versions returns one record per version covering the head and every
// archived snapshot of stableID, newest first.  DISTINCT ON picks a
// single record per version number.
func (r *RepositoryImpl) Versions(ctx context.Context, stableID string) ([]*Annotation, error) {
	var entries []*Annotation
	err := r.db.WithContext(ctx).Raw(`
		SELECT DISTINCT ON (version) *
		FROM annotations
		WHERE id = ? OR head_id = ?
		ORDER BY version DESC
	`, stableID, stableID).Scan(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// FindVersion resolves the one record matching stableID and version,
// head or archived, returning nil when absent
func (r *RepositoryImpl) FindVersion(ctx context.Context, stableID string, version int64) (*Annotation, error) {
	var ann Annotation
	err := r.db.WithContext(ctx).
		Where("(id = ? OR head_id = ?) AND version = ?", stableID, stableID, version).
		First(&ann).Error
	if defError.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ann, nil
}

// FindByItem returns the records attached to an image item
func (r *RepositoryImpl) FindByItem(ctx context.Context, itemID string, activeOnly bool) ([]*Annotation, error) {
	query := r.db.WithContext(ctx).Where("item_id = ?", itemID)
	if activeOnly {
		query = query.Where("active = ?", true)
	}
	var entries []*Annotation
	if err := query.Order("created_at ASC").Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// FindActive returns all active heads, optionally restricted to one
// creator, most recently updated first
func (r *RepositoryImpl) FindActive(ctx context.Context, creatorID string) ([]*Annotation, error) {
	query := r.db.WithContext(ctx).Where("active = ?", true)
	if creatorID != "" {
		query = query.Where("creator_id = ?", creatorID)
	}
	var entries []*Annotation
	if err := query.Order("updated_at DESC").Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
