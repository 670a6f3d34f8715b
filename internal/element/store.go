package element

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"

	"image-annotation-service/internal/geometry"
	"image-annotation-service/internal/logger"
	"image-annotation-service/internal/metrics"
	"image-annotation-service/redis"
)

// Store is the element store contract: bulk persistence of shape elements
// keyed by (annotation id, version), with filtered retrieval, version
// garbage collection and group-label aggregation.
type Store interface {
	GetElements(ctx context.Context, annotationID string, version int64, filter *Filter) ([]Element, error)
	PutElements(ctx context.Context, annotationID string, version int64, elements []Element) error
	DeleteAll(ctx context.Context, annotationID string) error
	DeleteVersionsBelow(ctx context.Context, annotationID string, version int64) error
	GroupLabels(ctx context.Context, annotationID string, version int64) ([]string, error)
}

type StoreImpl struct {
	db      *gorm.DB
	cache   *redis.Cache
	metrics *metrics.Metrics
	log     *logger.Logger
}

// NewStore creates the gorm-backed element store.  cache may be nil.
func NewStore(db *gorm.DB, cache *redis.Cache, m *metrics.Metrics) Store {
	return &StoreImpl{
		db:      db,
		cache:   cache,
		metrics: m,
		log:     logger.GetGlobalLogger().WithComponent("elements"),
	}
}

// GetElements returns the elements tagged with (annotationID, version)
// that match the filter, in original insertion order
func (s *StoreImpl) GetElements(ctx context.Context, annotationID string, version int64, filter *Filter) ([]Element, error) {
	query := s.db.WithContext(ctx).Model(&Record{}).
		Where("annotation_id = ? AND version = ?", annotationID, version)

	if filter != nil {
		// Select elements whose bounding box intersects the region
		if filter.Left != nil {
			query = query.Where(`"right" >= ?`, *filter.Left)
		}
		if filter.Right != nil {
			query = query.Where(`"left" <= ?`, *filter.Right)
		}
		if filter.Top != nil {
			query = query.Where("bottom >= ?", *filter.Top)
		}
		if filter.Bottom != nil {
			query = query.Where("top <= ?", *filter.Bottom)
		}
		if filter.Group != "" {
			query = query.Where("group_label = ?", filter.Group)
		}
		if filter.Offset > 0 {
			query = query.Offset(filter.Offset)
		}
		if filter.Limit > 0 {
			query = query.Limit(filter.Limit)
		}
	}

	var rows []Record
	if err := query.Order("sort_index ASC").Find(&rows).Error; err != nil {
		return nil, err
	}

	elements := make([]Element, 0, len(rows))
	for _, row := range rows {
		var el Element
		if err := json.Unmarshal(row.Body, &el); err != nil {
			return nil, err
		}
		elements = append(elements, el)
	}
	return elements, nil
}

// PutElements persists elements tagged with (annotationID, version).
// Re-putting the same version replaces its rows, so the write is
// idempotent.  Elements without an explicit id get one assigned; closed
// polylines get their boundary normalized for spatial indexing.
func (s *StoreImpl) PutElements(ctx context.Context, annotationID string, version int64, elements []Element) error {
	rows := make([]Record, 0, len(elements))
	now := time.Now().UTC()
	for i, el := range elements {
		if el.ID() == "" {
			el["id"] = NewID()
		}
		normalizePolyline(el)
		body, err := json.Marshal(el)
		if err != nil {
			return err
		}
		left, top, right, bottom := bounds(el)
		rows = append(rows, Record{
			AnnotationID: annotationID,
			Version:      version,
			SortIndex:    i,
			ElementID:    el.ID(),
			GroupLabel:   el.Group(),
			Left:         left,
			Top:          top,
			Right:        right,
			Bottom:       bottom,
			Body:         body,
			CreatedAt:    now,
		})
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("annotation_id = ? AND version = ?", annotationID, version).
			Delete(&Record{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.CreateInBatches(rows, 500).Error
	})
	if err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.ElementsWrittenTotal.Add(float64(len(rows)))
	}
	s.log.Debug().Str("annotation", annotationID).Int64("version", version).
		Int("count", len(rows)).Msg("Stored elements")
	return nil
}

// DeleteAll hard-deletes every element of every version of annotationID
func (s *StoreImpl) DeleteAll(ctx context.Context, annotationID string) error {
	res := s.db.WithContext(ctx).
		Where("annotation_id = ?", annotationID).
		Delete(&Record{})
	if res.Error != nil {
		return res.Error
	}
	if s.metrics != nil {
		s.metrics.ElementsDeletedTotal.Add(float64(res.RowsAffected))
	}
	return nil
}

// DeleteVersionsBelow hard-deletes elements tagged with versions strictly
// less than version
func (s *StoreImpl) DeleteVersionsBelow(ctx context.Context, annotationID string, version int64) error {
	res := s.db.WithContext(ctx).
		Where("annotation_id = ? AND version < ?", annotationID, version).
		Delete(&Record{})
	if res.Error != nil {
		return res.Error
	}
	if s.metrics != nil {
		s.metrics.ElementsDeletedTotal.Add(float64(res.RowsAffected))
	}
	if res.RowsAffected > 0 {
		s.log.Debug().Str("annotation", annotationID).Int64("below", version).
			Int64("rows", res.RowsAffected).Msg("Collected old elements")
	}
	return nil
}

// GroupLabels returns the distinct group labels across the elements of
// (annotationID, version).  Results are cached under a version-scoped key
// so a new version naturally misses.
func (s *StoreImpl) GroupLabels(ctx context.Context, annotationID string, version int64) ([]string, error) {
	cacheKey := fmt.Sprintf("ann:%s:v:%d:groups", annotationID, version)
	var labels []string
	if found, _ := s.cache.Get(ctx, cacheKey, &labels); found {
		return labels, nil
	}

	err := s.db.WithContext(ctx).Model(&Record{}).
		Where("annotation_id = ? AND version = ? AND group_label <> ''", annotationID, version).
		Distinct("group_label").
		Order("group_label ASC").
		Pluck("group_label", &labels).Error
	if err != nil {
		return nil, err
	}
	if labels == nil {
		labels = []string{}
	}
	sort.Strings(labels)
	s.cache.Set(ctx, cacheKey, labels, 24*time.Hour)
	return labels, nil
}

// normalizePolyline rewinds a closed polyline's boundary so it stays
// valid for spatial indexing.  Open polylines and degenerate results are
// left untouched.
func normalizePolyline(el Element) {
	if el.Type() != "polyline" {
		return
	}
	closed, _ := el["closed"].(bool)
	if !closed {
		return
	}
	points, ok := coordList(el["points"])
	if !ok {
		return
	}
	normalized := geometry.UncrossPolygon(points)
	if len(normalized) < 3 {
		return
	}
	out := make([]any, len(normalized))
	for i, p := range normalized {
		out[i] = []any{p[0], p[1], 0.0}
	}
	el["points"] = out
}

// bounds computes the element's bounding box from its geometry fields
func bounds(el Element) (left, top, right, bottom float64) {
	first := true
	extend := func(x, y float64) {
		if first {
			left, right, top, bottom = x, x, y, y
			first = false
			return
		}
		if x < left {
			left = x
		}
		if x > right {
			right = x
		}
		if y < top {
			top = y
		}
		if y > bottom {
			bottom = y
		}
	}

	if points, ok := coordList(el["points"]); ok {
		for _, p := range points {
			extend(p[0], p[1])
		}
	}
	if center, ok := coord(el["center"]); ok {
		switch el.Type() {
		case "circle":
			r := toFloat(el["radius"])
			extend(center[0]-r, center[1]-r)
			extend(center[0]+r, center[1]+r)
		case "ellipse", "rectangle", "rectanglegrid":
			w, h := toFloat(el["width"])/2, toFloat(el["height"])/2
			extend(center[0]-w, center[1]-h)
			extend(center[0]+w, center[1]+h)
		default:
			extend(center[0], center[1])
		}
	}
	return left, top, right, bottom
}

func coordList(v any) ([][]float64, bool) {
	raw, ok := v.([]any)
	if !ok {
		return nil, false
	}
	points := make([][]float64, 0, len(raw))
	for _, entry := range raw {
		p, ok := coord(entry)
		if !ok {
			return nil, false
		}
		points = append(points, p)
	}
	return points, true
}

func coord(v any) ([]float64, bool) {
	raw, ok := v.([]any)
	if !ok || len(raw) < 2 {
		return nil, false
	}
	p := make([]float64, len(raw))
	for i, c := range raw {
		p[i] = toFloat(c)
	}
	return p, true
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		f, _ := n.Float64()
		return f
	}
	return 0
}
