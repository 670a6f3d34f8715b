package annotation

import (
	"fmt"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"

	"image-annotation-service/internal/element"
	"image-annotation-service/internal/errors"
	"image-annotation-service/internal/logger"
	"image-annotation-service/internal/metrics"
)

var (
	idPattern = regexp.MustCompile(`^[0-9a-f]{24}$`)
	// Accepts #abc / #aabbcc hex, rgb(r, g, b) and rgba(r, g, b, a)
	colorPattern = regexp.MustCompile(`^(#[0-9a-fA-F]{3,6}|rgb\(\d+,\s*\d+,\s*\d+\)|rgba\(\d+,\s*\d+,\s*\d+,\s*(\d?\.|)\d+\))$`)
)

// geometry keys required per shape kind, beyond the type tag itself
var shapeRequired = map[string][]string{
	"point":         {"center"},
	"arrow":         {"points"},
	"circle":        {"center", "radius"},
	"ellipse":       {"center", "width", "height"},
	"rectangle":     {"center", "width", "height"},
	"rectanglegrid": {"center", "width", "height", "widthSubdivisions", "heightSubdivisions"},
	"polyline":      {"points"},
}

// envelope is the metadata validated once per save
type envelope struct {
	Name        string `validate:"required,min=1"`
	Description string
}

// Validator checks the metadata envelope and each element against the
// shape schemas.  Validating every element of a large homogeneous array
// is slow, so elements structurally similar to the previously validated
// one are skipped.
type Validator struct {
	validate *validator.Validate
	metrics  *metrics.Metrics
	log      *logger.Logger
}

// NewValidator creates the schema validator
func NewValidator(m *metrics.Metrics) *Validator {
	return &Validator{
		validate: validator.New(),
		metrics:  m,
		log:      logger.GetGlobalLogger().WithComponent("validator"),
	}
}

// Validate checks ann and all of its elements.  It fails before anything
// is written: on schema mismatch, malformed shapes, or duplicate explicit
// element identifiers.
func (v *Validator) Validate(ann *Annotation) error {
	start := time.Now()
	if err := v.validate.Struct(envelope{Name: ann.Name, Description: ann.Description}); err != nil {
		return errors.Validation("Invalid annotation", err)
	}

	var lastValidated map[string]any
	for i, el := range ann.Elements {
		current := map[string]any(el)
		if lastValidated != nil && similarStructure(current, lastValidated, "") {
			if v.metrics != nil {
				v.metrics.ElementsSkipped.Inc()
			}
			continue
		}
		if err := validateElement(el); err != nil {
			return errors.Validation(fmt.Sprintf("Invalid element %d", i), err)
		}
		lastValidated = current
		if v.metrics != nil {
			v.metrics.ElementsValidated.Inc()
		}
	}

	seen := make(map[string]bool)
	for _, el := range ann.Elements {
		id := el.ID()
		if id == "" {
			continue
		}
		if seen[id] {
			return errors.Validation("Annotation element IDs are not unique", nil)
		}
		seen[id] = true
	}

	if v.metrics != nil {
		v.metrics.ValidateDuration.Observe(time.Since(start).Seconds())
	}
	v.log.Debug().Dur("duration", time.Since(start)).Int("elements", len(ann.Elements)).Msg("Validated annotation")
	return nil
}

// similarStructure compares two values to determine whether they are
// similar enough that if one validates, the other should too.  Kinds must
// match, mappings must share a key set, and sequences must share a
// length.  Numeric values always compare equal, id keys only need to be
// 24-hex tokens, label values are ignored, and a points sequence may
// drift in length when both sides have at least 3 entries and every
// entry of the second is a 3-numeric coordinate tuple.
func similarStructure(a, b any, parentKey string) bool {
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, aval := range av {
			bval, ok := bv[k]
			if !ok {
				return false
			}
			if k == "id" {
				s, ok := bval.(string)
				if !ok || !idPattern.MatchString(s) {
					return false
				}
				continue
			}
			if parentKey == "label" && k == "value" {
				continue
			}
			if !similarStructure(aval, bval, k) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok {
			return false
		}
		if len(av) != len(bv) {
			if parentKey != "points" || len(av) < 3 || len(bv) < 3 {
				return false
			}
			// Point arrays may drift in length, e.g. after boundary
			// normalization, as long as each entry is an x/y/z tuple
			for _, entry := range bv {
				tuple, ok := entry.([]any)
				if !ok || len(tuple) != 3 {
					return false
				}
				for _, c := range tuple {
					if !isNumber(c) {
						return false
					}
				}
			}
			return true
		}
		for i := range av {
			if !similarStructure(av[i], bv[i], parentKey) {
				return false
			}
		}
		return true
	default:
		if isNumber(a) {
			return isNumber(b)
		}
		return a == b
	}
}

func isNumber(v any) bool {
	switch v.(type) {
	case float64, float32, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return true
	}
	return false
}

// validateElement fully checks one element against its shape schema
func validateElement(el element.Element) error {
	kind := el.Type()
	if kind == "" {
		return fmt.Errorf("element is missing a type")
	}
	required, ok := shapeRequired[kind]
	if !ok {
		return fmt.Errorf("unknown element type %q", kind)
	}
	for _, key := range required {
		if _, present := el[key]; !present {
			return fmt.Errorf("%s element is missing %q", kind, key)
		}
	}

	if raw, present := el["id"]; present {
		id, ok := raw.(string)
		if !ok || !idPattern.MatchString(id) {
			return fmt.Errorf("element id must be a 24-character hex token")
		}
	}

	for _, key := range []string{"center", "nose", "tail", "left", "right", "vector"} {
		if raw, present := el[key]; present {
			if !validCoordinate(raw) {
				return fmt.Errorf("%q must be an x, y[, z] coordinate", key)
			}
		}
	}

	if raw, present := el["points"]; present {
		if err := validatePoints(kind, raw); err != nil {
			return err
		}
	}

	for _, key := range []string{"radius", "width", "height", "lineWidth"} {
		if raw, present := el[key]; present {
			if !isNumber(raw) || toFloat(raw) < 0 {
				return fmt.Errorf("%q must be a non-negative number", key)
			}
		}
	}
	for _, key := range []string{"widthSubdivisions", "heightSubdivisions"} {
		if raw, present := el[key]; present {
			if !isNumber(raw) || toFloat(raw) < 1 {
				return fmt.Errorf("%q must be a positive integer", key)
			}
		}
	}

	for _, key := range []string{"lineColor", "fillColor"} {
		if raw, present := el[key]; present {
			s, ok := raw.(string)
			if !ok || !colorPattern.MatchString(s) {
				return fmt.Errorf("%q must be a hex, rgb or rgba color", key)
			}
		}
	}

	if raw, present := el["group"]; present {
		if _, ok := raw.(string); !ok {
			return fmt.Errorf("\"group\" must be a string")
		}
	}
	if raw, present := el["closed"]; present {
		if _, ok := raw.(bool); !ok {
			return fmt.Errorf("\"closed\" must be a boolean")
		}
	}
	if raw, present := el["label"]; present {
		if err := validateLabel(raw); err != nil {
			return err
		}
	}
	return nil
}

func validatePoints(kind string, raw any) error {
	points, ok := raw.([]any)
	if !ok {
		return fmt.Errorf("\"points\" must be a sequence of coordinates")
	}
	for _, p := range points {
		if !validCoordinate(p) {
			return fmt.Errorf("\"points\" entries must be x, y[, z] coordinates")
		}
	}
	switch kind {
	case "arrow":
		if len(points) != 2 {
			return fmt.Errorf("arrow elements need exactly 2 points")
		}
	case "polyline":
		if len(points) < 2 {
			return fmt.Errorf("polyline elements need at least 2 points")
		}
	}
	return nil
}

func validCoordinate(raw any) bool {
	coord, ok := raw.([]any)
	if !ok || len(coord) < 2 || len(coord) > 3 {
		return false
	}
	for _, c := range coord {
		if !isNumber(c) {
			return false
		}
	}
	return true
}

func validateLabel(raw any) error {
	label, ok := raw.(map[string]any)
	if !ok {
		return fmt.Errorf("\"label\" must be a mapping")
	}
	value, present := label["value"]
	if !present {
		return fmt.Errorf("label is missing \"value\"")
	}
	if _, ok := value.(string); !ok {
		return fmt.Errorf("label value must be a string")
	}
	if raw, present := label["visibility"]; present {
		s, ok := raw.(string)
		if !ok || (s != "hidden" && s != "always" && s != "onhover") {
			return fmt.Errorf("label visibility must be hidden, always or onhover")
		}
	}
	if raw, present := label["fontSize"]; present {
		if !isNumber(raw) || toFloat(raw) <= 0 {
			return fmt.Errorf("label fontSize must be a positive number")
		}
	}
	if raw, present := label["color"]; present {
		s, ok := raw.(string)
		if !ok || !colorPattern.MatchString(s) {
			return fmt.Errorf("label color must be a hex, rgb or rgba color")
		}
	}
	return nil
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int8:
		return float64(n)
	case int16:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case uint:
		return float64(n)
	case uint8:
		return float64(n)
	case uint16:
		return float64(n)
	case uint32:
		return float64(n)
	case uint64:
		return float64(n)
	}
	return 0
}
