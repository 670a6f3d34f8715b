// Package geometry normalizes polygon boundaries before elements are
// indexed: outer rings are rewound clockwise, holes counter-clockwise,
// and self-intersections are split at the crossing point and re-linked so
// each ring is non-crossing.
package geometry

// maxUncrossPasses bounds the pinch loop; each pass removes one crossing,
// so a ring of n edges can need at most n*n passes.
const maxUncrossPasses = 10000

// UncrossPolygon normalizes a single outer boundary.  Points are [x, y]
// or [x, y, z] slices; only the first two coordinates are used.  An input
// reducing to fewer than 3 usable points yields an empty slice.
func UncrossPolygon(polygon [][]float64) [][]float64 {
	ring := usablePoints(polygon)
	if len(ring) < 3 {
		return [][]float64{}
	}
	ring = uncrossRing(ring)
	return windRing(ring, true)
}

// UncrossPolygonAndHoles normalizes an outer boundary plus zero or more
// hole boundaries.  Degenerate holes are dropped; a hole that crosses the
// outer boundary is merged into it at the crossing points.  A degenerate
// outer boundary yields a single empty ring regardless of the holes.
func UncrossPolygonAndHoles(rings [][][]float64) [][][]float64 {
	if len(rings) == 0 {
		return [][][]float64{}
	}
	outer := usablePoints(rings[0])
	if len(outer) < 3 {
		return [][][]float64{{}}
	}
	outer = uncrossRing(outer)

	result := [][][]float64{nil}
	for _, raw := range rings[1:] {
		hole := usablePoints(raw)
		if len(hole) < 3 {
			continue
		}
		hole = uncrossRing(hole)
		if i, j, x, crossed := firstRingCrossing(outer, hole); crossed {
			outer = spliceRings(outer, hole, i, j, x)
			outer = uncrossRing(outer)
			continue
		}
		result = append(result, windRing(hole, false))
	}
	result[0] = windRing(outer, true)
	return result
}

// usablePoints copies the x/y coordinates and drops consecutive
// duplicates, including a closing point equal to the first.
func usablePoints(polygon [][]float64) [][2]float64 {
	pts := make([][2]float64, 0, len(polygon))
	for _, p := range polygon {
		if len(p) < 2 {
			continue
		}
		pt := [2]float64{p[0], p[1]}
		if len(pts) > 0 && pts[len(pts)-1] == pt {
			continue
		}
		pts = append(pts, pt)
	}
	for len(pts) > 1 && pts[0] == pts[len(pts)-1] {
		pts = pts[:len(pts)-1]
	}
	return pts
}

// uncrossRing removes self-intersections by pinching the ring at each
// crossing point and reversing the enclosed path, until no proper
// crossings remain.
func uncrossRing(ring [][2]float64) [][2]float64 {
	for pass := 0; pass < maxUncrossPasses; pass++ {
		i, j, x, crossed := firstSelfCrossing(ring)
		if !crossed {
			break
		}
		pinched := make([][2]float64, 0, len(ring)+2)
		pinched = append(pinched, ring[:i+1]...)
		pinched = append(pinched, x)
		for k := j; k > i; k-- {
			pinched = append(pinched, ring[k])
		}
		pinched = append(pinched, x)
		pinched = append(pinched, ring[j+1:]...)
		ring = usablePoints(toSlices(pinched))
	}
	return ring
}

func firstSelfCrossing(ring [][2]float64) (int, int, [2]float64, bool) {
	n := len(ring)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			// Adjacent edges share an endpoint and never cross properly
			if j == i+1 || (i == 0 && j == n-1) {
				continue
			}
			a1, a2 := ring[i], ring[(i+1)%n]
			b1, b2 := ring[j], ring[(j+1)%n]
			if x, ok := segmentCrossing(a1, a2, b1, b2); ok {
				return i, j, x, true
			}
		}
	}
	return 0, 0, [2]float64{}, false
}

func firstRingCrossing(outer, hole [][2]float64) (int, int, [2]float64, bool) {
	for i := 0; i < len(outer); i++ {
		a1, a2 := outer[i], outer[(i+1)%len(outer)]
		for j := 0; j < len(hole); j++ {
			b1, b2 := hole[j], hole[(j+1)%len(hole)]
			if x, ok := segmentCrossing(a1, a2, b1, b2); ok {
				return i, j, x, true
			}
		}
	}
	return 0, 0, [2]float64{}, false
}

// spliceRings joins a crossing hole into the outer ring at x, between
// outer edge i and hole edge j, producing one combined ring.
func spliceRings(outer, hole [][2]float64, i, j int, x [2]float64) [][2]float64 {
	combined := make([][2]float64, 0, len(outer)+len(hole)+2)
	combined = append(combined, outer[:i+1]...)
	combined = append(combined, x)
	for k := range hole {
		combined = append(combined, hole[(j+1+k)%len(hole)])
	}
	combined = append(combined, x)
	combined = append(combined, outer[i+1:]...)
	return usablePoints(toSlices(combined))
}

// segmentCrossing returns the intersection of two segments when they
// properly cross, excluding shared endpoints and mere touches.
func segmentCrossing(a1, a2, b1, b2 [2]float64) ([2]float64, bool) {
	d1x, d1y := a2[0]-a1[0], a2[1]-a1[1]
	d2x, d2y := b2[0]-b1[0], b2[1]-b1[1]
	denom := d1x*d2y - d1y*d2x
	if denom == 0 {
		return [2]float64{}, false
	}
	t := ((b1[0]-a1[0])*d2y - (b1[1]-a1[1])*d2x) / denom
	u := ((b1[0]-a1[0])*d1y - (b1[1]-a1[1])*d1x) / denom
	const eps = 1e-10
	if t <= eps || t >= 1-eps || u <= eps || u >= 1-eps {
		return [2]float64{}, false
	}
	return [2]float64{a1[0] + t*d1x, a1[1] + t*d1y}, true
}

// signedArea2 is twice the signed area; negative means clockwise in the
// y-down image coordinate convention used here.
func signedArea2(ring [][2]float64) float64 {
	var sum float64
	for i, p := range ring {
		q := ring[(i+1)%len(ring)]
		sum += p[0]*q[1] - q[0]*p[1]
	}
	return sum
}

// windRing fixes ring orientation: clockwise for outer boundaries,
// counter-clockwise for holes.  Outer rings keep their first point first.
func windRing(ring [][2]float64, clockwise bool) [][]float64 {
	area := signedArea2(ring)
	reversed := (clockwise && area > 0) || (!clockwise && area < 0)
	if !reversed {
		return toSlices(ring)
	}
	out := make([][2]float64, 0, len(ring))
	if clockwise {
		out = append(out, ring[0])
		for i := len(ring) - 1; i > 0; i-- {
			out = append(out, ring[i])
		}
	} else {
		for i := len(ring) - 1; i >= 0; i-- {
			out = append(out, ring[i])
		}
	}
	return toSlices(out)
}

func toSlices(ring [][2]float64) [][]float64 {
	out := make([][]float64, len(ring))
	for i, p := range ring {
		out[i] = []float64{p[0], p[1]}
	}
	return out
}
