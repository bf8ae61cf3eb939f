package geo

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// PolygonsIntersect reports whether two polygons share any area or touch.
// Covers the three cases chunk selection needs: a vertex of one inside
// the other (either direction) and crossing edges with no contained
// vertices.
func PolygonsIntersect(a, b orb.Polygon) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	if !a.Bound().Intersects(b.Bound()) {
		return false
	}
	for _, pt := range a[0] {
		if planar.PolygonContains(b, pt) {
			return true
		}
	}
	for _, pt := range b[0] {
		if planar.PolygonContains(a, pt) {
			return true
		}
	}
	for i := 1; i < len(a[0]); i++ {
		for j := 1; j < len(b[0]); j++ {
			if segmentsCross(a[0][i-1], a[0][i], b[0][j-1], b[0][j]) {
				return true
			}
		}
	}
	return false
}

// CentroidDistance returns the planar distance between the centroids of
// two polygons, the ordering key for nearest-first chunk selection.
func CentroidDistance(a, b orb.Polygon) float64 {
	ca, _ := planar.CentroidArea(a)
	cb, _ := planar.CentroidArea(b)
	return planar.Distance(ca, cb)
}

// BoundPolygon converts an orb.Bound into a closed polygon ring.
func BoundPolygon(bound orb.Bound) orb.Polygon {
	return orb.Polygon{orb.Ring{
		{bound.Min[0], bound.Min[1]},
		{bound.Max[0], bound.Min[1]},
		{bound.Max[0], bound.Max[1]},
		{bound.Min[0], bound.Max[1]},
		{bound.Min[0], bound.Min[1]},
	}}
}

// segmentsCross reports whether segments p1-p2 and p3-p4 intersect.
func segmentsCross(p1, p2, p3, p4 orb.Point) bool {
	d1 := cross(p3, p4, p1)
	d2 := cross(p3, p4, p2)
	d3 := cross(p1, p2, p3)
	d4 := cross(p1, p2, p4)

	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}
	return onSegment(p3, p4, p1, d1) || onSegment(p3, p4, p2, d2) ||
		onSegment(p1, p2, p3, d3) || onSegment(p1, p2, p4, d4)
}

func cross(a, b, p orb.Point) float64 {
	return (b[0]-a[0])*(p[1]-a[1]) - (b[1]-a[1])*(p[0]-a[0])
}

func onSegment(a, b, p orb.Point, d float64) bool {
	const eps = 1e-12
	if math.Abs(d) > eps {
		return false
	}
	return p[0] >= math.Min(a[0], b[0])-eps && p[0] <= math.Max(a[0], b[0])+eps &&
		p[1] >= math.Min(a[1], b[1])-eps && p[1] <= math.Max(a[1], b[1])+eps
}
