package processor

import (
	"math"

	"github.com/woozymasta/tabgrid/internal/crs"
	"github.com/woozymasta/tabgrid/internal/geo"

	"github.com/dhconnelly/rtreego"
	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"
	"github.com/paulmach/orb"
)

const earthRadiusMeters = 6371000.0

// Quality describes how well the squares of one file match the ground.
type Quality struct {
	// Distortion is the largest relative difference between a square side in
	// the metric CRS and its length on the ground.
	Distortion float64 `json:"distortion"`
	// Overlaps counts squares that intersect at least one other square.
	Overlaps int `json:"overlaps"`
}

// square implements the rtreego.Spatial interface
type square struct {
	rect rtreego.Rect
}

func (s *square) Bounds() rtreego.Rect { return s.rect }

// Measure computes the quality report of squares held in a projected CRS.
func Measure(fc *geo.FeatureCollection) (Quality, error) {
	var q Quality

	tr, err := crs.Transform(fc.CRS, crs.WGS84)
	if err != nil {
		return q, err
	}
	geographic := fc.CRS.IsGeographic()

	// 2D index with min 25, max 50 entries per node
	tree := rtreego.NewTree(2, 25, 50)
	var squares []*square

	for _, f := range fc.Features {
		if f.Geometry == nil {
			continue
		}
		b := f.Geometry.Bound()

		rect, err := rtreego.NewRect(
			rtreego.Point{b.Min[0], b.Min[1]},
			[]float64{b.Max[0] - b.Min[0], b.Max[1] - b.Min[1]},
		)
		if err == nil {
			s := &square{rect: rect}
			tree.Insert(s)
			squares = append(squares, s)
		}

		if !geographic {
			if d := distortion(b, tr); d > q.Distortion {
				q.Distortion = d
			}
		}
	}

	for _, s := range squares {
		// the square itself is always part of the result
		if len(tree.SearchIntersect(s.rect)) > 1 {
			q.Overlaps++
		}
	}

	return q, nil
}

// distortion compares the bottom and left edges of b with their ground length.
func distortion(b orb.Bound, toWGS84 orb.Projection) float64 {
	sw := toWGS84(b.Min)
	se := toWGS84(orb.Point{b.Max[0], b.Min[1]})
	nw := toWGS84(orb.Point{b.Min[0], b.Max[1]})

	d := 0.0
	for _, edge := range []struct {
		metric float64
		a, b   orb.Point
	}{
		{b.Max[0] - b.Min[0], sw, se},
		{b.Max[1] - b.Min[1], sw, nw},
	} {
		ground := groundDistance(edge.a, edge.b)
		if ground <= 0 || math.IsNaN(ground) {
			continue
		}
		if rel := math.Abs(edge.metric-ground) / ground; rel > d {
			d = rel
		}
	}
	return d
}

// groundDistance is the great circle distance in metres between two lon/lat points.
func groundDistance(a, b orb.Point) float64 {
	p1 := s2.PointFromLatLng(s2.LatLngFromDegrees(a[1], a[0]))
	p2 := s2.PointFromLatLng(s2.LatLngFromDegrees(b[1], b[0]))

	angle := s1.Angle(s2.ChordAngleBetweenPoints(p1, p2).Angle())
	return angle.Radians() * earthRadiusMeters
}

// SuggestCRS returns the UTM zone covering the center of the data in fc.
func SuggestCRS(fc *geo.FeatureCollection) (crs.CRS, bool) {
	b, ok := fc.Bound()
	if !ok {
		return crs.CRS{}, false
	}

	tr, err := crs.Transform(fc.CRS, crs.WGS84)
	if err != nil {
		return crs.CRS{}, false
	}

	c := tr(b.Center())
	if !geo.Finite(c) || math.Abs(c[1]) > 90 {
		return crs.CRS{}, false
	}
	return crs.UTMZoneFor(c[0], c[1]), true
}
