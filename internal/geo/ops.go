package geo

import (
	"errors"
	"fmt"
	"math"

	"github.com/woozymasta/tabgrid/internal/crs"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

// ErrNoCRS is returned when reprojecting a collection without a CRS.
var ErrNoCRS = errors.New("feature collection has no CRS")

// Ops performs the geometry work of the grid pipeline with orb.
type Ops struct {
	Cap CapStyle
}

// Reproject transforms every coordinate of fc into dst, in place.
func (o Ops) Reproject(fc *FeatureCollection, dst crs.CRS) error {
	if fc.CRS.IsZero() {
		return ErrNoCRS
	}

	tr, err := crs.Transform(fc.CRS, dst)
	if err != nil {
		return err
	}

	for i, f := range fc.Features {
		if f.Geometry == nil {
			continue
		}
		g := project.Geometry(f.Geometry, tr)
		if !Finite(g) {
			return fmt.Errorf("feature %d: non-finite coordinates after transform %s -> %s", i, fc.CRS, dst)
		}
		f.Geometry = g
	}

	fc.CRS = dst
	return nil
}

// Square replaces g with the envelope of its buffer at radius.
func (o Ops) Square(g orb.Geometry, radius float64) (orb.Geometry, error) {
	style := o.Cap
	if style == 0 {
		style = CapSquare
	}

	b, err := SquareEnvelope(g, radius, style)
	if err != nil {
		return nil, err
	}
	return b.ToPolygon(), nil
}

// Finite reports whether every coordinate of g is a finite number.
func Finite(g orb.Geometry) bool {
	ok := true
	EachPoint(g, func(p orb.Point) {
		if math.IsNaN(p[0]) || math.IsNaN(p[1]) || math.IsInf(p[0], 0) || math.IsInf(p[1], 0) {
			ok = false
		}
	})
	return ok
}

// EachPoint calls fn for every vertex of g.
func EachPoint(g orb.Geometry, fn func(orb.Point)) {
	switch g := g.(type) {
	case orb.Point:
		fn(g)
	case orb.MultiPoint:
		for _, p := range g {
			fn(p)
		}
	case orb.LineString:
		for _, p := range g {
			fn(p)
		}
	case orb.MultiLineString:
		for _, ls := range g {
			EachPoint(ls, fn)
		}
	case orb.Ring:
		for _, p := range g {
			fn(p)
		}
	case orb.Polygon:
		for _, r := range g {
			EachPoint(r, fn)
		}
	case orb.MultiPolygon:
		for _, p := range g {
			EachPoint(p, fn)
		}
	case orb.Bound:
		fn(g.Min)
		fn(g.Max)
	case orb.Collection:
		for _, m := range g {
			EachPoint(m, fn)
		}
	}
}
