package geo

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/paulmach/orb"
)

// CapStyle selects how buffers end at the open ends of lines (and around points).
type CapStyle int

// Buffer cap styles.
const (
	CapRound CapStyle = iota + 1
	CapFlat
	CapSquare
)

// ParseCapStyle reads "round", "flat" or "square".
func ParseCapStyle(s string) (CapStyle, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "round":
		return CapRound, nil
	case "flat", "butt":
		return CapFlat, nil
	case "square", "":
		return CapSquare, nil
	}
	return 0, fmt.Errorf("unknown cap style %q", s)
}

func (c CapStyle) String() string {
	switch c {
	case CapRound:
		return "round"
	case CapFlat:
		return "flat"
	case CapSquare:
		return "square"
	}
	return fmt.Sprintf("CapStyle(%d)", int(c))
}

var (
	// ErrEmptyGeometry is returned for nil or vertex-less geometries.
	ErrEmptyGeometry = errors.New("empty geometry")
	// ErrEmptyBuffer is returned when the buffer has no area, e.g. a point with flat caps.
	ErrEmptyBuffer = errors.New("buffer is empty")
)

// SquareEnvelope returns the envelope of the buffer of g at the given radius.
//
// Joins between line segments are round. For a point with round or square caps
// the result is a square of side 2*radius centered on the point. Extended
// geometries give their padded extent, which is only square when the geometry
// itself fits in a square.
func SquareEnvelope(g orb.Geometry, radius float64, style CapStyle) (orb.Bound, error) {
	if !(radius > 0) || math.IsInf(radius, 0) {
		return orb.Bound{}, fmt.Errorf("invalid buffer radius %v", radius)
	}

	var env envelope
	if err := env.add(g, radius, style); err != nil {
		return orb.Bound{}, err
	}
	if !env.ok {
		if env.empty != nil {
			return orb.Bound{}, env.empty
		}
		return orb.Bound{}, ErrEmptyGeometry
	}

	return env.b, nil
}

type envelope struct {
	b     orb.Bound
	ok    bool
	empty error // last empty member error, reported when nothing else contributed
}

func (e *envelope) extend(p orb.Point) {
	if !e.ok {
		e.b, e.ok = orb.Bound{Min: p, Max: p}, true
		return
	}
	e.b = e.b.Extend(p)
}

func (e *envelope) pad(p orb.Point, r float64) {
	e.extend(orb.Point{p[0] - r, p[1] - r})
	e.extend(orb.Point{p[0] + r, p[1] + r})
}

func (e *envelope) add(g orb.Geometry, r float64, style CapStyle) error {
	switch g := g.(type) {
	case nil:
		return ErrEmptyGeometry
	case orb.Point:
		return e.addPoint(g, r, style)
	case orb.MultiPoint:
		for _, p := range g {
			if err := e.member(e.addPoint(p, r, style)); err != nil {
				return err
			}
		}
	case orb.LineString:
		return e.addLine(g, r, style)
	case orb.MultiLineString:
		for _, ls := range g {
			if err := e.member(e.addLine(ls, r, style)); err != nil {
				return err
			}
		}
	case orb.Ring:
		return e.addArea(orb.Polygon{g}, r)
	case orb.Polygon:
		return e.addArea(g, r)
	case orb.MultiPolygon:
		for _, p := range g {
			if err := e.member(e.addArea(p, r)); err != nil {
				return err
			}
		}
	case orb.Bound:
		return e.addArea(g.ToPolygon(), r)
	case orb.Collection:
		for _, m := range g {
			if err := e.member(e.add(m, r, style)); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unsupported geometry type %T", g)
	}

	if !e.ok && e.empty == nil {
		return ErrEmptyGeometry
	}
	return nil
}

// member records empty results of collection members and passes other errors on.
func (e *envelope) member(err error) error {
	if errors.Is(err, ErrEmptyGeometry) || errors.Is(err, ErrEmptyBuffer) {
		e.empty = err
		return nil
	}
	return err
}

func (e *envelope) addPoint(p orb.Point, r float64, style CapStyle) error {
	if style == CapFlat {
		return ErrEmptyBuffer
	}
	e.pad(p, r)
	return nil
}

func (e *envelope) addLine(ls orb.LineString, r float64, style CapStyle) error {
	pts := make([]orb.Point, 0, len(ls))
	for _, p := range ls {
		if len(pts) == 0 || !p.Equal(pts[len(pts)-1]) {
			pts = append(pts, p)
		}
	}

	switch len(pts) {
	case 0:
		return ErrEmptyGeometry
	case 1:
		return e.addPoint(pts[0], r, style)
	}

	for _, p := range pts[1 : len(pts)-1] {
		e.pad(p, r)
	}
	e.addCap(pts[0], pts[1], r, style)
	e.addCap(pts[len(pts)-1], pts[len(pts)-2], r, style)
	return nil
}

// addCap adds the outline of the line cap at end, where prev is the neighbouring vertex.
func (e *envelope) addCap(end, prev orb.Point, r float64, style CapStyle) {
	if style == CapRound {
		e.pad(end, r)
		return
	}

	dx, dy := end[0]-prev[0], end[1]-prev[1]
	l := math.Hypot(dx, dy)
	dx, dy = dx/l, dy/l
	nx, ny := -dy*r, dx*r

	e.extend(orb.Point{end[0] + nx, end[1] + ny})
	e.extend(orb.Point{end[0] - nx, end[1] - ny})

	if style == CapSquare {
		fx, fy := end[0]+dx*r, end[1]+dy*r
		e.extend(orb.Point{fx + nx, fy + ny})
		e.extend(orb.Point{fx - nx, fy - ny})
	}
}

func (e *envelope) addArea(p orb.Polygon, r float64) error {
	if len(p) == 0 || len(p[0]) == 0 {
		return ErrEmptyGeometry
	}
	b := p[0].Bound()
	e.pad(b.Min, r)
	e.pad(b.Max, r)
	return nil
}
