package vectorio

import (
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// closeRing returns r with its first point repeated at the end when needed.
// Rings with fewer than three distinct vertices are dropped (nil).
func closeRing(r orb.Ring) orb.Ring {
	if len(r) == 0 {
		return nil
	}
	if !r[0].Equal(r[len(r)-1]) {
		r = append(r, r[0])
	}
	if len(r) < 4 {
		return nil
	}
	return r
}

// assembleRings groups loose rings into polygons by containment: a ring inside
// an outer ring, and not inside one of its holes, becomes a hole of it.
func assembleRings(rings []orb.Ring) orb.Geometry {
	type ringArea struct {
		ring orb.Ring
		area float64
	}

	items := make([]ringArea, 0, len(rings))
	for _, r := range rings {
		if r = closeRing(r); r != nil {
			items = append(items, ringArea{ring: r, area: math.Abs(planar.Area(r))})
		}
	}
	if len(items) == 0 {
		return nil
	}

	sort.SliceStable(items, func(i, j int) bool { return items[i].area > items[j].area })

	var polys []orb.Polygon
	for _, it := range items {
		placed := false
		// later polygons are smaller, so the tightest outer ring is found first
		for i := len(polys) - 1; i >= 0; i-- {
			if planar.RingContains(polys[i][0], it.ring[0]) && !inHole(polys[i], it.ring[0]) {
				polys[i] = append(polys[i], it.ring)
				placed = true
				break
			}
		}
		if !placed {
			polys = append(polys, orb.Polygon{it.ring})
		}
	}

	if len(polys) == 1 {
		return polys[0]
	}
	return orb.MultiPolygon(polys)
}

func inHole(p orb.Polygon, pt orb.Point) bool {
	for _, h := range p[1:] {
		if planar.RingContains(h, pt) {
			return true
		}
	}
	return false
}

// orient returns a copy of r wound in the requested direction.
func orient(r orb.Ring, want orb.Orientation) orb.Ring {
	out := append(orb.Ring(nil), r...)
	if out.Orientation() != want {
		out.Reverse()
	}
	return out
}
