// Package geo handles the in-memory feature model and the geometry operations
// used to turn features into fixed-size grid squares.
package geo

import (
	"github.com/woozymasta/tabgrid/internal/crs"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// FeatureCollection is an ordered set of features loaded from one file,
// together with its attribute schema and coordinate reference system.
// A zero CRS means the source did not declare one.
type FeatureCollection struct {
	Name     string
	CRS      crs.CRS
	Fields   []Field
	Features []*geojson.Feature
}

// NewFeatureCollection returns an empty collection.
func NewFeatureCollection(name string, c crs.CRS) *FeatureCollection {
	return &FeatureCollection{Name: name, CRS: c, Features: []*geojson.Feature{}}
}

// FromGeoJSON wraps GeoJSON features, inferring the attribute schema.
func FromGeoJSON(name string, fc *geojson.FeatureCollection, c crs.CRS) *FeatureCollection {
	out := NewFeatureCollection(name, c)
	for _, f := range fc.Features {
		if f.Properties == nil {
			f.Properties = geojson.Properties{}
		}
		out.Features = append(out.Features, f)
	}
	out.Fields = InferFields(out.Features)
	return out
}

// Append adds a feature and returns it.
func (fc *FeatureCollection) Append(g orb.Geometry, props geojson.Properties) *geojson.Feature {
	f := geojson.NewFeature(g)
	if props != nil {
		f.Properties = props
	}
	fc.Features = append(fc.Features, f)
	return f
}

// Len returns the number of features.
func (fc *FeatureCollection) Len() int {
	return len(fc.Features)
}

// Bound returns the union of all feature bounds.
// ok is false when no feature carries a geometry.
func (fc *FeatureCollection) Bound() (b orb.Bound, ok bool) {
	for _, f := range fc.Features {
		if f.Geometry == nil {
			continue
		}
		fb := f.Geometry.Bound()
		if !ok {
			b, ok = fb, true
			continue
		}
		b = b.Union(fb)
	}
	return b, ok
}

// GeoJSON returns the features as a GeoJSON collection. Features are shared, not copied.
func (fc *FeatureCollection) GeoJSON() *geojson.FeatureCollection {
	out := geojson.NewFeatureCollection()
	out.Features = append(out.Features, fc.Features...)
	return out
}
