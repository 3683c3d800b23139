package vectorio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/woozymasta/tabgrid/internal/crs"
	"github.com/woozymasta/tabgrid/internal/geo"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog/log"
)

// dbfNameLen is the longest column name a dBase header can hold.
const dbfNameLen = 10

// Shapefile reads and writes ESRI Shapefiles (.shp, .shx, .dbf and .prj).
type Shapefile struct{}

// Extension implements Writer.
func (Shapefile) Extension() string { return ".shp" }

// Write implements Writer. All geometries must belong to one shape family.
func (Shapefile) Write(ctx context.Context, fc *geo.FeatureCollection, path string) ([]string, error) {
	shapeType, err := shapeTypeOf(fc.Features)
	if err != nil {
		return nil, err
	}

	fields := fc.Fields
	if len(fields) == 0 {
		// dBase needs at least one column
		fields = []geo.Field{{Name: "FID", Type: geo.FieldInteger, Width: 11}}
	}
	dbfFields, err := dbfSchema(fields)
	if err != nil {
		return nil, err
	}

	w, err := shp.Create(path, shapeType)
	if err != nil {
		return nil, err
	}
	closed := false
	defer func() {
		if !closed {
			w.Close()
		}
	}()

	if err := w.SetFields(dbfFields); err != nil {
		return nil, err
	}

	for i, f := range fc.Features {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		shape, err := toShape(f.Geometry)
		if err != nil {
			return nil, fmt.Errorf("feature %d: %w", i, err)
		}
		row := int(w.Write(shape))

		for j, fld := range fields {
			var v any = f.Properties[fld.Name]
			if len(fc.Fields) == 0 {
				v = i
			}
			if err := w.WriteAttribute(row, j, dbfValue(fld, v)); err != nil {
				return nil, fmt.Errorf("feature %d field %s: %w", i, fld.Name, err)
			}
		}
	}

	w.Close()
	closed = true

	base := strings.TrimSuffix(path, ".shp")
	if err := fixDBFName(base); err != nil {
		return nil, err
	}
	files := []string{path, base + ".shx", base + ".dbf"}

	if !fc.CRS.IsZero() {
		wkt, err := fc.CRS.WKT()
		if err != nil {
			return files, err
		}
		if err := os.WriteFile(base+".prj", []byte(wkt), 0644); err != nil {
			return files, err
		}
		files = append(files, base+".prj")
	}

	log.Debug().Str("file", path).Int("features", len(fc.Features)).Msg("Shapefile written")
	return files, nil
}

// fixDBFName moves the attribute table go-shp creates as "<base>dbf"
// (without the dot) to "<base>.dbf".
func fixDBFName(base string) error {
	if _, err := os.Stat(base + "dbf"); errors.Is(err, os.ErrNotExist) {
		_, err := os.Stat(base + ".dbf")
		return err
	}
	if err := os.Rename(base+"dbf", base+".dbf"); err != nil {
		return fmt.Errorf("attribute table: %w", err)
	}
	return nil
}

// shapeTypeOf picks the shapefile type for a set of geometries.
func shapeTypeOf(features []*geojson.Feature) (shp.ShapeType, error) {
	t := shp.NULL
	for i, f := range features {
		var ft shp.ShapeType
		switch f.Geometry.(type) {
		case nil:
			continue
		case orb.Point:
			ft = shp.POINT
		case orb.MultiPoint:
			ft = shp.MULTIPOINT
		case orb.LineString, orb.MultiLineString:
			ft = shp.POLYLINE
		case orb.Ring, orb.Polygon, orb.MultiPolygon, orb.Bound:
			ft = shp.POLYGON
		default:
			return 0, fmt.Errorf("feature %d: geometry %T cannot be stored in a shapefile", i, f.Geometry)
		}
		if t != shp.NULL && t != ft {
			return 0, fmt.Errorf("feature %d: mixed geometry types in one shapefile", i)
		}
		t = ft
	}
	return t, nil
}

func toShape(g orb.Geometry) (shp.Shape, error) {
	switch g := g.(type) {
	case nil:
		return &shp.Null{}, nil
	case orb.Point:
		return &shp.Point{X: g[0], Y: g[1]}, nil
	case orb.MultiPoint:
		pts := shpPoints(g)
		return &shp.MultiPoint{Box: shp.BBoxFromPoints(pts), NumPoints: int32(len(pts)), Points: pts}, nil
	case orb.LineString:
		return shp.NewPolyLine([][]shp.Point{shpPoints(g)}), nil
	case orb.MultiLineString:
		parts := make([][]shp.Point, 0, len(g))
		for _, ls := range g {
			parts = append(parts, shpPoints(ls))
		}
		return shp.NewPolyLine(parts), nil
	case orb.Ring:
		return shpPolygon(orb.MultiPolygon{{g}})
	case orb.Polygon:
		return shpPolygon(orb.MultiPolygon{g})
	case orb.MultiPolygon:
		return shpPolygon(g)
	case orb.Bound:
		return shpPolygon(orb.MultiPolygon{g.ToPolygon()})
	}
	return nil, fmt.Errorf("unsupported geometry type %T", g)
}

// shpPolygon writes outer rings clockwise and holes counter-clockwise.
func shpPolygon(mp orb.MultiPolygon) (shp.Shape, error) {
	var parts [][]shp.Point
	for _, p := range mp {
		for i, r := range p {
			r = closeRing(append(orb.Ring(nil), r...))
			if r == nil {
				continue
			}
			want := orb.CW
			if i > 0 {
				want = orb.CCW
			}
			parts = append(parts, shpPoints(orient(r, want)))
		}
	}
	if len(parts) == 0 {
		return &shp.Null{}, nil
	}
	polygon := shp.Polygon(*shp.NewPolyLine(parts))
	return &polygon, nil
}

func shpPoints[T ~[]orb.Point](ps T) []shp.Point {
	out := make([]shp.Point, len(ps))
	for i, p := range ps {
		out[i] = shp.Point{X: p[0], Y: p[1]}
	}
	return out
}

// dbfSchema converts the schema to dBase columns with unique, truncated names.
func dbfSchema(fields []geo.Field) ([]shp.Field, error) {
	out := make([]shp.Field, 0, len(fields))
	used := make(map[string]bool, len(fields))

	for _, f := range fields {
		name := uniqueName(dbfName(f.Name), used)
		used[strings.ToUpper(name)] = true

		width := f.Width
		switch f.Type {
		case geo.FieldInteger:
			width = clamp(width, 1, 18)
			out = append(out, shp.NumberField(name, uint8(width)))
		case geo.FieldFloat:
			width = clamp(width, 3, 24)
			dec := clamp(f.Decimals, 0, width-2)
			out = append(out, shp.FloatField(name, uint8(width), uint8(dec)))
		case geo.FieldDate:
			out = append(out, shp.DateField(name))
		case geo.FieldLogical:
			fld := shp.StringField(name, 1)
			fld.Fieldtype = 'L'
			out = append(out, fld)
		case geo.FieldString:
			out = append(out, shp.StringField(name, uint8(clamp(width, 1, 254))))
		default:
			return nil, fmt.Errorf("field %s: unsupported type %s", f.Name, f.Type)
		}
	}
	return out, nil
}

func dbfName(name string) string {
	name = geo.NormalizeName(name)
	for len(name) > dbfNameLen {
		_, size := utf8.DecodeLastRuneInString(name)
		name = name[:len(name)-size]
	}
	return name
}

func uniqueName(name string, used map[string]bool) string {
	if !used[strings.ToUpper(name)] {
		return name
	}
	for n := 1; ; n++ {
		suffix := "_" + strconv.Itoa(n)
		base := name
		for len(base)+len(suffix) > dbfNameLen {
			_, size := utf8.DecodeLastRuneInString(base)
			base = base[:len(base)-size]
		}
		if cand := base + suffix; !used[strings.ToUpper(cand)] {
			return cand
		}
	}
}

// dbfValue formats v to fill its column exactly: text is left aligned,
// numbers are right aligned and overlong values are cut at a rune boundary.
func dbfValue(f geo.Field, v any) string {
	width := f.Width
	var s string

	switch f.Type {
	case geo.FieldInteger:
		width = clamp(width, 1, 18)
		switch x := v.(type) {
		case nil:
		case float64:
			s = strconv.FormatInt(int64(x), 10)
		default:
			s = geo.FormatValue(x)
		}
		return padLeft(s, width)
	case geo.FieldFloat:
		width = clamp(width, 3, 24)
		dec := clamp(f.Decimals, 0, width-2)
		switch x := v.(type) {
		case nil:
		case float64:
			s = strconv.FormatFloat(x, 'f', dec, 64)
		default:
			s = geo.FormatValue(x)
		}
		return padLeft(s, width)
	case geo.FieldDate:
		width = 8
		s = strings.ReplaceAll(geo.FormatValue(v), "-", "")
	case geo.FieldLogical:
		width = 1
		s = geo.FormatValue(v)
	default:
		width = clamp(width, 1, 254)
		s = geo.FormatValue(v)
	}
	return padRight(s, width)
}

func padLeft(s string, width int) string {
	if len(s) > width {
		return strings.Repeat("*", width)
	}
	return strings.Repeat(" ", width-len(s)) + s
}

func padRight(s string, width int) string {
	for len(s) > width {
		_, size := utf8.DecodeLastRuneInString(s)
		s = s[:len(s)-size]
	}
	return s + strings.Repeat(" ", width-len(s))
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

// Read implements Reader. The CRS comes from the .prj sidecar when present.
func (Shapefile) Read(ctx context.Context, path string) (*geo.FeatureCollection, error) {
	r, err := shp.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var c crs.CRS
	prj := strings.TrimSuffix(path, ".shp") + ".prj"
	if data, err := os.ReadFile(prj); err == nil {
		if c, err = crs.ParseWKT(string(data)); err != nil {
			return nil, fmt.Errorf("%s: %w", prj, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	fc := geo.NewFeatureCollection(layerName(path), c)

	dbf := r.Fields()
	for _, f := range dbf {
		fc.Fields = append(fc.Fields, fieldFromDBF(f))
	}

	for r.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		n, shape := r.Shape()
		g, err := fromShape(shape)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", n, err)
		}

		props := geojson.Properties{}
		for k, fld := range fc.Fields {
			props[fld.Name] = parseDBF(fld, r.ReadAttribute(n, k))
		}
		fc.Append(g, props)
	}

	return fc, nil
}

func fieldFromDBF(f shp.Field) geo.Field {
	out := geo.Field{Name: f.String(), Width: int(f.Size), Decimals: int(f.Precision)}
	switch f.Fieldtype {
	case 'N':
		out.Type = geo.FieldInteger
		if f.Precision > 0 {
			out.Type = geo.FieldFloat
		}
	case 'F':
		out.Type = geo.FieldFloat
	case 'D':
		out.Type = geo.FieldDate
	case 'L':
		out.Type = geo.FieldLogical
	default:
		out.Type = geo.FieldString
	}
	return out
}

func parseDBF(f geo.Field, raw string) any {
	s := strings.Trim(raw, " \x00")
	if s == "" || strings.Trim(s, "*") == "" && f.Type != geo.FieldString {
		return nil
	}

	switch f.Type {
	case geo.FieldInteger:
		if v, err := strconv.ParseInt(s, 10, 64); err == nil {
			return v
		}
	case geo.FieldFloat:
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			return v
		}
	case geo.FieldLogical:
		switch s {
		case "T", "t", "Y", "y":
			return true
		case "F", "f", "N", "n":
			return false
		}
		return nil
	}
	return s
}

func fromShape(s shp.Shape) (orb.Geometry, error) {
	switch s := s.(type) {
	case nil, *shp.Null:
		return nil, nil
	case *shp.Point:
		return orb.Point{s.X, s.Y}, nil
	case *shp.PointZ:
		return orb.Point{s.X, s.Y}, nil
	case *shp.PointM:
		return orb.Point{s.X, s.Y}, nil
	case *shp.MultiPoint:
		return orb.MultiPoint(orbPoints(s.Points)), nil
	case *shp.MultiPointZ:
		return orb.MultiPoint(orbPoints(s.Points)), nil
	case *shp.MultiPointM:
		return orb.MultiPoint(orbPoints(s.Points)), nil
	case *shp.PolyLine:
		return lineFromParts(s.Points, s.Parts), nil
	case *shp.PolyLineZ:
		return lineFromParts(s.Points, s.Parts), nil
	case *shp.PolyLineM:
		return lineFromParts(s.Points, s.Parts), nil
	case *shp.Polygon:
		return polygonFromParts(s.Points, s.Parts), nil
	case *shp.PolygonZ:
		return polygonFromParts(s.Points, s.Parts), nil
	case *shp.PolygonM:
		return polygonFromParts(s.Points, s.Parts), nil
	}
	return nil, fmt.Errorf("unsupported shape %T", s)
}

func orbPoints(ps []shp.Point) []orb.Point {
	out := make([]orb.Point, len(ps))
	for i, p := range ps {
		out[i] = orb.Point{p.X, p.Y}
	}
	return out
}

// splitParts cuts a point array at the part start offsets.
func splitParts(points []shp.Point, parts []int32) [][]orb.Point {
	out := make([][]orb.Point, 0, len(parts))
	for i, start := range parts {
		end := int32(len(points))
		if i+1 < len(parts) {
			end = parts[i+1]
		}
		if start < 0 || start > end || int(end) > len(points) {
			continue
		}
		out = append(out, orbPoints(points[start:end]))
	}
	return out
}

func lineFromParts(points []shp.Point, parts []int32) orb.Geometry {
	split := splitParts(points, parts)
	switch len(split) {
	case 0:
		return nil
	case 1:
		return orb.LineString(split[0])
	}
	mls := make(orb.MultiLineString, len(split))
	for i, p := range split {
		mls[i] = p
	}
	return mls
}

func polygonFromParts(points []shp.Point, parts []int32) orb.Geometry {
	split := splitParts(points, parts)
	rings := make([]orb.Ring, len(split))
	for i, p := range split {
		rings[i] = p
	}
	return assembleRings(rings)
}
