package vectorio

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/woozymasta/tabgrid/internal/crs"
	"github.com/woozymasta/tabgrid/internal/geo"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	r := Default("")

	assert.True(t, r.CanRead(".TAB"))
	assert.True(t, r.CanRead("mif"))
	assert.False(t, r.CanRead(".kml"))
	assert.True(t, slices.Contains(r.Extensions(), ".tab"))

	ext, err := r.Extension("esri shapefile")
	require.NoError(t, err)
	assert.Equal(t, ".shp", ext)

	_, err = r.Extension("KML")
	assert.True(t, errors.Is(err, ErrUnknownFormat))

	_, err = r.Read(context.Background(), "x.kml")
	assert.True(t, errors.Is(err, ErrUnknownFormat))

	_, err = r.Write(context.Background(), geo.NewFeatureCollection("x", crs.WGS84), "x.kml", "KML")
	assert.True(t, errors.Is(err, ErrUnknownFormat))
}

func TestGeoJSONRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out", "sites.geojson")

	fc := geo.NewFeatureCollection("sites", crs.UTM(29, false))
	fc.Append(orb.Point{500000, 4000000}, geojson.Properties{"name": "a", "id": 1.0})
	fc.Append(nil, geojson.Properties{"name": "b", "id": 2.0})

	files, err := GeoJSON{}.Write(context.Background(), fc, path)
	require.NoError(t, err)
	assert.Equal(t, []string{path}, files)

	got, err := GeoJSON{}.Read(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, crs.UTM(29, false), got.CRS)
	assert.Equal(t, "sites", got.Name)
	require.Equal(t, 2, got.Len())
	assert.Equal(t, orb.Point{500000, 4000000}, got.Features[0].Geometry)
	assert.Nil(t, got.Features[1].Geometry)
	assert.Equal(t, "b", got.Features[1].Properties["name"])
}

func TestGeoJSONWithoutCRS(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.geojson")
	doc := `{"type":"FeatureCollection","features":[{"type":"Feature","properties":null,"geometry":{"type":"Point","coordinates":[1,2]}}]}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))

	fc, err := GeoJSON{}.Read(context.Background(), path)
	require.NoError(t, err)
	assert.True(t, fc.CRS.IsZero())
	assert.Equal(t, "plain", fc.Name)
	assert.NotNil(t, fc.Features[0].Properties)
}

type failingCloser struct {
	bytes.Buffer
}

func (*failingCloser) Close() error {
	return errors.New("flush failed")
}

func TestGeoJSONCloseErrorFailsWrite(t *testing.T) {
	fc := geo.NewFeatureCollection("sites", crs.WGS84)
	fc.Append(orb.Point{-7.6, 33.57}, nil)

	w := &failingCloser{}
	err := writeAndClose(w, "sites.geojson", fc)
	require.Error(t, err)
	assert.EqualError(t, err, "flush failed")
	assert.Contains(t, w.String(), `"FeatureCollection"`)
}

const ogrOutput = `{
"type": "FeatureCollection",
"name": "sites",
"crs": { "type": "name", "properties": { "name": "urn:ogc:def:crs:EPSG::32629" } },
"features": [
{ "type": "Feature", "properties": { "id": 1, "name": "a" }, "geometry": { "type": "Point", "coordinates": [ 500000.0, 4000000.0 ] } }
]
}`

func TestTABReadsThroughRunner(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sites.tab")
	require.NoError(t, os.WriteFile(path, nil, 0644))

	var gotName string
	var gotArgs []string
	tab := &TAB{
		Program: "/opt/gdal/bin/ogr2ogr",
		Run: func(_ context.Context, name string, args ...string) ([]byte, error) {
			gotName, gotArgs = name, args
			return []byte(ogrOutput), nil
		},
	}

	fc, err := tab.Read(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "/opt/gdal/bin/ogr2ogr", gotName)
	assert.Contains(t, gotArgs, "/vsistdout/")
	assert.Equal(t, path, gotArgs[len(gotArgs)-1])

	assert.Equal(t, crs.UTM(29, false), fc.CRS)
	require.Equal(t, 1, fc.Len())
	assert.Equal(t, "a", fc.Features[0].Properties["name"])
}

const ogrOutputNoCRS = `{
"type": "FeatureCollection",
"name": "sites",
"features": [
{ "type": "Feature", "properties": { "id": 1 }, "geometry": { "type": "Point", "coordinates": [ 300000.0, 200000.0 ] } }
]
}`

func ogrinfoSummary(srs string) string {
	return `INFO: Open of ` + "`sites.tab'" + `
      using driver ` + "`MapInfo File'" + ` successful.

Layer name: sites
Geometry: Point
Feature Count: 1
Extent: (300000.000000, 200000.000000) - (300000.000000, 200000.000000)
Layer SRS WKT:
` + srs + `
Data axis to CRS axis mapping: 1,2
id: Integer (10.0)
`
}

const lambertWKT = `PROJCS["unnamed",
    GEOGCS["unnamed",
        DATUM["MapInfo_Datum_1002",
            SPHEROID["GRS 80",6378137,298.257222101]],
        PRIMEM["Greenwich",0],
        UNIT["degree",0.0174532925199433]],
    PROJECTION["Lambert_Conformal_Conic_2SP"],
    PARAMETER["standard_parallel_1",44],
    PARAMETER["standard_parallel_2",49],
    PARAMETER["latitude_of_origin",46.5],
    PARAMETER["central_meridian",3],
    PARAMETER["false_easting",700000],
    PARAMETER["false_northing",6600000],
    UNIT["metre",1]]`

const utmWKT = `PROJCS["unnamed",
    GEOGCS["unnamed",
        DATUM["WGS_1984",
            SPHEROID["WGS 84",6378137,298.257223563]],
        PRIMEM["Greenwich",0],
        UNIT["degree",0.0174532925199433]],
    PROJECTION["Transverse_Mercator"],
    PARAMETER["latitude_of_origin",0],
    PARAMETER["central_meridian",-9],
    PARAMETER["scale_factor",0.9996],
    PARAMETER["false_easting",500000],
    PARAMETER["false_northing",0],
    UNIT["metre",1]]`

func TestTABLayerSRS(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sites.tab")
	require.NoError(t, os.WriteFile(path, nil, 0644))

	tests := []struct {
		name    string
		srs     string
		want    crs.CRS
		wantErr error
	}{
		{"no srs", "(unknown)", crs.CRS{}, nil},
		{"utm without authority", utmWKT, crs.UTM(29, false), nil},
		{"unmapped projection", lambertWKT, crs.CRS{}, crs.ErrUnsupported},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls []string
			tab := &TAB{
				Program: "/opt/gdal/bin/ogr2ogr",
				Run: func(_ context.Context, name string, _ ...string) ([]byte, error) {
					calls = append(calls, name)
					if strings.HasSuffix(name, "ogrinfo") {
						return []byte(ogrinfoSummary(tt.srs)), nil
					}
					return []byte(ogrOutputNoCRS), nil
				},
			}

			fc, err := tab.Read(context.Background(), path)
			assert.Equal(t, []string{"/opt/gdal/bin/ogr2ogr", "/opt/gdal/bin/ogrinfo"}, calls)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, fc.CRS)
			assert.Equal(t, 1, fc.Len())
		})
	}
}

func TestLayerSRS(t *testing.T) {
	assert.Empty(t, layerSRS([]byte("Layer name: x\nGeometry: Point\n")))
	assert.Empty(t, layerSRS([]byte(ogrinfoSummary("(unknown)"))))
	assert.Equal(t, utmWKT, layerSRS([]byte(ogrinfoSummary(utmWKT))))
	assert.Equal(t, `GEOGCS["WGS 84",DATUM["WGS_1984"]]`,
		layerSRS([]byte("Layer SRS WKT:\r\nGEOGCS[\"WGS 84\",DATUM[\"WGS_1984\"]]\r\nid: Integer\r\n")))
}

func TestInfoProgram(t *testing.T) {
	assert.Equal(t, "ogrinfo", infoProgram("ogr2ogr"))
	assert.Equal(t, "/usr/bin/ogrinfo", infoProgram("/usr/bin/ogr2ogr"))
	assert.Equal(t, `C:\gdal\ogrinfo.exe`, infoProgram(`C:\gdal\ogr2ogr.exe`))
	assert.Equal(t, "/opt/bin/ogrinfo", infoProgram("/opt/bin/gdal-wrapper"))
}

func TestTABErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := (&TAB{}).Read(context.Background(), filepath.Join(dir, "missing.tab"))
	assert.True(t, errors.Is(err, os.ErrNotExist))

	path := filepath.Join(dir, "broken.tab")
	require.NoError(t, os.WriteFile(path, nil, 0644))

	tab := &TAB{Run: func(context.Context, string, ...string) ([]byte, error) {
		return nil, errors.New("ogr2ogr: exit status 1: Unable to open datasource")
	}}
	_, err = tab.Read(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unable to open datasource")
}

func TestExecRunnerReportsStderr(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	out, err := ExecRunner(context.Background(), "sh", "-c", "echo ok")
	require.NoError(t, err)
	assert.Equal(t, "ok\n", string(out))

	_, err = ExecRunner(context.Background(), "sh", "-c", "echo 'bad input' >&2; exit 3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad input")
}

func TestShapefileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grid.shp")

	fc := geo.NewFeatureCollection("grid", crs.UTM(29, false))
	fc.Fields = []geo.Field{
		{Name: "site_identifier", Type: geo.FieldString, Width: 12},
		{Name: "site_identifier_2", Type: geo.FieldString, Width: 5},
		{Name: "height", Type: geo.FieldFloat, Width: 12, Decimals: 2},
		{Name: "count", Type: geo.FieldInteger, Width: 4},
		{Name: "ok", Type: geo.FieldLogical, Width: 1},
	}
	square := orb.Bound{Min: orb.Point{500000, 4000000}, Max: orb.Point{500050, 4000050}}
	fc.Append(square.ToPolygon(), geojson.Properties{
		"site_identifier": "A-1", "site_identifier_2": "x", "height": 12.5, "count": 3.0, "ok": true,
	})
	fc.Append(square.ToPolygon(), geojson.Properties{
		"site_identifier": "a value longer than the column", "count": nil,
	})

	files, err := Shapefile{}.Write(context.Background(), fc, path)
	require.NoError(t, err)
	require.Len(t, files, 4)
	for _, f := range files {
		assert.FileExists(t, f)
	}

	// outer rings are stored clockwise
	raw, err := shp.Open(path)
	require.NoError(t, err)
	require.True(t, raw.Next())
	_, shape := raw.Shape()
	poly, ok := shape.(*shp.Polygon)
	require.True(t, ok)
	assert.Equal(t, orb.CW, orb.Ring(orbPoints(poly.Points)).Orientation())
	raw.Close()

	got, err := Shapefile{}.Read(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, crs.UTM(29, false), got.CRS)
	require.Equal(t, 2, got.Len())

	names := make([]string, 0, len(got.Fields))
	for _, f := range got.Fields {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"site_ident", "site_ide_1", "height", "count", "ok"}, names)

	first := got.Features[0]
	assert.Equal(t, square, first.Geometry.Bound())
	assert.Equal(t, "A-1", first.Properties["site_ident"])
	assert.Equal(t, "x", first.Properties["site_ide_1"])
	assert.Equal(t, 12.5, first.Properties["height"])
	assert.Equal(t, int64(3), first.Properties["count"])
	assert.Equal(t, true, first.Properties["ok"])

	second := got.Features[1]
	assert.Equal(t, "a value long", second.Properties["site_ident"])
	assert.Nil(t, second.Properties["count"])
	assert.Nil(t, second.Properties["height"])
}

func TestShapefileWithoutFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pts.shp")
	fc := geo.NewFeatureCollection("pts", crs.CRS{})
	fc.Append(orb.Point{1, 2}, nil)

	files, err := Shapefile{}.Write(context.Background(), fc, path)
	require.NoError(t, err)
	assert.Len(t, files, 3, "no .prj without a CRS")
	dir := filepath.Dir(path)
	assert.FileExists(t, filepath.Join(dir, "pts.dbf"))
	assert.NoFileExists(t, filepath.Join(dir, "ptsdbf"))
	assert.Contains(t, files, filepath.Join(dir, "pts.dbf"))

	got, err := Shapefile{}.Read(context.Background(), path)
	require.NoError(t, err)
	assert.True(t, got.CRS.IsZero())
	assert.Equal(t, int64(0), got.Features[0].Properties["FID"])
	assert.Equal(t, orb.Point{1, 2}, got.Features[0].Geometry)
}

func TestShapefileRejectsMixedTypes(t *testing.T) {
	fc := geo.NewFeatureCollection("mixed", crs.WGS84)
	fc.Append(orb.Point{1, 2}, nil)
	fc.Append(orb.LineString{{0, 0}, {1, 1}}, nil)

	_, err := Shapefile{}.Write(context.Background(), fc, filepath.Join(t.TempDir(), "mixed.shp"))
	assert.Error(t, err)
}

func TestDBFValue(t *testing.T) {
	assert.Equal(t, "   42", dbfValue(geo.Field{Type: geo.FieldInteger, Width: 5}, 42.0))
	assert.Equal(t, "     ", dbfValue(geo.Field{Type: geo.FieldInteger, Width: 5}, nil))
	assert.Equal(t, "**", dbfValue(geo.Field{Type: geo.FieldInteger, Width: 2}, 12345.0))
	assert.Equal(t, "  1.50", dbfValue(geo.Field{Type: geo.FieldFloat, Width: 6, Decimals: 2}, 1.5))
	assert.Equal(t, "Café ", dbfValue(geo.Field{Type: geo.FieldString, Width: 6}, "Café"))
	assert.Equal(t, "Caf ", dbfValue(geo.Field{Type: geo.FieldString, Width: 4}, "Café"))
	assert.Equal(t, "F", dbfValue(geo.Field{Type: geo.FieldLogical}, false))
	assert.Equal(t, "20240131", dbfValue(geo.Field{Type: geo.FieldDate}, "2024-01-31"))
}

const testMIF = `Version 300
Charset "WindowsLatin1"
Delimiter ","
CoordSys Earth Projection 1, 104
Columns 3
  name Char(10)
  pop Integer
  h Decimal(8,2)
Data

Point -7.6 33.5
    Symbol (35,0,12)
Pline Multiple 2
  2
-7 33
-7.1 33.1
  2
-8 34 -8.1 34.1
    Pen (1,2,0)
Region 2
  5
0 0
10 0
10 10
0 10
0 0
  4
2 2
4 2
4 4
2 4
    Pen (1,2,0)
    Brush (2,16777215,16777215)
    Center 5 5
None
Rect 3 2 1 1
    Pen (1,2,0)
`

const testMID = "\"Caf\xe9\",10,1.5\r\n\"a,b\",,2\r\n\"x\"\"y\",3,\r\n\"\",4,0\r\n\"e\",5,1\r\n"

func TestMIFRead(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sites.mif")
	require.NoError(t, os.WriteFile(path, []byte(testMIF), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sites.mid"), []byte(testMID), 0644))

	fc, err := MIF{}.Read(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, crs.WGS84, fc.CRS)
	require.Equal(t, 5, fc.Len())

	assert.Equal(t, []geo.Field{
		{Name: "name", Type: geo.FieldString, Width: 10},
		{Name: "pop", Type: geo.FieldInteger, Width: 11},
		{Name: "h", Type: geo.FieldFloat, Width: 8, Decimals: 2},
	}, fc.Fields)

	assert.Equal(t, orb.Point{-7.6, 33.5}, fc.Features[0].Geometry)
	assert.Equal(t, geojson.Properties{"name": "Café", "pop": int64(10), "h": 1.5}, fc.Features[0].Properties)

	mls, ok := fc.Features[1].Geometry.(orb.MultiLineString)
	require.True(t, ok)
	assert.Len(t, mls, 2)
	assert.Equal(t, orb.Point{-8.1, 34.1}, mls[1][1])
	assert.Equal(t, "a,b", fc.Features[1].Properties["name"])
	assert.Nil(t, fc.Features[1].Properties["pop"])

	poly, ok := fc.Features[2].Geometry.(orb.Polygon)
	require.True(t, ok)
	require.Len(t, poly, 2)
	assert.Len(t, poly[1], 5, "hole is closed")
	assert.Equal(t, `x"y`, fc.Features[2].Properties["name"])
	assert.Nil(t, fc.Features[2].Properties["h"])

	assert.Nil(t, fc.Features[3].Geometry)
	assert.Equal(t, orb.Bound{Min: orb.Point{1, 1}, Max: orb.Point{3, 2}}, fc.Features[4].Geometry.Bound())
}

func TestMIFWithoutCoordSysOrMID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bare.mif")
	require.NoError(t, os.WriteFile(path, []byte("Version 300\nColumns 0\nData\nPoint 1 2\nLine 0 0 5 5\n"), 0644))

	fc, err := MIF{}.Read(context.Background(), path)
	require.NoError(t, err)
	assert.True(t, fc.CRS.IsZero())
	require.Equal(t, 2, fc.Len())
	assert.Equal(t, orb.LineString{{0, 0}, {5, 5}}, fc.Features[1].Geometry)
}

func TestMIFErrors(t *testing.T) {
	dir := t.TempDir()

	mismatch := filepath.Join(dir, "mismatch.mif")
	require.NoError(t, os.WriteFile(mismatch, []byte("Columns 1\n id Integer\nData\nPoint 1 2\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "mismatch.mid"), []byte("1\n2\n"), 0644))
	_, err := MIF{}.Read(context.Background(), mismatch)
	assert.ErrorContains(t, err, "mid has 2 rows")

	truncated := filepath.Join(dir, "truncated.mif")
	require.NoError(t, os.WriteFile(truncated, []byte("Data\nPline 3\n0 0\n1 1\n"), 0644))
	_, err = MIF{}.Read(context.Background(), truncated)
	assert.Error(t, err)

	nonEarth := filepath.Join(dir, "plan.mif")
	require.NoError(t, os.WriteFile(nonEarth, []byte("CoordSys NonEarth Units \"m\"\nData\nPoint 1 2\n"), 0644))
	_, err = MIF{}.Read(context.Background(), nonEarth)
	assert.True(t, errors.Is(err, crs.ErrUnsupported))
}

func TestAssembleRings(t *testing.T) {
	outer := orb.Ring{{0, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 0}}
	hole := orb.Ring{{2, 2}, {8, 2}, {8, 8}, {2, 8}}
	island := orb.Ring{{4, 4}, {6, 4}, {6, 6}, {4, 6}, {4, 4}}
	far := orb.Ring{{20, 20}, {21, 20}, {21, 21}, {20, 21}, {20, 20}}

	g := assembleRings([]orb.Ring{hole, outer})
	poly, ok := g.(orb.Polygon)
	require.True(t, ok)
	assert.Equal(t, outer, poly[0])
	assert.Len(t, poly, 2)

	g = assembleRings([]orb.Ring{outer, hole, island, far})
	mp, ok := g.(orb.MultiPolygon)
	require.True(t, ok)
	assert.Len(t, mp, 3)

	assert.Nil(t, assembleRings([]orb.Ring{{{0, 0}, {1, 1}}}))
}

func TestWayGeometry(t *testing.T) {
	nodes := map[int64]orb.Point{1: {0, 0}, 2: {1, 0}, 3: {1, 1}}

	g, ok := wayGeometry([]int64{1, 2, 3}, nodes)
	require.True(t, ok)
	assert.Equal(t, orb.LineString{{0, 0}, {1, 0}, {1, 1}}, g)

	g, ok = wayGeometry([]int64{1, 2, 3, 1}, nodes)
	require.True(t, ok)
	assert.IsType(t, orb.Polygon{}, g)

	_, ok = wayGeometry([]int64{1, 9}, nodes)
	assert.False(t, ok)

	props := osmProperties("way", 7, map[string]string{"building": "yes"})
	assert.Equal(t, geojson.Properties{"building": "yes", "osm_id": int64(7), "osm_type": "way"}, props)
}
