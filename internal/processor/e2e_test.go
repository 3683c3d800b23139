package processor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/woozymasta/tabgrid/internal/crs"
	"github.com/woozymasta/tabgrid/internal/geo"
	"github.com/woozymasta/tabgrid/internal/vectorio"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const siteMIF = `Version 300
Charset "WindowsLatin1"
Delimiter ","
Columns 2
  site Char(12)
  azimuth Integer
Data

Point -7.6 33.57
    Symbol (35,0,12)
`

func TestEndToEndPointWithoutCRS(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "site.mif"), []byte(siteMIF), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "site.mid"), []byte("\"CAS-001\",120\n"), 0644))
	// not a MapInfo file, must fail without stopping the batch
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.mif"), []byte("garbage"), 0644))

	conv := New(vectorio.Default(""), geo.Ops{Cap: geo.CapSquare}, Options{
		SourceExt:     ".mif",
		MaxDistortion: 0.01,
	})

	summary, err := conv.Convert(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Converted)
	assert.Equal(t, 2, summary.Total)

	var site FileResult
	for _, r := range summary.Results {
		if filepath.Base(r.File) == "site.mif" {
			site = r
		}
	}
	require.NoError(t, site.Err)
	assert.True(t, site.AssumedCRS)

	base := filepath.Join(dir, "converted_shp", "site_grid")
	for _, ext := range []string{".shp", ".shx", ".dbf", ".prj"} {
		assert.FileExists(t, base+ext)
	}

	out, err := vectorio.Shapefile{}.Read(context.Background(), base+".shp")
	require.NoError(t, err)
	assert.Equal(t, crs.WGS84, out.CRS)
	require.Equal(t, 1, out.Len())
	assert.Equal(t, "CAS-001", out.Features[0].Properties["site"])
	assert.Equal(t, int64(120), out.Features[0].Properties["azimuth"])

	poly, ok := out.Features[0].Geometry.(orb.Polygon)
	require.True(t, ok)
	require.Len(t, poly, 1)

	require.NoError(t, geo.Ops{}.Reproject(out, crs.UTM(29, false)))
	b := out.Features[0].Geometry.Bound()
	assert.InDelta(t, 50, b.Max[0]-b.Min[0], 1e-3)
	assert.InDelta(t, 50, b.Max[1]-b.Min[1], 1e-3)

	tr, err := crs.Transform(crs.WGS84, crs.UTM(29, false))
	require.NoError(t, err)
	center := tr(orb.Point{-7.6, 33.57})
	assert.InDelta(t, center[0], b.Center()[0], 1e-3)
	assert.InDelta(t, center[1], b.Center()[1], 1e-3)

	// rerun overwrites in place
	again, err := conv.Convert(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 1, again.Converted)
	entries, err := os.ReadDir(filepath.Join(dir, "converted_shp"))
	require.NoError(t, err)
	assert.Len(t, entries, 4)
}

func TestEndToEndGeoJSONOutput(t *testing.T) {
	dir := t.TempDir()
	doc := `{"type":"FeatureCollection","crs":{"type":"name","properties":{"name":"EPSG:4326"}},` +
		`"features":[{"type":"Feature","properties":{"id":7},"geometry":{"type":"LineString","coordinates":[[-8,33],[-8.001,33]]}}]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "route.geojson"), []byte(doc), 0644))

	conv := New(vectorio.Default(""), geo.Ops{}, Options{
		SourceExt: ".geojson",
		Format:    vectorio.FormatGeoJSON,
		OutputDir: "out",
		Suffix:    "_sq",
	})

	summary, err := conv.Convert(context.Background(), dir)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Converted)

	path := filepath.Join(dir, "out", "route_sq.geojson")
	assert.Equal(t, []string{path}, summary.Results[0].Outputs)

	fc, err := vectorio.GeoJSON{}.Read(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, crs.WGS84, fc.CRS)
	require.Equal(t, 1, fc.Len())
	assert.IsType(t, orb.Polygon{}, fc.Features[0].Geometry)
	assert.Equal(t, 7.0, fc.Features[0].Properties["id"])
}
