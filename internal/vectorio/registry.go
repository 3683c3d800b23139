// Package vectorio reads and writes vector data files.
//
// Drivers are selected by file extension for reading and by format name for
// writing. MapInfo TAB files are delegated to GDAL's ogr2ogr; the other formats
// are handled in-process.
package vectorio

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/woozymasta/tabgrid/internal/geo"
)

// Output format names.
const (
	FormatShapefile = "ESRI Shapefile"
	FormatGeoJSON   = "GeoJSON"
)

// ErrUnknownFormat is returned when no driver handles an extension or format.
var ErrUnknownFormat = errors.New("unknown vector format")

// Reader loads one vector file.
type Reader interface {
	Read(ctx context.Context, path string) (*geo.FeatureCollection, error)
}

// Writer stores a feature collection and returns every file it wrote.
type Writer interface {
	Write(ctx context.Context, fc *geo.FeatureCollection, path string) ([]string, error)
	// Extension is the extension of the primary output file, with the dot.
	Extension() string
}

// Registry maps extensions to readers and format names to writers.
type Registry struct {
	readers map[string]Reader
	writers map[string]Writer
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		readers: make(map[string]Reader),
		writers: make(map[string]Writer),
	}
}

// Default returns a registry with every built-in driver.
// ogr2ogr is the program used for MapInfo TAB files.
func Default(ogr2ogr string) *Registry {
	r := NewRegistry()

	shp := Shapefile{}
	gj := GeoJSON{}

	r.RegisterReader(".tab", &TAB{Program: ogr2ogr})
	r.RegisterReader(".mif", MIF{})
	r.RegisterReader(".shp", shp)
	r.RegisterReader(".geojson", gj)
	r.RegisterReader(".json", gj)
	r.RegisterReader(".pbf", OSM{})

	r.RegisterWriter(FormatShapefile, shp)
	r.RegisterWriter(FormatGeoJSON, gj)

	return r
}

// RegisterReader binds a reader to a file extension such as ".tab".
func (r *Registry) RegisterReader(ext string, rd Reader) {
	r.readers[normalizeExt(ext)] = rd
}

// RegisterWriter binds a writer to a format name.
func (r *Registry) RegisterWriter(format string, w Writer) {
	r.writers[strings.ToLower(format)] = w
}

// Read loads path with the reader registered for its extension.
func (r *Registry) Read(ctx context.Context, path string) (*geo.FeatureCollection, error) {
	rd, ok := r.readers[normalizeExt(filepath.Ext(path))]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, filepath.Ext(path))
	}
	return rd.Read(ctx, path)
}

// Write stores fc at path using the named format.
func (r *Registry) Write(ctx context.Context, fc *geo.FeatureCollection, path, format string) ([]string, error) {
	w, ok := r.writers[strings.ToLower(format)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, format)
	}
	return w.Write(ctx, fc, path)
}

// Extension returns the primary file extension of a format.
func (r *Registry) Extension(format string) (string, error) {
	w, ok := r.writers[strings.ToLower(format)]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownFormat, format)
	}
	return w.Extension(), nil
}

// CanRead reports whether a reader is registered for ext.
func (r *Registry) CanRead(ext string) bool {
	_, ok := r.readers[normalizeExt(ext)]
	return ok
}

// Extensions lists readable extensions, sorted.
func (r *Registry) Extensions() []string {
	out := make([]string, 0, len(r.readers))
	for ext := range r.readers {
		out = append(out, ext)
	}
	slices.Sort(out)
	return out
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// layerName is the file name without directory and extension.
func layerName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
