package vectorio

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/woozymasta/tabgrid/internal/crs"
	"github.com/woozymasta/tabgrid/internal/geo"

	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog/log"
)

// GeoJSON reads and writes GeoJSON feature collections.
// Non-WGS84 data carries the legacy named "crs" member that GDAL understands.
type GeoJSON struct{}

// Extension implements Writer.
func (GeoJSON) Extension() string { return ".geojson" }

// Read implements Reader.
func (GeoJSON) Read(_ context.Context, path string) (*geo.FeatureCollection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return decodeFeatureCollection(data, layerName(path))
}

// Write implements Writer.
func (GeoJSON) Write(_ context.Context, fc *geo.FeatureCollection, path string) ([]string, error) {
	if err := saveGeoJSON(filepath.Dir(path), path, fc); err != nil {
		return nil, err
	}
	return []string{path}, nil
}

// crsMember is the pre-RFC 7946 "crs" object: {"type":"name","properties":{"name":"EPSG:32629"}}.
type crsMember struct {
	Type       string `json:"type"`
	Properties struct {
		Name string `json:"name"`
	} `json:"properties"`
}

type featureCollectionJSON struct {
	Type     string             `json:"type"`
	Name     string             `json:"name,omitempty"`
	CRS      *crsMember         `json:"crs,omitempty"`
	Features []*geojson.Feature `json:"features"`
}

// decodeFeatureCollection parses a GeoJSON document, including its crs member.
func decodeFeatureCollection(data []byte, name string) (*geo.FeatureCollection, error) {
	var head struct {
		Name string     `json:"name"`
		CRS  *crsMember `json:"crs"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode geojson: %w", err)
	}

	gfc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("decode geojson: %w", err)
	}

	var c crs.CRS
	if head.CRS != nil && head.CRS.Properties.Name != "" {
		if c, err = crs.Parse(head.CRS.Properties.Name); err != nil {
			return nil, err
		}
	}

	if head.Name != "" {
		name = head.Name
	}
	return geo.FromGeoJSON(name, gfc, c), nil
}

// saveGeoJSON marshals the feature collection and writes it to disk.
func saveGeoJSON(dir, path string, fc *geo.FeatureCollection) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	return writeAndClose(f, path, fc)
}

// writeAndClose encodes fc to w and closes it. A failed close is a failed write.
func writeAndClose(w io.WriteCloser, path string, fc *geo.FeatureCollection) (err error) {
	// We care about write errors on close
	defer func() {
		if closeErr := w.Close(); closeErr != nil {
			log.Error().Err(closeErr).Str("path", path).Msg("Failed to close file")
			if err == nil {
				err = closeErr
			}
		}
	}()

	return EncodeGeoJSON(w, fc)
}

// EncodeGeoJSON writes fc as a GeoJSON document with its name and crs members.
func EncodeGeoJSON(w io.Writer, fc *geo.FeatureCollection) error {
	doc := featureCollectionJSON{
		Type:     "FeatureCollection",
		Name:     fc.Name,
		Features: fc.Features,
	}
	if !fc.CRS.IsZero() {
		doc.CRS = &crsMember{Type: "name"}
		doc.CRS.Properties.Name = fc.CRS.String()
	}
	return json.NewEncoder(w).Encode(doc)
}
