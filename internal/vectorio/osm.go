package vectorio

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/woozymasta/tabgrid/internal/crs"
	"github.com/woozymasta/tabgrid/internal/geo"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/qedus/osmpbf"
	"github.com/rs/zerolog/log"
)

// OSM reads OpenStreetMap PBF extracts. Tagged nodes become points; ways
// become lines, or polygons when closed. Untagged nodes only supply way vertices.
type OSM struct{}

// Read implements Reader.
func (OSM) Read(ctx context.Context, path string) (*geo.FeatureCollection, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open OSM file: %w", err)
	}
	defer file.Close()

	fc := geo.NewFeatureCollection(layerName(path), crs.WGS84)
	nodes := make(map[int64]orb.Point)

	// First pass: nodes
	decoder, err := newOSMDecoder(ctx, file)
	if err != nil {
		return nil, err
	}
	if err := decodeOSM(ctx, decoder, func(obj any) {
		node, ok := obj.(*osmpbf.Node)
		if !ok {
			return
		}
		p := orb.Point{node.Lon, node.Lat}
		nodes[node.ID] = p
		if len(node.Tags) > 0 {
			fc.Append(p, osmProperties("node", node.ID, node.Tags))
		}
	}); err != nil {
		return nil, err
	}

	// Rewind the file for the second pass
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to rewind OSM file: %w", err)
	}

	// Second pass: ways
	decoder, err = newOSMDecoder(ctx, file)
	if err != nil {
		return nil, err
	}
	var incomplete int
	if err := decodeOSM(ctx, decoder, func(obj any) {
		way, ok := obj.(*osmpbf.Way)
		if !ok {
			return
		}
		g, ok := wayGeometry(way.NodeIDs, nodes)
		if !ok {
			incomplete++
			return
		}
		fc.Append(g, osmProperties("way", way.ID, way.Tags))
	}); err != nil {
		return nil, err
	}

	if incomplete > 0 {
		log.Debug().Str("file", path).Int("ways", incomplete).Msg("Skipped ways with missing nodes")
	}

	fc.Fields = geo.InferFields(fc.Features)
	return fc, nil
}

// ctxReader fails reads once ctx is done, which ends the decoder's reading goroutine.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func newOSMDecoder(ctx context.Context, r io.Reader) (*osmpbf.Decoder, error) {
	decoder := osmpbf.NewDecoder(ctxReader{ctx: ctx, r: r})
	decoder.SetBufferSize(osmpbf.MaxBlobSize)

	// Use all available CPU cores
	if err := decoder.Start(runtime.GOMAXPROCS(-1)); err != nil {
		return nil, fmt.Errorf("error starting OSM decoder: %w", err)
	}
	return decoder, nil
}

func decodeOSM(ctx context.Context, decoder *osmpbf.Decoder, fn func(any)) error {
	for n := 0; ; n++ {
		if n%100000 == 0 {
			if err := ctx.Err(); err != nil {
				drainOSM(decoder)
				return err
			}
		}

		obj, err := decoder.Decode()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("error decoding OSM data: %w", err)
		}
		fn(obj)
	}
}

// drainOSM consumes the decoder until its goroutines stop. The reader fails
// after cancellation, so only blocks already read are left to decode.
func drainOSM(decoder *osmpbf.Decoder) {
	for {
		if _, err := decoder.Decode(); err != nil {
			return
		}
	}
}

// wayGeometry resolves node references. ok is false when a node is missing.
func wayGeometry(ids []int64, nodes map[int64]orb.Point) (orb.Geometry, bool) {
	if len(ids) < 2 {
		return nil, false
	}

	ls := make(orb.LineString, 0, len(ids))
	for _, id := range ids {
		p, ok := nodes[id]
		if !ok {
			return nil, false
		}
		ls = append(ls, p)
	}

	if len(ids) >= 4 && ids[0] == ids[len(ids)-1] {
		return orb.Polygon{orb.Ring(ls)}, true
	}
	return ls, true
}

func osmProperties(kind string, id int64, tags map[string]string) geojson.Properties {
	props := make(geojson.Properties, len(tags)+2)
	for k, v := range tags {
		props[k] = v
	}
	props["osm_id"] = id
	props["osm_type"] = kind
	return props
}
