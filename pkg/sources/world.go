package sources

import (
	"context"
	"fmt"
	"io"

	geojson "github.com/paulmach/go.geojson"

	"github.com/sudorandom/traffic-globe/pkg/utils"
)

// Ring is a closed outline as [lon, lat] pairs.
type Ring [][2]float64

// ParseWorld returns the outer ring of every country polygon in a GeoJSON feature collection.
// Holes are dropped; the globe only draws coastlines and borders.
func ParseWorld(r io.Reader) ([]Ring, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("parsing world geojson: %w", err)
	}

	var rings []Ring
	add := func(polygon [][][]float64) {
		if len(polygon) == 0 {
			return
		}
		ring := make(Ring, 0, len(polygon[0]))
		for _, pt := range polygon[0] {
			if len(pt) >= 2 {
				ring = append(ring, [2]float64{pt[0], pt[1]})
			}
		}
		if len(ring) >= 3 {
			rings = append(rings, ring)
		}
	}
	for _, f := range fc.Features {
		if f.Geometry == nil {
			continue
		}
		switch {
		case f.Geometry.IsPolygon():
			add(f.Geometry.Polygon)
		case f.Geometry.IsMultiPolygon():
			for _, p := range f.Geometry.MultiPolygon {
				add(p)
			}
		}
	}
	return rings, nil
}

// LoadWorld fetches and parses the world outline.
func LoadWorld(ctx context.Context, f *utils.Fetcher) ([]Ring, error) {
	rc, err := f.Open(ctx, WorldGeoJSONURL)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return ParseWorld(rc)
}
