package catalog

import (
	"fmt"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// LoadPolygons reads a GeoJSON FeatureCollection and returns its polygon
// geometries. MultiPolygon features are split into their members; other
// geometry types are skipped.
func LoadPolygons(path string) ([]orb.Polygon, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(raw)
	if err != nil {
		return nil, fmt.Errorf("catalog: parse %s: %w", path, err)
	}

	var polygons []orb.Polygon
	for _, f := range fc.Features {
		switch g := f.Geometry.(type) {
		case orb.Polygon:
			polygons = append(polygons, g)
		case orb.MultiPolygon:
			polygons = append(polygons, g...)
		}
	}
	if len(polygons) == 0 {
		return nil, fmt.Errorf("catalog: %s contains no polygon features", path)
	}
	return polygons, nil
}
