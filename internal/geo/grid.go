// Package geo derives local projected grids from chunk polygons and
// provides the polygon predicates used for chunk selection. Everything in
// this package is pure computation; reproducibility across machines is
// the point.
package geo

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
)

// Grid describes the local projected raster grid of one chunk. It is the
// geometry section of the work-item wire format, so the JSON field names
// are part of the queue contract.
type Grid struct {
	ChunkID        string     `json:"chunkId"`
	Discretization string     `json:"discretization"`
	CellSize       int        `json:"cellSize"`
	Rows           int        `json:"rows"`
	Cols           int        `json:"cols"`
	SRID           int        `json:"srid"`
	CRSWKT         string     `json:"crsWKT"`
	Geotransform   [6]float64 `json:"geotransform"`
	// BoundsLatLng is the WGS84 envelope (minLng, minLat, maxLng, maxLat).
	BoundsLatLng [4]float64 `json:"bboxLatLng"`
	// BBoxProjected is the UTM envelope (minX, minY, maxX, maxY).
	BBoxProjected [4]float64 `json:"bboxProjected"`
	// MaskWKT is the chunk polygon reprojected to the local UTM zone;
	// workers rasterize it to crop reported layers.
	MaskWKT string `json:"maskWKT"`
}

// DeriveGrid computes the projected grid for a WGS84 chunk polygon at the
// given cell size: UTM zone selection from the centroid, envelope
// reprojection, and pixel counts by rounding extent/cellSize. Rounding
// (rather than floor or ceil) keeps the effective pixel size as close as
// possible to the requested cell size.
func DeriveGrid(polygon orb.Polygon, discretization string, cellSize int, chunkID string) (Grid, error) {
	if cellSize <= 0 {
		return Grid{}, fmt.Errorf("geo: cell size must be positive, got %d", cellSize)
	}
	epsg, err := UTMEPSG(polygon)
	if err != nil {
		return Grid{}, err
	}
	zone, northern, err := EPSGZone(epsg)
	if err != nil {
		return Grid{}, err
	}

	projected := TransformPolygon(polygon, LonLatToUTM(zone, northern))
	bound := projected.Bound()
	minX, minY := bound.Min[0], bound.Min[1]
	maxX, maxY := bound.Max[0], bound.Max[1]

	rows := int(math.Round((maxY - minY) / float64(cellSize)))
	cols := int(math.Round((maxX - minX) / float64(cellSize)))
	if rows < 1 || cols < 1 {
		return Grid{}, fmt.Errorf("geo: chunk extent %fx%f is smaller than one %dm cell", maxX-minX, maxY-minY, cellSize)
	}

	pixelWidth := (maxX - minX) / float64(cols)
	pixelHeight := (minY - maxY) / float64(rows) // negative, north-up

	crs, err := UTMWKT(epsg)
	if err != nil {
		return Grid{}, err
	}

	llBound := polygon.Bound()
	return Grid{
		ChunkID:        chunkID,
		Discretization: discretization,
		CellSize:       cellSize,
		Rows:           rows,
		Cols:           cols,
		SRID:           epsg,
		CRSWKT:         crs,
		Geotransform:   [6]float64{minX, pixelWidth, 0, maxY, 0, pixelHeight},
		BoundsLatLng:   [4]float64{llBound.Min[0], llBound.Min[1], llBound.Max[0], llBound.Max[1]},
		BBoxProjected:  [4]float64{minX, minY, maxX, maxY},
		MaskWKT:        wkt.MarshalString(projected),
	}, nil
}

// ProjectedBounds reconstructs the UTM envelope from the geotransform and
// pixel counts.
func (g Grid) ProjectedBounds() [4]float64 {
	minX := g.Geotransform[0]
	maxY := g.Geotransform[3]
	maxX := minX + float64(g.Cols)*g.Geotransform[1]
	minY := maxY + float64(g.Rows)*g.Geotransform[5]
	return [4]float64{minX, minY, maxX, maxY}
}

// CellCenter returns the projected coordinates of the center of cell
// (row, col), row 0 at the northern edge.
func (g Grid) CellCenter(row, col int) (x, y float64) {
	x = g.Geotransform[0] + (float64(col)+0.5)*g.Geotransform[1]
	y = g.Geotransform[3] + (float64(row)+0.5)*g.Geotransform[5]
	return x, y
}

// CellAt maps projected coordinates to a (row, col) pair. The bool result
// reports whether the point falls inside the grid.
func (g Grid) CellAt(x, y float64) (row, col int, ok bool) {
	col = int(math.Floor((x - g.Geotransform[0]) / g.Geotransform[1]))
	row = int(math.Floor((y - g.Geotransform[3]) / g.Geotransform[5]))
	ok = row >= 0 && row < g.Rows && col >= 0 && col < g.Cols
	return row, col, ok
}
