package raster

import (
	"fmt"
	"math"

	"github.com/mvreeden/gridsim/internal/geo"
)

// MercatorSRID is the serving projection every finalized stack is
// warped into.
const MercatorSRID = 3857

// WarpToMercator resamples a UTM raster into web mercator with nearest
// neighbor sampling. The output keeps the input's pixel count and
// covers the reprojected extent of the input; cells that map outside
// the source are nodata. Nearest neighbor is deliberate: output values
// stay exactly the values the model produced, which matters for
// categorical attributes.
func WarpToMercator(r *Raster) (*Raster, error) {
	zone, northern, err := geo.EPSGZone(r.SRID)
	if err != nil {
		return nil, fmt.Errorf("raster: warp source: %w", err)
	}
	toLonLat := geo.UTMToLonLat(zone, northern)
	toMercator := geo.LonLatToMercator()
	back := geo.MercatorToUTM(zone, northern)

	minX, minY, maxX, maxY := r.Bounds()
	corners := [4][2]float64{{minX, minY}, {minX, maxY}, {maxX, minY}, {maxX, maxY}}
	mMinX, mMinY := math.Inf(1), math.Inf(1)
	mMaxX, mMaxY := math.Inf(-1), math.Inf(-1)
	for _, c := range corners {
		lng, lat, _ := toLonLat(c[0], c[1], 0)
		mx, my, _ := toMercator(lng, lat, 0)
		mMinX = math.Min(mMinX, mx)
		mMinY = math.Min(mMinY, my)
		mMaxX = math.Max(mMaxX, mx)
		mMaxY = math.Max(mMaxY, my)
	}

	pw := (mMaxX - mMinX) / float64(r.Cols)
	ph := (mMinY - mMaxY) / float64(r.Rows)
	out := New(r.Rows, r.Cols, [6]float64{mMinX, pw, 0, mMaxY, 0, ph}, MercatorSRID, r.NoData)

	for row := 0; row < out.Rows; row++ {
		for col := 0; col < out.Cols; col++ {
			mx, my := out.CellCenter(row, col)
			sx, sy, _ := back(mx, my, 0)
			if srow, scol, ok := r.CellAt(sx, sy); ok {
				out.Set(row, col, r.At(srow, scol))
			}
		}
	}
	return out, nil
}
