package geo

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/planar"
)

// RasterizeMask burns the grid's mask polygon onto the grid with an
// any-touch rule: a cell is part of the mask when its center lies inside
// the polygon or a polygon edge passes through it. Thin boundary cells are
// therefore included; over-inclusion is preferred over clipping real data.
//
// When the mask polygon cannot be parsed or rasterization produces an
// empty mask, an all-true mask covering the full rectangle is substituted
// and fellBack reports the substitution. The run degrades to a rectangle
// instead of failing the chunk.
func RasterizeMask(g Grid) (mask []bool, fellBack bool) {
	mask = make([]bool, g.Rows*g.Cols)

	polygon, err := wkt.UnmarshalPolygon(g.MaskWKT)
	if err != nil || len(polygon) == 0 || len(polygon[0]) < 4 {
		fillAll(mask)
		return mask, true
	}

	// Cell centers inside the polygon.
	any := false
	for row := 0; row < g.Rows; row++ {
		for col := 0; col < g.Cols; col++ {
			x, y := g.CellCenter(row, col)
			if planar.PolygonContains(polygon, orb.Point{x, y}) {
				mask[row*g.Cols+col] = true
				any = true
			}
		}
	}

	// Cells touched by ring edges. Sampling at half-cell steps cannot skip
	// a cell the segment crosses.
	step := float64(g.CellSize) / 2
	for _, ring := range polygon {
		for i := 1; i < len(ring); i++ {
			if burnSegment(g, mask, ring[i-1], ring[i], step) {
				any = true
			}
		}
	}

	if !any {
		fillAll(mask)
		return mask, true
	}
	return mask, false
}

// burnSegment marks every cell the segment a-b passes through, walking
// the segment at the given sampling step.
func burnSegment(g Grid, mask []bool, a, b orb.Point, step float64) bool {
	dx := b[0] - a[0]
	dy := b[1] - a[1]
	length := planar.Distance(a, b)
	n := int(length/step) + 1

	burned := false
	for i := 0; i <= n; i++ {
		t := float64(i) / float64(n)
		if row, col, ok := g.CellAt(a[0]+t*dx, a[1]+t*dy); ok {
			if !mask[row*g.Cols+col] {
				mask[row*g.Cols+col] = true
			}
			burned = true
		}
	}
	return burned
}

func fillAll(mask []bool) {
	for i := range mask {
		mask[i] = true
	}
}
