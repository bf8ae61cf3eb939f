// Package raster holds the in-memory raster type the workers compute
// on, the warp to the serving projection, and the stacked on-disk
// container the reporting pipeline packages results into.
package raster

import (
	"fmt"
	"math"
)

// Datatype names follow the usual raster convention; Bytes tells the
// container how wide one encoded sample is.
type Datatype string

const (
	Byte    Datatype = "Byte"
	Int16   Datatype = "Int16"
	Int32   Datatype = "Int32"
	Float32 Datatype = "Float32"
	Float64 Datatype = "Float64"
)

// Bytes returns the encoded width of one sample, or an error for an
// undeclared datatype name.
func (d Datatype) Bytes() (int, error) {
	switch d {
	case Byte:
		return 1, nil
	case Int16:
		return 2, nil
	case Int32:
		return 4, nil
	case Float32:
		return 4, nil
	case Float64:
		return 8, nil
	}
	return 0, fmt.Errorf("raster: unknown datatype %q", d)
}

// Raster is one single-band grid in row-major order with a geotransform
// anchored at the top-left corner. Samples are held as float64
// regardless of the declared storage datatype; the container narrows
// them on write.
type Raster struct {
	Rows, Cols   int
	Geotransform [6]float64
	SRID         int
	NoData       float64
	Data         []float64
}

// New allocates a raster filled with the nodata value.
func New(rows, cols int, gt [6]float64, srid int, nodata float64) *Raster {
	r := &Raster{
		Rows:         rows,
		Cols:         cols,
		Geotransform: gt,
		SRID:         srid,
		NoData:       nodata,
		Data:         make([]float64, rows*cols),
	}
	if nodata != 0 {
		for i := range r.Data {
			r.Data[i] = nodata
		}
	}
	return r
}

func (r *Raster) At(row, col int) float64 {
	return r.Data[row*r.Cols+col]
}

func (r *Raster) Set(row, col int, v float64) {
	r.Data[row*r.Cols+col] = v
}

// Fill sets every sample to v.
func (r *Raster) Fill(v float64) {
	for i := range r.Data {
		r.Data[i] = v
	}
}

// Clone returns a deep copy.
func (r *Raster) Clone() *Raster {
	out := *r
	out.Data = make([]float64, len(r.Data))
	copy(out.Data, r.Data)
	return &out
}

// ApplyMask writes the nodata value into every cell whose mask entry is
// false. The mask is row-major with the raster's own dimensions.
func (r *Raster) ApplyMask(mask []bool) error {
	if len(mask) != len(r.Data) {
		return fmt.Errorf("raster: mask has %d cells, raster has %d", len(mask), len(r.Data))
	}
	for i, in := range mask {
		if !in {
			r.Data[i] = r.NoData
		}
	}
	return nil
}

// Bounds returns the projected extent as minX, minY, maxX, maxY.
func (r *Raster) Bounds() (float64, float64, float64, float64) {
	gt := r.Geotransform
	minX := gt[0]
	maxY := gt[3]
	maxX := minX + float64(r.Cols)*gt[1]
	minY := maxY + float64(r.Rows)*gt[5]
	return minX, minY, maxX, maxY
}

// CellCenter returns the projected coordinates of a cell's center.
func (r *Raster) CellCenter(row, col int) (float64, float64) {
	gt := r.Geotransform
	x := gt[0] + (float64(col)+0.5)*gt[1]
	y := gt[3] + (float64(row)+0.5)*gt[5]
	return x, y
}

// CellAt maps projected coordinates back to a cell index. The bool
// result is false for points outside the raster.
func (r *Raster) CellAt(x, y float64) (int, int, bool) {
	gt := r.Geotransform
	col := int(math.Floor((x - gt[0]) / gt[1]))
	row := int(math.Floor((y - gt[3]) / gt[5]))
	if row < 0 || row >= r.Rows || col < 0 || col >= r.Cols {
		return 0, 0, false
	}
	return row, col, true
}
