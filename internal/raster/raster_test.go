package raster

import (
	"math"
	"path/filepath"
	"testing"
)

func testRaster(rows, cols int) *Raster {
	// 100m cells in UTM 31N around the Dutch coast.
	gt := [6]float64{595000, 100, 0, 5765000, 0, -100}
	r := New(rows, cols, gt, 32631, -9999)
	for i := range r.Data {
		r.Data[i] = float64(i)
	}
	return r
}

func TestRaster_CellRoundTrip(t *testing.T) {
	r := testRaster(10, 12)
	for _, cell := range [][2]int{{0, 0}, {9, 11}, {4, 7}} {
		x, y := r.CellCenter(cell[0], cell[1])
		row, col, ok := r.CellAt(x, y)
		if !ok || row != cell[0] || col != cell[1] {
			t.Errorf("cell %v -> (%f,%f) -> (%d,%d,%v)", cell, x, y, row, col, ok)
		}
	}
	if _, _, ok := r.CellAt(0, 0); ok {
		t.Error("point far outside raster resolved to a cell")
	}
}

func TestRaster_ApplyMask(t *testing.T) {
	r := testRaster(2, 2)
	mask := []bool{true, false, false, true}
	if err := r.ApplyMask(mask); err != nil {
		t.Fatalf("ApplyMask: %v", err)
	}
	if r.At(0, 0) != 0 || r.At(1, 1) != 3 {
		t.Error("masked-in cells changed")
	}
	if r.At(0, 1) != -9999 || r.At(1, 0) != -9999 {
		t.Error("masked-out cells not set to nodata")
	}
	if err := r.ApplyMask([]bool{true}); err == nil {
		t.Error("mismatched mask accepted")
	}
}

func TestWarpToMercator_PreservesValues(t *testing.T) {
	r := testRaster(20, 20)
	warped, err := WarpToMercator(r)
	if err != nil {
		t.Fatalf("WarpToMercator: %v", err)
	}
	if warped.SRID != MercatorSRID {
		t.Errorf("srid = %d", warped.SRID)
	}
	if warped.Rows != r.Rows || warped.Cols != r.Cols {
		t.Errorf("warped is %dx%d, want %dx%d", warped.Rows, warped.Cols, r.Rows, r.Cols)
	}

	// Nearest neighbor: every non-nodata output value must be an exact
	// input value.
	inputs := map[float64]bool{}
	for _, v := range r.Data {
		inputs[v] = true
	}
	seen := 0
	for _, v := range warped.Data {
		if v == warped.NoData {
			continue
		}
		if !inputs[v] {
			t.Fatalf("warped value %v is not an input value", v)
		}
		seen++
	}
	if seen < len(warped.Data)/2 {
		t.Errorf("only %d of %d warped cells carry data", seen, len(warped.Data))
	}

	// The center of the grid must survive the round trip.
	center := warped.At(warped.Rows/2, warped.Cols/2)
	if center == warped.NoData {
		t.Error("center cell is nodata after warp")
	}
}

func TestWarpToMercator_RejectsNonUTM(t *testing.T) {
	r := testRaster(4, 4)
	r.SRID = 4326
	if _, err := WarpToMercator(r); err == nil {
		t.Error("non-UTM source accepted")
	}
}

func TestStack_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "depth.grs")

	bands := []*Raster{testRaster(10, 12), testRaster(10, 12)}
	bands[1].Fill(42)
	stamps := []string{"20260305100000", "20260305110000"}

	if err := WriteStack(path, bands, stamps, Float64, "PROJCS[...]"); err != nil {
		t.Fatalf("WriteStack: %v", err)
	}

	stack, err := OpenStack(path)
	if err != nil {
		t.Fatalf("OpenStack: %v", err)
	}
	if stack.Bands() != 2 || stack.Rows() != 10 || stack.Cols() != 12 {
		t.Fatalf("stack shape = %d bands %dx%d", stack.Bands(), stack.Rows(), stack.Cols())
	}
	if got := stack.Timestamps(); got[1] != "20260305110000" {
		t.Errorf("timestamps = %v", got)
	}

	band0, err := stack.Band(0)
	if err != nil {
		t.Fatalf("Band(0): %v", err)
	}
	for i, want := range bands[0].Data {
		if band0.Data[i] != want {
			t.Fatalf("band 0 sample %d = %v, want %v", i, band0.Data[i], want)
		}
	}
	band1, err := stack.Band(1)
	if err != nil {
		t.Fatalf("Band(1): %v", err)
	}
	if band1.At(3, 3) != 42 {
		t.Errorf("band 1 sample = %v, want 42", band1.At(3, 3))
	}

	if _, err := stack.Band(2); err == nil {
		t.Error("out-of-range band accepted")
	}
}

func TestStack_DatatypeNarrowing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "classes.grs")

	r := testRaster(4, 4)
	r.Set(0, 0, 3.7)   // rounds to 4
	r.Set(0, 1, 300)   // clamps to 255
	r.Set(0, 2, -5)    // clamps to 0
	if err := WriteStack(path, []*Raster{r}, []string{"20260305100000"}, Byte, ""); err != nil {
		t.Fatalf("WriteStack: %v", err)
	}
	stack, err := OpenStack(path)
	if err != nil {
		t.Fatalf("OpenStack: %v", err)
	}
	band, err := stack.Band(0)
	if err != nil {
		t.Fatalf("Band: %v", err)
	}
	if band.At(0, 0) != 4 || band.At(0, 1) != 255 || band.At(0, 2) != 0 {
		t.Errorf("narrowed samples = %v %v %v", band.At(0, 0), band.At(0, 1), band.At(0, 2))
	}
}

func TestStack_Overviews(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "big.grs")

	r := testRaster(600, 600)
	if err := WriteStack(path, []*Raster{r}, []string{"20260305100000"}, Float32, ""); err != nil {
		t.Fatalf("WriteStack: %v", err)
	}
	stack, err := OpenStack(path)
	if err != nil {
		t.Fatalf("OpenStack: %v", err)
	}
	// 600 -> 300 -> 150: two overview levels beyond full resolution.
	if stack.Levels() != 3 {
		t.Fatalf("levels = %d, want 3", stack.Levels())
	}
	ov, err := stack.BandAtLevel(0, 1)
	if err != nil {
		t.Fatalf("BandAtLevel: %v", err)
	}
	if ov.Rows != 300 || ov.Cols != 300 {
		t.Errorf("overview is %dx%d, want 300x300", ov.Rows, ov.Cols)
	}
	if math.Abs(ov.Geotransform[1]-2*r.Geotransform[1]) > 1e-9 {
		t.Errorf("overview pixel width = %v, want doubled", ov.Geotransform[1])
	}
	// Nearest downsampling: overview sample (0,0) is full-res (0,0).
	if ov.At(0, 0) != r.At(0, 0) {
		t.Errorf("overview (0,0) = %v, want %v", ov.At(0, 0), r.At(0, 0))
	}
}

func TestBandRef_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	stackPath := filepath.Join(dir, "depth.grs")
	r := testRaster(6, 6)
	if err := WriteStack(stackPath, []*Raster{r}, []string{"20260305100000"}, Float64, ""); err != nil {
		t.Fatalf("WriteStack: %v", err)
	}

	ref := BandRef{
		StackFile: "depth.grs",
		Band:      1,
		Attribute: "depth",
		Timestamp: "20260305100000",
		Datatype:  Float64,
		NoData:    -9999,
		SRID:      32631,
	}
	refPath := filepath.Join(dir, "depth_20260305100000.bref")
	if err := WriteBandRef(refPath, ref); err != nil {
		t.Fatalf("WriteBandRef: %v", err)
	}
	got, err := ReadBandRef(refPath)
	if err != nil {
		t.Fatalf("ReadBandRef: %v", err)
	}
	if got != ref {
		t.Errorf("round trip mismatch: %+v", got)
	}

	band, err := got.Resolve(dir)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if band.At(2, 2) != r.At(2, 2) {
		t.Errorf("resolved band sample = %v, want %v", band.At(2, 2), r.At(2, 2))
	}
}
