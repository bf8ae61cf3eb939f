package geo

import (
	"math"
	"strings"
	"testing"

	"github.com/paulmach/orb"
)

// square returns a closed square polygon in lng/lat.
func square(minLng, minLat, size float64) orb.Polygon {
	return orb.Polygon{orb.Ring{
		{minLng, minLat},
		{minLng + size, minLat},
		{minLng + size, minLat + size},
		{minLng, minLat + size},
		{minLng, minLat},
	}}
}

func TestUTMZone(t *testing.T) {
	tests := []struct {
		name     string
		lng, lat float64
		zone     int
		northern bool
	}{
		{"amsterdam", 4.9, 52.4, 31, true},
		{"wellington", 174.8, -41.3, 60, false},
		{"greenwich", 0.0, 51.5, 31, true},
		{"norway exception", 5.0, 60.0, 32, true},
		{"svalbard exception", 15.0, 78.0, 33, true},
		{"date line west", -179.9, 10.0, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			zone, northern := UTMZone(tt.lng, tt.lat)
			if zone != tt.zone || northern != tt.northern {
				t.Errorf("UTMZone(%f, %f) = (%d, %v), want (%d, %v)",
					tt.lng, tt.lat, zone, northern, tt.zone, tt.northern)
			}
		})
	}
}

func TestUTMEPSG_Hemispheres(t *testing.T) {
	north, err := UTMEPSG(square(4.5, 52.0, 0.5))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if north != 32631 {
		t.Errorf("northern EPSG = %d, want 32631", north)
	}

	south, err := UTMEPSG(square(174.5, -41.5, 0.5))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if south != 32760 {
		t.Errorf("southern EPSG = %d, want 32760", south)
	}
}

func TestUTMEPSG_DegeneratePolygon(t *testing.T) {
	_, err := UTMEPSG(orb.Polygon{})
	if err == nil {
		t.Fatal("expected error for empty polygon")
	}
}

func TestDeriveGrid_RoundTrip(t *testing.T) {
	// Bounds reconstructed from geotransform + rows/cols must reproduce
	// the projected bbox to within one pixel.
	polys := []orb.Polygon{
		square(4.5, 52.0, 0.1),
		square(174.5, -41.5, 0.25),
		square(-70.2, -33.8, 0.15),
	}
	for _, p := range polys {
		grid, err := DeriveGrid(p, "test", 100, "chunk-1")
		if err != nil {
			t.Fatalf("DeriveGrid: %v", err)
		}
		got := grid.ProjectedBounds()
		want := grid.BBoxProjected
		for i := range got {
			if math.Abs(got[i]-want[i]) > float64(grid.CellSize) {
				t.Errorf("bounds[%d] = %f, want %f within one pixel", i, got[i], want[i])
			}
		}
	}
}

func TestDeriveGrid_RoundsPixelCounts(t *testing.T) {
	grid, err := DeriveGrid(square(4.5, 52.0, 0.1), "test", 100, "c")
	if err != nil {
		t.Fatalf("DeriveGrid: %v", err)
	}

	b := grid.BBoxProjected
	wantRows := int(math.Round((b[3] - b[1]) / 100))
	wantCols := int(math.Round((b[2] - b[0]) / 100))
	if grid.Rows != wantRows || grid.Cols != wantCols {
		t.Errorf("rows/cols = %d/%d, want %d/%d", grid.Rows, grid.Cols, wantRows, wantCols)
	}

	// Effective pixel size stays close to the requested cell size.
	if math.Abs(grid.Geotransform[1]-100) > 1 {
		t.Errorf("pixel width = %f, want ~100", grid.Geotransform[1])
	}
	if grid.Geotransform[5] >= 0 {
		t.Errorf("pixel height = %f, want negative (north-up)", grid.Geotransform[5])
	}
}

func TestDeriveGrid_TooSmall(t *testing.T) {
	_, err := DeriveGrid(square(4.5, 52.0, 0.0001), "test", 1000, "c")
	if err == nil {
		t.Fatal("expected error for sub-cell extent")
	}
}

func TestDeriveGrid_CRSWKT(t *testing.T) {
	grid, err := DeriveGrid(square(4.5, 52.0, 0.1), "test", 100, "c")
	if err != nil {
		t.Fatalf("DeriveGrid: %v", err)
	}
	if !strings.Contains(grid.CRSWKT, "UTM zone 31N") {
		t.Errorf("CRSWKT = %q, want UTM zone 31N", grid.CRSWKT)
	}
	if !strings.Contains(grid.CRSWKT, `"EPSG","32631"`) {
		t.Errorf("CRSWKT missing authority code: %q", grid.CRSWKT)
	}
}

func TestRasterizeMask_SquareCoversGrid(t *testing.T) {
	grid, err := DeriveGrid(square(4.5, 52.0, 0.05), "test", 100, "c")
	if err != nil {
		t.Fatalf("DeriveGrid: %v", err)
	}
	mask, fellBack := RasterizeMask(grid)
	if fellBack {
		t.Fatal("square mask should not fall back")
	}

	// A square chunk covers its own bounding box, so nearly every cell
	// must be inside the mask.
	covered := 0
	for _, m := range mask {
		if m {
			covered++
		}
	}
	if covered < len(mask)*9/10 {
		t.Errorf("covered %d of %d cells, want nearly all", covered, len(mask))
	}
}

func TestRasterizeMask_TriangleExcludesCorner(t *testing.T) {
	// Lower-left triangle of the square: the top-right corner cell of the
	// grid must be outside the mask, the bottom-left inside.
	tri := orb.Polygon{orb.Ring{
		{4.5, 52.0}, {4.56, 52.0}, {4.5, 52.06}, {4.5, 52.0},
	}}
	grid, err := DeriveGrid(tri, "test", 100, "c")
	if err != nil {
		t.Fatalf("DeriveGrid: %v", err)
	}
	mask, fellBack := RasterizeMask(grid)
	if fellBack {
		t.Fatal("triangle mask should not fall back")
	}
	// Meridian convergence skews the projected extent, so locate the
	// bottom-left vertex's cell through the grid rather than by index.
	zone, northern, err := EPSGZone(grid.SRID)
	if err != nil {
		t.Fatalf("EPSGZone(%d): %v", grid.SRID, err)
	}
	x, y, _ := LonLatToUTM(zone, northern)(4.5, 52.0, 0)
	row, col, ok := grid.CellAt(x, y)
	if !ok {
		t.Fatalf("bottom-left vertex projects outside the grid")
	}
	if !mask[row*grid.Cols+col] {
		t.Errorf("cell (%d,%d) holding the bottom-left vertex should be inside the triangle mask", row, col)
	}
	if mask[grid.Cols-1] {
		t.Error("top-right cell should be outside the triangle mask")
	}
}

func TestRasterizeMask_FallbackOnBadWKT(t *testing.T) {
	grid, err := DeriveGrid(square(4.5, 52.0, 0.05), "test", 100, "c")
	if err != nil {
		t.Fatalf("DeriveGrid: %v", err)
	}
	grid.MaskWKT = "not a polygon"

	mask, fellBack := RasterizeMask(grid)
	if !fellBack {
		t.Fatal("expected fallback for unparseable mask")
	}
	for i, m := range mask {
		if !m {
			t.Fatalf("fallback mask has false cell at %d, want all true", i)
		}
	}
}

func TestPolygonsIntersect(t *testing.T) {
	base := square(0, 0, 1)
	tests := []struct {
		name  string
		other orb.Polygon
		want  bool
	}{
		{"overlapping", square(0.5, 0.5, 1), true},
		{"contained", square(0.25, 0.25, 0.5), true},
		{"containing", square(-1, -1, 3), true},
		{"disjoint", square(5, 5, 1), false},
		{"crossing no vertices inside", orb.Polygon{orb.Ring{
			{-0.5, 0.4}, {1.5, 0.4}, {1.5, 0.6}, {-0.5, 0.6}, {-0.5, 0.4},
		}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PolygonsIntersect(base, tt.other); got != tt.want {
				t.Errorf("PolygonsIntersect = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCentroidDistance(t *testing.T) {
	near := CentroidDistance(square(0, 0, 1), square(1, 0, 1))
	far := CentroidDistance(square(0, 0, 1), square(5, 0, 1))
	if near >= far {
		t.Errorf("near = %f, far = %f; want near < far", near, far)
	}
}
