package reporting

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mvreeden/gridsim/internal/geo"
	"github.com/mvreeden/gridsim/internal/raster"
	"github.com/mvreeden/gridsim/internal/script"
)

func testGrid() geo.Grid {
	return geo.Grid{
		ChunkID:      "ch-1",
		CellSize:     100,
		Rows:         8,
		Cols:         8,
		SRID:         32631,
		CRSWKT:       "PROJCS[...]",
		Geotransform: [6]float64{595000, 100, 0, 5765000, 0, -100},
	}
}

func testSpecs() map[string]script.ReportSpec {
	return map[string]script.ReportSpec{
		"depth":    {Datatype: raster.Float64, NoData: -9999, Unit: "m"},
		"velocity": {Datatype: raster.Float64, NoData: -9999, Unit: "m/s"},
	}
}

func fullMask(g geo.Grid) []bool {
	mask := make([]bool, g.Rows*g.Cols)
	for i := range mask {
		mask[i] = true
	}
	return mask
}

func filled(g geo.Grid, v float64) *raster.Raster {
	r := raster.New(g.Rows, g.Cols, g.Geotransform, g.SRID, -9999)
	r.Fill(v)
	return r
}

func testStart() time.Time {
	return time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)
}

func TestReport_RejectsUndeclared(t *testing.T) {
	g := testGrid()
	p := NewPipeline(t.TempDir(), g, "cafebabe", testSpecs(), testStart(), time.Hour, fullMask(g))

	err := p.Report("depht", 1, filled(g, 1)) // typo'd name
	if !errors.Is(err, ErrUndeclared) {
		t.Errorf("err = %v, want ErrUndeclared", err)
	}
	if len(p.Attributes()) != 0 {
		t.Error("rejected report was accumulated")
	}
}

func TestReport_CropsToMask(t *testing.T) {
	g := testGrid()
	mask := fullMask(g)
	mask[0] = false // exclude top-left cell

	p := NewPipeline(t.TempDir(), g, "cafebabe", testSpecs(), testStart(), time.Hour, mask)
	if err := p.Report("depth", 1, filled(g, 7)); err != nil {
		t.Fatalf("Report: %v", err)
	}

	got := p.reports["depth"][0].data
	if got.At(0, 0) != -9999 {
		t.Errorf("masked-out cell = %v, want nodata", got.At(0, 0))
	}
	if got.At(1, 1) != 7 {
		t.Errorf("masked-in cell = %v, want 7", got.At(1, 1))
	}
}

func TestFinalize_ArchiveRoundTrip(t *testing.T) {
	g := testGrid()
	workDir := t.TempDir()
	p := NewPipeline(workDir, g, "cafebabe", testSpecs(), testStart(), time.Hour, fullMask(g))

	// Report out of order to check timestep sorting.
	for _, ts := range []int{2, 1, 3} {
		if err := p.Report("depth", ts, filled(g, float64(ts))); err != nil {
			t.Fatalf("Report depth %d: %v", ts, err)
		}
	}
	if err := p.Report("velocity", 1, filled(g, 0.5)); err != nil {
		t.Fatalf("Report velocity: %v", err)
	}

	var ticks []int
	archivePath, err := p.Finalize(func(done, total int) { ticks = append(ticks, done) })
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if len(ticks) != 2 || ticks[1] != 2 {
		t.Errorf("progress ticks = %v, want one per attribute", ticks)
	}
	if _, err := os.Stat(archivePath); err != nil {
		t.Fatalf("archive missing: %v", err)
	}

	unpackDir := t.TempDir()
	manifest, err := ExtractArchive(archivePath, unpackDir)
	if err != nil {
		t.Fatalf("ExtractArchive: %v", err)
	}
	// Three depth timesteps plus one velocity timestep.
	if len(manifest.Entries) != 4 {
		t.Fatalf("manifest has %d entries, want 4", len(manifest.Entries))
	}

	byAttr := map[string][]ManifestEntry{}
	for _, e := range manifest.Entries {
		if e.ConfigKey != "cafebabe" || e.ChunkID != "ch-1" || e.SourceCRS != "EPSG:32631" {
			t.Errorf("entry metadata = %+v", e)
		}
		byAttr[e.Attribute] = append(byAttr[e.Attribute], e)
	}
	depth := byAttr["depth"]
	if len(depth) != 3 {
		t.Fatalf("depth entries = %d, want 3", len(depth))
	}
	// Band order must follow timestep order regardless of report order.
	if depth[0].Timestamp != "20260305110000" || depth[2].Timestamp != "20260305130000" {
		t.Errorf("depth timestamps = %s .. %s", depth[0].Timestamp, depth[2].Timestamp)
	}

	// Every referenced file must resolve, in the serving projection,
	// carrying the reported values.
	ref, err := raster.ReadBandRef(filepath.Join(unpackDir, depth[1].Filename))
	if err != nil {
		t.Fatalf("ReadBandRef: %v", err)
	}
	if ref.Band != 2 || ref.SRID != raster.MercatorSRID {
		t.Errorf("ref = %+v", ref)
	}
	band, err := ref.Resolve(unpackDir)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	center := band.At(band.Rows/2, band.Cols/2)
	if center != 2 {
		t.Errorf("depth timestep 2 center = %v, want 2", center)
	}
}

func TestFinalize_EmptyRunFails(t *testing.T) {
	g := testGrid()
	p := NewPipeline(t.TempDir(), g, "cafebabe", testSpecs(), testStart(), time.Hour, fullMask(g))
	if _, err := p.Finalize(nil); err == nil {
		t.Error("empty run finalized")
	}
}
