// Package reporting assembles the output rasters of one chunk run into
// a single uploadable archive: per attribute a stacked multi-band file
// with overviews, per timestep a band reference, plus a manifest the
// server ingests from.
package reporting

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/mholt/archiver/v3"
	"github.com/mvreeden/gridsim/internal/geo"
	"github.com/mvreeden/gridsim/internal/raster"
	"github.com/mvreeden/gridsim/internal/script"
)

// ErrUndeclared marks a report for an attribute missing from the
// model's reporting section. The caller logs it and continues the run;
// the whitelist exists so typo'd attribute names fail loud instead of
// accumulating unindexed data.
var ErrUndeclared = errors.New("reporting: attribute not declared")

// TimestampLayout is the compact numeric timestamp carried in band
// reference names and manifest entries.
const TimestampLayout = "20060102150405"

type timedRaster struct {
	timestep int
	data     *raster.Raster
}

// Pipeline accumulates reports for one run and packages them on
// Finalize. Not safe for concurrent use; one worker owns one pipeline.
type Pipeline struct {
	workDir   string
	grid      geo.Grid
	configKey string
	reporting map[string]script.ReportSpec

	start      time.Time
	stepLength time.Duration

	mask []bool

	// accumulated reports per attribute, in arrival order.
	reports map[string][]timedRaster
	order   []string
}

// NewPipeline builds a pipeline for one chunk run. start and stepLength
// place timesteps on the time axis; mask is the chunk's rasterized mask
// (nil means no cropping).
func NewPipeline(workDir string, grid geo.Grid, configKey string, reporting map[string]script.ReportSpec, start time.Time, stepLength time.Duration, mask []bool) *Pipeline {
	return &Pipeline{
		workDir:    workDir,
		grid:       grid,
		configKey:  configKey,
		reporting:  reporting,
		start:      start,
		stepLength: stepLength,
		mask:       mask,
		reports:    map[string][]timedRaster{},
	}
}

// Report accepts one output raster. Undeclared attributes are rejected
// with ErrUndeclared. The raster is cropped to the chunk mask before
// accumulating, substituting the attribute's declared nodata value
// outside the mask.
func (p *Pipeline) Report(attribute string, timestep int, r *raster.Raster) error {
	spec, ok := p.reporting[attribute]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUndeclared, attribute)
	}

	cropped := r.Clone()
	cropped.NoData = spec.NoData
	for i, v := range r.Data {
		if v == r.NoData {
			cropped.Data[i] = spec.NoData
		}
	}
	if p.mask != nil {
		if err := cropped.ApplyMask(p.mask); err != nil {
			return fmt.Errorf("reporting: crop %q: %w", attribute, err)
		}
	}

	if _, seen := p.reports[attribute]; !seen {
		p.order = append(p.order, attribute)
	}
	p.reports[attribute] = append(p.reports[attribute], timedRaster{timestep: timestep, data: cropped})
	return nil
}

// Attributes returns the attributes reported so far, in first-report
// order.
func (p *Pipeline) Attributes() []string {
	return append([]string{}, p.order...)
}

// ProgressFunc is called once per attribute packaged during Finalize.
type ProgressFunc func(done, total int)

// Finalize packages every accumulated attribute and returns the archive
// path. Per attribute: bands sorted by timestep, warped to the serving
// projection, stacked with compression, tiling and overviews, then one
// band reference per timestep. Across attributes: one manifest entry
// per band reference, everything tarred into a single archive.
func (p *Pipeline) Finalize(progress ProgressFunc) (string, error) {
	if len(p.order) == 0 {
		return "", fmt.Errorf("reporting: run produced no reports")
	}

	stageDir := filepath.Join(p.workDir, "package")
	if err := os.MkdirAll(stageDir, 0o755); err != nil {
		return "", fmt.Errorf("reporting: stage dir: %w", err)
	}

	var manifest Manifest
	for done, attribute := range p.order {
		if err := p.packageAttribute(stageDir, attribute, &manifest); err != nil {
			return "", err
		}
		if progress != nil {
			progress(done+1, len(p.order))
		}
	}

	manifestPath := filepath.Join(stageDir, ManifestFilename)
	if err := WriteManifest(manifestPath, manifest); err != nil {
		return "", err
	}

	archivePath := filepath.Join(p.workDir, fmt.Sprintf("%s_%s.tar", p.configKey, p.grid.ChunkID))
	sources := make([]string, 0, len(manifest.Entries)+1)
	for _, e := range manifest.Entries {
		sources = append(sources, filepath.Join(stageDir, e.Filename))
	}
	stackFiles := map[string]bool{}
	for _, attribute := range p.order {
		name := stackFilename(attribute)
		if !stackFiles[name] {
			stackFiles[name] = true
			sources = append(sources, filepath.Join(stageDir, name))
		}
	}
	sources = append(sources, manifestPath)

	if err := archiver.Archive(sources, archivePath); err != nil {
		return "", fmt.Errorf("reporting: archive %s: %w", archivePath, err)
	}
	return archivePath, nil
}

func (p *Pipeline) packageAttribute(stageDir, attribute string, manifest *Manifest) error {
	spec := p.reporting[attribute]
	reports := append([]timedRaster{}, p.reports[attribute]...)
	sort.SliceStable(reports, func(i, j int) bool { return reports[i].timestep < reports[j].timestep })

	bands := make([]*raster.Raster, len(reports))
	timestamps := make([]string, len(reports))
	for i, tr := range reports {
		warped, err := raster.WarpToMercator(tr.data)
		if err != nil {
			return fmt.Errorf("reporting: warp %q timestep %d: %w", attribute, tr.timestep, err)
		}
		bands[i] = warped
		timestamps[i] = p.timestamp(tr.timestep)
	}

	stackName := stackFilename(attribute)
	if err := raster.WriteStack(filepath.Join(stageDir, stackName), bands, timestamps, spec.Datatype, p.grid.CRSWKT); err != nil {
		return fmt.Errorf("reporting: stack %q: %w", attribute, err)
	}

	for i, ts := range timestamps {
		refName := fmt.Sprintf("%s_%s.bref", attribute, ts)
		ref := raster.BandRef{
			StackFile: stackName,
			Band:      i + 1,
			Attribute: attribute,
			Timestamp: ts,
			Datatype:  spec.Datatype,
			NoData:    spec.NoData,
			SRID:      raster.MercatorSRID,
		}
		if err := raster.WriteBandRef(filepath.Join(stageDir, refName), ref); err != nil {
			return fmt.Errorf("reporting: band ref %q: %w", refName, err)
		}
		manifest.Entries = append(manifest.Entries, ManifestEntry{
			Filename:  refName,
			Attribute: attribute,
			Timestamp: ts,
			Datatype:  string(spec.Datatype),
			ConfigKey: p.configKey,
			ChunkID:   p.grid.ChunkID,
			SourceCRS: fmt.Sprintf("EPSG:%d", p.grid.SRID),
		})
	}
	return nil
}

func (p *Pipeline) timestamp(timestep int) string {
	return p.start.Add(time.Duration(timestep) * p.stepLength).UTC().Format(TimestampLayout)
}

func stackFilename(attribute string) string {
	return attribute + ".grs"
}
