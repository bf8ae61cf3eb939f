// Package script runs user-supplied model scripts. A script is loaded
// as an explicit Instance scoped to one work item: construct, setup,
// step N times, teardown, close. Nothing about the script survives the
// instance, which is what keeps workers reusable across models.
package script

import (
	"context"

	"github.com/mvreeden/gridsim/internal/geo"
	"github.com/mvreeden/gridsim/internal/raster"
)

// ReportSpec is one entry of a model's declared reporting section: the
// storage datatype, sentinel nodata value, and display unit of one
// output attribute.
type ReportSpec struct {
	Datatype raster.Datatype `json:"datatype"`
	NoData   float64         `json:"nodata"`
	Unit     string          `json:"unit"`
}

// Source is everything an engine needs to materialize one script run.
type Source struct {
	Name       string
	Text       string
	WorkDir    string
	Parameters map[string]any
	Grid       geo.Grid
}

// ReportFunc receives one output raster for one attribute at one
// timestep. Timestep 0 is the initial state.
type ReportFunc func(attribute string, timestep int, r *raster.Raster) error

// LogFunc receives captured script log lines.
type LogFunc func(line string)

// Instance is one loaded script run. Instances are exclusively owned by
// a single worker and are not safe for concurrent use.
type Instance interface {
	// DeclaredParameters returns the parameter defaults the script
	// declares, before any configuration overrides.
	DeclaredParameters() map[string]any
	// DeclaredReporting returns the attribute whitelist.
	DeclaredReporting() map[string]ReportSpec

	Setup(ctx context.Context) error
	Step(ctx context.Context, timestep int) error
	Teardown(ctx context.Context) error

	// Close releases the instance regardless of run outcome. Safe to
	// call more than once.
	Close() error
}

// Engine turns a Source into a running Instance. Reports and log lines
// flow through the callbacks for the lifetime of the instance.
type Engine interface {
	Load(ctx context.Context, src Source, report ReportFunc, logf LogFunc) (Instance, error)
}
