package script

import (
	"context"
	"fmt"

	"github.com/mvreeden/gridsim/internal/raster"
)

// FakeEngine is an in-process Engine for tests and dry runs. Its
// behavior is scripted through the struct fields rather than through
// script source.
type FakeEngine struct {
	Parameters map[string]any
	Reporting  map[string]ReportSpec

	// ReportPerStep lists the attributes reported on every timestep
	// (including setup as timestep 0 when ReportOnSetup is set).
	ReportPerStep []string
	ReportOnSetup bool
	// FillValue lets tests distinguish timesteps: cell value is
	// FillValue + timestep.
	FillValue float64

	// FailAt makes the named phase return an error: "load", "setup",
	// "step", "teardown".
	FailAt string
	// FailAtStep scopes a "step" failure to one timestep.
	FailAtStep int

	// Loaded counts instances handed out, for leak assertions.
	Loaded int
	Closed int
}

func (f *FakeEngine) Load(ctx context.Context, src Source, report ReportFunc, logf LogFunc) (Instance, error) {
	if f.FailAt == "load" {
		return nil, fmt.Errorf("script: scripted load failure")
	}
	f.Loaded++
	return &fakeInstance{engine: f, src: src, report: report, logf: logf}, nil
}

type fakeInstance struct {
	engine *FakeEngine
	src    Source
	report ReportFunc
	logf   LogFunc
	closed bool
}

func (i *fakeInstance) DeclaredParameters() map[string]any {
	if i.engine.Parameters != nil {
		return i.engine.Parameters
	}
	return map[string]any{}
}

func (i *fakeInstance) DeclaredReporting() map[string]ReportSpec {
	if i.engine.Reporting != nil {
		return i.engine.Reporting
	}
	return map[string]ReportSpec{}
}

func (i *fakeInstance) Setup(ctx context.Context) error {
	if i.engine.FailAt == "setup" {
		return fmt.Errorf("script: scripted setup failure")
	}
	i.log("setup complete")
	if i.engine.ReportOnSetup {
		return i.emit(0)
	}
	return nil
}

func (i *fakeInstance) Step(ctx context.Context, timestep int) error {
	if i.engine.FailAt == "step" && (i.engine.FailAtStep == 0 || i.engine.FailAtStep == timestep) {
		return fmt.Errorf("script: scripted failure at timestep %d", timestep)
	}
	i.log(fmt.Sprintf("timestep %d complete", timestep))
	return i.emit(timestep)
}

func (i *fakeInstance) Teardown(ctx context.Context) error {
	if i.engine.FailAt == "teardown" {
		return fmt.Errorf("script: scripted teardown failure")
	}
	i.log("teardown complete")
	return nil
}

func (i *fakeInstance) emit(timestep int) error {
	for _, attr := range i.engine.ReportPerStep {
		nodata := -9999.0
		if spec, ok := i.engine.Reporting[attr]; ok {
			nodata = spec.NoData
		}
		r := raster.New(i.src.Grid.Rows, i.src.Grid.Cols, i.src.Grid.Geotransform, i.src.Grid.SRID, nodata)
		r.Fill(i.engine.FillValue + float64(timestep))
		if err := i.report(attr, timestep, r); err != nil {
			return err
		}
	}
	return nil
}

func (i *fakeInstance) log(line string) {
	if i.logf != nil {
		i.logf(line)
	}
}

func (i *fakeInstance) Close() error {
	if !i.closed {
		i.closed = true
		i.engine.Closed++
	}
	return nil
}
