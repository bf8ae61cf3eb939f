// Package worker is the runtime that drains the work queue: reserve
// one item, run the script over the chunk grid, package and upload the
// results, clean up, report status. One process runs one item at a
// time; scale-out is more processes against the same queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mvreeden/gridsim/internal/configkey"
	"github.com/mvreeden/gridsim/internal/geo"
	"github.com/mvreeden/gridsim/internal/models"
	"github.com/mvreeden/gridsim/internal/queue"
	"github.com/mvreeden/gridsim/internal/raster"
	"github.com/mvreeden/gridsim/internal/reporting"
	"github.com/mvreeden/gridsim/internal/script"
)

// FailureKind classifies why a run failed. Parse, Processing and
// Reporting become a FAILED chunk status; Infrastructure never does, it
// is logged and retried by the caller.
type FailureKind int

const (
	ParseFailure FailureKind = iota
	ProcessingFailure
	ReportingFailure
	InfrastructureFailure
)

func (k FailureKind) String() string {
	switch k {
	case ParseFailure:
		return "parse"
	case ProcessingFailure:
		return "processing"
	case ReportingFailure:
		return "reporting"
	case InfrastructureFailure:
		return "infrastructure"
	}
	return "unknown"
}

// RunError is a classified run failure.
type RunError struct {
	Kind FailureKind
	Err  error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s failure: %v", e.Kind, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

func failf(kind FailureKind, format string, args ...any) *RunError {
	return &RunError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Phase percentages. Intentionally not timestep-accurate: the dynamic
// phase spans 10-60 and packaging 60-95 so users see monotonic progress
// even though true cost is back-loaded into packaging.
const (
	percentPrepare     = 5
	percentInitial     = 10
	percentPostDynamic = 60
	percentComplete    = 95
)

func dynamicPercent(timestep, total int) int {
	if total <= 0 {
		return percentInitial
	}
	return percentInitial + int(50*float64(timestep)/float64(total))
}

func packagingPercent(done, total int) int {
	if total <= 0 {
		return percentPostDynamic
	}
	return percentPostDynamic + int(35*float64(done)/float64(total))
}

// Worker drains a queue with one script engine.
type Worker struct {
	Queue          queue.Queue
	Engine         script.Engine
	Client         *Client
	DataDir        string
	ReserveTimeout time.Duration
	Clock          clockwork.Clock
	Logger         *log.Logger
}

func (w *Worker) clock() clockwork.Clock {
	if w.Clock != nil {
		return w.Clock
	}
	return clockwork.NewRealClock()
}

func (w *Worker) logf(format string, args ...any) {
	if w.Logger != nil {
		w.Logger.Printf(format, args...)
	}
}

// Run loops RunOne until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.RunOne(ctx); err != nil {
			var runErr *RunError
			if errors.As(err, &runErr) && runErr.Kind == InfrastructureFailure {
				w.logf("infrastructure error, backing off: %v", err)
				w.clock().Sleep(w.ReserveTimeout)
				continue
			}
			// Chunk-level failures were already reported downstream;
			// the loop only notes them and moves on.
			w.logf("run failed: %v", err)
		}
	}
}

// RunOne reserves and processes a single work item. A timeout with no
// work returns nil. The item is deleted from the queue whatever the
// outcome: a permanently failing item must not be redelivered forever.
func (w *Worker) RunOne(ctx context.Context) error {
	item, err := w.Queue.Reserve(w.ReserveTimeout)
	if err != nil {
		if errors.Is(err, queue.ErrTimeout) {
			return nil
		}
		return failf(InfrastructureFailure, "reserve: %w", err)
	}

	wi, decodeErr := queue.DecodeWorkItem(item.Body)

	var runErr *RunError
	var pusher *Pusher
	if decodeErr != nil {
		runErr = failf(ParseFailure, "undecodable work item: %w", decodeErr)
	} else {
		pusher = NewPusher(w.Client, wi.CallbackBaseURL, wi.WorkItemID, w.clock(), w.Logger)
		runErr = w.process(ctx, wi, pusher)
	}

	// Guaranteed cleanup: the reservation is consumed exactly once, and
	// the terminal status goes out with the full captured log.
	if err := w.Queue.Delete(item.ID); err != nil {
		w.logf("delete item %d: %v", item.ID, err)
	}
	if pusher != nil {
		if runErr != nil {
			pusher.Log(runErr.Error())
			pusher.Push(models.StatusFailed, runErr.Error(), pusher.LastPercent(), true)
		} else {
			pusher.Push(models.StatusComplete, "complete", percentComplete, true)
		}
	}
	if runErr != nil {
		return runErr
	}
	return nil
}

// process runs one decoded work item through all phases.
func (w *Worker) process(ctx context.Context, wi *queue.WorkItem, pusher *Pusher) *RunError {
	workDir := filepath.Join(w.DataDir, wi.WorkItemID)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return failf(ProcessingFailure, "work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	pusher.Log(fmt.Sprintf("work item %s: chunk %s, configuration %s",
		wi.WorkItemID, wi.ChunkID, wi.ConfigurationKey))
	pusher.Push(models.StatusPending, "preparing", percentPrepare, true)

	mask, fellBack := geo.RasterizeMask(wi.Grid)
	if fellBack {
		pusher.Log("chunk mask unusable, processing the full grid")
	}

	timesteps := paramInt(wi.Parameters, configkey.KeyTimesteps, 1)
	stepLength := time.Duration(paramInt(wi.Parameters, "__timesteplength__", 3600)) * time.Second
	start, err := time.Parse(configkey.TimeLayout, paramString(wi.Parameters, configkey.KeyStart))
	if err != nil {
		return failf(ParseFailure, "work item start time: %w", err)
	}

	// The pipeline needs the declared reporting section, which only
	// exists after Load; the report closure binds to it late. No report
	// can arrive before setup, so the window is safe.
	var pipeline *reporting.Pipeline
	report := func(attribute string, timestep int, r *raster.Raster) error {
		if pipeline == nil {
			return fmt.Errorf("report %q before setup", attribute)
		}
		if err := pipeline.Report(attribute, timestep, r); err != nil {
			if errors.Is(err, reporting.ErrUndeclared) {
				pusher.Log(err.Error())
				return nil
			}
			return err
		}
		return nil
	}

	inst, err := w.Engine.Load(ctx, script.Source{
		Name:       paramString(wi.Parameters, configkey.KeyModel),
		Text:       wi.ScriptSource,
		WorkDir:    workDir,
		Parameters: wi.Parameters,
		Grid:       wi.Grid,
	}, report, pusher.Log)
	if err != nil {
		return failf(ProcessingFailure, "load script: %w", err)
	}
	defer inst.Close()

	pipeline = reporting.NewPipeline(workDir, wi.Grid, wi.ConfigurationKey,
		inst.DeclaredReporting(), start, stepLength, mask)

	if runErr := w.runPhases(ctx, inst, pusher, timesteps); runErr != nil {
		return runErr
	}

	archivePath, err := pipeline.Finalize(func(done, total int) {
		pusher.Push(models.StatusPending, "packaging", packagingPercent(done, total), true)
	})
	if err != nil {
		return failf(ReportingFailure, "finalize: %w", err)
	}
	if err := w.Client.UploadArchive(wi.CallbackBaseURL, wi.WorkItemID, archivePath); err != nil {
		return failf(ReportingFailure, "upload: %w", err)
	}
	pusher.Log("archive uploaded")
	return nil
}

// runPhases drives setup, the timestep loop and teardown.
func (w *Worker) runPhases(ctx context.Context, inst script.Instance, pusher *Pusher, timesteps int) *RunError {
	if err := inst.Setup(ctx); err != nil {
		return failf(ProcessingFailure, "setup: %w", err)
	}
	pusher.Push(models.StatusPending, "initial state", percentInitial, true)

	for ts := 1; ts <= timesteps; ts++ {
		if err := ctx.Err(); err != nil {
			return failf(ProcessingFailure, "cancelled at timestep %d: %w", ts, err)
		}
		if err := inst.Step(ctx, ts); err != nil {
			return failf(ProcessingFailure, "timestep %d: %w", ts, err)
		}
		pusher.Push(models.StatusPending, fmt.Sprintf("timestep %d/%d", ts, timesteps),
			dynamicPercent(ts, timesteps), false)
	}

	if err := inst.Teardown(ctx); err != nil {
		return failf(ProcessingFailure, "teardown: %w", err)
	}
	pusher.Push(models.StatusPending, "postdynamic", percentPostDynamic, true)
	return nil
}

func paramInt(params map[string]any, key string, fallback int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return fallback
}

func paramString(params map[string]any, key string) string {
	if s, ok := params[key].(string); ok {
		return s
	}
	return ""
}
