package script

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/mvreeden/gridsim/internal/raster"
)

// ExecEngine runs scripts in an external map-algebra runtime as a
// subprocess, speaking line-delimited JSON over stdin/stdout. One
// subprocess per instance; killing the process is the unload.
type ExecEngine struct {
	// Runtime is the interpreter binary, e.g. "python3".
	Runtime string
	// Args are passed before the script path.
	Args []string
}

// NewExecEngine builds an engine around the given runtime binary.
func NewExecEngine(runtime string, args ...string) *ExecEngine {
	return &ExecEngine{Runtime: runtime, Args: args}
}

// request is one command line sent to the subprocess.
type request struct {
	Cmd        string         `json:"cmd"`
	Timestep   int            `json:"timestep,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Grid       any            `json:"grid,omitempty"`
}

// event is used for initial type dispatch of subprocess output lines.
type event struct {
	Type string `json:"type"`
}

type describeEvent struct {
	Parameters map[string]any        `json:"parameters"`
	Reporting  map[string]ReportSpec `json:"reporting"`
}

type reportEvent struct {
	Attribute string    `json:"attribute"`
	Timestep  int       `json:"timestep"`
	Rows      int       `json:"rows"`
	Cols      int       `json:"cols"`
	NoData    float64   `json:"nodata"`
	Data      []float64 `json:"data"`
}

type logEvent struct {
	Message string `json:"message"`
}

type errorEvent struct {
	Message string `json:"message"`
}

// Load writes the script into the work directory, starts the runtime,
// and performs the describe handshake.
func (e *ExecEngine) Load(ctx context.Context, src Source, report ReportFunc, logf LogFunc) (Instance, error) {
	scriptPath := filepath.Join(src.WorkDir, "model_script")
	if err := os.WriteFile(scriptPath, []byte(src.Text), 0o644); err != nil {
		return nil, fmt.Errorf("script: write script: %w", err)
	}

	args := append(append([]string{}, e.Args...), scriptPath)
	cmd := exec.CommandContext(ctx, e.Runtime, args...)
	cmd.Dir = src.WorkDir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("script: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("script: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("script: stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("script: start runtime %s: %w", e.Runtime, err)
	}

	inst := &execInstance{
		src:    src,
		cmd:    cmd,
		stdin:  stdin,
		stdout: bufio.NewScanner(stdout),
		report: report,
		logf:   logf,
	}
	inst.stdout.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)

	go drainStderr(stderr, logf)

	if err := inst.describe(); err != nil {
		inst.Close()
		return nil, err
	}
	return inst, nil
}

func drainStderr(r io.Reader, logf LogFunc) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if logf != nil {
			logf(sc.Text())
		}
	}
}

type execInstance struct {
	src    Source
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Scanner
	report ReportFunc
	logf   LogFunc

	params    map[string]any
	reporting map[string]ReportSpec
	closed    bool
}

func (i *execInstance) DeclaredParameters() map[string]any { return i.params }
func (i *execInstance) DeclaredReporting() map[string]ReportSpec { return i.reporting }

func (i *execInstance) describe() error {
	if err := i.send(request{Cmd: "describe"}); err != nil {
		return err
	}
	// The describe reply is the only event handled out of the normal
	// loop: it must arrive before anything else.
	line, err := i.readLine()
	if err != nil {
		return err
	}
	var d describeEvent
	if err := json.Unmarshal([]byte(line), &d); err != nil {
		return fmt.Errorf("script: parse describe reply: %w", err)
	}
	if len(d.Reporting) == 0 {
		return fmt.Errorf("script: %s declares no reporting section", i.src.Name)
	}
	i.params = d.Parameters
	i.reporting = d.Reporting
	return nil
}

func (i *execInstance) Setup(ctx context.Context) error {
	if err := i.send(request{Cmd: "setup", Parameters: i.src.Parameters, Grid: i.src.Grid}); err != nil {
		return err
	}
	return i.pump(ctx, 0)
}

func (i *execInstance) Step(ctx context.Context, timestep int) error {
	if err := i.send(request{Cmd: "step", Timestep: timestep}); err != nil {
		return err
	}
	return i.pump(ctx, timestep)
}

func (i *execInstance) Teardown(ctx context.Context) error {
	if err := i.send(request{Cmd: "teardown"}); err != nil {
		return err
	}
	return i.pump(ctx, -1)
}

func (i *execInstance) send(req request) error {
	raw, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("script: encode %s command: %w", req.Cmd, err)
	}
	raw = append(raw, '\n')
	if _, err := i.stdin.Write(raw); err != nil {
		return fmt.Errorf("script: send %s command: %w", req.Cmd, err)
	}
	return nil
}

// pump consumes subprocess events until the current command acknowledges
// with ok or fails with error. Reports and logs are forwarded as they
// arrive.
func (i *execInstance) pump(ctx context.Context, timestep int) error {
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("script: run cancelled: %w", err)
		}
		line, err := i.readLine()
		if err != nil {
			return err
		}

		var evt event
		if err := json.Unmarshal([]byte(line), &evt); err != nil {
			return fmt.Errorf("script: malformed event %q: %w", truncate(line), err)
		}
		switch evt.Type {
		case "ok":
			return nil
		case "error":
			var e errorEvent
			_ = json.Unmarshal([]byte(line), &e)
			return fmt.Errorf("script: %s", e.Message)
		case "log":
			var l logEvent
			if json.Unmarshal([]byte(line), &l) == nil && i.logf != nil {
				i.logf(l.Message)
			}
		case "report":
			if err := i.handleReport(line, timestep); err != nil {
				return err
			}
		default:
			return fmt.Errorf("script: unexpected event type %q", evt.Type)
		}
	}
}

func (i *execInstance) handleReport(line string, timestep int) error {
	var r reportEvent
	if err := json.Unmarshal([]byte(line), &r); err != nil {
		return fmt.Errorf("script: parse report event: %w", err)
	}
	rows, cols := r.Rows, r.Cols
	if rows == 0 && cols == 0 {
		rows, cols = i.src.Grid.Rows, i.src.Grid.Cols
	}
	if len(r.Data) != rows*cols {
		return fmt.Errorf("script: report %q carries %d samples for a %dx%d grid",
			r.Attribute, len(r.Data), rows, cols)
	}
	out := &raster.Raster{
		Rows:         rows,
		Cols:         cols,
		Geotransform: i.src.Grid.Geotransform,
		SRID:         i.src.Grid.SRID,
		NoData:       r.NoData,
		Data:         r.Data,
	}
	ts := r.Timestep
	if ts == 0 && timestep > 0 {
		ts = timestep
	}
	if i.report == nil {
		return nil
	}
	return i.report(r.Attribute, ts, out)
}

func (i *execInstance) readLine() (string, error) {
	for i.stdout.Scan() {
		line := strings.TrimSpace(i.stdout.Text())
		if line == "" || line[0] != '{' {
			continue
		}
		return line, nil
	}
	if err := i.stdout.Err(); err != nil {
		return "", fmt.Errorf("script: read runtime output: %w", err)
	}
	return "", fmt.Errorf("script: runtime exited mid-command")
}

// Close terminates the subprocess and reaps it. The shutdown command is
// a courtesy; the kill is what guarantees the unload.
func (i *execInstance) Close() error {
	if i.closed {
		return nil
	}
	i.closed = true
	_ = i.send(request{Cmd: "shutdown"})
	i.stdin.Close()
	if i.cmd.Process != nil {
		_ = i.cmd.Process.Kill()
	}
	_ = i.cmd.Wait()
	return nil
}

func truncate(s string) string {
	if len(s) > 120 {
		return s[:120] + "..."
	}
	return s
}
