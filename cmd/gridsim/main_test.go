package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writeTestConfig writes a sqlite-backed config into a temp dir and
// returns its path.
func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "gridsim.yaml")
	content := fmt.Sprintf("database:\n  driver: sqlite\n  path: %s\n", filepath.Join(dir, "gridsim.db"))
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write test config: %v", err)
	}
	return cfgPath
}

// runCmd executes the root command with args and returns its combined
// output.
func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestVersionCmd(t *testing.T) {
	out, err := runCmd(t, "version")
	if err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	if !strings.Contains(out, "gridsim dev") {
		t.Errorf("expected output to contain 'gridsim dev', got: %s", out)
	}
	if !strings.Contains(out, "commit: none") {
		t.Errorf("expected output to contain 'commit: none', got: %s", out)
	}
}

func TestVersionCmdWithCustomValues(t *testing.T) {
	origVersion, origCommit, origDate := Version, Commit, Date
	Version, Commit, Date = "1.0.0", "abc123", "2026-01-01"
	defer func() { Version, Commit, Date = origVersion, origCommit, origDate }()

	out, err := runCmd(t, "version")
	if err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	if !strings.Contains(out, "gridsim 1.0.0") {
		t.Errorf("expected output to contain 'gridsim 1.0.0', got: %s", out)
	}
	if !strings.Contains(out, "built: 2026-01-01") {
		t.Errorf("expected output to contain 'built: 2026-01-01', got: %s", out)
	}
}

func TestRootCmdHelp(t *testing.T) {
	out, err := runCmd(t, "--help")
	if err != nil {
		t.Fatalf("--help failed: %v", err)
	}
	for _, sub := range []string{"serve", "worker", "discretize", "model", "migrate", "version"} {
		if !strings.Contains(out, sub) {
			t.Errorf("expected help to list %q subcommand, got: %s", sub, out)
		}
	}
}

func TestServeCmd_Help(t *testing.T) {
	out, err := runCmd(t, "serve", "--help")
	if err != nil {
		t.Fatalf("serve --help failed: %v", err)
	}
	if !strings.Contains(out, "--config") {
		t.Errorf("expected help to mention '--config' flag, got: %s", out)
	}
	if !strings.Contains(out, "gridsim.yaml") {
		t.Errorf("expected default config path 'gridsim.yaml', got: %s", out)
	}
}

func TestServeCmd_MissingConfig(t *testing.T) {
	_, err := runCmd(t, "serve", "--config", "/nonexistent/gridsim.yaml")
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
	if !strings.Contains(err.Error(), "config") {
		t.Errorf("error = %v, want a config load error", err)
	}
}

func TestWorkerCmd_NoRuntime(t *testing.T) {
	cfgPath := writeTestConfig(t)
	_, err := runCmd(t, "worker", "--config", cfgPath)
	if err == nil {
		t.Fatal("expected error without a configured runtime")
	}
	if !strings.Contains(err.Error(), "worker.runtime") {
		t.Errorf("error = %v, want a worker.runtime complaint", err)
	}
}
