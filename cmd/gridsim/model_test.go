package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeModelDefinition(t *testing.T, dir, scriptBody string) string {
	t.Helper()
	scriptPath := filepath.Join(dir, "rainfall.py")
	if err := os.WriteFile(scriptPath, []byte(scriptBody), 0o644); err != nil {
		t.Fatalf("write script: %v", err)
	}

	def := fmt.Sprintf(`name: rainfall
abstract: Uniform rainfall accumulation
discretization: coastal_strip_100m
max_chunks: 4
parameters:
  rate: 0.25
time:
  start: "###"
  timesteps: 24
  timesteplength: 3600
reporting:
  depth:
    datatype: Float64
    nodata: -9999
    unit: m
script: %s
`, scriptPath)

	defPath := filepath.Join(dir, "rainfall.yaml")
	if err := os.WriteFile(defPath, []byte(def), 0o644); err != nil {
		t.Fatalf("write model definition: %v", err)
	}
	return defPath
}

func TestModelRegisterCmd(t *testing.T) {
	cfgPath := writeTestConfig(t)
	geojson := writeTestGeoJSON(t)
	if _, err := runCmd(t, "discretize", "--config", cfgPath, "--name", "coastal strip", geojson); err != nil {
		t.Fatalf("discretize: %v", err)
	}

	dir := t.TempDir()
	defPath := writeModelDefinition(t, dir, "print('v1')")

	out, err := runCmd(t, "model", "register", "--config", cfgPath, defPath)
	if err != nil {
		t.Fatalf("model register failed: %v", err)
	}
	if !strings.Contains(out, `Registered model "rainfall" (version 1)`) {
		t.Errorf("unexpected output: %s", out)
	}

	// Unchanged re-registration keeps the version.
	out, err = runCmd(t, "model", "register", "--config", cfgPath, defPath)
	if err != nil {
		t.Fatalf("model re-register failed: %v", err)
	}
	if !strings.Contains(out, "(version 1)") {
		t.Errorf("unchanged re-register bumped version: %s", out)
	}

	// A script edit bumps the version, which rolls every configuration
	// key derived from the model.
	defPath = writeModelDefinition(t, dir, "print('v2')")
	out, err = runCmd(t, "model", "register", "--config", cfgPath, defPath)
	if err != nil {
		t.Fatalf("model register after edit failed: %v", err)
	}
	if !strings.Contains(out, `Updated model "rainfall" (version 2)`) {
		t.Errorf("unexpected output: %s", out)
	}

	out, err = runCmd(t, "model", "list", "--config", cfgPath)
	if err != nil {
		t.Fatalf("model list failed: %v", err)
	}
	if !strings.Contains(out, "rainfall v2 (coastal_strip_100m, max 4 chunks)") {
		t.Errorf("unexpected listing: %s", out)
	}
}

func TestModelRegisterCmd_UnknownDiscretization(t *testing.T) {
	cfgPath := writeTestConfig(t)
	defPath := writeModelDefinition(t, t.TempDir(), "print('v1')")

	_, err := runCmd(t, "model", "register", "--config", cfgPath, defPath)
	if err == nil {
		t.Fatal("expected error for unknown discretization")
	}
	if !strings.Contains(err.Error(), "coastal_strip_100m") {
		t.Errorf("error = %v, want it to name the discretization", err)
	}
}

func TestModelRegisterCmd_NoReporting(t *testing.T) {
	cfgPath := writeTestConfig(t)
	dir := t.TempDir()
	defPath := filepath.Join(dir, "empty.yaml")
	if err := os.WriteFile(defPath, []byte("name: x\ndiscretization: y\n"), 0o644); err != nil {
		t.Fatalf("write definition: %v", err)
	}

	_, err := runCmd(t, "model", "register", "--config", cfgPath, defPath)
	if err == nil {
		t.Fatal("expected error for a model with no reporting attributes")
	}
	if !strings.Contains(err.Error(), "reporting") {
		t.Errorf("error = %v, want a reporting complaint", err)
	}
}

func TestMigrateCmd(t *testing.T) {
	cfgPath := writeTestConfig(t)

	out, err := runCmd(t, "migrate", "--config", cfgPath)
	if err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
	if !strings.Contains(out, "Schema migrated") {
		t.Errorf("unexpected output: %s", out)
	}
}
