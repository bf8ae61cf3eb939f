package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testGeoJSON = `{
  "type": "FeatureCollection",
  "features": [
    {
      "type": "Feature",
      "properties": {},
      "geometry": {
        "type": "Polygon",
        "coordinates": [[[4.0, 52.0], [4.1, 52.0], [4.1, 52.1], [4.0, 52.1], [4.0, 52.0]]]
      }
    },
    {
      "type": "Feature",
      "properties": {},
      "geometry": {
        "type": "Polygon",
        "coordinates": [[[4.1, 52.0], [4.2, 52.0], [4.2, 52.1], [4.1, 52.1], [4.1, 52.0]]]
      }
    }
  ]
}`

func writeTestGeoJSON(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chunks.geojson")
	if err := os.WriteFile(path, []byte(testGeoJSON), 0o644); err != nil {
		t.Fatalf("write geojson: %v", err)
	}
	return path
}

func TestDiscretizeCmd(t *testing.T) {
	cfgPath := writeTestConfig(t)
	geojson := writeTestGeoJSON(t)

	out, err := runCmd(t, "discretize", "--config", cfgPath, "--name", "coastal strip", geojson)
	if err != nil {
		t.Fatalf("discretize failed: %v", err)
	}
	if !strings.Contains(out, `"coastal_strip_100m"`) {
		t.Errorf("expected normalized name in output, got: %s", out)
	}
	if !strings.Contains(out, "Chunks:    2") {
		t.Errorf("expected 2 chunks, got: %s", out)
	}

	// The name is taken; a second upload must refuse.
	_, err = runCmd(t, "discretize", "--config", cfgPath, "--name", "coastal strip", geojson)
	if err == nil {
		t.Fatal("expected duplicate-name error")
	}
}

func TestDiscretizeCmd_MissingName(t *testing.T) {
	cfgPath := writeTestConfig(t)
	geojson := writeTestGeoJSON(t)

	_, err := runCmd(t, "discretize", "--config", cfgPath, geojson)
	if err == nil {
		t.Fatal("expected error without --name")
	}
}

func TestDiscretizeCmd_BadFile(t *testing.T) {
	cfgPath := writeTestConfig(t)

	_, err := runCmd(t, "discretize", "--config", cfgPath, "--name", "x", "/nonexistent.geojson")
	if err == nil {
		t.Fatal("expected error for missing geojson file")
	}
}
