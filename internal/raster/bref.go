package raster

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// BandRef is a thin single-band pointer into a stacked file: "band N of
// stack S is attribute A at timestamp T". Serving layers read these
// instead of duplicating raster data per timestep. Band counts from 1,
// matching the GDAL convention for band numbers.
type BandRef struct {
	StackFile string   `json:"stackFile"`
	Band      int      `json:"band"`
	Attribute string   `json:"attribute"`
	Timestamp string   `json:"timestamp"`
	Datatype  Datatype `json:"datatype"`
	NoData    float64  `json:"nodata"`
	SRID      int      `json:"srid"`
}

// WriteBandRef writes the reference as a small JSON sidecar.
func WriteBandRef(path string, ref BandRef) error {
	raw, err := json.MarshalIndent(ref, "", "  ")
	if err != nil {
		return fmt.Errorf("raster: encode band ref %s: %w", path, err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("raster: write band ref %s: %w", path, err)
	}
	return nil
}

// ReadBandRef parses a band reference sidecar.
func ReadBandRef(path string) (BandRef, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return BandRef{}, fmt.Errorf("raster: read band ref %s: %w", path, err)
	}
	var ref BandRef
	if err := json.Unmarshal(raw, &ref); err != nil {
		return BandRef{}, fmt.Errorf("raster: parse band ref %s: %w", path, err)
	}
	return ref, nil
}

// Resolve loads the referenced band from the stack file next to dir.
// The 1-based band number is mapped onto the stack's 0-based index.
func (ref BandRef) Resolve(dir string) (*Raster, error) {
	stack, err := OpenStack(filepath.Join(dir, ref.StackFile))
	if err != nil {
		return nil, err
	}
	return stack.Band(ref.Band - 1)
}
