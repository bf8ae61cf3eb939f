package reporting

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mholt/archiver/v3"
)

// ManifestFilename is the index file inside every archive.
const ManifestFilename = "manifest.json"

// ManifestEntry describes one band reference: which attribute at which
// timestamp, produced under which configuration for which chunk.
type ManifestEntry struct {
	Filename  string `json:"filename"`
	Attribute string `json:"attribute"`
	Timestamp string `json:"timestamp"`
	Datatype  string `json:"datatype"`
	ConfigKey string `json:"configKey"`
	ChunkID   string `json:"chunkId"`
	SourceCRS string `json:"sourceCRS"`
}

// Manifest is the archive index the server ingests from: one entry per
// band reference.
type Manifest struct {
	Entries []ManifestEntry `json:"entries"`
}

// WriteManifest writes the manifest JSON.
func WriteManifest(path string, m Manifest) error {
	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("reporting: encode manifest: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("reporting: write manifest %s: %w", path, err)
	}
	return nil
}

// ReadManifest parses a manifest JSON file.
func ReadManifest(path string) (Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("reporting: read manifest %s: %w", path, err)
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return Manifest{}, fmt.Errorf("reporting: parse manifest %s: %w", path, err)
	}
	return m, nil
}

// ExtractArchive unpacks an uploaded archive into dir and returns its
// manifest. Existing files are overwritten so a duplicate upload of the
// same work item extracts cleanly. The manifest must be present; an
// archive without one is not ingestable.
func ExtractArchive(archivePath, dir string) (Manifest, error) {
	tar := &archiver.Tar{MkdirAll: true, OverwriteExisting: true}
	if err := tar.Unarchive(archivePath, dir); err != nil {
		return Manifest{}, fmt.Errorf("reporting: unpack %s: %w", archivePath, err)
	}
	return ReadManifest(filepath.Join(dir, ManifestFilename))
}
