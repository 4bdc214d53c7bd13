// Package archive parses and safely extracts plugin zip archives,
// grounded on the zip-slip-safe extraction idiom used elsewhere in this
// codebase's package installer.
package archive

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/grainery/pluginhost/internal/pluginhost/manifest"
)

// ManifestFileName is the required manifest entry at archive root.
const ManifestFileName = "grainery-plugin.manifest.json"

// ReadManifest opens data as a zip and decodes the manifest entry.
// Unknown top-level and contribution fields are tolerated (json.Unmarshal
// ignores them by default).
func ReadManifest(data []byte) (manifest.Manifest, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return manifest.Manifest{}, fmt.Errorf("failed to parse plugin archive: %w", err)
	}

	f, err := zr.Open(ManifestFileName)
	if err != nil {
		return manifest.Manifest{}, fmt.Errorf("plugin archive missing %s", ManifestFileName)
	}
	defer f.Close()

	raw, err := io.ReadAll(f)
	if err != nil {
		return manifest.Manifest{}, fmt.Errorf("failed to read plugin manifest: %w", err)
	}

	var m manifest.Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return manifest.Manifest{}, fmt.Errorf("failed to parse plugin manifest JSON: %w", err)
	}
	return m, nil
}

// Extract writes every entry in the zip archive data into destDir. Entries
// whose resolved path would escape destDir (absolute paths, zip-slip,
// symlink tricks) are rejected rather than silently skipped, since a
// rejected entry must abort the whole extraction (§4.2 failure semantics).
// The caller is responsible for removing destDir on error.
func Extract(data []byte, destDir string) error {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("failed to parse plugin archive: %w", err)
	}

	cleanDest := filepath.Clean(destDir)

	for _, f := range zr.File {
		if filepath.IsAbs(f.Name) || strings.HasPrefix(f.Name, "/") {
			return fmt.Errorf("archive entry contains invalid path: %s", f.Name)
		}
		target := filepath.Join(cleanDest, filepath.FromSlash(f.Name))
		if target != cleanDest && !strings.HasPrefix(target, cleanDest+string(filepath.Separator)) {
			return fmt.Errorf("archive entry contains invalid path: %s", f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("failed to create plugin directory: %w", err)
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("failed to create plugin parent directory: %w", err)
		}

		if err := extractFile(f, target); err != nil {
			return err
		}
	}

	return nil
}

func extractFile(f *zip.File, target string) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("failed to read archive entry %s: %w", f.Name, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create plugin file %s: %w", target, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, rc); err != nil {
		return fmt.Errorf("failed to write plugin file %s: %w", target, err)
	}

	return out.Sync()
}
