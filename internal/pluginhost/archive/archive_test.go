package archive

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip.Create(%q): %v", name, err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("write zip entry %q: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip writer: %v", err)
	}
	return buf.Bytes()
}

func TestReadManifest(t *testing.T) {
	data := buildZip(t, map[string]string{
		ManifestFileName: `{"schemaVersion":1,"id":"acme.x","name":"X","version":"1.0.0","entry":"index.js"}`,
		"index.js":       "console.log('hi')",
	})

	m, err := ReadManifest(data)
	if err != nil {
		t.Fatalf("ReadManifest: %v", err)
	}
	if m.ID != "acme.x" || m.Version != "1.0.0" {
		t.Fatalf("unexpected manifest: %+v", m)
	}
}

func TestReadManifestMissing(t *testing.T) {
	data := buildZip(t, map[string]string{"index.js": "console.log('hi')"})
	if _, err := ReadManifest(data); err == nil {
		t.Fatal("expected an error when the manifest entry is absent")
	}
}

func TestExtractWritesFiles(t *testing.T) {
	dest := t.TempDir()
	data := buildZip(t, map[string]string{
		ManifestFileName: `{}`,
		"index.js":       "console.log('hi')",
		"lib/helper.js":  "module.exports = {}",
	})

	if err := Extract(data, dest); err != nil {
		t.Fatalf("Extract: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dest, "lib", "helper.js"))
	if err != nil {
		t.Fatalf("expected nested file to be extracted: %v", err)
	}
	if string(got) != "module.exports = {}" {
		t.Fatalf("unexpected extracted content: %q", got)
	}
}

func TestExtractRejectsZipSlip(t *testing.T) {
	dest := t.TempDir()
	data := buildZip(t, map[string]string{
		"../../etc/passwd": "pwned",
	})

	if err := Extract(data, dest); err == nil {
		t.Fatal("expected a zip-slip entry to be rejected")
	}

	if _, err := os.Stat(filepath.Join(filepath.Dir(filepath.Dir(dest)), "etc", "passwd")); err == nil {
		t.Fatal("zip-slip entry must not have escaped the destination directory")
	}
}
