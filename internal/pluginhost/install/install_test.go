package install

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/grainery/pluginhost/internal/pluginhost/crypto"
	"github.com/grainery/pluginhost/internal/pluginhost/manifest"
	"github.com/grainery/pluginhost/internal/pluginhost/paths"
	"github.com/grainery/pluginhost/internal/pluginhost/registryclient"
	"github.com/grainery/pluginhost/internal/pluginhost/store"
)

func unmarshalManifest(raw string, m *manifest.Manifest) error {
	return json.Unmarshal([]byte(raw), m)
}

func writeJSONIndex(w http.ResponseWriter, entries []registryclient.Entry) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(entries)
}

func testHost() manifest.HostVersions {
	return manifest.HostVersions{
		AppVersion:          "1.3.0",
		PluginAPIVersion:    "1.2.4",
		RequiredAPIRangePin: "^1.2.0",
	}
}

func buildPluginZip(t *testing.T, manifestJSON, entryContent string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	mw, err := zw.Create("grainery-plugin.manifest.json")
	if err != nil {
		t.Fatalf("create manifest entry: %v", err)
	}
	if _, err := mw.Write([]byte(manifestJSON)); err != nil {
		t.Fatalf("write manifest entry: %v", err)
	}

	ew, err := zw.Create("index.js")
	if err != nil {
		t.Fatalf("create entry file: %v", err)
	}
	if _, err := ew.Write([]byte(entryContent)); err != nil {
		t.Fatalf("write entry file: %v", err)
	}

	if err := zw.Close(); err != nil {
		t.Fatalf("close zip writer: %v", err)
	}
	return buf.Bytes()
}

const validManifestJSON = `{
	"schemaVersion": 1,
	"id": "acme.wordcount",
	"name": "Word Count",
	"version": "1.0.0",
	"entry": "index.js",
	"engine": {"grainery": "^1.0.0", "pluginApi": "^1.2.0"},
	"permissions": ["document:read"],
	"activationEvents": ["onStartup"]
}`

func newTestPipeline(t *testing.T) (*Pipeline, paths.Layout, *store.Store) {
	t.Helper()
	layout, err := paths.Resolve(t.TempDir())
	if err != nil {
		t.Fatalf("paths.Resolve: %v", err)
	}
	st := store.New(layout.StoreFile)
	if err := st.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return New(layout, st, testHost(), nil, registryclient.New(), nil), layout, st
}

func TestFromFileInstallsAndHydratesEntrySource(t *testing.T) {
	p, _, st := newTestPipeline(t)
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "plugin.zip")
	if err := os.WriteFile(archivePath, buildPluginZip(t, validManifestJSON, "console.log('hi')"), 0o644); err != nil {
		t.Fatalf("write archive: %v", err)
	}

	installed, err := p.FromFile(archivePath)
	if err != nil {
		t.Fatalf("FromFile: %v", err)
	}
	if installed.ID != "acme.wordcount" || installed.Trust != "unverified" || installed.InstallSource != "sideload" {
		t.Fatalf("unexpected installed record: %+v", installed)
	}
	if installed.EntrySource == nil || *installed.EntrySource != "console.log('hi')" {
		t.Fatal("expected entrySource to be populated with the extracted entry file's content")
	}

	if _, ok := st.Get("acme.wordcount"); !ok {
		t.Fatal("expected the plugin to be recorded in the store")
	}
}

func TestFromFileRejectsInvalidManifest(t *testing.T) {
	p, _, _ := newTestPipeline(t)
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "plugin.zip")
	badManifest := `{"schemaVersion": 1, "id": "bad id", "name": "X", "version": "1.0.0", "entry": "index.js", "engine": {"grainery":"^1.0.0","pluginApi":"^1.2.0"}, "activationEvents":["onStartup"]}`
	if err := os.WriteFile(archivePath, buildPluginZip(t, badManifest, "x"), 0o644); err != nil {
		t.Fatalf("write archive: %v", err)
	}
	if _, err := p.FromFile(archivePath); err == nil {
		t.Fatal("expected an invalid plugin id to be rejected before install")
	}
}

func TestFromFileReinstallReplacesPriorVersion(t *testing.T) {
	p, _, st := newTestPipeline(t)
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "plugin.zip")
	if err := os.WriteFile(archivePath, buildPluginZip(t, validManifestJSON, "v1"), 0o644); err != nil {
		t.Fatalf("write archive: %v", err)
	}
	if _, err := p.FromFile(archivePath); err != nil {
		t.Fatalf("first install: %v", err)
	}

	v2Manifest := `{
		"schemaVersion": 1,
		"id": "acme.wordcount",
		"name": "Word Count",
		"version": "2.0.0",
		"entry": "index.js",
		"engine": {"grainery": "^1.0.0", "pluginApi": "^1.2.0"},
		"activationEvents": ["onStartup"]
	}`
	if err := os.WriteFile(archivePath, buildPluginZip(t, v2Manifest, "v2"), 0o644); err != nil {
		t.Fatalf("write second archive: %v", err)
	}
	installed, err := p.FromFile(archivePath)
	if err != nil {
		t.Fatalf("second install: %v", err)
	}
	if installed.Version != "2.0.0" {
		t.Fatalf("expected version 2.0.0, got %s", installed.Version)
	}

	all := st.ListInstalled()
	if len(all) != 1 {
		t.Fatalf("expected exactly one installed record per plugin id, got %d", len(all))
	}
}

func TestFromRegistryVerifiesSignatureAndInstalls(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	keys, err := crypto.NewKeyTable(map[string]string{"registry-key": base64.StdEncoding.EncodeToString(pub)})
	if err != nil {
		t.Fatalf("NewKeyTable: %v", err)
	}

	archive := buildPluginZip(t, validManifestJSON, "console.log('registry')")
	digest := crypto.SHA256Hex(archive)
	sig := ed25519.Sign(priv, []byte(digest))

	var downloadURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/archive.zip", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(archive)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	downloadURL = srv.URL + "/archive.zip"

	var m manifest.Manifest
	if err := unmarshalManifest(validManifestJSON, &m); err != nil {
		t.Fatalf("parse manifest fixture: %v", err)
	}

	index := []registryclient.Entry{{
		ID:             "acme.wordcount",
		Version:        "1.0.0",
		Manifest:       m,
		DownloadURL:    downloadURL,
		SHA256:         digest,
		SignatureKeyID: "registry-key",
		Signature:      base64.StdEncoding.EncodeToString(sig),
	}}
	mux.HandleFunc("/index.json", func(w http.ResponseWriter, r *http.Request) {
		writeJSONIndex(w, index)
	})

	layout, err := paths.Resolve(t.TempDir())
	if err != nil {
		t.Fatalf("paths.Resolve: %v", err)
	}
	st := store.New(layout.StoreFile)
	if err := st.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	pipeline := New(layout, st, testHost(), keys, registryclient.New(), nil)

	installed, err := pipeline.FromRegistry(context.Background(), srv.URL+"/index.json", "acme.wordcount", "1.0.0")
	if err != nil {
		t.Fatalf("FromRegistry: %v", err)
	}
	if installed.Trust != "verified" || installed.InstallSource != "registry" {
		t.Fatalf("unexpected installed record: %+v", installed)
	}
}

func TestFromRegistryRejectsBadSignature(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	_, otherPriv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate second key: %v", err)
	}
	keys, err := crypto.NewKeyTable(map[string]string{"registry-key": base64.StdEncoding.EncodeToString(pub)})
	if err != nil {
		t.Fatalf("NewKeyTable: %v", err)
	}

	archive := buildPluginZip(t, validManifestJSON, "console.log('registry')")
	digest := crypto.SHA256Hex(archive)
	wrongSig := ed25519.Sign(otherPriv, []byte(digest))

	var m manifest.Manifest
	if err := unmarshalManifest(validManifestJSON, &m); err != nil {
		t.Fatalf("parse manifest fixture: %v", err)
	}

	mux := http.NewServeMux()
	index := []registryclient.Entry{{
		ID:             "acme.wordcount",
		Version:        "1.0.0",
		Manifest:       m,
		DownloadURL:    "unused",
		SHA256:         digest,
		SignatureKeyID: "registry-key",
		Signature:      base64.StdEncoding.EncodeToString(wrongSig),
	}}
	mux.HandleFunc("/index.json", func(w http.ResponseWriter, r *http.Request) {
		writeJSONIndex(w, index)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	layout, err := paths.Resolve(t.TempDir())
	if err != nil {
		t.Fatalf("paths.Resolve: %v", err)
	}
	st := store.New(layout.StoreFile)
	if err := st.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	pipeline := New(layout, st, testHost(), keys, registryclient.New(), nil)

	if _, err := pipeline.FromRegistry(context.Background(), srv.URL+"/index.json", "acme.wordcount", "1.0.0"); err == nil {
		t.Fatal("expected a signature from the wrong key to be rejected")
	}
}
