// Package install composes the manifest validator, archive handler,
// signature verifier and store into the sideload and registry admission
// paths (§4.5), grounded on this codebase's staged-install idiom.
package install

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/grainery/pluginhost/internal/metrics"
	"github.com/grainery/pluginhost/internal/pluginhost/archive"
	"github.com/grainery/pluginhost/internal/pluginhost/crypto"
	"github.com/grainery/pluginhost/internal/pluginhost/manifest"
	"github.com/grainery/pluginhost/internal/pluginhost/paths"
	"github.com/grainery/pluginhost/internal/pluginhost/registryclient"
	"github.com/grainery/pluginhost/internal/pluginhost/store"
)

// Pipeline admits plugins from sideload or registry sources.
type Pipeline struct {
	layout  paths.Layout
	st      *store.Store
	host    manifest.HostVersions
	keys    *crypto.KeyTable
	reg     *registryclient.Client
	logger  *slog.Logger
	nowFunc func() time.Time
}

// New builds a Pipeline. keys may be nil if the registry path is never used.
func New(layout paths.Layout, st *store.Store, host manifest.HostVersions, keys *crypto.KeyTable, reg *registryclient.Client, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{layout: layout, st: st, host: host, keys: keys, reg: reg, logger: logger, nowFunc: time.Now}
}

// FromFile installs an archive read from a local path (sideload path, §4.5).
func (p *Pipeline) FromFile(path string) (store.InstalledPlugin, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return store.InstalledPlugin{}, fmt.Errorf("failed to read plugin archive '%s': %w", path, err)
	}
	return p.core(data, "sideload", "unverified", false)
}

// FetchRegistryIndex retrieves and parses a registry index.
func (p *Pipeline) FetchRegistryIndex(ctx context.Context, registryURL string) ([]registryclient.Entry, error) {
	return p.reg.FetchIndex(ctx, registryURL)
}

// FromRegistry installs a plugin selected from a registry index (§4.5 registry path).
func (p *Pipeline) FromRegistry(ctx context.Context, registryURL, pluginID, version string) (store.InstalledPlugin, error) {
	entries, err := p.reg.FetchIndex(ctx, registryURL)
	if err != nil {
		metrics.InstallsTotal.WithLabelValues("registry", "rejected").Inc()
		return store.InstalledPlugin{}, err
	}

	selected, err := registryclient.Select(entries, pluginID, version)
	if err != nil {
		metrics.InstallsTotal.WithLabelValues("registry", "rejected").Inc()
		return store.InstalledPlugin{}, err
	}

	if selected.Manifest.ID != selected.ID {
		metrics.InstallsTotal.WithLabelValues("registry", "rejected").Inc()
		return store.InstalledPlugin{}, fmt.Errorf("registry manifest id does not match registry entry id")
	}
	if selected.Manifest.Version != selected.Version {
		metrics.InstallsTotal.WithLabelValues("registry", "rejected").Inc()
		return store.InstalledPlugin{}, fmt.Errorf("registry manifest version does not match registry entry version")
	}

	if err := manifest.Validate(selected.Manifest, p.host); err != nil {
		metrics.InstallsTotal.WithLabelValues("registry", "rejected").Inc()
		return store.InstalledPlugin{}, err
	}

	if p.keys == nil {
		metrics.InstallsTotal.WithLabelValues("registry", "rejected").Inc()
		return store.InstalledPlugin{}, fmt.Errorf("no trusted signature keys configured")
	}
	if err := p.keys.VerifySHA256(selected.SignatureKeyID, selected.SHA256, selected.Signature); err != nil {
		metrics.InstallsTotal.WithLabelValues("registry", "rejected").Inc()
		return store.InstalledPlugin{}, err
	}

	data, err := p.reg.Download(ctx, selected.DownloadURL)
	if err != nil {
		metrics.InstallsTotal.WithLabelValues("registry", "rejected").Inc()
		return store.InstalledPlugin{}, err
	}

	computed := crypto.SHA256Hex(data)
	if !crypto.EqualDigest(computed, selected.SHA256) {
		metrics.InstallsTotal.WithLabelValues("registry", "rejected").Inc()
		return store.InstalledPlugin{}, fmt.Errorf("sha256 mismatch for downloaded plugin archive: expected %s, got %s", selected.SHA256, computed)
	}

	return p.core(data, "registry", "verified", true)
}

// core implements the 8-step install routine shared by both entry points (§4.5).
func (p *Pipeline) core(data []byte, installSource, trust string, signatureVerified bool) (store.InstalledPlugin, error) {
	m, err := archive.ReadManifest(data)
	if err != nil {
		metrics.InstallsTotal.WithLabelValues(installSource, "rejected").Inc()
		return store.InstalledPlugin{}, err
	}
	if err := manifest.Validate(m, p.host); err != nil {
		metrics.InstallsTotal.WithLabelValues(installSource, "rejected").Inc()
		return store.InstalledPlugin{}, err
	}

	versionDir := p.layout.PluginVersionDir(m.ID, m.Version)
	pluginDir := p.layout.PluginDir(m.ID)

	if err := os.RemoveAll(pluginDir); err != nil {
		metrics.InstallsTotal.WithLabelValues(installSource, "rejected").Inc()
		return store.InstalledPlugin{}, fmt.Errorf("failed to remove prior plugin installation: %w", err)
	}
	if err := os.MkdirAll(versionDir, 0o755); err != nil {
		metrics.InstallsTotal.WithLabelValues(installSource, "rejected").Inc()
		return store.InstalledPlugin{}, fmt.Errorf("failed to create plugin version directory: %w", err)
	}

	if err := archive.Extract(data, versionDir); err != nil {
		_ = os.RemoveAll(pluginDir)
		metrics.InstallsTotal.WithLabelValues(installSource, "rejected").Inc()
		return store.InstalledPlugin{}, err
	}

	entryPath := filepath.Join(versionDir, m.Entry)
	if _, err := os.Stat(entryPath); err != nil {
		_ = os.RemoveAll(pluginDir)
		metrics.InstallsTotal.WithLabelValues(installSource, "rejected").Inc()
		return store.InstalledPlugin{}, fmt.Errorf("plugin entry file does not exist after extraction: %s", m.Entry)
	}

	entrySourceBytes, err := os.ReadFile(entryPath)
	if err != nil {
		_ = os.RemoveAll(pluginDir)
		metrics.InstallsTotal.WithLabelValues(installSource, "rejected").Inc()
		return store.InstalledPlugin{}, fmt.Errorf("failed to read extracted plugin entry file: %w", err)
	}
	entrySource := string(entrySourceBytes)

	now := p.nowFunc().UTC().Format(time.RFC3339)
	grants := manifest.NormalizeGrants(m, nil)

	installed := store.InstalledPlugin{
		ID:                 m.ID,
		Name:               m.Name,
		Version:            m.Version,
		Description:        m.Description,
		Enabled:            true,
		Trust:              trust,
		InstallSource:      installSource,
		InstalledAt:        now,
		UpdatedAt:          now,
		EntryPath:          entryPath,
		CrashCount:         0,
		NetworkAllowlist:   m.NetworkAllowlist,
		Manifest:           m,
		GrantedPermissions: grants,
	}

	lock := store.LockRecord{
		PluginID:           m.ID,
		Version:            m.Version,
		SHA256:             crypto.SHA256Hex(data),
		SignatureVerified:  signatureVerified,
		Trust:              trust,
		Enabled:            true,
		GrantedPermissions: grants,
		UpdatedAt:          now,
	}

	p.st.Replace(installed, lock)
	if err := p.st.Save(); err != nil {
		metrics.InstallsTotal.WithLabelValues(installSource, "rejected").Inc()
		return store.InstalledPlugin{}, err
	}

	p.logger.Info("plugin installed", "pluginId", m.ID, "version", m.Version, "source", installSource, "trust", trust)
	metrics.InstallsTotal.WithLabelValues(installSource, "ok").Inc()
	metrics.InstalledPluginsGauge.Set(float64(len(p.st.ListInstalled())))

	installed.EntrySource = &entrySource
	return installed, nil
}
