// Package store persists the plugin host's durable state: installed
// plugins and their lock records, as a single pretty-printed JSON document,
// grounded on this codebase's own plugin-state store (RWMutex-guarded
// in-memory map, full-document load/save) generalized to the richer
// installed-plugin/lock-record model this host requires.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/grainery/pluginhost/internal/pluginhost/manifest"
)

// InstalledPlugin is the durable record of an admitted plugin.
type InstalledPlugin struct {
	ID                string                      `json:"id"`
	Name              string                      `json:"name"`
	Version           string                      `json:"version"`
	Description       string                      `json:"description"`
	Enabled           bool                        `json:"enabled"`
	Trust             string                      `json:"trust"`
	InstallSource     string                      `json:"installSource"`
	InstalledAt       string                      `json:"installedAt"`
	UpdatedAt         string                      `json:"updatedAt"`
	EntryPath         string                      `json:"entryPath"`
	EntrySource       *string                     `json:"entrySource,omitempty"`
	CrashCount        int                         `json:"crashCount"`
	NetworkAllowlist  []string                    `json:"networkAllowlist,omitempty"`
	Manifest          manifest.Manifest           `json:"manifest"`
	GrantedPermissions []manifest.PermissionGrant `json:"grantedPermissions,omitempty"`
}

// LockRecord is the tamper-evidence ledger entry for an installed plugin.
type LockRecord struct {
	PluginID           string                      `json:"pluginId"`
	Version            string                      `json:"version"`
	SHA256             string                      `json:"sha256"`
	SignatureVerified  bool                        `json:"signatureVerified"`
	Trust              string                      `json:"trust"`
	Enabled            bool                        `json:"enabled"`
	GrantedPermissions []manifest.PermissionGrant  `json:"grantedPermissions,omitempty"`
	UpdatedAt          string                      `json:"updatedAt"`
}

// document is the on-disk shape of the store file.
type document struct {
	InstalledPlugins []InstalledPlugin `json:"installedPlugins"`
	LockRecords      []LockRecord      `json:"lockRecords"`
}

// Store is the single JSON document under <appData>/plugins/plugins-state.json.
type Store struct {
	path string
	mu   sync.RWMutex
	doc  document
}

// New returns a Store bound to path. Call Load before use.
func New(path string) *Store {
	return &Store{path: path, doc: document{}}
}

// Load reads the store file. A missing file yields an empty store. A file
// that fails to parse is treated as empty rather than crashing the caller
// (§4.4, §9) — the prior corrupt bytes are left on disk untouched until the
// next successful Save overwrites them.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.doc = document{}
			return nil
		}
		return fmt.Errorf("failed to read plugin store file: %w", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		s.doc = document{}
		return nil
	}

	s.doc = doc
	return nil
}

// Save writes the store as pretty JSON via write-temp-then-rename, so a
// crash mid-write can never leave a truncated, unparseable store file on
// disk (§9 design-note decision).
func (s *Store) Save() error {
	s.mu.RLock()
	data, err := json.MarshalIndent(s.doc, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to serialize plugin store JSON: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create plugin store directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".plugins-state-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to stage plugin store file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write plugin store file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync plugin store file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close plugin store file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("failed to install plugin store file: %w", err)
	}
	return nil
}

// ListInstalled returns a copy of all installed plugin records, with
// entrySource hydrated from disk for each enabled plugin (§3.1: entrySource
// is transient and only populated when serving a list).
func (s *Store) ListInstalled() []InstalledPlugin {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]InstalledPlugin, len(s.doc.InstalledPlugins))
	copy(out, s.doc.InstalledPlugins)
	for i := range out {
		hydrateEntrySource(&out[i])
	}
	return out
}

func hydrateEntrySource(p *InstalledPlugin) {
	if !p.Enabled {
		p.EntrySource = nil
		return
	}
	data, err := os.ReadFile(p.EntryPath)
	if err != nil {
		p.EntrySource = nil
		return
	}
	src := string(data)
	p.EntrySource = &src
}

// ListLockRecords returns a copy of all lock records.
func (s *Store) ListLockRecords() []LockRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]LockRecord, len(s.doc.LockRecords))
	copy(out, s.doc.LockRecords)
	return out
}

// Get returns the installed plugin with the given id, if present, with
// entrySource hydrated.
func (s *Store) Get(id string) (InstalledPlugin, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.doc.InstalledPlugins {
		if p.ID == id {
			hydrateEntrySource(&p)
			return p, true
		}
	}
	return InstalledPlugin{}, false
}

// Replace removes any prior installed/lock record for plugin.ID and
// lock.PluginID, then appends the given ones. This is the core of the
// install routine's step 7 (§4.5) and guarantees the P4 one-per-id invariant.
// plugin.EntrySource is cleared before storing, so it never reaches disk.
func (s *Store) Replace(plugin InstalledPlugin, lock LockRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	plugin.EntrySource = nil

	filteredPlugins := s.doc.InstalledPlugins[:0:0]
	for _, p := range s.doc.InstalledPlugins {
		if p.ID != plugin.ID {
			filteredPlugins = append(filteredPlugins, p)
		}
	}
	s.doc.InstalledPlugins = append(filteredPlugins, plugin)

	filteredLocks := s.doc.LockRecords[:0:0]
	for _, l := range s.doc.LockRecords {
		if l.PluginID != lock.PluginID {
			filteredLocks = append(filteredLocks, l)
		}
	}
	s.doc.LockRecords = append(filteredLocks, lock)
}

// Remove deletes the installed/lock records for id, reporting whether
// anything was removed.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := len(s.doc.InstalledPlugins)
	filteredPlugins := s.doc.InstalledPlugins[:0:0]
	for _, p := range s.doc.InstalledPlugins {
		if p.ID != id {
			filteredPlugins = append(filteredPlugins, p)
		}
	}
	s.doc.InstalledPlugins = filteredPlugins

	filteredLocks := s.doc.LockRecords[:0:0]
	for _, l := range s.doc.LockRecords {
		if l.PluginID != id {
			filteredLocks = append(filteredLocks, l)
		}
	}
	s.doc.LockRecords = filteredLocks

	return before != len(s.doc.InstalledPlugins)
}

// Mutate looks up the installed plugin by id and calls fn with a pointer to
// a working copy; if fn returns nil the mutated copy (and the matching
// lock record's enabled/grantedPermissions/updatedAt, if present) replaces
// the stored one. Returns the mutated plugin.
func (s *Store) Mutate(id string, fn func(*InstalledPlugin) error) (InstalledPlugin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, p := range s.doc.InstalledPlugins {
		if p.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return InstalledPlugin{}, fmt.Errorf("plugin '%s' is not installed", id)
	}

	working := s.doc.InstalledPlugins[idx]
	if err := fn(&working); err != nil {
		return InstalledPlugin{}, err
	}
	s.doc.InstalledPlugins[idx] = working

	for i, l := range s.doc.LockRecords {
		if l.PluginID == id {
			s.doc.LockRecords[i].Enabled = working.Enabled
			s.doc.LockRecords[i].GrantedPermissions = working.GrantedPermissions
			s.doc.LockRecords[i].UpdatedAt = working.UpdatedAt
			break
		}
	}

	hydrateEntrySource(&working)
	return working, nil
}
