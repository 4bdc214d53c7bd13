// Package service wires the manifest validator, install pipeline, store,
// host broker, and registry client into the nine host commands of §6.6,
// grounded on this codebase's handler-layer pattern of thin functions over
// a shared manager (internal/plugin/gateway in the original tree).
package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/grainery/pluginhost/internal/config"
	"github.com/grainery/pluginhost/internal/metrics"
	"github.com/grainery/pluginhost/internal/pluginhost/audit"
	"github.com/grainery/pluginhost/internal/pluginhost/broker"
	"github.com/grainery/pluginhost/internal/pluginhost/crypto"
	"github.com/grainery/pluginhost/internal/pluginhost/install"
	"github.com/grainery/pluginhost/internal/pluginhost/manifest"
	"github.com/grainery/pluginhost/internal/pluginhost/paths"
	"github.com/grainery/pluginhost/internal/pluginhost/ratelimit"
	"github.com/grainery/pluginhost/internal/pluginhost/registryclient"
	"github.com/grainery/pluginhost/internal/pluginhost/store"
	"golang.org/x/time/rate"
)

// Service implements the nine host commands of §6.6 as plain Go methods,
// so the CLI (and, in principle, any other embedding host) calls into one
// place.
type Service struct {
	Layout  paths.Layout
	Store   *store.Store
	Install *install.Pipeline
	Broker  *broker.Broker
	Reg     *registryclient.Client
	cfg     *config.Config
}

// New constructs a Service bound to appData (or the default layout, if
// appData is empty) with its store already loaded.
func New(appData string) (*Service, error) {
	cfg := config.Load()
	if appData == "" {
		appData = cfg.AppDataDir
	}

	layout, err := paths.Resolve(appData)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve plugin host data directory: %w", err)
	}

	st := store.New(layout.StoreFile)
	if err := st.Load(); err != nil {
		return nil, err
	}

	auditLog := audit.New(layout.AuditLog)

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	keyMaterial, err := cfg.TrustedKeys()
	if err != nil {
		return nil, err
	}
	keys, err := crypto.NewKeyTable(keyMaterial)
	if err != nil {
		return nil, fmt.Errorf("failed to load trusted key table: %w", err)
	}

	host := manifest.HostVersions{
		AppVersion:          cfg.HostAppVersion,
		PluginAPIVersion:    cfg.HostPluginAPIVersion,
		RequiredAPIRangePin: cfg.RequiredEngineAPIRange,
	}

	reg := registryclient.New(registryclient.WithHTTPClient(httpClient))
	limiter := ratelimit.NewHostLimiter(rate.Limit(cfg.NetworkRateLimitPerSec), cfg.NetworkRateBurst)
	logger := slog.Default()

	return &Service{
		Layout:  layout,
		Store:   st,
		Install: install.New(layout, st, host, keys, reg, logger),
		Broker:  broker.New(st, auditLog, httpClient, logger, limiter),
		Reg:     reg,
		cfg:     cfg,
	}, nil
}

// ListInstalled implements list-installed.
func (s *Service) ListInstalled() []store.InstalledPlugin {
	out := s.Store.ListInstalled()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListLockRecords implements get-lock-records.
func (s *Service) ListLockRecords() []store.LockRecord {
	out := s.Store.ListLockRecords()
	sort.Slice(out, func(i, j int) bool { return out[i].PluginID < out[j].PluginID })
	return out
}

// InstallFromFile implements install-from-file.
func (s *Service) InstallFromFile(path string) (store.InstalledPlugin, error) {
	return s.Install.FromFile(path)
}

// InstallFromRegistry implements install-from-registry.
func (s *Service) InstallFromRegistry(ctx context.Context, registryURL, pluginID, version string) (store.InstalledPlugin, error) {
	if registryURL == "" {
		registryURL = s.cfg.RegistryURL
	}
	return s.Install.FromRegistry(ctx, registryURL, pluginID, version)
}

// FetchRegistryIndex implements fetch-registry-index.
func (s *Service) FetchRegistryIndex(ctx context.Context, registryURL string) ([]registryclient.Entry, error) {
	if registryURL == "" {
		registryURL = s.cfg.RegistryURL
	}
	return s.Install.FetchRegistryIndex(ctx, registryURL)
}

// Uninstall implements uninstall: removes the store records and the
// extracted plugin tree.
func (s *Service) Uninstall(pluginID string) error {
	if _, ok := s.Store.Get(pluginID); !ok {
		metrics.UninstallsTotal.WithLabelValues("rejected").Inc()
		return fmt.Errorf("plugin '%s' is not installed", pluginID)
	}
	if !s.Store.Remove(pluginID) {
		metrics.UninstallsTotal.WithLabelValues("rejected").Inc()
		return fmt.Errorf("plugin '%s' is not installed", pluginID)
	}
	if err := s.Store.Save(); err != nil {
		metrics.UninstallsTotal.WithLabelValues("rejected").Inc()
		return err
	}
	_ = s.Layout.RemovePluginTree(pluginID)
	metrics.UninstallsTotal.WithLabelValues("ok").Inc()
	metrics.InstalledPluginsGauge.Set(float64(len(s.Store.ListInstalled())))
	return nil
}

// SetEnabled implements enable-disable.
func (s *Service) SetEnabled(pluginID string, enabled string) (store.InstalledPlugin, error) {
	want := enabled == "true" || enabled == "1" || enabled == "yes"
	return s.mutateAndSave(pluginID, func(p *store.InstalledPlugin) error {
		p.Enabled = want
		p.UpdatedAt = nowRFC3339()
		return nil
	})
}

// UpdatePermissions implements update-permissions: permissions must be a
// subset of the plugin's declared optional permissions (§6.6).
func (s *Service) UpdatePermissions(pluginID string, permissions []string) (store.InstalledPlugin, error) {
	return s.mutateAndSave(pluginID, func(p *store.InstalledPlugin) error {
		declared := make(map[string]bool, len(p.Manifest.OptionalPermissions))
		for _, perm := range p.Manifest.OptionalPermissions {
			declared[perm] = true
		}
		for _, perm := range permissions {
			if !declared[perm] {
				return fmt.Errorf("permission '%s' is not declared as optional by plugin '%s'", perm, pluginID)
			}
		}
		wanted := make(map[string]bool, len(permissions))
		for _, perm := range permissions {
			wanted[perm] = true
		}
		grants := manifest.NormalizeGrants(p.Manifest, p.GrantedPermissions)
		now := nowRFC3339()
		for i := range grants {
			granted := wanted[grants[i].Permission]
			if granted != grants[i].Granted {
				grants[i].Granted = granted
				grants[i].GrantedAt = &now
			}
		}
		p.GrantedPermissions = grants
		p.UpdatedAt = now
		return nil
	})
}

// HostCall implements host-call.
func (s *Service) HostCall(ctx context.Context, pluginID, operation string, payload map[string]any) (any, error) {
	return s.Broker.HostCall(ctx, pluginID, operation, payload)
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func (s *Service) mutateAndSave(pluginID string, fn func(*store.InstalledPlugin) error) (store.InstalledPlugin, error) {
	updated, err := s.Store.Mutate(pluginID, fn)
	if err != nil {
		return store.InstalledPlugin{}, err
	}
	if err := s.Store.Save(); err != nil {
		return store.InstalledPlugin{}, err
	}
	return updated, nil
}
