// Package broker implements the runtime host broker: plugin_host_call
// dispatch, permission and allowlist enforcement, and per-plugin-id
// serialization, grounded on the original host-call dispatch and this
// codebase's per-resource lock-map idiom.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/grainery/pluginhost/internal/metrics"
	"github.com/grainery/pluginhost/internal/pluginhost/audit"
	"github.com/grainery/pluginhost/internal/pluginhost/manifest"
	"github.com/grainery/pluginhost/internal/pluginhost/ratelimit"
	"github.com/grainery/pluginhost/internal/pluginhost/store"
)

// Operation names dispatched by HostCall. The document operations are
// reserved and always error, so plugins fail loudly if they try the wrong
// channel (§4.6).
const (
	opNetworkGetJSON  = "network:get_json"
	opNetworkGetText  = "network:get_text"
	opAuditLog        = "audit:log"
	opDocumentGet     = "document:get"
	opDocumentReplace = "document:replace"
)

// pluginLocks serializes concurrent broker calls against the same plugin
// id within one process, grounded on this codebase's per-resource mutex
// map (defense in depth beyond the documented caller-serializes contract).
type pluginLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newPluginLocks() *pluginLocks {
	return &pluginLocks{locks: make(map[string]*sync.Mutex)}
}

func (p *pluginLocks) lockFor(id string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.locks[id]
	if !ok {
		l = &sync.Mutex{}
		p.locks[id] = l
	}
	return l
}

// Broker dispatches plugin_host_call operations.
type Broker struct {
	st         *store.Store
	auditLog   *audit.Log
	httpClient *http.Client
	logger     *slog.Logger
	locks      *pluginLocks
	limiter    *ratelimit.HostLimiter
}

// New returns a Broker. limiter may be nil to disable outbound rate limiting.
func New(st *store.Store, auditLog *audit.Log, httpClient *http.Client, logger *slog.Logger, limiter *ratelimit.HostLimiter) *Broker {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{st: st, auditLog: auditLog, httpClient: httpClient, logger: logger, locks: newPluginLocks(), limiter: limiter}
}

// HostCall implements §4.6's four-step dispatch.
func (b *Broker) HostCall(ctx context.Context, pluginID, operation string, payload map[string]any) (any, error) {
	lock := b.locks.lockFor(pluginID)
	lock.Lock()
	defer lock.Unlock()

	callID := uuid.NewString()
	log := b.logger.With("callId", callID, "pluginId", pluginID, "operation", operation)
	start := time.Now()

	plugin, ok := b.st.Get(pluginID)
	if !ok {
		metrics.HostCallsTotal.WithLabelValues(operation, "rejected").Inc()
		return nil, fmt.Errorf("plugin '%s' is not installed", pluginID)
	}
	if !plugin.Enabled {
		metrics.HostCallsTotal.WithLabelValues(operation, "rejected").Inc()
		return nil, fmt.Errorf("plugin '%s' is disabled", pluginID)
	}

	// Audit-before-check: the line is written even if the operation is
	// ultimately denied, so a reader of the log must not assume an entry
	// implies success (§9).
	if err := b.auditLog.Append(pluginID, operation, payload); err != nil {
		log.Error("audit log append failed", "error", err)
		metrics.HostCallsTotal.WithLabelValues(operation, "rejected").Inc()
		return nil, fmt.Errorf("failed to append plugin audit log entry: %w", err)
	}

	result, err := b.dispatch(ctx, plugin, operation, payload)
	metrics.HostCallDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err != nil {
		log.Warn("host call rejected", "error", err)
		metrics.HostCallsTotal.WithLabelValues(operation, "rejected").Inc()
		return nil, err
	}
	log.Info("host call completed")
	metrics.HostCallsTotal.WithLabelValues(operation, "ok").Inc()
	return result, nil
}

func (b *Broker) dispatch(ctx context.Context, plugin store.InstalledPlugin, operation string, payload map[string]any) (any, error) {
	switch operation {
	case opNetworkGetJSON, opNetworkGetText:
		return b.networkCall(ctx, plugin, operation, payload)

	case opAuditLog:
		return map[string]any{"ok": true}, nil

	case opDocumentGet, opDocumentReplace:
		return nil, fmt.Errorf("document operations must be brokered by the frontend host, not plugin_host_call")

	default:
		return nil, fmt.Errorf("Unsupported host operation '%s'", operation)
	}
}

func (b *Broker) networkCall(ctx context.Context, plugin store.InstalledPlugin, operation string, payload map[string]any) (any, error) {
	if !manifest.HasPermission(plugin.Manifest, plugin.GrantedPermissions, manifest.PermNetworkHTTPS) {
		return nil, fmt.Errorf("Permission denied: %s", manifest.PermNetworkHTTPS)
	}

	rawURL, ok := payload["url"].(string)
	if !ok {
		return nil, fmt.Errorf("payload must include string field 'url'")
	}

	if err := EnforceAllowlist(plugin.NetworkAllowlist, rawURL); err != nil {
		return nil, err
	}

	if b.limiter != nil {
		if parsed, err := url.Parse(rawURL); err == nil && !b.limiter.Allow(parsed.Hostname()) {
			return nil, fmt.Errorf("rate limit exceeded for host '%s'", parsed.Hostname())
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid URL '%s': %w", rawURL, err)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("network request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("http request failed with status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if operation == opNetworkGetText {
		return map[string]any{"text": string(body)}, nil
	}

	var value any
	if err := json.Unmarshal(body, &value); err != nil {
		return nil, fmt.Errorf("failed to parse JSON response: %w", err)
	}
	return value, nil
}

// EnforceAllowlist implements §4.7: scheme must be https, host must be
// present, the plugin's allowlist must be non-empty and contain the host
// case-insensitively (exact match, no suffix globbing).
func EnforceAllowlist(allowlist []string, rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL '%s': %w", rawURL, err)
	}
	if parsed.Scheme != "https" {
		return fmt.Errorf("Only https:// URLs are allowed")
	}
	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("URL is missing a host")
	}
	if len(allowlist) == 0 {
		return fmt.Errorf("plugin has an empty network allowlist")
	}
	for _, allowed := range allowlist {
		if strings.EqualFold(allowed, host) {
			return nil
		}
	}
	return fmt.Errorf("host '%s' is not in plugin allowlist (%s)", host, strings.Join(allowlist, ", "))
}
