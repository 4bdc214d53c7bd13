// Package registryclient fetches and parses plugin registry indexes and
// downloads plugin archives, grounded on this codebase's HTTP registry
// client idiom (functional options, bounded download). Index fetches are
// not cached: every FetchIndex call issues a fresh request.
package registryclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/grainery/pluginhost/internal/pluginhost/engine"
	"github.com/grainery/pluginhost/internal/pluginhost/manifest"
)

// maxDownloadBytes bounds the size of a fetched registry index or plugin
// archive so a misbehaving or malicious registry cannot exhaust memory.
const maxDownloadBytes = 200 * 1024 * 1024

// Entry is one registry index entry.
type Entry struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	Version         string            `json:"version"`
	Description     string            `json:"description"`
	Manifest        manifest.Manifest `json:"manifest"`
	DownloadURL     string            `json:"downloadUrl"`
	SHA256          string            `json:"sha256"`
	SignatureKeyID  string            `json:"signatureKeyId"`
	Signature       string            `json:"signature"`
}

type envelope struct {
	Plugins []Entry `json:"plugins"`
}

// Client fetches registry indexes and plugin archives over HTTPS.
type Client struct {
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for registry requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New returns a Client with sane defaults.
func New(opts ...Option) *Client {
	c := &Client{httpClient: http.DefaultClient}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchIndex retrieves and parses a registry index, accepting either a bare
// JSON array of entries or an envelope {"plugins": [...]}.
func (c *Client) FetchIndex(ctx context.Context, registryURL string) ([]Entry, error) {
	body, err := c.getBounded(ctx, registryURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch registry index: %w", err)
	}

	var asArray []Entry
	if err := json.Unmarshal(body, &asArray); err == nil {
		return asArray, nil
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err == nil && env.Plugins != nil {
		return env.Plugins, nil
	}

	return nil, fmt.Errorf("registry JSON must be an array or contain a 'plugins' array")
}

// Select filters entries by id and chooses one: an exact version match if
// version is non-empty, otherwise the entry with the highest valid semver
// (falling back to lexicographic max per engine.HighestValid).
func Select(entries []Entry, pluginID, version string) (Entry, error) {
	var matches []Entry
	for _, e := range entries {
		if e.ID == pluginID {
			matches = append(matches, e)
		}
	}
	if len(matches) == 0 {
		return Entry{}, fmt.Errorf("plugin '%s' not found in registry index", pluginID)
	}

	if version != "" {
		for _, e := range matches {
			if e.Version == version {
				return e, nil
			}
		}
		return Entry{}, fmt.Errorf("plugin '%s' version '%s' not found in registry index", pluginID, version)
	}

	versions := make([]string, len(matches))
	byVersion := make(map[string]Entry, len(matches))
	for i, e := range matches {
		versions[i] = e.Version
		byVersion[e.Version] = e
	}
	best, ok := engine.HighestValid(versions)
	if !ok {
		return Entry{}, fmt.Errorf("no installable version found for plugin '%s'", pluginID)
	}
	return byVersion[best], nil
}

// Download fetches a plugin archive's bytes.
func (c *Client) Download(ctx context.Context, downloadURL string) ([]byte, error) {
	body, err := c.getBounded(ctx, downloadURL)
	if err != nil {
		return nil, fmt.Errorf("failed to download plugin archive: %w", err)
	}
	return body, nil
}

func (c *Client) getBounded(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("request failed with HTTP status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxDownloadBytes {
		return nil, fmt.Errorf("response exceeds maximum allowed size of %d bytes", maxDownloadBytes)
	}
	return body, nil
}
