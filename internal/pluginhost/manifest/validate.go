package manifest

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/grainery/pluginhost/internal/pluginhost/engine"
)

// HostVersions carries the compile-time host facts a manifest is validated
// against: the application's own version and its pinned plugin API range.
type HostVersions struct {
	AppVersion          string
	PluginAPIVersion    string
	RequiredAPIRangePin string
}

func isIDGrammar(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}

func isLocalContributionID(s string) bool {
	return s != "" && !strings.Contains(s, ":") && isIDGrammar(s)
}

// Validate checks a manifest against every rule in priority order and
// returns a descriptive error identifying the first violation. A nil
// return means the manifest is admissible. Pure function; no I/O.
func Validate(m Manifest, host HostVersions) error {
	if m.SchemaVersion != SchemaVersion {
		return fmt.Errorf("unsupported manifest schemaVersion %d, expected %d", m.SchemaVersion, SchemaVersion)
	}

	if !isIDGrammar(m.ID) {
		return fmt.Errorf("invalid plugin id %q: only [A-Za-z0-9._-] are allowed", m.ID)
	}

	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("plugin name is required")
	}

	if _, err := engine.ParseVersion(m.Version); err != nil {
		return fmt.Errorf("plugin version must be valid semver: %w", err)
	}

	if strings.TrimSpace(m.Entry) == "" {
		return fmt.Errorf("plugin entry path is required")
	}
	if filepath.IsAbs(m.Entry) {
		return fmt.Errorf("plugin entry path must be a relative path within the archive")
	}
	for _, seg := range strings.FieldsFunc(m.Entry, func(r rune) bool { return r == '/' || r == '\\' }) {
		if seg == ".." {
			return fmt.Errorf("plugin entry path must be a relative path within the archive")
		}
	}

	okApp, err := engine.Satisfies(host.AppVersion, m.Engine.Grainery)
	if err != nil {
		return fmt.Errorf("invalid engine.grainery version requirement: %w", err)
	}
	if !okApp {
		return fmt.Errorf("plugin engine mismatch: requires grainery %s, host is %s", m.Engine.Grainery, host.AppVersion)
	}

	okAPI, err := engine.Satisfies(host.PluginAPIVersion, m.Engine.PluginAPI)
	if err != nil {
		return fmt.Errorf("invalid engine.pluginApi version requirement: %w", err)
	}
	if !okAPI {
		return fmt.Errorf("plugin API mismatch: requires %s, host API is %s", m.Engine.PluginAPI, host.PluginAPIVersion)
	}
	if m.Engine.PluginAPI != host.RequiredAPIRangePin {
		return fmt.Errorf("plugin engine.pluginApi must be exactly %s, found %s", host.RequiredAPIRangePin, m.Engine.PluginAPI)
	}

	for _, p := range m.Permissions {
		if !IsCorePermission(p) {
			return fmt.Errorf("unknown core permission: %s", p)
		}
	}
	for _, p := range m.OptionalPermissions {
		if !IsOptionalPermission(p) {
			return fmt.Errorf("unknown optional permission: %s", p)
		}
	}

	if len(m.ActivationEvents) == 0 {
		return fmt.Errorf("activationEvents must include at least one event")
	}
	for _, event := range m.ActivationEvents {
		if err := validateActivationEventGrammar(event); err != nil {
			return err
		}
	}

	for _, c := range m.Contributes.Commands {
		if !isLocalContributionID(c.ID) {
			return fmt.Errorf("invalid command contribution id %q", c.ID)
		}
	}
	for _, c := range m.Contributes.Exporters {
		if !isLocalContributionID(c.ID) {
			return fmt.Errorf("invalid exporter contribution id %q", c.ID)
		}
	}
	for _, c := range m.Contributes.Importers {
		if !isLocalContributionID(c.ID) {
			return fmt.Errorf("invalid importer contribution id %q", c.ID)
		}
	}
	for _, c := range m.Contributes.StatusBadges {
		if !isLocalContributionID(c.ID) {
			return fmt.Errorf("invalid status badge contribution id %q", c.ID)
		}
	}
	for _, c := range m.Contributes.InlineAnnotationProviders {
		if !isLocalContributionID(c.ID) {
			return fmt.Errorf("invalid inline annotation provider contribution id %q", c.ID)
		}
	}
	for _, c := range m.Contributes.UIControls {
		if !isLocalContributionID(c.ID) {
			return fmt.Errorf("invalid UI control contribution id %q", c.ID)
		}
	}
	for _, c := range m.Contributes.UIPanels {
		if !isLocalContributionID(c.ID) {
			return fmt.Errorf("invalid UI panel contribution id %q", c.ID)
		}
	}
	for _, t := range m.Contributes.Transforms {
		if !isLocalContributionID(t.ID) {
			return fmt.Errorf("invalid transform contribution id %q", t.ID)
		}
	}
	for _, t := range m.Contributes.Transforms {
		if !IsTransformHook(t.Hook) {
			return fmt.Errorf("invalid transform hook %q for transform %q", t.Hook, t.ID)
		}
	}

	return validateActivationBackReferences(m)
}

func validateActivationEventGrammar(event string) error {
	if event == "onStartup" {
		return nil
	}

	prefixes := []string{
		"onCommand:", "onExporter:", "onImporter:",
		"onUIControl:", "onUIPanel:", "onStatusBadge:", "onInlineAnnotations:",
	}
	for _, prefix := range prefixes {
		if localID, ok := strings.CutPrefix(event, prefix); ok {
			if !isLocalContributionID(localID) {
				return fmt.Errorf("invalid activation event %q: bad local contribution id", event)
			}
			return nil
		}
	}

	if hook, ok := strings.CutPrefix(event, "onTransform:"); ok {
		if !IsTransformHook(hook) {
			return fmt.Errorf("invalid activation event %q: unsupported transform hook", event)
		}
		return nil
	}

	return fmt.Errorf("invalid activation event %q", event)
}

func validateActivationBackReferences(m Manifest) error {
	has := func(ok bool, event string) error {
		if !ok {
			return fmt.Errorf("activation event %q references a missing contribution", event)
		}
		return nil
	}

	for _, event := range m.ActivationEvents {
		switch {
		case event == "onStartup":
			continue
		case strings.HasPrefix(event, "onCommand:"):
			id := strings.TrimPrefix(event, "onCommand:")
			if err := has(containsID(m.Contributes.Commands, id, func(c Command) string { return c.ID }), event); err != nil {
				return err
			}
		case strings.HasPrefix(event, "onExporter:"):
			id := strings.TrimPrefix(event, "onExporter:")
			if err := has(containsID(m.Contributes.Exporters, id, func(c Exporter) string { return c.ID }), event); err != nil {
				return err
			}
		case strings.HasPrefix(event, "onImporter:"):
			id := strings.TrimPrefix(event, "onImporter:")
			if err := has(containsID(m.Contributes.Importers, id, func(c Importer) string { return c.ID }), event); err != nil {
				return err
			}
		case strings.HasPrefix(event, "onUIControl:"):
			id := strings.TrimPrefix(event, "onUIControl:")
			if err := has(containsID(m.Contributes.UIControls, id, func(c UIControl) string { return c.ID }), event); err != nil {
				return err
			}
		case strings.HasPrefix(event, "onUIPanel:"):
			id := strings.TrimPrefix(event, "onUIPanel:")
			if err := has(containsID(m.Contributes.UIPanels, id, func(c UIPanel) string { return c.ID }), event); err != nil {
				return err
			}
		case strings.HasPrefix(event, "onStatusBadge:"):
			id := strings.TrimPrefix(event, "onStatusBadge:")
			if err := has(containsID(m.Contributes.StatusBadges, id, func(c StatusBadge) string { return c.ID }), event); err != nil {
				return err
			}
		case strings.HasPrefix(event, "onInlineAnnotations:"):
			id := strings.TrimPrefix(event, "onInlineAnnotations:")
			if err := has(containsID(m.Contributes.InlineAnnotationProviders, id, func(c InlineAnnotationProvider) string { return c.ID }), event); err != nil {
				return err
			}
		case strings.HasPrefix(event, "onTransform:"):
			hook := strings.TrimPrefix(event, "onTransform:")
			if err := has(containsID(m.Contributes.Transforms, hook, func(c Transform) string { return c.Hook }), event); err != nil {
				return err
			}
		}
	}
	return nil
}

func containsID[T any](items []T, id string, key func(T) string) bool {
	for _, item := range items {
		if key(item) == id {
			return true
		}
	}
	return false
}
