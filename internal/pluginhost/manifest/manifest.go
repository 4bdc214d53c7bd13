// Package manifest defines the plugin manifest wire model and validation rules.
package manifest

// SchemaVersion is the only schemaVersion this host accepts.
const SchemaVersion = 1

// Core permissions, granted implicitly at install time.
const (
	PermDocumentRead     = "document:read"
	PermDocumentWrite    = "document:write"
	PermEditorCommands   = "editor:commands"
	PermExportRegister   = "export:register"
)

// Optional permissions, granted only by explicit user action.
const (
	PermFSPickRead        = "fs:pick-read"
	PermFSPickWrite       = "fs:pick-write"
	PermNetworkHTTPS      = "network:https"
	PermUIMount           = "ui:mount"
	PermEditorAnnotations = "editor:annotations"
)

// Transform hooks supported by the host.
const (
	HookPostOpen  = "post-open"
	HookPreSave   = "pre-save"
	HookPreExport = "pre-export"
)

var corePermissions = map[string]bool{
	PermDocumentRead:   true,
	PermDocumentWrite:  true,
	PermEditorCommands: true,
	PermExportRegister: true,
}

var optionalPermissions = map[string]bool{
	PermFSPickRead:        true,
	PermFSPickWrite:       true,
	PermNetworkHTTPS:      true,
	PermUIMount:           true,
	PermEditorAnnotations: true,
}

var transformHooks = map[string]bool{
	HookPostOpen:  true,
	HookPreSave:   true,
	HookPreExport: true,
}

// IsCorePermission reports whether permission is a known core permission.
func IsCorePermission(permission string) bool { return corePermissions[permission] }

// IsOptionalPermission reports whether permission is a known optional permission.
func IsOptionalPermission(permission string) bool { return optionalPermissions[permission] }

// IsTransformHook reports whether hook is a supported transform hook.
func IsTransformHook(hook string) bool { return transformHooks[hook] }

// Engine pins the semver ranges a manifest requires of the host.
type Engine struct {
	Grainery  string `json:"grainery"`
	PluginAPI string `json:"pluginApi"`
}

// Signature is a package-level signature block carried in the manifest; it
// is only consulted through the registry install path.
type Signature struct {
	KeyID  string `json:"keyId"`
	SHA256 string `json:"sha256"`
	Sig    string `json:"sig"`
}

// Command is a contributed editor command.
type Command struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Shortcut *string `json:"shortcut,omitempty"`
}

// Exporter is a contributed document exporter.
type Exporter struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Ext      string  `json:"extension"`
	MimeType *string `json:"mimeType,omitempty"`
}

// Importer is a contributed document importer.
type Importer struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Extensions []string `json:"extensions"`
}

// StatusBadge is a contributed status-bar badge.
type StatusBadge struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	Priority *int64 `json:"priority,omitempty"`
}

// InlineAnnotationProvider is a contributed inline-annotation source.
type InlineAnnotationProvider struct {
	ID       string  `json:"id"`
	Title    *string `json:"title,omitempty"`
	Priority *int64  `json:"priority,omitempty"`
}

// UIControl is a contributed toolbar/menu control.
type UIControl struct {
	ID         string  `json:"id"`
	Mount      string  `json:"mount"`
	Kind       string  `json:"kind"`
	Label      string  `json:"label"`
	Icon       string  `json:"icon"`
	Priority   *int64  `json:"priority,omitempty"`
	Tooltip    *string `json:"tooltip,omitempty"`
	Group      *string `json:"group,omitempty"`
	HotkeyHint *string `json:"hotkeyHint,omitempty"`
	Action     any     `json:"action,omitempty"`
	When       *string `json:"when,omitempty"`
}

// UIPanel is a contributed dockable panel.
type UIPanel struct {
	ID           string  `json:"id"`
	Title        string  `json:"title"`
	Icon         *string `json:"icon,omitempty"`
	DefaultWidth *int64  `json:"defaultWidth,omitempty"`
	MinWidth     *int64  `json:"minWidth,omitempty"`
	MaxWidth     *int64  `json:"maxWidth,omitempty"`
	Priority     *int64  `json:"priority,omitempty"`
	Content      any     `json:"content,omitempty"`
	When         *string `json:"when,omitempty"`
}

// Transform is a contributed document transform bound to a lifecycle hook.
type Transform struct {
	ID       string `json:"id"`
	Hook     string `json:"hook"`
	Priority *int64 `json:"priority,omitempty"`
}

// Contributions is the bag of extension points a manifest registers. It is
// a bag-of-lists rather than a tagged union because the kinds are not
// interchangeable.
type Contributions struct {
	Commands                  []Command                  `json:"commands,omitempty"`
	Exporters                 []Exporter                  `json:"exporters,omitempty"`
	Importers                 []Importer                  `json:"importers,omitempty"`
	StatusBadges              []StatusBadge               `json:"statusBadges,omitempty"`
	InlineAnnotationProviders []InlineAnnotationProvider   `json:"inlineAnnotationProviders,omitempty"`
	UIControls                []UIControl                 `json:"uiControls,omitempty"`
	UIPanels                  []UIPanel                    `json:"uiPanels,omitempty"`
	Transforms                []Transform                  `json:"transforms,omitempty"`
}

// Manifest is the typed, decoded form of grainery-plugin.manifest.json.
type Manifest struct {
	SchemaVersion       int           `json:"schemaVersion"`
	ID                  string        `json:"id"`
	Name                string        `json:"name"`
	Version             string        `json:"version"`
	Description         string        `json:"description"`
	Engine              Engine        `json:"engine"`
	Entry               string        `json:"entry"`
	Permissions         []string      `json:"permissions"`
	OptionalPermissions []string      `json:"optionalPermissions,omitempty"`
	NetworkAllowlist    []string      `json:"networkAllowlist,omitempty"`
	ActivationEvents    []string      `json:"activationEvents"`
	Contributes         Contributions `json:"contributes"`
	EnabledAPIProposals []string      `json:"enabledApiProposals,omitempty"`
	Signature           *Signature    `json:"signature,omitempty"`
}

// PermissionGrant records whether a single optional permission has been
// granted by the user, and when.
type PermissionGrant struct {
	Permission string  `json:"permission"`
	Granted    bool    `json:"granted"`
	GrantedAt  *string `json:"grantedAt,omitempty"`
}

// NormalizeGrants returns exactly one PermissionGrant per manifest-declared
// optional permission: existing grants for still-declared permissions are
// preserved, unknown/stale grants are dropped, and missing permissions are
// added as granted=false. This is the implementation of the P3 invariant.
func NormalizeGrants(m Manifest, existing []PermissionGrant) []PermissionGrant {
	byPermission := make(map[string]PermissionGrant, len(existing))
	for _, g := range existing {
		byPermission[g.Permission] = g
	}

	out := make([]PermissionGrant, 0, len(m.OptionalPermissions))
	for _, perm := range m.OptionalPermissions {
		if g, ok := byPermission[perm]; ok {
			out = append(out, PermissionGrant{Permission: perm, Granted: g.Granted, GrantedAt: g.GrantedAt})
			continue
		}
		out = append(out, PermissionGrant{Permission: perm, Granted: false})
	}
	return out
}

// HasPermission reports whether plugin holds permission, either declared
// as core or explicitly granted as optional.
func HasPermission(m Manifest, grants []PermissionGrant, permission string) bool {
	for _, p := range m.Permissions {
		if p == permission {
			return true
		}
	}
	for _, g := range grants {
		if g.Permission == permission && g.Granted {
			return true
		}
	}
	return false
}
