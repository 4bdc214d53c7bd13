package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/grainery/pluginhost/internal/pluginhost/service"
)

// buildPluginsCmd creates the "plugins" command group, one subcommand per
// host command of §6.6.
func buildPluginsCmd(appData *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "Manage installed Grainery plugins",
	}
	cmd.AddCommand(
		buildPluginsListCmd(appData),
		buildPluginsLockRecordsCmd(appData),
		buildPluginsInstallCmd(appData),
		buildPluginsUninstallCmd(appData),
		buildPluginsEnableCmd(appData),
		buildPluginsDisableCmd(appData),
		buildPluginsGrantCmd(appData),
		buildPluginsRegistryIndexCmd(appData),
		buildPluginsHostCallCmd(appData),
		buildPluginsServeMetricsCmd(appData),
	)
	return cmd
}

func openService(appData string) (*service.Service, error) {
	return service.New(appData)
}

func buildPluginsListCmd(appData *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List installed plugins",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openService(*appData)
			if err != nil {
				return err
			}
			return printJSON(cmd, svc.ListInstalled())
		},
	}
}

func buildPluginsLockRecordsCmd(appData *string) *cobra.Command {
	return &cobra.Command{
		Use:   "lock-records",
		Short: "Show the tamper-evidence ledger for installed plugins",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openService(*appData)
			if err != nil {
				return err
			}
			return printJSON(cmd, svc.ListLockRecords())
		},
	}
}

func buildPluginsInstallCmd(appData *string) *cobra.Command {
	var (
		file        string
		registryURL string
		pluginID    string
		version     string
	)
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install a plugin from a local archive or a registry",
		Long: `Install a plugin either by sideloading a local archive or by pulling one
from a plugin registry.

Examples:
  graineryplugind plugins install --file ./my-plugin.zip
  graineryplugind plugins install --registry https://registry.grainery.app/index.json --id acme.wordcount --version 1.2.0`,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openService(*appData)
			if err != nil {
				return err
			}
			switch {
			case file != "":
				installed, err := svc.InstallFromFile(file)
				if err != nil {
					return err
				}
				return printJSON(cmd, installed)
			case pluginID != "":
				installed, err := svc.InstallFromRegistry(cmd.Context(), registryURL, pluginID, version)
				if err != nil {
					return err
				}
				return printJSON(cmd, installed)
			default:
				return fmt.Errorf("either --file or --id must be given")
			}
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Path to a local plugin archive to sideload")
	cmd.Flags().StringVar(&registryURL, "registry", "", "Registry index URL (default: the configured default registry)")
	cmd.Flags().StringVar(&pluginID, "id", "", "Plugin id to install from the registry")
	cmd.Flags().StringVar(&version, "version", "", "Specific version to install (default: highest valid)")
	return cmd
}

func buildPluginsUninstallCmd(appData *string) *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall [plugin-id]",
		Short: "Uninstall a plugin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openService(*appData)
			if err != nil {
				return err
			}
			return svc.Uninstall(args[0])
		},
	}
}

func buildPluginsEnableCmd(appData *string) *cobra.Command {
	return &cobra.Command{
		Use:   "enable [plugin-id]",
		Short: "Enable an installed plugin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openService(*appData)
			if err != nil {
				return err
			}
			updated, err := svc.SetEnabled(args[0], "true")
			if err != nil {
				return err
			}
			return printJSON(cmd, updated)
		},
	}
}

func buildPluginsDisableCmd(appData *string) *cobra.Command {
	return &cobra.Command{
		Use:   "disable [plugin-id]",
		Short: "Disable an installed plugin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openService(*appData)
			if err != nil {
				return err
			}
			updated, err := svc.SetEnabled(args[0], "false")
			if err != nil {
				return err
			}
			return printJSON(cmd, updated)
		},
	}
}

func buildPluginsGrantCmd(appData *string) *cobra.Command {
	var permissionsJSON string
	cmd := &cobra.Command{
		Use:   "grant [plugin-id]",
		Short: "Update which optional permissions are granted to a plugin",
		Long: `Replace the set of granted optional permissions for an installed plugin.
Permissions must be a subset of the plugin's declared optional permissions.

Example:
  graineryplugind plugins grant acme.wordcount --permissions '["network:https","ui:mount"]'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var permissions []string
			if permissionsJSON != "" {
				if err := json.Unmarshal([]byte(permissionsJSON), &permissions); err != nil {
					return fmt.Errorf("--permissions must be a JSON array of strings: %w", err)
				}
			}
			svc, err := openService(*appData)
			if err != nil {
				return err
			}
			updated, err := svc.UpdatePermissions(args[0], permissions)
			if err != nil {
				return err
			}
			return printJSON(cmd, updated)
		},
	}
	cmd.Flags().StringVar(&permissionsJSON, "permissions", "[]", "JSON array of optional permission ids to grant")
	return cmd
}

func buildPluginsRegistryIndexCmd(appData *string) *cobra.Command {
	var registryURL string
	cmd := &cobra.Command{
		Use:   "registry-index",
		Short: "Fetch and print a registry index",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openService(*appData)
			if err != nil {
				return err
			}
			entries, err := svc.FetchRegistryIndex(cmd.Context(), registryURL)
			if err != nil {
				return err
			}
			return printJSON(cmd, entries)
		},
	}
	cmd.Flags().StringVar(&registryURL, "registry", "", "Registry index URL (default: the configured default registry)")
	return cmd
}

func buildPluginsHostCallCmd(appData *string) *cobra.Command {
	var payloadJSON string
	cmd := &cobra.Command{
		Use:   "host-call [plugin-id] [operation]",
		Short: "Invoke a plugin_host_call operation directly (debugging aid)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := map[string]any{}
			if payloadJSON != "" {
				if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
					return fmt.Errorf("--payload must be a JSON object: %w", err)
				}
			}
			svc, err := openService(*appData)
			if err != nil {
				return err
			}
			result, err := svc.HostCall(cmd.Context(), args[0], args[1], payload)
			if err != nil {
				return err
			}
			return printJSON(cmd, result)
		},
	}
	cmd.Flags().StringVar(&payloadJSON, "payload", "{}", "JSON object payload for the operation")
	return cmd
}
