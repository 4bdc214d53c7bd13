// Command graineryplugind is the CLI surface over the plugin host trust
// boundary: install, list, enable/disable, grant, and host-call, each a
// thin subcommand over internal/pluginhost/service, grounded on this
// pack's cobra-rooted CLI entry point (haasonsaas-nexus's cmd/nexus).
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	var appData string

	rootCmd := &cobra.Command{
		Use:          "graineryplugind",
		Short:        "Grainery plugin host trust boundary",
		Long:         "graineryplugind validates, installs, and brokers calls for Grainery plugins, independent of any GUI shell.",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&appData, "app-data", "", "Override the application data root (default: $GRAINERY_APP_DATA_DIR or ~/.grainery)")

	rootCmd.AddCommand(buildPluginsCmd(&appData))
	return rootCmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}
