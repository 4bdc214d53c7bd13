package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/grainery/pluginhost/internal/metrics"
)

// buildPluginsServeMetricsCmd exposes the Prometheus counters and
// histograms recorded by the install pipeline and host broker over HTTP,
// grounded on this codebase's http.Server + signal.Notify graceful
// shutdown pattern (cmd/server/main.go).
func buildPluginsServeMetricsCmd(appData *string) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve-metrics",
		Short: "Serve Prometheus metrics for plugin installs and host calls",
		RunE: func(cmd *cobra.Command, args []string) error {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())

			server := &http.Server{
				Addr:              addr,
				Handler:           mux,
				ReadHeaderTimeout: 5 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				slog.Info("serving metrics", "addr", addr)
				errCh <- server.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
			case <-ctx.Done():
				slog.Info("shutting down metrics server")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					slog.Error("metrics server forced to shutdown", "error", err)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":9090", "Address to serve the /metrics endpoint on")
	return cmd
}
