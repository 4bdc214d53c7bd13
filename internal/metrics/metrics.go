// Package metrics exports Prometheus counters and histograms for plugin
// install outcomes and host-broker dispatch latency, grounded on this
// codebase's own promauto-registered metric set.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// InstallsTotal counts install attempts by source (sideload/registry)
	// and outcome (ok/rejected).
	InstallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plugin_installs_total",
			Help: "Plugin install attempts by source and outcome",
		},
		[]string{"source", "outcome"},
	)

	// UninstallsTotal counts uninstall calls by outcome.
	UninstallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plugin_uninstalls_total",
			Help: "Plugin uninstall calls by outcome",
		},
		[]string{"outcome"},
	)

	// HostCallsTotal counts plugin_host_call dispatches by operation and
	// outcome.
	HostCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plugin_host_calls_total",
			Help: "Host broker calls by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	// HostCallDuration observes plugin_host_call dispatch latency.
	HostCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "plugin_host_call_duration_seconds",
			Help:    "Host broker call latency by operation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// InstalledPluginsGauge tracks the current count of installed plugins.
	InstalledPluginsGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "plugin_installed_count",
			Help: "Number of plugins currently installed",
		},
	)
)

// Handler returns the HTTP handler serving the Prometheus exposition
// format, for hosts that choose to expose it alongside the CLI.
func Handler() http.Handler {
	return promhttp.Handler()
}
