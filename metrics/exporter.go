// exporter.go serves registry contents in Prometheus text exposition
// format. Dotted metric names are flattened to underscores and prefixed
// with the configured namespace.
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// ExporterConfig configures the Prometheus exporter.
type ExporterConfig struct {
	// Namespace is prepended to every metric name (default "drivescore").
	Namespace string
	// Path is the HTTP path to serve metrics on (default "/metrics").
	Path string
}

// DefaultExporterConfig returns the default exporter configuration.
func DefaultExporterConfig() ExporterConfig {
	return ExporterConfig{
		Namespace: "drivescore",
		Path:      "/metrics",
	}
}

// Exporter formats a Registry in Prometheus text format and serves it over
// HTTP.
type Exporter struct {
	config   ExporterConfig
	registry *Registry
}

// NewExporter creates an Exporter over registry. A nil registry uses
// DefaultRegistry; zero config fields are corrected to defaults.
func NewExporter(registry *Registry, config ExporterConfig) *Exporter {
	if registry == nil {
		registry = DefaultRegistry
	}
	if config.Namespace == "" {
		config.Namespace = "drivescore"
	}
	if config.Path == "" {
		config.Path = "/metrics"
	}
	return &Exporter{config: config, registry: registry}
}

// Render returns the full exposition body. Metric lines are emitted in
// sorted name order so scrapes are deterministic.
func (e *Exporter) Render() string {
	snap := e.registry.Snapshot()
	names := make([]string, 0, len(snap))
	for name := range snap {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		flat := e.config.Namespace + "_" + strings.ReplaceAll(name, ".", "_")
		switch v := snap[name].(type) {
		case int64:
			fmt.Fprintf(&b, "%s %d\n", flat, v)
		case map[string]interface{}:
			// Histogram summary fields.
			fmt.Fprintf(&b, "%s_count %d\n", flat, v["count"])
			fmt.Fprintf(&b, "%s_sum %g\n", flat, v["sum"])
			fmt.Fprintf(&b, "%s_mean %g\n", flat, v["mean"])
		}
	}
	return b.String()
}

// ServeHTTP implements http.Handler for the configured metrics path.
func (e *Exporter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != e.config.Path {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	fmt.Fprint(w, e.Render())
}
