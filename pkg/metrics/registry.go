// Package metrics holds the process-wide Prometheus registry. Metrics are
// opt-in: until InitRegistry is called every constructor returns nil and
// instrumented code runs with zero overhead.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registryMu sync.Mutex
	registry   *prometheus.Registry
)

// InitRegistry creates the process registry with the standard Go and process
// collectors. Calling it again is a no-op.
func InitRegistry() {
	registryMu.Lock()
	defer registryMu.Unlock()

	if registry != nil {
		return
	}

	registry = prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	registryMu.Lock()
	defer registryMu.Unlock()

	return registry != nil
}

// GetRegistry returns the process registry, or nil when metrics are disabled.
func GetRegistry() *prometheus.Registry {
	registryMu.Lock()
	defer registryMu.Unlock()

	return registry
}

// Handler returns an HTTP handler serving the registry, or nil when metrics
// are disabled.
func Handler() http.Handler {
	reg := GetRegistry()
	if reg == nil {
		return nil
	}

	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
