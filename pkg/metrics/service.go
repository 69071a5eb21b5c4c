package metrics

import (
	"github.com/marmos91/bundled/pkg/servicemanager"
)

// NewServiceMetrics creates a Prometheus-backed servicemanager.Metrics.
//
// Returns nil if metrics are not enabled (InitRegistry not called); the
// service manager treats a nil Metrics as disabled reporting.
func NewServiceMetrics() servicemanager.Metrics {
	if !IsEnabled() || newPrometheusServiceMetrics == nil {
		return nil
	}

	return newPrometheusServiceMetrics()
}

// newPrometheusServiceMetrics is set by pkg/metrics/prometheus during package
// initialization. The indirection avoids an import cycle between the registry
// and the implementation.
var newPrometheusServiceMetrics func() servicemanager.Metrics

// RegisterServiceMetricsConstructor registers the Prometheus service metrics
// constructor. Called by pkg/metrics/prometheus at init time.
func RegisterServiceMetricsConstructor(constructor func() servicemanager.Metrics) {
	newPrometheusServiceMetrics = constructor
}
