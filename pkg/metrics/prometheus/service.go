// Package prometheus implements the metric interfaces on the process-wide
// Prometheus registry.
package prometheus

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/bundled/pkg/metrics"
	"github.com/marmos91/bundled/pkg/servicemanager"
)

func init() {
	metrics.RegisterServiceMetricsConstructor(NewServiceMetrics)
}

// serviceMetrics is the Prometheus implementation of servicemanager.Metrics.
type serviceMetrics struct {
	installed     prometheus.Counter
	installFailed prometheus.Counter
	removed       *prometheus.CounterVec
	storedRecords prometheus.Gauge
}

var (
	serviceOnce     sync.Once
	serviceInstance *serviceMetrics
)

// NewServiceMetrics creates the Prometheus-backed servicemanager.Metrics.
// The collectors are registered once; later calls return the same instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewServiceMetrics() servicemanager.Metrics {
	if !metrics.IsEnabled() {
		return nil
	}

	serviceOnce.Do(func() {
		reg := metrics.GetRegistry()

		serviceInstance = &serviceMetrics{
			installed: promauto.With(reg).NewCounter(
				prometheus.CounterOpts{
					Name: "bundled_services_installed_total",
					Help: "Total number of successfully installed service bundles",
				},
			),
			installFailed: promauto.With(reg).NewCounter(
				prometheus.CounterOpts{
					Name: "bundled_services_install_failures_total",
					Help: "Total number of failed service bundle installs",
				},
			),
			removed: promauto.With(reg).NewCounterVec(
				prometheus.CounterOpts{
					Name: "bundled_services_removed_total",
					Help: "Total number of removed service bundles by trigger",
				},
				[]string{"trigger"}, // "ttl", "pressure", "truncation", "explicit", "recovery"
			),
			storedRecords: promauto.With(reg).NewGauge(
				prometheus.GaugeOpts{
					Name: "bundled_service_records",
					Help: "Current number of stored service records",
				},
			),
		}
	})

	return serviceInstance
}

func (m *serviceMetrics) ServiceInstalled() {
	m.installed.Inc()
}

func (m *serviceMetrics) ServiceInstallFailed() {
	m.installFailed.Inc()
}

func (m *serviceMetrics) ServiceRemoved(trigger string) {
	m.removed.WithLabelValues(trigger).Inc()
}

func (m *serviceMetrics) SetStoredRecords(count int) {
	m.storedRecords.Set(float64(count))
}
