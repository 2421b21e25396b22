// Package observability exposes Prometheus metrics for the reconciler's
// tick duration, the registry's lock-wait times, and each managed app's
// current status, served on the same HTTP mux as the liveness endpoint.
//
// Grounded on the teacher's /healthz pattern (cmd/agent/main.go): a plain
// http.ServeMux handler registered alongside the process's other HTTP
// surface, here using client_golang's promhttp.Handler instead of a
// hand-rolled liveness body.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/artisan-hosting/ais_manager/internal/state"
)

// Metrics bundles every gauge/histogram this supervisor reports.
type Metrics struct {
	ReconcileDuration prometheus.Histogram
	LockWait          *prometheus.HistogramVec
	AppStatus         *prometheus.GaugeVec
	registry          *prometheus.Registry
}

// New registers every collector against a fresh, private registry — never
// the global default, so multiple instances (as in tests) never collide.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		ReconcileDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Namespace: "ais_manager",
			Subsystem: "reconciler",
			Name:      "tick_duration_seconds",
			Help:      "Duration of one full seven-phase reconciliation pass.",
			Buckets:   prometheus.DefBuckets,
		}),
		LockWait: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ais_manager",
			Subsystem: "registry",
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting to acquire a registry lock, by resource.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"resource"}),
		AppStatus: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ais_manager",
			Subsystem: "app",
			Name:      "status",
			Help:      "Current status code of each managed app, keyed by app name.",
		}, []string{"app_name"}),
		registry: reg,
	}
	return m
}

// ObserveReconcile records one reconciler pass's wall-clock duration.
func (m *Metrics) ObserveReconcile(seconds float64) {
	m.ReconcileDuration.Observe(seconds)
}

// ObserveLockWait records how long a caller waited on resource's lock.
func (m *Metrics) ObserveLockWait(resource string, seconds float64) {
	m.LockWait.WithLabelValues(resource).Observe(seconds)
}

// SetAppStatus records appName's current status as its numeric Status
// value, so dashboards can alert on unexpected transitions.
func (m *Metrics) SetAppStatus(appName string, status state.Status) {
	m.AppStatus.WithLabelValues(appName).Set(float64(status))
}

// Handler returns the HTTP handler to mount at the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
