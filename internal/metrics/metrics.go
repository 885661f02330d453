// Package metrics is the process's Prometheus metric store: the fixed
// counters/gauges the worker engine needs plus a registration point for
// caller-defined custom metrics, rendered in the Prometheus text
// exposition format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Health gauge values, matching health.Status ordering (0/1/2).
const (
	HealthRed    = 0
	HealthYellow = 1
	HealthGreen  = 2
)

// Collector owns a private Prometheus registry so multiple engine
// instances (e.g. in tests) never collide on the global default registry.
type Collector struct {
	registry *prometheus.Registry

	JobsProcessedTotal prometheus.Counter
	JobsErrorsTotal    *prometheus.CounterVec
	ActiveJobs         prometheus.Gauge
	HealthStatus       prometheus.Gauge
}

// New builds a Collector with the baseline job-engine metrics registered.
func New() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		registry: reg,
		JobsProcessedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobs_processed_total",
			Help: "Total number of jobs that reached a terminal Completed state.",
		}),
		JobsErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobs_errors_total",
			Help: "Total number of jobs that reached a terminal Failed state, by error code.",
		}, []string{"error_code"}),
		ActiveJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "active_jobs",
			Help: "Number of jobs currently dispatched to a handler.",
		}),
		HealthStatus: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "health_status",
			Help: "Aggregate health status: 0=red, 1=yellow, 2=green.",
		}),
	}
	reg.MustRegister(c.JobsProcessedTotal, c.JobsErrorsTotal, c.ActiveJobs, c.HealthStatus)
	return c
}

// Register adds a caller-defined collector (custom counters/gauges) to
// the same registry so it appears in Handler's output alongside the
// built-ins. Panics on a name collision, matching prometheus.Registry's
// own MustRegister contract.
func (c *Collector) Register(collector prometheus.Collector) {
	c.registry.MustRegister(collector)
}

// Handler returns an http.Handler serving the Prometheus text exposition
// format for GET /metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
