package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics aggregates the engine's Prometheus collectors.
type Metrics struct {
	CyclesTotal      *prometheus.CounterVec
	CycleDuration    *prometheus.HistogramVec
	FetchErrorsTotal *prometheus.CounterVec
	AlertsTotal      *prometheus.CounterVec
	ConnectedClients prometheus.Gauge
	ActiveSessions   prometheus.Gauge
}

// New registers all collectors on the given registerer. Pass
// prometheus.DefaultRegisterer in production and a private registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		CyclesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rankwatch_monitor_cycles_total",
			Help: "Monitoring cycles executed per project, by outcome.",
		}, []string{"project_id", "outcome"}),
		CycleDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rankwatch_monitor_cycle_duration_seconds",
			Help:    "Wall-clock duration of a full monitoring cycle.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"project_id"}),
		FetchErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rankwatch_fetch_errors_total",
			Help: "Keyword fetch failures by error kind.",
		}, []string{"kind"}),
		AlertsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rankwatch_alerts_total",
			Help: "Alerts raised, by type and severity.",
		}, []string{"type", "severity"}),
		ConnectedClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rankwatch_ws_connected_clients",
			Help: "Currently connected push subscribers.",
		}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rankwatch_monitor_active_sessions",
			Help: "Projects with a running monitoring session.",
		}),
	}
}
