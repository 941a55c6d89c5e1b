// Package metrics exposes dashboard-side prometheus metrics. Names follow the
// detection backend's own metric set so both can share a dashboard.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every collector the controller updates.
type Metrics struct {
	// Updates received and applied to the dashboard state.
	UpdatesTotal prometheus.Counter

	// Inbound events dropped at the boundary, by event name.
	RejectedTotal *prometheus.CounterVec

	// Requests added to the tally, by classification result.
	RequestsClassified *prometheus.CounterVec

	CurrentRate  prometheus.Gauge
	AnomalyScore prometheus.Gauge
	Tick         prometheus.Gauge

	// Outbound commands by name and result (sent, failed).
	CommandsTotal *prometheus.CounterVec

	BackendErrors     prometheus.Counter
	MitigationEnabled prometheus.Gauge
}

// New registers the collectors on reg. A nil reg gets a private registry so
// callers that don't export metrics can still record them.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	m := &Metrics{
		UpdatesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "trafficwatch_updates_total",
			Help: "Update events applied to the dashboard.",
		}),
		RejectedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trafficwatch_events_rejected_total",
			Help: "Inbound events dropped because their payload failed validation.",
		}, []string{"event"}),
		RequestsClassified: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trafficwatch_requests_classified_total",
			Help: "Requests counted in the classification tally.",
		}, []string{"result"}),
		CurrentRate: f.NewGauge(prometheus.GaugeOpts{
			Name: "trafficwatch_current_request_rate",
			Help: "Request rate reported by the latest update.",
		}),
		AnomalyScore: f.NewGauge(prometheus.GaugeOpts{
			Name: "trafficwatch_anomaly_score",
			Help: "Anomaly score reported by the latest update.",
		}),
		Tick: f.NewGauge(prometheus.GaugeOpts{
			Name: "trafficwatch_tick",
			Help: "Current synthetic dashboard tick.",
		}),
		CommandsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trafficwatch_commands_total",
			Help: "Operator commands emitted to the backend.",
		}, []string{"command", "result"}),
		BackendErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "trafficwatch_backend_errors_total",
			Help: "Error events reported by the backend.",
		}),
		MitigationEnabled: f.NewGauge(prometheus.GaugeOpts{
			Name: "trafficwatch_mitigation_enabled",
			Help: "Local mitigation toggle (1=enabled, 0=disabled).",
		}),
	}
	m.MitigationEnabled.Set(1)
	return m
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// CommandResult is the result label for an emitted command.
func CommandResult(err error) string {
	if err != nil {
		return "failed"
	}
	return "sent"
}
