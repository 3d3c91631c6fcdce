// Package observability declares the process metrics and serves them to the
// optional local debug listener.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PollsTotal counts provider polls by outcome ("ok" or "error").
	PollsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tailwatch_polls_total",
		Help: "Provider polls by outcome.",
	}, []string{"outcome"})

	// AlertsTotal counts emitted alerts by kind.
	AlertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tailwatch_alerts_total",
		Help: "Alerts emitted by kind.",
	}, []string{"kind"})

	// EventsTotal counts bus events by kind (notifier lifecycle included).
	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tailwatch_bus_events_total",
		Help: "Internal bus events by kind.",
	}, []string{"kind"})

	providerDegraded = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tailwatch_provider_degraded",
		Help: "1 while the tracker has lost reliable provider contact.",
	})
)

// SetDegraded reflects the tracker's degraded flag into the gauge.
func SetDegraded(on bool) {
	if on {
		providerDegraded.Set(1)
		return
	}
	providerDegraded.Set(0)
}

// CountBusEvent records one bus event observation.
func CountBusEvent(kind string) {
	if kind == "" {
		kind = "unknown"
	}
	EventsTotal.WithLabelValues(kind).Inc()
}

// MetricsHandler exposes the default Prometheus registry.
func MetricsHandler() http.Handler { return promhttp.Handler() }
