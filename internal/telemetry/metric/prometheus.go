package metric

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pksa"

// Registry holds all application metrics on a private Prometheus registry.
type Registry struct {
	registry *prometheus.Registry

	// Request metrics
	RequestsTotal *prometheus.CounterVec

	// Relay metrics
	RelayState      *prometheus.GaugeVec
	RelayReconnects prometheus.Counter
	RelayFrames     *prometheus.CounterVec

	stateMu sync.Mutex
}

// NewRegistry creates a registry with the agent metrics and the Go runtime
// and process collectors registered.
func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "App requests handled, by command and outcome.",
		}, []string{"cmd", "outcome"}),

		RelayState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "state",
			Help:      "Current relay connection state (1 for the active state).",
		}, []string{"state"}),

		RelayReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "reconnects_total",
			Help:      "Relay connections lost and retried.",
		}),

		RelayFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "frames_total",
			Help:      "Relay frames by direction.",
		}, []string{"direction"}),
	}

	r.registry.MustRegister(
		r.RequestsTotal,
		r.RelayState,
		r.RelayReconnects,
		r.RelayFrames,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

var (
	globalOnce sync.Once
	global     *Registry
)

// Global returns the process-wide registry.
func Global() *Registry {
	globalOnce.Do(func() { global = NewRegistry() })
	return global
}

// Registerer exposes the underlying registry for components that register
// their own collectors.
func (r *Registry) Registerer() prometheus.Registerer {
	return r.registry
}

// Gatherer exposes the underlying registry for scraping.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// ObserveRequest counts one app request outcome.
func (r *Registry) ObserveRequest(cmd, outcome string) {
	r.RequestsTotal.WithLabelValues(cmd, outcome).Inc()
}

// ObserveState records the relay connection state. Only the current state
// reports 1.
func (r *Registry) ObserveState(state string) {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	r.RelayState.Reset()
	r.RelayState.WithLabelValues(state).Set(1)
}

// ObserveReconnect counts a reconnect attempt.
func (r *Registry) ObserveReconnect() {
	r.RelayReconnects.Inc()
}

// ObserveFrame counts a frame in direction "in" or "out".
func (r *Registry) ObserveFrame(direction string) {
	r.RelayFrames.WithLabelValues(direction).Inc()
}
