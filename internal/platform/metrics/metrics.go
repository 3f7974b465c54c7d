package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Selection outcomes.
const (
	OutcomeSelected = "selected"
	OutcomeFailed   = "failed"
)

// Metrics holds Prometheus counters and gauges for the gateway.
type Metrics struct {
	registry             *prometheus.Registry
	requestsTotal        prometheus.Counter
	errorsTotal          prometheus.Counter
	roomSessions         prometheus.Gauge
	tunnels              prometheus.Gauge
	selectionsTotal      *prometheus.CounterVec
	trackEventsForwarded prometheus.Counter
	rosterCacheEntries   prometheus.Gauge
}

// New creates and registers Prometheus metrics for the gateway.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gateway_requests_total",
		Help: "Total number of HTTP and WebSocket upgrade requests received",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gateway_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})
	roomSessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_room_sessions",
		Help: "Number of open /room signaling sessions",
	})
	tunnels := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_tunnels",
		Help: "Number of open WebSocket tunnels to SFUs",
	})
	selectionsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_sfu_selections_total",
		Help: "SFU selection attempts by strategy and outcome",
	}, []string{"strategy", "outcome"})
	trackEventsForwarded := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gateway_track_events_forwarded_total",
		Help: "Total number of track change events pushed to clients",
	})
	rosterCacheEntries := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_roster_cache_entries",
		Help: "Number of rosters held in the in-process cache",
	})

	registry.MustRegister(
		requestsTotal,
		errorsTotal,
		roomSessions,
		tunnels,
		selectionsTotal,
		trackEventsForwarded,
		rosterCacheEntries,
	)

	return &Metrics{
		registry:             registry,
		requestsTotal:        requestsTotal,
		errorsTotal:          errorsTotal,
		roomSessions:         roomSessions,
		tunnels:              tunnels,
		selectionsTotal:      selectionsTotal,
		trackEventsForwarded: trackEventsForwarded,
		rosterCacheEntries:   rosterCacheEntries,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// RoomSessionOpened and RoomSessionClosed track open /room sessions.
func (m *Metrics) RoomSessionOpened() { m.roomSessions.Inc() }
func (m *Metrics) RoomSessionClosed() { m.roomSessions.Dec() }

// TunnelOpened and TunnelClosed track open SFU tunnels.
func (m *Metrics) TunnelOpened() { m.tunnels.Inc() }
func (m *Metrics) TunnelClosed() { m.tunnels.Dec() }

// ObserveSelection counts one strategy attempt.
func (m *Metrics) ObserveSelection(strategy string, ok bool) {
	outcome := OutcomeFailed
	if ok {
		outcome = OutcomeSelected
	}
	m.selectionsTotal.WithLabelValues(strategy, outcome).Inc()
}

// AddTrackEventsForwarded adds n to the forwarded events counter.
func (m *Metrics) AddTrackEventsForwarded(n int) {
	m.trackEventsForwarded.Add(float64(n))
}

// SetRosterCacheEntries sets the roster cache size gauge.
func (m *Metrics) SetRosterCacheEntries(n int) {
	m.rosterCacheEntries.Set(float64(n))
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g. roster cache size).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
