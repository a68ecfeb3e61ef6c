package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	SupervisorState      prometheus.Gauge
	SupervisorReconnects prometheus.Counter

	EventsDecoded  *prometheus.CounterVec
	EventsDropped  *prometheus.CounterVec
	HandlerErrors  *prometheus.CounterVec
	HandlerPanics  prometheus.Counter
	HandleDuration *prometheus.HistogramVec

	BroadcastSent    *prometheus.CounterVec
	BroadcastDropped *prometheus.CounterVec
	Subscribers      prometheus.Gauge

	AnalyticsRecomputes *prometheus.CounterVec
}

// New creates all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		SupervisorState: f.NewGauge(prometheus.GaugeOpts{
			Name: "wave_supervisor_state",
			Help: "Connection state: 0 disconnected, 1 connecting, 2 subscribed",
		}),
		SupervisorReconnects: f.NewCounter(prometheus.CounterOpts{
			Name: "wave_supervisor_reconnects_total",
			Help: "Reconnect attempts after a transport failure",
		}),

		EventsDecoded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wave_router_events_decoded_total",
			Help: "Contract events decoded and dispatched",
		}, []string{"event"}),
		EventsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wave_router_events_dropped_total",
			Help: "Logs dropped before reaching the engine",
		}, []string{"reason"}),
		HandlerErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wave_handler_errors_total",
			Help: "Events whose reconciliation returned an error",
		}, []string{"event"}),
		HandlerPanics: f.NewCounter(prometheus.CounterOpts{
			Name: "wave_handler_panics_total",
			Help: "Recovered panics in event handlers",
		}),
		HandleDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wave_handle_duration_seconds",
			Help:    "Time to reconcile a single event",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"event"}),

		BroadcastSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wave_broadcast_sent_total",
			Help: "Messages published to the fan-out",
		}, []string{"type"}),
		BroadcastDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wave_broadcast_dropped_total",
			Help: "Messages dropped for a slow subscriber",
		}, []string{"type"}),
		Subscribers: f.NewGauge(prometheus.GaugeOpts{
			Name: "wave_broadcast_subscribers",
			Help: "Connected real-time subscribers",
		}),

		AnalyticsRecomputes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wave_analytics_recomputes_total",
			Help: "Analytics snapshot recomputes by result",
		}, []string{"result"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SetSupervisorState(state int) {
	if m == nil {
		return
	}
	m.SupervisorState.Set(float64(state))
}

func (m *Metrics) Reconnect() {
	if m == nil {
		return
	}
	m.SupervisorReconnects.Inc()
}

func (m *Metrics) Decoded(event string) {
	if m == nil {
		return
	}
	m.EventsDecoded.WithLabelValues(event).Inc()
}

func (m *Metrics) Dropped(reason string) {
	if m == nil {
		return
	}
	m.EventsDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) HandlerFailed(event string) {
	if m == nil {
		return
	}
	m.HandlerErrors.WithLabelValues(event).Inc()
}

func (m *Metrics) Panicked() {
	if m == nil {
		return
	}
	m.HandlerPanics.Inc()
}

func (m *Metrics) ObserveHandle(event string, started time.Time) {
	if m == nil {
		return
	}
	m.HandleDuration.WithLabelValues(event).Observe(time.Since(started).Seconds())
}

func (m *Metrics) Sent(msgType string) {
	if m == nil {
		return
	}
	m.BroadcastSent.WithLabelValues(msgType).Inc()
}

func (m *Metrics) SlowSubscriber(msgType string) {
	if m == nil {
		return
	}
	m.BroadcastDropped.WithLabelValues(msgType).Inc()
}

func (m *Metrics) SetSubscribers(n int) {
	if m == nil {
		return
	}
	m.Subscribers.Set(float64(n))
}

func (m *Metrics) Recomputed(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.AnalyticsRecomputes.WithLabelValues(result).Inc()
}
