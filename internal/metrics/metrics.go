// Package metrics provides Prometheus instrumentation for the sniper.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "polysniper"

// Metrics holds every collector the agent updates. Each instance registers
// on its own registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	TicksProcessed  prometheus.Counter
	TicksDropped    prometheus.Counter
	Signals         *prometheus.CounterVec // kind
	Entries         *prometheus.CounterVec // kind
	EntryRejections *prometheus.CounterVec // reason
	Exits           *prometheus.CounterVec // reason
	Retries         *prometheus.CounterVec // outcome
	Reconnects      prometheus.Counter
	Frames          *prometheus.CounterVec // kind
	Subscriptions   prometheus.Counter

	ActiveMarkets  prometheus.Gauge
	OpenPositions  prometheus.Gauge
	Exposure       prometheus.Gauge
	PortfolioValue prometheus.Gauge

	DecisionLatency prometheus.Histogram

	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates and registers the collectors on a fresh registry that also
// carries the Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		TicksProcessed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "ticks_processed_total",
			Help: "Order-book updates consumed by the decision loop",
		}),
		TicksDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "ticks_dropped_total",
			Help: "Order-book updates dropped because the tick channel was full",
		}),
		Signals: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "signals_total",
			Help: "Trade signals produced by the detectors",
		}, []string{"kind"}),
		Entries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "entries_total",
			Help: "Positions opened",
		}, []string{"kind"}),
		EntryRejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "entry_rejections_total",
			Help: "Signals rejected before execution",
		}, []string{"reason"}),
		Exits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "exits_total",
			Help: "Positions closed",
		}, []string{"reason"}),
		Retries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "metadata_retries_total",
			Help: "Metadata fetch attempts for synthetic markets",
		}, []string{"outcome"}),
		Reconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "stream_reconnects_total",
			Help: "Market-data stream reconnects",
		}),
		Frames: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "stream_frames_total",
			Help: "Inbound stream frames by kind",
		}, []string{"kind"}),
		Subscriptions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "stream_subscribed_assets_total",
			Help: "Asset ids sent in subscribe frames",
		}),

		ActiveMarkets: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "active_markets",
			Help: "Markets in the active table",
		}),
		OpenPositions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "open_positions",
			Help: "Positions held by the risk manager",
		}),
		Exposure: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "exposure_usd",
			Help: "Total dollars in open positions",
		}),
		PortfolioValue: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "portfolio_value_usd",
			Help: "Cash plus marked value of open positions",
		}),

		DecisionLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "tick_to_decision_seconds",
			Help:    "Time from receiving an update to the detector verdict",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total",
			Help: "Reporting API requests",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds",
			Help:    "Reporting API request duration",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}, []string{"method", "route"}),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware records request counts and durations labelled by chi route
// pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		m.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(wrapped.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
