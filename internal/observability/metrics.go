package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics mengumpulkan metrik Prometheus untuk aplikasi.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	movements       *prometheus.CounterVec
	serialized      prometheus.Counter
	overrides       *prometheus.CounterVec
	wmsEvents       *prometheus.CounterVec
}

// NewMetrics menginisialisasi registry, metrik HTTP, dan metrik ledger.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cellar_http_requests_total",
		Help: "Jumlah permintaan HTTP berdasarkan route dan status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cellar_http_request_duration_seconds",
		Help:    "Durasi permintaan HTTP per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	movements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cellar_movements_total",
		Help: "Movements written to the ledger by type and trigger.",
	}, []string{"type", "trigger"})
	serialized := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cellar_bottles_serialized_total",
		Help: "Bottles created by serialization.",
	})
	overrides := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cellar_override_bottles_total",
		Help: "Bottles processed by committed consumption overrides by result.",
	}, []string{"result"})
	wmsEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cellar_wms_events_total",
		Help: "WMS events by kind and outcome.",
	}, []string{"kind", "outcome"})
	registry.MustRegister(requests, duration, movements, serialized, overrides, wmsEvents)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		movements:       movements,
		serialized:      serialized,
		overrides:       overrides,
		wmsEvents:       wmsEvents,
	}
}

// Handler mengembalikan http.Handler untuk endpoint /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware mencatat metrik untuk setiap permintaan HTTP.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer mengekspos registry untuk pendaftaran metrik khusus.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// ObserveMovement counts one committed ledger movement.
func (m *Metrics) ObserveMovement(movementType, trigger string) {
	if m == nil {
		return
	}
	m.movements.WithLabelValues(movementType, trigger).Inc()
}

// ObserveSerialized counts bottles created by one serialization run.
func (m *Metrics) ObserveSerialized(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.serialized.Add(float64(count))
}

// ObserveOverride counts the per-bottle results of one override batch.
func (m *Metrics) ObserveOverride(consumed, failed int) {
	if m == nil {
		return
	}
	if consumed > 0 {
		m.overrides.WithLabelValues("consumed").Add(float64(consumed))
	}
	if failed > 0 {
		m.overrides.WithLabelValues("failed").Add(float64(failed))
	}
}

// ObserveWMSEvent counts one ingested WMS event.
func (m *Metrics) ObserveWMSEvent(kind, outcome string) {
	if m == nil {
		return
	}
	m.wmsEvents.WithLabelValues(kind, outcome).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
