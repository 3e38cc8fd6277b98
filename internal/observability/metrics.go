package observability

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the service's prometheus collectors on a private registry.
// All methods are safe to call on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	RequestCounter   *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RecordWrites     *prometheus.CounterVec
	AttemptDecisions *prometheus.CounterVec
	StoreRetries     *prometheus.CounterVec
	StreamClients    prometheus.Gauge
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		RequestCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"method", "endpoint"},
		),
		RecordWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codeclash_record_writes_total",
				Help: "Activity record mutations by operation and outcome",
			},
			[]string{"op", "result"},
		),
		AttemptDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codeclash_attempt_decisions_total",
				Help: "Attempt gate decisions",
			},
			[]string{"decision"},
		),
		StoreRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codeclash_store_retries_total",
				Help: "Store calls retried by the retry policy",
			},
			[]string{"op"},
		),
		StreamClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "codeclash_leaderboard_stream_clients",
			Help: "Open leaderboard websocket streams",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.RequestCounter,
		m.RequestDuration,
		m.RecordWrites,
		m.AttemptDecisions,
		m.StoreRetries,
		m.StreamClients,
	)
	return m
}

// Handler exposes the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveWrite(op, result string) {
	if m == nil {
		return
	}
	m.RecordWrites.WithLabelValues(op, result).Inc()
}

func (m *Metrics) ObserveAttempt(decision string) {
	if m == nil {
		return
	}
	m.AttemptDecisions.WithLabelValues(decision).Inc()
}

func (m *Metrics) ObserveRetry(op string) {
	if m == nil {
		return
	}
	m.StoreRetries.WithLabelValues(op).Inc()
}

func (m *Metrics) StreamOpened() {
	if m == nil {
		return
	}
	m.StreamClients.Inc()
}

func (m *Metrics) StreamClosed() {
	if m == nil {
		return
	}
	m.StreamClients.Dec()
}

func (m *Metrics) ObserveRequest(method, endpoint string, status int, seconds float64) {
	if m == nil {
		return
	}
	m.RequestCounter.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(method, endpoint).Observe(seconds)
}
