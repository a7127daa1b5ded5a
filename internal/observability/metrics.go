package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics exposes Prometheus collectors for the HTTP layer, the triage pipeline and the
// delegation pool. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	requestCount    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	errorCount      *prometheus.CounterVec
	triageDecisions *prometheus.CounterVec
	delegations     *prometheus.CounterVec
	analysisRetries prometheus.Counter
	queueDepth      prometheus.Gauge
	inflight        prometheus.Gauge
}

// NewMetrics registers collectors on a dedicated registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "triage_http_requests_total",
			Help: "HTTP requests by path, method and status",
		}, []string{"path", "method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "triage_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 25},
		}, []string{"path", "method"}),
		errorCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "triage_http_errors_total",
			Help: "HTTP errors by path, method and error code",
		}, []string{"path", "method", "code"}),
		triageDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "triage_decisions_total",
			Help: "Triage passes by route and outcome",
		}, []string{"route", "outcome"}),
		delegations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "triage_delegations_total",
			Help: "Delegation tasks by terminal or rejection status",
		}, []string{"status"}),
		analysisRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "triage_analysis_retries_total",
			Help: "Retried log-monitor analysis attempts",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "triage_delegation_queue_depth",
			Help: "Delegation tasks waiting for a worker",
		}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "triage_delegation_inflight",
			Help: "Tickets with a pending or running delegation task",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requestCount,
		m.requestDuration,
		m.errorCount,
		m.triageDecisions,
		m.delegations,
		m.analysisRetries,
		m.queueDepth,
		m.inflight,
	)
	return m
}

// Registry returns the registry backing /metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requestCount.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(path, method).Observe(duration.Seconds())
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	m.errorCount.WithLabelValues(path, method, code).Inc()
}

// RecordTriage counts one finished triage pass.
func (m *Metrics) RecordTriage(route, outcome string) {
	if m == nil {
		return
	}
	m.triageDecisions.WithLabelValues(route, outcome).Inc()
}

// RecordDelegation counts a delegation reaching the given status.
func (m *Metrics) RecordDelegation(status string) {
	if m == nil {
		return
	}
	m.delegations.WithLabelValues(status).Inc()
}

// RecordAnalysisRetry counts a retried analysis attempt.
func (m *Metrics) RecordAnalysisRetry() {
	if m == nil {
		return
	}
	m.analysisRetries.Inc()
}

// SetPoolGauges publishes the current pool occupancy.
func (m *Metrics) SetPoolGauges(queued, inflight int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(queued))
	m.inflight.Set(float64(inflight))
}
