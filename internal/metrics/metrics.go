package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fraudwatch/internal/fraud"
)

const namespace = "fraudwatch"

// Refresh outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
	OutcomeStale   = "stale"
)

// Metrics holds the collectors of one process.
type Metrics struct {
	registry *prometheus.Registry

	refreshTotal     *prometheus.CounterVec
	refreshDuration  prometheus.Histogram
	flagsByType      *prometheus.GaugeVec
	customers        prometheus.Gauge
	transactions     prometheus.Gauge
	lastSuccess      prometheus.Gauge
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	alertsDispatched prometheus.Counter
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		refreshTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "total",
			Help:      "Refresh attempts by outcome",
		}, []string{"outcome"}),
		refreshDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "duration_seconds",
			Help:      "Fetch plus analysis latency",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
		flagsByType: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "bundle",
			Name:      "flags",
			Help:      "Suspicious flags in the published bundle",
		}, []string{"flag_type"}),
		customers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "bundle",
			Name:      "customers",
			Help:      "Customers in the published bundle",
		}),
		transactions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "bundle",
			Name:      "transactions",
			Help:      "Transaction records in the published bundle",
		}),
		lastSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last published bundle",
		}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
		}, []string{"method", "route"}),
		alertsDispatched: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerting",
			Name:      "flags_dispatched_total",
			Help:      "Flags sent to alert channels",
		}),
	}
}

// ObserveRefresh records one refresh attempt.
func (m *Metrics) ObserveRefresh(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.refreshTotal.WithLabelValues(outcome).Inc()
	if outcome == OutcomeSuccess || outcome == OutcomeFailed {
		m.refreshDuration.Observe(took.Seconds())
	}
}

// ObserveBundle mirrors a published bundle into gauges.
func (m *Metrics) ObserveBundle(data *fraud.FraudAnalyticsData) {
	if m == nil || data == nil {
		return
	}
	counts := data.FlagCounts()
	for _, ft := range fraud.FlagTypes {
		m.flagsByType.WithLabelValues(string(ft)).Set(float64(counts[ft]))
	}
	m.customers.Set(float64(len(data.CustomerActivity)))
	m.transactions.Set(float64(len(data.Transactions)))
	if data.GeneratedAt != nil {
		m.lastSuccess.Set(float64(data.GeneratedAt.Unix()))
	}
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, route, status string, took time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, status).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(took.Seconds())
}

// AlertsDispatched counts flags handed to notifiers.
func (m *Metrics) AlertsDispatched(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.alertsDispatched.Add(float64(n))
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
