package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Transaction outcomes used as metric label values.
const (
	OutcomeAccepted     = "accepted"
	OutcomeInvalid      = "invalid"
	OutcomeNotFound     = "not_found"
	OutcomeInconsistent = "inconsistent_balance"
	OutcomeUnavailable  = "store_unavailable"
)

// Metrics holds the Prometheus collectors for the ledger service.
type Metrics struct {
	transactionsTotal  *prometheus.CounterVec
	transactionLatency *prometheus.HistogramVec
	conflictRetries    prometheus.Counter
	statementsTotal    *prometheus.CounterVec
	httpRequestsTotal  *prometheus.CounterVec
	httpLatency        *prometheus.HistogramVec
}

func New(namespace string) *Metrics {
	return &Metrics{
		transactionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transactions_total",
				Help:      "Total transactions applied, by kind and outcome",
			},
			[]string{"tipo", "outcome"},
		),
		transactionLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "transaction_duration_seconds",
				Help:      "Latency of the transaction engine, by outcome",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
		conflictRetries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transaction_conflict_retries_total",
				Help:      "Total atomic unit retries caused by store conflicts",
			},
		),
		statementsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "statements_total",
				Help:      "Total statements served, by source (cache or store)",
			},
			[]string{"source"},
		),
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total HTTP requests, by method, route and status",
			},
			[]string{"method", "route", "status"},
		),
		httpLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency, by method and route",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
}

// Register registers all collectors with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.transactionsTotal,
		m.transactionLatency,
		m.conflictRetries,
		m.statementsTotal,
		m.httpRequestsTotal,
		m.httpLatency,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) ObserveTransaction(kind, outcome string, duration time.Duration) {
	m.transactionsTotal.WithLabelValues(kind, outcome).Inc()
	m.transactionLatency.WithLabelValues(outcome).Observe(duration.Seconds())
}

func (m *Metrics) ObserveConflictRetry() {
	m.conflictRetries.Inc()
}

func (m *Metrics) ObserveStatement(source string) {
	m.statementsTotal.WithLabelValues(source).Inc()
}

func (m *Metrics) ObserveHTTPRequest(method, route, status string, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, route, status).Inc()
	m.httpLatency.WithLabelValues(method, route).Observe(duration.Seconds())
}
