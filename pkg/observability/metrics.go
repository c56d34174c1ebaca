package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records
// nothing, so components can run unregistered in tests.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Charge metrics
	ChargesTotal      *prometheus.CounterVec
	ChargeAmountCents *prometheus.HistogramVec
	RejectionsTotal   *prometheus.CounterVec
	FeeCentsTotal     *prometheus.CounterVec

	// Subscription metrics
	SubscriptionTransitionsTotal *prometheus.CounterVec
	DueBacklog                   prometheus.Gauge
	BatchRunDuration             prometheus.Histogram

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ratchet_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ratchet_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		ChargesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ratchet_charges_total",
				Help: "Total number of charge attempts by outcome",
			},
			[]string{"currency", "outcome"},
		),
		ChargeAmountCents: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ratchet_charge_amount_cents",
				Help:    "Distribution of accepted charge amounts in cents",
				Buckets: prometheus.ExponentialBuckets(100, 4, 10),
			},
			[]string{"currency"},
		),
		RejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ratchet_rejections_total",
				Help: "Total number of policy rejections by kind",
			},
			[]string{"currency", "kind"},
		),
		FeeCentsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ratchet_fee_cents_total",
				Help: "Total platform fees collected in cents",
			},
			[]string{"currency"},
		),

		SubscriptionTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ratchet_subscription_transitions_total",
				Help: "Total subscription state transitions",
			},
			[]string{"from", "to"},
		),
		DueBacklog: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ratchet_due_backlog",
				Help: "Subscriptions due for billing at the last batch run",
			},
		),
		BatchRunDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ratchet_batch_run_duration_seconds",
				Help:    "Duration of due-charge batch runs",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ratchet_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ratchet_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ChargesTotal,
		m.ChargeAmountCents,
		m.RejectionsTotal,
		m.FeeCentsTotal,
		m.SubscriptionTransitionsTotal,
		m.DueBacklog,
		m.BatchRunDuration,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// ObserveCharge records one charge attempt. Accepted charges also feed the
// amount histogram.
func (m *Metrics) ObserveCharge(currency, outcome string, amountCents int64) {
	if m == nil {
		return
	}
	m.ChargesTotal.WithLabelValues(currency, outcome).Inc()
	if outcome == "accepted" {
		m.ChargeAmountCents.WithLabelValues(currency).Observe(float64(amountCents))
	}
}

// ObserveRejection records one policy rejection.
func (m *Metrics) ObserveRejection(currency, kind string) {
	if m == nil {
		return
	}
	m.RejectionsTotal.WithLabelValues(currency, kind).Inc()
}

// ObserveFee records collected fee cents.
func (m *Metrics) ObserveFee(currency string, feeCents int64) {
	if m == nil {
		return
	}
	m.FeeCentsTotal.WithLabelValues(currency).Add(float64(feeCents))
}

// ObserveTransition records one subscription state transition.
func (m *Metrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.SubscriptionTransitionsTotal.WithLabelValues(from, to).Inc()
}

// ObserveBatchRun records one batch run.
func (m *Metrics) ObserveBatchRun(due int, duration time.Duration) {
	if m == nil {
		return
	}
	m.DueBacklog.Set(float64(due))
	m.BatchRunDuration.Observe(duration.Seconds())
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if metrics == nil {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
