package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics implements Metrics using Prometheus
type PrometheusMetrics struct {
	loginAttempts  *prometheus.CounterVec
	loginDuration  prometheus.Histogram
	registrations  *prometheus.CounterVec
	throttled      prometheus.Counter
	tokensIssued   prometheus.Counter
	gateRequests   *prometheus.CounterVec
	authorizations *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewPrometheusMetrics creates a new Prometheus metrics instance
func NewPrometheusMetrics(namespace string) *PrometheusMetrics {
	registry := prometheus.NewRegistry()

	// Register standard Go metrics
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	loginAttempts := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "login",
			Name:      "attempts_total",
			Help:      "Total number of credential verifications by result",
		},
		[]string{"result"},
	)

	// bcrypt dominates login latency: 10ms to 2.5s
	loginDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "login",
			Name:      "duration_seconds",
			Help:      "Credential verification latency in seconds",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
	)

	registrations := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registrations_total",
			Help:      "Total number of user registrations by result",
		},
		[]string{"result"},
	)

	throttled := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "login",
			Name:      "throttled_total",
			Help:      "Total number of login attempts rejected by the rate limiter",
		},
	)

	tokensIssued := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tokens",
			Name:      "issued_total",
			Help:      "Total number of bearer tokens issued",
		},
	)

	gateRequests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gate",
			Name:      "requests_total",
			Help:      "Total number of requests seen by the authentication gate by outcome",
		},
		[]string{"outcome"},
	)

	authorizations := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "authorization_decisions_total",
			Help:      "Total number of route authorization decisions",
		},
		[]string{"decision"},
	)

	registry.MustRegister(
		loginAttempts,
		loginDuration,
		registrations,
		throttled,
		tokensIssued,
		gateRequests,
		authorizations,
	)

	return &PrometheusMetrics{
		loginAttempts:  loginAttempts,
		loginDuration:  loginDuration,
		registrations:  registrations,
		throttled:      throttled,
		tokensIssued:   tokensIssued,
		gateRequests:   gateRequests,
		authorizations: authorizations,
		registry:       registry,
	}
}

// RecordLogin records a credential verification
func (p *PrometheusMetrics) RecordLogin(result string, duration time.Duration) {
	p.loginAttempts.WithLabelValues(result).Inc()
	p.loginDuration.Observe(duration.Seconds())
}

// RecordRegistration records a registration attempt
func (p *PrometheusMetrics) RecordRegistration(result string) {
	p.registrations.WithLabelValues(result).Inc()
}

// RecordThrottled records a login rejected by the rate limiter
func (p *PrometheusMetrics) RecordThrottled() {
	p.throttled.Inc()
}

// RecordTokenIssued records a newly issued token
func (p *PrometheusMetrics) RecordTokenIssued() {
	p.tokensIssued.Inc()
}

// RecordGateOutcome records the authentication gate result for a request
func (p *PrometheusMetrics) RecordGateOutcome(outcome string) {
	p.gateRequests.WithLabelValues(outcome).Inc()
}

// RecordAuthorization records a route authorization decision
func (p *PrometheusMetrics) RecordAuthorization(decision string) {
	p.authorizations.WithLabelValues(decision).Inc()
}

// HTTPHandler returns the Prometheus HTTP handler
func (p *PrometheusMetrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
