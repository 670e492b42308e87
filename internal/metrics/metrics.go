// Package metrics provides observability for the token authentication service
package metrics

import (
	"net/http"
	"time"
)

// Metrics provides observability for the authentication pipeline
type Metrics interface {
	// Credential verification
	RecordLogin(result string, duration time.Duration)
	RecordRegistration(result string)
	RecordThrottled()

	// Token lifecycle
	RecordTokenIssued()

	// Per-request authentication and authorization
	RecordGateOutcome(outcome string)
	RecordAuthorization(decision string)

	// HTTP handler for Prometheus scraping
	HTTPHandler() http.Handler
}

// NoOpMetrics provides a no-op implementation for testing/disabled monitoring
type NoOpMetrics struct{}

// NewNoOpMetrics creates a new no-op metrics instance
func NewNoOpMetrics() *NoOpMetrics {
	return &NoOpMetrics{}
}

func (n *NoOpMetrics) RecordLogin(result string, duration time.Duration) {}
func (n *NoOpMetrics) RecordRegistration(result string)                  {}
func (n *NoOpMetrics) RecordThrottled()                                  {}
func (n *NoOpMetrics) RecordTokenIssued()                                {}
func (n *NoOpMetrics) RecordGateOutcome(outcome string)                  {}
func (n *NoOpMetrics) RecordAuthorization(decision string)               {}

// HTTPHandler returns a no-op handler
func (n *NoOpMetrics) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("# NoOp metrics - monitoring disabled\n"))
	})
}
