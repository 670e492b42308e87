package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m Metrics) string {
	t.Helper()
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	m.HTTPHandler().ServeHTTP(w, req)
	require.Equal(t, 200, w.Code)
	return w.Body.String()
}

// TestNewPrometheusMetrics verifies constructor creates valid instance
func TestNewPrometheusMetrics(t *testing.T) {
	tests := []struct {
		name      string
		namespace string
	}{
		{name: "Default namespace", namespace: "tokenauth"},
		{name: "Custom namespace", namespace: "my_app"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewPrometheusMetrics(tt.namespace)
			require.NotNil(t, m)

			m.RecordTokenIssued()
			body := scrape(t, m)
			assert.Contains(t, body, tt.namespace+"_tokens_issued_total 1")
		})
	}
}

// TestPrometheusMetrics_CounterVec verifies labeled counters work correctly
func TestPrometheusMetrics_CounterVec(t *testing.T) {
	m := NewPrometheusMetrics("tokenauth_test")

	m.RecordLogin("success", 50*time.Millisecond)
	m.RecordLogin("invalid_credentials", 60*time.Millisecond)
	m.RecordLogin("success", 40*time.Millisecond)
	m.RecordGateOutcome("authenticated")
	m.RecordGateOutcome("anonymous")
	m.RecordGateOutcome("anonymous")
	m.RecordAuthorization("forbidden")
	m.RecordRegistration("created")
	m.RecordThrottled()

	body := scrape(t, m)

	assert.Contains(t, body, `tokenauth_test_login_attempts_total{result="success"} 2`)
	assert.Contains(t, body, `tokenauth_test_login_attempts_total{result="invalid_credentials"} 1`)
	assert.Contains(t, body, `tokenauth_test_login_duration_seconds_count 3`)
	assert.Contains(t, body, `tokenauth_test_gate_requests_total{outcome="anonymous"} 2`)
	assert.Contains(t, body, `tokenauth_test_gate_requests_total{outcome="authenticated"} 1`)
	assert.Contains(t, body, `tokenauth_test_authorization_decisions_total{decision="forbidden"} 1`)
	assert.Contains(t, body, `tokenauth_test_registrations_total{result="created"} 1`)
	assert.Contains(t, body, `tokenauth_test_login_throttled_total 1`)
}

// TestPrometheusMetrics_Isolation verifies each instance has its own registry
func TestPrometheusMetrics_Isolation(t *testing.T) {
	a := NewPrometheusMetrics("iso")
	b := NewPrometheusMetrics("iso")

	a.RecordTokenIssued()

	assert.Contains(t, scrape(t, a), "iso_tokens_issued_total 1")
	assert.Contains(t, scrape(t, b), "iso_tokens_issued_total 0")
}

func TestNoOpMetrics(t *testing.T) {
	var m Metrics = NewNoOpMetrics()

	assert.NotPanics(t, func() {
		m.RecordLogin("success", time.Millisecond)
		m.RecordRegistration("created")
		m.RecordThrottled()
		m.RecordTokenIssued()
		m.RecordGateOutcome("anonymous")
		m.RecordAuthorization("allow")
	})

	assert.Contains(t, scrape(t, m), "NoOp")
}
