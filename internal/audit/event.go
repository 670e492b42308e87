package audit

import (
	"context"
	"time"
)

// EventType represents the type of audit event
type EventType string

const (
	EventTypeLoginSucceeded       EventType = "login_succeeded"
	EventTypeLoginFailed          EventType = "login_failed"
	EventTypeLoginRefused         EventType = "login_refused"
	EventTypeLoginThrottled       EventType = "login_throttled"
	EventTypeUserRegistered       EventType = "user_registered"
	EventTypeRegistrationRejected EventType = "registration_rejected"
	EventTypeSystemStartup        EventType = "system_startup"
	EventTypeSystemShutdown       EventType = "system_shutdown"
)

// Event is one entry in the security audit trail. Passwords and tokens are
// never recorded.
type Event struct {
	Timestamp time.Time              `json:"timestamp"`
	EventType EventType              `json:"event_type"`
	EventID   string                 `json:"event_id"`
	RequestID string                 `json:"request_id,omitempty"`
	Username  string                 `json:"username,omitempty"`
	UserID    int64                  `json:"user_id,omitempty"`
	ClientIP  string                 `json:"client_ip,omitempty"`
	UserAgent string                 `json:"user_agent,omitempty"`
	Reason    string                 `json:"reason,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

type contextKey string

const requestIDContextKey contextKey = "audit_request_id"

// WithRequestID returns a context whose audit events carry id
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDContextKey, id)
}

// RequestIDFromContext returns the request id set by WithRequestID
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDContextKey).(string)
	return id
}
