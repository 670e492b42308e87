// Package ratelimit throttles repeated login attempts
package ratelimit

import (
	"context"
	"time"
)

// Limiter defines the interface for rate limiting operations
type Limiter interface {
	// Allow checks if a request is allowed for the given key
	// Returns:
	//   - allowed: true if request is allowed
	//   - remaining: number of requests remaining before throttling, or -1
	//     when the limiter did not count the request
	//   - resetTime: when the next attempt will be admitted
	Allow(ctx context.Context, key string) (allowed bool, remaining int, resetTime time.Time, err error)

	// Reset clears the rate limit for a key
	Reset(ctx context.Context, key string) error

	// Close releases resources
	Close() error
}

// LoginKey builds the throttling key for a login attempt. Attempts are
// counted per username and client address, so one client guessing passwords
// does not lock the account out for everyone else.
func LoginKey(username, clientIP string) string {
	return "login:" + username + ":" + clientIP
}

// NoopLimiter admits every request. It is used when Redis is not configured.
type NoopLimiter struct{}

// NewNoopLimiter creates a limiter that never throttles
func NewNoopLimiter() *NoopLimiter {
	return &NoopLimiter{}
}

// Allow always admits the request
func (NoopLimiter) Allow(ctx context.Context, key string) (bool, int, time.Time, error) {
	return true, -1, time.Time{}, nil
}

// Reset does nothing
func (NoopLimiter) Reset(ctx context.Context, key string) error {
	return nil
}

// Close does nothing
func (NoopLimiter) Close() error {
	return nil
}
