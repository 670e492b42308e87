package ratelimit

import (
	"fmt"
	"time"
)

// Config holds login throttling configuration
type Config struct {
	// MaxAttempts is the bucket capacity: attempts admitted back to back
	MaxAttempts int

	// Window is the time it takes an empty bucket to refill completely
	Window time.Duration

	// KeyPrefix is the Redis key prefix
	KeyPrefix string

	// FailOpen determines if requests should be allowed when Redis is unavailable
	FailOpen bool
}

// DefaultConfig returns default rate limiter configuration
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts: 5,
		Window:      time.Minute,
		KeyPrefix:   "tokenauth",
		FailOpen:    true, // Fail open by default for availability
	}
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be positive, got %d", c.MaxAttempts)
	}
	if c.Window <= 0 {
		return fmt.Errorf("window must be positive, got %s", c.Window)
	}
	return nil
}

// refillRate returns the number of attempts restored per second
func (c *Config) refillRate() float64 {
	return float64(c.MaxAttempts) / c.Window.Seconds()
}
