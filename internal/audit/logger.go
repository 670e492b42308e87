// Package audit records a security audit trail of authentication events
package audit

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
)

// Logger logs audit events
type Logger interface {
	// Log records an event without blocking the caller
	Log(ctx context.Context, event *Event)

	// Flush writes pending events
	Flush() error

	// Close flushes remaining events and releases the writer
	Close() error
}

// Config for audit logger
type Config struct {
	// Enabled enables audit logging
	Enabled bool `yaml:"enabled"`

	// Type is the output: stdout or file
	Type string `yaml:"type"`

	// For file output
	FilePath       string `yaml:"file"`
	FileMaxSize    int    `yaml:"max_size_mb"`
	FileMaxAge     int    `yaml:"max_age_days"`
	FileMaxBackups int    `yaml:"max_backups"`

	// BufferSize is the ring buffer capacity; the oldest events are dropped when full
	BufferSize int `yaml:"buffer_size"`

	// FlushInterval is the longest an event waits before being written
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		Enabled:        true,
		Type:           "stdout",
		BufferSize:     1000,
		FlushInterval:  100 * time.Millisecond,
		FileMaxSize:    100, // 100MB
		FileMaxAge:     30,  // 30 days
		FileMaxBackups: 10,
	}
}

// Validate validates the configuration
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	switch c.Type {
	case "stdout":
	case "file":
		if c.FilePath == "" {
			return fmt.Errorf("file path is required for file output")
		}
	default:
		return fmt.Errorf("invalid audit type: %q (must be stdout or file)", c.Type)
	}

	if c.BufferSize < 0 {
		return fmt.Errorf("audit buffer size must not be negative")
	}
	if c.FlushInterval < 0 {
		return fmt.Errorf("audit flush interval must not be negative")
	}

	return nil
}

// NewLogger creates a new audit logger. A disabled configuration yields a
// logger that discards events.
func NewLogger(cfg Config, logger *zap.Logger) (Logger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid audit config: %w", err)
	}
	if !cfg.Enabled {
		return NewNoopLogger(), nil
	}

	var writer Writer
	var err error

	switch cfg.Type {
	case "stdout":
		writer = NewStreamWriter(os.Stdout)
	case "file":
		writer, err = NewFileWriter(cfg.FilePath, cfg.FileMaxSize, cfg.FileMaxAge, cfg.FileMaxBackups)
		if err != nil {
			return nil, fmt.Errorf("create file writer: %w", err)
		}
	}

	return newAsyncLogger(writer, cfg, logger), nil
}

// NoopLogger discards every event
type NoopLogger struct{}

// NewNoopLogger creates a logger used when audit logging is disabled
func NewNoopLogger() *NoopLogger {
	return &NoopLogger{}
}

func (NoopLogger) Log(ctx context.Context, event *Event) {}
func (NoopLogger) Flush() error                          { return nil }
func (NoopLogger) Close() error                          { return nil }
