package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, time.Minute, cfg.Window)
	assert.True(t, cfg.FailOpen)
	assert.NoError(t, cfg.Validate())
	assert.InDelta(t, 5.0/60.0, cfg.refillRate(), 1e-9)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		config Config
	}{
		{name: "zero attempts", config: Config{MaxAttempts: 0, Window: time.Minute}},
		{name: "negative attempts", config: Config{MaxAttempts: -1, Window: time.Minute}},
		{name: "zero window", config: Config{MaxAttempts: 5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.config.Validate())
		})
	}
}

func TestLoginKey(t *testing.T) {
	assert.Equal(t, "login:alice:10.0.0.1", LoginKey("alice", "10.0.0.1"))
	assert.NotEqual(t, LoginKey("alice", "10.0.0.1"), LoginKey("alice", "10.0.0.2"))
}
