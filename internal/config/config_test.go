package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()
	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, "8082", cfg.HTTPPort)
	assert.Equal(t, 100, cfg.DeferCapacity)
	assert.Equal(t, 5*time.Minute, cfg.DeferTTL)
	assert.Equal(t, 30*time.Second, cfg.ProbeInterval)
	assert.Equal(t, 2*time.Second, cfg.SaveDebounce)
	assert.Equal(t, 120, cfg.RateLimitPerMin)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("HTTP_PORT", "9999")
	t.Setenv("SAVE_DEBOUNCE", "500ms")
	t.Setenv("DEFER_CAPACITY", "10")
	t.Setenv("QUEUE_BACKEND", "memory")

	cfg := Load()
	assert.Equal(t, "9999", cfg.HTTPPort)
	assert.Equal(t, 500*time.Millisecond, cfg.SaveDebounce)
	assert.Equal(t, 10, cfg.DeferCapacity)
	assert.Equal(t, "memory", cfg.QueueBackend)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("DEFER_TTL", "not-a-duration")
	t.Setenv("RATE_LIMIT_PER_MIN", "lots")

	cfg := Load()
	assert.Equal(t, 5*time.Minute, cfg.DeferTTL)
	assert.Equal(t, 120, cfg.RateLimitPerMin)
}
