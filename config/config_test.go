package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, []string{"http://localhost:3000", "http://localhost:5173"}, cfg.AllowedOrigins)
	assert.Equal(t, 30*time.Second, cfg.Signaling.RecordTTL)
	assert.Equal(t, 5, cfg.ICE.RestartMaxAttempts)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, cfg.ICE.STUNURLs)
	assert.Empty(t, cfg.ICE.TURNURLs)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("ALLOWED_ORIGINS", "https://sideeye.app, https://staging.sideeye.app,")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("SIGNALING_RECORD_TTL", "45s")
	t.Setenv("ICE_TURN_URLS", "turn:turn.sideeye.app:3478?transport=udp")
	t.Setenv("ICE_RESTART_MAX_ATTEMPTS", "2")

	cfg := Load()

	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, []string{"https://sideeye.app", "https://staging.sideeye.app"}, cfg.AllowedOrigins)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.Equal(t, 45*time.Second, cfg.Signaling.RecordTTL)
	assert.Equal(t, []string{"turn:turn.sideeye.app:3478?transport=udp"}, cfg.ICE.TURNURLs)
	assert.Equal(t, 2, cfg.ICE.RestartMaxAttempts)
}
