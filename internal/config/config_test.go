package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	for _, key := range []string{"PORT", "ENV", "LOG_LEVEL", "CALENDAR_PROVIDER", "SLOT_DURATION", "CORS_ORIGINS", "EMAIL_PROVIDER", "GATEWAY_TIMEOUT", "MAX_SLOT_WINDOW"} {
		t.Setenv(key, "")
	}
	cfg := Load()
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, "memory", cfg.CalendarProvider)
	assert.Equal(t, 30*time.Minute, cfg.SlotDuration)
	assert.Equal(t, 10*time.Second, cfg.GatewayTimeout)
	assert.Equal(t, 31*24*time.Hour, cfg.MaxSlotWindow)
	assert.Equal(t, 30*24*time.Hour, cfg.FreeMarkerHorizon())
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Equal(t, "none", cfg.EmailProvider)
	assert.False(t, cfg.SlotLockEnabled)
}

func TestLoadOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PORT", "9090")
	t.Setenv("CALENDAR_PROVIDER", " Google ")
	t.Setenv("SLOT_DURATION", "45m")
	t.Setenv("FREE_MARKER_HORIZON_DAYS", "14")
	t.Setenv("SLOT_LOCK_ENABLED", "true")
	t.Setenv("CORS_ORIGINS", "https://a.example.com, ,https://b.example.com")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("STORE_TIMEOUT", "not-a-duration")
	t.Setenv("MAX_SLOT_WINDOW", "168h")

	cfg := Load()
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "google", cfg.CalendarProvider)
	assert.Equal(t, 45*time.Minute, cfg.SlotDuration)
	assert.Equal(t, 14*24*time.Hour, cfg.FreeMarkerHorizon())
	assert.True(t, cfg.SlotLockEnabled)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.CORSOrigins)
	assert.InDelta(t, 2.5, cfg.RateLimitRPS, 0.0001)
	assert.Equal(t, 5*time.Second, cfg.StoreTimeout)
	assert.Equal(t, 7*24*time.Hour, cfg.MaxSlotWindow)
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("JWT_SECRET=from-dotenv\n"), 0o600))
	t.Chdir(dir)
	t.Setenv("JWT_SECRET", "")
	os.Unsetenv("JWT_SECRET")

	cfg := Load()
	assert.Equal(t, "from-dotenv", cfg.JWTSecret)
}
