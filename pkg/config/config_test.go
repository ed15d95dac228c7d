package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults_AreValid(t *testing.T) {
	err := Validate(
		DefaultSessionConfig().Validate,
		DefaultAttemptLimitConfig().Validate,
		DefaultPostureConfig().Validate,
	)
	require.NoError(t, err)
}

func TestNewSessionConfigFromEnv(t *testing.T) {
	t.Setenv("SESSION_IDLE_TIMEOUT", "15m")
	t.Setenv("SESSION_WARNING_WINDOW", "2m")
	t.Setenv("SESSION_ABSOLUTE_TIMEOUT", "not-a-duration")

	cfg := NewSessionConfigFromEnv()
	assert.Equal(t, 15*time.Minute, cfg.IdleTimeout)
	assert.Equal(t, 2*time.Minute, cfg.WarningWindow)
	assert.Equal(t, 8*time.Hour, cfg.AbsoluteTimeout, "invalid values fall back to the default")
	assert.Empty(t, cfg.Validate())
}

func TestSessionConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*SessionConfig)
		field  string
	}{
		{"zero idle timeout", func(c *SessionConfig) { c.IdleTimeout = 0 }, "SESSION_IDLE_TIMEOUT"},
		{"warning not shorter than idle", func(c *SessionConfig) { c.WarningWindow = c.IdleTimeout }, "SESSION_WARNING_WINDOW"},
		{"negative throttle", func(c *SessionConfig) { c.ActivityThrottle = -time.Second }, "SESSION_ACTIVITY_THROTTLE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultSessionConfig()
			tt.modify(&cfg)

			errs := cfg.Validate()
			require.NotEmpty(t, errs)
			assert.Equal(t, tt.field, errs[0].Field)
		})
	}
}

func TestNewAttemptLimitConfigFromEnv(t *testing.T) {
	t.Setenv("LOGIN_MAX_ATTEMPTS", "5")
	t.Setenv("MFA_ATTEMPT_WINDOW", "10m")
	t.Setenv("RATELIMIT_HTTP_ENABLED", "false")

	cfg := NewAttemptLimitConfigFromEnv()
	assert.Equal(t, 5, cfg.LoginMaxAttempts)
	assert.Equal(t, 5*time.Minute, cfg.LoginWindow)
	assert.Equal(t, 3, cfg.MFAMaxAttempts)
	assert.Equal(t, 10*time.Minute, cfg.MFAWindow)
	assert.False(t, cfg.HTTPEnabled)
}

func TestPostureConfig_Validate(t *testing.T) {
	t.Setenv("POSTURE_REQUIRED_HEADERS", "X-Frame-Options, ,Content-Security-Policy")
	t.Setenv("CONNECTIVITY_PROBE_URL", "://bad")

	cfg := NewPostureConfigFromEnv()
	assert.Equal(t, []string{"X-Frame-Options", "Content-Security-Policy"}, cfg.RequiredHeaders)

	err := Validate(cfg.Validate)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CONNECTIVITY_PROBE_URL")
}

func TestValidationErrors_Error(t *testing.T) {
	errs := CollectErrors(
		RequirePositive("A", 0),
		nil,
		RequirePositive("B", -1),
	)
	require.Len(t, errs, 2)
	assert.Contains(t, errs.Error(), "configuration validation failed:")
	assert.Contains(t, errs.Error(), "A: ")
	assert.Contains(t, errs.Error(), "B: ")
}

func TestDatabaseConfig_ToDatabaseURL(t *testing.T) {
	cfg := DatabaseConfig{
		Host:     "db",
		Port:     5433,
		Database: "session_db",
		User:     "session",
		Password: "pwd",
		Schema:   "prefs",
	}
	assert.Equal(t, "postgres://session:pwd@db:5433/session_db?sslmode=disable&search_path=prefs,public", cfg.ToDatabaseURL())
}
