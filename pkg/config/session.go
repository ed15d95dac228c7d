package config

import "time"

// SessionConfig contains session clock and activity tracking settings.
// Fields have no env tags - populate manually or use NewSessionConfigFromEnv() for standard env var names.
type SessionConfig struct {
	// IdleTimeout is the maximum gap since the last user activity
	IdleTimeout time.Duration

	// AbsoluteTimeout is the maximum session lifetime regardless of activity
	AbsoluteTimeout time.Duration

	// WarningWindow precedes idle expiry and yields a warning status
	WarningWindow time.Duration

	// TickInterval is the cadence of the periodic session evaluation
	TickInterval time.Duration

	// ActivityThrottle bounds how often activity signals write the session
	ActivityThrottle time.Duration
}

// DefaultSessionConfig returns a SessionConfig with sensible defaults
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		IdleTimeout:      60 * time.Minute,
		AbsoluteTimeout:  8 * time.Hour,
		WarningWindow:    10 * time.Minute,
		TickInterval:     60 * time.Second,
		ActivityThrottle: time.Second,
	}
}

// NewSessionConfigFromEnv loads SessionConfig from standard environment variables.
// This is an optional convenience function - you can also populate the struct manually.
//
// Environment variables:
//   - SESSION_IDLE_TIMEOUT: Idle timeout (default: 60m)
//   - SESSION_ABSOLUTE_TIMEOUT: Absolute timeout (default: 8h)
//   - SESSION_WARNING_WINDOW: Warning window before idle expiry (default: 10m)
//   - SESSION_TICK_INTERVAL: Periodic evaluation interval (default: 60s)
//   - SESSION_ACTIVITY_THROTTLE: Minimum gap between activity writes (default: 1s)
func NewSessionConfigFromEnv() SessionConfig {
	d := DefaultSessionConfig()
	return SessionConfig{
		IdleTimeout:      GetEnvDuration("SESSION_IDLE_TIMEOUT", d.IdleTimeout),
		AbsoluteTimeout:  GetEnvDuration("SESSION_ABSOLUTE_TIMEOUT", d.AbsoluteTimeout),
		WarningWindow:    GetEnvDuration("SESSION_WARNING_WINDOW", d.WarningWindow),
		TickInterval:     GetEnvDuration("SESSION_TICK_INTERVAL", d.TickInterval),
		ActivityThrottle: GetEnvDuration("SESSION_ACTIVITY_THROTTLE", d.ActivityThrottle),
	}
}

// Validate checks the session configuration for consistency
func (c SessionConfig) Validate() ValidationErrors {
	return CollectErrors(
		RequirePositiveDuration("SESSION_IDLE_TIMEOUT", c.IdleTimeout),
		RequirePositiveDuration("SESSION_ABSOLUTE_TIMEOUT", c.AbsoluteTimeout),
		RequireNonNegativeDuration("SESSION_WARNING_WINDOW", c.WarningWindow),
		RequireShorterThan("SESSION_WARNING_WINDOW", c.WarningWindow, c.IdleTimeout),
		RequirePositiveDuration("SESSION_TICK_INTERVAL", c.TickInterval),
		RequireNonNegativeDuration("SESSION_ACTIVITY_THROTTLE", c.ActivityThrottle),
	)
}
