package config

import "time"

// AttemptLimitConfig contains rate limiting settings for credential and code attempts
// and for the per-IP HTTP limiter.
// Fields have no env tags - populate manually or use NewAttemptLimitConfigFromEnv() for standard env var names.
type AttemptLimitConfig struct {
	// Password submissions per email
	LoginMaxAttempts int
	LoginWindow      time.Duration

	// MFA code submissions per subject (challenge and setup are counted separately)
	MFAMaxAttempts int
	MFAWindow      time.Duration

	// Per-IP limit on credential routes of the HTTP surface
	HTTPEnabled     bool
	HTTPMaxRequests int
	HTTPWindow      time.Duration

	// BucketTTL is how long idle windows are kept in memory
	BucketTTL time.Duration

	// IncludeHeaders controls whether rate limit headers are included in responses
	IncludeHeaders bool
}

// DefaultAttemptLimitConfig returns an AttemptLimitConfig with sensible defaults
func DefaultAttemptLimitConfig() AttemptLimitConfig {
	return AttemptLimitConfig{
		// 3 attempts per 5 minutes
		LoginMaxAttempts: 3,
		LoginWindow:      5 * time.Minute,
		MFAMaxAttempts:   3,
		MFAWindow:        5 * time.Minute,

		// 60 requests per minute per IP
		HTTPEnabled:     true,
		HTTPMaxRequests: 60,
		HTTPWindow:      time.Minute,

		BucketTTL:      time.Hour,
		IncludeHeaders: true,
	}
}

// NewAttemptLimitConfigFromEnv loads AttemptLimitConfig from standard environment variables.
// This is an optional convenience function - you can also populate the struct manually.
//
// Environment variables:
//   - LOGIN_MAX_ATTEMPTS: Password submissions allowed per window (default: 3)
//   - LOGIN_ATTEMPT_WINDOW: Password attempt window (default: 5m)
//   - MFA_MAX_ATTEMPTS: Code submissions allowed per window (default: 3)
//   - MFA_ATTEMPT_WINDOW: Code attempt window (default: 5m)
//   - RATELIMIT_HTTP_ENABLED: Enable per-IP limiting of credential routes (default: true)
//   - RATELIMIT_HTTP_MAX_REQUESTS: Requests allowed per IP per window (default: 60)
//   - RATELIMIT_HTTP_WINDOW: Per-IP window (default: 1m)
//   - RATELIMIT_BUCKET_TTL: Idle window retention (default: 1h)
//   - RATELIMIT_INCLUDE_HEADERS: Include rate limit headers in responses (default: true)
func NewAttemptLimitConfigFromEnv() AttemptLimitConfig {
	d := DefaultAttemptLimitConfig()
	return AttemptLimitConfig{
		LoginMaxAttempts: GetEnvInt("LOGIN_MAX_ATTEMPTS", d.LoginMaxAttempts),
		LoginWindow:      GetEnvDuration("LOGIN_ATTEMPT_WINDOW", d.LoginWindow),
		MFAMaxAttempts:   GetEnvInt("MFA_MAX_ATTEMPTS", d.MFAMaxAttempts),
		MFAWindow:        GetEnvDuration("MFA_ATTEMPT_WINDOW", d.MFAWindow),
		HTTPEnabled:      GetEnvBool("RATELIMIT_HTTP_ENABLED", d.HTTPEnabled),
		HTTPMaxRequests:  GetEnvInt("RATELIMIT_HTTP_MAX_REQUESTS", d.HTTPMaxRequests),
		HTTPWindow:       GetEnvDuration("RATELIMIT_HTTP_WINDOW", d.HTTPWindow),
		BucketTTL:        GetEnvDuration("RATELIMIT_BUCKET_TTL", d.BucketTTL),
		IncludeHeaders:   GetEnvBool("RATELIMIT_INCLUDE_HEADERS", d.IncludeHeaders),
	}
}

// Validate checks the limits are usable
func (c AttemptLimitConfig) Validate() ValidationErrors {
	return CollectErrors(
		RequirePositive("LOGIN_MAX_ATTEMPTS", c.LoginMaxAttempts),
		RequirePositiveDuration("LOGIN_ATTEMPT_WINDOW", c.LoginWindow),
		RequirePositive("MFA_MAX_ATTEMPTS", c.MFAMaxAttempts),
		RequirePositiveDuration("MFA_ATTEMPT_WINDOW", c.MFAWindow),
		RequirePositive("RATELIMIT_HTTP_MAX_REQUESTS", c.HTTPMaxRequests),
		RequirePositiveDuration("RATELIMIT_HTTP_WINDOW", c.HTTPWindow),
		RequireNonNegativeDuration("RATELIMIT_BUCKET_TTL", c.BucketTTL),
	)
}
