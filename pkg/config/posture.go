package config

import "time"

// PostureConfig contains security posture and suspicious-activity settings.
type PostureConfig struct {
	// RequiredHeaders must all be present on responses for the headers signal to pass
	RequiredHeaders []string

	// SuspiciousThreshold console-access reports inside SuspiciousWindow flag the tab
	SuspiciousThreshold int
	SuspiciousWindow    time.Duration

	// ConnectivityProbeURL is polled when set; empty disables probing
	ConnectivityProbeURL      string
	ConnectivityProbeInterval time.Duration
}

// DefaultPostureConfig returns a PostureConfig with sensible defaults
func DefaultPostureConfig() PostureConfig {
	return PostureConfig{
		RequiredHeaders: []string{
			"Content-Security-Policy",
			"Strict-Transport-Security",
			"X-Content-Type-Options",
			"X-Frame-Options",
			"Referrer-Policy",
		},
		SuspiciousThreshold:       3,
		SuspiciousWindow:          time.Minute,
		ConnectivityProbeInterval: 30 * time.Second,
	}
}

// NewPostureConfigFromEnv loads PostureConfig from standard environment variables.
//
// Environment variables:
//   - POSTURE_REQUIRED_HEADERS: Comma separated header names
//   - POSTURE_SUSPICIOUS_THRESHOLD: Console reports that flag a tab (default: 3)
//   - POSTURE_SUSPICIOUS_WINDOW: Window for the threshold (default: 1m)
//   - CONNECTIVITY_PROBE_URL: URL probed for connectivity (default: disabled)
//   - CONNECTIVITY_PROBE_INTERVAL: Probe cadence (default: 30s)
func NewPostureConfigFromEnv() PostureConfig {
	d := DefaultPostureConfig()
	return PostureConfig{
		RequiredHeaders:           GetEnvSlice("POSTURE_REQUIRED_HEADERS", d.RequiredHeaders),
		SuspiciousThreshold:       GetEnvInt("POSTURE_SUSPICIOUS_THRESHOLD", d.SuspiciousThreshold),
		SuspiciousWindow:          GetEnvDuration("POSTURE_SUSPICIOUS_WINDOW", d.SuspiciousWindow),
		ConnectivityProbeURL:      GetEnvOrDefault("CONNECTIVITY_PROBE_URL", ""),
		ConnectivityProbeInterval: GetEnvDuration("CONNECTIVITY_PROBE_INTERVAL", d.ConnectivityProbeInterval),
	}
}

// Validate checks the posture configuration
func (c PostureConfig) Validate() ValidationErrors {
	return CollectErrors(
		RequirePositive("POSTURE_SUSPICIOUS_THRESHOLD", c.SuspiciousThreshold),
		RequirePositiveDuration("POSTURE_SUSPICIOUS_WINDOW", c.SuspiciousWindow),
		WhenSet(c.ConnectivityProbeURL, func() *ValidationError {
			return RequireValidURL("CONNECTIVITY_PROBE_URL", c.ConnectivityProbeURL)
		}),
		WhenSet(c.ConnectivityProbeURL, func() *ValidationError {
			return RequirePositiveDuration("CONNECTIVITY_PROBE_INTERVAL", c.ConnectivityProbeInterval)
		}),
	)
}
