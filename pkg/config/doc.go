// Package config provides configuration utilities for simple-session.
//
// Each concern has a plain struct, a Default* constructor and an optional
// New*FromEnv loader using standard environment variable names:
//
//	sessCfg := config.NewSessionConfigFromEnv()
//	limits := config.NewAttemptLimitConfigFromEnv()
//	posture := config.NewPostureConfigFromEnv()
//
//	if err := config.Validate(sessCfg.Validate, limits.Validate, posture.Validate); err != nil {
//		log.Fatal(err)
//	}
//
// Validation helpers (RequirePositive, RequireValidURL, ...) return a
// *ValidationError or nil and are combined with CollectErrors.
package config
