// Package utils provides small shared helpers for simple-session.
//
// The Clock abstraction lets every timer-driven component (rate limiter, session
// clock, activity tracker, identity provider) read "now" from one place:
//
//	clock := utils.NewManualClock(time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC))
//	limiter := ratelimit.NewLimiter(3, 5*time.Minute, ratelimit.WithClock(clock))
//	clock.Advance(5 * time.Minute)
//
// Production code uses SystemClock, which reports UTC wall-clock time.
package utils
