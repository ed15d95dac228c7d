package sessions

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var t0 = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

func TestCheck(t *testing.T) {
	th := DefaultThresholds()

	tests := []struct {
		name       string
		started    time.Duration // offset of StartedAt from now (negative = past)
		lastActive time.Duration
		status     Status
		reason     Reason
		remaining  time.Duration
	}{
		{name: "fresh", started: 0, lastActive: 0, status: StatusActive, remaining: 60 * time.Minute},
		{name: "just before warning", started: -49 * time.Minute, lastActive: -49 * time.Minute, status: StatusActive, remaining: 11 * time.Minute},
		{name: "warning boundary", started: -50 * time.Minute, lastActive: -50 * time.Minute, status: StatusWarning, remaining: 10 * time.Minute},
		{name: "idle boundary", started: -60 * time.Minute, lastActive: -60 * time.Minute, status: StatusExpired, reason: ReasonIdle},
		{name: "idle 61 minutes", started: -61 * time.Minute, lastActive: -61 * time.Minute, status: StatusExpired, reason: ReasonIdle},
		{name: "absolute boundary", started: -8 * time.Hour, lastActive: -time.Minute, status: StatusExpired, reason: ReasonAbsolute},
		{name: "absolute wins tie", started: -8 * time.Hour, lastActive: -2 * time.Hour, status: StatusExpired, reason: ReasonAbsolute},
		{name: "absolute caps remaining", started: -8*time.Hour + 5*time.Minute, lastActive: 0, status: StatusActive, remaining: 5 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Session{
				StartedAt:      t0.Add(tt.started),
				LastActivityAt: t0.Add(tt.lastActive),
				Status:         StatusActive,
			}
			v := Check(t0, s, th)
			assert.Equal(t, tt.status, v.Status)
			assert.Equal(t, tt.reason, v.Reason)
			assert.Equal(t, tt.remaining, v.TimeUntilExpiry)
			assert.Equal(t, tt.status, Evaluate(t0, s, th))
		})
	}
}

func TestCheck_InvalidatedIsSticky(t *testing.T) {
	s := Session{StartedAt: t0, LastActivityAt: t0, Status: StatusInvalidated}
	v := Check(t0, s, DefaultThresholds())
	assert.Equal(t, StatusInvalidated, v.Status)
	assert.Equal(t, ReasonInvalidated, v.Reason)
}

// Expired iff idle or absolute threshold crossed; Warning iff not expired and
// the idle remainder is within the warning window.
func TestCheck_Properties(t *testing.T) {
	thresholds := []Thresholds{
		DefaultThresholds(),
		{Idle: 15 * time.Minute, Absolute: time.Hour, Warning: 2 * time.Minute},
		{Idle: time.Minute, Absolute: 90 * time.Second, Warning: 0},
	}

	for _, th := range thresholds {
		for age := time.Duration(0); age <= th.Absolute+th.Idle; age += th.Idle / 7 {
			for idle := time.Duration(0); idle <= age; idle += th.Idle / 5 {
				s := Session{StartedAt: t0.Add(-age), LastActivityAt: t0.Add(-idle), Status: StatusActive}
				got := Evaluate(t0, s, th)

				expired := idle >= th.Idle || age >= th.Absolute
				warning := !expired && th.Idle-idle <= th.Warning
				switch {
				case expired:
					assert.Equal(t, StatusExpired, got, "age=%v idle=%v", age, idle)
				case warning:
					assert.Equal(t, StatusWarning, got, "age=%v idle=%v", age, idle)
				default:
					assert.Equal(t, StatusActive, got, "age=%v idle=%v", age, idle)
				}
			}
		}
	}
}
