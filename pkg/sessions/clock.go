package sessions

import (
	"time"

	"github.com/google/uuid"
)

// Thresholds configures session expiry
type Thresholds struct {
	Idle     time.Duration // maximum gap since last activity
	Absolute time.Duration // maximum session lifetime
	Warning  time.Duration // window before idle expiry reported as warning
}

// DefaultThresholds returns 60 minutes idle, 8 hours absolute and a 10 minute warning
func DefaultThresholds() Thresholds {
	return Thresholds{
		Idle:     60 * time.Minute,
		Absolute: 8 * time.Hour,
		Warning:  10 * time.Minute,
	}
}

// Reason explains why a session is not active
type Reason string

const (
	ReasonNone        Reason = ""
	ReasonIdle        Reason = "idle"
	ReasonAbsolute    Reason = "absolute"
	ReasonInvalidated Reason = "invalidated"
)

// Verdict is the outcome of one evaluation
type Verdict struct {
	SessionID       uuid.UUID
	SubjectID       string
	Status          Status
	Reason          Reason
	TimeUntilExpiry time.Duration
}

// Evaluate returns the status of s at now
func Evaluate(now time.Time, s Session, th Thresholds) Status {
	return Check(now, s, th).Status
}

// Check evaluates s against the thresholds. It has no side effects.
// When both thresholds are crossed the absolute one is reported.
// An invalidated session stays invalidated.
func Check(now time.Time, s Session, th Thresholds) Verdict {
	v := Verdict{SessionID: s.ID, SubjectID: s.SubjectID}

	if s.Status == StatusInvalidated {
		v.Status = StatusInvalidated
		v.Reason = ReasonInvalidated
		return v
	}

	idle := now.Sub(s.LastActivityAt)
	age := now.Sub(s.StartedAt)

	switch {
	case age >= th.Absolute:
		v.Status = StatusExpired
		v.Reason = ReasonAbsolute
		return v
	case idle >= th.Idle:
		v.Status = StatusExpired
		v.Reason = ReasonIdle
		return v
	}

	idleLeft := th.Idle - idle
	v.TimeUntilExpiry = idleLeft
	if absLeft := th.Absolute - age; absLeft < v.TimeUntilExpiry {
		v.TimeUntilExpiry = absLeft
	}

	if idleLeft <= th.Warning {
		v.Status = StatusWarning
	} else {
		v.Status = StatusActive
	}
	return v
}
