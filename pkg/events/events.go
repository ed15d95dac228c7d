package events

import (
	"time"

	"github.com/google/uuid"
)

// EventType names a security signal carried on the bus.
type EventType string

const (
	IdleExpired         EventType = "idle-expired"
	AbsoluteExpired     EventType = "absolute-expired"
	SuspiciousActivity  EventType = "suspicious-activity"
	ConnectivityChanged EventType = "connectivity-changed"
	ConsoleAccessed     EventType = "console-accessed"
	LoginSucceeded      EventType = "login-succeeded"
	SignedOut           EventType = "signed-out"
)

// Data keys used by publishers in this module.
const (
	DataOnline  = "online"
	DataReason  = "reason"
	DataSource  = "source"
	DataCount   = "count"
	DataOutcome = "outcome"
)

// Event is one published signal. SessionID is uuid.Nil when no session is live.
type Event struct {
	Type       EventType
	SessionID  uuid.UUID
	SubjectID  string
	OccurredAt time.Time
	Data       map[string]string
}

// IsExpiry reports whether the event ends a session on a timeout.
func (e Event) IsExpiry() bool {
	return e.Type == IdleExpired || e.Type == AbsoluteExpired
}

// Get returns a payload value or "".
func (e Event) Get(key string) string {
	if e.Data == nil {
		return ""
	}
	return e.Data[key]
}
