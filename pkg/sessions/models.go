package sessions

import (
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle status of a session
type Status string

const (
	StatusActive      Status = "active"
	StatusWarning     Status = "warning"
	StatusExpired     Status = "expired"
	StatusInvalidated Status = "invalidated"
)

// Valid reports whether a session in this status may still be used
func (s Status) Valid() bool {
	return s == StatusActive || s == StatusWarning
}

// Session represents one authenticated browser context
type Session struct {
	ID             uuid.UUID `json:"id"`
	SubjectID      string    `json:"subject_id"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	Status         Status    `json:"status"`
	AccessToken    string    `json:"-"`
}

// Info is the read model exposed to the surrounding application
type Info struct {
	IsValid           bool          `json:"is_valid"`
	TimeUntilExpiry   time.Duration `json:"time_until_expiry"`
	ShouldShowWarning bool          `json:"should_show_warning"`
}
