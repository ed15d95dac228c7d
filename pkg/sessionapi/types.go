package sessionapi

import (
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-session/pkg/loginflow"
	"github.com/tendant/simple-session/pkg/posture"
	"github.com/tendant/simple-session/pkg/sessions"
)

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Code              string          `json:"code"`
	Error             string          `json:"error"`
	State             loginflow.State `json:"state,omitempty"`
	RetryAfterSeconds int             `json:"retry_after_seconds,omitempty"`
	// Retryable is set when the user can fix the request and try again
	Retryable bool `json:"retryable"`
}

// TabResponse is returned when a tab is opened
type TabResponse struct {
	TabID    uuid.UUID       `json:"tab_id"`
	OpenedAt time.Time       `json:"opened_at"`
	State    loginflow.State `json:"state"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type ChoiceRequest struct {
	Choice loginflow.Choice `json:"choice"`
}

type CodeRequest struct {
	Code string `json:"code"`
}

type ActivityRequest struct {
	Signal string `json:"signal"`
}

type VisibilityRequest struct {
	Visible bool `json:"visible"`
}

type ConnectivityRequest struct {
	Online bool `json:"online"`
}

type ConsoleRequest struct {
	Source string `json:"source"`
}

// SessionResponse reports the session of a tab
type SessionResponse struct {
	IsValid                bool              `json:"is_valid"`
	TimeUntilExpirySeconds int64             `json:"time_until_expiry_seconds"`
	ShouldShowWarning      bool              `json:"should_show_warning"`
	Session                *sessions.Session `json:"session,omitempty"`
}

// ActivityResponse reports whether a signal was recorded
type ActivityResponse struct {
	Recorded bool `json:"recorded"`
}

// ConnectivityResponse reports the connectivity state after an update
type ConnectivityResponse struct {
	Online  bool `json:"online"`
	Changed bool `json:"changed"`
}

// PostureResponse is the security posture of a tab
type PostureResponse struct {
	Score          int             `json:"score"`
	Level          posture.Level   `json:"level"`
	Signals        posture.Signals `json:"signals"`
	MissingHeaders []string        `json:"missing_headers,omitempty"`
}
