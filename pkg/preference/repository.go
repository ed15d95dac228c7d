package preference

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no preference is stored for a subject
var ErrNotFound = errors.New("mfa preference not found")

// Preference records whether a subject opted into MFA and whether the
// optional prompt has been shown.
type Preference struct {
	SubjectID    string    `json:"subject_id"`
	PromptedOnce bool      `json:"prompted_once"`
	OptedIn      bool      `json:"opted_in"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Repository persists MFA preferences
type Repository interface {
	// Get returns ErrNotFound when nothing is stored
	Get(ctx context.Context, subjectID string) (Preference, error)

	// RecordPrompt sets PromptedOnce and OptedIn unless the subject was already
	// prompted. The returned bool is true only when this call recorded the choice.
	RecordPrompt(ctx context.Context, subjectID string, optedIn bool, at time.Time) (Preference, bool, error)

	// SetOptedIn updates OptedIn and leaves PromptedOnce untouched
	SetOptedIn(ctx context.Context, subjectID string, optedIn bool, at time.Time) (Preference, error)
}
