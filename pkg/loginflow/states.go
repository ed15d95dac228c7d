package loginflow

import (
	"time"

	"github.com/tendant/simple-session/pkg/provider"
	"github.com/tendant/simple-session/pkg/sessions"
)

// State is a step of the sign-in flow
type State string

const (
	StateLoginForm         State = "login_form"
	StatePasswordChecking  State = "password_checking"
	StateNoMFAGrant        State = "no_mfa_grant"
	StateOptionalMFAPrompt State = "optional_mfa_prompt"
	StateMandatoryMFASetup State = "mandatory_mfa_setup"
	StateMFAChallenge      State = "mfa_challenge"
	StateGranted           State = "granted"
	StateAbandoned         State = "abandoned"
)

// Terminal reports whether the state ends a login attempt
func (s State) Terminal() bool {
	return s == StateGranted || s == StateAbandoned
}

// Outcome classifies a credential submission
type Outcome string

const (
	OutcomePasswordRejected            Outcome = "password_rejected"
	OutcomePasswordAcceptedNoMFA       Outcome = "password_accepted_no_mfa"
	OutcomePasswordAcceptedMFARequired Outcome = "password_accepted_mfa_required"
	OutcomeFirstLoginPrompt            Outcome = "password_accepted_first_login_prompt"
)

// Choice answers the optional MFA prompt
type Choice string

const (
	ChoiceEnable Choice = "enable"
	ChoiceSkip   Choice = "skip"
)

// Notices shown alongside a state
const (
	NoticeVerifyIdentity   = "Please verify your identity before signing in."
	NoticeChallengeRenewed = "The verification code expired. Enter a new code."
	NoticeSuspicious       = "Suspicious activity was detected. Sign out to continue."
	NoticeIdleExpired      = "Your session expired due to inactivity. Please sign in again."
	NoticeAbsoluteExpired  = "Your session reached its maximum duration. Please sign in again."
)

// Rate limiter actions
const (
	actionLogin        = "login"
	actionMFAChallenge = "mfa_challenge"
	actionMFASetup     = "mfa_setup"
)

// LoginAttempt is one sign-in form submission. The password is never kept.
type LoginAttempt struct {
	Email                  string
	CredentialsSubmittedAt time.Time
	Outcome                Outcome
	ChallengeID            string
	FactorID               string
	AuthenticatedSubject   string

	accessToken string
	enrollment  *provider.Enrollment
}

// EnrollmentView is what the user needs to finish TOTP setup
type EnrollmentView struct {
	FactorID string `json:"factor_id"`
	Secret   string `json:"secret"`
	URI      string `json:"uri"`
}

func enrollmentView(e *provider.Enrollment) *EnrollmentView {
	if e == nil || e.TOTP == nil {
		return nil
	}
	return &EnrollmentView{
		FactorID: e.Factor.ID,
		Secret:   e.TOTP.Secret,
		URI:      e.TOTP.URI,
	}
}

// Result is returned by every flow operation. State is always defined, also
// when an error is returned.
type Result struct {
	State      State             `json:"state"`
	Notice     string            `json:"notice,omitempty"`
	Enrollment *EnrollmentView   `json:"enrollment,omitempty"`
	Session    *sessions.Session `json:"session,omitempty"`
}

// Snapshot is a read-only view of the flow
type Snapshot struct {
	State       State             `json:"state"`
	Busy        bool              `json:"busy"`
	Locked      bool              `json:"locked"`
	Email       string            `json:"email,omitempty"`
	SubjectID   string            `json:"subject_id,omitempty"`
	Outcome     Outcome           `json:"outcome,omitempty"`
	ChallengeID string            `json:"challenge_id,omitempty"`
	Enrollment  *EnrollmentView   `json:"enrollment,omitempty"`
	Notice      string            `json:"notice,omitempty"`
	Session     *sessions.Session `json:"session,omitempty"`
}

func validCode(code string) bool {
	if len(code) != 6 {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}
