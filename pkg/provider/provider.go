package provider

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by IdentityProvider implementations. Callers
// classify failures with errors.Is; anything else is treated as transient.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidCode        = errors.New("invalid verification code")
	ErrChallengeExpired   = errors.New("challenge expired")
	ErrChallengeNotFound  = errors.New("challenge not found")
	ErrFactorNotFound     = errors.New("factor not found")
	ErrUnavailable        = errors.New("identity provider unavailable")
	ErrMisconfigured      = errors.New("identity provider misconfigured")
)

// PasswordResult is returned for accepted credentials
type PasswordResult struct {
	SubjectID      string
	EmailConfirmed bool
	AccessToken    string
}

// Challenge is a short-lived handle that must accompany a code
type Challenge struct {
	ID        string
	FactorID  string
	ExpiresAt time.Time
}

// Grant is the upgraded session issued after a verified code
type Grant struct {
	AccessToken string
	ExpiresAt   time.Time
}

// IdentityProvider is the external source of truth for credentials, factors
// and provider-side sessions.
type IdentityProvider interface {
	VerifyPassword(ctx context.Context, email, password string) (PasswordResult, error)
	ListFactors(ctx context.Context, subjectID string) ([]Factor, error)
	CreateFactor(ctx context.Context, subjectID string, kind FactorKind) (Enrollment, error)
	DeleteFactor(ctx context.Context, factorID string) error
	CreateChallenge(ctx context.Context, factorID string) (Challenge, error)
	VerifyChallenge(ctx context.Context, factorID, challengeID, code string) (Grant, error)
	SignOut(ctx context.Context, subjectID string) error
}
