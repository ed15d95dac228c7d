package loginflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/tendant/simple-session/pkg/errors"
	"github.com/tendant/simple-session/pkg/events"
	"github.com/tendant/simple-session/pkg/preference"
	"github.com/tendant/simple-session/pkg/provider"
	"github.com/tendant/simple-session/pkg/ratelimit"
	"github.com/tendant/simple-session/pkg/sessions"
	"github.com/tendant/simple-session/pkg/utils"
)

const (
	defaultMaxAttempts = 3
	defaultWindow      = 5 * time.Minute
)

// Watchers are the session watchers armed while a session is granted
type Watchers interface {
	Start()
	Stop()
}

type noopWatchers struct{}

func (noopWatchers) Start() {}
func (noopWatchers) Stop()  {}

// TransitionObserver is notified of every state change, outside the flow lock
type TransitionObserver func(from, to State)

// Dependencies wires an Orchestrator. Provider, Preferences and Sessions are
// required.
type Dependencies struct {
	Provider     provider.IdentityProvider
	Preferences  *preference.Service
	Sessions     *sessions.Manager
	Bus          *events.Bus
	LoginLimiter *ratelimit.Limiter
	MFALimiter   *ratelimit.Limiter
	Watchers     Watchers
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithClock sets the orchestrator time source
func WithClock(c utils.Clock) Option {
	return func(o *Orchestrator) {
		o.clock = utils.OrSystem(c)
	}
}

// WithTransitionObserver registers an observer for state changes
func WithTransitionObserver(fn TransitionObserver) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.observers = append(o.observers, fn)
		}
	}
}

// Orchestrator drives the sign-in state machine of one tab.
//
// At most one provider call is in flight at a time. Operations arriving while
// a call is outstanding are rejected with VERIFICATION_IN_PROGRESS. Back,
// SignOut, session expiry and suspicious activity bump the generation so that
// responses of calls issued before them are discarded.
type Orchestrator struct {
	deps      Dependencies
	clock     utils.Clock
	observers []TransitionObserver

	mu         sync.Mutex
	state      State
	attempt    *LoginAttempt
	notice     string
	inFlight   bool
	generation uint64
	locked     bool
	closed     bool

	// expired is the last session whose expiry was handled
	expired uuid.UUID

	unsubscribe []func()
}

// effects are collected under the lock and applied after it is released
type effects struct {
	transitions   [][2]State
	signOut       string
	stopWatchers  bool
	startWatchers bool
	events        []events.Event
}

// NewOrchestrator creates an orchestrator in the login form state
func NewOrchestrator(deps Dependencies, opts ...Option) (*Orchestrator, error) {
	if deps.Provider == nil {
		return nil, fmt.Errorf("identity provider is required")
	}
	if deps.Preferences == nil {
		return nil, fmt.Errorf("preference service is required")
	}
	if deps.Sessions == nil {
		return nil, fmt.Errorf("session manager is required")
	}

	o := &Orchestrator{
		clock: utils.SystemClock{},
		state: StateLoginForm,
	}
	for _, opt := range opts {
		opt(o)
	}

	if deps.Bus == nil {
		deps.Bus = events.NewBus()
	}
	if deps.LoginLimiter == nil {
		deps.LoginLimiter = ratelimit.NewLimiter(defaultMaxAttempts, defaultWindow, ratelimit.WithClock(o.clock))
	}
	if deps.MFALimiter == nil {
		deps.MFALimiter = ratelimit.NewLimiter(defaultMaxAttempts, defaultWindow, ratelimit.WithClock(o.clock))
	}
	if deps.Watchers == nil {
		deps.Watchers = noopWatchers{}
	}
	o.deps = deps

	o.unsubscribe = []func(){
		deps.Bus.Subscribe(events.IdleExpired, o.onExpired),
		deps.Bus.Subscribe(events.AbsoluteExpired, o.onExpired),
		deps.Bus.Subscribe(events.SuspiciousActivity, o.onSuspicious),
	}
	return o, nil
}

// State returns the current state
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Snapshot returns a read-only view of the flow
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	snap := Snapshot{
		State:  o.state,
		Busy:   o.inFlight,
		Locked: o.locked,
		Notice: o.notice,
	}
	if a := o.attempt; a != nil {
		snap.Email = a.Email
		snap.SubjectID = a.AuthenticatedSubject
		snap.Outcome = a.Outcome
		snap.ChallengeID = a.ChallengeID
		snap.Enrollment = enrollmentView(a.enrollment)
	}
	if o.state == StateGranted {
		if s, ok := o.deps.Sessions.Current(); ok {
			snap.Session = &s
			snap.SubjectID = s.SubjectID
		}
	}
	return snap
}

// SessionInfo reports the validity of the granted session
func (o *Orchestrator) SessionInfo() sessions.Info {
	return o.deps.Sessions.Info()
}

// UpdateActivity records user activity on the granted session
func (o *Orchestrator) UpdateActivity() bool {
	return o.deps.Sessions.UpdateActivity()
}

// Submit checks the credentials of the login form
func (o *Orchestrator) Submit(ctx context.Context, email, password string) (Result, error) {
	email = strings.TrimSpace(email)
	fx := &effects{}

	o.mu.Lock()
	if err := o.admit("submit", StateLoginForm, StateAbandoned); err != nil {
		return o.reject(err)
	}
	if email == "" || password == "" {
		return o.reject(apperrors.InvalidInput("credentials", "email and password are required"))
	}
	if o.state == StateAbandoned {
		o.moveTo(fx, StateLoginForm)
	}
	o.notice = ""

	key := ratelimit.Key(actionLogin, strings.ToLower(email))
	if !o.deps.LoginLimiter.Attempt(key) {
		slog.Warn("Login attempts exhausted", "email", email)
		return o.finish(ctx, fx, rateLimited(o.deps.LoginLimiter.RetryAfter(key)))
	}

	o.attempt = &LoginAttempt{Email: email, CredentialsSubmittedAt: o.clock.Now()}
	o.moveTo(fx, StatePasswordChecking)
	gen := o.beginCall()
	o.mu.Unlock()
	o.apply(ctx, fx)

	res, err := o.deps.Provider.VerifyPassword(ctx, email, password)

	fx = &effects{}
	o.mu.Lock()
	if o.isStale(gen) {
		if err == nil {
			o.staleSignOut(fx, res.SubjectID)
		}
		return o.finish(ctx, fx, errAbandoned())
	}
	if err != nil {
		if errors.Is(err, provider.ErrInvalidCredentials) {
			o.attempt.Outcome = OutcomePasswordRejected
			slog.Info("Password rejected", "email", email)
		} else {
			slog.Error("Password verification failed", "email", email, "err", err)
		}
		o.endAttempt(fx)
		return o.finish(ctx, fx, classify(err))
	}

	o.attempt.AuthenticatedSubject = res.SubjectID
	o.attempt.accessToken = res.AccessToken
	if !res.EmailConfirmed {
		slog.Info("Email not confirmed", "subject_id", res.SubjectID)
		fx.signOut = res.SubjectID
		o.attempt = nil
		o.inFlight = false
		o.moveTo(fx, StateAbandoned)
		o.notice = NoticeVerifyIdentity
		return o.finish(ctx, fx, apperrors.New(apperrors.ErrCodeEmailNotVerified, NoticeVerifyIdentity))
	}
	o.mu.Unlock()

	return o.route(ctx, gen, res.SubjectID)
}

// route picks the path after accepted credentials
func (o *Orchestrator) route(ctx context.Context, gen uint64, subjectID string) (Result, error) {
	factors, err := o.deps.Provider.ListFactors(ctx, subjectID)
	var pref preference.Preference
	if err == nil {
		pref, err = o.deps.Preferences.Load(ctx, subjectID)
		if err != nil {
			err = apperrors.Internal("failed to load MFA preference", err)
		}
	}

	fx := &effects{}
	o.mu.Lock()
	if o.isStale(gen) {
		o.staleSignOut(fx, subjectID)
		return o.finish(ctx, fx, errAbandoned())
	}
	if err != nil {
		slog.Error("Failed to resolve MFA requirement", "subject_id", subjectID, "err", err)
		o.endAttempt(fx)
		return o.finish(ctx, fx, classify(err))
	}

	if factor, ok := (provider.EnrollmentState{Factors: factors}).VerifiedFactor(); ok {
		o.attempt.Outcome = OutcomePasswordAcceptedMFARequired
		o.attempt.FactorID = factor.ID
		o.mu.Unlock()
		return o.openChallenge(ctx, gen, subjectID, factor.ID)
	}

	switch {
	case !pref.PromptedOnce:
		o.attempt.Outcome = OutcomeFirstLoginPrompt
		o.inFlight = false
		o.moveTo(fx, StateOptionalMFAPrompt)
		return o.finish(ctx, fx, nil)
	case pref.OptedIn:
		o.attempt.Outcome = OutcomePasswordAcceptedMFARequired
		o.moveTo(fx, StateMandatoryMFASetup)
		o.mu.Unlock()
		o.apply(ctx, fx)
		return o.enroll(ctx, gen, subjectID)
	default:
		o.attempt.Outcome = OutcomePasswordAcceptedNoMFA
		o.inFlight = false
		o.moveTo(fx, StateNoMFAGrant)
		o.grant(fx, o.attempt.accessToken)
		return o.finish(ctx, fx, nil)
	}
}

// openChallenge issues the first challenge for a verified factor
func (o *Orchestrator) openChallenge(ctx context.Context, gen uint64, subjectID, factorID string) (Result, error) {
	ch, err := o.deps.Provider.CreateChallenge(ctx, factorID)

	fx := &effects{}
	o.mu.Lock()
	if o.isStale(gen) {
		o.staleSignOut(fx, subjectID)
		return o.finish(ctx, fx, errAbandoned())
	}
	if err != nil {
		slog.Error("Failed to create challenge", "subject_id", subjectID, "factor_id", factorID, "err", err)
		o.endAttempt(fx)
		return o.finish(ctx, fx, classify(err))
	}

	o.attempt.ChallengeID = ch.ID
	o.inFlight = false
	o.moveTo(fx, StateMFAChallenge)
	return o.finish(ctx, fx, nil)
}

// ChooseMFA answers the optional MFA prompt shown on first login
func (o *Orchestrator) ChooseMFA(ctx context.Context, choice Choice) (Result, error) {
	o.mu.Lock()
	if err := o.admit("choose_mfa", StateOptionalMFAPrompt); err != nil {
		return o.reject(err)
	}
	if choice != ChoiceEnable && choice != ChoiceSkip {
		return o.reject(apperrors.InvalidInput("choice", "must be enable or skip"))
	}
	subjectID := o.attempt.AuthenticatedSubject
	gen := o.beginCall()
	o.mu.Unlock()

	enable := choice == ChoiceEnable
	_, err := o.deps.Preferences.RecordPromptChoice(ctx, subjectID, enable)
	if err == nil && enable {
		// the first recorded answer may be a skip from another tab
		_, err = o.deps.Preferences.SetOptedIn(ctx, subjectID, true)
	}

	fx := &effects{}
	o.mu.Lock()
	if o.isStale(gen) {
		o.staleSignOut(fx, subjectID)
		return o.finish(ctx, fx, errAbandoned())
	}
	if err != nil {
		slog.Error("Failed to record MFA prompt choice", "subject_id", subjectID, "err", err)
		o.inFlight = false
		return o.finish(ctx, fx, apperrors.Internal("failed to record MFA choice", err))
	}

	if !enable {
		o.inFlight = false
		o.moveTo(fx, StateNoMFAGrant)
		o.grant(fx, o.attempt.accessToken)
		return o.finish(ctx, fx, nil)
	}
	o.moveTo(fx, StateMandatoryMFASetup)
	o.mu.Unlock()
	o.apply(ctx, fx)
	return o.enroll(ctx, gen, subjectID)
}

// BeginSetup starts TOTP enrollment again, replacing any pending factor
func (o *Orchestrator) BeginSetup(ctx context.Context) (Result, error) {
	o.mu.Lock()
	if err := o.admit("begin_setup", StateMandatoryMFASetup); err != nil {
		return o.reject(err)
	}
	subjectID := o.attempt.AuthenticatedSubject
	gen := o.beginCall()
	o.mu.Unlock()

	return o.enroll(ctx, gen, subjectID)
}

// enroll reclaims abandoned unverified factors and creates a new TOTP factor.
// Called with the flow in MandatoryMFASetup and a call in flight.
func (o *Orchestrator) enroll(ctx context.Context, gen uint64, subjectID string) (Result, error) {
	var enrollment provider.Enrollment
	err := o.reclaimUnverified(ctx, subjectID)
	if err == nil && !o.stillCurrent(gen) {
		err = errAbandoned()
	}
	if err == nil {
		enrollment, err = o.deps.Provider.CreateFactor(ctx, subjectID, provider.FactorTOTP)
		if err == nil {
			if verr := enrollment.Validate(); verr != nil {
				err = fmt.Errorf("%w: %v", provider.ErrUnavailable, verr)
			}
		}
	}

	fx := &effects{}
	o.mu.Lock()
	if o.isStale(gen) {
		o.staleSignOut(fx, subjectID)
		return o.finish(ctx, fx, errAbandoned())
	}
	o.inFlight = false
	o.attempt.enrollment = nil
	o.attempt.FactorID = ""
	o.attempt.ChallengeID = ""
	if err != nil {
		if errors.Is(err, provider.ErrMisconfigured) {
			slog.Error("MFA enrollment is misconfigured", "subject_id", subjectID, "err", err)
			o.endAttempt(fx)
		} else {
			slog.Warn("MFA enrollment failed", "subject_id", subjectID, "err", err)
		}
		return o.finish(ctx, fx, classify(err))
	}

	o.attempt.enrollment = &enrollment
	o.attempt.FactorID = enrollment.Factor.ID
	slog.Info("TOTP factor enrolled", "subject_id", subjectID, "factor_id", enrollment.Factor.ID)
	return o.finish(ctx, fx, nil)
}

func (o *Orchestrator) reclaimUnverified(ctx context.Context, subjectID string) error {
	factors, err := o.deps.Provider.ListFactors(ctx, subjectID)
	if err != nil {
		return err
	}
	for _, f := range (provider.EnrollmentState{Factors: factors}).Unverified(provider.FactorTOTP) {
		if err := o.deps.Provider.DeleteFactor(ctx, f.ID); err != nil && !errors.Is(err, provider.ErrFactorNotFound) {
			return err
		}
		slog.Info("Reclaimed unverified factor", "subject_id", subjectID, "factor_id", f.ID)
	}
	return nil
}

// VerifySetup confirms the enrolled factor with a code from the authenticator
func (o *Orchestrator) VerifySetup(ctx context.Context, code string) (Result, error) {
	code = strings.TrimSpace(code)

	o.mu.Lock()
	if err := o.admit("verify_setup", StateMandatoryMFASetup); err != nil {
		return o.reject(err)
	}
	if o.attempt.enrollment == nil {
		return o.reject(apperrors.New(apperrors.ErrCodeInvalidState, "no factor enrollment in progress, begin setup again"))
	}
	subjectID := o.attempt.AuthenticatedSubject
	if err := o.countCode(actionMFASetup, subjectID, code); err != nil {
		return o.reject(err)
	}
	factorID, challengeID := o.attempt.FactorID, o.attempt.ChallengeID
	o.notice = ""
	gen := o.beginCall()
	o.mu.Unlock()

	if challengeID == "" {
		ch, err := o.deps.Provider.CreateChallenge(ctx, factorID)
		if err != nil {
			return o.codeFailed(ctx, gen, subjectID, err)
		}
		challengeID = ch.ID
		o.mu.Lock()
		if !o.isStale(gen) {
			o.attempt.ChallengeID = ch.ID
		}
		o.mu.Unlock()
	}

	grant, err := o.deps.Provider.VerifyChallenge(ctx, factorID, challengeID, code)
	if err != nil {
		if expiredChallenge(err) {
			o.mu.Lock()
			if !o.isStale(gen) {
				o.attempt.ChallengeID = ""
				o.notice = NoticeChallengeRenewed
			}
			o.mu.Unlock()
		}
		return o.codeFailed(ctx, gen, subjectID, err)
	}
	return o.codeAccepted(ctx, gen, subjectID, grant)
}

// VerifyChallenge answers the MFA challenge of an enrolled subject
func (o *Orchestrator) VerifyChallenge(ctx context.Context, code string) (Result, error) {
	code = strings.TrimSpace(code)

	o.mu.Lock()
	if err := o.admit("verify_challenge", StateMFAChallenge); err != nil {
		return o.reject(err)
	}
	subjectID := o.attempt.AuthenticatedSubject
	if err := o.countCode(actionMFAChallenge, subjectID, code); err != nil {
		return o.reject(err)
	}
	factorID, challengeID := o.attempt.FactorID, o.attempt.ChallengeID
	o.notice = ""
	gen := o.beginCall()
	o.mu.Unlock()

	if challengeID == "" {
		ch, err := o.deps.Provider.CreateChallenge(ctx, factorID)
		if err != nil {
			return o.codeFailed(ctx, gen, subjectID, err)
		}
		challengeID = ch.ID
	}

	grant, err := o.deps.Provider.VerifyChallenge(ctx, factorID, challengeID, code)
	if err == nil {
		return o.codeAccepted(ctx, gen, subjectID, grant)
	}
	if !expiredChallenge(err) {
		return o.codeFailed(ctx, gen, subjectID, err)
	}

	slog.Info("Challenge expired, issuing a new one", "subject_id", subjectID, "factor_id", factorID)
	ch, cerr := o.deps.Provider.CreateChallenge(ctx, factorID)
	if cerr != nil {
		return o.codeFailed(ctx, gen, subjectID, cerr)
	}

	fx := &effects{}
	o.mu.Lock()
	if o.isStale(gen) {
		return o.finish(ctx, fx, errAbandoned())
	}
	o.inFlight = false
	o.attempt.ChallengeID = ch.ID
	o.notice = NoticeChallengeRenewed
	return o.finish(ctx, fx, classify(err))
}

// codeFailed settles a failed code verification. Configuration errors end the
// attempt; anything else leaves the user on the same step.
func (o *Orchestrator) codeFailed(ctx context.Context, gen uint64, subjectID string, err error) (Result, error) {
	fx := &effects{}
	o.mu.Lock()
	if o.isStale(gen) {
		return o.finish(ctx, fx, errAbandoned())
	}
	o.inFlight = false
	switch {
	case errors.Is(err, provider.ErrMisconfigured):
		slog.Error("MFA is misconfigured", "subject_id", subjectID, "err", err)
		o.endAttempt(fx)
	case errors.Is(err, provider.ErrInvalidCode):
		slog.Info("Invalid verification code", "subject_id", subjectID)
	case expiredChallenge(err):
		o.attempt.ChallengeID = ""
		o.notice = NoticeChallengeRenewed
	default:
		slog.Warn("Code verification failed", "subject_id", subjectID, "err", err)
	}
	return o.finish(ctx, fx, classify(err))
}

func (o *Orchestrator) codeAccepted(ctx context.Context, gen uint64, subjectID string, grant provider.Grant) (Result, error) {
	fx := &effects{}
	o.mu.Lock()
	if o.isStale(gen) {
		o.staleSignOut(fx, subjectID)
		return o.finish(ctx, fx, errAbandoned())
	}
	o.inFlight = false
	o.grant(fx, grant.AccessToken)
	return o.finish(ctx, fx, nil)
}

// Back cancels the current login attempt and returns to the login form.
// Responses still in flight are discarded.
func (o *Orchestrator) Back(ctx context.Context) (Result, error) {
	o.mu.Lock()
	if o.closed {
		return o.reject(apperrors.InvalidState("back", "closed"))
	}
	if o.locked {
		return o.reject(errLocked())
	}
	switch o.state {
	case StateLoginForm, StateAbandoned:
		return o.reject(nil)
	case StateGranted:
		return o.reject(apperrors.InvalidState("back", string(o.state)))
	}

	fx := &effects{}
	slog.Info("Login attempt abandoned", "state", o.state)
	o.abandon(fx)
	o.moveTo(fx, StateLoginForm)
	return o.finish(ctx, fx, nil)
}

// SignOut ends the granted session, or cancels the attempt in progress.
// It is accepted in every state, including after suspicious activity.
func (o *Orchestrator) SignOut(ctx context.Context) (Result, error) {
	o.mu.Lock()
	if o.closed {
		return o.reject(apperrors.InvalidState("sign_out", "closed"))
	}

	fx := &effects{}
	o.locked = false
	ev := events.Event{
		Type:       events.SignedOut,
		OccurredAt: o.clock.Now(),
		Data:       map[string]string{events.DataReason: "user"},
	}

	if o.state == StateGranted {
		o.generation++
		o.inFlight = false
		if s, ok := o.deps.Sessions.Current(); ok {
			fx.signOut = s.SubjectID
			ev.SessionID = s.ID
			ev.SubjectID = s.SubjectID
		}
		o.deps.Sessions.Clear()
		fx.stopWatchers = true
	} else if o.state != StateLoginForm && o.state != StateAbandoned {
		if o.attempt != nil {
			ev.SubjectID = o.attempt.AuthenticatedSubject
		}
		o.abandon(fx)
	}

	o.moveTo(fx, StateLoginForm)
	o.notice = ""
	fx.events = append(fx.events, ev)
	slog.Info("Signed out", "subject_id", ev.SubjectID)
	return o.finish(ctx, fx, nil)
}

// Close detaches the orchestrator from the bus and stops the watchers.
// A subject that passed the password check without being granted is signed
// out at the provider. A granted session is left to expire.
// Operations after Close fail with INVALID_STATE.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.generation++
	o.inFlight = false

	fx := &effects{stopWatchers: true}
	if o.state != StateGranted && o.attempt != nil && o.attempt.AuthenticatedSubject != "" {
		fx.signOut = o.attempt.AuthenticatedSubject
		slog.Info("Signing out unfinished login on close", "subject_id", fx.signOut, "state", o.state)
	}
	o.attempt = nil
	unsubscribe := o.unsubscribe
	o.unsubscribe = nil
	o.mu.Unlock()

	for _, fn := range unsubscribe {
		fn()
	}
	o.apply(context.Background(), fx)
}

func (o *Orchestrator) onExpired(e events.Event) {
	o.mu.Lock()
	if o.closed || o.state != StateGranted || e.SessionID == o.expired {
		o.mu.Unlock()
		return
	}
	s, ok := o.deps.Sessions.Current()
	if !ok || s.ID != e.SessionID {
		o.mu.Unlock()
		return
	}

	fx := &effects{}
	o.expired = s.ID
	o.generation++
	o.inFlight = false
	o.deps.Sessions.Clear()
	fx.stopWatchers = true
	fx.signOut = s.SubjectID

	reason := "idle"
	o.notice = NoticeIdleExpired
	if e.Type == events.AbsoluteExpired {
		reason = "absolute"
		o.notice = NoticeAbsoluteExpired
	}
	o.moveTo(fx, StateLoginForm)
	fx.events = append(fx.events, events.Event{
		Type:       events.SignedOut,
		SessionID:  s.ID,
		SubjectID:  s.SubjectID,
		OccurredAt: o.clock.Now(),
		Data:       map[string]string{events.DataReason: reason},
	})
	slog.Info("Session expired, signing out", "session_id", s.ID, "subject_id", s.SubjectID, "reason", reason)
	o.mu.Unlock()

	o.apply(context.Background(), fx)
}

func (o *Orchestrator) onSuspicious(e events.Event) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return
	}
	o.locked = true
	o.generation++
	o.inFlight = false
	o.notice = NoticeSuspicious
	slog.Warn("Suspicious activity, flow locked", "state", o.state, "reason", e.Get(events.DataReason))
}

// admit checks that an operation may start. Must hold o.mu.
func (o *Orchestrator) admit(op string, allowed ...State) error {
	if o.closed {
		return apperrors.InvalidState(op, "closed")
	}
	if o.locked {
		return errLocked()
	}
	if o.inFlight {
		return apperrors.New(apperrors.ErrCodeVerificationInProgress, "a verification is already in progress")
	}
	for _, s := range allowed {
		if o.state == s {
			return nil
		}
	}
	return apperrors.InvalidState(op, string(o.state))
}

// beginCall marks a provider call in flight and returns its generation. Must hold o.mu.
func (o *Orchestrator) beginCall() uint64 {
	o.inFlight = true
	return o.generation
}

// isStale reports whether a call of generation gen was cancelled. Must hold o.mu.
func (o *Orchestrator) isStale(gen uint64) bool {
	return o.closed || gen != o.generation || o.attempt == nil
}

func (o *Orchestrator) stillCurrent(gen uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return !o.isStale(gen)
}

// staleSignOut revokes a provider session created by a discarded call,
// unless the subject is signed in again through the current flow. Must hold o.mu.
func (o *Orchestrator) staleSignOut(fx *effects, subjectID string) {
	if subjectID == "" {
		return
	}
	if o.attempt != nil && o.attempt.AuthenticatedSubject == subjectID {
		return
	}
	if s, ok := o.deps.Sessions.Current(); ok && s.SubjectID == subjectID {
		return
	}
	fx.signOut = subjectID
}

// endAttempt drops the attempt and returns to the login form, signing the
// subject out at the provider when it was authenticated. Must hold o.mu.
func (o *Orchestrator) endAttempt(fx *effects) {
	if o.attempt != nil && o.attempt.AuthenticatedSubject != "" {
		fx.signOut = o.attempt.AuthenticatedSubject
	}
	o.attempt = nil
	o.inFlight = false
	o.moveTo(fx, StateLoginForm)
}

// abandon cancels the attempt and any call in flight. Must hold o.mu.
func (o *Orchestrator) abandon(fx *effects) {
	o.generation++
	o.inFlight = false
	if o.attempt != nil && o.attempt.AuthenticatedSubject != "" {
		fx.signOut = o.attempt.AuthenticatedSubject
	}
	o.attempt = nil
	o.notice = ""
	o.moveTo(fx, StateAbandoned)
}

// grant opens the session for the authenticated subject. Must hold o.mu.
func (o *Orchestrator) grant(fx *effects, accessToken string) {
	a := o.attempt
	o.moveTo(fx, StateGranted)

	s := o.deps.Sessions.Start(a.AuthenticatedSubject, accessToken)
	o.deps.LoginLimiter.Reset(ratelimit.Key(actionLogin, strings.ToLower(a.Email)))
	o.deps.MFALimiter.Reset(ratelimit.Key(actionMFAChallenge, a.AuthenticatedSubject))
	o.deps.MFALimiter.Reset(ratelimit.Key(actionMFASetup, a.AuthenticatedSubject))

	o.attempt = nil
	o.notice = ""
	fx.startWatchers = true
	fx.events = append(fx.events, events.Event{
		Type:       events.LoginSucceeded,
		SessionID:  s.ID,
		SubjectID:  s.SubjectID,
		OccurredAt: s.StartedAt,
		Data:       map[string]string{events.DataOutcome: string(a.Outcome)},
	})
	slog.Info("Login granted", "subject_id", s.SubjectID, "session_id", s.ID, "outcome", a.Outcome)
}

// countCode applies the MFA rate limit and the code format check. Malformed
// codes count as attempts. Must hold o.mu.
func (o *Orchestrator) countCode(action, subjectID, code string) error {
	key := ratelimit.Key(action, subjectID)
	if !o.deps.MFALimiter.Attempt(key) {
		slog.Warn("MFA attempts exhausted", "subject_id", subjectID, "action", action)
		return rateLimited(o.deps.MFALimiter.RetryAfter(key))
	}
	if !validCode(code) {
		return apperrors.New(apperrors.ErrCode2FAInvalid, "the code must be 6 digits")
	}
	return nil
}

// moveTo changes state and queues the transition for observers. Must hold o.mu.
func (o *Orchestrator) moveTo(fx *effects, to State) {
	if o.state == to {
		return
	}
	fx.transitions = append(fx.transitions, [2]State{o.state, to})
	o.state = to
}

// result builds the caller's view. Must hold o.mu.
func (o *Orchestrator) result() Result {
	r := Result{State: o.state, Notice: o.notice}
	if o.attempt != nil && o.state == StateMandatoryMFASetup {
		r.Enrollment = enrollmentView(o.attempt.enrollment)
	}
	if o.state == StateGranted {
		if s, ok := o.deps.Sessions.Current(); ok {
			r.Session = &s
		}
	}
	return r
}

// reject returns without side effects and releases o.mu
func (o *Orchestrator) reject(err error) (Result, error) {
	r := o.result()
	o.mu.Unlock()
	return r, err
}

// finish releases o.mu and applies the collected effects
func (o *Orchestrator) finish(ctx context.Context, fx *effects, err error) (Result, error) {
	r := o.result()
	o.mu.Unlock()
	o.apply(ctx, fx)
	return r, err
}

func (o *Orchestrator) apply(ctx context.Context, fx *effects) {
	for _, t := range fx.transitions {
		slog.Debug("Flow transition", "from", t[0], "to", t[1])
		for _, fn := range o.observers {
			fn(t[0], t[1])
		}
	}
	if fx.stopWatchers {
		o.deps.Watchers.Stop()
	}
	if fx.signOut != "" {
		if err := o.deps.Provider.SignOut(context.WithoutCancel(ctx), fx.signOut); err != nil {
			slog.Warn("Provider sign out failed", "subject_id", fx.signOut, "err", err)
		}
	}
	if fx.startWatchers {
		o.deps.Watchers.Start()
	}
	for _, e := range fx.events {
		o.deps.Bus.Publish(e)
	}
}

func expiredChallenge(err error) bool {
	return errors.Is(err, provider.ErrChallengeExpired) || errors.Is(err, provider.ErrChallengeNotFound)
}

// classify maps provider failures to user-facing errors
func classify(err error) error {
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	switch {
	case errors.Is(err, provider.ErrInvalidCredentials):
		return apperrors.Wrap(err, apperrors.ErrCodeInvalidCredentials, "invalid email or password")
	case errors.Is(err, provider.ErrInvalidCode):
		return apperrors.Wrap(err, apperrors.ErrCode2FAInvalid, "invalid verification code")
	case expiredChallenge(err):
		return apperrors.Wrap(err, apperrors.ErrCode2FAExpired, NoticeChallengeRenewed)
	case errors.Is(err, provider.ErrMisconfigured):
		return apperrors.Wrap(err, apperrors.ErrCodeConfiguration, err.Error())
	default:
		return apperrors.Wrap(err, apperrors.ErrCodeProviderUnavailable, "the identity service is unavailable, try again")
	}
}

func rateLimited(retryAfter time.Duration) error {
	return apperrors.New(apperrors.ErrCodeRateLimitExceeded, "too many attempts, try again later").
		WithDetail("retry_after_seconds", int(math.Ceil(retryAfter.Seconds())))
}

func errLocked() error {
	return apperrors.New(apperrors.ErrCodeSuspiciousActivity, NoticeSuspicious)
}

func errAbandoned() error {
	return apperrors.New(apperrors.ErrCodeAttemptAbandoned, "the login attempt was cancelled")
}
