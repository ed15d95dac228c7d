package inmem

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/tendant/simple-session/pkg/provider"
	"github.com/tendant/simple-session/pkg/utils"
	"golang.org/x/crypto/bcrypt"
)

const (
	PERIOD = 30
	SKEW   = 1

	DefaultChallengeTTL = 5 * time.Minute
	DefaultTokenTTL     = time.Hour
	DefaultIssuer       = "simple-session"
)

// Operation names a provider call, for fault injection and call counting
type Operation string

const (
	OpVerifyPassword  Operation = "verify_password"
	OpListFactors     Operation = "list_factors"
	OpCreateFactor    Operation = "create_factor"
	OpDeleteFactor    Operation = "delete_factor"
	OpCreateChallenge Operation = "create_challenge"
	OpVerifyChallenge Operation = "verify_challenge"
	OpSignOut         Operation = "sign_out"
)

type user struct {
	subjectID      string
	email          string
	passwordHash   []byte
	emailConfirmed bool
}

type factor struct {
	provider.Factor
	subjectID string
	secret    string
	seq       int
}

type challenge struct {
	id        string
	factorID  string
	expiresAt time.Time
}

// Claims are carried by issued access tokens. AAL is aal1 after a password
// and aal2 after a verified factor.
type Claims struct {
	AAL string `json:"aal"`
	jwt.RegisteredClaims
}

// Provider is an in-memory identity provider
type Provider struct {
	clock        utils.Clock
	challengeTTL time.Duration
	tokenTTL     time.Duration
	signingKey   []byte
	issuer       string
	callHook     func(ctx context.Context, op Operation)

	mu          sync.Mutex
	mfaDisabled bool
	seq         int
	usersByMail map[string]*user
	users       map[string]*user
	factors     map[string]*factor
	challenges  map[string]*challenge
	live        map[string]bool
	failures    map[Operation]error
	calls       map[Operation]int
}

// Option configures a Provider
type Option func(*Provider)

// WithClock sets the time source for challenges, codes and tokens
func WithClock(c utils.Clock) Option {
	return func(p *Provider) {
		p.clock = utils.OrSystem(c)
	}
}

// WithChallengeTTL sets how long a challenge accepts codes
func WithChallengeTTL(d time.Duration) Option {
	return func(p *Provider) {
		p.challengeTTL = d
	}
}

// WithSigningKey sets the HS256 key for access tokens
func WithSigningKey(key string) Option {
	return func(p *Provider) {
		p.signingKey = []byte(key)
	}
}

// WithIssuer sets the TOTP and token issuer
func WithIssuer(issuer string) Option {
	return func(p *Provider) {
		p.issuer = issuer
	}
}

// WithMFADisabled makes factor and challenge operations fail as misconfigured
func WithMFADisabled(disabled bool) Option {
	return func(p *Provider) {
		p.mfaDisabled = disabled
	}
}

// WithCallHook runs fn at the start of every operation, before any state is touched
func WithCallHook(fn func(ctx context.Context, op Operation)) Option {
	return func(p *Provider) {
		p.callHook = fn
	}
}

// New creates an empty provider
func New(opts ...Option) *Provider {
	p := &Provider{
		clock:        utils.SystemClock{},
		challengeTTL: DefaultChallengeTTL,
		tokenTTL:     DefaultTokenTTL,
		signingKey:   []byte(uuid.NewString()),
		issuer:       DefaultIssuer,
		usersByMail:  make(map[string]*user),
		users:        make(map[string]*user),
		factors:      make(map[string]*factor),
		challenges:   make(map[string]*challenge),
		live:         make(map[string]bool),
		failures:     make(map[Operation]error),
		calls:        make(map[Operation]int),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

var _ provider.IdentityProvider = (*Provider)(nil)

// begin runs the call hook, counts the call and returns any injected failure.
// It acquires p.mu on success; the caller must unlock.
func (p *Provider) begin(ctx context.Context, op Operation) error {
	if p.callHook != nil {
		p.callHook(ctx, op)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", provider.ErrUnavailable, err)
	}

	p.mu.Lock()
	p.calls[op]++
	if err := p.failures[op]; err != nil {
		p.mu.Unlock()
		return err
	}
	return nil
}

// AddUser registers a user and returns its subject id
func (p *Provider) AddUser(email, password string, emailConfirmed bool) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	key := normalizeEmail(email)
	if _, exists := p.usersByMail[key]; exists {
		return "", fmt.Errorf("user %s already exists", key)
	}

	u := &user{
		subjectID:      uuid.NewString(),
		email:          key,
		passwordHash:   hash,
		emailConfirmed: emailConfirmed,
	}
	p.usersByMail[key] = u
	p.users[u.subjectID] = u
	return u.subjectID, nil
}

// AddVerifiedFactor registers an already verified TOTP factor and returns its id and secret
func (p *Provider) AddVerifiedFactor(subjectID string) (string, string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	f, _, err := p.newTOTPFactor(subjectID)
	if err != nil {
		return "", "", err
	}
	f.Status = provider.FactorVerified
	return f.ID, f.secret, nil
}

// SetMFADisabled toggles the misconfiguration switch
func (p *Provider) SetMFADisabled(disabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mfaDisabled = disabled
}

// InjectFailure makes every call of op fail with err until cleared with a nil err
func (p *Provider) InjectFailure(op Operation, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.failures, op)
		return
	}
	p.failures[op] = err
}

// Calls returns how many times op was invoked
func (p *Provider) Calls(op Operation) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[op]
}

// LiveSession reports whether the subject holds a provider-side session
func (p *Provider) LiveSession(subjectID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.live[subjectID]
}

// GenerateCode returns the current TOTP code of a factor
func (p *Provider) GenerateCode(factorID string) (string, error) {
	p.mu.Lock()
	f, ok := p.factors[factorID]
	p.mu.Unlock()
	if !ok {
		return "", provider.ErrFactorNotFound
	}
	return totp.GenerateCodeCustom(f.secret, p.clock.Now(), validateOpts())
}

// ParseToken validates an access token issued by this provider
func (p *Provider) ParseToken(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return p.signingKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(p.clock.Now))
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// VerifyPassword checks credentials and opens an aal1 provider session
func (p *Provider) VerifyPassword(ctx context.Context, email, password string) (provider.PasswordResult, error) {
	if err := p.begin(ctx, OpVerifyPassword); err != nil {
		return provider.PasswordResult{}, err
	}
	defer p.mu.Unlock()

	u, ok := p.usersByMail[normalizeEmail(email)]
	if !ok {
		return provider.PasswordResult{}, provider.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(u.passwordHash, []byte(password)); err != nil {
		slog.Debug("Password rejected", "subject_id", u.subjectID)
		return provider.PasswordResult{}, provider.ErrInvalidCredentials
	}

	token, _, err := p.issueToken(u.subjectID, "aal1")
	if err != nil {
		return provider.PasswordResult{}, err
	}
	p.live[u.subjectID] = true

	return provider.PasswordResult{
		SubjectID:      u.subjectID,
		EmailConfirmed: u.emailConfirmed,
		AccessToken:    token,
	}, nil
}

// ListFactors returns the subject's factors in creation order
func (p *Provider) ListFactors(ctx context.Context, subjectID string) ([]provider.Factor, error) {
	if err := p.begin(ctx, OpListFactors); err != nil {
		return nil, err
	}
	defer p.mu.Unlock()

	var owned []*factor
	for _, f := range p.factors {
		if f.subjectID == subjectID {
			owned = append(owned, f)
		}
	}
	sort.Slice(owned, func(i, j int) bool { return owned[i].seq < owned[j].seq })

	out := make([]provider.Factor, 0, len(owned))
	for _, f := range owned {
		out = append(out, f.Factor)
	}
	return out, nil
}

// CreateFactor enrolls a new unverified factor
func (p *Provider) CreateFactor(ctx context.Context, subjectID string, kind provider.FactorKind) (provider.Enrollment, error) {
	if err := p.begin(ctx, OpCreateFactor); err != nil {
		return provider.Enrollment{}, err
	}
	defer p.mu.Unlock()

	if p.mfaDisabled {
		return provider.Enrollment{}, fmt.Errorf("%w: MFA enrollment is disabled", provider.ErrMisconfigured)
	}

	switch kind {
	case provider.FactorTOTP:
		f, uri, err := p.newTOTPFactor(subjectID)
		if err != nil {
			return provider.Enrollment{}, err
		}
		return provider.Enrollment{
			Factor: f.Factor,
			TOTP:   &provider.TOTPEnrollment{Secret: f.secret, URI: uri},
		}, nil
	default:
		return provider.Enrollment{}, fmt.Errorf("%w: unsupported factor kind %q", provider.ErrMisconfigured, kind)
	}
}

// newTOTPFactor generates a secret and stores an unverified factor. Caller must hold p.mu.
func (p *Provider) newTOTPFactor(subjectID string) (*factor, string, error) {
	u, ok := p.users[subjectID]
	if !ok {
		return nil, "", fmt.Errorf("unknown subject %s", subjectID)
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      p.issuer,
		AccountName: u.email,
		Period:      PERIOD,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		slog.Error("Failed to generate totp secret", "subject_id", subjectID, "error", err)
		return nil, "", err
	}

	p.seq++
	f := &factor{
		Factor: provider.Factor{
			ID:     uuid.NewString(),
			Kind:   provider.FactorTOTP,
			Status: provider.FactorUnverified,
		},
		subjectID: subjectID,
		secret:    key.Secret(),
		seq:       p.seq,
	}
	p.factors[f.ID] = f
	slog.Info("Created totp factor", "subject_id", subjectID, "factor_id", f.ID)
	return f, key.URL(), nil
}

// DeleteFactor removes a factor and its outstanding challenges
func (p *Provider) DeleteFactor(ctx context.Context, factorID string) error {
	if err := p.begin(ctx, OpDeleteFactor); err != nil {
		return err
	}
	defer p.mu.Unlock()

	if _, ok := p.factors[factorID]; !ok {
		return provider.ErrFactorNotFound
	}
	delete(p.factors, factorID)
	for id, c := range p.challenges {
		if c.factorID == factorID {
			delete(p.challenges, id)
		}
	}
	return nil
}

// CreateChallenge opens a challenge against a factor
func (p *Provider) CreateChallenge(ctx context.Context, factorID string) (provider.Challenge, error) {
	if err := p.begin(ctx, OpCreateChallenge); err != nil {
		return provider.Challenge{}, err
	}
	defer p.mu.Unlock()

	if p.mfaDisabled {
		return provider.Challenge{}, fmt.Errorf("%w: MFA verification is disabled", provider.ErrMisconfigured)
	}
	if _, ok := p.factors[factorID]; !ok {
		return provider.Challenge{}, provider.ErrFactorNotFound
	}

	c := &challenge{
		id:        uuid.NewString(),
		factorID:  factorID,
		expiresAt: p.clock.Now().Add(p.challengeTTL),
	}
	p.challenges[c.id] = c
	return provider.Challenge{ID: c.id, FactorID: factorID, ExpiresAt: c.expiresAt}, nil
}

// VerifyChallenge checks a code. Success verifies the factor, consumes the
// challenge and upgrades the provider session to aal2.
func (p *Provider) VerifyChallenge(ctx context.Context, factorID, challengeID, code string) (provider.Grant, error) {
	if err := p.begin(ctx, OpVerifyChallenge); err != nil {
		return provider.Grant{}, err
	}
	defer p.mu.Unlock()

	c, ok := p.challenges[challengeID]
	if !ok || c.factorID != factorID {
		return provider.Grant{}, provider.ErrChallengeNotFound
	}
	f, ok := p.factors[factorID]
	if !ok {
		return provider.Grant{}, provider.ErrFactorNotFound
	}

	now := p.clock.Now()
	if !now.Before(c.expiresAt) {
		delete(p.challenges, challengeID)
		return provider.Grant{}, provider.ErrChallengeExpired
	}

	valid, err := totp.ValidateCustom(code, f.secret, now, validateOpts())
	if err != nil || !valid {
		return provider.Grant{}, provider.ErrInvalidCode
	}

	delete(p.challenges, challengeID)
	f.Status = provider.FactorVerified

	token, expiresAt, err := p.issueToken(f.subjectID, "aal2")
	if err != nil {
		return provider.Grant{}, err
	}
	p.live[f.subjectID] = true
	return provider.Grant{AccessToken: token, ExpiresAt: expiresAt}, nil
}

// SignOut ends the subject's provider session. Unknown subjects are not an error.
func (p *Provider) SignOut(ctx context.Context, subjectID string) error {
	if err := p.begin(ctx, OpSignOut); err != nil {
		return err
	}
	defer p.mu.Unlock()

	delete(p.live, subjectID)
	return nil
}

// issueToken signs an access token. Caller must hold p.mu.
func (p *Provider) issueToken(subjectID, aal string) (string, time.Time, error) {
	now := p.clock.Now()
	expiresAt := now.Add(p.tokenTTL)
	claims := Claims{
		AAL: aal,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    p.issuer,
			Subject:   subjectID,
			ID:        uuid.NewString(),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.signingKey)
	if err != nil {
		slog.Error("Failed to sign access token", "subject_id", subjectID, "error", err)
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

func validateOpts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    PERIOD,
		Skew:      SKEW,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
