package sessionapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-session/pkg/config"
	"github.com/tendant/simple-session/pkg/loginflow"
	"github.com/tendant/simple-session/pkg/preference"
	"github.com/tendant/simple-session/pkg/provider/inmem"
	"github.com/tendant/simple-session/pkg/ratelimit"
	"github.com/tendant/simple-session/pkg/tab"
	"github.com/tendant/simple-session/pkg/utils"
)

const (
	testEmail    = "api@example.com"
	testPassword = "api password"
)

type testServer struct {
	clock    *utils.ManualClock
	idp      *inmem.Provider
	registry *tab.Registry
	server   *httptest.Server
}

func newTestServer(t *testing.T, opts ...Option) *testServer {
	t.Helper()

	clock := utils.NewManualClock(time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC))
	idp := inmem.New(inmem.WithClock(clock))
	_, err := idp.AddUser(testEmail, testPassword, true)
	require.NoError(t, err)

	loginLimiter := ratelimit.NewLimiter(3, 5*time.Minute, ratelimit.WithClock(clock))
	mfaLimiter := ratelimit.NewLimiter(3, 5*time.Minute, ratelimit.WithClock(clock))
	t.Cleanup(loginLimiter.Close)
	t.Cleanup(mfaLimiter.Close)

	registry := tab.NewRegistry(tab.Shared{
		Provider:     idp,
		Preferences:  preference.NewService(preference.NewMemoryRepository(), clock),
		LoginLimiter: loginLimiter,
		MFALimiter:   mfaLimiter,
		Clock:        clock,
		Session:      config.DefaultSessionConfig(),
		Posture:      config.DefaultPostureConfig(),
	})
	t.Cleanup(registry.CloseAll)

	server := httptest.NewServer(NewHandler(registry, opts...).Routes())
	t.Cleanup(server.Close)

	return &testServer{clock: clock, idp: idp, registry: registry, server: server}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func (s *testServer) openTab(t *testing.T) string {
	t.Helper()
	resp := s.do(t, http.MethodPost, "/tabs", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var out TabResponse
	decodeBody(t, resp, &out)
	assert.Equal(t, loginflow.StateLoginForm, out.State)
	return "/tabs/" + out.TabID.String()
}

func TestOpenAndCloseTab(t *testing.T) {
	s := newTestServer(t)
	path := s.openTab(t)
	assert.Equal(t, 1, s.registry.Len())

	resp := s.do(t, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, 0, s.registry.Len())

	resp = s.do(t, http.MethodGet, path+"/flow", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTabID_Invalid(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodGet, "/tabs/not-a-uuid/flow", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var out ErrorResponse
	decodeBody(t, resp, &out)
	assert.Equal(t, "INVALID_INPUT", out.Code)

	resp = s.do(t, http.MethodGet, "/tabs/"+uuid.NewString()+"/flow", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestLoginFlow(t *testing.T) {
	s := newTestServer(t)
	path := s.openTab(t)

	resp := s.do(t, http.MethodPost, path+"/login", LoginRequest{Email: testEmail, Password: testPassword})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res loginflow.Result
	decodeBody(t, resp, &res)
	assert.Equal(t, loginflow.StateOptionalMFAPrompt, res.State)

	resp = s.do(t, http.MethodPost, path+"/mfa/choice", ChoiceRequest{Choice: loginflow.ChoiceEnable})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res = loginflow.Result{}
	decodeBody(t, resp, &res)
	assert.Equal(t, loginflow.StateMandatoryMFASetup, res.State)
	require.NotNil(t, res.Enrollment)

	code, err := s.idp.GenerateCode(res.Enrollment.FactorID)
	require.NoError(t, err)
	resp = s.do(t, http.MethodPost, path+"/mfa/setup/verify", CodeRequest{Code: code})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res = loginflow.Result{}
	decodeBody(t, resp, &res)
	assert.Equal(t, loginflow.StateGranted, res.State)
	require.NotNil(t, res.Session)
	assert.Empty(t, res.Session.AccessToken)

	resp = s.do(t, http.MethodGet, path+"/session", nil)
	var session SessionResponse
	decodeBody(t, resp, &session)
	assert.True(t, session.IsValid)
	assert.Equal(t, int64(config.DefaultSessionConfig().IdleTimeout.Seconds()), session.TimeUntilExpirySeconds)

	resp = s.do(t, http.MethodPost, path+"/activity", ActivityRequest{Signal: "keyboard"})
	var act ActivityResponse
	decodeBody(t, resp, &act)
	assert.True(t, act.Recorded)

	resp = s.do(t, http.MethodPost, path+"/signout", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res = loginflow.Result{}
	decodeBody(t, resp, &res)
	assert.Equal(t, loginflow.StateLoginForm, res.State)
}

func TestLogin_Errors(t *testing.T) {
	s := newTestServer(t)
	path := s.openTab(t)

	t.Run("malformed body", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodPost, s.server.URL+path+"/login", bytes.NewBufferString("{"))
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("invalid credentials", func(t *testing.T) {
		resp := s.do(t, http.MethodPost, path+"/login", LoginRequest{Email: testEmail, Password: "nope"})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

		var out ErrorResponse
		decodeBody(t, resp, &out)
		assert.Equal(t, "INVALID_CREDENTIALS", out.Code)
		assert.Equal(t, loginflow.StateLoginForm, out.State)
		assert.True(t, out.Retryable)
	})

	t.Run("wrong state", func(t *testing.T) {
		resp := s.do(t, http.MethodPost, path+"/mfa/verify", CodeRequest{Code: "123456"})
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("attempts exhausted", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			resp := s.do(t, http.MethodPost, path+"/login", LoginRequest{Email: testEmail, Password: "nope"})
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		}

		resp := s.do(t, http.MethodPost, path+"/login", LoginRequest{Email: testEmail, Password: testPassword})
		assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
		assert.NotEmpty(t, resp.Header.Get("Retry-After"))

		var out ErrorResponse
		decodeBody(t, resp, &out)
		assert.Equal(t, "RATE_LIMIT_EXCEEDED", out.Code)
		assert.Positive(t, out.RetryAfterSeconds)
	})
}

func TestPerIPRateLimit(t *testing.T) {
	mw := ratelimit.NewMiddleware(&ratelimit.Config{
		PerIPEnabled:     true,
		PerIPMaxRequests: 2,
		PerIPWindow:      time.Minute,
		BucketTTL:        time.Hour,
		IncludeHeaders:   true,
	})
	t.Cleanup(mw.Close)

	s := newTestServer(t, WithRateLimit(mw))
	path := s.openTab(t)

	for i := 0; i < 2; i++ {
		resp := s.do(t, http.MethodPost, path+"/mfa/verify", CodeRequest{Code: "123456"})
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	}
	resp := s.do(t, http.MethodPost, path+"/mfa/verify", CodeRequest{Code: "123456"})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	// non-credential routes are not limited
	resp = s.do(t, http.MethodGet, path+"/flow", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSecurityHeadersAndPosture(t *testing.T) {
	s := newTestServer(t)
	path := s.openTab(t)

	resp := s.do(t, http.MethodGet, path+"/posture", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

	var out PostureResponse
	decodeBody(t, resp, &out)
	assert.True(t, out.Signals.RequiredHeadersPresent)
	assert.False(t, out.Signals.HTTPS)
	assert.False(t, out.Signals.SessionValid)
	assert.Empty(t, out.MissingHeaders)
	assert.Equal(t, 50, out.Score)
}

func TestConsoleAccessLocksFlow(t *testing.T) {
	s := newTestServer(t)
	path := s.openTab(t)

	for i := 0; i < config.DefaultPostureConfig().SuspiciousThreshold; i++ {
		resp := s.do(t, http.MethodPost, path+"/diagnostics/console", ConsoleRequest{Source: "devtools"})
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	}

	resp := s.do(t, http.MethodPost, path+"/login", LoginRequest{Email: testEmail, Password: testPassword})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	var out ErrorResponse
	decodeBody(t, resp, &out)
	assert.Equal(t, "SUSPICIOUS_ACTIVITY", out.Code)
	assert.False(t, out.Retryable)

	resp = s.do(t, http.MethodPost, path+"/connectivity", ConnectivityRequest{Online: false})
	var conn ConnectivityResponse
	decodeBody(t, resp, &conn)
	assert.True(t, conn.Changed)
	assert.False(t, conn.Online)

	resp = s.do(t, http.MethodPost, path+"/signout", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var snap loginflow.Snapshot
	resp = s.do(t, http.MethodGet, path+"/flow", nil)
	decodeBody(t, resp, &snap)
	assert.False(t, snap.Locked)
}

func TestExtendSession(t *testing.T) {
	s := newTestServer(t)
	path := s.openTab(t)

	resp := s.do(t, http.MethodPost, path+"/session/extend", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	var out ErrorResponse
	decodeBody(t, resp, &out)
	assert.Equal(t, "SESSION_EXPIRED", out.Code)
	assert.False(t, out.Retryable)

	resp = s.do(t, http.MethodPost, path+"/login", LoginRequest{Email: testEmail, Password: testPassword})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = s.do(t, http.MethodPost, path+"/mfa/choice", ChoiceRequest{Choice: loginflow.ChoiceSkip})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	idle := config.DefaultSessionConfig().IdleTimeout
	s.clock.Advance(idle / 2)
	resp = s.do(t, http.MethodPost, path+"/session/extend", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var session SessionResponse
	decodeBody(t, resp, &session)
	assert.True(t, session.IsValid)
	assert.Equal(t, int64(idle.Seconds()), session.TimeUntilExpirySeconds)
	require.NotNil(t, session.Session)

	s.clock.Advance(idle + time.Minute)
	resp = s.do(t, http.MethodPost, path+"/session/extend", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	out = ErrorResponse{}
	decodeBody(t, resp, &out)
	assert.Equal(t, "SESSION_EXPIRED", out.Code)
	assert.Equal(t, loginflow.StateLoginForm, out.State)
	assert.Equal(t, 1, s.idp.Calls(inmem.OpSignOut))
}
