package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-session/pkg/utils"
)

func TestMiddleware_PerIP(t *testing.T) {
	m := NewMiddleware(&Config{
		PerIPEnabled:     true,
		PerIPMaxRequests: 2,
		PerIPWindow:      time.Minute,
		IncludeHeaders:   true,
	}, WithClock(utils.NewManualClock(start)))
	defer m.Close()

	h := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	call := func(remoteAddr, xff string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/tabs/x/login", nil)
		req.RemoteAddr = remoteAddr
		if xff != "" {
			req.Header.Set("X-Forwarded-For", xff)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	rec := call("10.0.0.1:5555", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Remaining"))

	require.Equal(t, http.StatusNoContent, call("10.0.0.1:5556", "").Code)

	rec = call("10.0.0.1:5557", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "RATE_LIMIT_EXCEEDED")

	// Forwarded client is counted separately
	assert.Equal(t, http.StatusNoContent, call("10.0.0.1:5558", "192.168.1.7, 10.0.0.1").Code)

	m.Reset("10.0.0.1")
	assert.Equal(t, http.StatusNoContent, call("10.0.0.1:5559", "").Code)
	assert.Equal(t, 2, m.GetStats().ActiveKeys)
}

func TestMiddleware_Disabled(t *testing.T) {
	m := NewMiddleware(&Config{PerIPEnabled: false})
	h := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Zero(t, m.GetStats())
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{name: "remote addr", remoteAddr: "1.2.3.4:80", want: "1.2.3.4"},
		{name: "x-forwarded-for", remoteAddr: "1.2.3.4:80", headers: map[string]string{"X-Forwarded-For": "5.6.7.8, 1.2.3.4"}, want: "5.6.7.8"},
		{name: "x-real-ip", remoteAddr: "1.2.3.4:80", headers: map[string]string{"X-Real-IP": " 9.9.9.9 "}, want: "9.9.9.9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, getClientIP(req))
		})
	}
}
