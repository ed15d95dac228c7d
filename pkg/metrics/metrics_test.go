package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-session/pkg/events"
	"github.com/tendant/simple-session/pkg/loginflow"
	"github.com/tendant/simple-session/pkg/ratelimit"
)

func TestObserveTransition(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	c.ObserveTransition(loginflow.StateLoginForm, loginflow.StatePasswordChecking)
	c.ObserveTransition(loginflow.StateLoginForm, loginflow.StatePasswordChecking)
	c.ObserveTransition(loginflow.StatePasswordChecking, loginflow.StateMFAChallenge)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.FlowTransitionsTotal.WithLabelValues("login_form", "password_checking")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.FlowTransitionsTotal.WithLabelValues("password_checking", "mfa_challenge")))
}

func TestSubscribeTo(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())
	bus := events.NewBus()

	unsubscribe := c.SubscribeTo(bus)
	bus.Publish(events.Event{Type: events.SuspiciousActivity})
	bus.Publish(events.Event{Type: events.LoginSucceeded})
	bus.Publish(events.Event{Type: events.LoginSucceeded})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.SecurityEventsTotal.WithLabelValues("suspicious-activity")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.SecurityEventsTotal.WithLabelValues("login-succeeded")))

	unsubscribe()
	bus.Publish(events.Event{Type: events.SuspiciousActivity})
	assert.Equal(t, 1.0, testutil.ToFloat64(c.SecurityEventsTotal.WithLabelValues("suspicious-activity")))
	assert.Equal(t, 0, bus.SubscriberCount(events.LoginSucceeded))
}

func TestNewCollector_Registers(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordEvent(events.Event{Type: events.SignedOut})

	n, err := testutil.GatherAndCount(reg, "simple_session_security_events_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Panics(t, func() { NewCollector(reg) })
}

func TestWatchLimiter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	login := ratelimit.NewLimiter(3, time.Minute)
	defer login.Close()
	perIP := ratelimit.NewMiddleware(&ratelimit.Config{PerIPEnabled: false})
	defer perIP.Close()

	c.WatchLimiter("login", login.GetStats)
	c.WatchLimiter("http", perIP.GetStats)

	login.Attempt(ratelimit.Key("login", "a@example.com"))
	login.Attempt(ratelimit.Key("login", "b@example.com"))

	expected := `
# HELP simple_session_ratelimit_active_keys Number of keys with a live attempt window
# TYPE simple_session_ratelimit_active_keys gauge
simple_session_ratelimit_active_keys{limiter="http"} 0
simple_session_ratelimit_active_keys{limiter="login"} 2
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "simple_session_ratelimit_active_keys"))
}
