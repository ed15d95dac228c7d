package tab

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-session/pkg/activity"
	"github.com/tendant/simple-session/pkg/config"
	"github.com/tendant/simple-session/pkg/connectivity"
	"github.com/tendant/simple-session/pkg/diagnostics"
	"github.com/tendant/simple-session/pkg/events"
	"github.com/tendant/simple-session/pkg/loginflow"
	"github.com/tendant/simple-session/pkg/metrics"
	"github.com/tendant/simple-session/pkg/posture"
	"github.com/tendant/simple-session/pkg/preference"
	"github.com/tendant/simple-session/pkg/provider"
	"github.com/tendant/simple-session/pkg/ratelimit"
	"github.com/tendant/simple-session/pkg/sessions"
	"github.com/tendant/simple-session/pkg/utils"
)

// Shared are the dependencies common to every tab
type Shared struct {
	Provider     provider.IdentityProvider
	Preferences  *preference.Service
	LoginLimiter *ratelimit.Limiter
	MFALimiter   *ratelimit.Limiter
	// Metrics is optional
	Metrics *metrics.Collector
	// Clock defaults to the system clock
	Clock utils.Clock
	// ProbeClient is used for connectivity probes when a probe URL is configured
	ProbeClient *http.Client

	Session config.SessionConfig
	Posture config.PostureConfig
}

// Tab is the identity session layer of one browser tab
type Tab struct {
	ID       uuid.UUID
	OpenedAt time.Time

	Bus          *events.Bus
	Sessions     *sessions.Manager
	Monitor      *sessions.Monitor
	Activity     *activity.Tracker
	Connectivity *connectivity.Monitor
	Console      *diagnostics.ConsoleHook
	Detector     *diagnostics.Detector
	Posture      *posture.Tracker
	Flow         *loginflow.Orchestrator

	requiredHeaders []string
	closers         []func()
}

// watchers arm the session clock and activity listeners while a session is granted
type watchers struct {
	monitor *sessions.Monitor
	tracker *activity.Tracker
}

func (w watchers) Start() {
	w.monitor.Start()
	w.tracker.Start()
}

func (w watchers) Stop() {
	w.tracker.Stop()
	w.monitor.Stop()
}

// withDefaults fills unset timing settings
func (s Shared) withDefaults() Shared {
	if s.Session.IdleTimeout <= 0 || s.Session.AbsoluteTimeout <= 0 {
		s.Session = config.DefaultSessionConfig()
	}
	if s.Posture.SuspiciousThreshold <= 0 || s.Posture.SuspiciousWindow <= 0 {
		d := config.DefaultPostureConfig()
		s.Posture.SuspiciousThreshold = d.SuspiciousThreshold
		s.Posture.SuspiciousWindow = d.SuspiciousWindow
	}
	if s.Posture.ConnectivityProbeInterval <= 0 {
		s.Posture.ConnectivityProbeInterval = config.DefaultPostureConfig().ConnectivityProbeInterval
	}
	return s
}

// New wires a tab
func New(shared Shared) (*Tab, error) {
	shared = shared.withDefaults()
	clock := utils.OrSystem(shared.Clock)

	t := &Tab{
		ID:              uuid.New(),
		OpenedAt:        clock.Now(),
		Bus:             events.NewBus(),
		requiredHeaders: shared.Posture.RequiredHeaders,
	}
	if len(t.requiredHeaders) == 0 {
		t.requiredHeaders = posture.DefaultRequiredHeaders()
	}

	t.Sessions = sessions.NewManager(sessions.Thresholds{
		Idle:     shared.Session.IdleTimeout,
		Absolute: shared.Session.AbsoluteTimeout,
		Warning:  shared.Session.WarningWindow,
	}, sessions.WithClock(clock))
	t.Monitor = sessions.NewMonitor(t.Sessions, t.Bus, shared.Session.TickInterval)
	t.Activity = activity.NewTracker(t.Sessions,
		activity.WithClock(clock),
		activity.WithThrottle(shared.Session.ActivityThrottle),
		activity.WithOnActivity(func() { t.Monitor.Check() }),
	)
	t.Connectivity = connectivity.NewMonitor(t.Bus, clock)
	t.Console = diagnostics.NewConsoleHook(t.Bus, clock)
	t.Detector = diagnostics.NewDetector(t.Bus, clock, shared.Posture.SuspiciousThreshold, shared.Posture.SuspiciousWindow)
	t.Posture = posture.NewTracker(t.Bus)
	t.closers = append(t.closers, t.Detector.Close, t.Posture.Close)

	opts := []loginflow.Option{loginflow.WithClock(clock)}
	if shared.Metrics != nil {
		opts = append(opts, loginflow.WithTransitionObserver(shared.Metrics.ObserveTransition))
		t.closers = append(t.closers, shared.Metrics.SubscribeTo(t.Bus))
	}

	flow, err := loginflow.NewOrchestrator(loginflow.Dependencies{
		Provider:     shared.Provider,
		Preferences:  shared.Preferences,
		Sessions:     t.Sessions,
		Bus:          t.Bus,
		LoginLimiter: shared.LoginLimiter,
		MFALimiter:   shared.MFALimiter,
		Watchers:     watchers{monitor: t.Monitor, tracker: t.Activity},
	}, opts...)
	if err != nil {
		t.Close()
		return nil, fmt.Errorf("failed to create login flow: %w", err)
	}
	t.Flow = flow

	if shared.Posture.ConnectivityProbeURL != "" {
		ctx, cancel := context.WithCancel(context.Background())
		probe := connectivity.HTTPProbe(shared.ProbeClient, shared.Posture.ConnectivityProbeURL)
		go t.Connectivity.Run(ctx, probe, shared.Posture.ConnectivityProbeInterval)
		t.closers = append(t.closers, cancel)
	}

	slog.Info("Tab opened", "tab_id", t.ID)
	return t, nil
}

// ObserveResponse records the transport facts of a request and the headers of its response
func (t *Tab) ObserveResponse(r *http.Request, responseHeader http.Header) {
	https := r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https"
	t.Posture.ObserveTransport(https, posture.HeadersPresent(responseHeader, t.requiredHeaders))
}

// RequiredHeaders lists the response headers the posture signal checks
func (t *Tab) RequiredHeaders() []string {
	return t.requiredHeaders
}

// SessionValid reports whether the tab holds a live session, without
// consuming the expiry warning
func (t *Tab) SessionValid() bool {
	v, ok := t.Sessions.Evaluate()
	return ok && v.Status.Valid()
}

// UpdateActivity extends the granted session like user activity does. A
// session that already expired is not extended and is handled at once.
func (t *Tab) UpdateActivity() bool {
	extended := t.Flow.UpdateActivity()
	t.Monitor.Check()
	return extended
}

// PostureScore evaluates the current security posture
func (t *Tab) PostureScore() (posture.Signals, posture.Score) {
	signals := t.Posture.Signals(t.SessionValid())
	return signals, posture.Evaluate(signals)
}

// Close releases the tab. An unfinished login is signed out at the provider;
// a granted session is left to expire.
func (t *Tab) Close() {
	if t.Flow != nil {
		t.Flow.Close()
	}
	t.Activity.Stop()
	t.Monitor.Stop()
	for i := len(t.closers) - 1; i >= 0; i-- {
		t.closers[i]()
	}
	t.closers = nil
	slog.Info("Tab closed", "tab_id", t.ID)
}
