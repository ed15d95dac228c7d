package activity

import (
	"log/slog"
	"sync"
	"time"

	"github.com/tendant/simple-session/pkg/utils"
	"golang.org/x/time/rate"
)

// Signal is a user interaction reported by the page
type Signal string

const (
	Pointer  Signal = "pointer"
	Keyboard Signal = "keyboard"
	Scroll   Signal = "scroll"
	Touch    Signal = "touch"
)

// Qualifying reports whether the signal counts as user activity
func (s Signal) Qualifying() bool {
	switch s {
	case Pointer, Keyboard, Scroll, Touch:
		return true
	}
	return false
}

// Recorder receives activity. sessions.Manager implements it.
type Recorder interface {
	UpdateActivity() bool
}

// DefaultThrottle bounds activity writes to one per second
const DefaultThrottle = time.Second

// Tracker turns interaction and visibility signals into session activity.
// It only records while started, between sign-in and sign-out.
type Tracker struct {
	recorder   Recorder
	clock      utils.Clock
	throttle   time.Duration
	onActivity func()

	mu      sync.Mutex
	limiter *rate.Limiter
	started bool
	visible bool
	last    time.Time
}

// Option configures a Tracker
type Option func(*Tracker)

// WithClock sets the time source
func WithClock(c utils.Clock) Option {
	return func(t *Tracker) {
		t.clock = utils.OrSystem(c)
	}
}

// WithThrottle sets the minimum gap between recorded signals. Zero disables throttling.
func WithThrottle(d time.Duration) Option {
	return func(t *Tracker) {
		t.throttle = d
	}
}

// WithOnActivity registers a hook run after each recorded activity
func WithOnActivity(fn func()) Option {
	return func(t *Tracker) {
		t.onActivity = fn
	}
}

// NewTracker creates a stopped tracker writing to recorder
func NewTracker(recorder Recorder, opts ...Option) *Tracker {
	t := &Tracker{
		recorder: recorder,
		clock:    utils.SystemClock{},
		throttle: DefaultThrottle,
		visible:  true,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tracker) newLimiter() *rate.Limiter {
	if t.throttle <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(t.throttle), 1)
}

// Start attaches the tracker to the live session
func (t *Tracker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.started {
		return
	}
	t.started = true
	t.limiter = t.newLimiter()
	slog.Debug("Activity tracking started")
}

// Stop detaches the tracker. Signals are ignored until the next Start.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.started {
		return
	}
	t.started = false
	t.limiter = nil
	slog.Debug("Activity tracking stopped")
}

// Started reports whether the tracker is attached
func (t *Tracker) Started() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.started
}

// Signal reports an interaction. It returns true when activity was recorded.
func (t *Tracker) Signal(sig Signal) bool {
	if !sig.Qualifying() {
		return false
	}

	t.mu.Lock()
	if !t.started || !t.visible {
		t.mu.Unlock()
		return false
	}
	now := t.clock.Now()
	if t.limiter != nil && !t.limiter.AllowN(now, 1) {
		t.mu.Unlock()
		return false
	}
	t.mu.Unlock()

	return t.record(now)
}

// SetVisibility reports a page visibility change. Becoming visible counts as
// activity; becoming hidden does not.
func (t *Tracker) SetVisibility(visible bool) bool {
	t.mu.Lock()
	returned := !t.visible && visible
	t.visible = visible
	started := t.started
	t.mu.Unlock()

	if !started || !returned {
		return false
	}
	return t.record(t.clock.Now())
}

// Visible reports the last known page visibility
func (t *Tracker) Visible() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.visible
}

// LastActivity returns the time of the last recorded activity
func (t *Tracker) LastActivity() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

func (t *Tracker) record(now time.Time) bool {
	ok := t.recorder.UpdateActivity()
	if ok {
		t.mu.Lock()
		if now.After(t.last) {
			t.last = now
		}
		t.mu.Unlock()
	}

	if t.onActivity != nil {
		t.onActivity()
	}
	return ok
}
