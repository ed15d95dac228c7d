package ratelimit

import (
	"sync"
	"time"

	"github.com/tendant/simple-session/pkg/utils"
)

// window counts attempts for one key inside a fixed window
type window struct {
	start    time.Time // First attempt of the current window
	count    int       // Attempts recorded in the current window
	lastSeen time.Time // Last time the key was touched
}

// Limiter is a fixed-window attempt counter keyed by action name.
// The window opens on the first attempt and closes once window has elapsed.
type Limiter struct {
	maxAttempts int
	window      time.Duration
	clock       utils.Clock
	ttl         time.Duration

	mu      sync.Mutex
	windows map[string]*window

	stop     chan struct{}
	stopOnce sync.Once
}

// Option configures a Limiter
type Option func(*Limiter)

// WithClock sets the time source
func WithClock(c utils.Clock) Option {
	return func(l *Limiter) {
		l.clock = utils.OrSystem(c)
	}
}

// WithCleanupInterval starts a goroutine that drops keys idle for longer than ttl.
// Zero disables cleanup.
func WithCleanupInterval(ttl time.Duration) Option {
	return func(l *Limiter) {
		l.ttl = ttl
	}
}

// NewLimiter creates a limiter allowing maxAttempts per key per window
func NewLimiter(maxAttempts int, windowLen time.Duration, opts ...Option) *Limiter {
	l := &Limiter{
		maxAttempts: maxAttempts,
		window:      windowLen,
		clock:       utils.SystemClock{},
		windows:     make(map[string]*window),
		stop:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}

	if l.ttl > 0 {
		go l.cleanup()
	}

	return l
}

// current returns the live window for key, rolling it over when expired.
// Caller must hold l.mu.
func (l *Limiter) current(key string, now time.Time) *window {
	w, ok := l.windows[key]
	if !ok {
		return nil
	}
	if now.Sub(w.start) >= l.window {
		delete(l.windows, key)
		return nil
	}
	return w
}

// Attempt checks the limit and records an attempt in one step.
// Returns false, without recording, once the window is exhausted.
func (l *Limiter) Attempt(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	w := l.current(key, now)
	if w == nil {
		w = &window{start: now}
		l.windows[key] = w
	}
	w.lastSeen = now

	if w.count >= l.maxAttempts {
		return false
	}
	w.count++
	return true
}

// Remaining returns how many attempts are left in the current window
func (l *Limiter) Remaining(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.current(key, l.clock.Now())
	if w == nil {
		return l.maxAttempts
	}
	if w.count >= l.maxAttempts {
		return 0
	}
	return l.maxAttempts - w.count
}

// RetryAfter returns how long until the key accepts attempts again.
// Zero means attempts are accepted now.
func (l *Limiter) RetryAfter(key string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	w := l.current(key, now)
	if w == nil || w.count < l.maxAttempts {
		return 0
	}
	return w.start.Add(l.window).Sub(now)
}

// Reset clears the attempts recorded for key
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, key)
}

// Close stops the cleanup goroutine
func (l *Limiter) Close() {
	l.stopOnce.Do(func() {
		close(l.stop)
	})
}

// cleanup periodically removes idle windows
func (l *Limiter) cleanup() {
	ticker := time.NewTicker(l.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}

func (l *Limiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	for key, w := range l.windows {
		if now.Sub(w.lastSeen) > l.ttl || now.Sub(w.start) >= l.window {
			delete(l.windows, key)
		}
	}
}

// Stats returns statistics about the rate limiter
type Stats struct {
	ActiveKeys  int
	MaxAttempts int
	Window      time.Duration
}

// GetStats returns current statistics
func (l *Limiter) GetStats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	return Stats{
		ActiveKeys:  len(l.windows),
		MaxAttempts: l.maxAttempts,
		Window:      l.window,
	}
}

// Key joins an action name and an identifier into a limiter key
func Key(action, identifier string) string {
	return action + ":" + identifier
}
