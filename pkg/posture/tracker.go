package posture

import (
	"sync"

	"github.com/tendant/simple-session/pkg/events"
)

// Tracker keeps the bus-driven signals of one tab and combines them with
// request facts into a Score.
type Tracker struct {
	mu         sync.Mutex
	online     bool
	suspicious bool
	headers    bool
	https      bool

	unsubscribe []func()
}

// NewTracker subscribes to the signals that move the posture
func NewTracker(bus *events.Bus) *Tracker {
	t := &Tracker{online: true}
	t.unsubscribe = []func(){
		bus.Subscribe(events.SuspiciousActivity, func(events.Event) {
			t.mu.Lock()
			t.suspicious = true
			t.mu.Unlock()
		}),
		bus.Subscribe(events.ConnectivityChanged, func(e events.Event) {
			t.mu.Lock()
			t.online = e.Get(events.DataOnline) != "false"
			t.mu.Unlock()
		}),
		bus.Subscribe(events.SignedOut, func(events.Event) {
			t.mu.Lock()
			t.suspicious = false
			t.mu.Unlock()
		}),
	}
	return t
}

// ObserveTransport records whether the last request arrived over HTTPS and
// carried the required security headers.
func (t *Tracker) ObserveTransport(https, headersPresent bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.https = https
	t.headers = headersPresent
}

// Signals returns the current signals for the given session validity
func (t *Tracker) Signals(sessionValid bool) Signals {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Signals{
		HTTPS:                  t.https,
		SessionValid:           sessionValid,
		Online:                 t.online,
		RequiredHeadersPresent: t.headers,
		SuspiciousActivity:     t.suspicious,
	}
}

// Score evaluates the current signals
func (t *Tracker) Score(sessionValid bool) Score {
	return Evaluate(t.Signals(sessionValid))
}

// Close unsubscribes from the bus
func (t *Tracker) Close() {
	for _, fn := range t.unsubscribe {
		fn()
	}
}
