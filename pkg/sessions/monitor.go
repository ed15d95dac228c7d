package sessions

import (
	"log/slog"
	"sync"
	"time"

	"github.com/tendant/simple-session/pkg/events"
	"github.com/tendant/simple-session/pkg/utils"
)

// DefaultTickInterval is the periodic evaluation cadence
const DefaultTickInterval = 60 * time.Second

// Monitor evaluates the managed session on a ticker and on demand, and
// publishes exactly one expiry event per session instance.
type Monitor struct {
	manager  *Manager
	bus      *events.Bus
	interval time.Duration
	clock    utils.Clock

	mu      sync.Mutex
	stop    chan struct{}
	running bool
}

// NewMonitor creates a monitor. A non-positive interval uses DefaultTickInterval.
func NewMonitor(manager *Manager, bus *events.Bus, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	return &Monitor{
		manager:  manager,
		bus:      bus,
		interval: interval,
		clock:    manager.clock,
	}
}

// Start begins periodic evaluation. Calling Start on a running monitor is a no-op.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}
	m.stop = make(chan struct{})
	m.running = true
	go m.loop(m.stop)
}

// Stop ends periodic evaluation without waiting for the loop to exit,
// so it may be called from an event handler running on the loop.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	close(m.stop)
	m.running = false
}

// Running reports whether the ticker loop is active
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Monitor) loop(stop <-chan struct{}) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.Check()
		}
	}
}

// Check evaluates the session now. When the session has crossed a threshold
// it is invalidated and the matching expiry event is published once.
func (m *Monitor) Check() Verdict {
	v, ok := m.manager.Evaluate()
	if !ok || v.Status != StatusExpired {
		return v
	}

	if !m.manager.Invalidate(v.SessionID) {
		return v
	}

	eventType := events.IdleExpired
	if v.Reason == ReasonAbsolute {
		eventType = events.AbsoluteExpired
	}

	slog.Info("Session expired", "session_id", v.SessionID, "subject_id", v.SubjectID, "reason", v.Reason)
	m.bus.Publish(events.Event{
		Type:       eventType,
		SessionID:  v.SessionID,
		SubjectID:  v.SubjectID,
		OccurredAt: m.clock.Now(),
		Data:       map[string]string{events.DataReason: string(v.Reason)},
	})
	return v
}
