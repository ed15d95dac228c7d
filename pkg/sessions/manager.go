package sessions

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/jinzhu/copier"
	"github.com/tendant/simple-session/pkg/utils"
)

// Manager owns the single session of one tab.
// Activity tracking writes LastActivityAt; the orchestrator drives the lifecycle.
type Manager struct {
	mu         sync.Mutex
	clock      utils.Clock
	thresholds Thresholds
	current    *Session

	// warningShown is set once a warning has been reported through Info and
	// cleared when the session returns to active.
	warningShown bool
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithClock sets the manager time source
func WithClock(c utils.Clock) ManagerOption {
	return func(m *Manager) {
		m.clock = utils.OrSystem(c)
	}
}

// NewManager creates a session manager with the given thresholds
func NewManager(th Thresholds, opts ...ManagerOption) *Manager {
	m := &Manager{
		clock:      utils.SystemClock{},
		thresholds: th,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Thresholds returns the configured thresholds
func (m *Manager) Thresholds() Thresholds {
	return m.thresholds
}

// Start replaces any current session with a new active one
func (m *Manager) Start(subjectID, accessToken string) Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	m.current = &Session{
		ID:             uuid.New(),
		SubjectID:      subjectID,
		StartedAt:      now,
		LastActivityAt: now,
		Status:         StatusActive,
		AccessToken:    accessToken,
	}
	m.warningShown = false

	slog.Info("Session started", "session_id", m.current.ID, "subject_id", subjectID)
	return m.snapshot()
}

// Current returns a copy of the current session
func (m *Manager) Current() (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return Session{}, false
	}
	return m.snapshot(), true
}

// snapshot copies the current session. Caller must hold m.mu.
func (m *Manager) snapshot() Session {
	var out Session
	if err := copier.Copy(&out, m.current); err != nil {
		slog.Error("Failed to copy session", "error", err)
		return *m.current
	}
	return out
}

// evaluate refreshes the stored status. Caller must hold m.mu.
func (m *Manager) evaluate() Verdict {
	v := Check(m.clock.Now(), *m.current, m.thresholds)
	if m.current.Status == StatusExpired && v.Status != StatusInvalidated {
		// expiry is sticky even if the clock is moved back
		v.Status = StatusExpired
		if v.Reason == ReasonNone {
			v.Reason = ReasonIdle
		}
		v.TimeUntilExpiry = 0
	}
	if v.Status == StatusActive {
		m.warningShown = false
	}
	m.current.Status = v.Status
	return v
}

// Evaluate recomputes the session status. ok is false when no session exists.
func (m *Manager) Evaluate() (Verdict, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return Verdict{}, false
	}
	return m.evaluate(), true
}

// UpdateActivity moves LastActivityAt to now. It never moves it backwards and
// never revives an expired or invalidated session. Returns true when the
// session is still valid after the update.
func (m *Manager) UpdateActivity() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return false
	}
	if v := m.evaluate(); !v.Status.Valid() {
		return false
	}

	if now := m.clock.Now(); now.After(m.current.LastActivityAt) {
		m.current.LastActivityAt = now
	}
	m.evaluate()
	return true
}

// Info reports validity and remaining time. ShouldShowWarning is true once
// per warning cycle.
func (m *Manager) Info() Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return Info{}
	}

	v := m.evaluate()
	info := Info{
		IsValid:         v.Status.Valid(),
		TimeUntilExpiry: v.TimeUntilExpiry,
	}
	if v.Status == StatusWarning && !m.warningShown {
		info.ShouldShowWarning = true
		m.warningShown = true
	}
	return info
}

// Invalidate marks the session invalidated. It returns true only for the
// first call against the given session instance.
func (m *Manager) Invalidate(id uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil || m.current.ID != id || m.current.Status == StatusInvalidated {
		return false
	}
	m.current.Status = StatusInvalidated
	return true
}

// Clear destroys the current session
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		slog.Info("Session cleared", "session_id", m.current.ID, "subject_id", m.current.SubjectID)
	}
	m.current = nil
	m.warningShown = false
}
