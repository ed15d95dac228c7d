package sessions

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-session/pkg/utils"
)

func newTestManager(t *testing.T) (*Manager, *utils.ManualClock) {
	t.Helper()
	clock := utils.NewManualClock(t0)
	return NewManager(DefaultThresholds(), WithClock(clock)), clock
}

func TestManager_Start(t *testing.T) {
	m, _ := newTestManager(t)

	_, ok := m.Current()
	require.False(t, ok)

	s := m.Start("subject-1", "token")
	assert.NotEqual(t, uuid.Nil, s.ID)
	assert.Equal(t, t0, s.StartedAt)
	assert.Equal(t, t0, s.LastActivityAt)
	assert.Equal(t, StatusActive, s.Status)

	current, ok := m.Current()
	require.True(t, ok)
	assert.Equal(t, s, current)

	// snapshots do not alias the managed session
	current.SubjectID = "changed"
	again, _ := m.Current()
	assert.Equal(t, "subject-1", again.SubjectID)
}

func TestManager_UpdateActivity(t *testing.T) {
	m, clock := newTestManager(t)
	m.Start("subject-1", "")

	clock.Advance(30 * time.Minute)
	require.True(t, m.UpdateActivity())
	require.True(t, m.UpdateActivity())

	s, _ := m.Current()
	assert.Equal(t, t0.Add(30*time.Minute), s.LastActivityAt)

	// clock moved backwards: never decreases
	clock.Set(t0.Add(10 * time.Minute))
	require.True(t, m.UpdateActivity())
	s, _ = m.Current()
	assert.Equal(t, t0.Add(30*time.Minute), s.LastActivityAt)
}

func TestManager_UpdateActivityDoesNotRevive(t *testing.T) {
	m, clock := newTestManager(t)
	s := m.Start("subject-1", "")

	clock.Advance(61 * time.Minute)
	assert.False(t, m.UpdateActivity())

	current, _ := m.Current()
	assert.Equal(t, StatusExpired, current.Status)
	assert.Equal(t, t0, current.LastActivityAt)

	require.True(t, m.Invalidate(s.ID))
	assert.False(t, m.UpdateActivity())
}

func TestManager_InfoWarningConsumedOnce(t *testing.T) {
	m, clock := newTestManager(t)
	m.Start("subject-1", "")

	info := m.Info()
	assert.True(t, info.IsValid)
	assert.False(t, info.ShouldShowWarning)
	assert.Equal(t, 60*time.Minute, info.TimeUntilExpiry)

	clock.Advance(52 * time.Minute)
	info = m.Info()
	assert.True(t, info.IsValid)
	assert.True(t, info.ShouldShowWarning)
	assert.Equal(t, 8*time.Minute, info.TimeUntilExpiry)

	assert.False(t, m.Info().ShouldShowWarning)

	// activity returns the session to active and re-arms the warning
	require.True(t, m.UpdateActivity())
	assert.False(t, m.Info().ShouldShowWarning)

	clock.Advance(55 * time.Minute)
	assert.True(t, m.Info().ShouldShowWarning)
}

func TestManager_InfoExpired(t *testing.T) {
	m, clock := newTestManager(t)
	assert.Equal(t, Info{}, m.Info())

	m.Start("subject-1", "")
	clock.Advance(2 * time.Hour)

	info := m.Info()
	assert.False(t, info.IsValid)
	assert.False(t, info.ShouldShowWarning)
	assert.Equal(t, time.Duration(0), info.TimeUntilExpiry)
}

func TestManager_Invalidate(t *testing.T) {
	m, _ := newTestManager(t)
	s := m.Start("subject-1", "")

	assert.False(t, m.Invalidate(uuid.New()))
	assert.True(t, m.Invalidate(s.ID))
	assert.False(t, m.Invalidate(s.ID))

	v, ok := m.Evaluate()
	require.True(t, ok)
	assert.Equal(t, StatusInvalidated, v.Status)

	// a brand-new session is required to be active again
	next := m.Start("subject-1", "")
	assert.NotEqual(t, s.ID, next.ID)
	assert.Equal(t, StatusActive, next.Status)
}

func TestManager_Clear(t *testing.T) {
	m, _ := newTestManager(t)
	m.Start("subject-1", "")
	m.Clear()

	_, ok := m.Current()
	assert.False(t, ok)
	_, ok = m.Evaluate()
	assert.False(t, ok)
	assert.False(t, m.UpdateActivity())
}
