package sessions

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-session/pkg/events"
)

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) handle(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) all() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.events...)
}

func TestMonitor_IdleExpiryFiresOnce(t *testing.T) {
	m, clock := newTestManager(t)
	bus := events.NewBus()
	rec := &recorder{}
	bus.Subscribe(events.IdleExpired, rec.handle)
	bus.Subscribe(events.AbsoluteExpired, rec.handle)

	s := m.Start("subject-1", "")
	mon := NewMonitor(m, bus, time.Minute)

	assert.Equal(t, StatusActive, mon.Check().Status)

	clock.Advance(61 * time.Minute)
	v := mon.Check()
	assert.Equal(t, StatusExpired, v.Status)
	assert.Equal(t, ReasonIdle, v.Reason)

	mon.Check()
	mon.Check()

	got := rec.all()
	require.Len(t, got, 1)
	assert.Equal(t, events.IdleExpired, got[0].Type)
	assert.Equal(t, s.ID, got[0].SessionID)
	assert.Equal(t, "subject-1", got[0].SubjectID)
	assert.Equal(t, "idle", got[0].Get(events.DataReason))
}

func TestMonitor_AbsoluteExpiry(t *testing.T) {
	m, clock := newTestManager(t)
	bus := events.NewBus()
	rec := &recorder{}
	bus.Subscribe(events.AbsoluteExpired, rec.handle)

	m.Start("subject-1", "")
	mon := NewMonitor(m, bus, 0)

	for i := 0; i < 15; i++ {
		clock.Advance(30 * time.Minute)
		require.True(t, m.UpdateActivity())
	}
	clock.Advance(31 * time.Minute)
	mon.Check()

	got := rec.all()
	require.Len(t, got, 1)
	assert.Equal(t, "absolute", got[0].Get(events.DataReason))
}

func TestMonitor_NoSession(t *testing.T) {
	m, _ := newTestManager(t)
	mon := NewMonitor(m, events.NewBus(), time.Minute)
	assert.Equal(t, Verdict{}, mon.Check())
}

func TestMonitor_TickerLoop(t *testing.T) {
	m, clock := newTestManager(t)
	bus := events.NewBus()
	fired := make(chan events.Event, 1)

	var mon *Monitor
	bus.Subscribe(events.IdleExpired, func(e events.Event) {
		// stopping from the loop goroutine must not deadlock
		mon.Stop()
		fired <- e
	})

	m.Start("subject-1", "")
	mon = NewMonitor(m, bus, 5*time.Millisecond)
	mon.Start()
	mon.Start()
	require.True(t, mon.Running())

	clock.Advance(2 * time.Hour)

	select {
	case e := <-fired:
		assert.Equal(t, events.IdleExpired, e.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("expiry event not published")
	}
	assert.False(t, mon.Running())
	mon.Stop()
}
