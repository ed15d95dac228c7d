package events

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_SubscriptionOrder(t *testing.T) {
	bus := NewBus()
	var got []string

	bus.Subscribe(IdleExpired, func(Event) { got = append(got, "first") })
	bus.Subscribe(IdleExpired, func(Event) { got = append(got, "second") })
	bus.Subscribe(AbsoluteExpired, func(Event) { got = append(got, "other") })

	bus.Publish(Event{Type: IdleExpired, SessionID: uuid.New()})

	assert.Equal(t, []string{"first", "second"}, got)
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus()
	calls := 0

	unsubscribe := bus.Subscribe(ConsoleAccessed, func(Event) { calls++ })
	require.Equal(t, 1, bus.SubscriberCount(ConsoleAccessed))

	bus.Publish(Event{Type: ConsoleAccessed})
	unsubscribe()
	unsubscribe()
	bus.Publish(Event{Type: ConsoleAccessed})

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, bus.SubscriberCount(ConsoleAccessed))
}

func TestBus_PanicIsContained(t *testing.T) {
	bus := NewBus()
	delivered := false

	bus.Subscribe(SuspiciousActivity, func(Event) { panic("boom") })
	bus.Subscribe(SuspiciousActivity, func(Event) { delivered = true })

	assert.NotPanics(t, func() {
		bus.Publish(Event{Type: SuspiciousActivity})
	})
	assert.True(t, delivered)
}

func TestBus_HandlersMayPublishAndUnsubscribe(t *testing.T) {
	bus := NewBus()
	var order []EventType

	var unsubscribe func()
	unsubscribe = bus.Subscribe(IdleExpired, func(e Event) {
		order = append(order, e.Type)
		unsubscribe()
		bus.Publish(Event{Type: SignedOut})
	})
	bus.Subscribe(SignedOut, func(e Event) { order = append(order, e.Type) })

	bus.Publish(Event{Type: IdleExpired})
	bus.Publish(Event{Type: IdleExpired})

	assert.Equal(t, []EventType{IdleExpired, SignedOut}, order)
}

func TestBus_ConcurrentPublish(t *testing.T) {
	bus := NewBus()
	var (
		mu    sync.Mutex
		count int
	)
	bus.Subscribe(ConnectivityChanged, func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Publish(Event{Type: ConnectivityChanged})
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, count)
}

func TestEvent_Helpers(t *testing.T) {
	assert.True(t, Event{Type: IdleExpired}.IsExpiry())
	assert.True(t, Event{Type: AbsoluteExpired}.IsExpiry())
	assert.False(t, Event{Type: SignedOut}.IsExpiry())

	e := Event{Type: ConnectivityChanged, Data: map[string]string{DataOnline: "false"}}
	assert.Equal(t, "false", e.Get(DataOnline))
	assert.Equal(t, "", Event{}.Get(DataOnline))
}
