package diagnostics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-session/pkg/events"
	"github.com/tendant/simple-session/pkg/utils"
)

var t0 = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

func TestDetector_ThresholdWithinWindow(t *testing.T) {
	clock := utils.NewManualClock(t0)
	bus := events.NewBus()
	var flagged []events.Event
	bus.Subscribe(events.SuspiciousActivity, func(e events.Event) { flagged = append(flagged, e) })

	hook := NewConsoleHook(bus, clock)
	d := NewDetector(bus, clock, 3, time.Minute)
	defer d.Close()

	hook.Report("devtools")
	clock.Advance(20 * time.Second)
	hook.Report("devtools")
	assert.Empty(t, flagged)

	clock.Advance(20 * time.Second)
	hook.Report("devtools")
	require.Len(t, flagged, 1)
	assert.Equal(t, "console-access", flagged[0].Get(events.DataReason))
	assert.Equal(t, "3", flagged[0].Get(events.DataCount))

	// further reports in the same window do not re-fire
	hook.Report("devtools")
	assert.Len(t, flagged, 1)

	clock.Advance(time.Minute)
	hook.Report("devtools")
	hook.Report("devtools")
	hook.Report("devtools")
	assert.Len(t, flagged, 2)
}

func TestDetector_OldReportsExpire(t *testing.T) {
	clock := utils.NewManualClock(t0)
	bus := events.NewBus()
	count := 0
	bus.Subscribe(events.SuspiciousActivity, func(events.Event) { count++ })

	hook := NewConsoleHook(bus, clock)
	d := NewDetector(bus, clock, 2, time.Minute)

	hook.Report("a")
	clock.Advance(2 * time.Minute)
	hook.Report("b")
	assert.Equal(t, 0, count)

	d.Close()
	hook.Report("c")
	assert.Equal(t, 0, count)
	assert.Equal(t, 0, bus.SubscriberCount(events.ConsoleAccessed))
}

func TestDetector_Flag(t *testing.T) {
	bus := events.NewBus()
	var got events.Event
	bus.Subscribe(events.SuspiciousActivity, func(e events.Event) { got = e })

	d := NewDetector(bus, nil, 0, time.Minute)
	defer d.Close()
	d.Flag("token-reuse")

	assert.Equal(t, events.SuspiciousActivity, got.Type)
	assert.Equal(t, "token-reuse", got.Get(events.DataReason))
	assert.Equal(t, "", got.Get(events.DataCount))
}
