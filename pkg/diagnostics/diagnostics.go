package diagnostics

import (
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-session/pkg/events"
	"github.com/tendant/simple-session/pkg/utils"
)

// ConsoleHook is the opt-in entry point for developer-console access reports.
type ConsoleHook struct {
	bus   *events.Bus
	clock utils.Clock
}

// NewConsoleHook creates a hook publishing to bus
func NewConsoleHook(bus *events.Bus, clock utils.Clock) *ConsoleHook {
	return &ConsoleHook{bus: bus, clock: utils.OrSystem(clock)}
}

// Report publishes a console-accessed event
func (h *ConsoleHook) Report(source string) {
	h.bus.Publish(events.Event{
		Type:       events.ConsoleAccessed,
		OccurredAt: h.clock.Now(),
		Data:       map[string]string{events.DataSource: source},
	})
}

// Detector escalates repeated console access into suspicious activity.
type Detector struct {
	bus       *events.Bus
	clock     utils.Clock
	threshold int
	window    time.Duration

	mu          sync.Mutex
	reports     []time.Time
	flaggedAt   time.Time
	unsubscribe func()
}

// NewDetector subscribes to console-accessed. threshold reports inside window
// publish one suspicious-activity event for that window.
func NewDetector(bus *events.Bus, clock utils.Clock, threshold int, window time.Duration) *Detector {
	if threshold < 1 {
		threshold = 1
	}
	d := &Detector{
		bus:       bus,
		clock:     utils.OrSystem(clock),
		threshold: threshold,
		window:    window,
	}
	d.unsubscribe = bus.Subscribe(events.ConsoleAccessed, d.onConsoleAccessed)
	return d
}

func (d *Detector) onConsoleAccessed(e events.Event) {
	now := d.clock.Now()

	d.mu.Lock()
	cutoff := now.Add(-d.window)
	kept := d.reports[:0]
	for _, at := range d.reports {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	d.reports = append(kept, now)

	count := len(d.reports)
	fire := count >= d.threshold && (d.flaggedAt.IsZero() || now.Sub(d.flaggedAt) >= d.window)
	if fire {
		d.flaggedAt = now
	}
	d.mu.Unlock()

	if fire {
		slog.Warn("Repeated console access detected", "count", count, "source", e.Get(events.DataSource))
		d.publish(e.SessionID, e.SubjectID, "console-access", count)
	}
}

// Flag publishes suspicious-activity directly
func (d *Detector) Flag(reason string) {
	slog.Warn("Suspicious activity flagged", "reason", reason)
	d.publish(uuid.Nil, "", reason, 0)
}

func (d *Detector) publish(sessionID uuid.UUID, subjectID, reason string, count int) {
	data := map[string]string{events.DataReason: reason}
	if count > 0 {
		data[events.DataCount] = strconv.Itoa(count)
	}
	d.bus.Publish(events.Event{
		Type:       events.SuspiciousActivity,
		SessionID:  sessionID,
		SubjectID:  subjectID,
		OccurredAt: d.clock.Now(),
		Data:       data,
	})
}

// Close unsubscribes the detector
func (d *Detector) Close() {
	d.unsubscribe()
}
