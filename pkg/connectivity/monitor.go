package connectivity

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/tendant/simple-session/pkg/events"
	"github.com/tendant/simple-session/pkg/utils"
)

// Probe reports whether the network is reachable
type Probe func(ctx context.Context) bool

// Monitor tracks online state and publishes connectivity-changed on every change
type Monitor struct {
	bus   *events.Bus
	clock utils.Clock

	mu     sync.Mutex
	online bool
}

// NewMonitor creates a monitor that starts online
func NewMonitor(bus *events.Bus, clock utils.Clock) *Monitor {
	return &Monitor{
		bus:    bus,
		clock:  utils.OrSystem(clock),
		online: true,
	}
}

// Online returns the last known state
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Set records the state. It returns true and publishes an event only when the state changed.
func (m *Monitor) Set(online bool) bool {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return false
	}
	m.online = online
	m.mu.Unlock()

	slog.Info("Connectivity changed", "online", online)
	m.bus.Publish(events.Event{
		Type:       events.ConnectivityChanged,
		OccurredAt: m.clock.Now(),
		Data:       map[string]string{events.DataOnline: strconv.FormatBool(online)},
	})
	return true
}

// Run polls probe every interval until ctx is done
func (m *Monitor) Run(ctx context.Context, probe Probe, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Set(probe(ctx))
		}
	}
}

// HTTPProbe returns a probe issuing a HEAD request to url. Any response below 500 counts as online.
func HTTPProbe(client *http.Client, url string) Probe {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return func(ctx context.Context) bool {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			slog.Error("Invalid connectivity probe request", "url", url, "error", err)
			return false
		}
		resp, err := client.Do(req)
		if err != nil {
			slog.Debug("Connectivity probe failed", "url", url, "error", err)
			return false
		}
		resp.Body.Close()
		return resp.StatusCode < http.StatusInternalServerError
	}
}
