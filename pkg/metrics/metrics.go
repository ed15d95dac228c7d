// Package metrics exports Prometheus counters for the sign-in flow and the
// security event bus.
//
// Usage:
//
//	collector := metrics.NewCollector(prometheus.DefaultRegisterer)
//	flow, _ := loginflow.NewOrchestrator(deps, loginflow.WithTransitionObserver(collector.ObserveTransition))
//	unsubscribe := collector.SubscribeTo(bus)
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/tendant/simple-session/pkg/events"
	"github.com/tendant/simple-session/pkg/loginflow"
	"github.com/tendant/simple-session/pkg/ratelimit"
)

const namespace = "simple_session"

// EventTypes are the bus events counted by SubscribeTo
var EventTypes = []events.EventType{
	events.IdleExpired,
	events.AbsoluteExpired,
	events.SuspiciousActivity,
	events.ConnectivityChanged,
	events.ConsoleAccessed,
	events.LoginSucceeded,
	events.SignedOut,
}

// Collector holds the counters. One collector is shared by all tabs.
type Collector struct {
	// FlowTransitionsTotal counts state machine transitions.
	FlowTransitionsTotal *prometheus.CounterVec
	// SecurityEventsTotal counts bus events by type.
	SecurityEventsTotal *prometheus.CounterVec

	factory promauto.Factory
}

// NewCollector registers the counters with reg. A nil reg leaves them unregistered.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		factory: factory,
		FlowTransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "flow_transitions_total",
				Help:      "Total number of login flow state transitions",
			},
			[]string{"from", "to"},
		),
		SecurityEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "security_events_total",
				Help:      "Total number of security events published by type",
			},
			[]string{"type"},
		),
	}
}

// ObserveTransition records a state change. It satisfies loginflow.TransitionObserver.
func (c *Collector) ObserveTransition(from, to loginflow.State) {
	c.FlowTransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
}

// RecordEvent records a published event
func (c *Collector) RecordEvent(e events.Event) {
	c.SecurityEventsTotal.WithLabelValues(string(e.Type)).Inc()
}

// SubscribeTo counts every event type of EventTypes published on bus.
// The returned func removes the subscriptions.
func (c *Collector) SubscribeTo(bus *events.Bus) func() {
	unsubscribe := make([]func(), 0, len(EventTypes))
	for _, t := range EventTypes {
		unsubscribe = append(unsubscribe, bus.Subscribe(t, c.RecordEvent))
	}
	return func() {
		for _, fn := range unsubscribe {
			fn()
		}
	}
}

// WatchLimiter exports the active key count of a rate limiter as
// simple_session_ratelimit_active_keys{limiter=name}, read at scrape time.
func (c *Collector) WatchLimiter(name string, stats func() ratelimit.Stats) {
	c.factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "ratelimit_active_keys",
			Help:        "Number of keys with a live attempt window",
			ConstLabels: prometheus.Labels{"limiter": name},
		},
		func() float64 { return float64(stats().ActiveKeys) },
	)
}
