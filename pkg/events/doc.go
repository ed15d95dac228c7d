// Package events provides the in-process security event bus.
//
// Components publish expiry, suspicious-activity, connectivity and console
// signals; the login orchestrator, posture tracker and metrics subscribe.
//
//	bus := events.NewBus()
//	unsubscribe := bus.Subscribe(events.IdleExpired, func(e events.Event) {
//		slog.Info("Session expired", "session_id", e.SessionID)
//	})
//	defer unsubscribe()
//
// There is no persistence and no delivery across tabs.
package events
