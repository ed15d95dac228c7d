// Package tab composes the per-tab identity session layer: the security
// event bus, the session manager and its monitor, activity and connectivity
// tracking, console diagnostics, the posture tracker and the login flow.
//
// Dependencies that outlive a tab (identity provider, preference service,
// attempt limiters, metrics) are passed in Shared and reused by every tab a
// Registry opens.
package tab
