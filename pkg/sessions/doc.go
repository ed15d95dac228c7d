// Package sessions tracks the validity of one authenticated browser session.
//
// Check and Evaluate are pure functions of time. Manager owns the session of
// a single tab and Monitor turns threshold crossings into expiry events on the
// security event bus, at most once per session instance.
package sessions
