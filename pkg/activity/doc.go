// Package activity records user interaction against the live session.
//
// Pointer, keyboard, scroll and touch signals count while the page is
// visible. A hidden page coming back into view also counts. Writes are
// throttled with golang.org/x/time/rate.
package activity
