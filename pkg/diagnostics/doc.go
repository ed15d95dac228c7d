// Package diagnostics provides the explicit console-access hook and the
// detector that escalates repeated access into suspicious activity.
package diagnostics
