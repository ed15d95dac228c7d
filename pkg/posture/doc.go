// Package posture scores the security posture of a tab.
//
// Evaluate is a pure weighted sum: HTTPS 25, valid session 25, online 15,
// required headers 20, no suspicious activity 15. Scores of 80 and above are
// Excellent, 60 Good, 40 Fair, anything lower Poor.
package posture
