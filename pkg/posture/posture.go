package posture

import (
	"net/http"
	"strings"
)

// Level is the coarse posture rating shown to users
type Level string

const (
	LevelExcellent Level = "Excellent"
	LevelGood      Level = "Good"
	LevelFair      Level = "Fair"
	LevelPoor      Level = "Poor"
)

// Signals are the facts the score is computed from
type Signals struct {
	HTTPS                  bool `json:"https"`
	SessionValid           bool `json:"session_valid"`
	Online                 bool `json:"online"`
	RequiredHeadersPresent bool `json:"required_headers_present"`
	SuspiciousActivity     bool `json:"suspicious_activity"`
}

// Weights assign points to each passing signal
type Weights struct {
	HTTPS           int
	SessionValid    int
	Online          int
	RequiredHeaders int
	NoSuspicious    int
}

// DefaultWeights sum to 100
func DefaultWeights() Weights {
	return Weights{
		HTTPS:           25,
		SessionValid:    25,
		Online:          15,
		RequiredHeaders: 20,
		NoSuspicious:    15,
	}
}

// Score is the evaluated posture
type Score struct {
	Value int   `json:"value"`
	Level Level `json:"level"`
}

// Evaluate scores signals with the default weights
func Evaluate(s Signals) Score {
	return EvaluateWithWeights(s, DefaultWeights())
}

// EvaluateWithWeights scores signals. The value is clamped to 0..100.
func EvaluateWithWeights(s Signals, w Weights) Score {
	value := 0
	if s.HTTPS {
		value += w.HTTPS
	}
	if s.SessionValid {
		value += w.SessionValid
	}
	if s.Online {
		value += w.Online
	}
	if s.RequiredHeadersPresent {
		value += w.RequiredHeaders
	}
	if !s.SuspiciousActivity {
		value += w.NoSuspicious
	}

	if value < 0 {
		value = 0
	}
	if value > 100 {
		value = 100
	}
	return Score{Value: value, Level: LevelFor(value)}
}

// LevelFor maps a value onto a level: 80 Excellent, 60 Good, 40 Fair
func LevelFor(value int) Level {
	switch {
	case value >= 80:
		return LevelExcellent
	case value >= 60:
		return LevelGood
	case value >= 40:
		return LevelFair
	default:
		return LevelPoor
	}
}

// DefaultRequiredHeaders lists the response headers a hardened deployment sends
func DefaultRequiredHeaders() []string {
	return []string{
		"Content-Security-Policy",
		"Strict-Transport-Security",
		"X-Content-Type-Options",
		"X-Frame-Options",
		"Referrer-Policy",
	}
}

// MissingHeaders returns the required headers absent or empty in h
func MissingHeaders(h http.Header, required []string) []string {
	var missing []string
	for _, name := range required {
		if strings.TrimSpace(h.Get(name)) == "" {
			missing = append(missing, name)
		}
	}
	return missing
}

// HeadersPresent reports whether every required header is set
func HeadersPresent(h http.Header, required []string) bool {
	return len(MissingHeaders(h, required)) == 0
}
