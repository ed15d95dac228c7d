package ratelimit

import (
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/render"
)

// Config holds HTTP rate limiting configuration
type Config struct {
	// Per-IP rate limiting
	PerIPEnabled     bool
	PerIPMaxRequests int
	PerIPWindow      time.Duration

	// Bucket TTL (how long to keep idle windows in memory)
	BucketTTL time.Duration

	// Headers to include in response
	IncludeHeaders bool
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		// Per-IP: 60 requests per minute
		PerIPEnabled:     true,
		PerIPMaxRequests: 60,
		PerIPWindow:      time.Minute,

		// Keep windows for 1 hour after last use
		BucketTTL: time.Hour,

		IncludeHeaders: true,
	}
}

// Middleware holds the rate limiting middleware state
type Middleware struct {
	config    *Config
	ipLimiter *Limiter
}

// NewMiddleware creates a new rate limiting middleware
func NewMiddleware(config *Config, opts ...Option) *Middleware {
	if config == nil {
		config = DefaultConfig()
	}

	m := &Middleware{config: config}

	if config.PerIPEnabled {
		opts = append([]Option{WithCleanupInterval(config.BucketTTL)}, opts...)
		m.ipLimiter = NewLimiter(config.PerIPMaxRequests, config.PerIPWindow, opts...)
	}

	return m
}

// Handler returns the rate limiting middleware handler
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.ipLimiter == nil {
			next.ServeHTTP(w, r)
			return
		}

		ip := getClientIP(r)
		key := Key("ip", ip)
		if ip != "" && !m.ipLimiter.Attempt(key) {
			m.rateLimitExceeded(w, r, m.ipLimiter.RetryAfter(key))
			return
		}

		if m.config.IncludeHeaders {
			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", m.config.PerIPMaxRequests))
			w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", m.ipLimiter.Remaining(key)))
		}

		next.ServeHTTP(w, r)
	})
}

// rateLimitExceeded handles rate limit exceeded responses
func (m *Middleware) rateLimitExceeded(w http.ResponseWriter, r *http.Request, retryAfter time.Duration) {
	slog.Warn("Rate limit exceeded",
		"ip", getClientIP(r),
		"path", r.URL.Path,
		"method", r.Method,
	)

	seconds := int(math.Ceil(retryAfter.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", fmt.Sprintf("%d", seconds))
	if m.config.IncludeHeaders {
		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", m.config.PerIPMaxRequests))
		w.Header().Set("X-RateLimit-Remaining", "0")
	}

	render.Status(r, http.StatusTooManyRequests)
	render.JSON(w, r, map[string]string{
		"code":  "RATE_LIMIT_EXCEEDED",
		"error": "Too many requests. Please try again later.",
	})
}

// getClientIP extracts the client IP address from the request
func getClientIP(r *http.Request) string {
	// Check X-Forwarded-For header (set by proxies)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// X-Forwarded-For can contain multiple IPs, take the first one
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	// Check X-Real-IP header (set by some proxies/load balancers)
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	// RemoteAddr is in format "IP:port", we only want the IP
	addr := r.RemoteAddr
	if idx := strings.LastIndex(addr, ":"); idx != -1 {
		return addr[:idx]
	}

	return addr
}

// GetStats returns statistics about the per-IP limiter. A disabled limiter reports zero stats.
func (m *Middleware) GetStats() Stats {
	if m.ipLimiter == nil {
		return Stats{}
	}
	return m.ipLimiter.GetStats()
}

// Reset resets rate limits for a specific IP
func (m *Middleware) Reset(ip string) {
	if m.ipLimiter != nil {
		m.ipLimiter.Reset(Key("ip", ip))
	}
}

// Close releases the limiter's cleanup goroutine
func (m *Middleware) Close() {
	if m.ipLimiter != nil {
		m.ipLimiter.Close()
	}
}
