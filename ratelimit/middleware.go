package ratelimit

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/marketsim/exchange/logging"
)

// Middleware creates HTTP middleware for rate limiting
type Middleware struct {
	limiter      *TokenBucketLimiter
	keyExtractor KeyExtractor
	errorHandler ErrorHandler
	skipPaths    map[string]bool
}

// KeyExtractor extracts the rate limit key from the request
type KeyExtractor func(r *http.Request) string

// ErrorHandler handles rate limit exceeded errors
type ErrorHandler func(w http.ResponseWriter, r *http.Request, result *RateLimitResult)

// MiddlewareConfig configures the rate limiting middleware
type MiddlewareConfig struct {
	Limiter      *TokenBucketLimiter
	KeyExtractor KeyExtractor
	ErrorHandler ErrorHandler
	SkipPaths    []string // Paths to skip rate limiting (e.g., /healthz, /metrics)
}

// NewMiddleware creates a new rate limiting middleware
func NewMiddleware(config MiddlewareConfig) *Middleware {
	if config.KeyExtractor == nil {
		config.KeyExtractor = ShareholderAndIPKeyExtractor
	}

	if config.ErrorHandler == nil {
		config.ErrorHandler = DefaultErrorHandler
	}

	skipPaths := make(map[string]bool)
	for _, path := range config.SkipPaths {
		skipPaths[path] = true
	}

	return &Middleware{
		limiter:      config.Limiter,
		keyExtractor: config.KeyExtractor,
		errorHandler: config.ErrorHandler,
		skipPaths:    skipPaths,
	}
}

// Handler returns an HTTP middleware handler
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		clientKey := m.keyExtractor(r)

		result, err := m.limiter.Allow(r.Context(), clientKey)
		if err != nil {
			// Fail open: a broken limiter must not take trading down
			logging.GetLogger().WithField("error", err.Error()).Warn("Rate limiter error, allowing request")
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", m.limiter.maxTokens))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", result.Remaining))

		if !result.Allowed {
			m.errorHandler(w, r, result)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// ShareholderAndIPKeyExtractor keys on shareholder_id when the request
// carries one, falling back to the client IP.
func ShareholderAndIPKeyExtractor(r *http.Request) string {
	if shareholderID := r.URL.Query().Get("shareholder_id"); shareholderID != "" {
		return "shareholder:" + shareholderID
	}

	if shareholderID := r.Header.Get("X-Shareholder-ID"); shareholderID != "" {
		return "shareholder:" + shareholderID
	}

	return "ip:" + GetClientIP(r)
}

// IPKeyExtractor uses only IP address for rate limiting
func IPKeyExtractor(r *http.Request) string {
	return "ip:" + GetClientIP(r)
}

// GetClientIP extracts the client's IP address from the request
func GetClientIP(r *http.Request) string {
	// X-Forwarded-For can contain multiple IPs, take the first one
	forwarded := r.Header.Get("X-Forwarded-For")
	if forwarded != "" {
		ips := strings.Split(forwarded, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	realIP := r.Header.Get("X-Real-IP")
	if realIP != "" {
		return realIP
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return ip
}

// DefaultErrorHandler returns HTTP 429 with Retry-After header
func DefaultErrorHandler(w http.ResponseWriter, r *http.Request, result *RateLimitResult) {
	retryAfterSeconds := int(result.RetryAfter.Seconds()) + 1

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSeconds))
	w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", result.ResetAt.Unix()))
	w.WriteHeader(http.StatusTooManyRequests)

	logging.GetLogger().WithField("retry_after", retryAfterSeconds).Warn("Rate limit exceeded")

	fmt.Fprintf(w, `{
		"success": false,
		"error": "Rate limit exceeded",
		"message": "Too many requests. Please slow down.",
		"retry_after_seconds": %d,
		"reset_at": "%s"
	}`, retryAfterSeconds, result.ResetAt.Format(time.RFC3339))
}
