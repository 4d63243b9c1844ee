// Package validation provides input validation and HTTP request guards.
package validation

import (
	"encoding/json"
	"log"
	"net/http"
	"time"
)

// ValidationMiddleware provides HTTP middleware for request validation
type ValidationMiddleware struct {
	validator *InputValidator
	logger    *log.Logger
}

// NewValidationMiddleware creates a new validation middleware
func NewValidationMiddleware(validator *InputValidator, logger *log.Logger) *ValidationMiddleware {
	if validator == nil {
		validator = NewDefaultInputValidator()
	}
	return &ValidationMiddleware{
		validator: validator,
		logger:    logger,
	}
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string    `json:"error"`
	Code    string    `json:"code"`
	Details string    `json:"details,omitempty"`
	Time    time.Time `json:"timestamp"`
}

// ValidateContentType middleware ensures Content-Type is application/json
func (vm *ValidationMiddleware) ValidateContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "POST" || r.Method == "PUT" || r.Method == "PATCH" {
			contentType := r.Header.Get("Content-Type")
			if contentType != "" && contentType != "application/json" {
				vm.sendError(w, ErrInvalidContentType, "INVALID_CONTENT_TYPE",
					http.StatusUnsupportedMediaType)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// LimitRequestBody middleware enforces request body size limits
func (vm *ValidationMiddleware) LimitRequestBody(maxSize int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxSize)
			next.ServeHTTP(w, r)
		})
	}
}

// SecureHeadersMiddleware adds security headers
func (vm *ValidationMiddleware) SecureHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Content-Security-Policy", "default-src 'self'")
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")

		next.ServeHTTP(w, r)
	})
}

// LogRequestMiddleware logs incoming requests
func (vm *ValidationMiddleware) LogRequestMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		if vm.logger != nil {
			vm.logger.Printf("[%s] %s %s from %s",
				time.Now().Format(time.RFC3339),
				r.Method,
				r.URL.Path,
				r.RemoteAddr,
			)
		}

		next.ServeHTTP(w, r)

		duration := time.Since(start)
		if vm.logger != nil {
			vm.logger.Printf("[%s] %s %s completed in %v",
				time.Now().Format(time.RFC3339),
				r.Method,
				r.URL.Path,
				duration,
			)
		}
	})
}

// sendError sends a standardized error response
func (vm *ValidationMiddleware) sendError(w http.ResponseWriter, err error, code string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{
		Error: err.Error(),
		Code:  code,
		Time:  time.Now(),
	}

	if vm.logger != nil {
		vm.logger.Printf("Error [%s]: %s", code, err.Error())
	}

	_ = json.NewEncoder(w).Encode(response)
}
