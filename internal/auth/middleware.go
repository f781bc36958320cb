package auth

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// AdminMiddleware protects privileged routes with Bearer authentication
// against the owner key. If rl is non-nil, failed attempts are tracked per
// client IP and repeat offenders are blocked for a few minutes.
func AdminMiddleware(ownerKey string, rl *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientIP := ClientIPKeyFunc(r)
			if rl != nil && rl.IsAuthBlocked(clientIP) {
				w.Header().Set("Retry-After", fmt.Sprintf("%d", rl.AuthBlockRetryAfter(clientIP)))
				writeAuthError(w, http.StatusTooManyRequests, "too many failed authentication attempts, try again later")
				return
			}

			if ownerKey == "" {
				writeAuthError(w, http.StatusUnauthorized, "admin access is not configured")
				return
			}

			header := r.Header.Get("Authorization")
			if header == "" {
				if rl != nil {
					rl.AuthFailure(clientIP)
				}
				writeAuthError(w, http.StatusUnauthorized, "missing Authorization header")
				return
			}

			const prefix = "Bearer "
			if !strings.HasPrefix(header, prefix) {
				if rl != nil {
					rl.AuthFailure(clientIP)
				}
				writeAuthError(w, http.StatusUnauthorized, "invalid Authorization format, expected 'Bearer <key>'")
				return
			}

			if !ValidateKey(strings.TrimPrefix(header, prefix), ownerKey) {
				if rl != nil {
					rl.AuthFailure(clientIP)
				}
				writeAuthError(w, http.StatusUnauthorized, "invalid key")
				return
			}

			if rl != nil {
				rl.AuthSuccess(clientIP)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":   http.StatusText(status),
		"message": message,
	})
}
