// Package auth provides owner key validation, admin authentication
// middleware and per-client rate limiting for the hub's HTTP surface.
package auth

import "crypto/subtle"

// ValidateKey performs timing-safe comparison of the provided key
// against the expected key. An empty expected key never matches.
func ValidateKey(provided, expected string) bool {
	if expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1
}
