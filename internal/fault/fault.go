// Package fault defines the typed error taxonomy shared by the registries.
// Errors carry a machine-readable kind plus optional structured metadata so
// callers never parse failure details out of message strings.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a failure at a component boundary.
type Kind string

const (
	// KindInvalidModel is returned when a chat model is not on the allow-list.
	KindInvalidModel Kind = "invalid_model"

	// KindInvalidParameter is returned for malformed caller input.
	KindInvalidParameter Kind = "invalid_parameter"

	// KindNonceNotFound is returned when the nonce cannot be extracted from
	// the upstream page.
	KindNonceNotFound Kind = "nonce_not_found"

	// KindUpstreamInvalidResponse is returned when the upstream replies with
	// an unexpected payload shape.
	KindUpstreamInvalidResponse Kind = "upstream_invalid_response"

	// KindUpstreamUnavailable is returned for network errors, timeouts, and
	// non-2xx responses from an upstream.
	KindUpstreamUnavailable Kind = "upstream_unavailable"

	// KindSessionNotFound is returned when a session ID is absent or expired.
	KindSessionNotFound Kind = "session_not_found"

	// KindTaskNotFound is returned when a task ID is unknown.
	KindTaskNotFound Kind = "task_not_found"

	// KindAuthExpired is returned when the upstream signals the session
	// credential is no longer valid. The affected session is evicted
	// immediately.
	KindAuthExpired Kind = "auth_expired"

	// KindDailyLimitExceeded is returned when the per-identifier quota is
	// exhausted. Metadata carries the reset time.
	KindDailyLimitExceeded Kind = "daily_limit_exceeded"

	// KindProcessingTimeout is returned when a task exceeds the maximum poll
	// attempt bound.
	KindProcessingTimeout Kind = "processing_timeout"

	// KindProcessingFailed is returned when the processing upstream reports
	// an explicit failure for a task.
	KindProcessingFailed Kind = "processing_failed"
)

// Error is a classified failure with optional metadata.
type Error struct {
	Kind    Kind
	Message string
	Meta    map[string]any
	cause   error
}

// New creates a fault of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a fault of the given kind that wraps an underlying error.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

// WithMeta attaches a metadata key/value and returns the same error.
func (e *Error) WithMeta(key string, value any) *Error {
	if e.Meta == nil {
		e.Meta = make(map[string]any)
	}
	e.Meta[key] = value
	return e
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// KindOf returns the kind of err, or the empty Kind for unclassified errors.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// MetaOf returns the metadata attached to err, or nil.
func MetaOf(err error) map[string]any {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Meta
	}
	return nil
}
