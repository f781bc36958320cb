package fault

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	err := New(KindSessionNotFound, "session %q not found", "sess_x")
	if KindOf(err) != KindSessionNotFound {
		t.Errorf("KindOf = %q, want %q", KindOf(err), KindSessionNotFound)
	}
	if err.Error() != `session "sess_x" not found` {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestKindOfWrapped(t *testing.T) {
	inner := New(KindAuthExpired, "nonce rejected")
	outer := fmt.Errorf("continue chat: %w", inner)

	if KindOf(outer) != KindAuthExpired {
		t.Errorf("KindOf through wrap = %q, want %q", KindOf(outer), KindAuthExpired)
	}
	if !IsKind(outer, KindAuthExpired) {
		t.Error("IsKind through wrap = false, want true")
	}
}

func TestKindOfPlainError(t *testing.T) {
	if KindOf(errors.New("boom")) != "" {
		t.Error("plain errors should have empty kind")
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(KindUpstreamUnavailable, cause, "fetch page")

	if !errors.Is(err, cause) {
		t.Error("errors.Is should see the cause")
	}
	if err.Error() != "fetch page: connection refused" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestWithMeta(t *testing.T) {
	err := New(KindDailyLimitExceeded, "limit reached").
		WithMeta("reset_in_seconds", 3600).
		WithMeta("limit", 3)

	meta := MetaOf(fmt.Errorf("submit: %w", err))
	if meta == nil {
		t.Fatal("MetaOf returned nil")
	}
	if meta["reset_in_seconds"] != 3600 {
		t.Errorf("reset_in_seconds = %v, want 3600", meta["reset_in_seconds"])
	}
	if meta["limit"] != 3 {
		t.Errorf("limit = %v, want 3", meta["limit"])
	}
}
