package secrets

import (
	"context"
	"strings"
	"testing"
)

func TestEnvResolver(t *testing.T) {
	t.Setenv("HUB_TEST_OWNER_KEY", "k-123")
	r := NewEnvResolver()

	tests := []struct {
		name    string
		ref     string
		want    string
		wantErr string
	}{
		{name: "set variable", ref: "env(HUB_TEST_OWNER_KEY)", want: "k-123"},
		{name: "unset variable", ref: "env(HUB_TEST_UNSET)", wantErr: "not set"},
		{name: "wrong scheme", ref: "vault(HUB_TEST_OWNER_KEY)", wantErr: "not env(VAR)"},
		{name: "unclosed ref", ref: "env(HUB_TEST_OWNER_KEY", wantErr: "not env(VAR)"},
		{name: "bare name", ref: "HUB_TEST_OWNER_KEY", wantErr: "not env(VAR)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Resolve(context.Background(), tt.ref)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("Resolve(%q) error = %v, want containing %q", tt.ref, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve(%q) returned error: %v", tt.ref, err)
			}
			if got != tt.want {
				t.Errorf("Resolve(%q) = %q, want %q", tt.ref, got, tt.want)
			}
		})
	}
}
