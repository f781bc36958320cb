package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/raeldev/apihub/internal/telemetry"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "apihub.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Quota.DailyLimit != 3 {
		t.Errorf("DailyLimit = %d, want 3", cfg.Quota.DailyLimit)
	}
	if cfg.Chat.IdleMax != 30*time.Minute {
		t.Errorf("IdleMax = %v, want 30m", cfg.Chat.IdleMax)
	}
	if cfg.Tasks.MaxPollAttempts != 300 {
		t.Errorf("MaxPollAttempts = %d, want 300", cfg.Tasks.MaxPollAttempts)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9000"
chat:
  page_url: https://upstream.example.com/chat/
  ajax_url: https://upstream.example.com/wp-admin/admin-ajax.php
  models:
    grok: "25872"
    gemini: "25866"
  idle_max: 10m
quota:
  daily_limit: 5
`)
	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.Addr != ":9000" {
		t.Errorf("Addr = %q", cfg.Server.Addr)
	}
	if cfg.Chat.Models["grok"] != "25872" {
		t.Errorf("Models = %v", cfg.Chat.Models)
	}
	if cfg.Chat.IdleMax != 10*time.Minute {
		t.Errorf("IdleMax = %v", cfg.Chat.IdleMax)
	}
	if cfg.Quota.DailyLimit != 5 {
		t.Errorf("DailyLimit = %d", cfg.Quota.DailyLimit)
	}
	// Untouched sections keep their defaults.
	if cfg.Tasks.Retention != time.Hour {
		t.Errorf("Retention = %v, want 1h", cfg.Tasks.Retention)
	}
}

func TestLoadResolvesOwnerKey(t *testing.T) {
	t.Setenv("APIHUB_TEST_OWNER_KEY", "s3cret")
	path := writeConfig(t, `
tasks:
  owner_key_ref: env(APIHUB_TEST_OWNER_KEY)
`)
	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Tasks.OwnerKey != "s3cret" {
		t.Errorf("OwnerKey = %q, want s3cret", cfg.Tasks.OwnerKey)
	}
}

func TestLoadRejectsMissingSecret(t *testing.T) {
	path := writeConfig(t, `
tasks:
  owner_key_ref: env(APIHUB_TEST_UNSET_VAR)
`)
	if _, err := Load(path, nil); err == nil || !strings.Contains(err.Error(), "owner key") {
		t.Fatalf("err = %v, want owner key resolution failure", err)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty addr", func(c *Config) { c.Server.Addr = "" }, "server.addr"},
		{"zero limit", func(c *Config) { c.Quota.DailyLimit = 0 }, "daily_limit"},
		{"bad backend", func(c *Config) { c.Storage.Backend = "ftp" }, "storage.backend"},
		{"s3 without bucket", func(c *Config) { c.Storage.Backend = "s3" }, "s3_bucket"},
		{"zero poll interval", func(c *Config) { c.Tasks.PollInterval = 0 }, "poll_interval"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("err = %v, want mention of %s", err, tc.want)
			}
		})
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	path := writeConfig(t, "server: [not, a, map")
	if _, err := Load(path, nil); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestWatcherDeliversReload(t *testing.T) {
	path := writeConfig(t, "server:\n  addr: \":9000\"\n")

	var mu sync.Mutex
	var got *Config
	w, err := NewWatcher(path, nil, telemetry.NewLogger(os.Stderr, slog.LevelError), func(cfg *Config) {
		mu.Lock()
		got = cfg
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("NewWatcher returned error: %v", err)
	}
	w.debounce = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = w.Run(ctx)
		close(done)
	}()

	// Give the watcher a moment to register, then rewrite the file.
	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(path, []byte("server:\n  addr: \":9100\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		ok := got != nil && got.Server.Addr == ":9100"
		mu.Unlock()
		if ok {
			cancel()
			<-done
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("reload never delivered")
}

func TestWatcherIgnoresInvalidReload(t *testing.T) {
	path := writeConfig(t, "server:\n  addr: \":9000\"\n")

	delivered := make(chan *Config, 1)
	w, err := NewWatcher(path, nil, telemetry.NewLogger(os.Stderr, slog.LevelError), func(cfg *Config) {
		delivered <- cfg
	})
	if err != nil {
		t.Fatalf("NewWatcher returned error: %v", err)
	}
	w.debounce = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(path, []byte("server:\n  addr: \"\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-delivered:
		t.Fatalf("invalid config was delivered: %+v", cfg)
	case <-time.After(300 * time.Millisecond):
	}
}
