package secrets

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

func redactedLogger() (*Redactor, *bytes.Buffer) {
	var buf bytes.Buffer
	r := NewRedactor(slog.NewJSONHandler(&buf, nil))
	return r, &buf
}

func TestRedactorScrubsMessageAndAttrs(t *testing.T) {
	r, buf := redactedLogger()
	r.Add("owner-secret")

	logger := slog.New(r)
	logger.Info("rejected key owner-secret", "provided", "owner-secret", "route", "/v1/quota/reset")

	out := buf.String()
	if strings.Contains(out, "owner-secret") {
		t.Errorf("secret leaked into log output: %s", out)
	}
	if strings.Count(out, "[redacted]") != 2 {
		t.Errorf("want placeholder in message and attr, got: %s", out)
	}
	if !strings.Contains(out, "/v1/quota/reset") {
		t.Errorf("non-secret attr was altered: %s", out)
	}
}

func TestRedactorPassThroughWithoutValues(t *testing.T) {
	r, buf := redactedLogger()
	r.Add("")

	slog.New(r).Info("nothing secret here")
	if !strings.Contains(buf.String(), "nothing secret here") {
		t.Errorf("message altered with no registered values: %s", buf.String())
	}
}

func TestRedactorDerivedHandlersShareValues(t *testing.T) {
	r, buf := redactedLogger()
	child := slog.New(r).With("component", "server").WithGroup("req")

	// Values added after derivation still apply to the derived handler.
	r.Add("late-secret")
	child.Info("key late-secret seen", "token", "late-secret")

	out := buf.String()
	if strings.Contains(out, "late-secret") {
		t.Errorf("derived handler leaked secret: %s", out)
	}
}

func TestRedactorConcurrentAdd(t *testing.T) {
	r, _ := redactedLogger()
	logger := slog.New(r)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if n%2 == 0 {
				r.Add("secret-" + string(rune('a'+n)))
			} else {
				logger.Info("log line", "n", n)
			}
		}(i)
	}
	wg.Wait()
}
