package secrets

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

const placeholder = "[redacted]"

// Redactor wraps a slog handler and scrubs known secret values from
// messages and string attributes before they reach the inner handler.
type Redactor struct {
	inner  slog.Handler
	mu     *sync.RWMutex
	values map[string]struct{}
}

func NewRedactor(inner slog.Handler, values ...string) *Redactor {
	r := &Redactor{
		inner:  inner,
		mu:     &sync.RWMutex{},
		values: make(map[string]struct{}),
	}
	for _, v := range values {
		r.Add(v)
	}
	return r
}

// Add registers a value to scrub. Empty values are ignored.
func (r *Redactor) Add(value string) {
	if value == "" {
		return
	}
	r.mu.Lock()
	r.values[value] = struct{}{}
	r.mu.Unlock()
}

func (r *Redactor) Enabled(ctx context.Context, level slog.Level) bool {
	return r.inner.Enabled(ctx, level)
}

func (r *Redactor) Handle(ctx context.Context, rec slog.Record) error {
	values := r.snapshot()
	if len(values) == 0 {
		return r.inner.Handle(ctx, rec)
	}

	out := slog.NewRecord(rec.Time, rec.Level, scrub(rec.Message, values), rec.PC)
	rec.Attrs(func(a slog.Attr) bool {
		if a.Value.Kind() == slog.KindString {
			a = slog.String(a.Key, scrub(a.Value.String(), values))
		}
		out.AddAttrs(a)
		return true
	})
	return r.inner.Handle(ctx, out)
}

// WithAttrs shares the value set, so Add on the root reaches derived handlers.
func (r *Redactor) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Redactor{inner: r.inner.WithAttrs(attrs), mu: r.mu, values: r.values}
}

// WithGroup shares the value set, so Add on the root reaches derived handlers.
func (r *Redactor) WithGroup(name string) slog.Handler {
	return &Redactor{inner: r.inner.WithGroup(name), mu: r.mu, values: r.values}
}

func (r *Redactor) snapshot() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.values))
	for v := range r.values {
		out = append(out, v)
	}
	return out
}

func scrub(s string, values []string) string {
	for _, v := range values {
		s = strings.ReplaceAll(s, v, placeholder)
	}
	return s
}
