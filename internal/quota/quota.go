// Package quota enforces per-identifier daily usage caps.
package quota

import (
	"fmt"
	"sync"
	"time"

	"github.com/raeldev/apihub/internal/fault"
	"github.com/raeldev/apihub/internal/store"
)

// Defaults matching the production limits.
const (
	DefaultLimit  = 3
	DefaultWindow = 24 * time.Hour
)

type counter struct {
	Count     int
	ResetTime time.Time
}

// Status is a point-in-time view of an identifier's usage.
type Status struct {
	Used      int       `json:"used"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetTime time.Time `json:"reset_time"`
	ResetIn   int       `json:"reset_in_seconds"`
}

// Counter tracks usage per identifier over a fixed window. Counters reset
// lazily on the first check after their window elapses; they are never swept.
type Counter struct {
	counters *store.Store[counter]
	now      func() time.Time

	// opMu serializes each counter's read-modify-write so parallel checks
	// cannot both be admitted at the cap.
	opMu sync.Mutex

	mu     sync.RWMutex
	limit  int
	window time.Duration
}

// Option configures the Counter.
type Option func(*Counter)

// WithLimit sets the per-window cap.
func WithLimit(limit int) Option {
	return func(c *Counter) { c.limit = limit }
}

// WithWindow sets the reset window.
func WithWindow(window time.Duration) Option {
	return func(c *Counter) { c.window = window }
}

// WithClock replaces the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Counter) {
		c.now = now
		c.counters.SetClock(now)
	}
}

// New creates a counter with the default limit and 24 hour window.
func New(opts ...Option) *Counter {
	c := &Counter{
		counters: store.New[counter](),
		limit:    DefaultLimit,
		window:   DefaultWindow,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check consumes one quota slot for identifier if any remain. On rejection
// it returns a DailyLimitExceeded fault carrying the reset metadata.
func (c *Counter) Check(identifier string) (Status, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	now := c.now()
	limit, window := c.limits()

	cur := counter{ResetTime: now.Add(window)}
	if rec, ok := c.counters.Get(identifier); ok && now.Before(rec.Payload.ResetTime) {
		cur = rec.Payload
	}

	if cur.Count >= limit {
		resetIn := cur.ResetTime.Sub(now)
		hours := int(resetIn.Hours())
		minutes := int(resetIn.Minutes()) % 60
		return Status{}, fault.New(fault.KindDailyLimitExceeded,
			"daily limit reached (%d/day), resets in %dh %dm", limit, hours, minutes).
			WithMeta("used", cur.Count).
			WithMeta("limit", limit).
			WithMeta("reset_in_seconds", int(resetIn.Seconds())).
			WithMeta("reset_time", cur.ResetTime.Format(time.RFC3339))
	}

	cur.Count++
	c.counters.Put(identifier, cur)

	return c.status(identifier, cur, now), nil
}

// Rollback returns one quota slot to identifier, floored at zero. Used when
// an operation that consumed a slot fails for a reason unrelated to the
// quota itself; it is a best-effort refund, not strict accounting.
func (c *Counter) Rollback(identifier string) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.counters.Update(identifier, func(cur *counter) {
		if cur.Count > 0 {
			cur.Count--
		}
	})
}

// GetStatus reads current usage without consuming a slot.
func (c *Counter) GetStatus(identifier string) Status {
	now := c.now()
	limit, window := c.limits()
	if rec, ok := c.counters.Get(identifier); ok && now.Before(rec.Payload.ResetTime) {
		return c.status(identifier, rec.Payload, now)
	}
	return Status{
		Limit:     limit,
		Remaining: limit,
		ResetTime: now.Add(window),
		ResetIn:   int(window.Seconds()),
	}
}

// SetLimits replaces the cap and window. Existing counters keep their reset
// times; only the cap applied to future checks changes.
func (c *Counter) SetLimits(limit int, window time.Duration) {
	if limit < 1 || window <= 0 {
		return
	}
	c.mu.Lock()
	c.limit = limit
	c.window = window
	c.mu.Unlock()
}

func (c *Counter) limits() (int, time.Duration) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.limit, c.window
}

// ResetAll clears every counter. Call sites must gate this behind the owner
// credential.
func (c *Counter) ResetAll() int {
	return c.counters.Clear()
}

// ActiveIdentifiers returns the number of identifiers with a live counter.
func (c *Counter) ActiveIdentifiers() int {
	return c.counters.Len()
}

// TotalUsed sums current usage across identifiers, for the overview stats.
func (c *Counter) TotalUsed() int {
	total := 0
	for _, cur := range c.counters.Snapshot() {
		total += cur.Count
	}
	return total
}

func (c *Counter) status(_ string, cur counter, now time.Time) Status {
	limit, _ := c.limits()
	return Status{
		Used:      cur.Count,
		Limit:     limit,
		Remaining: limit - cur.Count,
		ResetTime: cur.ResetTime,
		ResetIn:   int(cur.ResetTime.Sub(now).Seconds()),
	}
}

// String implements fmt.Stringer for log output.
func (s Status) String() string {
	return fmt.Sprintf("%d/%d used, resets %s", s.Used, s.Limit, s.ResetTime.Format(time.RFC3339))
}
