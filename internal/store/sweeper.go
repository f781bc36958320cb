package store

import (
	"log/slog"

	"github.com/robfig/cron/v3"
)

// SweepFunc runs one sweep pass and returns the number of records removed.
type SweepFunc func() int

// Sweeper schedules periodic sweep passes over the registries. It has an
// explicit Start/Stop lifecycle owned by the application, so tests exercise
// sweeps by calling the SweepFuncs directly instead of waiting on timers.
type Sweeper struct {
	cron   *cron.Cron
	logger *slog.Logger
}

// NewSweeper creates a sweeper with no scheduled jobs.
func NewSweeper(logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		cron:   cron.New(),
		logger: logger,
	}
}

// Schedule registers a sweep pass at a cron spec (e.g. "@every 10m").
func (s *Sweeper) Schedule(spec, name string, fn SweepFunc) error {
	_, err := s.cron.AddFunc(spec, func() {
		if removed := fn(); removed > 0 {
			s.logger.Info("sweep removed records", "sweep", name, "removed", removed)
		}
	})
	return err
}

// Start begins running scheduled sweeps in the background.
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for any running sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
