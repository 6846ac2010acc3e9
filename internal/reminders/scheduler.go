package reminders

import (
	"context"
	"time"

	"github.com/wolfman30/clinic-whatsapp-ai/pkg/logging"
)

// Runner is one reminder sweep.
type Runner interface {
	Run(ctx context.Context) (Summary, error)
}

// NextRun returns the next hour:minute in loc strictly after now.
func NextRun(now time.Time, hour, minute int, loc *time.Location) time.Time {
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, hour, minute, 0, 0, loc)
	}
	return next
}

// Scheduler fires a sweep every day at a fixed clinic-local time.
type Scheduler struct {
	runner Runner
	hour   int
	minute int
	loc    *time.Location
	logger *logging.Logger
	now    func() time.Time
	after  func(time.Duration) <-chan time.Time
}

func NewScheduler(runner Runner, hour, minute int, loc *time.Location, logger *logging.Logger) *Scheduler {
	if runner == nil {
		panic("reminders: runner required")
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Scheduler{
		runner: runner,
		hour:   hour,
		minute: minute,
		loc:    loc,
		logger: logger,
		now:    time.Now,
		after:  time.After,
	}
}

// Start blocks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	for {
		next := NextRun(s.now(), s.hour, s.minute, s.loc)
		s.logger.Info("next reminder sweep scheduled", "at", next.Format(time.RFC3339))
		select {
		case <-ctx.Done():
			s.logger.Info("reminder scheduler stopped")
			return
		case <-s.after(next.Sub(s.now())):
		}
		if _, err := s.runner.Run(ctx); err != nil {
			s.logger.Error("reminder sweep failed", "error", err)
		}
	}
}
