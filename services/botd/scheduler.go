package botd

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// SchedulerConfig configures the run scheduler.
type SchedulerConfig struct {
	Daemon *Daemon
	// Interval fires runs on a fixed cadence. Zero selects the daily run time.
	Interval  time.Duration
	RunHour   int
	RunMinute int
	Timeout   time.Duration
	Location  *time.Location
	Logger    *slog.Logger
	Now       func() time.Time
}

// Scheduler triggers every configured chain on a fixed cadence.
type Scheduler struct {
	daemon    *Daemon
	interval  time.Duration
	runHour   int
	runMinute int
	timeout   time.Duration
	location  *time.Location
	logger    *slog.Logger
	now       func() time.Time
}

// NewScheduler constructs a scheduler with sane defaults.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		daemon:    cfg.Daemon,
		interval:  cfg.Interval,
		runHour:   clampHour(cfg.RunHour),
		runMinute: clampMinute(cfg.RunMinute),
		timeout:   cfg.Timeout,
		location:  loc,
		logger:    logger,
		now:       now,
	}
}

// Start begins the scheduling loop until the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	if s == nil || s.daemon == nil {
		return
	}
	for {
		now := s.now().In(s.location)
		next := s.nextRun(now)
		s.logger.Info("next run scheduled", slog.Time("at", next))
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.fire(ctx)
		}
	}
}

// fire runs every chain concurrently and waits for all of them.
func (s *Scheduler) fire(ctx context.Context) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	done := make(chan struct{})
	chains := s.daemon.Chains()
	for _, name := range chains {
		go func(name string) {
			defer func() { done <- struct{}{} }()
			_, err := s.daemon.Run(ctx, name)
			// Failed runs are logged by the daemon.
			switch {
			case errors.Is(err, ErrPaused):
				s.logger.Info("scheduled run skipped: paused", slog.String("chain", name))
			case errors.Is(err, ErrRunInProgress):
				s.logger.Warn("scheduled run skipped: previous run still in flight", slog.String("chain", name))
			}
		}(name)
	}
	for range chains {
		<-done
	}
}

func (s *Scheduler) nextRun(after time.Time) time.Time {
	if s.interval > 0 {
		return after.Truncate(s.interval).Add(s.interval)
	}
	target := time.Date(after.Year(), after.Month(), after.Day(), s.runHour, s.runMinute, 0, 0, s.location)
	if !target.After(after) {
		target = target.Add(24 * time.Hour)
	}
	return target
}

func clampHour(hour int) int {
	if hour < 0 {
		return 0
	}
	if hour > 23 {
		return 23
	}
	return hour
}

func clampMinute(minute int) int {
	if minute < 0 {
		return 0
	}
	if minute > 59 {
		return 59
	}
	return minute
}
