// Package worker holds the seat batch jobs and the cron scheduler that
// runs them.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"github.com/techmajster/time8-product-sub008/pkg/correlation"
	"github.com/techmajster/time8-product-sub008/pkg/logger"
)

// errStopped marks a run that ended while waiting for its next provider call.
var errStopped = errors.New("job stopped before next provider call")

// waitTurn blocks until limiter allows the next provider call.
func waitTurn(ctx context.Context, limiter *rate.Limiter) error {
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", errStopped, err)
	}
	return nil
}

// newLimiter spaces provider calls by delay. Zero means no spacing.
func newLimiter(delay time.Duration) *rate.Limiter {
	if delay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(delay), 1)
}

type Scheduler struct {
	cron    *cron.Cron
	log     *logger.Logger
	timeout time.Duration
}

// NewScheduler builds a scheduler where a run that is still going causes the
// next tick to be skipped. timeout bounds a single run; zero disables it.
func NewScheduler(log *logger.Logger, timeout time.Duration) *Scheduler {
	if log == nil {
		log = logger.Nop()
	}
	c := cron.New(cron.WithChain(
		cron.Recover(log),
		cron.SkipIfStillRunning(log),
	))
	return &Scheduler{cron: c, log: log, timeout: timeout}
}

// Add schedules run on a five field cron expression.
func (s *Scheduler) Add(name, spec string, run func(ctx context.Context) error) error {
	_, err := s.cron.AddFunc(spec, func() {
		ctx := context.Background()
		var cancel context.CancelFunc = func() {}
		if s.timeout > 0 {
			ctx, cancel = context.WithTimeout(ctx, s.timeout)
		}
		defer cancel()
		ctx, corrID := correlation.Ensure(ctx)

		start := time.Now()
		if err := run(ctx); err != nil {
			s.log.Error(err, "scheduled job failed", "job", name, "correlation_id", corrID)
			return
		}
		s.log.Info("scheduled job completed", "job", name, "correlation_id", corrID, "duration", time.Since(start).String())
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q for %s: %w", spec, name, err)
	}
	s.log.Info("job scheduled", "job", name, "schedule", spec)
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops scheduling and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.log.Warn("scheduler stopped before running jobs finished")
	}
}

// Entries reports how many jobs are scheduled.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}
