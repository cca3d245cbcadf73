package optimizer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/Chative-Learning-Coordinator/agent/contract"
)

// Scheduler triggers scheduled optimization runs, either from a cron job on
// wall-clock time or from RunIfDue for callers that drive a logical clock.
type Scheduler struct {
	optimizer *Optimizer
	schedule  cron.ConstantDelaySchedule
	cron      *cron.Cron

	mu      sync.Mutex
	last    time.Time
	started bool
	cancel  context.CancelFunc
}

// NewScheduler anchors the first due time at anchor + interval.
func NewScheduler(o *Optimizer, interval time.Duration, anchor time.Time) (*Scheduler, error) {
	if o == nil {
		return nil, fmt.Errorf("%w: scheduler needs an optimizer", contractx.ErrConfiguration)
	}
	if interval < time.Second {
		return nil, fmt.Errorf("%w: schedule interval %s is below one second", contractx.ErrConfiguration, interval)
	}
	return &Scheduler{
		optimizer: o,
		schedule:  cron.Every(interval),
		last:      anchor,
	}, nil
}

// Start registers the periodic job on a fresh cron runner. The runner stops
// when ctx is done or Stop is called; a stopped scheduler may be started again.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("scheduler already started")
	}

	jobCtx, cancel := context.WithCancel(ctx)
	runner := cron.New()
	runner.Schedule(s.schedule, cron.FuncJob(func() {
		s.runScheduled(jobCtx, time.Now())
	}))
	runner.Start()
	s.cron = runner
	s.cancel = cancel
	s.started = true

	go func() {
		<-jobCtx.Done()
		s.stop(runner)
	}()
	log.Info().Dur("interval", s.schedule.Delay).Msg("optimization scheduler started")
	return nil
}

// Stop halts the cron runner and waits for a running job to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	runner := s.cron
	s.mu.Unlock()
	s.stop(runner)
}

// stop only acts on the runner that is current, so a late cancellation from
// an earlier Start cannot halt a newer one.
func (s *Scheduler) stop(runner *cron.Cron) {
	s.mu.Lock()
	if !s.started || runner == nil || s.cron != runner {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	<-runner.Stop().Done()
	log.Info().Msg("optimization scheduler stopped")
}

// Jobs is the number of jobs registered on the current cron runner.
func (s *Scheduler) Jobs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil || !s.started {
		return 0
	}
	return len(s.cron.Entries())
}

// NextRun is the earliest time at which a scheduled run is due.
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schedule.Next(s.last)
}

// LastRun is the time of the last scheduled attempt, or the anchor.
func (s *Scheduler) LastRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// RunIfDue starts a scheduled run when now has reached the next due time.
// ran is false when the run was not due or another run was in progress.
func (s *Scheduler) RunIfDue(ctx context.Context, now time.Time) (contractx.OptimizationRun, bool, error) {
	s.mu.Lock()
	due := !now.Before(s.schedule.Next(s.last))
	s.mu.Unlock()
	if !due {
		return contractx.OptimizationRun{}, false, nil
	}
	return s.runScheduled(ctx, now)
}

func (s *Scheduler) runScheduled(ctx context.Context, now time.Time) (contractx.OptimizationRun, bool, error) {
	run, err := s.optimizer.Run(ctx, contractx.TriggerScheduled)
	if errors.Is(err, contractx.ErrOptimizationInProgress) {
		log.Info().Msg("scheduled optimization skipped, another run is active")
		return contractx.OptimizationRun{}, false, nil
	}

	s.mu.Lock()
	if now.After(s.last) {
		s.last = now
	}
	s.mu.Unlock()

	if err != nil {
		log.Error().Err(err).Str("run_id", run.ID).Msg("scheduled optimization failed")
		return run, true, err
	}
	return run, true, nil
}
