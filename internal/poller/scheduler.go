package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"
)

const jobName = "ceazamet_poll_round"

// SchedulerConfig configures round dispatch.
type SchedulerConfig struct {
	// Interval between round dispatches.
	Interval time.Duration
	// Singleton skips a tick while the previous round is still running.
	Singleton bool
}

// RoundFunc receives every finished round.
type RoundFunc func(RoundReport)

// Scheduler dispatches rounds on a fixed interval, first one immediately.
//
// Thread Safety: all methods are safe for concurrent use.
type Scheduler struct {
	runner  *Runner
	cfg     SchedulerConfig
	logger  Logger
	metrics *Metrics

	scheduler gocron.Scheduler
	inFlight  atomic.Int32
	last      atomic.Pointer[RoundReport]

	mu    sync.RWMutex
	hooks []RoundFunc
}

// NewScheduler creates a scheduler for runner.
//
// Parameters:
//   - runner: Round executor
//   - cfg: Interval and overlap policy
//
// Returns:
//   - *Scheduler: Ready to Start
//   - error: If the interval is invalid or gocron cannot be initialised
func NewScheduler(runner *Runner, cfg SchedulerConfig) (*Scheduler, error) {
	if runner == nil {
		return nil, errors.New("poller: runner is required")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("poller: interval must be positive, got %v", cfg.Interval)
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	return &Scheduler{
		runner:    runner,
		cfg:       cfg,
		logger:    runner.deps.Logger,
		metrics:   runner.deps.Metrics,
		scheduler: scheduler,
	}, nil
}

// OnRound registers fn to receive every finished round. Hooks run on the
// round's goroutine, in registration order.
func (s *Scheduler) OnRound(fn RoundFunc) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, fn)
}

// Start registers the polling job and starts dispatching. Rounds receive
// ctx and stop when it is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	opts := []gocron.JobOption{
		gocron.WithContext(ctx),
		gocron.WithName(jobName),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	}
	if s.cfg.Singleton {
		opts = append(opts, gocron.WithSingletonMode(gocron.LimitModeReschedule))
	}

	if _, err := s.scheduler.NewJob(
		gocron.DurationJob(s.cfg.Interval),
		gocron.NewTask(s.RunRound),
		opts...,
	); err != nil {
		return fmt.Errorf("failed to create %s: %w", jobName, err)
	}

	s.scheduler.Start()
	s.logger.Info("polling scheduler started",
		"interval", s.cfg.Interval.String(),
		"singleton", s.cfg.Singleton,
	)
	return nil
}

// Run starts the scheduler and blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return s.Shutdown()
}

// Shutdown stops dispatching and waits for running rounds to return.
func (s *Scheduler) Shutdown() error {
	if err := s.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("stopping scheduler: %w", err)
	}
	return nil
}

// InFlight returns the number of rounds currently running.
func (s *Scheduler) InFlight() int {
	return int(s.inFlight.Load())
}

// LastRound returns the most recently finished round.
func (s *Scheduler) LastRound() (RoundReport, bool) {
	r := s.last.Load()
	if r == nil {
		return RoundReport{}, false
	}
	return *r, true
}

// RunRound executes one round and logs its outcome. It is the job task
// and may also be called directly.
func (s *Scheduler) RunRound(ctx context.Context) {
	running := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)

	overlapping := running > 1
	s.metrics.roundStarted(overlapping)
	defer s.metrics.roundFinished()
	if overlapping {
		s.logger.Warn("round started while a previous round is still running",
			"rounds_in_flight", running,
		)
	}

	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("round panicked", "panic", fmt.Sprint(p))
		}
	}()

	report := s.runner.Run(ctx)
	s.logRound(report)
	s.metrics.observeRound(report)
	s.last.Store(&report)

	s.mu.RLock()
	hooks := append([]RoundFunc(nil), s.hooks...)
	s.mu.RUnlock()
	for _, hook := range hooks {
		hook(report)
	}
}

// logRound is the single logging boundary for sensor and round outcomes.
func (s *Scheduler) logRound(report RoundReport) {
	for _, res := range report.Results {
		if !res.Failed() {
			continue
		}
		s.logger.Warn("sensor poll failed",
			"round_id", report.ID,
			"station", res.StationCode,
			"sensor", res.SensorCode,
			"granularity", res.Granularity,
			"stage", string(res.Stage),
			"error", res.Err,
		)
	}

	s.logger.Info("round complete",
		"round_id", report.ID,
		"sensors", report.Sensors,
		"failed", report.Failed,
		"rows_fetched", report.RowsFetched,
		"readings_written", report.ReadingsWritten,
		"rows_dropped", report.RowsDropped,
		"cancelled", report.Cancelled,
		"duration", report.Duration().String(),
	)
}
