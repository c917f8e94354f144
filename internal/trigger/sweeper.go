package trigger

import (
	"context"
	"errors"
	"sync"
	"time"

	"riskwatch/internal/evaluation"
	"riskwatch/internal/logger"
	"riskwatch/internal/scheduler"
)

// ErrSweepRunning is returned when a sweep is requested while one is in progress.
var ErrSweepRunning = errors.New("sweep already running")

type SweepRunner interface {
	EvaluatePeriodically(ctx context.Context, window time.Duration) (evaluation.SweepReport, error)
}

type SweeperConfig struct {
	Interval       time.Duration
	Window         time.Duration
	RunImmediately bool
}

// Sweeper re-evaluates recently closed trades on a fixed cadence. Runs never
// overlap; a tick that finds a run in progress is skipped.
type Sweeper struct {
	runner SweepRunner
	cfg    SweeperConfig

	running sync.Mutex
	mu      sync.RWMutex
	last    *evaluation.SweepReport
}

func NewSweeper(runner SweepRunner, cfg SweeperConfig) *Sweeper {
	if cfg.Window <= 0 {
		cfg.Window = cfg.Interval
	}
	return &Sweeper{runner: runner, cfg: cfg}
}

// Run blocks on the aligned scheduler until ctx ends.
func (s *Sweeper) Run(ctx context.Context) error {
	sched := scheduler.NewAlignedScheduler(ctx, s.cfg.Interval, 0)
	sched.Name = "sweep"
	sched.RunImmediately = s.cfg.RunImmediately
	sched.Start(func() {
		if _, err := s.RunOnce(ctx, s.cfg.Window); err != nil {
			if errors.Is(err, ErrSweepRunning) {
				logger.Warnf("Sweeper: previous run still in progress, tick skipped")
				return
			}
			logger.Errorf("Sweeper: run finished with errors: %v", err)
		}
	})
	return nil
}

// RunOnce evaluates trades closed within window unless a run is in progress.
func (s *Sweeper) RunOnce(ctx context.Context, window time.Duration) (evaluation.SweepReport, error) {
	if window <= 0 {
		window = s.cfg.Window
	}
	if !s.running.TryLock() {
		return evaluation.SweepReport{}, ErrSweepRunning
	}
	defer s.running.Unlock()

	report, err := s.runner.EvaluatePeriodically(ctx, window)
	s.mu.Lock()
	s.last = &report
	s.mu.Unlock()
	return report, err
}

// LastReport returns the most recent report, or nil before the first run.
func (s *Sweeper) LastReport() *evaluation.SweepReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return nil
	}
	r := *s.last
	return &r
}
