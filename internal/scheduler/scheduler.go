// Package scheduler runs a task on wall-clock aligned fixed intervals.
package scheduler

import (
	"context"
	"time"

	"riskwatch/internal/logger"
)

// AlignedScheduler fires at every multiple of Interval (UTC) plus Offset.
// A 5m interval fires at :00, :05, :10 regardless of when it was started.
type AlignedScheduler struct {
	Name           string
	Interval       time.Duration
	Offset         time.Duration
	RunImmediately bool

	ctx   context.Context
	nowFn func() time.Time
}

func NewAlignedScheduler(ctx context.Context, interval, offset time.Duration) *AlignedScheduler {
	if ctx == nil {
		ctx = context.Background()
	}
	return &AlignedScheduler{
		Interval: interval,
		Offset:   offset,
		ctx:      ctx,
		nowFn:    time.Now,
	}
}

// Start blocks, running task on schedule until the context ends.
// task runs on the scheduler goroutine, so a slow run delays the next tick.
func (s *AlignedScheduler) Start(task func()) {
	if s == nil {
		return
	}
	prefix := s.prefix()
	if task == nil {
		logger.Warnf("%s: task is nil, exit", prefix)
		return
	}
	if s.Interval <= 0 {
		logger.Warnf("%s: invalid interval=%s, exit", prefix, s.Interval)
		return
	}
	if s.Offset < 0 {
		logger.Warnf("%s: negative offset=%s, clamp to 0", prefix, s.Offset)
		s.Offset = 0
	}
	if s.ctx == nil {
		s.ctx = context.Background()
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}

	startAt := s.nowFn().UTC()
	logger.Infof("%s: started interval=%s offset=%s run_immediately=%v at=%s",
		prefix, s.Interval, s.Offset, s.RunImmediately, startAt.Format(time.RFC3339))

	if s.RunImmediately {
		logger.Infof("%s: RunImmediately=true, execute once before alignment loop", prefix)
		task()
	}

	for {
		now := s.nowFn().UTC()
		_, wakeAt, _, wait := s.nextTimes(now)
		logger.Debugf("%s: 下一轮执行=%s (in %s) | uptime=%s",
			prefix,
			wakeAt.Format(time.RFC3339),
			wait.Truncate(time.Second),
			now.Sub(startAt).Truncate(time.Second),
		)

		if wait <= 0 {
			if s.ctx.Err() != nil {
				return
			}
			task()
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			logger.Infof("%s: ctx done, exit", prefix)
			return
		case <-timer.C:
		}
		task()
	}
}

func (s *AlignedScheduler) prefix() string {
	if s.Name == "" {
		return "AlignedScheduler"
	}
	return "AlignedScheduler[" + s.Name + "]"
}

// nextTimes returns the next aligned boundary, the wake time (boundary plus
// offset) and the waits until each.
func (s *AlignedScheduler) nextTimes(now time.Time) (boundary time.Time, wakeAt time.Time, untilBoundary time.Duration, wait time.Duration) {
	now = now.UTC()
	boundary = now.Truncate(s.Interval).Add(s.Interval)
	wakeAt = boundary.Add(s.Offset)
	untilBoundary = boundary.Sub(now)
	wait = wakeAt.Sub(now)
	return boundary, wakeAt, untilBoundary, wait
}
