package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"riskwatch/internal/logger"
)

var ErrDispatcherClosed = errors.New("dispatcher closed")

// Config controls queue depth, worker count and retry.
type Config struct {
	Workers      int
	QueueSize    int
	MaxAttempts  int
	RetryBackoff time.Duration
}

func (c *Config) normalize() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryBackoff < 0 {
		c.RetryBackoff = 0
	}
}

// Outcome is the final state of one attempt.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeRetrying  Outcome = "retrying"
	OutcomeAbandoned Outcome = "abandoned"
)

// Result describes one finished attempt.
type Result struct {
	Job     Job
	Outcome Outcome
	Err     error
	Latency time.Duration
}

// Stats is a point-in-time counter snapshot.
type Stats struct {
	Submitted int64 `json:"submitted"`
	Succeeded int64 `json:"succeeded"`
	Retried   int64 `json:"retried"`
	Abandoned int64 `json:"abandoned"`
	Queued    int   `json:"queued"`
	Delayed   int   `json:"delayed"`
}

// Dispatcher runs jobs on a fixed worker pool, out of band from evaluation.
// Failed attempts are re-enqueued after RetryBackoff until MaxAttempts.
type Dispatcher struct {
	cfg      Config
	executor Executor
	onResult func(Result)
	nowFn    func() time.Time

	queue chan Job
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
	timers map[string]pendingRetry

	wg        sync.WaitGroup
	sending   sync.WaitGroup
	startOnce sync.Once
	closeOnce sync.Once

	submitted atomic.Int64
	succeeded atomic.Int64
	retried   atomic.Int64
	abandoned atomic.Int64
}

type pendingRetry struct {
	job   Job
	timer *time.Timer
}

type Option func(*Dispatcher)

// WithResultHook observes every finished attempt; it runs on the worker goroutine.
func WithResultHook(fn func(Result)) Option {
	return func(d *Dispatcher) { d.onResult = fn }
}

func New(cfg Config, executor Executor, opts ...Option) *Dispatcher {
	cfg.normalize()
	d := &Dispatcher{
		cfg:      cfg,
		executor: executor,
		nowFn:    time.Now,
		queue:    make(chan Job, cfg.QueueSize),
		done:     make(chan struct{}),
		timers:   make(map[string]pendingRetry),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Start launches the workers. They keep ctx values but not its cancellation:
// only Close stops them, after the queue is drained.
func (d *Dispatcher) Start(ctx context.Context) {
	d.startOnce.Do(func() {
		runCtx := context.WithoutCancel(ctx)
		for i := 0; i < d.cfg.Workers; i++ {
			d.wg.Add(1)
			go d.worker(runCtx)
		}
		logger.Infof("Dispatcher: started workers=%d queue=%d max_attempts=%d backoff=%s",
			d.cfg.Workers, d.cfg.QueueSize, d.cfg.MaxAttempts, d.cfg.RetryBackoff)
	})
}

// Submit enqueues job, blocking while the queue is full.
func (d *Dispatcher) Submit(ctx context.Context, job Job) error {
	if job.Attempt <= 0 {
		job.Attempt = 1
	}
	if err := d.enqueue(ctx, job); err != nil {
		return err
	}
	d.submitted.Add(1)
	return nil
}

func (d *Dispatcher) enqueue(ctx context.Context, job Job) error {
	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		return ErrDispatcherClosed
	}
	d.sending.Add(1)
	d.mu.RUnlock()
	defer d.sending.Done()

	select {
	case d.queue <- job:
		return nil
	case <-d.done:
		return ErrDispatcherClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops intake, drops pending retries, lets the workers drain the queue
// and waits for them. Dropped retries and jobs that reached the queue after the
// workers exited are counted as abandoned.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		var dropped []Job
		for key, p := range d.timers {
			if p.timer.Stop() {
				dropped = append(dropped, p.job)
			}
			delete(d.timers, key)
		}
		d.mu.Unlock()
		for _, job := range dropped {
			d.abandon(job, "pending retry dropped")
		}

		close(d.done)
		d.sending.Wait()
		d.wg.Wait()
		d.abandonQueued()
		logger.Infof("Dispatcher: closed %s", d.Stats())
	})
}

func (d *Dispatcher) abandonQueued() {
	for {
		select {
		case job := <-d.queue:
			d.abandon(job, "left in queue")
		default:
			return
		}
	}
}

func (d *Dispatcher) abandon(job Job, reason string) {
	d.abandoned.Add(1)
	logger.With(job.logFields()...).Errorf("Dispatcher: action %s abandoned on close (%s), attempt %d/%d",
		job.Action.Type, reason, job.Attempt, d.cfg.MaxAttempts)
	if d.onResult != nil {
		d.onResult(Result{Job: job, Outcome: OutcomeAbandoned, Err: ErrDispatcherClosed})
	}
}

func (d *Dispatcher) Stats() Stats {
	d.mu.RLock()
	delayed := len(d.timers)
	d.mu.RUnlock()
	return Stats{
		Submitted: d.submitted.Load(),
		Succeeded: d.succeeded.Load(),
		Retried:   d.retried.Load(),
		Abandoned: d.abandoned.Load(),
		Queued:    len(d.queue),
		Delayed:   delayed,
	}
}

func (s Stats) String() string {
	return fmt.Sprintf("submitted=%d succeeded=%d retried=%d abandoned=%d queued=%d delayed=%d",
		s.Submitted, s.Succeeded, s.Retried, s.Abandoned, s.Queued, s.Delayed)
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-d.done:
			d.drain(ctx)
			return
		case job := <-d.queue:
			d.run(ctx, job)
		}
	}
}

func (d *Dispatcher) drain(ctx context.Context) {
	for {
		select {
		case job := <-d.queue:
			d.run(ctx, job)
		default:
			return
		}
	}
}

func (d *Dispatcher) run(ctx context.Context, job Job) {
	defer func() {
		if r := recover(); r != nil {
			logger.With(job.logFields()...).Errorf("Dispatcher: action panic: %v", r)
			d.abandoned.Add(1)
		}
	}()
	log := logger.With(job.logFields()...)
	start := d.nowFn()
	err := d.executor.Execute(ctx, job)
	res := Result{Job: job, Err: err, Latency: d.nowFn().Sub(start)}

	switch {
	case err == nil:
		res.Outcome = OutcomeSucceeded
		d.succeeded.Add(1)
		log.Infof("Dispatcher: action %s executed (latency=%s)", job.Action.Type, res.Latency)
	case permanent(err) || job.Attempt >= d.cfg.MaxAttempts:
		res.Outcome = OutcomeAbandoned
		d.abandoned.Add(1)
		log.Errorf("Dispatcher: action %s abandoned after attempt %d/%d: %v", job.Action.Type, job.Attempt, d.cfg.MaxAttempts, err)
	default:
		res.Outcome = OutcomeRetrying
		log.Warnf("Dispatcher: action %s failed attempt %d/%d, retry in %s: %v",
			job.Action.Type, job.Attempt, d.cfg.MaxAttempts, d.cfg.RetryBackoff, err)
		if !d.scheduleRetry(job) {
			res.Outcome = OutcomeAbandoned
			d.abandoned.Add(1)
		}
	}
	if d.onResult != nil {
		d.onResult(res)
	}
}

// scheduleRetry re-enqueues the next attempt after the backoff.
func (d *Dispatcher) scheduleRetry(job Job) bool {
	next := job
	next.Attempt++
	next.NotBefore = d.nowFn().Add(d.cfg.RetryBackoff)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		logger.With(job.logFields()...).Warnf("Dispatcher: closed, retry dropped")
		return false
	}
	d.retried.Add(1)
	timer := time.AfterFunc(d.cfg.RetryBackoff, func() {
		d.mu.Lock()
		delete(d.timers, next.ID)
		d.mu.Unlock()
		if err := d.enqueue(context.Background(), next); err != nil {
			d.abandoned.Add(1)
			logger.With(next.logFields()...).Errorf("Dispatcher: action %s abandoned, retry not enqueued: %v", next.Action.Type, err)
		}
	})
	d.timers[next.ID] = pendingRetry{job: next, timer: timer}
	return true
}
