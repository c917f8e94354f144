package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"riskwatch/internal/gateway/notifier"
	"riskwatch/internal/pkg/circuit"
	"riskwatch/internal/risk"
	"riskwatch/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockAccounts struct {
	mock.Mock
}

func (m *MockAccounts) DisableTrading(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockAccounts) DisableAccount(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

type countingExecutor struct {
	calls atomic.Int64
	fn    func(Job) error
}

func (e *countingExecutor) Execute(_ context.Context, job Job) error {
	e.calls.Add(1)
	if e.fn == nil {
		return nil
	}
	return e.fn(job)
}

func sampleJob(actionType risk.ActionType) Job {
	tradeID := int64(7)
	return NewJob(
		risk.Action{ID: 3, Name: "notify-desk", Type: actionType, IsActive: true},
		risk.RiskRule{ID: 11, Name: "fast-scalp", Type: risk.RuleDuration, Severity: risk.SeverityHard},
		risk.Incident{ID: 99, AccountID: 42, TradeID: &tradeID, RuleID: 11, ViolationData: risk.Evidence{"duration_seconds": 12}},
	)
}

type resultLog struct {
	mu  sync.Mutex
	all []Result
}

func (r *resultLog) add(res Result) {
	r.mu.Lock()
	r.all = append(r.all, res)
	r.mu.Unlock()
}

func (r *resultLog) outcomes() []Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Outcome, 0, len(r.all))
	for _, res := range r.all {
		out = append(out, res.Outcome)
	}
	return out
}

func startDispatcher(t *testing.T, cfg Config, exec Executor, results *resultLog) *Dispatcher {
	t.Helper()
	d := New(cfg, exec, WithResultHook(results.add))
	d.Start(context.Background())
	t.Cleanup(d.Close)
	return d
}

func TestNewJobSnapshotsContext(t *testing.T) {
	job := sampleJob(risk.ActionSlack)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, 1, job.Attempt)
	assert.Equal(t, int64(42), job.AccountID)
	assert.Equal(t, int64(99), job.IncidentID)
	assert.Equal(t, "fast-scalp", job.RuleName)
	require.NotNil(t, job.TradeID)
	assert.Equal(t, int64(7), *job.TradeID)
	assert.NotEqual(t, job.ID, sampleJob(risk.ActionSlack).ID)
}

func TestDispatcherExecutesJob(t *testing.T) {
	exec := &countingExecutor{}
	results := &resultLog{}
	d := startDispatcher(t, Config{Workers: 2, QueueSize: 4, MaxAttempts: 3}, exec, results)

	require.NoError(t, d.Submit(context.Background(), sampleJob(risk.ActionSlack)))
	assert.Eventually(t, func() bool { return len(results.outcomes()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), exec.calls.Load())
	assert.Equal(t, int64(1), d.Stats().Submitted)
	assert.Equal(t, int64(1), d.Stats().Succeeded)
	assert.Equal(t, []Outcome{OutcomeSucceeded}, results.outcomes())
}

func TestDispatcherRetriesUpToMaxAttempts(t *testing.T) {
	var attempts []int
	var mu sync.Mutex
	exec := &countingExecutor{fn: func(job Job) error {
		mu.Lock()
		attempts = append(attempts, job.Attempt)
		mu.Unlock()
		return errors.New("smtp unavailable")
	}}
	results := &resultLog{}
	d := startDispatcher(t, Config{Workers: 1, QueueSize: 4, MaxAttempts: 3}, exec, results)

	require.NoError(t, d.Submit(context.Background(), sampleJob(risk.ActionEmail)))
	assert.Eventually(t, func() bool { return len(results.outcomes()) == 3 }, 2*time.Second, 5*time.Millisecond)

	stats := d.Stats()
	assert.Equal(t, int64(3), exec.calls.Load())
	assert.Equal(t, int64(2), stats.Retried)
	assert.Zero(t, stats.Succeeded)
	assert.Equal(t, int64(1), stats.Abandoned)
	mu.Lock()
	assert.Equal(t, []int{1, 2, 3}, attempts)
	mu.Unlock()
	assert.Equal(t, []Outcome{OutcomeRetrying, OutcomeRetrying, OutcomeAbandoned}, results.outcomes())
}

func TestDispatcherRetryThenSuccess(t *testing.T) {
	exec := &countingExecutor{fn: func(job Job) error {
		if job.Attempt < 2 {
			return errors.New("timeout")
		}
		return nil
	}}
	results := &resultLog{}
	d := startDispatcher(t, Config{Workers: 1, QueueSize: 4, MaxAttempts: 3, RetryBackoff: 10 * time.Millisecond}, exec, results)

	require.NoError(t, d.Submit(context.Background(), sampleJob(risk.ActionSlack)))
	assert.Eventually(t, func() bool { return d.Stats().Succeeded == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(2), exec.calls.Load())
	assert.Equal(t, int64(1), d.Stats().Retried)
}

func TestDispatcherPermanentErrorIsNotRetried(t *testing.T) {
	exec := &countingExecutor{fn: func(Job) error { return ErrUnsupportedAction }}
	results := &resultLog{}
	d := startDispatcher(t, Config{Workers: 1, QueueSize: 4, MaxAttempts: 5}, exec, results)

	require.NoError(t, d.Submit(context.Background(), sampleJob("sms")))
	assert.Eventually(t, func() bool { return d.Stats().Abandoned == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), exec.calls.Load())
	assert.Zero(t, d.Stats().Retried)
}

func TestDispatcherSubmitAfterClose(t *testing.T) {
	d := New(Config{Workers: 1, QueueSize: 1}, &countingExecutor{})
	d.Start(context.Background())
	d.Close()
	d.Close()

	err := d.Submit(context.Background(), sampleJob(risk.ActionSlack))
	assert.ErrorIs(t, err, ErrDispatcherClosed)
}

func TestDispatcherCloseDrainsQueue(t *testing.T) {
	release := make(chan struct{})
	exec := &countingExecutor{fn: func(Job) error {
		<-release
		return nil
	}}
	d := New(Config{Workers: 1, QueueSize: 8, MaxAttempts: 1}, exec)
	d.Start(context.Background())
	for i := 0; i < 3; i++ {
		require.NoError(t, d.Submit(context.Background(), sampleJob(risk.ActionSlack)))
	}
	close(release)
	d.Close()
	assert.Equal(t, int64(3), exec.calls.Load())
	assert.Equal(t, int64(3), d.Stats().Succeeded)
}

func TestDispatcherCloseDrainsAfterRunContextCancelled(t *testing.T) {
	release := make(chan struct{})
	exec := &countingExecutor{fn: func(Job) error {
		<-release
		return nil
	}}
	d := New(Config{Workers: 1, QueueSize: 16, MaxAttempts: 1}, exec)
	ctx, cancel := context.WithCancel(context.Background())
	d.Start(ctx)
	for i := 0; i < 10; i++ {
		require.NoError(t, d.Submit(context.Background(), sampleJob(risk.ActionDisableTrading)))
	}
	assert.Eventually(t, func() bool { return exec.calls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	close(release)
	d.Close()

	stats := d.Stats()
	assert.Equal(t, int64(10), stats.Submitted)
	assert.Equal(t, stats.Submitted, stats.Succeeded+stats.Abandoned)
	assert.Equal(t, int64(10), exec.calls.Load())
	assert.Zero(t, stats.Queued)
}

func TestDispatcherCloseAbandonsPendingRetry(t *testing.T) {
	exec := &countingExecutor{fn: func(Job) error { return errors.New("webhook 502") }}
	results := &resultLog{}
	d := New(Config{Workers: 1, QueueSize: 4, MaxAttempts: 3, RetryBackoff: time.Hour}, exec, WithResultHook(results.add))
	d.Start(context.Background())

	require.NoError(t, d.Submit(context.Background(), sampleJob(risk.ActionSlack)))
	assert.Eventually(t, func() bool { return len(results.outcomes()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, d.Stats().Delayed)
	d.Close()

	stats := d.Stats()
	assert.Equal(t, int64(1), stats.Abandoned)
	assert.Zero(t, stats.Delayed)
	assert.Equal(t, int64(1), exec.calls.Load())
	assert.Equal(t, []Outcome{OutcomeRetrying, OutcomeAbandoned}, results.outcomes())
}

func TestDispatcherCloseAbandonsJobsNoWorkerTook(t *testing.T) {
	exec := &countingExecutor{}
	d := New(Config{Workers: 1, QueueSize: 4, MaxAttempts: 1}, exec)
	require.NoError(t, d.Submit(context.Background(), sampleJob(risk.ActionDisableAccount)))
	require.NoError(t, d.Submit(context.Background(), sampleJob(risk.ActionDisableTrading)))

	d.Close()

	stats := d.Stats()
	assert.Equal(t, int64(2), stats.Abandoned)
	assert.Zero(t, stats.Queued)
	assert.Zero(t, exec.calls.Load())
}

func TestDispatcherSubmitHonoursContext(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	exec := &countingExecutor{fn: func(Job) error {
		<-block
		return nil
	}}
	d := New(Config{Workers: 1, QueueSize: 1, MaxAttempts: 1}, exec)
	d.Start(context.Background())

	require.NoError(t, d.Submit(context.Background(), sampleJob(risk.ActionSlack)))
	assert.Eventually(t, func() bool { return exec.calls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, d.Submit(context.Background(), sampleJob(risk.ActionSlack)))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := d.Submit(ctx, sampleJob(risk.ActionSlack))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHandlersDisableActions(t *testing.T) {
	accounts := new(MockAccounts)
	accounts.On("DisableTrading", mock.Anything, int64(42)).Return(nil).Once()
	accounts.On("DisableAccount", mock.Anything, int64(42)).Return(store.ErrNotFound).Once()
	h := NewHandlers(accounts, nil)

	require.NoError(t, h.Execute(context.Background(), sampleJob(risk.ActionDisableTrading)))
	err := h.Execute(context.Background(), sampleJob(risk.ActionDisableAccount))
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.True(t, permanent(err))
	accounts.AssertExpectations(t)
}

func TestHandlersUnsupportedAction(t *testing.T) {
	h := NewHandlers(nil, nil)
	err := h.Execute(context.Background(), sampleJob("webhook"))
	assert.ErrorIs(t, err, ErrUnsupportedAction)
	assert.True(t, permanent(err))
}

func TestHandlersNotifyRendersAlert(t *testing.T) {
	var sent []string
	ch := Channel{Name: "slack", Notifier: notifier.Func(func(_ context.Context, text string) error {
		sent = append(sent, text)
		return nil
	})}
	h := NewHandlers(nil, map[risk.ActionType]Channel{risk.ActionSlack: ch})

	require.NoError(t, h.Execute(context.Background(), sampleJob(risk.ActionSlack)))
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0], "fast-scalp")
	assert.Contains(t, sent[0], "duration_seconds")
	assert.True(t, strings.Contains(sent[0], "42"))

	// email has no channel and falls back to the log notifier
	require.NoError(t, h.Execute(context.Background(), sampleJob(risk.ActionEmail)))
	assert.Len(t, sent, 1)
}

func TestHandlersBreakerOpens(t *testing.T) {
	var calls int
	ch := Channel{
		Name: "slack",
		Notifier: notifier.Func(func(context.Context, string) error {
			calls++
			return errors.New("502 bad gateway")
		}),
		Breaker: circuit.NewCircuitBreaker("slack", 1, time.Hour),
	}
	h := NewHandlers(nil, map[risk.ActionType]Channel{risk.ActionSlack: ch})

	err := h.Execute(context.Background(), sampleJob(risk.ActionSlack))
	require.Error(t, err)
	assert.False(t, permanent(err))

	err = h.Execute(context.Background(), sampleJob(risk.ActionSlack))
	assert.ErrorIs(t, err, circuit.ErrOpen)
	assert.Equal(t, 1, calls)
}
