package trigger

import (
	"context"
	"sync"
	"testing"
	"time"

	"riskwatch/internal/evaluation"
	"riskwatch/internal/risk"
	"riskwatch/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockTrades struct {
	mock.Mock
}

func (m *MockTrades) FindByID(ctx context.Context, id int64) (*risk.Trade, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*risk.Trade), args.Error(1)
}

type MockEvaluator struct {
	mock.Mock
}

func (m *MockEvaluator) Evaluate(ctx context.Context, trade risk.Trade) ([]evaluation.Result, error) {
	args := m.Called(ctx, trade)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]evaluation.Result), args.Error(1)
}

func TestBusPublishDropsWhenFull(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(EventTradeClosed, 1)

	delivered, dropped := bus.Publish(EventTradeClosed, TradeClosed{TradeID: 1})
	assert.Equal(t, 1, delivered)
	assert.Zero(t, dropped)
	delivered, dropped = bus.Publish(EventTradeClosed, TradeClosed{TradeID: 2})
	assert.Zero(t, delivered)
	assert.Equal(t, 1, dropped)

	got := <-ch
	assert.Equal(t, int64(1), got.(TradeClosed).TradeID)

	unsub()
	unsub()
	_, ok := <-ch
	assert.False(t, ok)
	delivered, dropped = bus.Publish(EventTradeClosed, TradeClosed{TradeID: 3})
	assert.Zero(t, delivered+dropped)
}

type handled struct {
	mu  sync.Mutex
	ids []int64
}

func (h *handled) record(id int64, _ error) {
	h.mu.Lock()
	h.ids = append(h.ids, id)
	h.mu.Unlock()
}

func (h *handled) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.ids)
}

func TestListenerEvaluatesClosedTrades(t *testing.T) {
	closeAt := time.Now().UTC()
	closedTrade := &risk.Trade{ID: 10, AccountID: 1, Status: risk.TradeClosed, CloseTime: &closeAt}
	openTrade := &risk.Trade{ID: 11, AccountID: 1, Status: risk.TradeOpen}

	trades := new(MockTrades)
	trades.On("FindByID", mock.Anything, int64(10)).Return(closedTrade, nil)
	trades.On("FindByID", mock.Anything, int64(11)).Return(openTrade, nil)
	trades.On("FindByID", mock.Anything, int64(12)).Return(nil, store.ErrNotFound)

	eval := new(MockEvaluator)
	eval.On("Evaluate", mock.Anything, *closedTrade).Return([]evaluation.Result{{RuleID: 1, Violated: true}}, nil).Once()

	l := NewListener(NewBus(), trades, eval, ListenerConfig{Workers: 2, Buffer: 8})
	h := &handled{}
	l.onHandled = h.record

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = l.Run(ctx)
		close(done)
	}()

	for _, id := range []int64{10, 11, 12} {
		require.NoError(t, l.OnTradeClosed(ctx, id))
	}
	assert.Eventually(t, func() bool { return h.count() == 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done

	eval.AssertExpectations(t)
	eval.AssertNumberOfCalls(t, "Evaluate", 1)
	trades.AssertExpectations(t)
}

func TestListenerRejectsInvalidIDAndFullBuffer(t *testing.T) {
	l := NewListener(NewBus(), new(MockTrades), new(MockEvaluator), ListenerConfig{Workers: 1, Buffer: 1})
	assert.Error(t, l.OnTradeClosed(context.Background(), 0))

	// no workers are running, so the second event overflows the buffer
	require.NoError(t, l.OnTradeClosed(context.Background(), 1))
	assert.ErrorIs(t, l.OnTradeClosed(context.Background(), 2), ErrEventDropped)
}

func TestListenerAccountsForBufferedEventsOnShutdown(t *testing.T) {
	trades := new(MockTrades)
	trades.On("FindByID", mock.Anything, mock.Anything).Return(nil, store.ErrNotFound).Maybe()
	l := NewListener(NewBus(), trades, new(MockEvaluator), ListenerConfig{Workers: 1, Buffer: 8})
	h := &handled{}
	l.onHandled = h.record

	for _, id := range []int64{1, 2, 3, 4, 5} {
		require.NoError(t, l.OnTradeClosed(context.Background(), id))
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, l.Run(ctx))

	assert.Equal(t, int64(5), int64(h.count())+l.Dropped())
}

func TestListenerDiscardBufferedReturnsTradeIDs(t *testing.T) {
	l := NewListener(NewBus(), new(MockTrades), new(MockEvaluator), ListenerConfig{Workers: 1, Buffer: 1})
	require.NoError(t, l.OnTradeClosed(context.Background(), 7))
	assert.ErrorIs(t, l.OnTradeClosed(context.Background(), 8), ErrEventDropped)

	l.unsub()
	assert.Equal(t, []int64{7}, l.discardBuffered())
	assert.Equal(t, int64(2), l.Dropped())
}

func TestListenerRecoversFromPanic(t *testing.T) {
	closeAt := time.Now().UTC()
	trade := &risk.Trade{ID: 5, Status: risk.TradeClosed, CloseTime: &closeAt}
	trades := new(MockTrades)
	trades.On("FindByID", mock.Anything, int64(5)).Return(trade, nil)
	eval := new(MockEvaluator)
	eval.On("Evaluate", mock.Anything, mock.Anything).Run(func(mock.Arguments) { panic("boom") })

	l := NewListener(NewBus(), trades, eval, ListenerConfig{Workers: 1, Buffer: 4})
	var gotErr error
	var mu sync.Mutex
	calls := 0
	l.onHandled = func(_ int64, err error) {
		mu.Lock()
		gotErr = err
		calls++
		mu.Unlock()
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = l.Run(ctx) }()

	require.NoError(t, l.OnTradeClosed(ctx, 5))
	require.NoError(t, l.OnTradeClosed(ctx, 5))
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 2
	}, 2*time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.ErrorContains(t, gotErr, "panic")
	mu.Unlock()
}

type blockingRunner struct {
	mu      sync.Mutex
	windows []time.Duration
	release chan struct{}
	started chan struct{}
}

func (r *blockingRunner) EvaluatePeriodically(_ context.Context, window time.Duration) (evaluation.SweepReport, error) {
	r.mu.Lock()
	r.windows = append(r.windows, window)
	r.mu.Unlock()
	if r.started != nil {
		r.started <- struct{}{}
	}
	if r.release != nil {
		<-r.release
	}
	return evaluation.SweepReport{Trades: 2}, nil
}

func TestSweeperSkipsOverlappingRuns(t *testing.T) {
	runner := &blockingRunner{release: make(chan struct{}), started: make(chan struct{}, 1)}
	s := NewSweeper(runner, SweeperConfig{Interval: 5 * time.Minute, Window: 5 * time.Minute})
	assert.Nil(t, s.LastReport())

	done := make(chan error, 1)
	go func() {
		_, err := s.RunOnce(context.Background(), 0)
		done <- err
	}()
	<-runner.started

	_, err := s.RunOnce(context.Background(), time.Minute)
	assert.ErrorIs(t, err, ErrSweepRunning)

	close(runner.release)
	require.NoError(t, <-done)

	report, err := s.RunOnce(context.Background(), 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Trades)
	require.NotNil(t, s.LastReport())

	runner.mu.Lock()
	assert.Equal(t, []time.Duration{5 * time.Minute, 15 * time.Minute}, runner.windows)
	runner.mu.Unlock()
}

func TestSweeperRunImmediately(t *testing.T) {
	runner := &blockingRunner{started: make(chan struct{}, 4)}
	s := NewSweeper(runner, SweeperConfig{Interval: time.Hour, Window: time.Hour, RunImmediately: true})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()
	select {
	case <-runner.started:
	case <-time.After(2 * time.Second):
		t.Fatal("sweep did not run")
	}
	cancel()
	<-done
	assert.NotNil(t, s.LastReport())
}
