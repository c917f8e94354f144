// Package trigger starts evaluations: a trade-closed event listener and a
// periodic reconciliation sweep. Both may evaluate the same trade; duplicate
// incidents from that overlap are expected.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"riskwatch/internal/evaluation"
	"riskwatch/internal/logger"
	"riskwatch/internal/risk"
	"riskwatch/internal/store"
)

// ErrEventDropped means the listener buffer was full; the sweep covers the trade later.
var ErrEventDropped = errors.New("trade-closed event dropped")

type TradeLoader interface {
	FindByID(ctx context.Context, id int64) (*risk.Trade, error)
}

type Evaluator interface {
	Evaluate(ctx context.Context, trade risk.Trade) ([]evaluation.Result, error)
}

type ListenerConfig struct {
	Workers int
	Buffer  int
}

// Listener consumes TradeClosed events with a fixed worker pool.
type Listener struct {
	bus     *Bus
	trades  TradeLoader
	eval    Evaluator
	workers int
	nowFn   func() time.Time

	events  <-chan any
	unsub   func()
	wg      sync.WaitGroup
	dropped atomic.Int64

	// onHandled is a test hook invoked after each event.
	onHandled func(tradeID int64, err error)
}

// NewListener subscribes immediately so events published before Run are buffered.
func NewListener(bus *Bus, trades TradeLoader, eval Evaluator, cfg ListenerConfig) *Listener {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 128
	}
	events, unsub := bus.Subscribe(EventTradeClosed, cfg.Buffer)
	return &Listener{
		bus:     bus,
		trades:  trades,
		eval:    eval,
		workers: cfg.Workers,
		nowFn:   time.Now,
		events:  events,
		unsub:   unsub,
	}
}

// OnTradeClosed publishes the event and returns without waiting for evaluation.
func (l *Listener) OnTradeClosed(_ context.Context, tradeID int64) error {
	if tradeID <= 0 {
		return fmt.Errorf("invalid trade id %d", tradeID)
	}
	_, dropped := l.bus.Publish(EventTradeClosed, TradeClosed{TradeID: tradeID, ReceivedAt: l.nowFn().UTC()})
	if dropped > 0 {
		l.dropped.Add(1)
		logger.With("trade_id", tradeID).Warnf("Listener: buffer full, event dropped")
		return ErrEventDropped
	}
	return nil
}

// Run blocks until ctx ends, then unsubscribes and waits for the workers.
func (l *Listener) Run(ctx context.Context) error {
	logger.Infof("Listener: started workers=%d", l.workers)
	for i := 0; i < l.workers; i++ {
		l.wg.Add(1)
		go l.worker(ctx)
	}
	<-ctx.Done()
	l.unsub()
	l.wg.Wait()
	if left := l.discardBuffered(); len(left) > 0 {
		logger.Warnf("Listener: %d buffered events not evaluated on shutdown, left to the sweep: trade_ids=%v", len(left), left)
	}
	logger.Infof("Listener: stopped dropped=%d", l.Dropped())
	return nil
}

// Dropped counts events that were never evaluated: full buffer or shutdown.
func (l *Listener) Dropped() int64 {
	return l.dropped.Load()
}

// discardBuffered empties the closed subscription and returns the trade ids it held.
func (l *Listener) discardBuffered() []int64 {
	var ids []int64
	for payload := range l.events {
		if ev, ok := payload.(TradeClosed); ok {
			ids = append(ids, ev.TradeID)
		}
	}
	l.dropped.Add(int64(len(ids)))
	return ids
}

func (l *Listener) worker(ctx context.Context) {
	defer l.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-l.events:
			if !ok {
				return
			}
			ev, ok := payload.(TradeClosed)
			if !ok {
				logger.Warnf("Listener: unexpected payload %T", payload)
				continue
			}
			err := l.handle(ctx, ev)
			if l.onHandled != nil {
				l.onHandled(ev.TradeID, err)
			}
		}
	}
}

func (l *Listener) handle(ctx context.Context, ev TradeClosed) (err error) {
	log := logger.With("trade_id", ev.TradeID)
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Listener: panic: %v", r)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	trade, err := l.trades.FindByID(ctx, ev.TradeID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Warnf("Listener: trade not found, skip")
		} else {
			log.Errorf("Listener: load trade failed: %v", err)
		}
		return err
	}
	if !trade.IsClosed() {
		log.Infof("Listener: trade status=%s, skip", trade.Status)
		return nil
	}
	results, err := l.eval.Evaluate(ctx, *trade)
	if err != nil {
		log.Errorf("Listener: evaluation finished with errors: %v", err)
		return err
	}
	violations := 0
	for _, r := range results {
		if r.Violated {
			violations++
		}
	}
	log.Infof("Listener: evaluated rules=%d violations=%d latency=%s", len(results), violations, l.nowFn().Sub(ev.ReceivedAt).Truncate(time.Millisecond))
	return nil
}
