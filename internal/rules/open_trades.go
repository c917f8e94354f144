package rules

import (
	"context"
	"fmt"
	"time"

	"riskwatch/internal/risk"
)

// newOpenTradesRule bounds the number of positions the account opened within
// the trailing window that are still open. Without either bound it never fires.
func newOpenTradesRule(raw map[string]any, history History, nowFn func() time.Time) (Rule, error) {
	var p openTradesParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if history == nil {
		return nil, fmt.Errorf("open_trades_count requires trade history")
	}
	window := p.window()

	fn := func(ctx context.Context, trade risk.Trade) (bool, risk.Evidence, error) {
		if p.MinOpenTrades == nil && p.MaxOpenTrades == nil {
			return false, nil, nil
		}
		start := nowFn().UTC().Add(-time.Duration(window) * time.Minute)
		count, err := history.CountOpenSince(ctx, trade.AccountID, start)
		if err != nil {
			return false, nil, fmt.Errorf("count open trades: %w", err)
		}
		tooFew := p.MinOpenTrades != nil && count < int64(*p.MinOpenTrades)
		tooMany := p.MaxOpenTrades != nil && count > int64(*p.MaxOpenTrades)
		if !tooFew && !tooMany {
			return false, nil, nil
		}
		return true, risk.Evidence{
			"open_trades_count":   count,
			"time_window_minutes": window,
			"min_open_trades":     intOrNil(p.MinOpenTrades),
			"max_open_trades":     intOrNil(p.MaxOpenTrades),
			"window_start":        start.Format(time.RFC3339),
		}, nil
	}
	return assessed{typ: risk.RuleOpenTradesCount, params: raw, fn: fn}, nil
}

func intOrNil(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
