package rules

import (
	"context"
	"fmt"

	"riskwatch/internal/risk"

	"github.com/shopspring/decimal"
)

// newVolumeRule flags a trade whose volume leaves [avg*min_factor, avg*max_factor],
// where avg is taken over the account's most recent other closed trades.
func newVolumeRule(raw map[string]any, history History) (Rule, error) {
	var p volumeParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if history == nil {
		return nil, fmt.Errorf("volume_consistency requires trade history")
	}
	lookback := p.lookback()
	minFactor := decimal.NewFromFloat(p.minFactor())
	maxFactor := decimal.NewFromFloat(p.maxFactor())

	fn := func(ctx context.Context, trade risk.Trade) (bool, risk.Evidence, error) {
		recent, err := history.RecentClosed(ctx, trade.AccountID, trade.ID, lookback)
		if err != nil {
			return false, nil, fmt.Errorf("load recent trades: %w", err)
		}
		if len(recent) == 0 {
			return false, nil, nil
		}
		sum := decimal.Zero
		for _, t := range recent {
			sum = sum.Add(t.Volume)
		}
		avg := sum.Div(decimal.NewFromInt(int64(len(recent))))
		lower := avg.Mul(minFactor)
		upper := avg.Mul(maxFactor)
		if !trade.Volume.LessThan(lower) && !trade.Volume.GreaterThan(upper) {
			return false, nil, nil
		}
		return true, risk.Evidence{
			"current_volume":  trade.Volume.InexactFloat64(),
			"average_volume":  avg.Round(4).InexactFloat64(),
			"min_factor":      minFactor.InexactFloat64(),
			"max_factor":      maxFactor.InexactFloat64(),
			"lookback_trades": lookback,
			"sample_size":     len(recent),
			"allowed_range": map[string]any{
				"min": lower.Round(4).InexactFloat64(),
				"max": upper.Round(4).InexactFloat64(),
			},
		}, nil
	}
	return assessed{typ: risk.RuleVolumeConsistency, params: raw, fn: fn}, nil
}
