package rules

import (
	"context"
	"fmt"
	"time"

	"riskwatch/internal/risk"
)

// newDurationRule flags trades held for less than min_duration_seconds.
func newDurationRule(raw map[string]any) (Rule, error) {
	var p durationParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	fn := func(_ context.Context, trade risk.Trade) (bool, risk.Evidence, error) {
		if p.MinDurationSeconds == nil {
			return false, nil, fmt.Errorf("%w: min_duration_seconds", ErrMissingParameter)
		}
		secs, ok := trade.DurationSeconds()
		if !ok {
			return false, nil, nil
		}
		min := int64(*p.MinDurationSeconds)
		if secs >= min {
			return false, nil, nil
		}
		return true, risk.Evidence{
			"duration_seconds":     secs,
			"min_duration_seconds": min,
			"open_time":            trade.OpenTime.UTC().Format(time.RFC3339),
			"close_time":           trade.CloseTime.UTC().Format(time.RFC3339),
		}, nil
	}
	return assessed{typ: risk.RuleDuration, params: raw, fn: fn}, nil
}
