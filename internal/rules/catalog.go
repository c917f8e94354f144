package rules

import (
	"fmt"
	"time"

	"riskwatch/internal/risk"
)

// Catalog builds live rules from stored definitions.
type Catalog struct {
	history History
	nowFn   func() time.Time
}

type CatalogOption func(*Catalog)

// WithClock overrides the clock used by time-windowed rules.
func WithClock(fn func() time.Time) CatalogOption {
	return func(c *Catalog) {
		if fn != nil {
			c.nowFn = fn
		}
	}
}

func NewCatalog(history History, opts ...CatalogOption) *Catalog {
	c := &Catalog{history: history, nowFn: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Build returns the Rule for def.Type or ErrUnknownRuleType.
func (c *Catalog) Build(def risk.RiskRule) (Rule, error) {
	params := def.Parameters
	if params == nil {
		params = map[string]any{}
	}
	var (
		rule Rule
		err  error
	)
	switch def.Type {
	case risk.RuleDuration:
		rule, err = newDurationRule(params)
	case risk.RuleVolumeConsistency:
		rule, err = newVolumeRule(params, c.history)
	case risk.RuleOpenTradesCount:
		rule, err = newOpenTradesRule(params, c.history, c.nowFn)
	default:
		return nil, fmt.Errorf("%w: %q (rule_id=%d)", ErrUnknownRuleType, def.Type, def.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("build %s rule_id=%d: %w", def.Type, def.ID, err)
	}
	return rule, nil
}
