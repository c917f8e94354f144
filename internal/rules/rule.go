// Package rules implements the risk rule predicates and the catalog that
// builds them from stored definitions.
package rules

import (
	"context"
	"errors"
	"time"

	"riskwatch/internal/risk"
)

var (
	ErrUnknownRuleType  = errors.New("unknown rule type")
	ErrMissingParameter = errors.New("missing rule parameter")
)

// Rule is a predicate over one trade plus read-only history.
type Rule interface {
	Type() risk.RuleType
	Parameters() map[string]any
	Evaluate(ctx context.Context, trade risk.Trade) (bool, error)
	ViolationData(ctx context.Context, trade risk.Trade) (risk.Evidence, error)
}

// Assessor is implemented by rules that can return the verdict and its
// evidence from a single history read.
type Assessor interface {
	Assess(ctx context.Context, trade risk.Trade) (bool, risk.Evidence, error)
}

// History is the read-only view of trade history rules may consult.
// store.TradeRepository satisfies it.
type History interface {
	RecentClosed(ctx context.Context, accountID, excludeTradeID int64, limit int) ([]risk.Trade, error)
	CountOpenSince(ctx context.Context, accountID int64, since time.Time) (int64, error)
}

// Assess runs r and returns verdict and evidence, using Assessor when available.
func Assess(ctx context.Context, r Rule, trade risk.Trade) (bool, risk.Evidence, error) {
	if a, ok := r.(Assessor); ok {
		return a.Assess(ctx, trade)
	}
	violated, err := r.Evaluate(ctx, trade)
	if err != nil || !violated {
		return violated, nil, err
	}
	evidence, err := r.ViolationData(ctx, trade)
	if err != nil {
		return true, nil, err
	}
	return true, evidence, nil
}

// assessed adapts an Assess implementation into the Evaluate/ViolationData pair.
type assessed struct {
	typ    risk.RuleType
	params map[string]any
	fn     func(ctx context.Context, trade risk.Trade) (bool, risk.Evidence, error)
}

func (a assessed) Type() risk.RuleType { return a.typ }

func (a assessed) Parameters() map[string]any {
	out := make(map[string]any, len(a.params))
	for k, v := range a.params {
		out[k] = v
	}
	return out
}

func (a assessed) Evaluate(ctx context.Context, trade risk.Trade) (bool, error) {
	violated, _, err := a.fn(ctx, trade)
	return violated, err
}

func (a assessed) ViolationData(ctx context.Context, trade risk.Trade) (risk.Evidence, error) {
	_, evidence, err := a.fn(ctx, trade)
	return evidence, err
}

func (a assessed) Assess(ctx context.Context, trade risk.Trade) (bool, risk.Evidence, error) {
	return a.fn(ctx, trade)
}
