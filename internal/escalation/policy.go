// Package escalation decides when a violation triggers remediation.
package escalation

import (
	"context"
	"fmt"
	"time"

	"riskwatch/internal/risk"
)

// Mode controls how soft rules re-trigger once past their threshold.
type Mode string

const (
	// EveryViolation escalates on every violation once the window count reaches the threshold.
	EveryViolation Mode = "every_violation"
	// OncePerEpisode escalates only on the violation that makes the count equal the threshold.
	OncePerEpisode Mode = "once_per_episode"
)

const DefaultWindow = 24 * time.Hour

// IncidentCounter is the derived-count query the policy relies on.
type IncidentCounter interface {
	CountForRuleSince(ctx context.Context, accountID, ruleID int64, since time.Time) (int64, error)
}

// Decision is the outcome for one violation.
type Decision struct {
	Escalate  bool
	Severity  risk.Severity
	Count     int64
	Threshold int
	// WindowStart bounds the incidents that contributed to the decision.
	WindowStart time.Time
}

type Policy struct {
	incidents IncidentCounter
	window    time.Duration
	mode      Mode
	nowFn     func() time.Time
}

type Option func(*Policy)

func WithWindow(d time.Duration) Option {
	return func(p *Policy) {
		if d > 0 {
			p.window = d
		}
	}
}

func WithMode(m Mode) Option {
	return func(p *Policy) {
		if m == EveryViolation || m == OncePerEpisode {
			p.mode = m
		}
	}
}

func WithClock(fn func() time.Time) Option {
	return func(p *Policy) {
		if fn != nil {
			p.nowFn = fn
		}
	}
}

func NewPolicy(incidents IncidentCounter, opts ...Option) *Policy {
	p := &Policy{
		incidents: incidents,
		window:    DefaultWindow,
		mode:      EveryViolation,
		nowFn:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

func (p *Policy) Window() time.Duration { return p.window }

func (p *Policy) Mode() Mode { return p.mode }

// Decide must run after the incident for this violation has been persisted,
// so the count includes it.
func (p *Policy) Decide(ctx context.Context, rule risk.RiskRule, accountID int64) (Decision, error) {
	start := p.nowFn().UTC().Add(-p.window)
	if rule.Severity != risk.SeveritySoft {
		return Decision{Escalate: true, Severity: risk.SeverityHard, Threshold: 1, WindowStart: start}, nil
	}
	threshold := rule.Threshold()
	count, err := p.incidents.CountForRuleSince(ctx, accountID, rule.ID, start)
	if err != nil {
		return Decision{}, fmt.Errorf("count incidents rule_id=%d account_id=%d: %w", rule.ID, accountID, err)
	}
	d := Decision{Severity: risk.SeveritySoft, Count: count, Threshold: threshold, WindowStart: start}
	switch p.mode {
	case OncePerEpisode:
		d.Escalate = count == int64(threshold)
	default:
		d.Escalate = count >= int64(threshold)
	}
	return d, nil
}
