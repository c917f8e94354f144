package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"riskwatch/internal/gateway/notifier"
	"riskwatch/internal/pkg/circuit"
	"riskwatch/internal/risk"
	"riskwatch/internal/store"
)

// ErrUnsupportedAction is terminal: the job is dropped without retry.
var ErrUnsupportedAction = errors.New("unsupported action type")

// Executor runs one job attempt.
type Executor interface {
	Execute(ctx context.Context, job Job) error
}

// AccountDisabler is the account write surface remediation needs.
type AccountDisabler interface {
	DisableTrading(ctx context.Context, id int64) error
	DisableAccount(ctx context.Context, id int64) error
}

// Channel is a notification target guarded by its own breaker.
type Channel struct {
	Name     string
	Notifier notifier.TextNotifier
	Breaker  *circuit.CircuitBreaker
}

// Handlers executes the four remediation action types.
type Handlers struct {
	accounts AccountDisabler
	channels map[risk.ActionType]Channel
	nowFn    func() time.Time
}

// NewHandlers routes notification actions to channels; an action type without a
// channel is logged instead of sent.
func NewHandlers(accounts AccountDisabler, channels map[risk.ActionType]Channel) *Handlers {
	if channels == nil {
		channels = map[risk.ActionType]Channel{}
	}
	return &Handlers{accounts: accounts, channels: channels, nowFn: time.Now}
}

func (h *Handlers) Execute(ctx context.Context, job Job) error {
	switch job.Action.Type {
	case risk.ActionEmail, risk.ActionSlack:
		return h.notify(ctx, job)
	case risk.ActionDisableTrading:
		if h.accounts == nil {
			return errors.New("account store not configured")
		}
		return h.accounts.DisableTrading(ctx, job.AccountID)
	case risk.ActionDisableAccount:
		if h.accounts == nil {
			return errors.New("account store not configured")
		}
		return h.accounts.DisableAccount(ctx, job.AccountID)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedAction, job.Action.Type)
	}
}

func (h *Handlers) notify(ctx context.Context, job Job) error {
	ch, ok := h.channels[job.Action.Type]
	if !ok || ch.Notifier == nil {
		ch = Channel{Name: "log", Notifier: notifier.Log{Channel: string(job.Action.Type)}}
	}
	text := renderAlert(job, h.nowFn())
	send := func() error { return ch.Notifier.SendText(ctx, text) }
	if ch.Breaker != nil {
		if err := ch.Breaker.Do(send); err != nil {
			return fmt.Errorf("notify via %s: %w", ch.Name, err)
		}
		return nil
	}
	if err := send(); err != nil {
		return fmt.Errorf("notify via %s: %w", ch.Name, err)
	}
	return nil
}

func renderAlert(job Job, at time.Time) string {
	evidence, _ := json.Marshal(job.Evidence)
	var cfg []byte
	if len(job.Action.Config) > 0 {
		cfg, _ = json.Marshal(job.Action.Config)
	}
	alert := notifier.IncidentAlert{
		RuleID:       job.RuleID,
		RuleName:     job.RuleName,
		RuleType:     string(job.RuleType),
		Severity:     string(job.Severity),
		AccountID:    job.AccountID,
		TradeID:      job.TradeID,
		IncidentID:   job.IncidentID,
		ActionName:   job.Action.Name,
		ActionType:   string(job.Action.Type),
		Evidence:     evidence,
		ActionConfig: cfg,
		Attempt:      job.Attempt,
		At:           at,
	}
	return alert.Message().RenderMarkdown()
}

// permanent reports errors retrying cannot fix.
func permanent(err error) bool {
	return errors.Is(err, ErrUnsupportedAction) || errors.Is(err, store.ErrNotFound)
}
