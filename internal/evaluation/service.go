// Package evaluation runs closed trades through the active rule set, records
// violations as incidents and hands escalations to the dispatcher.
package evaluation

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"riskwatch/internal/dispatch"
	"riskwatch/internal/escalation"
	"riskwatch/internal/logger"
	"riskwatch/internal/risk"
	"riskwatch/internal/rules"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// RuleSource lists active rules with their active actions in order.
type RuleSource interface {
	ListActive(ctx context.Context) ([]risk.RiskRule, error)
}

// TradeSource lists closed trades for the sweep.
type TradeSource interface {
	ListClosedBetween(ctx context.Context, from, to time.Time) ([]risk.Trade, error)
}

// IncidentWriter is the incident surface the pipeline writes through.
type IncidentWriter interface {
	Create(ctx context.Context, incident *risk.Incident) error
	MarkActionExecuted(ctx context.Context, accountID, ruleID int64, since, at time.Time) (int64, error)
}

// RuleBuilder turns a rule definition into an executable rule.
type RuleBuilder interface {
	Build(def risk.RiskRule) (rules.Rule, error)
}

// Decider is the escalation policy.
type Decider interface {
	Decide(ctx context.Context, rule risk.RiskRule, accountID int64) (escalation.Decision, error)
}

// Submitter accepts remediation jobs.
type Submitter interface {
	Submit(ctx context.Context, job dispatch.Job) error
}

// Result is the per-rule outcome of one evaluation; observability only.
type Result struct {
	RuleID     int64                `json:"rule_id"`
	RuleName   string               `json:"rule_name"`
	RuleType   risk.RuleType        `json:"rule_type"`
	Violated   bool                 `json:"violated"`
	IncidentID int64                `json:"incident_id,omitempty"`
	Escalated  bool                 `json:"escalated"`
	Submitted  int                  `json:"actions_submitted"`
	Evidence   risk.Evidence        `json:"evidence,omitempty"`
	Error      string               `json:"error,omitempty"`
	Decision   *escalation.Decision `json:"-"`
}

// SweepReport summarises one periodic evaluation.
type SweepReport struct {
	TraceID    string    `json:"trace_id"`
	From       time.Time `json:"from"`
	To         time.Time `json:"to"`
	Trades     int       `json:"trades"`
	Violations int       `json:"violations"`
	Escalated  int       `json:"escalated"`
	Failed     int       `json:"failed"`
	Duration   string    `json:"duration"`
}

type Service struct {
	rules       RuleSource
	trades      TradeSource
	incidents   IncidentWriter
	catalog     RuleBuilder
	policy      Decider
	dispatcher  Submitter
	concurrency int
	nowFn       func() time.Time
}

type Option func(*Service)

// WithConcurrency bounds how many trades a sweep evaluates at once.
func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.nowFn = fn
		}
	}
}

func NewService(ruleSrc RuleSource, trades TradeSource, incidents IncidentWriter, catalog RuleBuilder, policy Decider, dispatcher Submitter, opts ...Option) *Service {
	s := &Service{
		rules:       ruleSrc,
		trades:      trades,
		incidents:   incidents,
		catalog:     catalog,
		policy:      policy,
		dispatcher:  dispatcher,
		concurrency: 4,
		nowFn:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Evaluate runs trade through every active rule. A rule that fails to build or
// evaluate is logged and skipped; persistence and submission failures are
// joined into the returned error after all rules ran.
func (s *Service) Evaluate(ctx context.Context, trade risk.Trade) ([]Result, error) {
	return s.evaluate(ctx, uuid.NewString(), trade)
}

func (s *Service) evaluate(ctx context.Context, traceID string, trade risk.Trade) ([]Result, error) {
	log := logger.With("trace_id", traceID, "trade_id", trade.ID, "account_id", trade.AccountID)
	defs, err := s.rules.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("load active rules: %w", err)
	}
	if len(defs) == 0 {
		log.Debugf("Evaluation: no active rules")
		return nil, nil
	}
	results := make([]Result, 0, len(defs))
	var errs []error
	for _, def := range defs {
		res, err := s.evaluateRule(ctx, log.With("rule_id", def.ID, "rule_type", string(def.Type)), def, trade)
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %d trade %d: %w", def.ID, trade.ID, err))
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

// evaluateRule returns an error only for persistence or submission failures.
func (s *Service) evaluateRule(ctx context.Context, log logger.Entry, def risk.RiskRule, trade risk.Trade) (res Result, err error) {
	res = Result{RuleID: def.ID, RuleName: def.Name, RuleType: def.Type}
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Evaluation: rule panic: %v", r)
			res.Error = fmt.Sprintf("panic: %v", r)
		}
	}()

	rule, err := s.catalog.Build(def)
	if err != nil {
		log.Errorf("Evaluation: build rule failed: %v", err)
		res.Error = err.Error()
		return res, nil
	}
	violated, evidence, err := rules.Assess(ctx, rule, trade)
	if err != nil {
		log.Errorf("Evaluation: rule evaluation failed: %v", err)
		res.Error = err.Error()
		return res, nil
	}
	if !violated {
		return res, nil
	}
	res.Violated = true
	res.Evidence = evidence

	tradeID := trade.ID
	incident := risk.Incident{
		AccountID:     trade.AccountID,
		TradeID:       &tradeID,
		RuleID:        def.ID,
		ViolationData: evidence,
		Status:        risk.IncidentPending,
	}
	if err := s.incidents.Create(ctx, &incident); err != nil {
		log.Errorf("Evaluation: persist incident failed: %v", err)
		res.Error = err.Error()
		return res, fmt.Errorf("create incident: %w", err)
	}
	res.IncidentID = incident.ID
	log = log.With("incident_id", incident.ID)
	log.Infof("Evaluation: violation recorded severity=%s", def.Severity)

	decision, err := s.policy.Decide(ctx, def, trade.AccountID)
	if err != nil {
		log.Errorf("Evaluation: escalation decision failed: %v", err)
		res.Error = err.Error()
		return res, fmt.Errorf("escalation: %w", err)
	}
	res.Decision = &decision
	if !decision.Escalate {
		log.Infof("Evaluation: below threshold count=%d threshold=%d", decision.Count, decision.Threshold)
		return res, nil
	}
	res.Escalated = true
	return res, s.escalate(ctx, log, def, incident, decision, &res)
}

func (s *Service) escalate(ctx context.Context, log logger.Entry, def risk.RiskRule, incident risk.Incident, decision escalation.Decision, res *Result) error {
	var errs []error
	marked, err := s.incidents.MarkActionExecuted(ctx, incident.AccountID, def.ID, decision.WindowStart, s.nowFn().UTC())
	if err != nil {
		log.Errorf("Evaluation: mark incidents action_executed failed: %v", err)
		errs = append(errs, fmt.Errorf("mark incidents: %w", err))
	}
	log.Infof("Evaluation: escalating severity=%s count=%d threshold=%d marked=%d actions=%d",
		decision.Severity, decision.Count, decision.Threshold, marked, len(def.Actions))
	for _, action := range def.Actions {
		if !action.IsActive {
			continue
		}
		job := dispatch.NewJob(action, def, incident)
		if err := s.dispatcher.Submit(ctx, job); err != nil {
			log.Errorf("Evaluation: submit action %s (%s) failed: %v", action.Name, action.Type, err)
			errs = append(errs, fmt.Errorf("submit action %d: %w", action.ID, err))
			continue
		}
		res.Submitted++
	}
	if len(errs) > 0 {
		res.Error = errors.Join(errs...).Error()
	}
	return errors.Join(errs...)
}

// EvaluatePeriodically evaluates every trade closed within the last window.
func (s *Service) EvaluatePeriodically(ctx context.Context, window time.Duration) (SweepReport, error) {
	traceID := uuid.NewString()
	start := s.nowFn()
	to := start.UTC()
	from := to.Add(-window)
	report := SweepReport{TraceID: traceID, From: from, To: to}
	log := logger.With("trace_id", traceID)

	trades, err := s.trades.ListClosedBetween(ctx, from, to)
	if err != nil {
		return report, fmt.Errorf("list closed trades: %w", err)
	}
	report.Trades = len(trades)
	log.Infof("Sweep: evaluating %d closed trades in [%s, %s]", len(trades), from.Format(time.RFC3339), to.Format(time.RFC3339))

	var (
		violations atomic.Int64
		escalated  atomic.Int64
		failed     atomic.Int64
		errCh      = make(chan error, len(trades))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, trade := range trades {
		trade := trade
		g.Go(func() error {
			results, err := s.evaluate(gctx, traceID, trade)
			for _, r := range results {
				if r.Violated {
					violations.Add(1)
				}
				if r.Escalated {
					escalated.Add(1)
				}
			}
			if err != nil {
				failed.Add(1)
				log.With("trade_id", trade.ID).Errorf("Sweep: trade evaluation failed: %v", err)
				errCh <- err
			}
			// per-trade failures must not cancel the rest of the sweep
			return nil
		})
	}
	_ = g.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	report.Violations = int(violations.Load())
	report.Escalated = int(escalated.Load())
	report.Failed = int(failed.Load())
	report.Duration = s.nowFn().Sub(start).String()
	log.Infof("Sweep: done trades=%d violations=%d escalated=%d failed=%d in %s",
		report.Trades, report.Violations, report.Escalated, report.Failed, report.Duration)
	return report, errors.Join(errs...)
}
