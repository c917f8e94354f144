package evaluation_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"riskwatch/internal/dispatch"
	"riskwatch/internal/escalation"
	"riskwatch/internal/evaluation"
	"riskwatch/internal/risk"
	"riskwatch/internal/rules"
	"riskwatch/internal/store"
	"riskwatch/internal/store/gormstore"
	sqlitestore "riskwatch/internal/store/sqlite"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSubmitter struct {
	mu   sync.Mutex
	jobs []dispatch.Job
	err  error
}

func (r *recordingSubmitter) Submit(_ context.Context, job dispatch.Job) error {
	if r.err != nil {
		return r.err
	}
	r.mu.Lock()
	r.jobs = append(r.jobs, job)
	r.mu.Unlock()
	return nil
}

func (r *recordingSubmitter) actionTypes() []risk.ActionType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]risk.ActionType, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, j.Action.Type)
	}
	return out
}

type fixture struct {
	st      *gormstore.GormStore
	sub     *recordingSubmitter
	svc     *evaluation.Service
	account risk.Account
}

func newFixture(t *testing.T, mode escalation.Mode) *fixture {
	t.Helper()
	db, err := sqlitestore.Open(filepath.Join(t.TempDir(), "eval.db"), sqlitestore.DriverModernc)
	require.NoError(t, err)
	st, err := gormstore.New(db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	acc := risk.Account{Login: 5001}
	require.NoError(t, st.Accounts().Save(context.Background(), &acc))

	sub := &recordingSubmitter{}
	svc := evaluation.NewService(
		st.Rules(), st.Trades(), st.Incidents(),
		rules.NewCatalog(st.Trades()),
		escalation.NewPolicy(st.Incidents(), escalation.WithMode(mode)),
		sub,
		evaluation.WithConcurrency(2),
	)
	return &fixture{st: st, sub: sub, svc: svc, account: acc}
}

func (f *fixture) action(t *testing.T, name string, typ risk.ActionType) risk.Action {
	t.Helper()
	a := risk.Action{Name: name, Type: typ, IsActive: true}
	require.NoError(t, f.st.Actions().Save(context.Background(), &a))
	return a
}

func (f *fixture) rule(t *testing.T, def risk.RiskRule, actions ...risk.Action) risk.RiskRule {
	t.Helper()
	ids := make([]int64, 0, len(actions))
	for _, a := range actions {
		ids = append(ids, a.ID)
	}
	def.IsActive = true
	require.NoError(t, f.st.Rules().Save(context.Background(), &def, ids))
	return def
}

func (f *fixture) closedTrade(t *testing.T, volume string, held time.Duration, closeAt time.Time) risk.Trade {
	t.Helper()
	closeAt = closeAt.UTC()
	tr := risk.Trade{
		AccountID: f.account.ID,
		Side:      risk.SideBuy,
		Volume:    decimal.RequireFromString(volume),
		OpenTime:  closeAt.Add(-held),
		CloseTime: &closeAt,
		OpenPrice: decimal.RequireFromString("1.10000"),
		Status:    risk.TradeClosed,
	}
	require.NoError(t, f.st.Trades().Save(context.Background(), &tr))
	return tr
}

func (f *fixture) incidents(t *testing.T, ruleID int64) []risk.Incident {
	t.Helper()
	list, err := f.st.Incidents().List(context.Background(), store.IncidentFilter{AccountID: f.account.ID, RuleID: ruleID})
	require.NoError(t, err)
	return list
}

func TestEvaluateHardDurationViolation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, escalation.EveryViolation)
	slack := f.action(t, "notify-slack", risk.ActionSlack)
	disable := f.action(t, "disable-trading", risk.ActionDisableTrading)
	rule := f.rule(t, risk.RiskRule{
		Name:       "fast-scalp",
		Type:       risk.RuleDuration,
		Parameters: map[string]any{"min_duration_seconds": 60},
		Severity:   risk.SeverityHard,
	}, slack, disable)

	trade := f.closedTrade(t, "1.00", 20*time.Second, time.Now().Add(-time.Minute))
	results, err := f.svc.Evaluate(ctx, trade)
	require.NoError(t, err)
	require.Len(t, results, 1)
	res := results[0]
	assert.True(t, res.Violated)
	assert.True(t, res.Escalated)
	assert.Equal(t, 2, res.Submitted)
	assert.EqualValues(t, 20, res.Evidence["duration_seconds"])
	assert.EqualValues(t, 60, res.Evidence["min_duration_seconds"])

	assert.Equal(t, []risk.ActionType{risk.ActionSlack, risk.ActionDisableTrading}, f.sub.actionTypes())

	incs := f.incidents(t, rule.ID)
	require.Len(t, incs, 1)
	assert.Equal(t, risk.IncidentActionExecuted, incs[0].Status)
	assert.NotNil(t, incs[0].ResolvedAt)
	require.NotNil(t, incs[0].TradeID)
	assert.Equal(t, trade.ID, *incs[0].TradeID)
}

func TestEvaluateNoViolationCreatesNothing(t *testing.T) {
	f := newFixture(t, escalation.EveryViolation)
	rule := f.rule(t, risk.RiskRule{
		Name:       "fast-scalp",
		Type:       risk.RuleDuration,
		Parameters: map[string]any{"min_duration_seconds": 60},
		Severity:   risk.SeverityHard,
	}, f.action(t, "notify-slack", risk.ActionSlack))

	trade := f.closedTrade(t, "1.00", 2*time.Minute, time.Now().Add(-time.Minute))
	results, err := f.svc.Evaluate(context.Background(), trade)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].Violated)
	assert.Empty(t, f.incidents(t, rule.ID))
	assert.Empty(t, f.sub.actionTypes())
}

func TestEvaluateSoftRuleEscalatesAtThreshold(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, escalation.EveryViolation)
	three := 3
	rule := f.rule(t, risk.RiskRule{
		Name:                  "fast-scalp-soft",
		Type:                  risk.RuleDuration,
		Parameters:            map[string]any{"min_duration_seconds": 60},
		Severity:              risk.SeveritySoft,
		IncidentsBeforeAction: &three,
	}, f.action(t, "email-risk", risk.ActionEmail))

	var escalated []bool
	for i := 0; i < 4; i++ {
		trade := f.closedTrade(t, "1.00", 10*time.Second, time.Now().Add(-time.Minute))
		results, err := f.svc.Evaluate(ctx, trade)
		require.NoError(t, err)
		require.Len(t, results, 1)
		require.True(t, results[0].Violated)
		escalated = append(escalated, results[0].Escalated)
	}
	assert.Equal(t, []bool{false, false, true, true}, escalated)
	assert.Len(t, f.sub.actionTypes(), 2)

	incs := f.incidents(t, rule.ID)
	require.Len(t, incs, 4)
	for _, inc := range incs {
		assert.Equal(t, risk.IncidentActionExecuted, inc.Status)
	}
}

func TestEvaluateSoftRuleOncePerEpisode(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, escalation.OncePerEpisode)
	two := 2
	f.rule(t, risk.RiskRule{
		Name:                  "fast-scalp-soft",
		Type:                  risk.RuleDuration,
		Parameters:            map[string]any{"min_duration_seconds": 60},
		Severity:              risk.SeveritySoft,
		IncidentsBeforeAction: &two,
	}, f.action(t, "email-risk", risk.ActionEmail))

	var escalated []bool
	for i := 0; i < 3; i++ {
		trade := f.closedTrade(t, "1.00", 10*time.Second, time.Now().Add(-time.Minute))
		results, err := f.svc.Evaluate(ctx, trade)
		require.NoError(t, err)
		escalated = append(escalated, results[0].Escalated)
	}
	assert.Equal(t, []bool{false, true, false}, escalated)
	assert.Len(t, f.sub.actionTypes(), 1)
}

func TestEvaluateIsolatesBrokenRules(t *testing.T) {
	f := newFixture(t, escalation.EveryViolation)
	f.rule(t, risk.RiskRule{
		Name:       "missing-min",
		Type:       risk.RuleDuration,
		Parameters: map[string]any{},
		Severity:   risk.SeverityHard,
	})
	f.rule(t, risk.RiskRule{
		Name:       "exotic",
		Type:       risk.RuleType("martingale"),
		Parameters: map[string]any{},
		Severity:   risk.SeverityHard,
	})
	good := f.rule(t, risk.RiskRule{
		Name:       "fast-scalp",
		Type:       risk.RuleDuration,
		Parameters: map[string]any{"min_duration_seconds": 60},
		Severity:   risk.SeverityHard,
	})

	trade := f.closedTrade(t, "1.00", 5*time.Second, time.Now().Add(-time.Minute))
	results, err := f.svc.Evaluate(context.Background(), trade)
	require.NoError(t, err)
	require.Len(t, results, 3)

	var violated, failed int
	for _, r := range results {
		if r.Violated {
			violated++
			assert.Equal(t, good.ID, r.RuleID)
		}
		if r.Error != "" {
			failed++
			assert.False(t, r.Violated)
		}
	}
	assert.Equal(t, 1, violated)
	assert.Equal(t, 2, failed)

	all, err := f.st.Incidents().List(context.Background(), store.IncidentFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestEvaluateVolumeWithoutHistory(t *testing.T) {
	f := newFixture(t, escalation.EveryViolation)
	rule := f.rule(t, risk.RiskRule{
		Name:       "volume",
		Type:       risk.RuleVolumeConsistency,
		Parameters: map[string]any{"lookback_trades": 3, "min_factor": 0.5, "max_factor": 2.0},
		Severity:   risk.SeverityHard,
	})
	trade := f.closedTrade(t, "50.00", time.Hour, time.Now().Add(-time.Minute))
	results, err := f.svc.Evaluate(context.Background(), trade)
	require.NoError(t, err)
	assert.False(t, results[0].Violated)
	assert.Empty(t, f.incidents(t, rule.ID))
}

func TestEvaluateVolumeScenario(t *testing.T) {
	f := newFixture(t, escalation.EveryViolation)
	f.rule(t, risk.RiskRule{
		Name:       "volume",
		Type:       risk.RuleVolumeConsistency,
		Parameters: map[string]any{"lookback_trades": 3, "min_factor": 0.5, "max_factor": 2.0},
		Severity:   risk.SeverityHard,
	})
	now := time.Now()
	for i := 1; i <= 3; i++ {
		f.closedTrade(t, "1.00", time.Hour, now.Add(-time.Duration(10+i)*time.Minute))
	}
	trade := f.closedTrade(t, "3.00", time.Hour, now.Add(-time.Minute))
	results, err := f.svc.Evaluate(context.Background(), trade)
	require.NoError(t, err)
	require.True(t, results[0].Violated)
	allowed, ok := results[0].Evidence["allowed_range"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 0.5, allowed["min"])
	assert.EqualValues(t, 2.0, allowed["max"])
}

func TestEvaluateDuplicateEvaluationIsTolerated(t *testing.T) {
	f := newFixture(t, escalation.EveryViolation)
	rule := f.rule(t, risk.RiskRule{
		Name:       "fast-scalp",
		Type:       risk.RuleDuration,
		Parameters: map[string]any{"min_duration_seconds": 60},
		Severity:   risk.SeverityHard,
	}, f.action(t, "notify-slack", risk.ActionSlack))

	trade := f.closedTrade(t, "1.00", 20*time.Second, time.Now().Add(-time.Minute))
	for i := 0; i < 2; i++ {
		_, err := f.svc.Evaluate(context.Background(), trade)
		require.NoError(t, err)
	}
	assert.Len(t, f.incidents(t, rule.ID), 2)
	assert.Len(t, f.sub.actionTypes(), 2)
}

func TestEvaluateJoinsSubmissionErrors(t *testing.T) {
	f := newFixture(t, escalation.EveryViolation)
	f.sub.err = dispatch.ErrDispatcherClosed
	rule := f.rule(t, risk.RiskRule{
		Name:       "fast-scalp",
		Type:       risk.RuleDuration,
		Parameters: map[string]any{"min_duration_seconds": 60},
		Severity:   risk.SeverityHard,
	}, f.action(t, "notify-slack", risk.ActionSlack), f.action(t, "disable-account", risk.ActionDisableAccount))

	trade := f.closedTrade(t, "1.00", 20*time.Second, time.Now().Add(-time.Minute))
	results, err := f.svc.Evaluate(context.Background(), trade)
	require.Error(t, err)
	assert.True(t, errors.Is(err, dispatch.ErrDispatcherClosed))
	require.Len(t, results, 1)
	assert.True(t, results[0].Escalated)
	assert.Zero(t, results[0].Submitted)
	assert.Len(t, f.incidents(t, rule.ID), 1)
}

func TestEvaluatePeriodically(t *testing.T) {
	f := newFixture(t, escalation.EveryViolation)
	f.rule(t, risk.RiskRule{
		Name:       "fast-scalp",
		Type:       risk.RuleDuration,
		Parameters: map[string]any{"min_duration_seconds": 60},
		Severity:   risk.SeverityHard,
	}, f.action(t, "notify-slack", risk.ActionSlack))

	now := time.Now()
	f.closedTrade(t, "1.00", 10*time.Second, now.Add(-time.Minute))
	f.closedTrade(t, "1.00", 10*time.Minute, now.Add(-2*time.Minute))
	f.closedTrade(t, "1.00", 10*time.Second, now.Add(-3*time.Minute))
	// outside the window
	f.closedTrade(t, "1.00", 10*time.Second, now.Add(-2*time.Hour))

	report, err := f.svc.EvaluatePeriodically(context.Background(), 5*time.Minute)
	require.NoError(t, err)
	assert.NotEmpty(t, report.TraceID)
	assert.Equal(t, 3, report.Trades)
	assert.Equal(t, 2, report.Violations)
	assert.Equal(t, 2, report.Escalated)
	assert.Zero(t, report.Failed)
	assert.Len(t, f.sub.actionTypes(), 2)
}
