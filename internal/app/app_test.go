package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"riskwatch/internal/config"
	"riskwatch/internal/risk"
	"riskwatch/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const seedYAML = `
accounts:
  - login: 9001
actions:
  - name: notify-slack
    type: slack
  - name: disable-trading
    type: disable_trading
rules:
  - name: fast-scalp
    type: duration
    severity: hard
    parameters:
      min_duration_seconds: 60
    actions: [notify-slack, disable-trading]
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Default()
	require.NoError(t, err)
	dir := t.TempDir()
	cfg.Database.SQLite.Path = filepath.Join(dir, "riskwatch.db")
	seedPath := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(seedPath, []byte(seedYAML), 0o644))
	cfg.Seed.Path = seedPath
	cfg.Seed.Watch = false
	cfg.Dispatch.RetryBackoffSeconds = 0
	cfg.App.HTTPAddr = "127.0.0.1:0"
	return cfg
}

func TestBuildWiresPipeline(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	a, err := NewAppBuilder(cfg).Build(ctx)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	require.NotNil(t, a.Summary)
	assert.Contains(t, a.Summary.String(), "rules=1")
	assert.NotNil(t, a.HTTPServer())

	st := a.store
	acc, err := findAccountByLogin(ctx, st, 9001)
	require.NoError(t, err)

	closeAt := time.Now().UTC().Add(-time.Minute)
	trade := risk.Trade{
		AccountID: acc.ID,
		Side:      risk.SideBuy,
		Volume:    decimal.NewFromInt(1),
		OpenTime:  closeAt.Add(-15 * time.Second),
		CloseTime: &closeAt,
		Status:    risk.TradeClosed,
	}
	require.NoError(t, st.Trades().Save(ctx, &trade))

	a.Dispatcher().Start(ctx)
	results, err := a.Evaluator().Evaluate(ctx, trade)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Escalated)

	assert.Eventually(t, func() bool {
		got, err := st.Accounts().FindByID(ctx, acc.ID)
		return err == nil && !got.TradingEnabled()
	}, 3*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return a.Dispatcher().Stats().Succeeded == 2 }, 3*time.Second, 10*time.Millisecond)

	incs, err := st.Incidents().List(ctx, store.IncidentFilter{AccountID: acc.ID})
	require.NoError(t, err)
	require.Len(t, incs, 1)
	assert.Equal(t, risk.IncidentActionExecuted, incs[0].Status)
}

func TestEvaluateOnce(t *testing.T) {
	cfg := testConfig(t)
	a, err := NewAppBuilder(cfg).Build(context.Background())
	require.NoError(t, err)
	report, err := a.EvaluateOnce(context.Background(), 10*time.Minute)
	require.NoError(t, err)
	assert.Zero(t, report.Trades)
}

func TestBuildFailsOnInvalidSeed(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(cfg.Seed.Path, []byte("rules:\n  - name: x\n    type: duration\n    severity: hard\n"), 0o644))
	_, err := NewAppBuilder(cfg).Build(context.Background())
	assert.Error(t, err)
}

func TestBuildChannelsRouting(t *testing.T) {
	cfg := config.NotifyConfig{
		Slack:  config.SlackConfig{Enabled: true, WebhookURL: "https://hooks.example/T0", Username: "riskwatch"},
		Routes: map[string]string{"email": "telegram", "slack": "slack"},
		CircuitBreaker: config.BreakerConfig{
			Threshold: 2, TimeoutSeconds: 30,
		},
	}
	channels := buildChannels(cfg)
	require.Len(t, channels, 2)
	assert.Equal(t, config.ChannelSlack, channels[risk.ActionSlack].Name)
	// telegram is disabled, so email falls back to the log channel
	assert.Equal(t, config.ChannelLog, channels[risk.ActionEmail].Name)
	assert.NotNil(t, channels[risk.ActionSlack].Breaker)
}

func findAccountByLogin(ctx context.Context, st store.Store, login int64) (*risk.Account, error) {
	acc := risk.Account{Login: login}
	if err := st.Accounts().Save(ctx, &acc); err != nil {
		return nil, err
	}
	return &acc, nil
}
