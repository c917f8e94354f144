package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTradeDurationSeconds(t *testing.T) {
	open := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	closeAt := open.Add(29*time.Second + 900*time.Millisecond)

	tr := Trade{Status: TradeClosed, OpenTime: open, CloseTime: &closeAt}
	secs, ok := tr.DurationSeconds()
	assert.True(t, ok)
	assert.EqualValues(t, 29, secs)

	tr.Status = TradeOpen
	_, ok = tr.DurationSeconds()
	assert.False(t, ok)

	tr = Trade{Status: TradeClosed, OpenTime: open}
	_, ok = tr.DurationSeconds()
	assert.False(t, ok)
}

func TestAccountTradingEnabled(t *testing.T) {
	assert.True(t, Account{Status: FlagEnable, TradingStatus: FlagEnable}.TradingEnabled())
	assert.False(t, Account{Status: FlagEnable, TradingStatus: FlagDisable}.TradingEnabled())
	assert.False(t, Account{Status: FlagDisable, TradingStatus: FlagEnable}.TradingEnabled())
}

func TestRuleThreshold(t *testing.T) {
	three, zero := 3, 0
	assert.Equal(t, 1, RiskRule{}.Threshold())
	assert.Equal(t, 1, RiskRule{IncidentsBeforeAction: &zero}.Threshold())
	assert.Equal(t, 3, RiskRule{IncidentsBeforeAction: &three}.Threshold())
}

func TestIncidentStatusTerminal(t *testing.T) {
	assert.False(t, IncidentPending.Terminal())
	assert.True(t, IncidentProcessed.Terminal())
	assert.True(t, IncidentActionExecuted.Terminal())
}
