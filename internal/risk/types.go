// Package risk holds the domain entities shared by rule evaluation,
// escalation and action dispatch.
package risk

import (
	"time"

	"github.com/shopspring/decimal"
)

type TradeSide string

const (
	SideBuy  TradeSide = "BUY"
	SideSell TradeSide = "SELL"
)

type TradeStatus string

const (
	TradeOpen   TradeStatus = "open"
	TradeClosed TradeStatus = "closed"
)

// Trade is read-only for the pipeline; it is never mutated here.
type Trade struct {
	ID         int64
	AccountID  int64
	Side       TradeSide
	Volume     decimal.Decimal
	OpenTime   time.Time
	CloseTime  *time.Time
	OpenPrice  decimal.Decimal
	ClosePrice *decimal.Decimal
	Status     TradeStatus
	Metadata   map[string]any
}

// IsClosed reports whether the trade is closed and carries a close time.
func (t Trade) IsClosed() bool {
	return t.Status == TradeClosed && t.CloseTime != nil
}

// DurationSeconds returns whole seconds between open and close.
func (t Trade) DurationSeconds() (int64, bool) {
	if !t.IsClosed() {
		return 0, false
	}
	return int64(t.CloseTime.Sub(t.OpenTime) / time.Second), true
}

type Flag string

const (
	FlagEnable  Flag = "enable"
	FlagDisable Flag = "disable"
)

type Account struct {
	ID            int64
	Login         int64
	TradingStatus Flag
	Status        Flag
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TradingEnabled is true only when both the account and its trading flag are enabled.
func (a Account) TradingEnabled() bool {
	return a.Status == FlagEnable && a.TradingStatus == FlagEnable
}

type RuleType string

const (
	RuleDuration          RuleType = "duration"
	RuleVolumeConsistency RuleType = "volume_consistency"
	RuleOpenTradesCount   RuleType = "open_trades_count"
)

func (t RuleType) Valid() bool {
	switch t {
	case RuleDuration, RuleVolumeConsistency, RuleOpenTradesCount:
		return true
	default:
		return false
	}
}

type Severity string

const (
	SeverityHard Severity = "hard"
	SeveritySoft Severity = "soft"
)

func (s Severity) Valid() bool {
	return s == SeverityHard || s == SeveritySoft
}

type RiskRule struct {
	ID          int64
	Name        string
	Description string
	Type        RuleType
	Parameters  map[string]any
	Severity    Severity
	// IncidentsBeforeAction is only meaningful for soft rules.
	IncidentsBeforeAction *int
	IsActive              bool
	// Actions are the active attached actions in configured order.
	Actions []Action
}

// Threshold returns the soft escalation threshold; missing or non-positive values count as 1.
func (r RiskRule) Threshold() int {
	if r.IncidentsBeforeAction == nil || *r.IncidentsBeforeAction <= 0 {
		return 1
	}
	return *r.IncidentsBeforeAction
}

type ActionType string

const (
	ActionEmail          ActionType = "email"
	ActionSlack          ActionType = "slack"
	ActionDisableTrading ActionType = "disable_trading"
	ActionDisableAccount ActionType = "disable_account"
)

func (t ActionType) Valid() bool {
	switch t {
	case ActionEmail, ActionSlack, ActionDisableTrading, ActionDisableAccount:
		return true
	default:
		return false
	}
}

type Action struct {
	ID       int64
	Name     string
	Type     ActionType
	Config   map[string]any
	IsActive bool
	Position int
}

// Evidence is the immutable violation snapshot stored on an incident.
type Evidence map[string]any

type IncidentStatus string

const (
	IncidentPending        IncidentStatus = "pending"
	IncidentProcessed      IncidentStatus = "processed"
	IncidentActionExecuted IncidentStatus = "action_executed"
)

// Terminal reports whether no further transition is allowed.
func (s IncidentStatus) Terminal() bool {
	return s == IncidentProcessed || s == IncidentActionExecuted
}

type Incident struct {
	ID            int64
	AccountID     int64
	TradeID       *int64
	RuleID        int64
	ViolationData Evidence
	Status        IncidentStatus
	ResolvedAt    *time.Time
	CreatedAt     time.Time
}
