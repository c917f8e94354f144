package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type AccountModel struct {
	ID            int64     `gorm:"column:id;primaryKey"`
	Login         int64     `gorm:"column:login;uniqueIndex"`
	TradingStatus string    `gorm:"column:trading_status;size:16;default:enable"`
	Status        string    `gorm:"column:status;size:16;default:enable"`
	CreatedAt     time.Time `gorm:"column:created_at"`
	UpdatedAt     time.Time `gorm:"column:updated_at"`
}

func (AccountModel) TableName() string { return "accounts" }

type TradeModel struct {
	ID         int64            `gorm:"column:id;primaryKey"`
	AccountID  int64            `gorm:"column:account_id;index:idx_trades_account_status,priority:1"`
	Type       string           `gorm:"column:type;size:8"`
	Volume     decimal.Decimal  `gorm:"column:volume;type:decimal(10,2)"`
	OpenTime   time.Time        `gorm:"column:open_time"`
	CloseTime  *time.Time       `gorm:"column:close_time;index"`
	OpenPrice  decimal.Decimal  `gorm:"column:open_price;type:decimal(15,5)"`
	ClosePrice *decimal.Decimal `gorm:"column:close_price;type:decimal(15,5)"`
	Status     string           `gorm:"column:status;size:16;index:idx_trades_account_status,priority:2"`
	Metadata   datatypes.JSON   `gorm:"column:metadata"`
	CreatedAt  time.Time        `gorm:"column:created_at"`
	UpdatedAt  time.Time        `gorm:"column:updated_at"`
}

func (TradeModel) TableName() string { return "trades" }

type RiskRuleModel struct {
	ID                    int64          `gorm:"column:id;primaryKey"`
	Name                  string         `gorm:"column:name;uniqueIndex"`
	Description           string         `gorm:"column:description"`
	Type                  string         `gorm:"column:type;size:32"`
	Parameters            datatypes.JSON `gorm:"column:parameters"`
	Severity              string         `gorm:"column:severity;size:8"`
	IncidentsBeforeAction *int           `gorm:"column:incidents_before_action;default:1"`
	IsActive              bool           `gorm:"column:is_active;index"`
	CreatedAt             time.Time      `gorm:"column:created_at"`
	UpdatedAt             time.Time      `gorm:"column:updated_at"`
}

func (RiskRuleModel) TableName() string { return "risk_rules" }

type RiskActionModel struct {
	ID        int64          `gorm:"column:id;primaryKey"`
	Name      string         `gorm:"column:name;uniqueIndex"`
	Type      string         `gorm:"column:type;size:32"`
	Config    datatypes.JSON `gorm:"column:config"`
	IsActive  bool           `gorm:"column:is_active"`
	CreatedAt time.Time      `gorm:"column:created_at"`
	UpdatedAt time.Time      `gorm:"column:updated_at"`
}

func (RiskActionModel) TableName() string { return "risk_actions" }

// RuleActionModel attaches an action to a rule; Position is the execution order.
type RuleActionModel struct {
	RuleID   int64 `gorm:"column:rule_id;primaryKey"`
	ActionID int64 `gorm:"column:action_id;primaryKey"`
	Position int   `gorm:"column:position"`
}

func (RuleActionModel) TableName() string { return "risk_rule_actions" }

type IncidentModel struct {
	ID            int64          `gorm:"column:id;primaryKey"`
	AccountID     int64          `gorm:"column:account_id;index:idx_incidents_account_rule_created,priority:1"`
	TradeID       *int64         `gorm:"column:trade_id;index"`
	RuleID        int64          `gorm:"column:rule_id;index:idx_incidents_account_rule_created,priority:2"`
	ViolationData datatypes.JSON `gorm:"column:violation_data"`
	Status        string         `gorm:"column:status;size:16;index"`
	ResolvedAt    *time.Time     `gorm:"column:resolved_at"`
	CreatedAt     time.Time      `gorm:"column:created_at;index:idx_incidents_account_rule_created,priority:3"`
	UpdatedAt     time.Time      `gorm:"column:updated_at"`
}

func (IncidentModel) TableName() string { return "incidents" }

// All lists every model for AutoMigrate.
func All() []any {
	return []any{
		&AccountModel{},
		&TradeModel{},
		&RiskRuleModel{},
		&RiskActionModel{},
		&RuleActionModel{},
		&IncidentModel{},
	}
}
