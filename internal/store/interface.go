package store

import (
	"context"
	"errors"
	"time"

	"riskwatch/internal/risk"
)

var (
	ErrNotFound           = errors.New("record not found")
	ErrIncidentNotPending = errors.New("incident is not pending")
)

// UnitOfWork defines a transaction scope.
type UnitOfWork interface {
	// Commit commits the transaction.
	Commit() error
	// Rollback rolls back the transaction.
	Rollback() error

	Repositories
}

// Repositories groups the repository accessors shared by Store and UnitOfWork.
type Repositories interface {
	Rules() RuleRepository
	Actions() ActionRepository
	Trades() TradeRepository
	Accounts() AccountRepository
	Incidents() IncidentRepository
}

// Store is the entry point for database access.
type Store interface {
	Repositories
	// Begin starts a new UnitOfWork (transaction).
	Begin(ctx context.Context) (UnitOfWork, error)
	// Close closes the store connection.
	Close() error
}

// RuleRepository handles risk rule definitions and their attached actions.
type RuleRepository interface {
	// ListActive returns active rules with their active actions in configured order.
	ListActive(ctx context.Context) ([]risk.RiskRule, error)
	FindByID(ctx context.Context, id int64) (*risk.RiskRule, error)
	// Save upserts by name and replaces the attached action list.
	Save(ctx context.Context, rule *risk.RiskRule, actionIDs []int64) error
}

// ActionRepository handles remediation action definitions.
type ActionRepository interface {
	// Save upserts by name.
	Save(ctx context.Context, action *risk.Action) error
	FindByName(ctx context.Context, name string) (*risk.Action, error)
}

// TradeRepository exposes the read paths used by rules and triggers.
type TradeRepository interface {
	FindByID(ctx context.Context, id int64) (*risk.Trade, error)
	// ListClosedBetween returns closed trades with close_time in [from, to].
	ListClosedBetween(ctx context.Context, from, to time.Time) ([]risk.Trade, error)
	// RecentClosed returns up to limit closed trades of the account, newest close first, excluding one trade.
	RecentClosed(ctx context.Context, accountID, excludeTradeID int64, limit int) ([]risk.Trade, error)
	// CountOpenSince counts open trades of the account opened at or after since.
	CountOpenSince(ctx context.Context, accountID int64, since time.Time) (int64, error)
	Save(ctx context.Context, trade *risk.Trade) error
}

// AccountRepository reads account flags; the only writes are one-way disables.
type AccountRepository interface {
	FindByID(ctx context.Context, id int64) (*risk.Account, error)
	DisableTrading(ctx context.Context, id int64) error
	DisableAccount(ctx context.Context, id int64) error
	Save(ctx context.Context, account *risk.Account) error
}

// IncidentFilter narrows incident listings; zero values mean no constraint.
type IncidentFilter struct {
	AccountID int64
	RuleID    int64
	Status    risk.IncidentStatus
	Since     time.Time
	Limit     int
}

// IncidentRepository owns the incident lifecycle.
type IncidentRepository interface {
	Create(ctx context.Context, incident *risk.Incident) error
	FindByID(ctx context.Context, id int64) (*risk.Incident, error)
	// CountForRuleSince counts incidents of any status for (account, rule) created at or after since.
	CountForRuleSince(ctx context.Context, accountID, ruleID int64, since time.Time) (int64, error)
	// MarkActionExecuted moves pending incidents of (account, rule) created at or after since to action_executed.
	MarkActionExecuted(ctx context.Context, accountID, ruleID int64, since, at time.Time) (int64, error)
	// Resolve moves one pending incident to processed.
	Resolve(ctx context.Context, id int64, at time.Time) (*risk.Incident, error)
	List(ctx context.Context, filter IncidentFilter) ([]risk.Incident, error)
}
