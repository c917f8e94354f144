package gormstore

import (
	"context"
	"database/sql"
	"fmt"

	"riskwatch/internal/store"
	"riskwatch/internal/store/model"

	"gorm.io/gorm"
)

// GormStore implements store.Store on any gorm dialect (SQLite or PostgreSQL).
type GormStore struct {
	repos
}

// New migrates the schema and wraps db.
func New(db *gorm.DB) (*GormStore, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm db 不能为空")
	}
	if err := db.AutoMigrate(model.All()...); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{repos: repos{db: db}}, nil
}

var _ store.Store = (*GormStore)(nil)

// Begin starts a transaction scoped UnitOfWork.
func (s *GormStore) Begin(ctx context.Context) (store.UnitOfWork, error) {
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	return &gormUnitOfWork{repos: repos{db: tx}}, nil
}

// Close closes the underlying database connection.
func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SQLDB exposes the underlying *sql.DB for health checks.
func (s *GormStore) SQLDB() (*sql.DB, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	return s.db.DB()
}

// Ping checks the connection.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.SQLDB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

type repos struct {
	db *gorm.DB
}

func (r repos) Rules() store.RuleRepository         { return &ruleRepository{db: r.db} }
func (r repos) Actions() store.ActionRepository     { return &actionRepository{db: r.db} }
func (r repos) Trades() store.TradeRepository       { return &tradeRepository{db: r.db} }
func (r repos) Accounts() store.AccountRepository   { return &accountRepository{db: r.db} }
func (r repos) Incidents() store.IncidentRepository { return &incidentRepository{db: r.db} }

type gormUnitOfWork struct {
	repos
}

func (u *gormUnitOfWork) Commit() error {
	return u.db.Commit().Error
}

func (u *gormUnitOfWork) Rollback() error {
	return u.db.Rollback().Error
}
