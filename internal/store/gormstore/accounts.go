package gormstore

import (
	"context"
	"errors"
	"time"

	"riskwatch/internal/risk"
	"riskwatch/internal/store"
	"riskwatch/internal/store/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type accountRepository struct {
	db *gorm.DB
}

func (r *accountRepository) FindByID(ctx context.Context, id int64) (*risk.Account, error) {
	var m model.AccountModel
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	a := accountFromModel(m)
	return &a, nil
}

// DisableTrading is idempotent: disabling an already disabled account succeeds.
func (r *accountRepository) DisableTrading(ctx context.Context, id int64) error {
	return r.disable(ctx, id, "trading_status")
}

func (r *accountRepository) DisableAccount(ctx context.Context, id int64) error {
	return r.disable(ctx, id, "status")
}

func (r *accountRepository) disable(ctx context.Context, id int64, column string) error {
	res := r.db.WithContext(ctx).Model(&model.AccountModel{}).
		Where("id = ?", id).
		Updates(map[string]any{column: string(risk.FlagDisable), "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *accountRepository) Save(ctx context.Context, account *risk.Account) error {
	if account == nil {
		return errors.New("account cannot be nil")
	}
	m := model.AccountModel{
		ID:            account.ID,
		Login:         account.Login,
		TradingStatus: string(account.TradingStatus),
		Status:        string(account.Status),
	}
	if m.TradingStatus == "" {
		m.TradingStatus = string(risk.FlagEnable)
	}
	if m.Status == "" {
		m.Status = string(risk.FlagEnable)
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "login"}},
		DoUpdates: clause.AssignmentColumns([]string{"trading_status", "status", "updated_at"}),
	}).Create(&m).Error
	if err != nil {
		return err
	}
	var saved model.AccountModel
	if err := r.db.WithContext(ctx).Where("login = ?", account.Login).First(&saved).Error; err != nil {
		return err
	}
	*account = accountFromModel(saved)
	return nil
}
