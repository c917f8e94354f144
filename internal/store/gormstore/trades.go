package gormstore

import (
	"context"
	"errors"
	"time"

	"riskwatch/internal/risk"
	"riskwatch/internal/store/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type tradeRepository struct {
	db *gorm.DB
}

func (r *tradeRepository) FindByID(ctx context.Context, id int64) (*risk.Trade, error) {
	var m model.TradeModel
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	t := tradeFromModel(m)
	return &t, nil
}

func (r *tradeRepository) ListClosedBetween(ctx context.Context, from, to time.Time) ([]risk.Trade, error) {
	var models []model.TradeModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND close_time IS NOT NULL AND close_time >= ? AND close_time <= ?",
			string(risk.TradeClosed), from.UTC(), to.UTC()).
		Order("close_time ASC, id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return tradesFromModels(models), nil
}

func (r *tradeRepository) RecentClosed(ctx context.Context, accountID, excludeTradeID int64, limit int) ([]risk.Trade, error) {
	if limit <= 0 {
		return nil, nil
	}
	var models []model.TradeModel
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND status = ? AND close_time IS NOT NULL AND id <> ?",
			accountID, string(risk.TradeClosed), excludeTradeID).
		Order("close_time DESC, id DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return tradesFromModels(models), nil
}

func (r *tradeRepository) CountOpenSince(ctx context.Context, accountID int64, since time.Time) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.TradeModel{}).
		Where("account_id = ? AND status = ? AND open_time >= ?", accountID, string(risk.TradeOpen), since.UTC()).
		Count(&n).Error
	return n, err
}

func (r *tradeRepository) Save(ctx context.Context, trade *risk.Trade) error {
	if trade == nil {
		return errors.New("trade cannot be nil")
	}
	m, err := tradeToModel(*trade)
	if err != nil {
		return err
	}
	err = r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"account_id", "type", "volume", "open_time", "close_time", "open_price", "close_price", "status", "metadata", "updated_at",
		}),
	}).Create(&m).Error
	if err != nil {
		return err
	}
	trade.ID = m.ID
	return nil
}

func tradesFromModels(models []model.TradeModel) []risk.Trade {
	out := make([]risk.Trade, 0, len(models))
	for _, m := range models {
		out = append(out, tradeFromModel(m))
	}
	return out
}
