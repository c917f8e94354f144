package gormstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"riskwatch/internal/risk"
	"riskwatch/internal/store/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type actionRepository struct {
	db *gorm.DB
}

func (r *actionRepository) Save(ctx context.Context, action *risk.Action) error {
	if action == nil {
		return errors.New("action cannot be nil")
	}
	name := strings.TrimSpace(action.Name)
	if name == "" {
		return errors.New("action name is required")
	}
	cfg, err := encodeJSON(action.Config)
	if err != nil {
		return fmt.Errorf("encode action config: %w", err)
	}
	m := model.RiskActionModel{
		Name:     name,
		Type:     string(action.Type),
		Config:   cfg,
		IsActive: action.IsActive,
	}
	err = r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"type", "config", "is_active", "updated_at"}),
	}).Create(&m).Error
	if err != nil {
		return err
	}
	saved, err := r.FindByName(ctx, name)
	if err != nil {
		return err
	}
	action.ID = saved.ID
	return nil
}

func (r *actionRepository) FindByName(ctx context.Context, name string) (*risk.Action, error) {
	var m model.RiskActionModel
	if err := r.db.WithContext(ctx).Where("name = ?", strings.TrimSpace(name)).First(&m).Error; err != nil {
		return nil, notFound(err)
	}
	a := actionFromModel(m, 0)
	return &a, nil
}
