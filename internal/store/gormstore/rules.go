package gormstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"riskwatch/internal/risk"
	"riskwatch/internal/store/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ruleRepository struct {
	db *gorm.DB
}

func (r *ruleRepository) ListActive(ctx context.Context) ([]risk.RiskRule, error) {
	var models []model.RiskRuleModel
	if err := r.db.WithContext(ctx).Where("is_active = ?", true).Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	rules := make([]risk.RiskRule, 0, len(models))
	ids := make([]int64, 0, len(models))
	for _, m := range models {
		rules = append(rules, ruleFromModel(m))
		ids = append(ids, m.ID)
	}
	actions, err := r.activeActions(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range rules {
		rules[i].Actions = actions[rules[i].ID]
	}
	return rules, nil
}

func (r *ruleRepository) FindByID(ctx context.Context, id int64) (*risk.RiskRule, error) {
	var m model.RiskRuleModel
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	rule := ruleFromModel(m)
	actions, err := r.activeActions(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	rule.Actions = actions[id]
	return &rule, nil
}

// activeActions batches the join lookup so ListActive stays at three queries.
func (r *ruleRepository) activeActions(ctx context.Context, ruleIDs []int64) (map[int64][]risk.Action, error) {
	out := make(map[int64][]risk.Action, len(ruleIDs))
	if len(ruleIDs) == 0 {
		return out, nil
	}
	var links []model.RuleActionModel
	if err := r.db.WithContext(ctx).Where("rule_id IN ?", ruleIDs).Find(&links).Error; err != nil {
		return nil, err
	}
	if len(links) == 0 {
		return out, nil
	}
	actionIDs := make([]int64, 0, len(links))
	seen := make(map[int64]struct{}, len(links))
	for _, l := range links {
		if _, ok := seen[l.ActionID]; ok {
			continue
		}
		seen[l.ActionID] = struct{}{}
		actionIDs = append(actionIDs, l.ActionID)
	}
	var actions []model.RiskActionModel
	if err := r.db.WithContext(ctx).Where("id IN ? AND is_active = ?", actionIDs, true).Find(&actions).Error; err != nil {
		return nil, err
	}
	byID := make(map[int64]model.RiskActionModel, len(actions))
	for _, a := range actions {
		byID[a.ID] = a
	}
	for _, l := range links {
		a, ok := byID[l.ActionID]
		if !ok {
			continue
		}
		out[l.RuleID] = append(out[l.RuleID], actionFromModel(a, l.Position))
	}
	for id := range out {
		list := out[id]
		sort.SliceStable(list, func(i, j int) bool {
			if list[i].Position != list[j].Position {
				return list[i].Position < list[j].Position
			}
			return list[i].ID < list[j].ID
		})
	}
	return out, nil
}

func (r *ruleRepository) Save(ctx context.Context, rule *risk.RiskRule, actionIDs []int64) error {
	if rule == nil {
		return errors.New("rule cannot be nil")
	}
	name := strings.TrimSpace(rule.Name)
	if name == "" {
		return errors.New("rule name is required")
	}
	params, err := encodeJSON(rule.Parameters)
	if err != nil {
		return fmt.Errorf("encode parameters: %w", err)
	}
	m := model.RiskRuleModel{
		Name:                  name,
		Description:           rule.Description,
		Type:                  string(rule.Type),
		Parameters:            params,
		Severity:              string(rule.Severity),
		IncidentsBeforeAction: rule.IncidentsBeforeAction,
		IsActive:              rule.IsActive,
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"description", "type", "parameters", "severity", "incidents_before_action", "is_active", "updated_at",
			}),
		}).Create(&m).Error
		if err != nil {
			return err
		}
		var saved model.RiskRuleModel
		if err := tx.Where("name = ?", name).First(&saved).Error; err != nil {
			return err
		}
		if err := tx.Where("rule_id = ?", saved.ID).Delete(&model.RuleActionModel{}).Error; err != nil {
			return err
		}
		if len(actionIDs) > 0 {
			links := make([]model.RuleActionModel, 0, len(actionIDs))
			for i, id := range actionIDs {
				links = append(links, model.RuleActionModel{RuleID: saved.ID, ActionID: id, Position: i + 1})
			}
			if err := tx.Create(&links).Error; err != nil {
				return err
			}
		}
		rule.ID = saved.ID
		rule.IncidentsBeforeAction = saved.IncidentsBeforeAction
		return nil
	})
}
