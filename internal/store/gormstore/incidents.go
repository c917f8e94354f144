package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"riskwatch/internal/risk"
	"riskwatch/internal/store"
	"riskwatch/internal/store/model"

	"gorm.io/gorm"
)

const defaultIncidentListLimit = 100

type incidentRepository struct {
	db *gorm.DB
}

func (r *incidentRepository) Create(ctx context.Context, incident *risk.Incident) error {
	if incident == nil {
		return errors.New("incident cannot be nil")
	}
	data, err := encodeJSON(incident.ViolationData)
	if err != nil {
		return fmt.Errorf("encode violation data: %w", err)
	}
	if incident.Status == "" {
		incident.Status = risk.IncidentPending
	}
	if incident.CreatedAt.IsZero() {
		incident.CreatedAt = time.Now()
	}
	incident.CreatedAt = incident.CreatedAt.UTC()
	m := model.IncidentModel{
		AccountID:     incident.AccountID,
		TradeID:       incident.TradeID,
		RuleID:        incident.RuleID,
		ViolationData: data,
		Status:        string(incident.Status),
		ResolvedAt:    utcPtr(incident.ResolvedAt),
		CreatedAt:     incident.CreatedAt,
		UpdatedAt:     incident.CreatedAt,
	}
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return err
	}
	incident.ID = m.ID
	return nil
}

func (r *incidentRepository) FindByID(ctx context.Context, id int64) (*risk.Incident, error) {
	var m model.IncidentModel
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	inc := incidentFromModel(m)
	return &inc, nil
}

func (r *incidentRepository) CountForRuleSince(ctx context.Context, accountID, ruleID int64, since time.Time) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.IncidentModel{}).
		Where("account_id = ? AND rule_id = ? AND created_at >= ?", accountID, ruleID, since.UTC()).
		Count(&n).Error
	return n, err
}

func (r *incidentRepository) MarkActionExecuted(ctx context.Context, accountID, ruleID int64, since, at time.Time) (int64, error) {
	at = at.UTC()
	res := r.db.WithContext(ctx).Model(&model.IncidentModel{}).
		Where("account_id = ? AND rule_id = ? AND status = ? AND created_at >= ?",
			accountID, ruleID, string(risk.IncidentPending), since.UTC()).
		Updates(map[string]any{
			"status":      string(risk.IncidentActionExecuted),
			"resolved_at": at,
			"updated_at":  at,
		})
	return res.RowsAffected, res.Error
}

func (r *incidentRepository) Resolve(ctx context.Context, id int64, at time.Time) (*risk.Incident, error) {
	at = at.UTC()
	res := r.db.WithContext(ctx).Model(&model.IncidentModel{}).
		Where("id = ? AND status = ?", id, string(risk.IncidentPending)).
		Updates(map[string]any{
			"status":      string(risk.IncidentProcessed),
			"resolved_at": at,
			"updated_at":  at,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := r.FindByID(ctx, id); err != nil {
			return nil, err
		}
		return nil, store.ErrIncidentNotPending
	}
	return r.FindByID(ctx, id)
}

func (r *incidentRepository) List(ctx context.Context, filter store.IncidentFilter) ([]risk.Incident, error) {
	q := r.db.WithContext(ctx).Model(&model.IncidentModel{})
	if filter.AccountID > 0 {
		q = q.Where("account_id = ?", filter.AccountID)
	}
	if filter.RuleID > 0 {
		q = q.Where("rule_id = ?", filter.RuleID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}
	if !filter.Since.IsZero() {
		q = q.Where("created_at >= ?", filter.Since.UTC())
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultIncidentListLimit
	}
	var models []model.IncidentModel
	if err := q.Order("created_at DESC, id DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]risk.Incident, 0, len(models))
	for _, m := range models {
		out = append(out, incidentFromModel(m))
	}
	return out, nil
}
