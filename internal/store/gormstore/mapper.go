package gormstore

import (
	"encoding/json"
	"errors"
	"time"

	"riskwatch/internal/risk"
	"riskwatch/internal/store"
	"riskwatch/internal/store/model"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.ErrNotFound
	}
	return err
}

func encodeJSON(v map[string]any) (datatypes.JSON, error) {
	if len(v) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

func decodeJSON(raw datatypes.JSON) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{}
	}
	return out
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func accountFromModel(m model.AccountModel) risk.Account {
	return risk.Account{
		ID:            m.ID,
		Login:         m.Login,
		TradingStatus: risk.Flag(m.TradingStatus),
		Status:        risk.Flag(m.Status),
		CreatedAt:     m.CreatedAt.UTC(),
		UpdatedAt:     m.UpdatedAt.UTC(),
	}
}

func tradeFromModel(m model.TradeModel) risk.Trade {
	return risk.Trade{
		ID:         m.ID,
		AccountID:  m.AccountID,
		Side:       risk.TradeSide(m.Type),
		Volume:     m.Volume,
		OpenTime:   m.OpenTime.UTC(),
		CloseTime:  utcPtr(m.CloseTime),
		OpenPrice:  m.OpenPrice,
		ClosePrice: m.ClosePrice,
		Status:     risk.TradeStatus(m.Status),
		Metadata:   decodeJSON(m.Metadata),
	}
}

func tradeToModel(t risk.Trade) (model.TradeModel, error) {
	meta, err := encodeJSON(t.Metadata)
	if err != nil {
		return model.TradeModel{}, err
	}
	return model.TradeModel{
		ID:         t.ID,
		AccountID:  t.AccountID,
		Type:       string(t.Side),
		Volume:     t.Volume,
		OpenTime:   t.OpenTime.UTC(),
		CloseTime:  utcPtr(t.CloseTime),
		OpenPrice:  t.OpenPrice,
		ClosePrice: t.ClosePrice,
		Status:     string(t.Status),
		Metadata:   meta,
	}, nil
}

func actionFromModel(m model.RiskActionModel, position int) risk.Action {
	return risk.Action{
		ID:       m.ID,
		Name:     m.Name,
		Type:     risk.ActionType(m.Type),
		Config:   decodeJSON(m.Config),
		IsActive: m.IsActive,
		Position: position,
	}
}

func ruleFromModel(m model.RiskRuleModel) risk.RiskRule {
	return risk.RiskRule{
		ID:                    m.ID,
		Name:                  m.Name,
		Description:           m.Description,
		Type:                  risk.RuleType(m.Type),
		Parameters:            decodeJSON(m.Parameters),
		Severity:              risk.Severity(m.Severity),
		IncidentsBeforeAction: m.IncidentsBeforeAction,
		IsActive:              m.IsActive,
	}
}

func incidentFromModel(m model.IncidentModel) risk.Incident {
	return risk.Incident{
		ID:            m.ID,
		AccountID:     m.AccountID,
		TradeID:       m.TradeID,
		RuleID:        m.RuleID,
		ViolationData: risk.Evidence(decodeJSON(m.ViolationData)),
		Status:        risk.IncidentStatus(m.Status),
		ResolvedAt:    utcPtr(m.ResolvedAt),
		CreatedAt:     m.CreatedAt.UTC(),
	}
}
