package apihttp

import (
	"time"

	"riskwatch/internal/risk"
)

type incidentView struct {
	ID            int64               `json:"id"`
	AccountID     int64               `json:"account_id"`
	TradeID       *int64              `json:"trade_id,omitempty"`
	RuleID        int64               `json:"rule_id"`
	Status        risk.IncidentStatus `json:"status"`
	ViolationData risk.Evidence       `json:"violation_data"`
	CreatedAt     time.Time           `json:"created_at"`
	ResolvedAt    *time.Time          `json:"resolved_at,omitempty"`
}

func newIncidentView(inc risk.Incident) incidentView {
	return incidentView{
		ID:            inc.ID,
		AccountID:     inc.AccountID,
		TradeID:       inc.TradeID,
		RuleID:        inc.RuleID,
		Status:        inc.Status,
		ViolationData: inc.ViolationData,
		CreatedAt:     inc.CreatedAt,
		ResolvedAt:    inc.ResolvedAt,
	}
}
