package dispatch

import (
	"time"

	"riskwatch/internal/pkg/id"
	"riskwatch/internal/risk"
)

// Job is one remediation step for one escalated violation.
type Job struct {
	ID         string
	Action     risk.Action
	AccountID  int64
	TradeID    *int64
	RuleID     int64
	RuleName   string
	RuleType   risk.RuleType
	Severity   risk.Severity
	IncidentID int64
	Evidence   risk.Evidence
	// Attempt is the 1-based number of the next execution.
	Attempt   int
	NotBefore time.Time
	CreatedAt time.Time
}

// NewJob snapshots the action and violation context into a job.
func NewJob(action risk.Action, rule risk.RiskRule, incident risk.Incident) Job {
	now := time.Now().UTC()
	return Job{
		ID:         id.New(),
		Action:     action,
		AccountID:  incident.AccountID,
		TradeID:    incident.TradeID,
		RuleID:     rule.ID,
		RuleName:   rule.Name,
		RuleType:   rule.Type,
		Severity:   rule.Severity,
		IncidentID: incident.ID,
		Evidence:   incident.ViolationData,
		Attempt:    1,
		NotBefore:  now,
		CreatedAt:  now,
	}
}

func (j Job) logFields() []any {
	fields := []any{
		"job_id", j.ID,
		"action_id", j.Action.ID,
		"action_type", string(j.Action.Type),
		"account_id", j.AccountID,
		"rule_id", j.RuleID,
		"incident_id", j.IncidentID,
		"attempt", j.Attempt,
	}
	if j.TradeID != nil {
		fields = append(fields, "trade_id", *j.TradeID)
	}
	return fields
}
