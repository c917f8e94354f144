// Package seed loads accounts, remediation actions and risk rules from a YAML
// file into the store.
package seed

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"riskwatch/internal/risk"
	"riskwatch/internal/rules"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// File mirrors the seed YAML document.
type File struct {
	Accounts []AccountSpec `yaml:"accounts"`
	Actions  []ActionSpec  `yaml:"actions"`
	Rules    []RuleSpec    `yaml:"rules"`
	Trades   []TradeSpec   `yaml:"trades"`
}

type AccountSpec struct {
	Login         int64  `yaml:"login"`
	TradingStatus string `yaml:"trading_status"`
	Status        string `yaml:"status"`
}

type ActionSpec struct {
	Name     string         `yaml:"name"`
	Type     string         `yaml:"type"`
	Config   map[string]any `yaml:"config"`
	IsActive *bool          `yaml:"is_active"`
}

type RuleSpec struct {
	Name                  string         `yaml:"name"`
	Description           string         `yaml:"description"`
	Type                  string         `yaml:"type"`
	Severity              string         `yaml:"severity"`
	IncidentsBeforeAction *int           `yaml:"incidents_before_action"`
	IsActive              *bool          `yaml:"is_active"`
	Parameters            map[string]any `yaml:"parameters"`
	// Actions lists action names in execution order.
	Actions []string `yaml:"actions"`
}

// TradeSpec is for fixtures and demos; production trades come from the platform.
type TradeSpec struct {
	ID           int64          `yaml:"id"`
	AccountLogin int64          `yaml:"account_login"`
	Side         string         `yaml:"side"`
	Volume       string         `yaml:"volume"`
	OpenTime     string         `yaml:"open_time"`
	CloseTime    string         `yaml:"close_time"`
	OpenPrice    string         `yaml:"open_price"`
	ClosePrice   string         `yaml:"close_price"`
	Status       string         `yaml:"status"`
	Metadata     map[string]any `yaml:"metadata"`
}

// ReadFile parses path strictly; unknown keys are errors.
func ReadFile(path string) (File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("read seed file failed: %w", err)
	}
	return Parse(raw)
}

func Parse(raw []byte) (File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return File{}, fmt.Errorf("parse seed file failed: %w", err)
	}
	return f, nil
}

// Validate reports every problem in the document at once.
func (f File) Validate() error {
	var errs []error
	logins := map[int64]bool{}
	for i, a := range f.Accounts {
		if a.Login <= 0 {
			errs = append(errs, fmt.Errorf("accounts[%d]: login must be positive", i))
		}
		if logins[a.Login] {
			errs = append(errs, fmt.Errorf("accounts[%d]: duplicate login %d", i, a.Login))
		}
		logins[a.Login] = true
		for _, flag := range []string{a.TradingStatus, a.Status} {
			if flag != "" && risk.Flag(flag) != risk.FlagEnable && risk.Flag(flag) != risk.FlagDisable {
				errs = append(errs, fmt.Errorf("accounts[%d]: invalid flag %q", i, flag))
			}
		}
	}

	actions := map[string]bool{}
	for i, a := range f.Actions {
		name := strings.TrimSpace(a.Name)
		if name == "" {
			errs = append(errs, fmt.Errorf("actions[%d]: name is required", i))
			continue
		}
		if actions[name] {
			errs = append(errs, fmt.Errorf("actions[%d]: duplicate name %q", i, name))
		}
		actions[name] = true
		if !risk.ActionType(a.Type).Valid() {
			errs = append(errs, fmt.Errorf("action %q: unsupported type %q", name, a.Type))
		}
	}

	ruleNames := map[string]bool{}
	for i, r := range f.Rules {
		name := strings.TrimSpace(r.Name)
		if name == "" {
			errs = append(errs, fmt.Errorf("rules[%d]: name is required", i))
			continue
		}
		if ruleNames[name] {
			errs = append(errs, fmt.Errorf("rules[%d]: duplicate name %q", i, name))
		}
		ruleNames[name] = true
		if !risk.Severity(r.Severity).Valid() {
			errs = append(errs, fmt.Errorf("rule %q: severity must be hard or soft, got %q", name, r.Severity))
		}
		if risk.Severity(r.Severity) == risk.SeveritySoft && (r.IncidentsBeforeAction == nil || *r.IncidentsBeforeAction <= 0) {
			errs = append(errs, fmt.Errorf("rule %q: soft rules need incidents_before_action > 0", name))
		}
		if err := rules.ValidateParameters(risk.RuleType(r.Type), r.Parameters); err != nil {
			errs = append(errs, fmt.Errorf("rule %q: %w", name, err))
		}
		for _, an := range r.Actions {
			if !actions[strings.TrimSpace(an)] {
				errs = append(errs, fmt.Errorf("rule %q: unknown action %q", name, an))
			}
		}
	}

	for i, t := range f.Trades {
		if _, err := t.toTrade(0); err != nil {
			errs = append(errs, fmt.Errorf("trades[%d]: %w", i, err))
		}
		if !logins[t.AccountLogin] {
			errs = append(errs, fmt.Errorf("trades[%d]: unknown account_login %d", i, t.AccountLogin))
		}
	}
	return errors.Join(errs...)
}

func (a AccountSpec) toAccount() risk.Account {
	return risk.Account{
		Login:         a.Login,
		TradingStatus: risk.Flag(a.TradingStatus),
		Status:        risk.Flag(a.Status),
	}
}

func (a ActionSpec) toAction() risk.Action {
	return risk.Action{
		Name:     strings.TrimSpace(a.Name),
		Type:     risk.ActionType(a.Type),
		Config:   a.Config,
		IsActive: boolOr(a.IsActive, true),
	}
}

func (r RuleSpec) toRule() risk.RiskRule {
	return risk.RiskRule{
		Name:                  strings.TrimSpace(r.Name),
		Description:           strings.TrimSpace(r.Description),
		Type:                  risk.RuleType(r.Type),
		Parameters:            r.Parameters,
		Severity:              risk.Severity(r.Severity),
		IncidentsBeforeAction: r.IncidentsBeforeAction,
		IsActive:              boolOr(r.IsActive, true),
	}
}

func (t TradeSpec) toTrade(accountID int64) (risk.Trade, error) {
	volume, err := decimal.NewFromString(strings.TrimSpace(t.Volume))
	if err != nil {
		return risk.Trade{}, fmt.Errorf("volume: %w", err)
	}
	openPrice := decimal.Zero
	if strings.TrimSpace(t.OpenPrice) != "" {
		if openPrice, err = decimal.NewFromString(strings.TrimSpace(t.OpenPrice)); err != nil {
			return risk.Trade{}, fmt.Errorf("open_price: %w", err)
		}
	}
	openTime, err := time.Parse(time.RFC3339, strings.TrimSpace(t.OpenTime))
	if err != nil {
		return risk.Trade{}, fmt.Errorf("open_time: %w", err)
	}
	side := risk.TradeSide(strings.ToUpper(strings.TrimSpace(t.Side)))
	if side != risk.SideBuy && side != risk.SideSell {
		return risk.Trade{}, fmt.Errorf("side must be BUY or SELL, got %q", t.Side)
	}
	tr := risk.Trade{
		ID:        t.ID,
		AccountID: accountID,
		Side:      side,
		Volume:    volume,
		OpenTime:  openTime.UTC(),
		OpenPrice: openPrice,
		Status:    risk.TradeStatus(strings.ToLower(strings.TrimSpace(t.Status))),
		Metadata:  t.Metadata,
	}
	if strings.TrimSpace(t.CloseTime) != "" {
		closeTime, err := time.Parse(time.RFC3339, strings.TrimSpace(t.CloseTime))
		if err != nil {
			return risk.Trade{}, fmt.Errorf("close_time: %w", err)
		}
		closeTime = closeTime.UTC()
		tr.CloseTime = &closeTime
	}
	if strings.TrimSpace(t.ClosePrice) != "" {
		cp, err := decimal.NewFromString(strings.TrimSpace(t.ClosePrice))
		if err != nil {
			return risk.Trade{}, fmt.Errorf("close_price: %w", err)
		}
		tr.ClosePrice = &cp
	}
	switch tr.Status {
	case risk.TradeOpen:
	case risk.TradeClosed:
		if tr.CloseTime == nil {
			return risk.Trade{}, errors.New("closed trade needs close_time")
		}
	default:
		return risk.Trade{}, fmt.Errorf("status must be open or closed, got %q", t.Status)
	}
	return tr, nil
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
