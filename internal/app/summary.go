package app

import (
	"fmt"
	"sort"
	"strings"

	"riskwatch/internal/config"
	"riskwatch/internal/dispatch"
	"riskwatch/internal/risk"
	"riskwatch/internal/seed"
)

type StartupSummary struct {
	Env        string
	HTTPAddr   string
	Database   string
	Sweep      string
	Escalation string
	Dispatch   string
	Channels   map[string]string
	Seed       string
}

func newStartupSummary(cfg *config.Config, channels map[risk.ActionType]dispatch.Channel, loader *seed.Loader) *StartupSummary {
	s := &StartupSummary{
		Env:      cfg.App.Env,
		HTTPAddr: cfg.App.HTTPAddr,
		Database: cfg.Database.Driver,
		Escalation: fmt.Sprintf("window=%s soft_mode=%s",
			cfg.Escalation.Window(), cfg.Escalation.SoftMode),
		Dispatch: fmt.Sprintf("workers=%d queue=%d max_attempts=%d backoff=%s",
			cfg.Dispatch.Workers, cfg.Dispatch.QueueSize, cfg.Dispatch.MaxAttempts, cfg.Dispatch.RetryBackoff()),
		Channels: make(map[string]string, len(channels)),
		Seed:     "-",
	}
	if cfg.Database.Driver == "sqlite" {
		s.Database += " " + cfg.Database.SQLite.Path
	}
	if cfg.Sweep.Enabled {
		s.Sweep = fmt.Sprintf("every %s window=%s concurrency=%d", cfg.Sweep.Interval(), cfg.Sweep.Window(), cfg.Sweep.Concurrency)
	} else {
		s.Sweep = "disabled"
	}
	for typ, ch := range channels {
		s.Channels[string(typ)] = ch.Name
	}
	if loader != nil {
		snap := loader.Snapshot()
		s.Seed = fmt.Sprintf("%s (accounts=%d actions=%d rules=%d, watch=%v)",
			cfg.Seed.Path, snap.Summary.Accounts, snap.Summary.Actions, snap.Summary.Rules, cfg.Seed.Watch)
	}
	return s
}

func (s *StartupSummary) String() string {
	var b strings.Builder
	b.WriteString(strings.Repeat("=", 80) + "\n")
	b.WriteString("启动配置摘要 (STARTUP SUMMARY)\n")
	b.WriteString(strings.Repeat("=", 80) + "\n")
	fmt.Fprintf(&b, "  环境: %s\n", s.Env)
	fmt.Fprintf(&b, "  HTTP: %s\n", s.HTTPAddr)
	fmt.Fprintf(&b, "  存储: %s\n", s.Database)
	fmt.Fprintf(&b, "  巡检: %s\n", s.Sweep)
	fmt.Fprintf(&b, "  升级: %s\n", s.Escalation)
	fmt.Fprintf(&b, "  分发: %s\n", s.Dispatch)
	fmt.Fprintf(&b, "  通知路由: %s\n", formatRoutes(s.Channels))
	fmt.Fprintf(&b, "  种子: %s\n", s.Seed)
	b.WriteString(strings.Repeat("=", 80))
	return b.String()
}

func (s *StartupSummary) Print() {
	fmt.Println(s.String())
}

func formatRoutes(routes map[string]string) string {
	if len(routes) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(routes))
	for k := range routes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"→"+routes[k])
	}
	return strings.Join(parts, ", ")
}
