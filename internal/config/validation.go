package config

import (
	"fmt"
	"strings"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.Database.validate(); err != nil {
		return err
	}
	if err := c.Sweep.validate(); err != nil {
		return err
	}
	if err := c.Escalation.validate(); err != nil {
		return err
	}
	if err := c.Dispatch.validate(); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	return nil
}

func (d *DatabaseConfig) validate() error {
	switch d.Driver {
	case "sqlite":
		if strings.TrimSpace(d.SQLite.Path) == "" {
			return fmt.Errorf("database.sqlite.path cannot be empty")
		}
		switch d.SQLite.DriverName {
		case "sqlite", "sqlite3":
		default:
			return fmt.Errorf("database.sqlite.driver_name must be sqlite or sqlite3, got %s", d.SQLite.DriverName)
		}
	case "postgres":
		if strings.TrimSpace(d.Postgres.DSN) == "" && strings.TrimSpace(d.Postgres.Host) == "" {
			return fmt.Errorf("database.postgres requires dsn or host")
		}
	default:
		return fmt.Errorf("database.driver only supports sqlite|postgres, got %s", d.Driver)
	}
	return nil
}

func (s *SweepConfig) validate() error {
	if !s.Enabled {
		return nil
	}
	if s.IntervalMinutes <= 0 {
		return fmt.Errorf("sweep.interval_minutes must be > 0")
	}
	// 窗口小于周期会漏掉两次扫描之间关闭的交易。
	if s.WindowMinutes < s.IntervalMinutes {
		return fmt.Errorf("sweep.window_minutes (%d) must be >= sweep.interval_minutes (%d)", s.WindowMinutes, s.IntervalMinutes)
	}
	if s.Concurrency <= 0 {
		return fmt.Errorf("sweep.concurrency must be > 0")
	}
	return nil
}

func (e *EscalationConfig) validate() error {
	if e.WindowHours <= 0 {
		return fmt.Errorf("escalation.window_hours must be > 0")
	}
	switch e.SoftMode {
	case SoftModeEveryViolation, SoftModeOncePerEpisode:
	default:
		return fmt.Errorf("escalation.soft_mode must be %s or %s, got %s", SoftModeEveryViolation, SoftModeOncePerEpisode, e.SoftMode)
	}
	return nil
}

func (d *DispatchConfig) validate() error {
	if d.Workers <= 0 {
		return fmt.Errorf("dispatch.workers must be > 0")
	}
	if d.QueueSize <= 0 {
		return fmt.Errorf("dispatch.queue_size must be > 0")
	}
	if d.MaxAttempts <= 0 {
		return fmt.Errorf("dispatch.max_attempts must be > 0")
	}
	if d.RetryBackoffSeconds < 0 {
		return fmt.Errorf("dispatch.retry_backoff_seconds must be >= 0")
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	if n.Telegram.Enabled {
		if n.Telegram.BotToken == "" || n.Telegram.ChatID == "" {
			return fmt.Errorf("telegram notification enabled but missing bot_token or chat_id")
		}
	}
	if n.Slack.Enabled && strings.TrimSpace(n.Slack.WebhookURL) == "" {
		return fmt.Errorf("slack notification enabled but missing webhook_url")
	}
	for action, ch := range n.Routes {
		switch strings.ToLower(strings.TrimSpace(ch)) {
		case ChannelLog, ChannelSlack, ChannelTelegram:
		default:
			return fmt.Errorf("notify.routes.%s has unknown channel %q", action, ch)
		}
	}
	if n.RatePerMinute < 0 {
		return fmt.Errorf("notify.rate_per_minute must be >= 0")
	}
	return nil
}
