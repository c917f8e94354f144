package config

import (
	"strings"
	"time"
)

// Config 是 riskwatch 的主配置载体。
type Config struct {
	App        AppConfig        `toml:"app"`
	Database   DatabaseConfig   `toml:"database"`
	Sweep      SweepConfig      `toml:"sweep"`
	Escalation EscalationConfig `toml:"escalation"`
	Dispatch   DispatchConfig   `toml:"dispatch"`
	Listener   ListenerConfig   `toml:"listener"`
	Notify     NotifyConfig     `toml:"notify"`
	Seed       SeedConfig       `toml:"seed"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
}

// DatabaseConfig 选择存储后端：sqlite（默认）或 postgres。
type DatabaseConfig struct {
	Driver   string         `toml:"driver"`
	SQLite   SQLiteConfig   `toml:"sqlite"`
	Postgres PostgresConfig `toml:"postgres"`
}

type SQLiteConfig struct {
	Path string `toml:"path"`
	// DriverName 为 database/sql 驱动名：sqlite（modernc，纯 Go）或 sqlite3（cgo）。
	DriverName string `toml:"driver_name"`
}

type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
	DSN      string `toml:"dsn"`
	MaxConns int    `toml:"max_conns"`
}

// SweepConfig 控制周期性补偿扫描。
type SweepConfig struct {
	Enabled         bool `toml:"enabled"`
	IntervalMinutes int  `toml:"interval_minutes"`
	WindowMinutes   int  `toml:"window_minutes"`
	RunImmediately  bool `toml:"run_immediately"`
	Concurrency     int  `toml:"concurrency"`
}

func (s SweepConfig) Interval() time.Duration {
	return time.Duration(s.IntervalMinutes) * time.Minute
}

func (s SweepConfig) Window() time.Duration {
	return time.Duration(s.WindowMinutes) * time.Minute
}

const (
	SoftModeEveryViolation = "every_violation"
	SoftModeOncePerEpisode = "once_per_episode"
)

type EscalationConfig struct {
	WindowHours int    `toml:"window_hours"`
	SoftMode    string `toml:"soft_mode"`
}

func (e EscalationConfig) Window() time.Duration {
	return time.Duration(e.WindowHours) * time.Hour
}

// DispatchConfig 控制异步动作执行的队列与重试。
type DispatchConfig struct {
	Workers             int `toml:"workers"`
	QueueSize           int `toml:"queue_size"`
	MaxAttempts         int `toml:"max_attempts"`
	RetryBackoffSeconds int `toml:"retry_backoff_seconds"`
}

func (d DispatchConfig) RetryBackoff() time.Duration {
	return time.Duration(d.RetryBackoffSeconds) * time.Second
}

// ListenerConfig 控制 trade-closed 事件的消费。
type ListenerConfig struct {
	Workers int `toml:"workers"`
	Buffer  int `toml:"buffer"`
}

type NotifyConfig struct {
	Slack    SlackConfig       `toml:"slack"`
	Telegram TelegramConfig    `toml:"telegram"`
	Routes   map[string]string `toml:"routes"`
	// RatePerMinute 为每个通知通道的最大发送速率，0 表示不限速。
	RatePerMinute  int           `toml:"rate_per_minute"`
	CircuitBreaker BreakerConfig `toml:"circuit_breaker"`
}

type SlackConfig struct {
	Enabled    bool   `toml:"enabled"`
	WebhookURL string `toml:"webhook_url"`
	Channel    string `toml:"channel"`
	Username   string `toml:"username"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

type BreakerConfig struct {
	Threshold      int `toml:"threshold"`
	TimeoutSeconds int `toml:"timeout_seconds"`
}

func (b BreakerConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutSeconds) * time.Second
}

// Route 返回动作类型对应的通知通道名（slack/telegram/log）。
func (n NotifyConfig) Route(actionType string) string {
	key := strings.ToLower(strings.TrimSpace(actionType))
	if ch, ok := n.Routes[key]; ok {
		return strings.ToLower(strings.TrimSpace(ch))
	}
	return ChannelLog
}

const (
	ChannelLog      = "log"
	ChannelSlack    = "slack"
	ChannelTelegram = "telegram"
)

// SeedConfig 指向规则/动作/账户的 YAML 种子文件。
type SeedConfig struct {
	Path  string `toml:"path"`
	Watch bool   `toml:"watch"`
}

type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
