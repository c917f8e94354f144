package config

import (
	"strings"
)

// 默认值常量
const (
	defaultAppEnv             = "dev"
	defaultAppLogLevel        = "info"
	defaultAppHTTPAddr        = ":9992"
	defaultAppLogPath         = "/data/logs/riskwatch.log"
	defaultDatabaseDriver     = "sqlite"
	defaultSQLitePath         = "/data/db/riskwatch.db"
	defaultSQLiteDriverName   = "sqlite"
	defaultPostgresPort       = 5432
	defaultPostgresSSLMode    = "disable"
	defaultPostgresMaxConns   = 10
	defaultSweepInterval      = 5
	defaultSweepWindow        = 5
	defaultSweepConcurrency   = 4
	defaultEscalationWindow   = 24
	defaultEscalationSoftMode = SoftModeEveryViolation
	defaultDispatchWorkers    = 4
	defaultDispatchQueueSize  = 256
	defaultDispatchAttempts   = 3
	defaultDispatchBackoff    = 60
	defaultListenerWorkers    = 2
	defaultListenerBuffer     = 128
	defaultNotifyRate         = 30
	defaultBreakerThreshold   = 5
	defaultBreakerTimeout     = 60
	defaultSlackUsername      = "riskwatch"
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Database.applyDefaults(keys)
	c.Sweep.applyDefaults(keys)
	c.Escalation.applyDefaults(keys)
	c.Dispatch.applyDefaults(keys)
	c.Listener.applyDefaults(keys)
	c.Notify.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
	)
}

func (d *DatabaseConfig) applyDefaults(keys keySet) {
	if d == nil {
		return
	}
	d.Driver = strings.ToLower(strings.TrimSpace(d.Driver))
	applyFieldDefaults(keys,
		stringFieldDefault("database.driver", &d.Driver, defaultDatabaseDriver),
		stringFieldDefault("database.sqlite.path", &d.SQLite.Path, defaultSQLitePath),
		stringFieldDefault("database.sqlite.driver_name", &d.SQLite.DriverName, defaultSQLiteDriverName),
		stringFieldDefault("database.postgres.sslmode", &d.Postgres.SSLMode, defaultPostgresSSLMode),
		intFieldDefault("database.postgres.port", &d.Postgres.Port, defaultPostgresPort),
		intFieldDefault("database.postgres.max_conns", &d.Postgres.MaxConns, defaultPostgresMaxConns),
	)
}

func (s *SweepConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		boolFieldDefault("sweep.enabled", &s.Enabled, true),
		boolFieldDefault("sweep.run_immediately", &s.RunImmediately, false),
		intFieldDefault("sweep.interval_minutes", &s.IntervalMinutes, defaultSweepInterval),
		intFieldDefault("sweep.window_minutes", &s.WindowMinutes, defaultSweepWindow),
		intFieldDefault("sweep.concurrency", &s.Concurrency, defaultSweepConcurrency),
	)
}

func (e *EscalationConfig) applyDefaults(keys keySet) {
	if e == nil {
		return
	}
	e.SoftMode = strings.ToLower(strings.TrimSpace(e.SoftMode))
	applyFieldDefaults(keys,
		intFieldDefault("escalation.window_hours", &e.WindowHours, defaultEscalationWindow),
		stringFieldDefault("escalation.soft_mode", &e.SoftMode, defaultEscalationSoftMode),
	)
}

func (d *DispatchConfig) applyDefaults(keys keySet) {
	if d == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("dispatch.workers", &d.Workers, defaultDispatchWorkers),
		intFieldDefault("dispatch.queue_size", &d.QueueSize, defaultDispatchQueueSize),
		intFieldDefault("dispatch.max_attempts", &d.MaxAttempts, defaultDispatchAttempts),
		intFieldDefault("dispatch.retry_backoff_seconds", &d.RetryBackoffSeconds, defaultDispatchBackoff),
	)
}

func (l *ListenerConfig) applyDefaults(keys keySet) {
	if l == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("listener.workers", &l.Workers, defaultListenerWorkers),
		intFieldDefault("listener.buffer", &l.Buffer, defaultListenerBuffer),
	)
}

func (n *NotifyConfig) applyDefaults(keys keySet) {
	if n == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("notify.rate_per_minute", &n.RatePerMinute, defaultNotifyRate),
		intFieldDefault("notify.circuit_breaker.threshold", &n.CircuitBreaker.Threshold, defaultBreakerThreshold),
		intFieldDefault("notify.circuit_breaker.timeout_seconds", &n.CircuitBreaker.TimeoutSeconds, defaultBreakerTimeout),
		stringFieldDefault("notify.slack.username", &n.Slack.Username, defaultSlackUsername),
	)
	// email 没有 SMTP 通道，默认落日志；slack 动作默认走 slack webhook。
	if len(n.Routes) == 0 {
		n.Routes = map[string]string{
			"email": ChannelLog,
			"slack": ChannelSlack,
		}
	}
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
