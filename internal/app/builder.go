package app

import (
	"context"
	"fmt"
	"strings"

	"riskwatch/internal/config"
	"riskwatch/internal/dispatch"
	"riskwatch/internal/escalation"
	"riskwatch/internal/evaluation"
	"riskwatch/internal/gateway/notifier"
	"riskwatch/internal/logger"
	"riskwatch/internal/pkg/circuit"
	"riskwatch/internal/risk"
	"riskwatch/internal/rules"
	"riskwatch/internal/seed"
	"riskwatch/internal/store/gormstore"
	"riskwatch/internal/store/postgres"
	"riskwatch/internal/store/sqlite"
	apihttp "riskwatch/internal/transport/http/api"
	"riskwatch/internal/trigger"

	"gorm.io/gorm"
)

type AppBuilder struct {
	cfg *config.Config

	storeFn    func(config.DatabaseConfig) (*gormstore.GormStore, error)
	channelsFn func(config.NotifyConfig) map[risk.ActionType]dispatch.Channel
	httpFn     func(config.AppConfig, apihttp.ServerConfig) (*apihttp.Server, error)
}

type AppBuilderOption func(*AppBuilder)

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:        cfg,
		storeFn:    OpenStore,
		channelsFn: buildChannels,
		httpFn:     buildHTTPServer,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	st, err := b.storeFn(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("初始化存储失败: %w", err)
	}
	logger.Infof("✓ 存储已就绪 driver=%s", cfg.Database.Driver)

	var loader *seed.Loader
	if path := strings.TrimSpace(cfg.Seed.Path); path != "" {
		loader, err = seed.NewLoader(path, st)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		if _, err := loader.Load(ctx); err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("加载种子文件失败: %w", err)
		}
	}

	channels := b.channelsFn(cfg.Notify)
	disp := dispatch.New(dispatch.Config{
		Workers:      cfg.Dispatch.Workers,
		QueueSize:    cfg.Dispatch.QueueSize,
		MaxAttempts:  cfg.Dispatch.MaxAttempts,
		RetryBackoff: cfg.Dispatch.RetryBackoff(),
	}, dispatch.NewHandlers(st.Accounts(), channels))

	policy := escalation.NewPolicy(st.Incidents(),
		escalation.WithWindow(cfg.Escalation.Window()),
		escalation.WithMode(escalation.Mode(cfg.Escalation.SoftMode)),
	)
	svc := evaluation.NewService(
		st.Rules(), st.Trades(), st.Incidents(),
		rules.NewCatalog(st.Trades()),
		policy,
		disp,
		evaluation.WithConcurrency(cfg.Sweep.Concurrency),
	)

	bus := trigger.NewBus()
	listener := trigger.NewListener(bus, st.Trades(), svc, trigger.ListenerConfig{
		Workers: cfg.Listener.Workers,
		Buffer:  cfg.Listener.Buffer,
	})
	sweeper := trigger.NewSweeper(svc, trigger.SweeperConfig{
		Interval:       cfg.Sweep.Interval(),
		Window:         cfg.Sweep.Window(),
		RunImmediately: cfg.Sweep.RunImmediately,
	})

	httpSrv, err := b.httpFn(cfg.App, apihttp.ServerConfig{
		Health:    st,
		Listener:  listener,
		Sweeper:   sweeper,
		Incidents: st.Incidents(),
		Accounts:  st.Accounts(),
		Stats:     disp,
	})
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	return &App{
		cfg:        cfg,
		store:      st,
		dispatcher: disp,
		evaluator:  svc,
		listener:   listener,
		sweeper:    sweeper,
		seed:       loader,
		http:       httpSrv,
		Summary:    newStartupSummary(cfg, channels, loader),
	}, nil
}

// OpenStore opens the configured database and migrates the schema.
func OpenStore(cfg config.DatabaseConfig) (*gormstore.GormStore, error) {
	var (
		db  *gorm.DB
		err error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "postgres":
		db, err = postgres.Open(postgres.Option{
			Host:       cfg.Postgres.Host,
			Port:       cfg.Postgres.Port,
			User:       cfg.Postgres.User,
			Password:   cfg.Postgres.Password,
			Database:   cfg.Postgres.Database,
			SSLMode:    cfg.Postgres.SSLMode,
			ConnString: cfg.Postgres.DSN,
			MaxConns:   cfg.Postgres.MaxConns,
		})
	default:
		db, err = sqlite.Open(cfg.SQLite.Path, cfg.SQLite.DriverName)
	}
	if err != nil {
		return nil, err
	}
	return gormstore.New(db)
}

// buildChannels 按路由配置为通知类动作构建通道；同名通道共享限流与熔断。
func buildChannels(cfg config.NotifyConfig) map[risk.ActionType]dispatch.Channel {
	shared := map[string]dispatch.Channel{}
	channelFor := func(name string) dispatch.Channel {
		if ch, ok := shared[name]; ok {
			return ch
		}
		var n notifier.TextNotifier
		switch name {
		case config.ChannelSlack:
			if cfg.Slack.Enabled {
				n = notifier.NewSlack(cfg.Slack.WebhookURL, cfg.Slack.Channel, cfg.Slack.Username)
			}
		case config.ChannelTelegram:
			if cfg.Telegram.Enabled {
				n = notifier.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
			}
		}
		if n == nil {
			if name != config.ChannelLog {
				logger.Warnf("通知通道 %s 未启用，回退到日志输出", name)
			}
			name = config.ChannelLog
			n = notifier.Log{Channel: name}
		} else {
			n = notifier.NewRateLimited(n, cfg.RatePerMinute)
		}
		ch := dispatch.Channel{
			Name:     name,
			Notifier: n,
			Breaker:  circuit.NewCircuitBreaker(name, cfg.CircuitBreaker.Threshold, cfg.CircuitBreaker.Timeout()),
		}
		shared[name] = ch
		return ch
	}
	out := make(map[risk.ActionType]dispatch.Channel, 2)
	for _, typ := range []risk.ActionType{risk.ActionEmail, risk.ActionSlack} {
		out[typ] = channelFor(cfg.Route(string(typ)))
	}
	return out
}

func buildHTTPServer(cfg config.AppConfig, deps apihttp.ServerConfig) (*apihttp.Server, error) {
	deps.Addr = cfg.HTTPAddr
	return apihttp.NewServer(deps)
}

func WithStore(fn func(config.DatabaseConfig) (*gormstore.GormStore, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.storeFn = fn
		}
	}
}

func WithChannels(fn func(config.NotifyConfig) map[risk.ActionType]dispatch.Channel) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.channelsFn = fn
		}
	}
}

func WithHTTP(fn func(config.AppConfig, apihttp.ServerConfig) (*apihttp.Server, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.httpFn = fn
		}
	}
}
