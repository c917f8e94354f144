package app

import (
	"context"
	"fmt"
	"time"

	"riskwatch/internal/config"
	"riskwatch/internal/dispatch"
	"riskwatch/internal/evaluation"
	"riskwatch/internal/logger"
	"riskwatch/internal/seed"
	"riskwatch/internal/store/gormstore"
	apihttp "riskwatch/internal/transport/http/api"
	"riskwatch/internal/trigger"

	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：存储→规则评估→动作分发→触发器与 HTTP。
type App struct {
	cfg        *config.Config
	store      *gormstore.GormStore
	dispatcher *dispatch.Dispatcher
	evaluator  *evaluation.Service
	listener   *trigger.Listener
	sweeper    *trigger.Sweeper
	seed       *seed.Loader
	http       *apihttp.Server
	Summary    *StartupSummary
}

// NewApp 根据配置构建应用对象（不启动）
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run 启动分发器、事件监听、周期巡检、种子热加载与 HTTP 服务，直到 ctx 结束。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.Summary != nil {
		a.Summary.Print()
	}
	defer a.Close()

	a.dispatcher.Start(ctx)
	group, ctx := errgroup.WithContext(ctx)

	if a.http != nil {
		group.Go(func() error {
			if err := a.http.Start(ctx); err != nil {
				return fmt.Errorf("http server error: %w", err)
			}
			return nil
		})
	}
	group.Go(func() error {
		return a.listener.Run(ctx)
	})
	if a.cfg.Sweep.Enabled {
		group.Go(func() error {
			return a.sweeper.Run(ctx)
		})
	}
	if a.seed != nil && a.cfg.Seed.Watch {
		group.Go(func() error {
			return a.seed.Watch(ctx)
		})
	}
	return group.Wait()
}

// EvaluateOnce runs a single sweep over window and waits for the queued actions.
func (a *App) EvaluateOnce(ctx context.Context, window time.Duration) (evaluation.SweepReport, error) {
	if a == nil || a.sweeper == nil {
		return evaluation.SweepReport{}, fmt.Errorf("app not initialized")
	}
	defer a.Close()
	a.dispatcher.Start(ctx)
	return a.sweeper.RunOnce(ctx, window)
}

// Close drains the dispatcher and closes the store. Safe to call twice.
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.dispatcher != nil {
		a.dispatcher.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.Warnf("close store: %v", err)
		}
		a.store = nil
	}
}

// Evaluator exposes the evaluation service (for tests and replay harnesses).
func (a *App) Evaluator() *evaluation.Service {
	if a == nil {
		return nil
	}
	return a.evaluator
}

func (a *App) Dispatcher() *dispatch.Dispatcher {
	if a == nil {
		return nil
	}
	return a.dispatcher
}

func (a *App) Listener() *trigger.Listener {
	if a == nil {
		return nil
	}
	return a.listener
}

func (a *App) HTTPServer() *apihttp.Server {
	if a == nil {
		return nil
	}
	return a.http
}
