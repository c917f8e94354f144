package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"riskwatch/internal/app"
	"riskwatch/internal/config"
	"riskwatch/internal/logger"
	"riskwatch/internal/seed"

	"github.com/spf13/cobra"
)

var version = "dev"

const defaultConfigPath = "configs/config.yaml"

type rootOptions struct {
	configPath string
	logFile    *os.File
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "riskwatch",
		Short:         "Trading account risk rule evaluation and escalation",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPostRun: func(*cobra.Command, []string) {
			if opts.logFile != nil {
				_ = opts.logFile.Close()
			}
		},
	}
	defaultPath := os.Getenv("RISKWATCH_CONFIG")
	if defaultPath == "" {
		defaultPath = defaultConfigPath
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", defaultPath, "config file path")

	root.AddCommand(
		newServeCmd(opts),
		newEvaluateCmd(opts),
		newSeedCmd(opts),
		newVersionCmd(),
	)
	return root
}

// load 读取配置并初始化日志输出。
func (o *rootOptions) load() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}
	f, err := setupLogOutput(cfg.App.LogPath)
	if err != nil {
		return nil, fmt.Errorf("初始化日志文件失败: %w", err)
	}
	o.logFile = f
	logger.SetLevel(cfg.App.LogLevel)
	logger.Infof("✓ 配置加载成功（环境=%s，数据库=%s）", cfg.App.Env, cfg.Database.Driver)
	return cfg, nil
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, event listener, periodic sweep and action dispatcher",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			a, err := app.NewApp(cfg)
			if err != nil {
				return fmt.Errorf("初始化应用失败: %w", err)
			}
			if err := a.Run(ctx); err != nil {
				return fmt.Errorf("运行失败: %w", err)
			}
			logger.Infof("riskwatch stopped")
			return nil
		},
	}
}

func newEvaluateCmd(opts *rootOptions) *cobra.Command {
	var minutes int
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate trades closed in the last N minutes once and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if minutes <= 0 {
				return fmt.Errorf("--minutes must be positive")
			}
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			// the one-off run must not hot-reload seeds
			cfg.Seed.Watch = false
			a, err := app.NewApp(cfg)
			if err != nil {
				return fmt.Errorf("初始化应用失败: %w", err)
			}
			report, runErr := a.EvaluateOnce(cmd.Context(), time.Duration(minutes)*time.Minute)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}
			return runErr
		},
	}
	cmd.Flags().IntVarP(&minutes, "minutes", "m", 5, "look-back window in minutes")
	return cmd
}

func newSeedCmd(opts *rootOptions) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Validate and load accounts, actions and rules from a YAML file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if file == "" {
				file = cfg.Seed.Path
			}
			if file == "" {
				return fmt.Errorf("--file is required when seed.path is not configured")
			}
			st, err := app.OpenStore(cfg.Database)
			if err != nil {
				return fmt.Errorf("初始化存储失败: %w", err)
			}
			defer st.Close()
			loader, err := seed.NewLoader(file, st)
			if err != nil {
				return err
			}
			snap, err := loader.Load(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded accounts=%d actions=%d rules=%d trades=%d\n",
				snap.Summary.Accounts, snap.Summary.Actions, snap.Summary.Rules, snap.Summary.Trades)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "seed YAML file (defaults to seed.path)")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "riskwatch", version)
		},
	}
}
