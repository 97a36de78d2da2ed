// Package cli implements the taskgate-admin command tree.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/turtacn/taskgate/internal/config"
	"github.com/turtacn/taskgate/internal/infrastructure/monitoring"
	"github.com/turtacn/taskgate/internal/infrastructure/persistence/redis"
	"github.com/turtacn/taskgate/internal/infrastructure/secrets"
	"github.com/turtacn/taskgate/pkg/logger"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

// env is what every subcommand needs: the config, a logger and a connected store.
type env struct {
	cfg   *config.Config
	log   logger.Logger
	redis *redis.RedisConnection
}

func (e *env) Close() error {
	if e.redis == nil {
		return nil
	}
	return e.redis.Close()
}

func (o *rootOptions) loadConfig() (*config.Config, logger.Logger, error) {
	log, err := monitoring.NewZapLogger(&config.LogConfig{Level: o.logLevel, Format: "console"})
	if err != nil {
		return nil, nil, err
	}
	cfg, err := config.LoadConfig(o.configPath, log)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, log, nil
}

func (o *rootOptions) connect(ctx context.Context) (*env, error) {
	cfg, log, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Vault.Enabled {
		resolver, err := secrets.NewVaultResolver(cfg.Vault, log)
		if err != nil {
			return nil, err
		}
		if err := resolver.ApplyRedisPassword(ctx, cfg); err != nil {
			return nil, err
		}
	}
	conn := redis.NewRedisConnection(&cfg.Redis, log)
	if err := conn.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &env{cfg: cfg, log: log, redis: conn}, nil
}

// NewRootCommand builds the taskgate-admin command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "taskgate-admin",
		Short:         "Operate the taskgate rate limiter and task queues",
		SilenceUsage:  true,
		SilenceErrors: true,
		Long: `taskgate-admin talks to the same Redis as taskgate-server. It inspects
per-user queues, shows and resets rate limit windows, drains stalled
backlogs and mints admin tokens for the HTTP admin routes.`,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to config.yaml")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level for the admin tool")

	root.AddCommand(
		newStatsCommand(opts),
		newLimitCommand(opts),
		newDrainCommand(opts),
		newTokenCommand(opts),
	)
	return root
}

// Execute is the main entry point for the CLI application.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
