// Command taskgate-server runs the HTTP and gRPC front ends together with the
// per-user drain loops.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	appservice "github.com/turtacn/taskgate/internal/application/service"
	"github.com/turtacn/taskgate/internal/config"
	domainservice "github.com/turtacn/taskgate/internal/domain/service"
	"github.com/turtacn/taskgate/internal/infrastructure/completion"
	"github.com/turtacn/taskgate/internal/infrastructure/executor"
	"github.com/turtacn/taskgate/internal/infrastructure/monitoring"
	"github.com/turtacn/taskgate/internal/infrastructure/persistence/redis"
	"github.com/turtacn/taskgate/internal/infrastructure/ratelimit"
	"github.com/turtacn/taskgate/internal/infrastructure/secrets"
	grpciface "github.com/turtacn/taskgate/internal/interfaces/grpc"
	httpiface "github.com/turtacn/taskgate/internal/interfaces/http"
	"github.com/turtacn/taskgate/internal/interfaces/http/handlers"
	"github.com/turtacn/taskgate/pkg/logger"
	"github.com/turtacn/taskgate/pkg/utils"
)

func main() {
	var configPath string
	cmd := &cobra.Command{
		Use:           "taskgate-server",
		Short:         "Per-user rate limited task admission and queue draining service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (searched in ., ./configs and /etc/taskgate when empty)")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	// Logger for startup
	startupLogger, err := monitoring.NewZapLogger(&config.LogConfig{Level: "info", Format: "json"})
	if err != nil {
		return err
	}

	// Load config
	loader := config.NewLoader(configPath, startupLogger)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Initialize logger
	appLogger, err := monitoring.NewZapLogger(&cfg.Log)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = appLogger.Sync() }()

	loader.Watch(func(next *config.Config) {
		if err := appLogger.SetLevel(next.Log.Level); err != nil {
			appLogger.Warn(context.Background(), "ignoring invalid log level", logger.String("level", next.Log.Level))
			return
		}
		appLogger.Info(context.Background(), "log level reloaded", logger.String("level", next.Log.Level))
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize tracing
	tracing, err := monitoring.NewTracingManager(&cfg.Tracing, appLogger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		_ = tracing.Shutdown(shutdownCtx)
	}()

	if cfg.Vault.Enabled {
		resolver, err := secrets.NewVaultResolver(cfg.Vault, appLogger)
		if err != nil {
			return err
		}
		if err := resolver.ApplyRedisPassword(ctx, cfg); err != nil {
			return fmt.Errorf("resolve redis password: %w", err)
		}
	}

	// Initialize Redis
	redisConn := redis.NewRedisConnection(&cfg.Redis, appLogger)
	if err := redisConn.Connect(ctx); err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer func() { _ = redisConn.Close() }()
	client := redisConn.Client()

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := monitoring.NewMetrics(reg)
	metricsAdapter := monitoring.NewMetricsAdapter(metrics)

	limiter, err := ratelimit.NewSlidingWindowLimiter(client, ratelimit.SlidingWindowConfigFrom(&cfg.RateLimit), appLogger)
	if err != nil {
		return err
	}
	store := redis.NewTaskStore(client, appLogger)

	sinks, db, err := buildCompletion(cfg, appLogger)
	if err != nil {
		return err
	}
	defer func() {
		if err := sinks.Close(); err != nil {
			appLogger.Warn(context.Background(), "closing completion sinks", logger.String("error", err.Error()))
		}
	}()

	scheduler := domainservice.NewQueueDrainScheduler(
		store,
		executor.NewCompletionExecutor(sinks, utils.SystemClock{}, appLogger),
		domainservice.SchedulerConfig{
			ThrottleInterval: cfg.Scheduler.ThrottleInterval,
			LeaseTTL:         cfg.Scheduler.LeaseTTL,
			InstanceID:       cfg.Scheduler.InstanceID,
		},
		appLogger,
		domainservice.WithMetrics(metricsAdapter),
		domainservice.WithTracer(tracing.Tracer()),
	)
	if cfg.Scheduler.ResumeOnStart {
		err := monitoring.TraceOperation(ctx, tracing, "scheduler.resume_all", func(ctx context.Context) error {
			_, err := scheduler.ResumeAll(ctx)
			return err
		})
		if err != nil {
			appLogger.Warn(ctx, "resuming pending backlogs failed", logger.String("error", err.Error()))
		}
	}

	app := appservice.NewTaskAppService(limiter, scheduler, appservice.TaskAppOptions{
		QueueOnReject: cfg.RateLimit.QueueOnReject,
		Metrics:       metricsAdapter,
		Tracer:        tracing.Tracer(),
	}, appLogger)

	checks := map[string]handlers.Pinger{"redis": redisConn}
	if db != nil {
		checks["database"] = handlers.PingFunc(func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		})
	}

	router := httpiface.NewRouter(httpiface.RouterDeps{
		Config:        cfg,
		Logger:        appLogger,
		TaskHandler:   handlers.NewTaskHandler(app, appLogger),
		AdminHandler:  handlers.NewAdminHandler(app, appLogger),
		HealthHandler: handlers.NewHealthHandler(checks, appLogger),
		Redis:         client,
		Metrics:       metrics,
		Gatherer:      reg,
		Tracer:        tracing.Tracer(),
	})
	grpcServer := grpciface.NewServer(grpciface.NewTaskGRPCService(app, appLogger), appLogger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(router.Start)

	if cfg.Server.GRPCPort > 0 {
		lis, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.GRPCPort))
		if err != nil {
			return fmt.Errorf("listen grpc: %w", err)
		}
		g.Go(func() error { return grpcServer.Serve(lis) })
	}

	if cfg.Completion.Archive.Enabled {
		archiveStore, err := completion.NewGormStore(db)
		if err != nil {
			return err
		}
		defer func() { _ = archiveStore.Close() }()
		consumer := completion.NewArchiveConsumer(cfg.Completion.Kafka, cfg.Completion.Archive, archiveStore, appLogger)
		g.Go(func() error { return consumer.Run(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		appLogger.Info(context.Background(), "shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := router.Shutdown(shutdownCtx); err != nil {
			appLogger.Warn(shutdownCtx, "http shutdown", logger.String("error", err.Error()))
		}
		grpcServer.Stop(shutdownCtx)

		schedCtx, cancelSched := context.WithTimeout(context.Background(), cfg.Scheduler.ShutdownTimeout)
		defer cancelSched()
		return scheduler.Shutdown(schedCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// buildCompletion assembles the enabled completion sinks. With the archive on,
// the database is fed by the Kafka consumer instead of being written directly.
func buildCompletion(cfg *config.Config, log logger.Logger) (completion.MultiSink, *gorm.DB, error) {
	var (
		sinks completion.MultiSink
		db    *gorm.DB
	)
	if cfg.Completion.File.Enabled {
		sinks = append(sinks, completion.NewFileSink(cfg.Completion.File))
	}
	if cfg.Completion.Kafka.Enabled {
		sinks = append(sinks, completion.NewKafkaSink(cfg.Completion.Kafka, log))
	}
	if cfg.Completion.Database.Enabled {
		var err error
		db, err = completion.OpenDatabase(cfg.Completion.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("open completion database: %w", err)
		}
		if !cfg.Completion.Archive.Enabled {
			store, err := completion.NewGormStore(db)
			if err != nil {
				return nil, nil, err
			}
			sinks = append(sinks, store)
		}
	}
	return sinks, db, nil
}
