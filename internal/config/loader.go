package config

import (
	"context"
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"github.com/turtacn/taskgate/pkg/constants"
	"github.com/turtacn/taskgate/pkg/logger"
)

// Loader reads the configuration and keeps the viper instance around for hot reload.
type Loader struct {
	v   *viper.Viper
	log logger.Logger
}

// NewLoader creates a loader. An explicit path overrides the search paths.
func NewLoader(path string, log logger.Logger) *Loader {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/taskgate/")
	}

	v.SetEnvPrefix("TASKGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Loader{v: v, log: log}
}

// LoadConfig loads the configuration from file and environment variables.
func LoadConfig(path string, log logger.Logger) (*Config, error) {
	return NewLoader(path, log).Load()
}

// Load reads the config file (a missing file is not an error) and unmarshals it.
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		l.log.Info(context.Background(), "no config file found, using defaults and environment")
	} else {
		l.log.Info(context.Background(), "config file loaded", logger.String("path", l.v.ConfigFileUsed()))
	}
	return l.decode()
}

// Watch reloads the file on change and hands the new config to onChange.
// Invalid configs are logged and ignored.
func (l *Loader) Watch(onChange func(*Config)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := l.decode()
		if err != nil {
			l.log.Error(context.Background(), "ignoring invalid config reload", err, logger.String("file", e.Name))
			return
		}
		l.log.Info(context.Background(), "config reloaded", logger.String("file", e.Name))
		onChange(cfg)
	})
	l.v.WatchConfig()
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.grpc_port", 50051)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.enable_pprof", false)
	v.SetDefault("server.global_rps", 0)
	v.SetDefault("server.global_burst", 100)

	v.SetDefault("redis.mode", "standalone")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.read_timeout", "3s")
	v.SetDefault("redis.write_timeout", "3s")
	v.SetDefault("redis.max_retries", 3)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.per_second", constants.DefaultPerSecondLimit)
	v.SetDefault("rate_limit.per_minute", constants.DefaultPerMinuteLimit)
	v.SetDefault("rate_limit.second_window", constants.DefaultSecondWindow.String())
	v.SetDefault("rate_limit.minute_window", constants.DefaultMinuteWindow.String())
	v.SetDefault("rate_limit.second_ttl", constants.DefaultSecondWindowTTL.String())
	v.SetDefault("rate_limit.minute_ttl", constants.DefaultMinuteWindowTTL.String())
	v.SetDefault("rate_limit.queue_on_reject", false)

	v.SetDefault("scheduler.throttle_interval", constants.DefaultThrottleInterval.String())
	v.SetDefault("scheduler.lease_ttl", constants.DefaultDrainLeaseTTL.String())
	v.SetDefault("scheduler.resume_on_start", true)
	v.SetDefault("scheduler.instance_id", "")
	v.SetDefault("scheduler.shutdown_timeout", constants.DefaultShutdownTimeout.String())

	v.SetDefault("completion.file.enabled", true)
	v.SetDefault("completion.file.path", "task_log.txt")
	v.SetDefault("completion.file.max_size_mb", 100)
	v.SetDefault("completion.file.max_backups", 5)
	v.SetDefault("completion.file.max_age_days", 30)
	v.SetDefault("completion.kafka.enabled", false)
	v.SetDefault("completion.kafka.brokers", []string{})
	v.SetDefault("completion.kafka.topic", "taskgate.completions")
	v.SetDefault("completion.kafka.required_acks", 1)
	v.SetDefault("completion.kafka.batch_size", 100)
	v.SetDefault("completion.kafka.batch_timeout", "50ms")
	v.SetDefault("completion.kafka.write_timeout", "5s")
	v.SetDefault("completion.kafka.read_timeout", "5s")
	v.SetDefault("completion.database.enabled", false)
	v.SetDefault("completion.database.driver", "sqlite")
	v.SetDefault("completion.database.dsn", "taskgate.db")
	v.SetDefault("completion.database.max_open_conns", 10)
	v.SetDefault("completion.database.max_idle_conns", 2)
	v.SetDefault("completion.database.conn_max_lifetime", "30m")
	v.SetDefault("completion.archive.enabled", false)
	v.SetDefault("completion.archive.group_id", "taskgate-completion-archive")

	v.SetDefault("idempotency.enabled", true)
	v.SetDefault("idempotency.ttl", constants.DefaultIdempotencyTTL.String())

	v.SetDefault("admin.enabled", false)
	v.SetDefault("admin.jwt_secret", "")
	v.SetDefault("admin.issuer", "taskgate-admin")

	v.SetDefault("vault.enabled", false)
	v.SetDefault("vault.address", "")
	v.SetDefault("vault.token", "")
	v.SetDefault("vault.secret_path", "")
	v.SetDefault("vault.mount_path", "secret")
	v.SetDefault("vault.password_field", "redis_password")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.jaeger_endpoint", "http://localhost:14268/api/traces")
	v.SetDefault("tracing.service_name", constants.ServiceName)
	v.SetDefault("tracing.environment", "development")
	v.SetDefault("tracing.sampling_rate", 1.0)
}
