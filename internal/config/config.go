package config

import (
	"fmt"
	"time"
)

// Config holds the application's configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Redis       RedisConfig       `mapstructure:"redis"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Completion  CompletionConfig  `mapstructure:"completion"`
	Idempotency IdempotencyConfig `mapstructure:"idempotency"`
	Admin       AdminConfig       `mapstructure:"admin"`
	Vault       VaultConfig       `mapstructure:"vault"`
	Log         LogConfig         `mapstructure:"log"`
	Tracing     TracingConfig     `mapstructure:"tracing"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	GRPCPort        int           `mapstructure:"grpc_port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	Environment     string        `mapstructure:"environment"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	EnablePprof     bool          `mapstructure:"enable_pprof"`
	// GlobalRPS caps requests per second for this process; 0 disables the throttle.
	GlobalRPS   float64 `mapstructure:"global_rps"`
	GlobalBurst int     `mapstructure:"global_burst"`
}

// Addr returns the HTTP listen address.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type RedisConfig struct {
	// Mode is one of standalone, cluster or sentinel.
	Mode           string        `mapstructure:"mode"`
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	Password       string        `mapstructure:"password"`
	DB             int           `mapstructure:"db"`
	ClusterAddrs   []string      `mapstructure:"cluster_addrs"`
	SentinelAddrs  []string      `mapstructure:"sentinel_addrs"`
	SentinelMaster string        `mapstructure:"sentinel_master"`
	PoolSize       int           `mapstructure:"pool_size"`
	MinIdleConns   int           `mapstructure:"min_idle_conns"`
	DialTimeout    time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	EnableTLS      bool          `mapstructure:"enable_tls"`
	TLSSkipVerify  bool          `mapstructure:"tls_skip_verify"`
}

type RateLimitConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	PerSecond     int           `mapstructure:"per_second"`
	PerMinute     int           `mapstructure:"per_minute"`
	SecondWindow  time.Duration `mapstructure:"second_window"`
	MinuteWindow  time.Duration `mapstructure:"minute_window"`
	SecondTTL     time.Duration `mapstructure:"second_ttl"`
	MinuteTTL     time.Duration `mapstructure:"minute_ttl"`
	QueueOnReject bool          `mapstructure:"queue_on_reject"`
}

type SchedulerConfig struct {
	ThrottleInterval time.Duration `mapstructure:"throttle_interval"`
	LeaseTTL         time.Duration `mapstructure:"lease_ttl"`
	ResumeOnStart    bool          `mapstructure:"resume_on_start"`
	ShutdownTimeout  time.Duration `mapstructure:"shutdown_timeout"`
	// InstanceID prefixes drain ownership tokens; defaults to the hostname.
	InstanceID string `mapstructure:"instance_id"`
}

type CompletionConfig struct {
	File     FileSinkConfig `mapstructure:"file"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Database DatabaseConfig `mapstructure:"database"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
}

type FileSinkConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

type KafkaConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	RequiredAcks int           `mapstructure:"required_acks"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
}

type DatabaseConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Driver is postgres or sqlite.
	Driver       string        `mapstructure:"driver"`
	DSN          string        `mapstructure:"dsn"`
	MaxOpenConns int           `mapstructure:"max_open_conns"`
	MaxIdleConns int           `mapstructure:"max_idle_conns"`
	ConnMaxLife  time.Duration `mapstructure:"conn_max_lifetime"`
}

type ArchiveConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	GroupID string `mapstructure:"group_id"`
}

type IdempotencyConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	TTL     time.Duration `mapstructure:"ttl"`
}

type AdminConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

type VaultConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Address    string `mapstructure:"address"`
	Token      string `mapstructure:"token"`
	MountPath  string `mapstructure:"mount_path"`
	SecretPath string `mapstructure:"secret_path"`
	// PasswordField is the key inside the KV secret holding the Redis password.
	PasswordField string `mapstructure:"password_field"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TracingConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	JaegerEndpoint string  `mapstructure:"jaeger_endpoint"`
	ServiceName    string  `mapstructure:"service_name"`
	Environment    string  `mapstructure:"environment"`
	SamplingRate   float64 `mapstructure:"sampling_rate"`
}

// Validate checks for essential configuration values.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	switch c.Redis.Mode {
	case "standalone", "cluster", "sentinel":
	default:
		return fmt.Errorf("redis.mode must be standalone, cluster or sentinel, got %q", c.Redis.Mode)
	}
	if c.RateLimit.PerSecond <= 0 || c.RateLimit.PerMinute <= 0 {
		return fmt.Errorf("rate_limit.per_second and rate_limit.per_minute must be positive")
	}
	if c.RateLimit.SecondTTL < c.RateLimit.SecondWindow || c.RateLimit.MinuteTTL < c.RateLimit.MinuteWindow {
		return fmt.Errorf("rate_limit ttl must not be shorter than its window")
	}
	if c.Scheduler.ThrottleInterval <= 0 {
		return fmt.Errorf("scheduler.throttle_interval must be positive")
	}
	// The lease is refreshed once per iteration and an iteration can wait a full interval.
	if c.Scheduler.LeaseTTL < 2*c.Scheduler.ThrottleInterval {
		return fmt.Errorf("scheduler.lease_ttl (%s) must be at least twice throttle_interval (%s)",
			c.Scheduler.LeaseTTL, c.Scheduler.ThrottleInterval)
	}
	if c.Completion.Kafka.Enabled && len(c.Completion.Kafka.Brokers) == 0 {
		return fmt.Errorf("completion.kafka.brokers is required when kafka is enabled")
	}
	if c.Completion.Database.Enabled {
		switch c.Completion.Database.Driver {
		case "postgres", "sqlite":
		default:
			return fmt.Errorf("completion.database.driver must be postgres or sqlite, got %q", c.Completion.Database.Driver)
		}
	}
	if c.Completion.Archive.Enabled && (!c.Completion.Kafka.Enabled || !c.Completion.Database.Enabled) {
		return fmt.Errorf("completion.archive requires both kafka and database to be enabled")
	}
	if c.Admin.Enabled && len(c.Admin.JWTSecret) < 16 {
		return fmt.Errorf("admin.jwt_secret must be at least 16 bytes when admin routes are enabled")
	}
	if c.Vault.Enabled && (c.Vault.Address == "" || c.Vault.SecretPath == "") {
		return fmt.Errorf("vault.address and vault.secret_path are required when vault is enabled")
	}
	return nil
}
