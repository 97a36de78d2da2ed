// Package redis provides the Redis connection manager and the Redis backed task store.
// It supports standalone, cluster, and sentinel deployment modes with connection pooling.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/turtacn/taskgate/internal/config"
	"github.com/turtacn/taskgate/pkg/logger"
)

// ConnectionMode defines Redis deployment mode
type ConnectionMode string

const (
	// ModeStandalone represents single Redis instance
	ModeStandalone ConnectionMode = "standalone"
	// ModeCluster represents Redis cluster mode
	ModeCluster ConnectionMode = "cluster"
	// ModeSentinel represents Redis sentinel mode for high availability
	ModeSentinel ConnectionMode = "sentinel"
)

// RedisConnection is the process-wide store client. It is created once in main,
// injected into the limiter and the task store, and closed on shutdown.
type RedisConnection struct {
	mu     sync.RWMutex
	config config.RedisConfig
	client redis.UniversalClient
	logger logger.Logger
}

// NewRedisConnection creates a new Redis connection manager instance.
// Connect must be called before the client is used.
func NewRedisConnection(cfg *config.RedisConfig, log logger.Logger) *RedisConnection {
	return &RedisConnection{
		config: *cfg,
		logger: log.WithComponent("RedisConnection"),
	}
}

// NewRedisConnectionFromClient wraps an existing client. Used by tests and the CLI.
func NewRedisConnectionFromClient(client redis.UniversalClient, log logger.Logger) *RedisConnection {
	return &RedisConnection{
		config: config.RedisConfig{Mode: string(ModeStandalone)},
		client: client,
		logger: log.WithComponent("RedisConnection"),
	}
}

// Connect establishes the Redis connection based on the configured mode and verifies it with PING.
func (rc *RedisConnection) Connect(ctx context.Context) error {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.client != nil {
		rc.logger.Warn(ctx, "Redis connection already initialized")
		return nil
	}

	opts, err := rc.universalOptions()
	if err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}
	client := redis.NewUniversalClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, rc.config.DialTimeout+time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		rc.logger.Error(ctx, "Redis ping failed", err, logger.String("mode", rc.config.Mode))
		_ = client.Close()
		return fmt.Errorf("redis ping failed: %w", err)
	}

	rc.client = client
	rc.logger.Info(ctx, "Redis connection established successfully",
		logger.String("mode", rc.config.Mode),
		logger.Int("pool_size", rc.config.PoolSize),
	)
	return nil
}

// universalOptions maps the configured mode onto go-redis options. A non-empty
// MasterName selects the failover client, multiple addresses select the cluster client.
func (rc *RedisConnection) universalOptions() (*redis.UniversalOptions, error) {
	opts := &redis.UniversalOptions{
		Password:     rc.config.Password,
		PoolSize:     rc.config.PoolSize,
		MinIdleConns: rc.config.MinIdleConns,
		DialTimeout:  rc.config.DialTimeout,
		ReadTimeout:  rc.config.ReadTimeout,
		WriteTimeout: rc.config.WriteTimeout,
		MaxRetries:   rc.config.MaxRetries,
	}

	switch ConnectionMode(rc.config.Mode) {
	case ModeStandalone, "":
		opts.Addrs = []string{fmt.Sprintf("%s:%d", rc.config.Host, rc.config.Port)}
		opts.DB = rc.config.DB
	case ModeCluster:
		if len(rc.config.ClusterAddrs) == 0 {
			return nil, fmt.Errorf("cluster addresses not configured")
		}
		opts.Addrs = rc.config.ClusterAddrs
		opts.IsClusterMode = true
	case ModeSentinel:
		if len(rc.config.SentinelAddrs) == 0 {
			return nil, fmt.Errorf("sentinel addresses not configured")
		}
		if rc.config.SentinelMaster == "" {
			return nil, fmt.Errorf("sentinel master name not configured")
		}
		opts.Addrs = rc.config.SentinelAddrs
		opts.MasterName = rc.config.SentinelMaster
		opts.DB = rc.config.DB
	default:
		return nil, fmt.Errorf("unsupported Redis mode: %s", rc.config.Mode)
	}

	if rc.config.EnableTLS {
		opts.TLSConfig = &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: rc.config.TLSSkipVerify, //nolint:gosec // opt-in for test clusters
		}
	}

	rc.logger.Info(context.Background(), "Connecting to Redis",
		logger.String("mode", rc.config.Mode),
		logger.Any("addrs", opts.Addrs),
	)
	return opts, nil
}

// Client returns the Redis client instance, or nil before Connect.
func (rc *RedisConnection) Client() redis.UniversalClient {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return rc.client
}

// Ping checks Redis server connectivity.
func (rc *RedisConnection) Ping(ctx context.Context) error {
	client := rc.Client()
	if client == nil {
		return fmt.Errorf("redis connection not initialized")
	}
	return client.Ping(ctx).Err()
}

// Close gracefully closes the Redis connection and releases resources.
func (rc *RedisConnection) Close() error {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.client == nil {
		return nil
	}
	if err := rc.client.Close(); err != nil {
		rc.logger.Error(context.Background(), "Failed to close Redis connection", err)
		return err
	}
	rc.client = nil
	rc.logger.Info(context.Background(), "Redis connection closed successfully")
	return nil
}
