package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/proofwork/proofwork/config"
)

// ConnectRedis connects to Redis for outbox wakeups. It returns a nil client when
// Redis is disabled; workers then rely on polling alone.
//
//nolint:ireturn // the universal client covers single node, cluster and sentinel deployments.
func ConnectRedis(cfg DatabaseConfig) (redis.UniversalClient, error) {
	if !cfg.RedisConfig.Enabled {
		return nil, nil
	}

	opts, err := redisOptions(cfg.RedisConfig)
	if err != nil {
		return nil, err
	}
	client := redis.NewUniversalClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if pingErr := client.Ping(ctx).Err(); pingErr != nil {
		if closeErr := client.Close(); closeErr != nil {
			pingErr = errors.Join(pingErr, fmt.Errorf("close redis client: %w", closeErr))
		}
		return nil, fmt.Errorf("ping redis: %w", pingErr)
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("redis connected", "mode", redisMode(opts), "addrs", strings.Join(opts.Addrs, ","))
	}
	return client, nil
}

// redisOptions maps RedisConfig onto UniversalOptions. A redis:// or rediss:// URL
// supplies address, credentials and TLS for a single node.
func redisOptions(cfg config.RedisConfig) (*redis.UniversalOptions, error) {
	opts := &redis.UniversalOptions{
		Addrs:            cfg.Addrs,
		Username:         cfg.Username,
		Password:         cfg.Password,
		MasterName:       cfg.MasterName,
		SentinelPassword: cfg.SentinelPassword,
	}

	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts.Addrs = []string{parsed.Addr}
		opts.DB = parsed.DB
		opts.TLSConfig = parsed.TLSConfig
		if parsed.Username != "" {
			opts.Username = parsed.Username
		}
		if parsed.Password != "" {
			opts.Password = parsed.Password
		}
	}

	if len(opts.Addrs) == 0 {
		return nil, errors.New("redis requires REDIS_URL or at least one REDIS_ADDRS entry")
	}
	return opts, nil
}

func redisMode(opts *redis.UniversalOptions) string {
	switch {
	case opts.MasterName != "":
		return "sentinel"
	case len(opts.Addrs) > 1:
		return "cluster"
	default:
		return "single"
	}
}
