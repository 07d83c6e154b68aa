package database

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/viper"
)

// RedisFromConfig parses redis.url. An empty url disables Redis.
func RedisFromConfig() (*redis.Options, error) {
	viper.SetDefault("redis.url", "redis://localhost:6379/0")

	raw := viper.GetString("redis.url")
	if raw == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(raw)
	if err != nil {
		return nil, fmt.Errorf("redis.url: %w", err)
	}
	return opts, nil
}

// OpenRedis connects and pings.
func OpenRedis(ctx context.Context, opts *redis.Options) (*redis.Client, error) {
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}
	return rdb, nil
}
