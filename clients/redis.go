package clients

import (
	"context"
	"fmt"
	"time"

	"github.com/contentsquare/webfetch/config"
	"github.com/redis/go-redis/v9"
)

const pingTimeout = 2 * time.Second

// NewRedisClient connects to the redis servers backing the cache index.
func NewRedisClient(cfg config.RedisIndexConfig) (redis.UniversalClient, error) {
	r := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    cfg.Addresses,
		Username: cfg.Username,
		Password: cfg.Password,
	})

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := r.Ping(ctx).Err(); err != nil {
		r.Close()
		return nil, fmt.Errorf("failed to reach redis: %w", err)
	}

	return r, nil
}
