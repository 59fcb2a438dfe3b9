// Package redis creates the Redis client used by the job broker.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/driftware/flowengine/internal/config"
)

const connectTimeout = 5 * time.Second

// NewClient connects to Redis using the broker configuration and
// verifies the connection with a ping before returning.
func NewClient(ctx context.Context, cfg config.BrokerConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	return client, nil
}
