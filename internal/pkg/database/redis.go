package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// NewRedis connects to redisURL. An empty URL returns (nil, nil) and the
// task queue stays in-process.
func NewRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	if redisURL == "" {
		log.Warn().Msg("Redis URL not configured, background tasks will not survive restarts")
		return nil, nil
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opt.PoolSize = 20
	opt.MinIdleConns = 4
	opt.DialTimeout = 5 * time.Second
	// BLMOVE holds a connection for its poll window; keep reads above it.
	opt.ReadTimeout = 10 * time.Second
	opt.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opt)
	err = StartupRetry.Do(ctx, func(attempt int) error {
		if err := client.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Int("attempt", attempt).Msg("Redis not ready")
			return err
		}
		return nil
	})
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	log.Info().Str("addr", opt.Addr).Msg("Connected to Redis")
	return client, nil
}

// CloseRedis closes the Redis connection
func CloseRedis(client *redis.Client) {
	if client == nil {
		return
	}
	if err := client.Close(); err != nil {
		log.Error().Err(err).Msg("Error closing Redis connection")
		return
	}
	log.Info().Msg("Redis connection closed")
}
