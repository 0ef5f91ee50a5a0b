// Package redis holds the gateway's shared Redis client and the call
// records stored in it.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/mossy-p/gradecall/config"
	"github.com/redis/go-redis/v9"
)

const connectTimeout = 5 * time.Second

var client *redis.Client

// Connect initializes the Redis client. The previous client, if any, is
// replaced only once the new one answers a ping.
func Connect(cfg config.RedisConfig) error {
	c := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		c.Close()
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if client != nil {
		client.Close()
	}
	client = c
	return nil
}

// Close closes the Redis connection
func Close() error {
	if client == nil {
		return nil
	}
	err := client.Close()
	client = nil
	return err
}

// GetClient returns the Redis client instance, or nil before Connect
func GetClient() *redis.Client {
	return client
}
