// Copyright (c) 2023-2025 VoxBridge AI
// Author: Prashant Srivastav <prashant@voxbridge.ai>
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

package connectors

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/voxbridgeai/pkg/commons"
	"github.com/voxbridgeai/pkg/configs"
)

// RedisConnector provides access to the shared Redis store used for capacity
// admission and tenant configuration. The concrete client is exposed because
// capacity control needs server-side scripting.
type RedisConnector interface {
	// Client returns the underlying go-redis client.
	Client() *redis.Client

	// Ping verifies the store is reachable. Used by readiness checks and at
	// startup (unreachable store at startup is fatal).
	Ping(ctx context.Context) error

	// Close releases the connection pool.
	Close() error
}

type redisConnector struct {
	client *redis.Client
	logger commons.Logger
}

// NewRedisConnector dials the configured Redis instance.
func NewRedisConnector(cfg *configs.RedisConfig, logger commons.Logger) (RedisConnector, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.Database,
	})
	return &redisConnector{client: client, logger: logger}, nil
}

// NewRedisConnectorFromClient wraps an existing client. Used by tests with
// redismock.
func NewRedisConnectorFromClient(client *redis.Client, logger commons.Logger) RedisConnector {
	return &redisConnector{client: client, logger: logger}
}

func (c *redisConnector) Client() *redis.Client {
	return c.client
}

func (c *redisConnector) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (c *redisConnector) Close() error {
	return c.client.Close()
}
