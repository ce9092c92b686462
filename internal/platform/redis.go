package platform

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient creates the Redis client backing the gateway's keystore
// adapter from the given connection URL.
func NewRedisClient(ctx context.Context, keystoreURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(keystoreURL)
	if err != nil {
		return nil, fmt.Errorf("parsing keystore URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging keystore: %w", err)
	}

	return client, nil
}
