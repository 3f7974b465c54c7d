package registry

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// ConnConfig describes how to reach the shared store.
type ConnConfig struct {
	// Addrs holds one address for a single node, or several for a cluster.
	Addrs    []string
	Password string
	DB       int

	// PoolSize bounds the pool used for ordinary commands.
	PoolSize int

	// BlockingPoolSize bounds the pool used for blocking stream reads.
	// Every open room session holds one of these for up to PollTimeout.
	BlockingPoolSize int
}

// Connect creates the command client and the separate blocking-read client
// and verifies the store is reachable.
func Connect(ctx context.Context, cfg ConnConfig) (client, blocking redis.UniversalClient, err error) {
	if len(cfg.Addrs) == 0 {
		return nil, nil, fmt.Errorf("no redis address configured")
	}

	client = redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    cfg.Addrs,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	blocking = redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    cfg.Addrs,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.BlockingPoolSize,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		blocking.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}

	return client, blocking, nil
}
