package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/dukex/drip/pkg/actions"
	"github.com/dukex/drip/pkg/conditions"
	"github.com/dukex/drip/pkg/integrations"
	"github.com/dukex/drip/pkg/persistence"
	"github.com/dukex/drip/pkg/scheduler"
	"github.com/redis/go-redis/v9"
)

const redisPingTimeout = 5 * time.Second

// NewRedis connects to the redis:// URL and pings it.
func NewRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return client, nil
}

// NewDelayQueue returns the pending-resume queue: "store" polls the execution store, "redis"
// keeps a sorted set.
func NewDelayQueue(kind string, store persistence.ExecutionStore, client redis.UniversalClient) (scheduler.DelayQueue, error) {
	switch kind {
	case "store", "":
		return scheduler.NewStoreQueue(store, scheduler.DefaultLease), nil
	case "redis":
		if client == nil {
			return nil, fmt.Errorf("delay queue %q requires --redis-url", kind)
		}

		return scheduler.NewRedisQueue(client, scheduler.DefaultRedisKey), nil
	default:
		return nil, fmt.Errorf("unsupported delay queue: %s", kind)
	}
}

// NewTagStore returns the tag store and the matching condition lookup. With "context" tags only
// live in the execution context and the lookup is nil.
func NewTagStore(kind string, client redis.UniversalClient) (actions.TagStore, conditions.TagLookup, error) {
	switch kind {
	case "context", "":
		return integrations.ContextTagStore{}, nil, nil
	case "redis":
		if client == nil {
			return nil, nil, fmt.Errorf("tag store %q requires --redis-url", kind)
		}

		store := integrations.NewRedisTagStore(client)

		return store, store, nil
	default:
		return nil, nil, fmt.Errorf("unsupported tag store: %s", kind)
	}
}
