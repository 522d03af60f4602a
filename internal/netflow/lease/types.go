package lease

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type (
	// Lease is held by the single writer for its whole run.
	Lease interface {
		Acquire(ctx context.Context) error
		Release(ctx context.Context) error
		Lost() <-chan struct{}
	}

	RedisClient interface {
		redis.Scripter
		SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	}
)

var (
	_ Lease = (*Redis)(nil)
	_ Lease = (*Postgres)(nil)
	_ Lease = (*Nop)(nil)
)
