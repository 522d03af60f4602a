package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// Redis is a lease stored under one key with a random owner token. The TTL
// is extended every ttl/3 while held.
type Redis struct {
	client RedisClient
	key    string
	token  string
	ttl    time.Duration
	keeper *keeper
}

func NewRedis(logger *zap.Logger, client RedisClient, key string, ttl time.Duration) *Redis {
	l := &Redis{
		client: client,
		key:    key,
		token:  uuid.NewString(),
		ttl:    ttl,
	}
	l.keeper = newKeeper(logger.Named("redis_lease").With(zap.String("key", key)), ttl/3, l.refresh)
	return l
}

func (l *Redis) Acquire(ctx context.Context) error {
	ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire lease %s: %w", l.key, err)
	}
	if !ok {
		return fmt.Errorf("acquire lease %s: %w", l.key, ErrHeld)
	}
	l.keeper.start()
	return nil
}

func (l *Redis) refresh(ctx context.Context) error {
	n, err := refreshScript.Run(ctx, l.client, []string{l.key}, l.token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("refresh lease %s: %w", l.key, err)
	}
	if n == 0 {
		return fmt.Errorf("refresh lease %s: %w", l.key, ErrHeld)
	}
	return nil
}

// Release deletes the key only if this instance still owns it.
func (l *Redis) Release(ctx context.Context) error {
	l.keeper.stop()
	_, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lease %s: %w", l.key, err)
	}
	return nil
}

// Lost is closed when a refresh finds the lease expired or taken over.
func (l *Redis) Lost() <-chan struct{} {
	return l.keeper.lost
}
