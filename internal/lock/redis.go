package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only if it still carries our owner token.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

// refreshScript resets the expiry only if the key still carries our owner
// token. ARGV[2] is the ttl in milliseconds.
const refreshScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`

// RedisClient is the subset of *redis.Client the redis strategy uses.
type RedisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// RedisFactory creates locks kept as Redis keys with an expiry.
type RedisFactory struct {
	client    RedisClient
	ttl       time.Duration
	keyPrefix string
}

// NewRedisFactory creates a factory over client. A non-positive ttl uses
// DefaultTTL.
func NewRedisFactory(client RedisClient, ttl time.Duration) *RedisFactory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisFactory{client: client, ttl: ttl, keyPrefix: "fourallportal:lock:"}
}

// CreateLocker implements Factory.
func (f *RedisFactory) CreateLocker(name string, capability Capability) (Strategy, error) {
	if !supports(CapabilityExclusive|CapabilityNoBlock, capability) {
		return nil, fmt.Errorf("redis lock %q: %w", name, ErrUnsupportedCapability)
	}
	owner, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("redis lock %q: owner token: %w", name, err)
	}
	return &redisLocker{
		client: f.client,
		key:    f.keyPrefix + name,
		owner:  owner.String(),
		ttl:    f.ttl,
	}, nil
}

type redisLocker struct {
	client RedisClient
	key    string
	owner  string
	ttl    time.Duration
}

func (l *redisLocker) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.owner, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis lock %s: setnx: %w", l.key, err)
	}
	return ok, nil
}

func (l *redisLocker) Release(ctx context.Context) (bool, error) {
	n, err := l.client.Eval(ctx, releaseScript, []string{l.key}, l.owner).Int64()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis lock %s: release: %w", l.key, err)
	}
	return n > 0, nil
}

func (l *redisLocker) Refresh(ctx context.Context) (bool, error) {
	n, err := l.client.Eval(ctx, refreshScript, []string{l.key}, l.owner, l.ttl.Milliseconds()).Int64()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis lock %s: refresh: %w", l.key, err)
	}
	return n > 0, nil
}
