package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRedis keeps keys in memory and evaluates the release and refresh
// scripts by their compare-and-delete / compare-and-expire semantics.
type fakeRedis struct {
	mu   sync.Mutex
	keys map[string]string
	ttls map[string]time.Duration
	err  error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{keys: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) SetNX(_ context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewBoolResult(false, f.err)
	}
	if _, ok := f.keys[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.keys[key] = value.(string)
	f.ttls[key] = expiration
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Eval(_ context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewCmdResult(nil, f.err)
	}
	if f.keys[keys[0]] != args[0].(string) {
		return redis.NewCmdResult(int64(0), nil)
	}
	if script == refreshScript {
		f.ttls[keys[0]] = time.Duration(args[1].(int64)) * time.Millisecond
		return redis.NewCmdResult(int64(1), nil)
	}
	delete(f.keys, keys[0])
	delete(f.ttls, keys[0])
	return redis.NewCmdResult(int64(1), nil)
}

// expire drops key as Redis would once its ttl ran out.
func (f *fakeRedis) expire(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.keys, key)
	delete(f.ttls, key)
}

func TestRedisFactory_MutualExclusion(t *testing.T) {
	ctx := context.Background()
	client := newFakeRedis()
	factory := NewRedisFactory(client, 30*time.Second)

	first := NewCoordinator(factory, nil)
	second := NewCoordinator(factory, nil)

	require.True(t, first.Lock(ctx))
	assert.Equal(t, 30*time.Second, client.ttls["fourallportal:lock:"+SyncLockName])
	assert.False(t, second.Lock(ctx))
	assert.False(t, second.Unlock(ctx), "release must not delete another owner's key")
	assert.Contains(t, client.keys, "fourallportal:lock:"+SyncLockName)

	require.True(t, first.Unlock(ctx))
	assert.Empty(t, client.keys)
}

func TestRedisFactory_Refresh(t *testing.T) {
	ctx := context.Background()
	client := newFakeRedis()
	factory := NewRedisFactory(client, 45*time.Second)
	key := "fourallportal:lock:" + SyncLockName

	first := NewCoordinator(factory, nil)
	second := NewCoordinator(factory, nil)
	require.True(t, first.Lock(ctx))

	client.ttls[key] = time.Second
	require.True(t, first.Refresh(ctx))
	assert.Equal(t, 45*time.Second, client.ttls[key])
	assert.False(t, second.Refresh(ctx), "refresh must not extend another owner's key")

	client.expire(key)
	require.True(t, second.Lock(ctx))
	assert.False(t, first.Refresh(ctx))
	assert.True(t, second.Unlock(ctx))
}

func TestRedisFactory_ErrorsReportFalse(t *testing.T) {
	ctx := context.Background()
	client := newFakeRedis()
	client.err = errors.New("dial tcp: connection refused")

	c := NewCoordinator(NewRedisFactory(client, 0), nil)
	assert.False(t, c.Lock(ctx))
	assert.False(t, c.Refresh(ctx))
	assert.False(t, c.Unlock(ctx))
}

func TestRedisLocker_ReleaseNil(t *testing.T) {
	l := &redisLocker{client: nilEval{}, key: "k", owner: "o"}
	ok, err := l.Release(context.Background())
	assert.NoError(t, err)
	assert.False(t, ok)
}

type nilEval struct{ RedisClient }

func (nilEval) Eval(context.Context, string, []string, ...interface{}) *redis.Cmd {
	return redis.NewCmdResult(nil, redis.Nil)
}
