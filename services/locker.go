package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Locker hands out named mutual-exclusion leases. Lock waits until the key
// is free or ctx is done; TryLock returns ok=false immediately when held.
type Locker interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// MemoryLocker is a keyed mutex for a single process. TTLs are ignored
// because the holder always runs in this process.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]*keyLock)}
}

func (l *MemoryLocker) ref(key string) *keyLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	k, ok := l.locks[key]
	if !ok {
		k = &keyLock{ch: make(chan struct{}, 1)}
		l.locks[key] = k
	}
	k.refs++
	return k
}

func (l *MemoryLocker) unref(key string, k *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k.refs--
	if k.refs == 0 {
		delete(l.locks, key)
	}
}

func (l *MemoryLocker) releaser(key string, k *keyLock) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			<-k.ch
			l.unref(key, k)
		})
	}
}

func (l *MemoryLocker) Lock(ctx context.Context, key string, _ time.Duration) (func(), error) {
	k := l.ref(key)
	select {
	case k.ch <- struct{}{}:
		return l.releaser(key, k), nil
	case <-ctx.Done():
		l.unref(key, k)
		return nil, ctx.Err()
	}
}

func (l *MemoryLocker) TryLock(_ context.Context, key string, _ time.Duration) (func(), bool, error) {
	k := l.ref(key)
	select {
	case k.ch <- struct{}{}:
		return l.releaser(key, k), true, nil
	default:
		l.unref(key, k)
		return nil, false, nil
	}
}

// unlockScript deletes the key only if it still holds our token, so an
// expired lease never releases someone else's lock.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a SET NX PX lease shared by every API instance.
type RedisLocker struct {
	client    *redis.Client
	prefix    string
	retryWait time.Duration
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client, prefix: "tutorhub:lock:", retryWait: 25 * time.Millisecond}
}

func (l *RedisLocker) acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	token := uuid.NewString()
	full := l.prefix + key
	ok, err := l.client.SetNX(ctx, full, token, ttl).Result()
	if err != nil {
		return nil, false, errors.Wrapf(err, "redis lock %s", key)
	}
	if !ok {
		return nil, false, nil
	}
	var once sync.Once
	release := func() {
		once.Do(func() {
			// the caller's ctx may already be done
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = unlockScript.Run(ctx, l.client, []string{full}, token).Err()
		})
	}
	return release, true, nil
}

func (l *RedisLocker) Lock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	for {
		release, ok, err := l.acquire(ctx, key, ttl)
		if err != nil {
			return nil, err
		}
		if ok {
			return release, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retryWait):
		}
	}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	return l.acquire(ctx, key, ttl)
}
