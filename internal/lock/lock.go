// Package lock serializes read-modify-persist sequences on the shared member table and
// ledger. LocalLocker covers a single process; RedisLocker covers several processes
// sharing the same files or database.
package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type Locker interface {
	// Acquire blocks until key is held or ctx is done. The returned func releases it.
	Acquire(ctx context.Context, key string) (release func(), err error)
}

type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]chan struct{})}
}

func (l *LocalLocker) Acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	ch, ok := l.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.locks[key] = ch
	}
	l.mu.Unlock()

	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("failed to acquire %s: %w", key, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() { <-ch })
	}, nil
}

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisLocker struct {
	Client *redis.Client
	Prefix string
	TTL    time.Duration
	Retry  time.Duration
	// OnLost is called when a release finds the key already expired or taken.
	OnLost func(key string)
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{
		Client: client,
		Prefix: "referral-ledger:lock:",
		TTL:    10 * time.Second,
		Retry:  50 * time.Millisecond,
	}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	name := l.Prefix + key
	token := uuid.New().String()

	for {
		ok, err := l.Client.SetNX(ctx, name, token, l.TTL).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire %s: %w", name, err)
		}
		if ok {
			break
		}
		select {
		case <-time.After(l.Retry):
		case <-ctx.Done():
			return nil, fmt.Errorf("failed to acquire %s: %w", name, ctx.Err())
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			n, err := releaseScript.Run(context.Background(), l.Client, []string{name}, token).Int()
			if (err != nil || n == 0) && l.OnLost != nil {
				l.OnLost(name)
			}
		})
	}, nil
}
