package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript удаляет ключ, только если он всё ещё принадлежит владельцу.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisLocker выдаёт распределённые блокировки через SET NX.
type RedisLocker struct {
	client *redis.Client
	prefix string
}

// NewRedisLocker создаёт блокировщик поверх клиента Redis.
func NewRedisLocker(client *redis.Client, prefix string) *RedisLocker {
	return &RedisLocker{client: client, prefix: prefix}
}

// NewRedisClient создаёт клиента Redis по адресу host:port.
func NewRedisClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr})
}

// TryLock пытается захватить ключ на ttl. Если ключ занят, ok равен false.
func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, ok bool, err error) {
	fullKey := fmt.Sprintf("%s:%s", l.prefix, key)
	token := uuid.NewString()

	ok, err = l.client.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %s: %w", fullKey, err)
	}
	if !ok {
		return nil, false, nil
	}

	release = func(ctx context.Context) error {
		err := releaseScript.Run(ctx, l.client, []string{fullKey}, token).Err()
		if err != nil && err != redis.Nil {
			return fmt.Errorf("release lock %s: %w", fullKey, err)
		}
		return nil
	}
	return release, true, nil
}

// LocalLocker выдаёт блокировки в пределах одного процесса. Используется, когда Redis не настроен.
type LocalLocker struct {
	mu    sync.Mutex
	now   func() time.Time
	locks map[string]localLock
}

type localLock struct {
	token   string
	expires time.Time
}

// NewLocalLocker создаёт блокировщик в памяти.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{now: time.Now, locks: make(map[string]localLock)}
}

// TryLock захватывает ключ на ttl. Просроченная блокировка считается свободной.
func (l *LocalLocker) TryLock(_ context.Context, key string, ttl time.Duration) (release func(context.Context) error, ok bool, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if held, exists := l.locks[key]; exists && now.Before(held.expires) {
		return nil, false, nil
	}

	token := uuid.NewString()
	l.locks[key] = localLock{token: token, expires: now.Add(ttl)}

	release = func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if held, exists := l.locks[key]; exists && held.token == token {
			delete(l.locks, key)
		}
		return nil
	}
	return release, true, nil
}
