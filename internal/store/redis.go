package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrThreadBusy means another request is already running on the thread.
var ErrThreadBusy = errors.New("thread already has an active run")

type ThreadLockStore interface {
	// Acquire takes the lock for the thread and returns the function that
	// releases it. It returns ErrThreadBusy when the lock is held elsewhere.
	Acquire(ctx context.Context, threadID string) (release func(), err error)
}

// releaseScript deletes the key only if it still holds our token, so an
// expired lock taken over by another request is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisThreadLockStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisThreadLockStore(addr, password string, ttl time.Duration) *RedisThreadLockStore {
	return &RedisThreadLockStore{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
		ttl: ttl,
	}
}

func (s *RedisThreadLockStore) Acquire(ctx context.Context, threadID string) (func(), error) {
	key := fmt.Sprintf("thread_lock:%s", threadID)
	token := uuid.New().String()

	ok, err := s.client.SetNX(ctx, key, token, s.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire thread lock: %w", err)
	}
	if !ok {
		return nil, ErrThreadBusy
	}

	return func() {
		// The request context may already be gone by now
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, s.client, []string{key}, token).Err()
	}, nil
}

func (s *RedisThreadLockStore) Close() error {
	return s.client.Close()
}

// NopThreadLockStore is used when no Redis is configured.
type NopThreadLockStore struct{}

func (NopThreadLockStore) Acquire(ctx context.Context, threadID string) (func(), error) {
	return func() {}, nil
}
