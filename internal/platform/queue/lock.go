package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Release only deletes the key if it still holds our token.
var releaseScript = redis.NewScript(`
    if redis.call("get", KEYS[1]) == ARGV[1] then
        return redis.call("del", KEYS[1])
    else
        return 0
    end
`)

// Lock is a single-holder Redis lock (SET NX PX) with token-checked release.
type Lock struct {
	rdb *redis.Client
	key string
	ttl time.Duration
}

func NewLock(rdb *redis.Client, key string, ttl time.Duration) *Lock {
	return &Lock{rdb: rdb, key: key, ttl: ttl}
}

// TryAcquire returns the holder token when the lock was free.
func (l *Lock) TryAcquire(ctx context.Context) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil || !ok {
		return "", false, err
	}
	return token, true, nil
}

// Release reports whether the lock was still held by token.
func (l *Lock) Release(ctx context.Context, token string) (bool, error) {
	deleted, err := releaseScript.Run(ctx, l.rdb, []string{l.key}, token).Int64()
	if err != nil {
		return false, err
	}
	return deleted == 1, nil
}
