package locks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock key only if it still holds our token, so an
// expired-and-reacquired lock is never released by the previous holder.
var releaseScript = redis.NewScript(`
-- KEYS[1] = lock key
-- ARGV[1] = holder token
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisLocker implements Locker with SET NX PX. The TTL bounds how long a
// crashed worker can wedge an entity; transitions are expected to finish in
// well under a second, so the default TTL is generous.
type RedisLocker struct {
	rdb *redis.Client

	// TTL is the lock expiry. Must exceed the longest transition including
	// its gateway call.
	TTL time.Duration

	// Wait is how long an acquirer spins before giving up.
	Wait time.Duration

	// RetryDelay is the pause between acquisition attempts.
	RetryDelay time.Duration
}

func NewRedisLocker(rdb *redis.Client) *RedisLocker {
	return &RedisLocker{
		rdb:        rdb,
		TTL:        10 * time.Second,
		Wait:       5 * time.Second,
		RetryDelay: 25 * time.Millisecond,
	}
}

func (l *RedisLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	if l.rdb == nil {
		return fmt.Errorf("locks: redis client is nil")
	}
	token := uuid.NewString()

	deadline := time.Now().Add(l.Wait)
	for {
		ok, err := l.rdb.SetNX(ctx, key, token, l.TTL).Result()
		if err != nil {
			return fmt.Errorf("locks: acquire %s: %w", key, err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("locks: timed out waiting for %s", key)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.RetryDelay):
		}
	}

	defer func() {
		// Release on a fresh context: the caller's may already be canceled.
		relCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(relCtx, l.rdb, []string{key}, token).Err()
	}()

	return fn(ctx)
}
