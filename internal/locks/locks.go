package locks

import (
	"context"
	"sync"
)

// Locker serializes mutations per entity id. Two events for different
// calls/agents proceed in parallel; two events for the same entity run one at
// a time, in some consistent order.
//
// Lock ordering inside one operation is queue, then call, then agent. Every
// caller follows that order, which is what keeps nested WithLock calls
// deadlock-free.
type Locker interface {
	// WithLock runs fn while holding the mutual-exclusion scope for key.
	// The lock is released when fn returns, even on panic.
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// Well-known key builders. Keep these stable; they are shared across worker
// processes through Redis.
func CallKey(id string) string  { return "lock:call:" + id }
func AgentKey(id string) string { return "lock:agent:" + id }
func QueueKey(id string) string { return "lock:queue:" + id }

// CallbackKey scopes the one-active-callback-per-number-per-queue guard.
func CallbackKey(phoneNumber, queueID string) string {
	return "lock:callback:" + phoneNumber + ":" + queueID
}

// MemoryLocker is an in-process Locker for tests and single-process
// deployments. Production multi-worker deployments must use RedisLocker.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]*sync.Mutex)}
}

func (l *MemoryLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	defer m.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}
