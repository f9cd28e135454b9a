package locks

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestMemoryLockerSerializesSameKey(t *testing.T) {
	l := NewMemoryLocker()

	const workers = 50
	n := 0
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_ = l.WithLock(context.Background(), CallKey("c1"), func(ctx context.Context) error {
				n++
				return nil
			})
		}()
	}
	wg.Wait()

	if n != workers {
		t.Fatalf("expected %d increments, got %d", workers, n)
	}
}

func TestMemoryLockerAllowsNestedDistinctKeys(t *testing.T) {
	l := NewMemoryLocker()

	err := l.WithLock(context.Background(), QueueKey("q1"), func(ctx context.Context) error {
		return l.WithLock(ctx, CallKey("c1"), func(ctx context.Context) error {
			return l.WithLock(ctx, AgentKey("a1"), func(ctx context.Context) error {
				return nil
			})
		})
	})
	if err != nil {
		t.Fatalf("nested locks: %v", err)
	}
}

func TestMemoryLockerPropagatesErr(t *testing.T) {
	l := NewMemoryLocker()
	want := errors.New("boom")
	if err := l.WithLock(context.Background(), "k", func(ctx context.Context) error { return want }); !errors.Is(err, want) {
		t.Fatalf("expected fn error, got %v", err)
	}
}

func TestMemoryLockerCanceledContext(t *testing.T) {
	l := NewMemoryLocker()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.WithLock(ctx, "k", func(ctx context.Context) error {
		t.Fatal("fn should not run")
		return nil
	}); err == nil {
		t.Fatalf("expected context error")
	}
}

func TestKeyBuilders(t *testing.T) {
	if CallKey("x") != "lock:call:x" || AgentKey("x") != "lock:agent:x" || QueueKey("x") != "lock:queue:x" {
		t.Fatalf("unexpected key format")
	}
}
