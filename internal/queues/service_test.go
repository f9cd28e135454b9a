package queues

import (
	"context"
	"sync"
	"testing"
	"time"

	"callcenter-engine/internal/calls"
	"callcenter-engine/internal/domain"
	"callcenter-engine/internal/events"
	"callcenter-engine/internal/locks"
)

type fixture struct {
	queues *Service
	calls  *calls.Service
	locker locks.Locker
	now    *time.Time
}

func newFixture() *fixture {
	sink := events.NewMemoryRepo()
	evSvc := events.NewService(sink)
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	callSvc := calls.NewService(calls.NewMemoryRepo(sink), evSvc).WithClock(clock)
	locker := locks.NewMemoryLocker()
	qSvc := NewService(NewMemoryRepo(), callSvc, locker).WithClock(clock)
	return &fixture{queues: qSvc, calls: callSvc, locker: locker, now: &now}
}

func (f *fixture) inboundCall(t *testing.T) calls.Call {
	t.Helper()
	c, err := f.calls.Create(context.Background(), calls.CreateRequest{
		Direction: calls.DirectionInbound,
		From:      "+15550001111",
		To:        "+15550002222",
	})
	if err != nil {
		t.Fatalf("create call: %v", err)
	}
	return c
}

func TestCreateDefaults(t *testing.T) {
	f := newFixture()
	q, err := f.queues.Create(context.Background(), CreateRequest{Name: "support"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if q.Strategy != StrategyFIFO {
		t.Fatalf("strategy = %s, want fifo", q.Strategy)
	}
	if q.MaxSize != DefaultMaxSize {
		t.Fatalf("max_size = %d, want %d", q.MaxSize, DefaultMaxSize)
	}
	if q.TimeoutSeconds != DefaultTimeoutSeconds {
		t.Fatalf("timeout_seconds = %d, want %d", q.TimeoutSeconds, DefaultTimeoutSeconds)
	}
	if q.Priority != 0 || !q.IsActive {
		t.Fatalf("priority=%d active=%v", q.Priority, q.IsActive)
	}
}

func TestCreateValidation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	if _, err := f.queues.Create(ctx, CreateRequest{}); !domain.IsCode(err, domain.CodeValidation) {
		t.Fatalf("missing name: %v", err)
	}
	if _, err := f.queues.Create(ctx, CreateRequest{Name: "x", Strategy: "random"}); !domain.IsCode(err, domain.CodeValidation) {
		t.Fatalf("bad strategy: %v", err)
	}
}

func TestEnqueueAdmissionBoundary(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	q, err := f.queues.Create(ctx, CreateRequest{Name: "support", MaxSize: 2})
	if err != nil {
		t.Fatalf("create queue: %v", err)
	}

	for i := 0; i < 2; i++ {
		c := f.inboundCall(t)
		if _, err := f.queues.Enqueue(ctx, c.ID, q.ID, "system"); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}

	over := f.inboundCall(t)
	if _, err := f.queues.Enqueue(ctx, over.ID, q.ID, "system"); !domain.IsCode(err, domain.CodeQueueFull) {
		t.Fatalf("expected queue full at max_size, got %v", err)
	}
}

func TestEnqueueInactiveQueue(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	q, _ := f.queues.Create(ctx, CreateRequest{Name: "support"})
	if _, err := f.queues.Deactivate(ctx, q.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	c := f.inboundCall(t)
	if _, err := f.queues.Enqueue(ctx, c.ID, q.ID, "system"); !domain.IsCode(err, domain.CodeInvalidState) {
		t.Fatalf("enqueue into inactive queue: %v", err)
	}
}

func TestEnqueueCannotResurrectCanceledCall(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	q, err := f.queues.Create(ctx, CreateRequest{Name: "support", MaxSize: 500})
	if err != nil {
		t.Fatalf("create queue: %v", err)
	}

	for i := 0; i < 200; i++ {
		c := f.inboundCall(t)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			// invalid_state when the cancel lands first
			f.queues.Enqueue(ctx, c.ID, q.ID, "system")
		}()
		go func() {
			defer wg.Done()
			err := f.locker.WithLock(ctx, locks.CallKey(c.ID), func(ctx context.Context) error {
				_, _, err := f.calls.ApplyEvent(ctx, c.ID, calls.EventCanceled, "caller", nil)
				return err
			})
			if err != nil {
				t.Errorf("cancel: %v", err)
			}
		}()
		wg.Wait()

		got, err := f.calls.Get(ctx, c.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Status != calls.StatusCanceled {
			t.Fatalf("iteration %d: status = %s, canceled call came back", i, got.Status)
		}
	}
}

func TestExpiredQueued(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	q, _ := f.queues.Create(ctx, CreateRequest{Name: "support", TimeoutSeconds: 60})

	old := f.inboundCall(t)
	if _, err := f.queues.Enqueue(ctx, old.ID, q.ID, "system"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	*f.now = f.now.Add(90 * time.Second)
	fresh := f.inboundCall(t)
	if _, err := f.queues.Enqueue(ctx, fresh.ID, q.ID, "system"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	_, expired, err := f.queues.ExpiredQueued(ctx, q.ID, *f.now)
	if err != nil {
		t.Fatalf("expired: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != old.ID {
		t.Fatalf("expired = %+v, want only the old call", expired)
	}
}

func TestListActiveOrder(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	low, _ := f.queues.Create(ctx, CreateRequest{Name: "low", Priority: 1})
	*f.now = f.now.Add(time.Second)
	highOld, _ := f.queues.Create(ctx, CreateRequest{Name: "high-old", Priority: 5})
	*f.now = f.now.Add(time.Second)
	highNew, _ := f.queues.Create(ctx, CreateRequest{Name: "high-new", Priority: 5})
	*f.now = f.now.Add(time.Second)
	inactive, _ := f.queues.Create(ctx, CreateRequest{Name: "off", Priority: 9})
	f.queues.Deactivate(ctx, inactive.ID)

	got, err := f.queues.ListActive(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	wantIDs := []string{highOld.ID, highNew.ID, low.ID}
	if len(got) != len(wantIDs) {
		t.Fatalf("got %d queues, want %d", len(got), len(wantIDs))
	}
	for i, id := range wantIDs {
		if got[i].ID != id {
			t.Fatalf("order[%d] = %s, want %s", i, got[i].Name, id)
		}
	}
}

func TestUpdateValidation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	q, _ := f.queues.Create(ctx, CreateRequest{Name: "support"})

	zero := 0
	if _, err := f.queues.Update(ctx, q.ID, UpdateRequest{MaxSize: &zero}); !domain.IsCode(err, domain.CodeValidation) {
		t.Fatalf("zero max_size: %v", err)
	}

	strat := StrategyLeastBusy
	size := 7
	got, err := f.queues.Update(ctx, q.ID, UpdateRequest{Strategy: &strat, MaxSize: &size})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.Strategy != StrategyLeastBusy || got.MaxSize != 7 {
		t.Fatalf("got %+v", got)
	}
}
