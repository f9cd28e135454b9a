package routing

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"callcenter-engine/internal/agents"
	"callcenter-engine/internal/calls"
	"callcenter-engine/internal/domain"
	"callcenter-engine/internal/events"
	"callcenter-engine/internal/locks"
	"callcenter-engine/internal/queues"
	"callcenter-engine/internal/telephony"
)

type fixture struct {
	router  *Router
	calls   *calls.Service
	agents  *agents.Service
	queues  *queues.Service
	gateway *telephony.NoopGateway
	now     time.Time
	mu      sync.Mutex
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		gateway: &telephony.NoopGateway{},
		now:     time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time {
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.now
	}

	sink := events.NewMemoryRepo()
	evSvc := events.NewService(sink)
	f.calls = calls.NewService(calls.NewMemoryRepo(sink), evSvc).WithClock(clock)
	f.agents = agents.NewService(agents.NewMemoryRepo(sink), evSvc, f.calls).WithClock(clock)
	locker := locks.NewMemoryLocker()
	f.queues = queues.NewService(queues.NewMemoryRepo(), f.calls, locker).WithClock(clock)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.router = New(f.calls, f.agents, f.queues, f.gateway, locker, log).WithClock(clock)
	return f
}

func (f *fixture) advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func (f *fixture) queue(t *testing.T, req queues.CreateRequest) queues.Queue {
	t.Helper()
	q, err := f.queues.Create(context.Background(), req)
	require.NoError(t, err)
	return q
}

func (f *fixture) agent(t *testing.T, userID, queueID string, skills []string, capacity int) agents.Agent {
	t.Helper()
	ctx := context.Background()
	a, err := f.agents.Create(ctx, agents.CreateRequest{
		UserID:             userID,
		Extension:          "1001",
		Skills:             skills,
		QueueIDs:           []string{queueID},
		MaxConcurrentCalls: capacity,
	})
	require.NoError(t, err)
	a, err = f.agents.Login(ctx, a.ID)
	require.NoError(t, err)
	return a
}

func (f *fixture) enqueue(t *testing.T, queueID string, meta map[string]string) calls.Call {
	t.Helper()
	ctx := context.Background()
	c, err := f.calls.Create(ctx, calls.CreateRequest{
		Direction: calls.DirectionInbound,
		From:      "+15550001111",
		To:        "+15550002222",
		Metadata:  meta,
	})
	require.NoError(t, err)
	c, err = f.queues.Enqueue(ctx, c.ID, queueID, "test")
	require.NoError(t, err)
	return c
}

func TestRouteQueueFIFO(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := f.queue(t, queues.CreateRequest{Name: "support"})

	first := f.enqueue(t, q.ID, nil)
	f.advance(time.Second)
	second := f.enqueue(t, q.ID, nil)
	f.agent(t, "u-1", q.ID, nil, 1)

	paired, err := f.router.RouteQueue(ctx, q.ID)
	require.NoError(t, err)
	require.Len(t, paired, 1)
	require.Equal(t, first.ID, paired[0].Call.ID)
	require.Equal(t, calls.StatusRinging, paired[0].Call.Status)

	still, err := f.calls.Get(ctx, second.ID)
	require.NoError(t, err)
	require.Equal(t, calls.StatusQueued, still.Status)
}

func TestRouteQueueLIFO(t *testing.T) {
	f := newFixture(t)
	q := f.queue(t, queues.CreateRequest{Name: "support", Strategy: queues.StrategyLIFO})

	f.enqueue(t, q.ID, nil)
	f.advance(time.Second)
	newest := f.enqueue(t, q.ID, nil)
	f.agent(t, "u-1", q.ID, nil, 1)

	paired, err := f.router.RouteQueue(context.Background(), q.ID)
	require.NoError(t, err)
	require.Len(t, paired, 1)
	require.Equal(t, newest.ID, paired[0].Call.ID)
}

func TestRouteQueueGreedyDrain(t *testing.T) {
	f := newFixture(t)
	q := f.queue(t, queues.CreateRequest{Name: "support"})

	for i := 0; i < 3; i++ {
		f.enqueue(t, q.ID, nil)
		f.advance(time.Second)
	}
	f.agent(t, "u-1", q.ID, nil, 1)
	f.advance(time.Second)
	f.agent(t, "u-2", q.ID, nil, 1)

	paired, err := f.router.RouteQueue(context.Background(), q.ID)
	require.NoError(t, err)
	// two agents, three calls: a single pass pairs exactly two
	require.Len(t, paired, 2)
	require.NotEqual(t, paired[0].Agent.ID, paired[1].Agent.ID)
}

func TestRoundRobinPicksLongestIdle(t *testing.T) {
	f := newFixture(t)
	q := f.queue(t, queues.CreateRequest{Name: "support", Strategy: queues.StrategyRoundRobin})

	longest := f.agent(t, "u-1", q.ID, nil, 1)
	f.advance(time.Minute)
	f.agent(t, "u-2", q.ID, nil, 1)
	f.advance(time.Minute)
	f.enqueue(t, q.ID, nil)

	paired, err := f.router.RouteQueue(context.Background(), q.ID)
	require.NoError(t, err)
	require.Len(t, paired, 1)
	require.Equal(t, longest.ID, paired[0].Agent.ID)
}

func TestLeastBusyCountDominatesRecency(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := f.queue(t, queues.CreateRequest{Name: "support", Strategy: queues.StrategyLeastBusy})

	// busy logged in earlier (longer idle) but carries an active call
	busy := f.agent(t, "u-1", q.ID, nil, 2)
	f.advance(time.Minute)
	idle := f.agent(t, "u-2", q.ID, nil, 2)
	f.advance(time.Minute)

	f.enqueue(t, q.ID, nil)
	paired, err := f.router.RouteQueue(ctx, q.ID)
	require.NoError(t, err)
	require.Len(t, paired, 1)
	require.Equal(t, busy.ID, paired[0].Agent.ID, "tie on count resolves by idle time")

	// busy now has one ringing call; the next call must go to idle
	f.enqueue(t, q.ID, nil)
	paired, err = f.router.RouteQueue(ctx, q.ID)
	require.NoError(t, err)
	require.Len(t, paired, 1)
	require.Equal(t, idle.ID, paired[0].Agent.ID, "active-call count dominates idle time")
}

func TestSkillsBasedScarcestFirst(t *testing.T) {
	f := newFixture(t)
	q := f.queue(t, queues.CreateRequest{Name: "support", Strategy: queues.StrategySkillsBased})

	f.agent(t, "u-gen", q.ID, []string{"english", "spanish"}, 1)
	f.advance(time.Second)
	f.agent(t, "u-eng", q.ID, []string{"english"}, 1)
	f.advance(time.Second)

	// english call arrives first, but spanish has only one matching agent
	f.enqueue(t, q.ID, map[string]string{MetadataRequiredSkills: "english"})
	f.advance(time.Second)
	scarce := f.enqueue(t, q.ID, map[string]string{MetadataRequiredSkills: "spanish"})

	paired, err := f.router.RouteQueue(context.Background(), q.ID)
	require.NoError(t, err)
	require.Len(t, paired, 2)
	require.Equal(t, scarce.ID, paired[0].Call.ID, "scarcest-skill call routes first")
	require.Equal(t, "u-gen", mustUser(t, f, paired[0].Agent.ID), "only the generalist can take spanish")
}

func mustUser(t *testing.T, f *fixture, agentID string) string {
	t.Helper()
	a, err := f.agents.Get(context.Background(), agentID)
	require.NoError(t, err)
	return a.UserID
}

func TestSkillMismatchLeavesCallQueued(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := f.queue(t, queues.CreateRequest{Name: "support", Strategy: queues.StrategySkillsBased})

	f.agent(t, "u-eng", q.ID, []string{"english"}, 1)
	c := f.enqueue(t, q.ID, map[string]string{MetadataRequiredSkills: "mandarin"})

	paired, err := f.router.RouteQueue(ctx, q.ID)
	require.NoError(t, err)
	require.Empty(t, paired)

	still, err := f.calls.Get(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, calls.StatusQueued, still.Status)
}

func TestSweepHonorsQueuePriority(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	low := f.queue(t, queues.CreateRequest{Name: "low", Priority: 1})
	f.advance(time.Second)
	high := f.queue(t, queues.CreateRequest{Name: "high", Priority: 5})

	lowCall := f.enqueue(t, low.ID, nil)
	highCall := f.enqueue(t, high.ID, nil)

	// one agent serving both queues: the high-priority queue wins
	a, err := f.agents.Create(ctx, agents.CreateRequest{
		UserID: "u-1", Extension: "1001", QueueIDs: []string{low.ID, high.ID},
	})
	require.NoError(t, err)
	_, err = f.agents.Login(ctx, a.ID)
	require.NoError(t, err)

	paired, err := f.router.Sweep(ctx)
	require.NoError(t, err)
	require.Len(t, paired, 1)
	require.Equal(t, highCall.ID, paired[0].Call.ID)

	still, err := f.calls.Get(ctx, lowCall.ID)
	require.NoError(t, err)
	require.Equal(t, calls.StatusQueued, still.Status)
}

func TestBridgeFailureRevertsAssignment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := f.queue(t, queues.CreateRequest{Name: "support"})
	f.agent(t, "u-1", q.ID, nil, 1)

	c, err := f.calls.Create(ctx, calls.CreateRequest{
		Direction:      calls.DirectionInbound,
		From:           "+15550001111",
		To:             "+15550002222",
		ProviderCallID: "CA123",
	})
	require.NoError(t, err)
	_, err = f.queues.Enqueue(ctx, c.ID, q.ID, "test")
	require.NoError(t, err)

	f.gateway.Fail = true
	paired, err := f.router.RouteQueue(ctx, q.ID)
	require.Error(t, err)
	require.True(t, domain.Retryable(err))
	require.Empty(t, paired)

	got, err := f.calls.Get(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, calls.StatusQueued, got.Status)
	require.Empty(t, got.AgentID)
}

func TestConcurrentSweepsNeverDoubleBook(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := f.queue(t, queues.CreateRequest{Name: "support"})

	for i := 0; i < 20; i++ {
		f.enqueue(t, q.ID, nil)
	}
	agent := f.agent(t, "u-1", q.ID, nil, 1)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.router.RouteQueue(ctx, q.ID); err != nil {
				t.Errorf("route: %v", err)
			}
		}()
	}
	wg.Wait()

	ringing, err := f.calls.ListByAgent(ctx, agent.ID, calls.StatusRinging)
	require.NoError(t, err)
	require.Len(t, ringing, 1, "agent with capacity 1 must hold exactly one ringing call")

	waiting, err := f.calls.ListQueued(ctx, q.ID)
	require.NoError(t, err)
	require.Len(t, waiting, 19)
}

func TestConcurrentRoutePairsOneToOne(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := f.queue(t, queues.CreateRequest{Name: "support", MaxSize: 200})

	const n = 100
	agentIDs := make([]string, 0, n)
	for i := 0; i < n; i++ {
		a := f.agent(t, fmt.Sprintf("u-%d", i), q.ID, nil, 1)
		agentIDs = append(agentIDs, a.ID)
	}
	for i := 0; i < n; i++ {
		f.enqueue(t, q.ID, nil)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.router.RouteQueue(ctx, q.ID); err != nil {
				t.Errorf("route: %v", err)
			}
		}()
	}
	wg.Wait()

	waiting, err := f.calls.ListQueued(ctx, q.ID)
	require.NoError(t, err)
	require.Empty(t, waiting, "every call must be paired")

	seen := make(map[string]struct{}, n)
	for _, id := range agentIDs {
		ringing, err := f.calls.ListByAgent(ctx, id, calls.StatusRinging)
		require.NoError(t, err)
		require.Len(t, ringing, 1, "each agent takes exactly one call")
		require.NotContains(t, seen, ringing[0].ID)
		seen[ringing[0].ID] = struct{}{}
	}
	require.Len(t, seen, n)
}

func TestRequiredSkillsParsing(t *testing.T) {
	c := calls.Call{Metadata: map[string]string{MetadataRequiredSkills: " spanish , english ,"}}
	require.Equal(t, []string{"spanish", "english"}, RequiredSkills(c))
	require.Nil(t, RequiredSkills(calls.Call{}))
}
