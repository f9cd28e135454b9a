package dispatch

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"callcenter-engine/internal/agents"
	"callcenter-engine/internal/callbacks"
	"callcenter-engine/internal/calls"
	"callcenter-engine/internal/domain"
	"callcenter-engine/internal/events"
	"callcenter-engine/internal/locks"
	"callcenter-engine/internal/metrics"
	"callcenter-engine/internal/notify"
	"callcenter-engine/internal/queues"
	"callcenter-engine/internal/routing"
	"callcenter-engine/internal/telephony"
)

type fixture struct {
	d         *Dispatcher
	calls     *calls.Service
	agents    *agents.Service
	queues    *queues.Service
	callbacks *callbacks.Service
	gateway   *telephony.NoopGateway
	now       time.Time
	mu        sync.Mutex
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
	f.callbacks = callbacks.NewService(callbacks.NewMemoryRepo(), locker).WithClock(clock)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	router := routing.New(f.calls, f.agents, f.queues, f.gateway, locker, log).WithClock(clock)
	f.d = New(Config{
		PublicBaseURL:   "https://engine.example.com",
		DefaultCallerID: "+15550009999",
		QueueGreeting:   "Please hold.",
	}, f.calls, f.agents, f.queues, f.callbacks, router, f.gateway, locker,
		notify.NoopNotifier{}, metrics.New(), log).WithClock(clock)
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

func (f *fixture) onlineAgent(t *testing.T, userID, queueID string) agents.Agent {
	t.Helper()
	ctx := context.Background()
	a, err := f.agents.Create(ctx, agents.CreateRequest{
		UserID: userID, Extension: "1001", QueueIDs: []string{queueID},
	})
	require.NoError(t, err)
	a, err = f.agents.Login(ctx, a.ID)
	require.NoError(t, err)
	return a
}

func inbound(sid string) telephony.InboundCall {
	return telephony.InboundCall{
		ProviderCallID: sid,
		From:           "+15550001111",
		To:             "+15550002222",
	}
}

func status(sid, s string) telephony.StatusCallback {
	return telephony.StatusCallback{
		ProviderCallID: sid,
		From:           "+15550001111",
		To:             "+15550002222",
		CallStatus:     s,
	}
}

func TestNormalizeStatus(t *testing.T) {
	cases := map[string]calls.Event{
		"queued":      calls.EventQueued,
		"initiated":   calls.EventQueued,
		"ringing":     calls.EventRinging,
		"in-progress": calls.EventAnswered,
		"answered":    calls.EventAnswered,
		"completed":   calls.EventCompleted,
		"busy":        calls.EventBusy,
		"no-answer":   calls.EventNoAnswer,
		"failed":      calls.EventFailed,
		"canceled":    calls.EventCanceled,
	}
	for raw, want := range cases {
		got, ok := normalizeStatus(raw)
		require.True(t, ok, raw)
		require.Equal(t, want, got)
	}
	_, ok := normalizeStatus("transferring")
	require.False(t, ok)
}

func TestHandleInboundCallEnqueuesAndRoutes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := f.queue(t, queues.CreateRequest{Name: "support"})
	agent := f.onlineAgent(t, "u-1", q.ID)

	resp, err := f.d.HandleInboundCall(ctx, inbound("CA1"), q.ID)
	require.NoError(t, err)
	require.Contains(t, string(telephony.Render(resp)), "<Enqueue>support</Enqueue>")

	// the sweep paired the call immediately
	c, err := f.calls.GetByProviderID(ctx, "CA1")
	require.NoError(t, err)
	require.Equal(t, calls.StatusRinging, c.Status)
	require.Equal(t, agent.ID, c.AgentID)
}

func TestVoiceWebhookForOutboundLegDoesNotDuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := f.queue(t, queues.CreateRequest{Name: "support"})

	placed, err := f.d.CreateOutboundCall(ctx, "+15550003333", "", "")
	require.NoError(t, err)

	// The answered leg requests the voice URL like any inbound call would.
	resp, err := f.d.HandleInboundCall(ctx, inbound(placed.ProviderCallID), q.ID)
	require.NoError(t, err)
	require.Contains(t, string(telephony.Render(resp)), "<Say>")

	got, err := f.calls.GetByProviderID(ctx, placed.ProviderCallID)
	require.NoError(t, err)
	require.Equal(t, placed.ID, got.ID)
	require.Len(t, f.gateway.Placed, 1)
}

func TestHandleInboundCallQueueFull(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := f.queue(t, queues.CreateRequest{Name: "support", MaxSize: 1})

	_, err := f.d.HandleInboundCall(ctx, inbound("CA1"), q.ID)
	require.NoError(t, err)

	resp, err := f.d.HandleInboundCall(ctx, inbound("CA2"), q.ID)
	require.NoError(t, err)
	require.Contains(t, string(telephony.Render(resp)), "<Reject")
}

func TestHandleInboundCallQueueFullVoicemail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := f.queue(t, queues.CreateRequest{
		Name: "support", MaxSize: 1,
		Metadata: map[string]string{"voicemail_url": "https://engine.example.com/vm"},
	})

	_, err := f.d.HandleInboundCall(ctx, inbound("CA1"), q.ID)
	require.NoError(t, err)

	resp, err := f.d.HandleInboundCall(ctx, inbound("CA2"), q.ID)
	require.NoError(t, err)
	require.Contains(t, string(telephony.Render(resp)), "<Redirect>https://engine.example.com/vm</Redirect>")
}

func TestAnswerMarksAgentBusyAndCompletionWrapsUp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := f.queue(t, queues.CreateRequest{Name: "support"})
	agent := f.onlineAgent(t, "u-1", q.ID)

	_, err := f.d.HandleInboundCall(ctx, inbound("CA1"), q.ID)
	require.NoError(t, err)

	f.advance(10 * time.Second)
	_, err = f.d.HandleStatusCallback(ctx, status("CA1", "in-progress"))
	require.NoError(t, err)

	a, err := f.agents.Get(ctx, agent.ID)
	require.NoError(t, err)
	require.Equal(t, agents.StatusBusy, a.Status)

	f.advance(time.Minute)
	_, err = f.d.HandleStatusCallback(ctx, status("CA1", "completed"))
	require.NoError(t, err)

	a, err = f.agents.Get(ctx, agent.ID)
	require.NoError(t, err)
	require.Equal(t, agents.StatusAfterCallWork, a.Status)
	require.Equal(t, 1, a.CallsHandledToday)
	require.Equal(t, 60, a.TalkSecondsToday)

	c, err := f.calls.GetByProviderID(ctx, "CA1")
	require.NoError(t, err)
	require.Equal(t, calls.StatusCompleted, c.Status)
	require.Equal(t, 60, c.DurationSeconds)
}

func TestNoAnswerReturnsAgentToAvailable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := f.queue(t, queues.CreateRequest{Name: "support"})
	agent := f.onlineAgent(t, "u-1", q.ID)

	_, err := f.d.HandleInboundCall(ctx, inbound("CA1"), q.ID)
	require.NoError(t, err)

	// the agent never answered; the caller gave up while ringing
	_, err = f.d.HandleStatusCallback(ctx, status("CA1", "no-answer"))
	require.NoError(t, err)

	a, err := f.agents.Get(ctx, agent.ID)
	require.NoError(t, err)
	require.Equal(t, agents.StatusAvailable, a.Status)
	require.Equal(t, 0, a.CallsHandledToday)
}

func TestMultiCallAgentStaysBusyUntilLastCallEnds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := f.queue(t, queues.CreateRequest{Name: "support"})

	a, err := f.agents.Create(ctx, agents.CreateRequest{
		UserID: "u-1", Extension: "1001", QueueIDs: []string{q.ID},
		MaxConcurrentCalls: 2,
	})
	require.NoError(t, err)
	_, err = f.agents.Login(ctx, a.ID)
	require.NoError(t, err)

	_, err = f.d.HandleInboundCall(ctx, inbound("CA1"), q.ID)
	require.NoError(t, err)
	_, err = f.d.HandleInboundCall(ctx, inbound("CA2"), q.ID)
	require.NoError(t, err)
	_, err = f.d.HandleStatusCallback(ctx, status("CA1", "in-progress"))
	require.NoError(t, err)
	_, err = f.d.HandleStatusCallback(ctx, status("CA2", "in-progress"))
	require.NoError(t, err)

	f.advance(30 * time.Second)
	_, err = f.d.HandleStatusCallback(ctx, status("CA1", "completed"))
	require.NoError(t, err)

	// the second call is still up: no wrap-up yet, but the completion counts
	got, err := f.agents.Get(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, agents.StatusBusy, got.Status)
	require.Equal(t, 1, got.CallsHandledToday)
	require.Equal(t, 30, got.TalkSecondsToday)

	f.advance(30 * time.Second)
	_, err = f.d.HandleStatusCallback(ctx, status("CA2", "completed"))
	require.NoError(t, err)

	got, err = f.agents.Get(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, agents.StatusAfterCallWork, got.Status)
	require.Equal(t, 2, got.CallsHandledToday)
	require.Equal(t, 90, got.TalkSecondsToday)
}

func TestDuplicateStatusCallbackIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := f.queue(t, queues.CreateRequest{Name: "support"})
	f.onlineAgent(t, "u-1", q.ID)

	_, err := f.d.HandleInboundCall(ctx, inbound("CA1"), q.ID)
	require.NoError(t, err)
	_, err = f.d.HandleStatusCallback(ctx, status("CA1", "in-progress"))
	require.NoError(t, err)
	_, err = f.d.HandleStatusCallback(ctx, status("CA1", "completed"))
	require.NoError(t, err)

	// at-least-once redelivery of the terminal event
	_, err = f.d.HandleStatusCallback(ctx, status("CA1", "completed"))
	require.NoError(t, err)
	_, err = f.d.HandleStatusCallback(ctx, status("CA1", "in-progress"))
	require.NoError(t, err)

	c, err := f.calls.GetByProviderID(ctx, "CA1")
	require.NoError(t, err)
	require.Equal(t, calls.StatusCompleted, c.Status)
}

func TestStatusCallbackCreatesUnknownCall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cb := status("CA-new", "ringing")
	cb.Direction = "outbound-api"
	_, err := f.d.HandleStatusCallback(ctx, cb)
	require.NoError(t, err)

	c, err := f.calls.GetByProviderID(ctx, "CA-new")
	require.NoError(t, err)
	require.Equal(t, calls.DirectionOutbound, c.Direction)
	require.Equal(t, calls.StatusRinging, c.Status)
}

func TestRecordingAnnotation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := f.queue(t, queues.CreateRequest{Name: "support"})
	f.onlineAgent(t, "u-1", q.ID)

	_, err := f.d.HandleInboundCall(ctx, inbound("CA1"), q.ID)
	require.NoError(t, err)

	cb := status("CA1", "completed")
	cb.RecordingURL = "https://recordings/CA1.mp3"
	_, err = f.d.HandleStatusCallback(ctx, cb)
	require.NoError(t, err)

	c, err := f.calls.GetByProviderID(ctx, "CA1")
	require.NoError(t, err)
	require.Equal(t, "https://recordings/CA1.mp3", c.RecordingURL)
}

func TestCreateOutboundCallGatewayFailureLeavesNoRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.gateway.Fail = true
	_, err := f.d.CreateOutboundCall(ctx, "+15550002222", "", "")
	require.True(t, domain.IsCode(err, domain.CodeGateway))

	f.gateway.Fail = false
	c, err := f.d.CreateOutboundCall(ctx, "+15550002222", "", "")
	require.NoError(t, err)
	require.Equal(t, calls.StatusRinging, c.Status)
	require.True(t, strings.HasPrefix(c.ProviderCallID, "noop-"))
}

func TestEndCallRequiresInProgress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := f.queue(t, queues.CreateRequest{Name: "support"})
	f.onlineAgent(t, "u-1", q.ID)

	_, err := f.d.HandleInboundCall(ctx, inbound("CA1"), q.ID)
	require.NoError(t, err)
	c, _ := f.calls.GetByProviderID(ctx, "CA1")

	// still ringing
	_, err = f.d.EndCall(ctx, c.ID, "supervisor")
	require.True(t, domain.IsCode(err, domain.CodeInvalidState))

	_, err = f.d.HandleStatusCallback(ctx, status("CA1", "in-progress"))
	require.NoError(t, err)

	ended, err := f.d.EndCall(ctx, c.ID, "supervisor")
	require.NoError(t, err)
	require.Equal(t, calls.StatusCompleted, ended.Status)
}

func TestEvictExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := f.queue(t, queues.CreateRequest{Name: "support", TimeoutSeconds: 60})

	_, err := f.d.HandleInboundCall(ctx, inbound("CA1"), q.ID)
	require.NoError(t, err)

	// not yet expired
	n, err := f.d.EvictExpired(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	f.advance(2 * time.Minute)
	n, err = f.d.EvictExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	c, err := f.calls.GetByProviderID(ctx, "CA1")
	require.NoError(t, err)
	require.Equal(t, calls.StatusNoAnswer, c.Status)
}

func TestDispatchDueCallbacks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cb, err := f.d.RequestCallback(ctx, callbacks.Request{
		PhoneNumber: "+15550001111", QueueID: "q1",
		PreferredTime: f.now.Add(time.Hour),
	})
	require.NoError(t, err)

	n, err := f.d.DispatchDueCallbacks(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	f.advance(2 * time.Hour)
	n, err = f.d.DispatchDueCallbacks(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	done, err := f.callbacks.Get(ctx, cb.ID)
	require.NoError(t, err)
	require.Equal(t, callbacks.StatusCompleted, done.Status)
	require.NotEmpty(t, done.PlacedCallID)

	placed, err := f.calls.Get(ctx, done.PlacedCallID)
	require.NoError(t, err)
	require.Equal(t, calls.DirectionOutbound, placed.Direction)
	require.Equal(t, "+15550001111", placed.To)
}

func TestAgentLoginTriggersSweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := f.queue(t, queues.CreateRequest{Name: "support"})

	_, err := f.d.HandleInboundCall(ctx, inbound("CA1"), q.ID)
	require.NoError(t, err)

	a, err := f.agents.Create(ctx, agents.CreateRequest{
		UserID: "u-1", Extension: "1001", QueueIDs: []string{q.ID},
	})
	require.NoError(t, err)

	// nobody online, the call waits
	c, _ := f.calls.GetByProviderID(ctx, "CA1")
	require.Equal(t, calls.StatusQueued, c.Status)

	_, err = f.d.LoginAgent(ctx, a.ID)
	require.NoError(t, err)

	c, _ = f.calls.GetByProviderID(ctx, "CA1")
	require.Equal(t, calls.StatusRinging, c.Status)
	require.Equal(t, a.ID, c.AgentID)
}
