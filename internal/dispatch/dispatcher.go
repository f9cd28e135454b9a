package dispatch

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"callcenter-engine/internal/agents"
	"callcenter-engine/internal/callbacks"
	"callcenter-engine/internal/calls"
	"callcenter-engine/internal/domain"
	"callcenter-engine/internal/locks"
	"callcenter-engine/internal/metrics"
	"callcenter-engine/internal/notify"
	"callcenter-engine/internal/queues"
	"callcenter-engine/internal/routing"
	"callcenter-engine/internal/telephony"
)

// Config carries the dispatcher's knobs.
type Config struct {
	// PublicBaseURL is where the provider reaches our webhook endpoints.
	PublicBaseURL string

	// DefaultCallerID is the From number for outbound and callback calls.
	DefaultCallerID string

	// QueueGreeting is spoken to inbound callers before they are parked.
	QueueGreeting string
}

// Dispatcher is the engine's entry point: it normalizes provider events,
// applies state transitions under the per-entity locks, and triggers routing
// sweeps on every change that may have created a matchable pair.
//
// Locks are always taken queue, then call, then agent. The dispatcher never
// calls the router while holding a call or agent lock; sweeps run after the
// transition's locks are released.
type Dispatcher struct {
	cfg       Config
	calls     *calls.Service
	agents    *agents.Service
	queues    *queues.Service
	callbacks *callbacks.Service
	router    *routing.Router
	gateway   telephony.Gateway
	locker    locks.Locker
	notifier  notify.Notifier
	metrics   *metrics.Metrics
	log       *slog.Logger
	clock     func() time.Time
}

func New(cfg Config, callSvc *calls.Service, agentSvc *agents.Service, queueSvc *queues.Service,
	cbSvc *callbacks.Service, router *routing.Router, gw telephony.Gateway, locker locks.Locker,
	notifier notify.Notifier, m *metrics.Metrics, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		cfg:       cfg,
		calls:     callSvc,
		agents:    agentSvc,
		queues:    queueSvc,
		callbacks: cbSvc,
		router:    router,
		gateway:   gw,
		locker:    locker,
		notifier:  notifier,
		metrics:   m,
		log:       log,
		clock:     time.Now,
	}
}

func (d *Dispatcher) WithClock(clock func() time.Time) *Dispatcher {
	d.clock = clock
	return d
}

// normalizeStatus maps provider status strings onto the call state machine's
// event vocabulary. Unknown strings are not an error; the callback is
// acknowledged and dropped.
func normalizeStatus(providerStatus string) (calls.Event, bool) {
	switch providerStatus {
	case "queued", "initiated":
		return calls.EventQueued, true
	case "ringing":
		return calls.EventRinging, true
	case "in-progress", "answered":
		return calls.EventAnswered, true
	case "completed":
		return calls.EventCompleted, true
	case "busy":
		return calls.EventBusy, true
	case "no-answer":
		return calls.EventNoAnswer, true
	case "failed":
		return calls.EventFailed, true
	case "canceled":
		return calls.EventCanceled, true
	}
	return "", false
}

// HandleInboundCall answers a new incoming call: it registers the call,
// admits it to the queue, kicks a routing sweep, and returns the instruction
// document for the provider leg.
//
// A full queue turns into a voicemail redirect when the queue has one
// configured, a spoken reject otherwise.
func (d *Dispatcher) HandleInboundCall(ctx context.Context, in telephony.InboundCall, queueID string) (telephony.Response, error) {
	// An answered outbound leg requests the same voice URL. It already has a
	// call record; keep the callee on the line and let the status callback
	// drive the state.
	if existing, err := d.calls.GetByProviderID(ctx, in.ProviderCallID); err == nil {
		if existing.QueueID != "" {
			if q, qerr := d.queues.Get(ctx, existing.QueueID); qerr == nil {
				return telephony.Enqueue(q.Name, d.cfg.QueueGreeting), nil
			}
		}
		return telephony.Say(d.cfg.QueueGreeting), nil
	}

	q, err := d.queues.Get(ctx, queueID)
	if err != nil {
		return telephony.Reject("busy"), err
	}

	c, err := d.calls.Create(ctx, calls.CreateRequest{
		Direction:      calls.DirectionInbound,
		From:           in.From,
		To:             in.To,
		ProviderCallID: in.ProviderCallID,
		AccountID:      in.AccountID,
		Actor:          "caller",
	})
	if err != nil {
		return telephony.Reject("busy"), err
	}
	d.metrics.CallsCreated.WithLabelValues(string(calls.DirectionInbound)).Inc()

	if _, err := d.queues.Enqueue(ctx, c.ID, queueID, "system"); err != nil {
		if domain.IsCode(err, domain.CodeQueueFull) {
			d.metrics.QueueRejections.WithLabelValues(q.Name).Inc()
			depth, _ := d.calls.CountQueued(ctx, queueID)
			d.notifier.QueueOverflow(ctx, q.Name, depth, q.MaxSize)
			if vm := q.VoicemailURL(); vm != "" {
				return telephony.Redirect(vm), nil
			}
			return telephony.Reject("busy"), nil
		}
		return telephony.Reject("busy"), err
	}
	d.updateQueueDepth(ctx, queueID)

	d.sweepQueue(ctx, queueID)
	return telephony.Enqueue(q.Name, d.cfg.QueueGreeting), nil
}

// HandleStatusCallback applies one provider status delivery. Deliveries are
// at least once and unordered; duplicates and stale events are counted and
// acknowledged without effect.
func (d *Dispatcher) HandleStatusCallback(ctx context.Context, cb telephony.StatusCallback) (telephony.Response, error) {
	ev, known := normalizeStatus(cb.CallStatus)
	if !known {
		d.log.Warn("unknown provider call status", "call_status", cb.CallStatus, "provider_call_id", cb.ProviderCallID)
		d.metrics.WebhookIgnored.Inc()
		return telephony.Ack(), nil
	}
	d.metrics.WebhookEvents.WithLabelValues(string(ev)).Inc()

	c, err := d.lookupOrCreate(ctx, cb)
	if err != nil {
		return telephony.Ack(), err
	}

	var updated calls.Call
	var changed bool
	err = d.locker.WithLock(ctx, locks.CallKey(c.ID), func(ctx context.Context) error {
		updated, changed, err = d.calls.ApplyEvent(ctx, c.ID, ev, "provider", eventData(cb))
		if err != nil {
			return err
		}
		if cb.RecordingURL != "" {
			updated, err = d.calls.Annotate(ctx, c.ID, cb.RecordingURL, cb.SpeechResult, "provider")
		}
		return err
	})
	if err != nil {
		return telephony.Ack(), err
	}
	if !changed {
		d.log.Debug("stale or duplicate status callback ignored",
			"call_id", c.ID, "event", string(ev), "status", string(c.Status))
		d.metrics.WebhookIgnored.Inc()
		return telephony.Ack(), nil
	}

	d.applyTransitionEffects(ctx, updated)
	return telephony.Ack(), nil
}

// lookupOrCreate resolves the provider call id, registering calls the engine
// has not seen yet (provider-originated legs).
func (d *Dispatcher) lookupOrCreate(ctx context.Context, cb telephony.StatusCallback) (calls.Call, error) {
	c, err := d.calls.GetByProviderID(ctx, cb.ProviderCallID)
	if err == nil {
		return c, nil
	}
	if !domain.IsCode(err, domain.CodeNotFound) {
		return calls.Call{}, err
	}

	direction := calls.DirectionInbound
	if cb.Direction == "outbound-api" || cb.Direction == "outbound-dial" {
		direction = calls.DirectionOutbound
	}
	c, err = d.calls.Create(ctx, calls.CreateRequest{
		Direction:      direction,
		From:           cb.From,
		To:             cb.To,
		ProviderCallID: cb.ProviderCallID,
		AccountID:      cb.AccountID,
		Actor:          "provider",
	})
	if err != nil {
		return calls.Call{}, err
	}
	d.metrics.CallsCreated.WithLabelValues(string(direction)).Inc()
	return c, nil
}

// applyTransitionEffects runs the agent/queue side effects of a committed
// call transition, then sweeps any queue the transition may have affected.
func (d *Dispatcher) applyTransitionEffects(ctx context.Context, c calls.Call) {
	switch {
	case c.Status == calls.StatusInProgress:
		d.onAnswered(ctx, c)
	case c.Status.Terminal():
		d.onTerminal(ctx, c)
	}

	if c.QueueID != "" {
		d.updateQueueDepth(ctx, c.QueueID)
		d.sweepQueue(ctx, c.QueueID)
	}
}

func (d *Dispatcher) onAnswered(ctx context.Context, c calls.Call) {
	if c.QueueID != "" {
		d.metrics.QueueWaitTime.WithLabelValues(c.QueueID).Observe(float64(c.QueueSeconds))
	}
	if c.AgentID == "" {
		return
	}
	err := d.locker.WithLock(ctx, locks.AgentKey(c.AgentID), func(ctx context.Context) error {
		_, err := d.agents.SetStatus(ctx, c.AgentID, agents.StatusBusy, "system", "call answered")
		return err
	})
	if err != nil && !domain.IsCode(err, domain.CodeInvalidTransition) {
		d.log.Error("mark agent busy", "agent_id", c.AgentID, "call_id", c.ID, "error", err)
	}
}

// onTerminal moves the handling agent into after-call work and bumps the
// handled and talk-time counters. Wrap-up only applies when the agent
// actually connected; a ringing no-answer returns the agent to available.
func (d *Dispatcher) onTerminal(ctx context.Context, c calls.Call) {
	d.metrics.CallsCompleted.WithLabelValues(string(c.Status)).Inc()
	if c.Status == calls.StatusCompleted {
		d.metrics.CallDuration.Observe(float64(c.DurationSeconds))
	}
	if c.AgentID == "" {
		return
	}

	err := d.locker.WithLock(ctx, locks.AgentKey(c.AgentID), func(ctx context.Context) error {
		a, err := d.agents.Get(ctx, c.AgentID)
		if err != nil {
			return err
		}
		if a.Status == agents.StatusBusy {
			inProgress, _, err := d.calls.ActiveCalls(ctx, c.AgentID)
			if err != nil {
				return err
			}
			// an agent with capacity above one may still be on another
			// call; wrap-up starts when the last one ends
			if inProgress == 0 {
				target := agents.StatusAvailable
				reason := "call ended before connect"
				if c.Status == calls.StatusCompleted {
					target = agents.StatusAfterCallWork
					reason = "wrap-up"
				}
				if _, err := d.agents.SetStatus(ctx, c.AgentID, target, "system", reason); err != nil {
					return err
				}
			}
		}
		if c.Status == calls.StatusCompleted {
			if _, err := d.agents.RecordHandled(ctx, c.AgentID, c.DurationSeconds); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		d.log.Error("agent post-call update", "agent_id", c.AgentID, "call_id", c.ID, "error", err)
	}
}

// sweepQueue triggers one routing pass. Routing failures are logged, not
// surfaced; the triggering webhook already succeeded.
func (d *Dispatcher) sweepQueue(ctx context.Context, queueID string) {
	paired, err := d.router.RouteQueue(ctx, queueID)
	if err != nil {
		if domain.IsCode(err, domain.CodeGateway) {
			d.metrics.RoutingReverts.Inc()
			d.notifier.GatewayDown(ctx, err.Error())
		}
		d.log.Error("routing sweep", "queue_id", queueID, "error", err)
	}
	for range paired {
		d.metrics.RoutingPairings.WithLabelValues(queueID).Inc()
	}
	if len(paired) > 0 {
		d.updateQueueDepth(ctx, queueID)
	}
}

// Sweep routes all active queues. Exposed for the manual trigger and the
// periodic background pass.
func (d *Dispatcher) Sweep(ctx context.Context) ([]routing.Pairing, error) {
	paired, err := d.router.Sweep(ctx)
	for _, p := range paired {
		d.metrics.RoutingPairings.WithLabelValues(p.Call.QueueID).Inc()
	}
	return paired, err
}

func (d *Dispatcher) updateQueueDepth(ctx context.Context, queueID string) {
	if n, err := d.calls.CountQueued(ctx, queueID); err == nil {
		d.metrics.QueueDepth.WithLabelValues(queueID).Set(float64(n))
	}
}

func eventData(cb telephony.StatusCallback) map[string]string {
	data := map[string]string{}
	if cb.Digits != "" {
		data["digits"] = cb.Digits
	}
	if cb.Duration > 0 {
		data["provider_duration"] = strconv.Itoa(cb.Duration)
	}
	if len(data) == 0 {
		return nil
	}
	return data
}
