package dispatch

import (
	"context"
	"time"

	"callcenter-engine/internal/agents"
	"callcenter-engine/internal/callbacks"
	"callcenter-engine/internal/calls"
	"callcenter-engine/internal/domain"
	"callcenter-engine/internal/locks"
	"callcenter-engine/internal/routing"
)

// Command API. These are the operations the HTTP layer exposes to the
// application; each returns the updated entity or a typed error.

// CreateOutboundCall places a provider call and registers it. The state
// write happens only after the provider accepted the origination, so a
// gateway failure leaves no record behind.
func (d *Dispatcher) CreateOutboundCall(ctx context.Context, to, from, agentID string) (calls.Call, error) {
	if from == "" {
		from = d.cfg.DefaultCallerID
	}
	if !calls.ValidPhoneNumber(to) {
		return calls.Call{}, domain.Errorf(domain.CodeValidation, "malformed to number %q", to)
	}
	if !calls.ValidPhoneNumber(from) {
		return calls.Call{}, domain.Errorf(domain.CodeValidation, "malformed from number %q", from)
	}

	providerID, err := d.gateway.PlaceCall(ctx, to, from, d.cfg.PublicBaseURL+"/webhooks/telephony/voice")
	if err != nil {
		return calls.Call{}, err
	}

	c, err := d.calls.Create(ctx, calls.CreateRequest{
		Direction:      calls.DirectionOutbound,
		From:           from,
		To:             to,
		ProviderCallID: providerID,
		Actor:          "api",
	})
	if err != nil {
		return calls.Call{}, err
	}
	d.metrics.CallsCreated.WithLabelValues(string(calls.DirectionOutbound)).Inc()

	if agentID != "" {
		err = d.locker.WithLock(ctx, locks.CallKey(c.ID), func(ctx context.Context) error {
			c, err = d.calls.AssignAgent(ctx, c.ID, agentID, "api")
			return err
		})
		if err != nil {
			return calls.Call{}, err
		}
	}
	return c, nil
}

// HoldCall parks an in-progress call. The provider instruction goes first;
// the state write is skipped when the provider refuses, keeping both sides
// consistent.
func (d *Dispatcher) HoldCall(ctx context.Context, callID, actor string) (calls.Call, error) {
	return d.controlCall(ctx, callID, actor, d.gateway.Hold, d.calls.Hold)
}

func (d *Dispatcher) ResumeCall(ctx context.Context, callID, actor string) (calls.Call, error) {
	return d.controlCall(ctx, callID, actor, d.gateway.Resume, d.calls.Resume)
}

func (d *Dispatcher) controlCall(ctx context.Context, callID, actor string,
	instruct func(context.Context, string) error,
	mutate func(context.Context, string, string) (calls.Call, error)) (calls.Call, error) {
	var out calls.Call
	err := d.locker.WithLock(ctx, locks.CallKey(callID), func(ctx context.Context) error {
		c, err := d.calls.Get(ctx, callID)
		if err != nil {
			return err
		}
		if c.Status != calls.StatusInProgress {
			return domain.Errorf(domain.CodeInvalidState, "call %s is %s, not in progress", callID, c.Status)
		}
		if c.ProviderCallID != "" {
			if err := instruct(ctx, c.ProviderCallID); err != nil {
				return err
			}
		}
		out, err = mutate(ctx, callID, actor)
		return err
	})
	return out, err
}

// EndCall hangs up an in-progress call. The terminal transition and its
// agent side effects run exactly as if the provider had reported completion.
func (d *Dispatcher) EndCall(ctx context.Context, callID, actor string) (calls.Call, error) {
	var out calls.Call
	err := d.locker.WithLock(ctx, locks.CallKey(callID), func(ctx context.Context) error {
		c, err := d.calls.Get(ctx, callID)
		if err != nil {
			return err
		}
		if c.Status != calls.StatusInProgress {
			return domain.Errorf(domain.CodeInvalidState, "call %s is %s, not in progress", callID, c.Status)
		}
		if c.ProviderCallID != "" {
			if err := d.gateway.End(ctx, c.ProviderCallID); err != nil {
				return err
			}
		}
		out, _, err = d.calls.ApplyEvent(ctx, callID, calls.EventCompleted, actor, nil)
		return err
	})
	if err != nil {
		return calls.Call{}, err
	}
	d.applyTransitionEffects(ctx, out)
	return out, nil
}

// TransferCall hands an in-progress call to another agent: the target is
// validated and bridged before the reassignment is written.
func (d *Dispatcher) TransferCall(ctx context.Context, callID, toAgentID, actor string) (calls.Call, error) {
	var out calls.Call
	err := d.locker.WithLock(ctx, locks.CallKey(callID), func(ctx context.Context) error {
		return d.locker.WithLock(ctx, locks.AgentKey(toAgentID), func(ctx context.Context) error {
			c, err := d.calls.Get(ctx, callID)
			if err != nil {
				return err
			}
			if c.Status != calls.StatusInProgress {
				return domain.Errorf(domain.CodeInvalidState, "call %s is %s, not in progress", callID, c.Status)
			}
			target, err := d.agents.Get(ctx, toAgentID)
			if err != nil {
				return err
			}
			inProgress, ringing, err := d.calls.ActiveCalls(ctx, toAgentID)
			if err != nil {
				return err
			}
			if !target.IsActive || inProgress+ringing >= target.MaxConcurrentCalls {
				return domain.Errorf(domain.CodeAgentBusy, "agent %s cannot take a transfer", toAgentID)
			}
			if c.ProviderCallID != "" {
				endpoint := target.PhoneNumber
				if endpoint == "" {
					endpoint = target.Extension
				}
				if err := d.gateway.Bridge(ctx, c.ProviderCallID, endpoint); err != nil {
					return err
				}
			}
			out, err = d.calls.Transfer(ctx, callID, toAgentID, actor)
			return err
		})
	})
	return out, err
}

// RouteNext is the manual routing trigger for one queue.
func (d *Dispatcher) RouteNext(ctx context.Context, queueID string) ([]routing.Pairing, error) {
	paired, err := d.router.RouteQueue(ctx, queueID)
	for range paired {
		d.metrics.RoutingPairings.WithLabelValues(queueID).Inc()
	}
	d.updateQueueDepth(ctx, queueID)
	return paired, err
}

// LoginAgent, LogoutAgent and SetAgentStatus run the agent state machine
// under the agent lock.
func (d *Dispatcher) LoginAgent(ctx context.Context, agentID string) (agents.Agent, error) {
	var out agents.Agent
	err := d.locker.WithLock(ctx, locks.AgentKey(agentID), func(ctx context.Context) error {
		var err error
		out, err = d.agents.Login(ctx, agentID)
		return err
	})
	if err != nil {
		return agents.Agent{}, err
	}
	// a fresh agent may unblock waiting queues
	for _, qid := range out.QueueIDs {
		d.sweepQueue(ctx, qid)
	}
	return out, nil
}

func (d *Dispatcher) LogoutAgent(ctx context.Context, agentID string) (agents.Agent, error) {
	var out agents.Agent
	err := d.locker.WithLock(ctx, locks.AgentKey(agentID), func(ctx context.Context) error {
		var err error
		out, err = d.agents.Logout(ctx, agentID)
		return err
	})
	return out, err
}

func (d *Dispatcher) SetAgentStatus(ctx context.Context, agentID string, target agents.Status, actor, reason string) (agents.Agent, error) {
	var out agents.Agent
	err := d.locker.WithLock(ctx, locks.AgentKey(agentID), func(ctx context.Context) error {
		var err error
		out, err = d.agents.SetStatus(ctx, agentID, target, actor, reason)
		return err
	})
	if err != nil {
		return agents.Agent{}, err
	}
	if target == agents.StatusAvailable {
		for _, qid := range out.QueueIDs {
			d.sweepQueue(ctx, qid)
		}
	}
	return out, nil
}

// Enqueue admits an existing queued call into a queue and routes once.
func (d *Dispatcher) Enqueue(ctx context.Context, callID, queueID, actor string) (calls.Call, error) {
	c, err := d.queues.Enqueue(ctx, callID, queueID, actor)
	if err != nil {
		return calls.Call{}, err
	}
	d.updateQueueDepth(ctx, queueID)
	d.sweepQueue(ctx, queueID)
	return d.calls.Get(ctx, c.ID)
}

// RequestCallback and CancelCallback delegate to the scheduler.
func (d *Dispatcher) RequestCallback(ctx context.Context, req callbacks.Request) (callbacks.CallbackRequest, error) {
	return d.callbacks.RequestCallback(ctx, req)
}

func (d *Dispatcher) CancelCallback(ctx context.Context, phoneNumber string) (bool, error) {
	return d.callbacks.Cancel(ctx, phoneNumber)
}

// EvictExpired scans every active queue and ends calls that waited past the
// queue timeout. Eviction runs under the queue lock, then each call's lock,
// so it cannot race an in-flight pairing for the same call.
func (d *Dispatcher) EvictExpired(ctx context.Context) (int, error) {
	active, err := d.queues.ListActive(ctx)
	if err != nil {
		return 0, err
	}
	now := d.clock().UTC()

	evicted := 0
	for _, q := range active {
		err := d.locker.WithLock(ctx, locks.QueueKey(q.ID), func(ctx context.Context) error {
			queue, expired, err := d.queues.ExpiredQueued(ctx, q.ID, now)
			if err != nil {
				return err
			}
			for _, c := range expired {
				outcome := "no_answer"
				data := map[string]string{"reason": "queue_timeout"}
				if vm := queue.VoicemailURL(); vm != "" {
					outcome = "voicemail"
					data["voicemail_url"] = vm
				}
				err := d.locker.WithLock(ctx, locks.CallKey(c.ID), func(ctx context.Context) error {
					_, changed, err := d.calls.ApplyEvent(ctx, c.ID, calls.EventNoAnswer, "system", data)
					if err != nil || !changed {
						return err
					}
					evicted++
					d.metrics.CallsEvicted.WithLabelValues(outcome).Inc()
					d.notifier.CallEvicted(ctx, queue.Name, c.ID, outcome)
					return nil
				})
				if err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return evicted, err
		}
		d.updateQueueDepth(ctx, q.ID)
	}
	return evicted, nil
}

// DispatchDueCallbacks places an outbound call for every callback whose
// preferred time has passed. Each request is handed over at most once; a
// failed placement goes back to pending for the next scan until the request
// runs out of attempts.
func (d *Dispatcher) DispatchDueCallbacks(ctx context.Context) (int, error) {
	due, err := d.callbacks.Due(ctx, d.clock().UTC())
	if err != nil {
		return 0, err
	}
	placed := 0
	for _, cb := range due {
		d.metrics.CallbacksDue.Inc()
		c, err := d.CreateOutboundCall(ctx, cb.PhoneNumber, d.cfg.DefaultCallerID, "")
		if err != nil {
			d.log.Error("callback placement failed", "callback_id", cb.ID, "phone", cb.PhoneNumber, "error", err)
			if failed, ferr := d.callbacks.Fail(ctx, cb.ID); ferr != nil {
				d.log.Error("mark callback failed", "callback_id", cb.ID, "error", ferr)
			} else if failed.Status == callbacks.StatusCanceled {
				d.log.Warn("callback abandoned after max attempts", "callback_id", cb.ID, "phone", cb.PhoneNumber)
			}
			continue
		}
		if _, err := d.callbacks.Complete(ctx, cb.ID, c.ID); err != nil {
			d.log.Error("mark callback complete", "callback_id", cb.ID, "error", err)
			continue
		}
		placed++
	}
	return placed, nil
}

// RunBackground starts the periodic eviction and callback scans. It blocks
// until ctx is canceled.
func (d *Dispatcher) RunBackground(ctx context.Context, evictEvery, callbackEvery time.Duration) {
	evict := time.NewTicker(evictEvery)
	defer evict.Stop()
	cbs := time.NewTicker(callbackEvery)
	defer cbs.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-evict.C:
			if n, err := d.EvictExpired(ctx); err != nil {
				d.log.Error("eviction scan", "error", err)
			} else if n > 0 {
				d.log.Info("evicted expired queued calls", "count", n)
			}
		case <-cbs.C:
			if n, err := d.DispatchDueCallbacks(ctx); err != nil {
				d.log.Error("callback scan", "error", err)
			} else if n > 0 {
				d.log.Info("placed due callbacks", "count", n)
			}
		}
	}
}
