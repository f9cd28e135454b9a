package routing

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"callcenter-engine/internal/agents"
	"callcenter-engine/internal/calls"
	"callcenter-engine/internal/domain"
	"callcenter-engine/internal/locks"
	"callcenter-engine/internal/queues"
	"callcenter-engine/internal/telephony"
)

// MetadataRequiredSkills is the call metadata key carrying comma-separated
// skill tags for skills-based routing.
const MetadataRequiredSkills = "required_skills"

// Pairing is one committed (call, agent) match.
type Pairing struct {
	Call  calls.Call
	Agent agents.Agent
}

// Router answers one question repeatedly: given a queue with waiting calls
// and a pool of agents, produce the next pairing, or none.
//
// A routing pass is greedy and single-shot. The dispatcher re-invokes it on
// every relevant state change; the router never loops or waits.
type Router struct {
	calls   *calls.Service
	agents  *agents.Service
	queues  *queues.Service
	gateway telephony.Gateway
	locker  locks.Locker
	log     *slog.Logger
	clock   func() time.Time
}

func New(callSvc *calls.Service, agentSvc *agents.Service, queueSvc *queues.Service,
	gw telephony.Gateway, locker locks.Locker, log *slog.Logger) *Router {
	return &Router{
		calls:   callSvc,
		agents:  agentSvc,
		queues:  queueSvc,
		gateway: gw,
		locker:  locker,
		log:     log,
		clock:   time.Now,
	}
}

func (r *Router) WithClock(clock func() time.Time) *Router {
	r.clock = clock
	return r
}

// Sweep routes every active queue once, higher priority first, creation
// order breaking ties. Each queue is drained as far as its agents allow
// before the next is attempted.
func (r *Router) Sweep(ctx context.Context) ([]Pairing, error) {
	active, err := r.queues.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	var all []Pairing
	for _, q := range active {
		paired, err := r.RouteQueue(ctx, q.ID)
		all = append(all, paired...)
		if err != nil {
			return all, err
		}
	}
	return all, nil
}

// RouteQueue performs one greedy pass over the queue. An empty result is not
// an error; the queue simply keeps waiting.
//
// The pass runs under the queue lock. Each commit additionally takes the call
// and agent locks in that order and re-validates both sides before writing,
// so a concurrent cancel or a competing sweep can never double-book.
func (r *Router) RouteQueue(ctx context.Context, queueID string) ([]Pairing, error) {
	var paired []Pairing
	err := r.locker.WithLock(ctx, locks.QueueKey(queueID), func(ctx context.Context) error {
		q, err := r.queues.Get(ctx, queueID)
		if err != nil {
			return err
		}
		if !q.IsActive {
			return nil
		}

		waiting, err := r.calls.ListQueued(ctx, queueID)
		if err != nil {
			return err
		}
		if len(waiting) == 0 {
			return nil
		}
		pool, err := r.agents.AvailableForQueue(ctx, queueID, q.RequiredSkills)
		if err != nil {
			return err
		}
		if len(pool) == 0 {
			return nil
		}

		orderCalls(q.Strategy, waiting, pool)

		for _, c := range waiting {
			if len(pool) == 0 {
				break
			}
			for len(pool) > 0 {
				idx := pickAgent(q, c, pool)
				if idx < 0 {
					break
				}
				cand := pool[idx]

				p, agentLost, err := r.commit(ctx, q, c, cand.Agent)
				if err != nil {
					return err
				}
				if agentLost {
					// competing sweep got there first; retry this call
					// with the rest of the pool
					pool = append(pool[:idx], pool[idx+1:]...)
					continue
				}
				if p == nil {
					// call left the queue; the agent stays in the pool
					break
				}

				paired = append(paired, *p)
				cand.ActiveCalls++
				if cand.ActiveCalls >= cand.Agent.MaxConcurrentCalls {
					pool = append(pool[:idx], pool[idx+1:]...)
				} else {
					pool[idx] = cand
				}
				break
			}
		}
		return nil
	})
	return paired, err
}

// commit re-validates and writes one pairing under the call and agent locks.
// A nil pairing without error means the commit was abandoned: agentLost
// reports whether the agent side failed re-validation (as opposed to the
// call having left the queue).
func (r *Router) commit(ctx context.Context, q queues.Queue, c calls.Call, a agents.Agent) (out *Pairing, agentLost bool, _ error) {
	err := r.locker.WithLock(ctx, locks.CallKey(c.ID), func(ctx context.Context) error {
		return r.locker.WithLock(ctx, locks.AgentKey(a.ID), func(ctx context.Context) error {
			fresh, err := r.agents.Get(ctx, a.ID)
			if err != nil {
				return err
			}
			inProgress, ringing, err := r.calls.ActiveCalls(ctx, a.ID)
			if err != nil {
				return err
			}
			if !fresh.Available(inProgress + ringing) {
				r.log.Debug("pairing abandoned, agent no longer available",
					"queue_id", q.ID, "call_id", c.ID, "agent_id", a.ID)
				agentLost = true
				return nil
			}

			committed, err := r.calls.AssignAndRing(ctx, c.ID, a.ID, "router")
			if err != nil {
				if domain.IsCode(err, domain.CodeConflict) {
					// call left the queue between selection and commit
					r.log.Debug("pairing abandoned, call no longer queued",
						"queue_id", q.ID, "call_id", c.ID)
					return nil
				}
				return err
			}

			if err := r.bridge(ctx, committed, fresh); err != nil {
				if _, revertErr := r.calls.RevertAssignment(ctx, c.ID, "bridge failed"); revertErr != nil {
					r.log.Error("revert after failed bridge", "call_id", c.ID, "error", revertErr)
					return revertErr
				}
				return err
			}

			out = &Pairing{Call: committed, Agent: fresh}
			return nil
		})
	})
	return out, agentLost, err
}

func (r *Router) bridge(ctx context.Context, c calls.Call, a agents.Agent) error {
	if c.ProviderCallID == "" {
		// call not yet carried by the provider (test traffic), nothing to
		// bridge
		return nil
	}
	endpoint := a.PhoneNumber
	if endpoint == "" {
		endpoint = a.Extension
	}
	return r.gateway.Bridge(ctx, c.ProviderCallID, endpoint)
}

// orderCalls sorts waiting in place per the queue strategy. ListQueued
// already returns ascending queue-entry order, which is FIFO.
func orderCalls(strategy queues.Strategy, waiting []calls.Call, pool []agents.Candidate) {
	switch strategy {
	case queues.StrategyLIFO:
		for i, j := 0, len(waiting)-1; i < j; i, j = i+1, j-1 {
			waiting[i], waiting[j] = waiting[j], waiting[i]
		}
	case queues.StrategySkillsBased:
		// scarcest skill first: calls with the fewest matching agents are
		// served before calls many agents could take; FIFO breaks ties
		matches := make(map[string]int, len(waiting))
		for _, c := range waiting {
			n := 0
			req := RequiredSkills(c)
			for _, cand := range pool {
				if cand.Agent.HasSkills(req) {
					n++
				}
			}
			matches[c.ID] = n
		}
		sort.SliceStable(waiting, func(i, j int) bool {
			return matches[waiting[i].ID] < matches[waiting[j].ID]
		})
	}
}

// pickAgent returns the pool index of the agent to pair with c, or -1. The
// pool arrives ordered by ascending last_status_change; least-busy re-orders
// by active-call count.
func pickAgent(q queues.Queue, c calls.Call, pool []agents.Candidate) int {
	req := RequiredSkills(c)
	needSkills := q.Strategy == queues.StrategySkillsBased || len(q.RequiredSkills) > 0

	best := -1
	for i, cand := range pool {
		if needSkills && !cand.Agent.HasSkills(req) {
			continue
		}
		if best < 0 {
			best = i
			continue
		}
		if q.Strategy == queues.StrategyLeastBusy {
			b := pool[best]
			if cand.ActiveCalls < b.ActiveCalls ||
				(cand.ActiveCalls == b.ActiveCalls && cand.Agent.LastStatusChange.Before(b.Agent.LastStatusChange)) {
				best = i
			}
		}
		// every other strategy keeps the first hit: the pool is already in
		// ascending last_status_change order
	}
	return best
}

// RequiredSkills extracts the call's skill tags from its metadata.
func RequiredSkills(c calls.Call) []string {
	raw := c.Metadata[MetadataRequiredSkills]
	if raw == "" {
		return nil
	}
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
