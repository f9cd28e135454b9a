package calls

import (
	"context"
	"sort"
	"sync"
	"time"

	"callcenter-engine/internal/domain"
	"callcenter-engine/internal/events"
)

// MemoryRepo is an in-memory Repository for tests and single-process use.
// The event sink is optional; when set, appended events land there.
type MemoryRepo struct {
	mu     sync.RWMutex
	calls  map[string]Call
	byPCID map[string]string
	sink   events.Repository
}

func NewMemoryRepo(sink events.Repository) *MemoryRepo {
	return &MemoryRepo{
		calls:  make(map[string]Call),
		byPCID: make(map[string]string),
		sink:   sink,
	}
}

func (r *MemoryRepo) Create(ctx context.Context, c Call, ev events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.calls[c.ID]; exists {
		return domain.Errorf(domain.CodeConflict, "call %s already exists", c.ID)
	}
	r.calls[c.ID] = cloneCall(c)
	if c.ProviderCallID != "" {
		r.byPCID[c.ProviderCallID] = c.ID
	}
	return r.append(ctx, ev)
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (Call, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.calls[id]
	if !ok {
		return Call{}, domain.Errorf(domain.CodeNotFound, "call %s not found", id)
	}
	return cloneCall(c), nil
}

func (r *MemoryRepo) GetByProviderID(ctx context.Context, providerCallID string) (Call, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byPCID[providerCallID]
	if !ok {
		return Call{}, domain.Errorf(domain.CodeNotFound, "call with provider id %s not found", providerCallID)
	}
	return cloneCall(r.calls[id]), nil
}

func (r *MemoryRepo) UpdateWithEvents(ctx context.Context, c Call, evs ...events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.calls[c.ID]; !ok {
		return domain.Errorf(domain.CodeNotFound, "call %s not found", c.ID)
	}
	r.calls[c.ID] = cloneCall(c)
	if c.ProviderCallID != "" {
		r.byPCID[c.ProviderCallID] = c.ID
	}
	for _, ev := range evs {
		if err := r.append(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

func (r *MemoryRepo) ListQueued(ctx context.Context, queueID string) ([]Call, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Call
	for _, c := range r.calls {
		if c.Status == StatusQueued && c.QueueID == queueID {
			out = append(out, cloneCall(c))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return queuedAt(out[i]).Before(queuedAt(out[j]))
	})
	return out, nil
}

func (r *MemoryRepo) CountQueued(ctx context.Context, queueID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, c := range r.calls {
		if c.Status == StatusQueued && c.QueueID == queueID {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepo) ListByAgent(ctx context.Context, agentID string, statuses ...Status) ([]Call, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Call
	for _, c := range r.calls {
		if c.AgentID == agentID && matchStatus(c.Status, statuses) {
			out = append(out, cloneCall(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepo) CountByAgent(ctx context.Context, agentID string, statuses ...Status) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, c := range r.calls {
		if c.AgentID == agentID && matchStatus(c.Status, statuses) {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepo) ListByPeriod(ctx context.Context, from, to time.Time, queueID, agentID string) ([]Call, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Call
	for _, c := range r.calls {
		if c.CreatedAt.Before(from) || c.CreatedAt.After(to) {
			continue
		}
		if queueID != "" && c.QueueID != queueID {
			continue
		}
		if agentID != "" && c.AgentID != agentID {
			continue
		}
		out = append(out, cloneCall(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepo) append(ctx context.Context, ev events.Event) error {
	if r.sink == nil {
		return nil
	}
	return r.sink.Append(ctx, ev)
}

func matchStatus(s Status, want []Status) bool {
	if len(want) == 0 {
		return true
	}
	for _, w := range want {
		if s == w {
			return true
		}
	}
	return false
}

func queuedAt(c Call) time.Time {
	if c.QueuedAt != nil {
		return *c.QueuedAt
	}
	return c.CreatedAt
}

func cloneCall(c Call) Call {
	out := c
	if c.Metadata != nil {
		out.Metadata = make(map[string]string, len(c.Metadata))
		for k, v := range c.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}
