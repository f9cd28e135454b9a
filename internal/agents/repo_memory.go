package agents

import (
	"context"
	"sort"
	"sync"

	"callcenter-engine/internal/domain"
	"callcenter-engine/internal/events"
)

// MemoryRepo is the in-memory Repository used by tests and by single-process
// deployments without Postgres.
type MemoryRepo struct {
	mu       sync.Mutex
	agents   map[string]Agent
	byUserID map[string]string
	sink     events.Repository
}

func NewMemoryRepo(sink events.Repository) *MemoryRepo {
	return &MemoryRepo{
		agents:   make(map[string]Agent),
		byUserID: make(map[string]string),
		sink:     sink,
	}
}

func (r *MemoryRepo) Create(ctx context.Context, a Agent, ev events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.agents[a.ID]; ok {
		return domain.Errorf(domain.CodeConflict, "agent %s already exists", a.ID)
	}
	if _, ok := r.byUserID[a.UserID]; ok {
		return domain.Errorf(domain.CodeConflict, "user %s already has an agent", a.UserID)
	}
	r.agents[a.ID] = cloneAgent(a)
	r.byUserID[a.UserID] = a.ID
	return r.append(ctx, ev)
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[id]
	if !ok {
		return Agent{}, domain.Errorf(domain.CodeNotFound, "agent %s not found", id)
	}
	return cloneAgent(a), nil
}

func (r *MemoryRepo) GetByUserID(ctx context.Context, userID string) (Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byUserID[userID]
	if !ok {
		return Agent{}, domain.Errorf(domain.CodeNotFound, "no agent for user %s", userID)
	}
	return cloneAgent(r.agents[id]), nil
}

func (r *MemoryRepo) UpdateWithEvents(ctx context.Context, a Agent, evs ...events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.agents[a.ID]; !ok {
		return domain.Errorf(domain.CodeNotFound, "agent %s not found", a.ID)
	}
	r.agents[a.ID] = cloneAgent(a)
	for _, ev := range evs {
		if err := r.append(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

func (r *MemoryRepo) ListByQueue(ctx context.Context, queueID string) ([]Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Agent
	for _, a := range r.agents {
		if a.IsActive && a.MemberOf(queueID) {
			out = append(out, cloneAgent(a))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastStatusChange.Before(out[j].LastStatusChange)
	})
	return out, nil
}

func (r *MemoryRepo) List(ctx context.Context) ([]Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, cloneAgent(a))
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

func cloneAgent(a Agent) Agent {
	c := a
	c.Skills = append([]string(nil), a.Skills...)
	c.QueueIDs = append([]string(nil), a.QueueIDs...)
	if a.Metadata != nil {
		c.Metadata = make(map[string]string, len(a.Metadata))
		for k, v := range a.Metadata {
			c.Metadata[k] = v
		}
	}
	return c
}
