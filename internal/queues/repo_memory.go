package queues

import (
	"context"
	"sort"
	"sync"

	"callcenter-engine/internal/domain"
)

type MemoryRepo struct {
	mu     sync.Mutex
	queues map[string]Queue
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{queues: make(map[string]Queue)}
}

func (r *MemoryRepo) Create(ctx context.Context, q Queue) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.queues[q.ID]; ok {
		return domain.Errorf(domain.CodeConflict, "queue %s already exists", q.ID)
	}
	r.queues[q.ID] = cloneQueue(q)
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (Queue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.queues[id]
	if !ok {
		return Queue{}, domain.Errorf(domain.CodeNotFound, "queue %s not found", id)
	}
	return cloneQueue(q), nil
}

func (r *MemoryRepo) Update(ctx context.Context, q Queue) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.queues[q.ID]; !ok {
		return domain.Errorf(domain.CodeNotFound, "queue %s not found", q.ID)
	}
	r.queues[q.ID] = cloneQueue(q)
	return nil
}

func (r *MemoryRepo) ListActive(ctx context.Context) ([]Queue, error) {
	all, _ := r.List(ctx)
	out := all[:0]
	for _, q := range all {
		if q.IsActive {
			out = append(out, q)
		}
	}
	return out, nil
}

func (r *MemoryRepo) List(ctx context.Context) ([]Queue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Queue, 0, len(r.queues))
	for _, q := range r.queues {
		out = append(out, cloneQueue(q))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func cloneQueue(q Queue) Queue {
	c := q
	c.RequiredSkills = append([]string(nil), q.RequiredSkills...)
	if q.Metadata != nil {
		c.Metadata = make(map[string]string, len(q.Metadata))
		for k, v := range q.Metadata {
			c.Metadata[k] = v
		}
	}
	return c
}
