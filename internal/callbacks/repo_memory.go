package callbacks

import (
	"context"
	"sort"
	"sync"
	"time"

	"callcenter-engine/internal/domain"
)

type MemoryRepo struct {
	mu        sync.Mutex
	callbacks map[string]CallbackRequest
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{callbacks: make(map[string]CallbackRequest)}
}

func (r *MemoryRepo) Create(ctx context.Context, cb CallbackRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.callbacks[cb.ID]; ok {
		return domain.Errorf(domain.CodeConflict, "callback %s already exists", cb.ID)
	}
	r.callbacks[cb.ID] = cb
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (CallbackRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.callbacks[id]
	if !ok {
		return CallbackRequest{}, domain.Errorf(domain.CodeNotFound, "callback %s not found", id)
	}
	return cb, nil
}

func (r *MemoryRepo) Update(ctx context.Context, cb CallbackRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.callbacks[cb.ID]; !ok {
		return domain.Errorf(domain.CodeNotFound, "callback %s not found", cb.ID)
	}
	r.callbacks[cb.ID] = cb
	return nil
}

func (r *MemoryRepo) ActiveByPhone(ctx context.Context, phoneNumber, queueID string) ([]CallbackRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []CallbackRequest
	for _, cb := range r.callbacks {
		if cb.PhoneNumber != phoneNumber || !cb.Status.Active() {
			continue
		}
		if queueID != "" && cb.QueueID != queueID {
			continue
		}
		out = append(out, cb)
	}
	sortByCreation(out)
	return out, nil
}

func (r *MemoryRepo) ListPendingDue(ctx context.Context, now time.Time) ([]CallbackRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []CallbackRequest
	for _, cb := range r.callbacks {
		if cb.Status == StatusPending && !cb.PreferredTime.After(now) {
			out = append(out, cb)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].PreferredTime.Before(out[j].PreferredTime)
	})
	return out, nil
}

func (r *MemoryRepo) MarkDue(ctx context.Context, id string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.callbacks[id]
	if !ok || cb.Status != StatusPending {
		return false, nil
	}
	cb.Status = StatusDue
	cb.UpdatedAt = now
	r.callbacks[id] = cb
	return true, nil
}

func (r *MemoryRepo) ListByQueue(ctx context.Context, queueID string) ([]CallbackRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []CallbackRequest
	for _, cb := range r.callbacks {
		if cb.QueueID == queueID {
			out = append(out, cb)
		}
	}
	sortByCreation(out)
	return out, nil
}

func sortByCreation(cbs []CallbackRequest) {
	sort.Slice(cbs, func(i, j int) bool { return cbs[i].CreatedAt.Before(cbs[j].CreatedAt) })
}
