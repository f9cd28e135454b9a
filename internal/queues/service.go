package queues

import (
	"context"
	"time"

	"callcenter-engine/internal/calls"
	"callcenter-engine/internal/domain"
	"callcenter-engine/internal/locks"

	"github.com/google/uuid"
)

// Repository is the persistence contract for queue definitions.
type Repository interface {
	Create(ctx context.Context, q Queue) error
	Get(ctx context.Context, id string) (Queue, error)
	Update(ctx context.Context, q Queue) error

	// ListActive returns active queues ordered by descending priority, ties
	// broken by ascending creation time. This is the routing sweep order.
	ListActive(ctx context.Context) ([]Queue, error)
	List(ctx context.Context) ([]Queue, error)
}

// Service owns queue definitions and admission. Membership itself lives on
// the call rows (status=queued, queue_id=X); enqueue, eviction and routing
// all mutate it under the per-queue lock.
type Service struct {
	repo   Repository
	calls  *calls.Service
	locker locks.Locker
	clock  func() time.Time
}

func NewService(repo Repository, callSvc *calls.Service, locker locks.Locker) *Service {
	return &Service{repo: repo, calls: callSvc, locker: locker, clock: time.Now}
}

func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

type CreateRequest struct {
	Name           string
	Description    string
	Strategy       Strategy
	Priority       int
	MaxSize        int
	TimeoutSeconds int
	RequiredSkills []string
	Metadata       map[string]string
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (Queue, error) {
	if req.Name == "" {
		return Queue{}, domain.E(domain.CodeValidation, "queue name is required")
	}
	if req.Strategy == "" {
		req.Strategy = StrategyFIFO
	}
	if !ValidStrategy(req.Strategy) {
		return Queue{}, domain.Errorf(domain.CodeValidation, "unknown routing strategy %q", req.Strategy)
	}
	if req.MaxSize < 0 || req.TimeoutSeconds < 0 {
		return Queue{}, domain.E(domain.CodeValidation, "max_size and timeout_seconds must not be negative")
	}
	if req.MaxSize == 0 {
		req.MaxSize = DefaultMaxSize
	}
	if req.TimeoutSeconds == 0 {
		req.TimeoutSeconds = DefaultTimeoutSeconds
	}

	now := s.clock().UTC()
	q := Queue{
		ID:             uuid.NewString(),
		Name:           req.Name,
		Description:    req.Description,
		Strategy:       req.Strategy,
		Priority:       req.Priority,
		MaxSize:        req.MaxSize,
		TimeoutSeconds: req.TimeoutSeconds,
		RequiredSkills: req.RequiredSkills,
		IsActive:       true,
		Metadata:       req.Metadata,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.Create(ctx, q); err != nil {
		return Queue{}, err
	}
	return q, nil
}

// Enqueue admits a queued call into the queue. Admission is checked and
// committed under the queue lock so a concurrent routing sweep or eviction
// cannot race the capacity check.
func (s *Service) Enqueue(ctx context.Context, callID, queueID, actor string) (calls.Call, error) {
	var admitted calls.Call
	err := s.locker.WithLock(ctx, locks.QueueKey(queueID), func(ctx context.Context) error {
		q, err := s.repo.Get(ctx, queueID)
		if err != nil {
			return err
		}
		if !q.IsActive {
			return domain.Errorf(domain.CodeInvalidState, "queue %s is inactive", queueID)
		}
		n, err := s.calls.CountQueued(ctx, queueID)
		if err != nil {
			return err
		}
		if n >= q.MaxSize {
			return domain.Errorf(domain.CodeQueueFull, "queue %s is full (%d/%d)", queueID, n, q.MaxSize)
		}
		// queue then call, same order as the router's commit
		return s.locker.WithLock(ctx, locks.CallKey(callID), func(ctx context.Context) error {
			admitted, err = s.calls.EnterQueue(ctx, callID, queueID, actor)
			return err
		})
	})
	if err != nil {
		return calls.Call{}, err
	}
	return admitted, nil
}

// ExpiredQueued returns the queue's waiting calls whose time in queue exceeds
// the queue timeout. The dispatcher decides eviction policy (no-answer or
// voicemail overflow) and performs the transitions.
func (s *Service) ExpiredQueued(ctx context.Context, queueID string, now time.Time) (Queue, []calls.Call, error) {
	q, err := s.repo.Get(ctx, queueID)
	if err != nil {
		return Queue{}, nil, err
	}
	waiting, err := s.calls.ListQueued(ctx, queueID)
	if err != nil {
		return Queue{}, nil, err
	}
	cutoff := now.Add(-time.Duration(q.TimeoutSeconds) * time.Second)
	var expired []calls.Call
	for _, c := range waiting {
		enteredAt := c.CreatedAt
		if c.QueuedAt != nil {
			enteredAt = *c.QueuedAt
		}
		if !enteredAt.After(cutoff) {
			expired = append(expired, c)
		}
	}
	return q, expired, nil
}

type UpdateRequest struct {
	Description    *string
	Strategy       *Strategy
	Priority       *int
	MaxSize        *int
	TimeoutSeconds *int
	RequiredSkills []string
	Metadata       map[string]string
}

func (s *Service) Update(ctx context.Context, queueID string, req UpdateRequest) (Queue, error) {
	q, err := s.repo.Get(ctx, queueID)
	if err != nil {
		return Queue{}, err
	}
	if req.Strategy != nil {
		if !ValidStrategy(*req.Strategy) {
			return Queue{}, domain.Errorf(domain.CodeValidation, "unknown routing strategy %q", *req.Strategy)
		}
		q.Strategy = *req.Strategy
	}
	if req.Description != nil {
		q.Description = *req.Description
	}
	if req.Priority != nil {
		q.Priority = *req.Priority
	}
	if req.MaxSize != nil {
		if *req.MaxSize <= 0 {
			return Queue{}, domain.E(domain.CodeValidation, "max_size must be positive")
		}
		q.MaxSize = *req.MaxSize
	}
	if req.TimeoutSeconds != nil {
		if *req.TimeoutSeconds <= 0 {
			return Queue{}, domain.E(domain.CodeValidation, "timeout_seconds must be positive")
		}
		q.TimeoutSeconds = *req.TimeoutSeconds
	}
	if req.RequiredSkills != nil {
		q.RequiredSkills = req.RequiredSkills
	}
	if req.Metadata != nil {
		q.Metadata = req.Metadata
	}
	q.UpdatedAt = s.clock().UTC()
	if err := s.repo.Update(ctx, q); err != nil {
		return Queue{}, err
	}
	return q, nil
}

// Deactivate stops admission and routing for the queue. Calls already
// waiting keep their queue reference and drain through eviction.
func (s *Service) Deactivate(ctx context.Context, queueID string) (Queue, error) {
	return s.setActive(ctx, queueID, false)
}

func (s *Service) Activate(ctx context.Context, queueID string) (Queue, error) {
	return s.setActive(ctx, queueID, true)
}

func (s *Service) setActive(ctx context.Context, queueID string, active bool) (Queue, error) {
	q, err := s.repo.Get(ctx, queueID)
	if err != nil {
		return Queue{}, err
	}
	q.IsActive = active
	q.UpdatedAt = s.clock().UTC()
	if err := s.repo.Update(ctx, q); err != nil {
		return Queue{}, err
	}
	return q, nil
}

func (s *Service) Get(ctx context.Context, queueID string) (Queue, error) {
	return s.repo.Get(ctx, queueID)
}

func (s *Service) ListActive(ctx context.Context) ([]Queue, error) {
	return s.repo.ListActive(ctx)
}

func (s *Service) List(ctx context.Context) ([]Queue, error) {
	return s.repo.List(ctx)
}
