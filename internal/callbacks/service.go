package callbacks

import (
	"context"
	"time"

	"callcenter-engine/internal/calls"
	"callcenter-engine/internal/domain"
	"callcenter-engine/internal/locks"

	"github.com/google/uuid"
)

// Repository is the persistence contract for callback requests.
type Repository interface {
	Create(ctx context.Context, cb CallbackRequest) error
	Get(ctx context.Context, id string) (CallbackRequest, error)
	Update(ctx context.Context, cb CallbackRequest) error

	// ActiveByPhone returns pending/due requests for the number, optionally
	// scoped to one queue.
	ActiveByPhone(ctx context.Context, phoneNumber, queueID string) ([]CallbackRequest, error)

	// ListPendingDue returns pending requests with preferred_time <= now,
	// highest priority first, then oldest preferred time.
	ListPendingDue(ctx context.Context, now time.Time) ([]CallbackRequest, error)

	// MarkDue flips one pending request to due. Reports false without error
	// when the request is no longer pending, so concurrent scanners claim
	// each request at most once.
	MarkDue(ctx context.Context, id string, now time.Time) (bool, error)

	ListByQueue(ctx context.Context, queueID string) ([]CallbackRequest, error)
}

// Service owns callback scheduling.
type Service struct {
	repo   Repository
	locker locks.Locker
	clock  func() time.Time
}

func NewService(repo Repository, locker locks.Locker) *Service {
	return &Service{repo: repo, locker: locker, clock: time.Now}
}

func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

type Request struct {
	CallID        string
	QueueID       string
	PhoneNumber   string
	PreferredTime time.Time
	Notes         string
	Priority      int
}

// RequestCallback stores a callback wish. At most one active request per
// phone number per queue; the check and the insert run under a per
// phone+queue lock so concurrent requests cannot both pass the guard.
func (s *Service) RequestCallback(ctx context.Context, req Request) (CallbackRequest, error) {
	if !calls.ValidPhoneNumber(req.PhoneNumber) {
		return CallbackRequest{}, domain.Errorf(domain.CodeValidation, "malformed phone number %q", req.PhoneNumber)
	}
	if req.QueueID == "" {
		return CallbackRequest{}, domain.E(domain.CodeValidation, "queue id is required")
	}

	var cb CallbackRequest
	err := s.locker.WithLock(ctx, locks.CallbackKey(req.PhoneNumber, req.QueueID), func(ctx context.Context) error {
		active, err := s.repo.ActiveByPhone(ctx, req.PhoneNumber, req.QueueID)
		if err != nil {
			return err
		}
		if len(active) > 0 {
			return domain.Errorf(domain.CodeDuplicateCallback,
				"active callback already exists for %s in queue %s", req.PhoneNumber, req.QueueID)
		}

		now := s.clock().UTC()
		preferred := req.PreferredTime
		if preferred.IsZero() {
			preferred = now
		}
		cb = CallbackRequest{
			ID:            uuid.NewString(),
			CallID:        req.CallID,
			QueueID:       req.QueueID,
			PhoneNumber:   req.PhoneNumber,
			PreferredTime: preferred.UTC(),
			Notes:         req.Notes,
			Priority:      req.Priority,
			Status:        StatusPending,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		return s.repo.Create(ctx, cb)
	})
	if err != nil {
		return CallbackRequest{}, err
	}
	return cb, nil
}

// Due returns every pending request whose preferred time has passed, flipping
// each to due as it is handed over. A request is yielded at most once across
// all Due calls; the caller places the outbound call.
func (s *Service) Due(ctx context.Context, now time.Time) ([]CallbackRequest, error) {
	pending, err := s.repo.ListPendingDue(ctx, now)
	if err != nil {
		return nil, err
	}
	var out []CallbackRequest
	for _, cb := range pending {
		flipped := s.clock().UTC()
		claimed, err := s.repo.MarkDue(ctx, cb.ID, flipped)
		if err != nil {
			return out, err
		}
		if !claimed {
			// another scanner got there first
			continue
		}
		cb.Status = StatusDue
		cb.UpdatedAt = flipped
		out = append(out, cb)
	}
	return out, nil
}

// Cancel cancels all active callbacks for the number. Reports whether any
// request was canceled.
func (s *Service) Cancel(ctx context.Context, phoneNumber string) (bool, error) {
	active, err := s.repo.ActiveByPhone(ctx, phoneNumber, "")
	if err != nil {
		return false, err
	}
	for _, cb := range active {
		cb.Status = StatusCanceled
		cb.UpdatedAt = s.clock().UTC()
		if err := s.repo.Update(ctx, cb); err != nil {
			return false, err
		}
	}
	return len(active) > 0, nil
}

// Complete marks a due request fulfilled and links the outbound call that
// served it.
func (s *Service) Complete(ctx context.Context, id, placedCallID string) (CallbackRequest, error) {
	cb, err := s.repo.Get(ctx, id)
	if err != nil {
		return CallbackRequest{}, err
	}
	if cb.Status != StatusDue {
		return CallbackRequest{}, domain.Errorf(domain.CodeInvalidState, "callback %s is %s, not due", id, cb.Status)
	}
	now := s.clock().UTC()
	cb.Status = StatusCompleted
	cb.PlacedCallID = placedCallID
	cb.CompletedAt = &now
	cb.UpdatedAt = now
	if err := s.repo.Update(ctx, cb); err != nil {
		return CallbackRequest{}, err
	}
	return cb, nil
}

// Fail records a failed placement attempt for a due request. The request goes
// back to pending for the next scan until MaxAttempts is reached, then it is
// canceled.
func (s *Service) Fail(ctx context.Context, id string) (CallbackRequest, error) {
	cb, err := s.repo.Get(ctx, id)
	if err != nil {
		return CallbackRequest{}, err
	}
	if cb.Status != StatusDue {
		return CallbackRequest{}, domain.Errorf(domain.CodeInvalidState, "callback %s is %s, not due", id, cb.Status)
	}
	cb.Attempts++
	if cb.Attempts >= MaxAttempts {
		cb.Status = StatusCanceled
	} else {
		cb.Status = StatusPending
	}
	cb.UpdatedAt = s.clock().UTC()
	if err := s.repo.Update(ctx, cb); err != nil {
		return CallbackRequest{}, err
	}
	return cb, nil
}

// Stats counts the queue's callbacks by status.
func (s *Service) Stats(ctx context.Context, queueID string) (map[Status]int, error) {
	list, err := s.repo.ListByQueue(ctx, queueID)
	if err != nil {
		return nil, err
	}
	out := make(map[Status]int, 4)
	for _, cb := range list {
		out[cb.Status]++
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, id string) (CallbackRequest, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) ListByQueue(ctx context.Context, queueID string) ([]CallbackRequest, error) {
	return s.repo.ListByQueue(ctx, queueID)
}
