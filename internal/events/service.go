package events

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for lifecycle events.
//
// It MUST be append-only. There are no Update/Delete methods.
type Repository interface {
	Append(ctx context.Context, e Event) error
	ListByCall(ctx context.Context, callID string) ([]Event, error)
	ListByAgent(ctx context.Context, agentID string, from, to time.Time) ([]Event, error)
}

var ErrInvalidEvent = errors.New("events: invalid event")

// Service stamps and appends lifecycle events.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("events: repository not configured")
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}
	if e.CallID == "" && e.AgentID == "" {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// Stamp fills the generated fields without writing, for callers that append
// the event inside a larger entity transaction.
func (s *Service) Stamp(e Event) Event {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return e
}

func (s *Service) CallHistory(ctx context.Context, callID string) ([]Event, error) {
	if s.repo == nil {
		return nil, errors.New("events: repository not configured")
	}
	return s.repo.ListByCall(ctx, callID)
}

func (s *Service) AgentActivity(ctx context.Context, agentID string, from, to time.Time) ([]Event, error) {
	if s.repo == nil {
		return nil, errors.New("events: repository not configured")
	}
	return s.repo.ListByAgent(ctx, agentID, from, to)
}
