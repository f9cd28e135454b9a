package agents

import (
	"context"
	"time"

	"callcenter-engine/internal/domain"
	"callcenter-engine/internal/events"

	"github.com/google/uuid"
)

// Repository is the persistence contract for agents. Like the calls
// repository, status-changing writes carry their lifecycle events and persist
// both atomically; callers serialize per agent id via internal/locks.
type Repository interface {
	Create(ctx context.Context, a Agent, ev events.Event) error
	Get(ctx context.Context, id string) (Agent, error)
	GetByUserID(ctx context.Context, userID string) (Agent, error)
	UpdateWithEvents(ctx context.Context, a Agent, evs ...events.Event) error

	// ListByQueue returns active members of the queue ordered by ascending
	// last_status_change.
	ListByQueue(ctx context.Context, queueID string) ([]Agent, error)
	List(ctx context.Context) ([]Agent, error)
}

// CallCounter reports the agent's current active (ringing or in-progress)
// call count. The dispatcher wires the calls repository in behind this.
type CallCounter interface {
	ActiveCalls(ctx context.Context, agentID string) (inProgress, ringing int, err error)
}

// Service owns the agent state machine.
type Service struct {
	repo   Repository
	events *events.Service
	counts CallCounter
	clock  func() time.Time
}

func NewService(repo Repository, ev *events.Service, counts CallCounter) *Service {
	return &Service{repo: repo, events: ev, counts: counts, clock: time.Now}
}

func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

type CreateRequest struct {
	UserID             string
	Name               string
	Extension          string
	PhoneNumber        string
	Skills             []string
	QueueIDs           []string
	MaxConcurrentCalls int
	Metadata           map[string]string
}

// Create registers an agent. New agents start offline and active.
func (s *Service) Create(ctx context.Context, req CreateRequest) (Agent, error) {
	if req.UserID == "" {
		return Agent{}, domain.E(domain.CodeValidation, "user id is required")
	}
	if req.Extension == "" {
		return Agent{}, domain.E(domain.CodeValidation, "extension is required")
	}
	if req.MaxConcurrentCalls < 0 {
		return Agent{}, domain.E(domain.CodeValidation, "max_concurrent_calls must not be negative")
	}
	maxCalls := req.MaxConcurrentCalls
	if maxCalls == 0 {
		maxCalls = 1
	}

	now := s.clock().UTC()
	a := Agent{
		ID:                 uuid.NewString(),
		UserID:             req.UserID,
		Name:               req.Name,
		Extension:          req.Extension,
		PhoneNumber:        req.PhoneNumber,
		Status:             StatusOffline,
		IsActive:           true,
		Skills:             req.Skills,
		QueueIDs:           req.QueueIDs,
		MaxConcurrentCalls: maxCalls,
		LastStatusChange:   now,
		Metadata:           req.Metadata,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	ev := s.events.Stamp(events.Event{
		AgentID:  a.ID,
		Type:     events.TypeAgentStatusChange,
		ToStatus: string(StatusOffline),
		Actor:    req.UserID,
		Reason:   "created",
	})
	if err := s.repo.Create(ctx, a, ev); err != nil {
		return Agent{}, err
	}
	return a, nil
}

// Login brings the agent online. The daily counters reset on the first
// login of a calendar day; a mid-shift re-login keeps them.
func (s *Service) Login(ctx context.Context, agentID string) (Agent, error) {
	a, err := s.repo.Get(ctx, agentID)
	if err != nil {
		return Agent{}, err
	}
	if !a.IsActive {
		return Agent{}, domain.Errorf(domain.CodeInvalidState, "agent %s is deactivated", agentID)
	}
	if a.Status != StatusOffline {
		return Agent{}, domain.Errorf(domain.CodeInvalidTransition, "agent %s is already %s", agentID, a.Status)
	}

	now := s.clock().UTC()
	from := a.Status
	a.Status = StatusAvailable
	if a.LastLoginAt == nil || !sameDay(*a.LastLoginAt, now) {
		a.CallsHandledToday = 0
		a.TalkSecondsToday = 0
	}
	a.LastLoginAt = &now
	a.LastStatusChange = now
	a.UpdatedAt = now

	ev := s.events.Stamp(events.Event{
		AgentID:    a.ID,
		Type:       events.TypeAgentLogin,
		FromStatus: string(from),
		ToStatus:   string(StatusAvailable),
		Actor:      a.UserID,
	})
	if err := s.repo.UpdateWithEvents(ctx, a, ev); err != nil {
		return Agent{}, err
	}
	return a, nil
}

// Logout takes the agent offline. Refused while the agent still has an
// in-progress or ringing call.
func (s *Service) Logout(ctx context.Context, agentID string) (Agent, error) {
	a, err := s.repo.Get(ctx, agentID)
	if err != nil {
		return Agent{}, err
	}
	if a.Status == StatusOffline {
		return a, nil
	}
	inProgress, ringing, err := s.counts.ActiveCalls(ctx, agentID)
	if err != nil {
		return Agent{}, err
	}
	if inProgress+ringing > 0 {
		return Agent{}, domain.Errorf(domain.CodeAgentBusy, "agent %s has %d active call(s)", agentID, inProgress+ringing)
	}
	return s.commitStatus(ctx, a, StatusOffline, events.TypeAgentLogout, a.UserID, "")
}

// SetStatus applies one transition from the allow-list. Going on break or
// into after-call work is refused while a call is in progress; going offline
// goes through Logout's stricter guard.
func (s *Service) SetStatus(ctx context.Context, agentID string, target Status, actor, reason string) (Agent, error) {
	if !ValidStatus(target) {
		return Agent{}, domain.Errorf(domain.CodeValidation, "unknown status %q", target)
	}
	if target == StatusOffline {
		return s.Logout(ctx, agentID)
	}

	a, err := s.repo.Get(ctx, agentID)
	if err != nil {
		return Agent{}, err
	}
	if !CanTransition(a.Status, target) {
		return Agent{}, domain.Errorf(domain.CodeInvalidTransition, "agent %s cannot go %s from %s", agentID, target, a.Status)
	}
	if target == StatusOnBreak || target == StatusAfterCallWork {
		inProgress, _, err := s.counts.ActiveCalls(ctx, agentID)
		if err != nil {
			return Agent{}, err
		}
		if inProgress > 0 {
			return Agent{}, domain.Errorf(domain.CodeAgentBusy, "agent %s has a call in progress", agentID)
		}
	}

	typ := events.TypeAgentStatusChange
	switch {
	case target == StatusOnBreak:
		typ = events.TypeAgentBreakStart
	case a.Status == StatusOnBreak && target == StatusAvailable:
		typ = events.TypeAgentBreakEnd
	}
	return s.commitStatus(ctx, a, target, typ, actor, reason)
}

// StartBreak and EndBreak are the break shortcuts over SetStatus.
func (s *Service) StartBreak(ctx context.Context, agentID, actor string) (Agent, error) {
	return s.SetStatus(ctx, agentID, StatusOnBreak, actor, "break")
}

func (s *Service) EndBreak(ctx context.Context, agentID, actor string) (Agent, error) {
	return s.SetStatus(ctx, agentID, StatusAvailable, actor, "break ended")
}

func (s *Service) commitStatus(ctx context.Context, a Agent, target Status, typ events.Type, actor, reason string) (Agent, error) {
	now := s.clock().UTC()
	from := a.Status
	a.Status = target
	a.LastStatusChange = now
	a.UpdatedAt = now

	ev := s.events.Stamp(events.Event{
		AgentID:    a.ID,
		Type:       typ,
		FromStatus: string(from),
		ToStatus:   string(target),
		Actor:      actor,
		Reason:     reason,
	})
	if err := s.repo.UpdateWithEvents(ctx, a, ev); err != nil {
		return Agent{}, err
	}
	return a, nil
}

// UpdateSkills replaces the agent's skill tags.
func (s *Service) UpdateSkills(ctx context.Context, agentID string, skills []string, actor string) (Agent, error) {
	a, err := s.repo.Get(ctx, agentID)
	if err != nil {
		return Agent{}, err
	}
	a.Skills = skills
	a.UpdatedAt = s.clock().UTC()

	ev := s.events.Stamp(events.Event{
		AgentID: a.ID,
		Type:    events.TypeAgentSkillUpdate,
		Actor:   actor,
	})
	if err := s.repo.UpdateWithEvents(ctx, a, ev); err != nil {
		return Agent{}, err
	}
	return a, nil
}

// SetQueues replaces queue membership.
func (s *Service) SetQueues(ctx context.Context, agentID string, queueIDs []string, actor string) (Agent, error) {
	a, err := s.repo.Get(ctx, agentID)
	if err != nil {
		return Agent{}, err
	}
	a.QueueIDs = queueIDs
	a.UpdatedAt = s.clock().UTC()
	if err := s.repo.UpdateWithEvents(ctx, a); err != nil {
		return Agent{}, err
	}
	return a, nil
}

// Deactivate removes the agent from service without deleting history. A
// deactivated agent never routes.
func (s *Service) Deactivate(ctx context.Context, agentID, actor string) (Agent, error) {
	a, err := s.repo.Get(ctx, agentID)
	if err != nil {
		return Agent{}, err
	}
	a.IsActive = false
	if a.Status != StatusOffline {
		return s.commitStatusInactive(ctx, a, actor)
	}
	a.UpdatedAt = s.clock().UTC()
	if err := s.repo.UpdateWithEvents(ctx, a); err != nil {
		return Agent{}, err
	}
	return a, nil
}

func (s *Service) commitStatusInactive(ctx context.Context, a Agent, actor string) (Agent, error) {
	return s.commitStatus(ctx, a, StatusOffline, events.TypeAgentLogout, actor, "deactivated")
}

func (s *Service) Activate(ctx context.Context, agentID string) (Agent, error) {
	a, err := s.repo.Get(ctx, agentID)
	if err != nil {
		return Agent{}, err
	}
	a.IsActive = true
	a.UpdatedAt = s.clock().UTC()
	if err := s.repo.UpdateWithEvents(ctx, a); err != nil {
		return Agent{}, err
	}
	return a, nil
}

// RecordHandled bumps the daily handled counter and accumulated talk time
// after a completed call.
func (s *Service) RecordHandled(ctx context.Context, agentID string, talkSeconds int) (Agent, error) {
	a, err := s.repo.Get(ctx, agentID)
	if err != nil {
		return Agent{}, err
	}
	a.CallsHandledToday++
	a.TalkSecondsToday += talkSeconds
	a.UpdatedAt = s.clock().UTC()
	if err := s.repo.UpdateWithEvents(ctx, a); err != nil {
		return Agent{}, err
	}
	return a, nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// Candidate is a routable agent with its active-call count at read time.
type Candidate struct {
	Agent       Agent
	ActiveCalls int
}

// AvailableForQueue returns the queue's routable agents ordered by ascending
// last_status_change. The result is advisory; the router re-validates under
// the agent lock before committing a pairing.
func (s *Service) AvailableForQueue(ctx context.Context, queueID string, requiredSkills []string) ([]Candidate, error) {
	members, err := s.repo.ListByQueue(ctx, queueID)
	if err != nil {
		return nil, err
	}
	var out []Candidate
	for _, a := range members {
		if !a.HasSkills(requiredSkills) {
			continue
		}
		inProgress, ringing, err := s.counts.ActiveCalls(ctx, a.ID)
		if err != nil {
			return nil, err
		}
		active := inProgress + ringing
		if a.Available(active) {
			out = append(out, Candidate{Agent: a, ActiveCalls: active})
		}
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, agentID string) (Agent, error) {
	return s.repo.Get(ctx, agentID)
}

func (s *Service) GetByUserID(ctx context.Context, userID string) (Agent, error) {
	return s.repo.GetByUserID(ctx, userID)
}

func (s *Service) List(ctx context.Context) ([]Agent, error) {
	return s.repo.List(ctx)
}

// Activity returns the agent's status-change log for the period. Status
// durations are integrated from consecutive entries by the reporting layer.
func (s *Service) Activity(ctx context.Context, agentID string, from, to time.Time) ([]events.Event, error) {
	return s.events.AgentActivity(ctx, agentID, from, to)
}
