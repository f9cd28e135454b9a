package calls

import (
	"context"
	"time"

	"callcenter-engine/internal/domain"
	"callcenter-engine/internal/events"

	"github.com/google/uuid"
)

// Repository is the persistence contract for calls.
//
// Writes that change status take the lifecycle event(s) describing the change
// and must persist the row and the events atomically (single transaction for
// the Postgres implementation).
//
// Callers are responsible for serialization: every mutation happens under the
// per-call lock (see internal/locks), so implementations never see concurrent
// writes to the same call id.
type Repository interface {
	Create(ctx context.Context, c Call, ev events.Event) error
	Get(ctx context.Context, id string) (Call, error)
	GetByProviderID(ctx context.Context, providerCallID string) (Call, error)
	UpdateWithEvents(ctx context.Context, c Call, evs ...events.Event) error

	// ListQueued returns calls with status=queued in the given queue ordered
	// by ascending queue-entry time.
	ListQueued(ctx context.Context, queueID string) ([]Call, error)
	CountQueued(ctx context.Context, queueID string) (int, error)

	ListByAgent(ctx context.Context, agentID string, statuses ...Status) ([]Call, error)
	CountByAgent(ctx context.Context, agentID string, statuses ...Status) (int, error)

	// ListByPeriod feeds reporting; queueID/agentID filters are optional.
	ListByPeriod(ctx context.Context, from, to time.Time, queueID, agentID string) ([]Call, error)
}

// Service owns the call state machine. It validates transitions and appends
// the immutable history entry for every change; it does not talk to the
// telephony provider or to other entities.
type Service struct {
	repo   Repository
	events *events.Service
	clock  func() time.Time
}

func NewService(repo Repository, ev *events.Service) *Service {
	return &Service{repo: repo, events: ev, clock: time.Now}
}

// WithClock overrides the time source, for deterministic tests.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

type CreateRequest struct {
	Direction      Direction
	From           string
	To             string
	ProviderCallID string
	AccountID      string
	Metadata       map[string]string
	Actor          string
}

// Create registers a new call. Inbound calls start queued (the queue itself is
// attached at admission); outbound dial attempts start ringing.
func (s *Service) Create(ctx context.Context, req CreateRequest) (Call, error) {
	if req.Direction != DirectionInbound && req.Direction != DirectionOutbound {
		return Call{}, domain.Errorf(domain.CodeValidation, "unknown direction %q", req.Direction)
	}
	if !ValidPhoneNumber(req.From) {
		return Call{}, domain.Errorf(domain.CodeValidation, "malformed from number %q", req.From)
	}
	if !ValidPhoneNumber(req.To) {
		return Call{}, domain.Errorf(domain.CodeValidation, "malformed to number %q", req.To)
	}

	now := s.clock().UTC()
	c := Call{
		ID:             uuid.NewString(),
		ProviderCallID: req.ProviderCallID,
		AccountID:      req.AccountID,
		Direction:      req.Direction,
		From:           req.From,
		To:             req.To,
		Metadata:       req.Metadata,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if req.Direction == DirectionInbound {
		c.Status = StatusQueued
		queuedAt := now
		c.QueuedAt = &queuedAt
	} else {
		c.Status = StatusRinging
	}

	ev := s.events.Stamp(events.Event{
		CallID:   c.ID,
		Type:     events.TypeCallInitiated,
		ToStatus: string(c.Status),
		Actor:    req.Actor,
	})
	if err := s.repo.Create(ctx, c, ev); err != nil {
		return Call{}, err
	}
	return c, nil
}

// ApplyEvent drives the state machine with a normalized telephony event.
//
// It is idempotent under at-least-once delivery: unknown events, duplicates,
// and events whose transition is not legal from the current status (terminal
// or stale out-of-order) are ignored, returning changed=false and no error.
func (s *Service) ApplyEvent(ctx context.Context, callID string, ev Event, actor string, data map[string]string) (Call, bool, error) {
	c, err := s.repo.Get(ctx, callID)
	if err != nil {
		return Call{}, false, err
	}

	target, known := ev.TargetStatus()
	if !known {
		return c, false, nil
	}
	if c.Status == target || c.Status.Terminal() || !CanTransition(c.Status, target) {
		return c, false, nil
	}

	now := s.clock().UTC()
	from := c.Status
	c.Status = target
	c.UpdatedAt = now

	switch target {
	case StatusQueued:
		queuedAt := now
		c.QueuedAt = &queuedAt
	case StatusInProgress:
		answeredAt := now
		c.AnsweredAt = &answeredAt
		if c.QueuedAt != nil {
			c.QueueSeconds += int(now.Sub(*c.QueuedAt).Seconds())
		}
	default:
		if target.Terminal() {
			endedAt := now
			c.EndedAt = &endedAt
			if c.AnsweredAt != nil {
				c.DurationSeconds += int(now.Sub(*c.AnsweredAt).Seconds())
			} else if c.QueuedAt != nil {
				c.QueueSeconds += int(now.Sub(*c.QueuedAt).Seconds())
			}
		}
	}

	log := s.events.Stamp(events.Event{
		CallID:     c.ID,
		AgentID:    c.AgentID,
		QueueID:    c.QueueID,
		Type:       eventLogType(target),
		FromStatus: string(from),
		ToStatus:   string(target),
		Actor:      actor,
		Data:       data,
	})
	if err := s.repo.UpdateWithEvents(ctx, c, log); err != nil {
		return Call{}, false, err
	}
	return c, true, nil
}

func eventLogType(target Status) events.Type {
	switch target {
	case StatusQueued:
		return events.TypeCallQueued
	case StatusRinging:
		return events.TypeCallRinging
	case StatusInProgress:
		return events.TypeCallAnswered
	case StatusCompleted:
		return events.TypeCallCompleted
	default:
		return events.TypeCallFailed
	}
}

// AssignAgent binds an agent to the call. A call that already has a different
// agent and is not terminal refuses with a conflict; re-assigning the same
// agent is a no-op.
func (s *Service) AssignAgent(ctx context.Context, callID, agentID, actor string) (Call, error) {
	c, err := s.repo.Get(ctx, callID)
	if err != nil {
		return Call{}, err
	}
	if c.AgentID == agentID {
		return c, nil
	}
	if c.AgentID != "" && !c.Status.Terminal() {
		return Call{}, domain.Errorf(domain.CodeConflict, "call %s already assigned to agent %s", callID, c.AgentID)
	}

	now := s.clock().UTC()
	c.AgentID = agentID
	c.UpdatedAt = now

	ev := s.events.Stamp(events.Event{
		CallID:  c.ID,
		AgentID: agentID,
		QueueID: c.QueueID,
		Type:    events.TypeCallAssigned,
		Actor:   actor,
	})
	if err := s.repo.UpdateWithEvents(ctx, c, ev); err != nil {
		return Call{}, err
	}
	return c, nil
}

// AssignAndRing is the routing commit: agent binding plus the queued→ringing
// transition, written atomically. The caller holds both entity locks and has
// re-validated availability.
func (s *Service) AssignAndRing(ctx context.Context, callID, agentID, actor string) (Call, error) {
	c, err := s.repo.Get(ctx, callID)
	if err != nil {
		return Call{}, err
	}
	if c.Status != StatusQueued {
		return Call{}, domain.Errorf(domain.CodeConflict, "call %s no longer queued (status %s)", callID, c.Status)
	}
	if c.AgentID != "" && c.AgentID != agentID {
		return Call{}, domain.Errorf(domain.CodeConflict, "call %s already assigned to agent %s", callID, c.AgentID)
	}

	now := s.clock().UTC()
	c.AgentID = agentID
	c.Status = StatusRinging
	c.UpdatedAt = now

	ev := s.events.Stamp(events.Event{
		CallID:     c.ID,
		AgentID:    agentID,
		QueueID:    c.QueueID,
		Type:       events.TypeCallRinging,
		FromStatus: string(StatusQueued),
		ToStatus:   string(StatusRinging),
		Actor:      actor,
	})
	if err := s.repo.UpdateWithEvents(ctx, c, ev); err != nil {
		return Call{}, err
	}
	return c, nil
}

// RevertAssignment restores the pre-routing state after a failed gateway
// bridge, inside the same locked scope that committed it. The call returns to
// the queue without losing its original queue-entry time.
func (s *Service) RevertAssignment(ctx context.Context, callID, reason string) (Call, error) {
	c, err := s.repo.Get(ctx, callID)
	if err != nil {
		return Call{}, err
	}
	now := s.clock().UTC()
	from := c.Status
	c.AgentID = ""
	c.Status = StatusQueued
	c.UpdatedAt = now

	ev := s.events.Stamp(events.Event{
		CallID:     c.ID,
		QueueID:    c.QueueID,
		Type:       events.TypeCallRoutingReverted,
		FromStatus: string(from),
		ToStatus:   string(StatusQueued),
		Actor:      "system",
		Reason:     reason,
	})
	if err := s.repo.UpdateWithEvents(ctx, c, ev); err != nil {
		return Call{}, err
	}
	return c, nil
}

// EnterQueue attaches the call to a queue. Admission control (capacity) is the
// queue's concern; this only records membership and the queue-entry time.
func (s *Service) EnterQueue(ctx context.Context, callID, queueID, actor string) (Call, error) {
	c, err := s.repo.Get(ctx, callID)
	if err != nil {
		return Call{}, err
	}
	if c.Status != StatusQueued {
		return Call{}, domain.Errorf(domain.CodeInvalidState, "call %s is %s, cannot enter a queue", callID, c.Status)
	}

	now := s.clock().UTC()
	c.QueueID = queueID
	if c.QueuedAt == nil {
		c.QueuedAt = &now
	}
	c.UpdatedAt = now

	ev := s.events.Stamp(events.Event{
		CallID:   c.ID,
		QueueID:  queueID,
		Type:     events.TypeCallQueued,
		ToStatus: string(StatusQueued),
		Actor:    actor,
	})
	if err := s.repo.UpdateWithEvents(ctx, c, ev); err != nil {
		return Call{}, err
	}
	return c, nil
}

// Hold marks an in-progress call as held.
func (s *Service) Hold(ctx context.Context, callID, actor string) (Call, error) {
	return s.markControl(ctx, callID, actor, events.TypeCallHold, "true")
}

// Resume clears the hold marker on an in-progress call.
func (s *Service) Resume(ctx context.Context, callID, actor string) (Call, error) {
	return s.markControl(ctx, callID, actor, events.TypeCallUnhold, "")
}

func (s *Service) markControl(ctx context.Context, callID, actor string, typ events.Type, onHold string) (Call, error) {
	c, err := s.repo.Get(ctx, callID)
	if err != nil {
		return Call{}, err
	}
	if c.Status != StatusInProgress {
		return Call{}, domain.Errorf(domain.CodeInvalidState, "call %s is %s, not in progress", callID, c.Status)
	}
	if c.Metadata == nil {
		c.Metadata = map[string]string{}
	}
	if onHold == "" {
		delete(c.Metadata, "on_hold")
	} else {
		c.Metadata["on_hold"] = onHold
	}
	c.UpdatedAt = s.clock().UTC()

	ev := s.events.Stamp(events.Event{
		CallID:  c.ID,
		AgentID: c.AgentID,
		Type:    typ,
		Actor:   actor,
	})
	if err := s.repo.UpdateWithEvents(ctx, c, ev); err != nil {
		return Call{}, err
	}
	return c, nil
}

// Transfer reassigns an in-progress call to another agent.
func (s *Service) Transfer(ctx context.Context, callID, toAgentID, actor string) (Call, error) {
	c, err := s.repo.Get(ctx, callID)
	if err != nil {
		return Call{}, err
	}
	if c.Status != StatusInProgress {
		return Call{}, domain.Errorf(domain.CodeInvalidState, "call %s is %s, not in progress", callID, c.Status)
	}

	fromAgent := c.AgentID
	c.AgentID = toAgentID
	c.UpdatedAt = s.clock().UTC()

	ev := s.events.Stamp(events.Event{
		CallID:  c.ID,
		AgentID: toAgentID,
		Type:    events.TypeCallTransfer,
		Actor:   actor,
		Data:    map[string]string{"from_agent": fromAgent, "to_agent": toAgentID},
	})
	if err := s.repo.UpdateWithEvents(ctx, c, ev); err != nil {
		return Call{}, err
	}
	return c, nil
}

// Annotate attaches recording/transcription links. This is the only mutation
// allowed on a terminal call.
func (s *Service) Annotate(ctx context.Context, callID, recordingURL, transcription, actor string) (Call, error) {
	c, err := s.repo.Get(ctx, callID)
	if err != nil {
		return Call{}, err
	}
	if recordingURL != "" {
		c.RecordingURL = recordingURL
	}
	if transcription != "" {
		c.Transcription = transcription
	}
	c.UpdatedAt = s.clock().UTC()

	ev := s.events.Stamp(events.Event{
		CallID: c.ID,
		Type:   events.TypeCallAnnotated,
		Actor:  actor,
	})
	if err := s.repo.UpdateWithEvents(ctx, c, ev); err != nil {
		return Call{}, err
	}
	return c, nil
}

func (s *Service) Get(ctx context.Context, callID string) (Call, error) {
	return s.repo.Get(ctx, callID)
}

func (s *Service) GetByProviderID(ctx context.Context, providerCallID string) (Call, error) {
	return s.repo.GetByProviderID(ctx, providerCallID)
}

// ListQueued returns the queue's waiting calls, oldest entry first.
func (s *Service) ListQueued(ctx context.Context, queueID string) ([]Call, error) {
	return s.repo.ListQueued(ctx, queueID)
}

func (s *Service) CountQueued(ctx context.Context, queueID string) (int, error) {
	return s.repo.CountQueued(ctx, queueID)
}

func (s *Service) ListByAgent(ctx context.Context, agentID string, statuses ...Status) ([]Call, error) {
	return s.repo.ListByAgent(ctx, agentID, statuses...)
}

func (s *Service) ListByPeriod(ctx context.Context, from, to time.Time, queueID, agentID string) ([]Call, error) {
	return s.repo.ListByPeriod(ctx, from, to, queueID, agentID)
}

// ActiveCalls reports the agent's in-progress and ringing call counts. It
// backs agent availability checks.
func (s *Service) ActiveCalls(ctx context.Context, agentID string) (inProgress, ringing int, err error) {
	inProgress, err = s.repo.CountByAgent(ctx, agentID, StatusInProgress)
	if err != nil {
		return 0, 0, err
	}
	ringing, err = s.repo.CountByAgent(ctx, agentID, StatusRinging)
	if err != nil {
		return 0, 0, err
	}
	return inProgress, ringing, nil
}

// History returns the call's immutable event log, oldest first.
func (s *Service) History(ctx context.Context, callID string) ([]events.Event, error) {
	return s.events.CallHistory(ctx, callID)
}
