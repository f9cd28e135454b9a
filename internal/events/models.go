package events

import "time"

// Event is an immutable, append-only lifecycle log record for a call or an
// agent.
//
// Invariants:
// - Events are never updated or deleted.
// - Status durations and occupancy are derived by integrating time between
//   consecutive events; durations are never stored here directly.
// - Events are written in the same transaction as the entity row they
//   describe, so the log and the entity can never disagree.

type Event struct {
	ID string `json:"id" db:"id"`

	// Exactly one of CallID/AgentID is usually set; transfer and assignment
	// events carry both.
	CallID  string `json:"call_id,omitempty" db:"call_id"`
	AgentID string `json:"agent_id,omitempty" db:"agent_id"`
	QueueID string `json:"queue_id,omitempty" db:"queue_id"`

	Type Type `json:"type" db:"type"`

	// FromStatus/ToStatus are the entity statuses around a transition event;
	// empty for non-transition events (dtmf, recording markers).
	FromStatus string `json:"from_status,omitempty" db:"from_status"`
	ToStatus   string `json:"to_status,omitempty" db:"to_status"`

	// Actor identifies who caused the event: a user id, "webhook", or
	// "system" for timer-driven transitions.
	Actor string `json:"actor,omitempty" db:"actor"`

	Reason string `json:"reason,omitempty" db:"reason"`

	// Data holds event-specific details (transfer target, provider error
	// code, break type).
	Data map[string]string `json:"data,omitempty" db:"data"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type Type string

// Call lifecycle events.
const (
	TypeCallInitiated Type = "initiated"
	TypeCallQueued    Type = "queued"
	TypeCallRinging   Type = "ringing"
	TypeCallAnswered  Type = "answered"
	TypeCallHold      Type = "hold"
	TypeCallUnhold    Type = "unhold"
	TypeCallTransfer  Type = "transfer"
	TypeCallCompleted Type = "completed"
	TypeCallFailed    Type = "failed"
	TypeCallEvicted   Type = "evicted"
	TypeCallVoicemail Type = "voicemail"
	TypeCallAssigned  Type = "assigned"
	TypeCallAnnotated Type = "annotated"

	// TypeCallRoutingReverted marks a pairing rolled back after a failed
	// gateway bridge; the call returns to its queue.
	TypeCallRoutingReverted Type = "routing_reverted"
)

// Agent lifecycle events.
const (
	TypeAgentLogin        Type = "login"
	TypeAgentLogout       Type = "logout"
	TypeAgentStatusChange Type = "status_change"
	TypeAgentBreakStart   Type = "break_start"
	TypeAgentBreakEnd     Type = "break_end"
	TypeAgentSkillUpdate  Type = "skill_update"
)
