package calls

import (
	"regexp"
	"time"
)

// Call represents one telephony session from creation to a terminal status.
//
// A call holds references (not ownership) to its agent and queue; deactivating
// either nulls the reference, it never cascades into the call.
//
// Terminal calls are immutable except for post-hoc annotation (recording URL,
// transcription).

type Call struct {
	ID string `json:"id" db:"id"`

	// ProviderCallID is the carrier's session identifier (e.g. Twilio CallSid).
	ProviderCallID string `json:"provider_call_id" db:"provider_call_id"`
	AccountID      string `json:"account_id,omitempty" db:"account_id"`

	Direction Direction `json:"direction" db:"direction"`
	Status    Status    `json:"status" db:"status"`

	From string `json:"from" db:"from_number"`
	To   string `json:"to" db:"to_number"`

	AgentID string `json:"agent_id,omitempty" db:"agent_id"`
	QueueID string `json:"queue_id,omitempty" db:"queue_id"`

	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	QueuedAt   *time.Time `json:"queued_at,omitempty" db:"queued_at"`
	AnsweredAt *time.Time `json:"answered_at,omitempty" db:"answered_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty" db:"ended_at"`

	// QueueSeconds is the accumulated wait; DurationSeconds the accumulated
	// talk time.
	QueueSeconds    int `json:"queue_seconds" db:"queue_seconds"`
	DurationSeconds int `json:"duration_seconds" db:"duration_seconds"`

	RecordingURL  string `json:"recording_url,omitempty" db:"recording_url"`
	Transcription string `json:"transcription,omitempty" db:"transcription"`

	Metadata map[string]string `json:"metadata,omitempty" db:"metadata"`

	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusRinging    Status = "ringing"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusBusy       Status = "busy"
	StatusNoAnswer   Status = "no_answer"
	StatusCanceled   Status = "canceled"
)

// Terminal reports whether the status ends the call lifecycle.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusBusy, StatusNoAnswer, StatusCanceled:
		return true
	}
	return false
}

// transitions is the strict allow-list. No wildcard edges: anything missing
// here is illegal, including every edge out of a terminal status.
var transitions = map[Status][]Status{
	StatusQueued:     {StatusRinging, StatusFailed, StatusBusy, StatusNoAnswer, StatusCanceled},
	StatusRinging:    {StatusInProgress, StatusFailed, StatusBusy, StatusNoAnswer, StatusCanceled},
	StatusInProgress: {StatusCompleted},
}

// CanTransition reports whether from → to is a legal edge.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Event is a normalized telephony event applied against a call. The dispatcher
// maps provider status strings onto these one-to-one.
type Event string

const (
	EventQueued    Event = "queued"
	EventRinging   Event = "ringing"
	EventAnswered  Event = "answered"
	EventCompleted Event = "completed"
	EventBusy      Event = "busy"
	EventNoAnswer  Event = "no_answer"
	EventFailed    Event = "failed"
	EventCanceled  Event = "canceled"
)

// TargetStatus maps an event to the status it drives the call toward.
func (e Event) TargetStatus() (Status, bool) {
	switch e {
	case EventQueued:
		return StatusQueued, true
	case EventRinging:
		return StatusRinging, true
	case EventAnswered:
		return StatusInProgress, true
	case EventCompleted:
		return StatusCompleted, true
	case EventBusy:
		return StatusBusy, true
	case EventNoAnswer:
		return StatusNoAnswer, true
	case EventFailed:
		return StatusFailed, true
	case EventCanceled:
		return StatusCanceled, true
	}
	return "", false
}

// phonePattern matches E.164-ish numbers up to 15 digits.
var phonePattern = regexp.MustCompile(`^\+?1?\d{9,15}$`)

// ValidPhoneNumber reports whether s is an acceptable dialable number.
func ValidPhoneNumber(s string) bool {
	return phonePattern.MatchString(s)
}
