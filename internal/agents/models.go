package agents

import "time"

// Agent represents one human operator. QueueIDs is membership (which queues
// the agent serves); Skills feed skills-based routing.
type Agent struct {
	ID                 string            `json:"id" db:"id"`
	UserID             string            `json:"user_id" db:"user_id"`
	Name               string            `json:"name" db:"name"`
	Extension          string            `json:"extension" db:"extension"`
	PhoneNumber        string            `json:"phone_number" db:"phone_number"`
	Status             Status            `json:"status" db:"status"`
	IsActive           bool              `json:"is_active" db:"is_active"`
	Skills             []string          `json:"skills" db:"skills"`
	QueueIDs           []string          `json:"queue_ids" db:"queue_ids"`
	MaxConcurrentCalls int               `json:"max_concurrent_calls" db:"max_concurrent_calls"`
	CallsHandledToday  int               `json:"calls_handled_today" db:"calls_handled_today"`
	TalkSecondsToday   int               `json:"talk_seconds_today" db:"talk_seconds_today"`
	LastLoginAt        *time.Time        `json:"last_login_at,omitempty" db:"last_login_at"`
	LastStatusChange   time.Time         `json:"last_status_change" db:"last_status_change"`
	Metadata           map[string]string `json:"metadata,omitempty" db:"metadata"`
	CreatedAt          time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at" db:"updated_at"`
}

type Status string

const (
	StatusOffline       Status = "offline"
	StatusAvailable     Status = "available"
	StatusBusy          Status = "busy"
	StatusOnBreak       Status = "on_break"
	StatusAfterCallWork Status = "after_call_work"
)

// transitions is the strict allow-list. Anything not listed is illegal,
// including self-transitions.
var transitions = map[Status][]Status{
	StatusOffline:       {StatusAvailable},
	StatusAvailable:     {StatusBusy, StatusOnBreak, StatusAfterCallWork, StatusOffline},
	StatusBusy:          {StatusAvailable, StatusAfterCallWork, StatusOffline},
	StatusOnBreak:       {StatusAvailable, StatusOffline},
	StatusAfterCallWork: {StatusAvailable, StatusOnBreak, StatusOffline},
}

func CanTransition(from, to Status) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

func ValidStatus(s Status) bool {
	switch s {
	case StatusOffline, StatusAvailable, StatusBusy, StatusOnBreak, StatusAfterCallWork:
		return true
	}
	return false
}

// HasSkills reports whether the agent's skill set is a superset of required.
func (a Agent) HasSkills(required []string) bool {
	if len(required) == 0 {
		return true
	}
	have := make(map[string]bool, len(a.Skills))
	for _, s := range a.Skills {
		have[s] = true
	}
	for _, r := range required {
		if !have[r] {
			return false
		}
	}
	return true
}

// MemberOf reports queue membership.
func (a Agent) MemberOf(queueID string) bool {
	for _, q := range a.QueueIDs {
		if q == queueID {
			return true
		}
	}
	return false
}

// Available is the derived availability predicate. activeCalls is the agent's
// current count of ringing plus in-progress calls, supplied by the caller.
func (a Agent) Available(activeCalls int) bool {
	return a.Status == StatusAvailable && a.IsActive && activeCalls < a.MaxConcurrentCalls
}
