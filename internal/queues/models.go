package queues

import "time"

// Queue holds waiting inbound calls until the router pairs them with agents.
type Queue struct {
	ID             string            `json:"id" db:"id"`
	Name           string            `json:"name" db:"name"`
	Description    string            `json:"description,omitempty" db:"description"`
	Strategy       Strategy          `json:"strategy" db:"strategy"`
	Priority       int               `json:"priority" db:"priority"`
	MaxSize        int               `json:"max_size" db:"max_size"`
	TimeoutSeconds int               `json:"timeout_seconds" db:"timeout_seconds"`
	RequiredSkills []string          `json:"required_skills,omitempty" db:"required_skills"`
	IsActive       bool              `json:"is_active" db:"is_active"`
	Metadata       map[string]string `json:"metadata,omitempty" db:"metadata"`
	CreatedAt      time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at" db:"updated_at"`
}

// Strategy selects how the router orders candidate calls and agents.
type Strategy string

const (
	StrategyFIFO        Strategy = "fifo"
	StrategyLIFO        Strategy = "lifo"
	StrategyRoundRobin  Strategy = "round_robin"
	StrategyLeastBusy   Strategy = "least_busy"
	StrategySkillsBased Strategy = "skills_based"
)

func ValidStrategy(s Strategy) bool {
	switch s {
	case StrategyFIFO, StrategyLIFO, StrategyRoundRobin, StrategyLeastBusy, StrategySkillsBased:
		return true
	}
	return false
}

const (
	DefaultMaxSize        = 100
	DefaultTimeoutSeconds = 300
)

// VoicemailURL is the overflow destination for calls evicted on timeout, if
// the queue is configured with one. Empty means evicted calls end as
// no-answer.
func (q Queue) VoicemailURL() string {
	return q.Metadata["voicemail_url"]
}
