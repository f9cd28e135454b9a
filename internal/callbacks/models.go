package callbacks

import "time"

// CallbackRequest records a caller's wish to be called back instead of
// waiting in queue. The engine stores and schedules requests; the actual
// outbound placement is the dispatcher's job.
type CallbackRequest struct {
	ID            string     `json:"id" db:"id"`
	CallID        string     `json:"call_id,omitempty" db:"call_id"`
	QueueID       string     `json:"queue_id" db:"queue_id"`
	PhoneNumber   string     `json:"phone_number" db:"phone_number"`
	PreferredTime time.Time  `json:"preferred_time" db:"preferred_time"`
	Notes         string     `json:"notes,omitempty" db:"notes"`
	Priority      int        `json:"priority" db:"priority"`
	Status        Status     `json:"status" db:"status"`
	Attempts      int        `json:"attempts" db:"attempts"`
	PlacedCallID  string     `json:"placed_call_id,omitempty" db:"placed_call_id"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// MaxAttempts caps placements per request; a request that fails this many
// times is canceled rather than retried forever.
const MaxAttempts = 3

type Status string

const (
	// StatusPending waits for the preferred time.
	StatusPending Status = "pending"
	// StatusDue has been handed to the placement task, at most once.
	StatusDue Status = "due"
	StatusCompleted Status = "completed"
	StatusCanceled  Status = "canceled"
)

// Active callbacks block a second request for the same number in the same
// queue.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusDue
}
