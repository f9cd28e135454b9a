package reporting

import (
	"context"
	"time"

	"callcenter-engine/internal/agents"
	"callcenter-engine/internal/calls"
	"callcenter-engine/internal/queues"
)

// ServiceLevelThreshold is the answer-time target used for the service level
// percentage.
const ServiceLevelThreshold = 20 * time.Second

// Service derives analytics from call records and the immutable event log.
// Everything here is read-only.
type Service struct {
	calls  *calls.Service
	agents *agents.Service
	queues *queues.Service
}

func New(callSvc *calls.Service, agentSvc *agents.Service, queueSvc *queues.Service) *Service {
	return &Service{calls: callSvc, agents: agentSvc, queues: queueSvc}
}

type QueueStats struct {
	QueueID         string  `json:"queue_id"`
	QueueName       string  `json:"queue_name"`
	CurrentDepth    int     `json:"current_depth"`
	Total           int     `json:"total"`
	Answered        int     `json:"answered"`
	Abandoned       int     `json:"abandoned"`
	AvgWaitSeconds  float64 `json:"avg_wait_seconds"`
	MaxWaitSeconds  int     `json:"max_wait_seconds"`
	AvgTalkSeconds  float64 `json:"avg_talk_seconds"`
	ServiceLevelPct float64 `json:"service_level_pct"`
}

// QueueReport aggregates the queue's traffic for the period. Service level
// is the share of answered calls picked up within the threshold.
func (s *Service) QueueReport(ctx context.Context, queueID string, from, to time.Time) (QueueStats, error) {
	q, err := s.queues.Get(ctx, queueID)
	if err != nil {
		return QueueStats{}, err
	}
	depth, err := s.calls.CountQueued(ctx, queueID)
	if err != nil {
		return QueueStats{}, err
	}
	period, err := s.calls.ListByPeriod(ctx, from, to, queueID, "")
	if err != nil {
		return QueueStats{}, err
	}

	st := QueueStats{QueueID: q.ID, QueueName: q.Name, CurrentDepth: depth}
	var waitSum, talkSum, withinTarget int
	for _, c := range period {
		if !c.Status.Terminal() && c.Status != calls.StatusInProgress {
			continue
		}
		st.Total++
		if c.AnsweredAt != nil {
			st.Answered++
			waitSum += c.QueueSeconds
			if c.QueueSeconds > st.MaxWaitSeconds {
				st.MaxWaitSeconds = c.QueueSeconds
			}
			if float64(c.QueueSeconds) <= ServiceLevelThreshold.Seconds() {
				withinTarget++
			}
			talkSum += c.DurationSeconds
		} else if c.Status.Terminal() {
			st.Abandoned++
			if c.QueueSeconds > st.MaxWaitSeconds {
				st.MaxWaitSeconds = c.QueueSeconds
			}
		}
	}
	if st.Answered > 0 {
		st.AvgWaitSeconds = float64(waitSum) / float64(st.Answered)
		st.AvgTalkSeconds = float64(talkSum) / float64(st.Answered)
		st.ServiceLevelPct = 100 * float64(withinTarget) / float64(st.Answered)
	}
	return st, nil
}

type AgentSummary struct {
	AgentID           string        `json:"agent_id"`
	Name              string        `json:"name"`
	Status            agents.Status `json:"status"`
	CallsHandledToday int           `json:"calls_handled_today"`
	TalkSecondsToday  int           `json:"talk_seconds_today"`
	ActiveCalls       int           `json:"active_calls"`
}

// AgentsSummary is the live wallboard view: every agent with its status and
// current load.
func (s *Service) AgentsSummary(ctx context.Context) ([]AgentSummary, error) {
	all, err := s.agents.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]AgentSummary, 0, len(all))
	for _, a := range all {
		inProgress, ringing, err := s.calls.ActiveCalls(ctx, a.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, AgentSummary{
			AgentID:           a.ID,
			Name:              a.Name,
			Status:            a.Status,
			CallsHandledToday: a.CallsHandledToday,
			TalkSecondsToday:  a.TalkSecondsToday,
			ActiveCalls:       inProgress + ringing,
		})
	}
	return out, nil
}

type AgentPerformance struct {
	AgentID          string             `json:"agent_id"`
	CallsHandled     int                `json:"calls_handled"`
	TotalTalkSeconds int                `json:"total_talk_seconds"`
	AvgTalkSeconds   float64            `json:"avg_talk_seconds"`
	StatusSeconds    map[string]float64 `json:"status_seconds"`
	OccupancyPct     float64            `json:"occupancy_pct"`
}

// AgentReport derives per-agent performance for the period. Status durations
// are integrated from consecutive entries in the agent's activity log rather
// than stored; occupancy is busy time over total logged-in time.
func (s *Service) AgentReport(ctx context.Context, agentID string, from, to time.Time) (AgentPerformance, error) {
	handled, err := s.calls.ListByPeriod(ctx, from, to, "", agentID)
	if err != nil {
		return AgentPerformance{}, err
	}
	activity, err := s.agents.Activity(ctx, agentID, from, to)
	if err != nil {
		return AgentPerformance{}, err
	}

	perf := AgentPerformance{AgentID: agentID, StatusSeconds: map[string]float64{}}
	for _, c := range handled {
		if c.Status == calls.StatusCompleted {
			perf.CallsHandled++
			perf.TotalTalkSeconds += c.DurationSeconds
		}
	}
	if perf.CallsHandled > 0 {
		perf.AvgTalkSeconds = float64(perf.TotalTalkSeconds) / float64(perf.CallsHandled)
	}

	for i, ev := range activity {
		if ev.ToStatus == "" {
			continue
		}
		end := to
		if i+1 < len(activity) {
			end = activity[i+1].CreatedAt
		}
		if d := end.Sub(ev.CreatedAt); d > 0 {
			perf.StatusSeconds[ev.ToStatus] += d.Seconds()
		}
	}

	var online float64
	for status, secs := range perf.StatusSeconds {
		if status != string(agents.StatusOffline) {
			online += secs
		}
	}
	if online > 0 {
		busy := perf.StatusSeconds[string(agents.StatusBusy)] +
			perf.StatusSeconds[string(agents.StatusAfterCallWork)]
		perf.OccupancyPct = 100 * busy / online
	}
	return perf, nil
}
