package deliberation

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/parley/internal/conversation"
	"github.com/parley/pkg/models"
)

// RecurringHandle identifies one live recurring schedule in the job
// substrate.
type RecurringHandle int

// JobQueue is the job substrate collaborator. Delivery is at-least-once
// with no ordering guarantee between kinds; enqueue calls return before
// any work runs.
type JobQueue interface {
	EnqueueAgentResponse(ctx context.Context, conversationID, agentID string, event *models.InboundEvent) error
	EnqueueAgentIntroduction(ctx context.Context, conversationID, agentID string) error
	ScheduleRecurring(conversationID, agentID string, interval time.Duration) (RecurringHandle, error)
	CancelRecurring(handle RecurringHandle) error
}

// Scheduler classifies each agent's trigger policy and arranges for
// reaction work to run outside the request path.
type Scheduler struct {
	queue JobQueue

	mu        sync.Mutex
	schedules map[string]RecurringHandle // conversationID+"/"+agentID
}

func NewScheduler(queue JobQueue) *Scheduler {
	return &Scheduler{
		queue:     queue,
		schedules: make(map[string]RecurringHandle),
	}
}

func scheduleKey(conversationID, agentID string) string {
	return conversationID + "/" + agentID
}

// OnAgentStart installs the agent's recurring schedule if it is
// periodic. Any pre-existing schedule for the agent is cancelled first
// so a server restart never produces duplicate timers.
func (s *Scheduler) OnAgentStart(conversationID string, agent conversation.Agent) error {
	if agent.Trigger.Kind != conversation.TriggerPeriodic {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := scheduleKey(conversationID, agent.ID)
	if old, exists := s.schedules[key]; exists {
		if err := s.queue.CancelRecurring(old); err != nil {
			log.Error().Err(err).Str("agent", agent.ID).Msg("failed to cancel stale recurring schedule")
		}
		delete(s.schedules, key)
	}

	handle, err := s.queue.ScheduleRecurring(conversationID, agent.ID, agent.Trigger.Interval)
	if err != nil {
		return err
	}
	s.schedules[key] = handle
	log.Info().
		Str("conversation", conversationID).
		Str("agent", agent.ID).
		Dur("interval", agent.Trigger.Interval).
		Msg("scheduled periodic agent")
	return nil
}

// OnAgentStop cancels the agent's standing schedule. In-flight jobs
// already enqueued are not cancelled; they complete and dispatch
// normally.
func (s *Scheduler) OnAgentStop(conversationID, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := scheduleKey(conversationID, agentID)
	handle, exists := s.schedules[key]
	if !exists {
		return nil // perMessage/manual agents have no standing schedule
	}
	delete(s.schedules, key)
	return s.queue.CancelRecurring(handle)
}

// OnAcceptedEvent enqueues one independent fire-and-forget job per
// reactor, carrying an immutable snapshot of the triggering event. This
// is the decoupling point that keeps the synchronous request path fast
// regardless of generation latency.
func (s *Scheduler) OnAcceptedEvent(ctx context.Context, conversationID string, reactors []conversation.Agent, event *models.InboundEvent) {
	for _, agent := range reactors {
		var snapshot *models.InboundEvent
		if event != nil {
			ev := *event
			snapshot = &ev
		}
		if err := s.queue.EnqueueAgentResponse(ctx, conversationID, agent.ID, snapshot); err != nil {
			// The reaction is lost for this event; the conversation
			// itself is already persisted and consistent.
			log.Error().Err(err).
				Str("conversation", conversationID).
				Str("agent", agent.ID).
				Msg("failed to enqueue agent response job")
		}
	}
}
