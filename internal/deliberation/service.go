package deliberation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/parley/internal/conversation"
	"github.com/parley/internal/lock"
	"github.com/parley/pkg/models"
)

// GenerationContext is the immutable view of a conversation handed to
// the generation collaborator. It is rebuilt fresh inside each job so a
// reaction always reflects the conversation as it stood at the job's
// own turn, not at enqueue time.
type GenerationContext struct {
	ConversationID string
	Title          string
	PrimaryChannel string
	Transcript     []conversation.Message
	Trigger        *models.InboundEvent
}

// Generator is the opaque content-generation collaborator. It may be
// slow and it may fail; the service treats both as job-level events.
type Generator interface {
	Generate(ctx context.Context, agent conversation.Agent, genCtx GenerationContext) ([]conversation.Draft, error)
}

// RejectionError is the one error surfaced synchronously to an event's
// originator: an agent vetoed the contribution. Suggestion carries the
// rejecting agent's reason verbatim.
type RejectionError struct {
	AgentID    string
	Suggestion string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("contribution rejected by agent %s: %s", e.AgentID, e.Suggestion)
}

// Service orchestrates inbound events through the lease lock, the
// evaluation pipeline, persistence, and the trigger scheduler. It is
// safe for concurrent use from the API, the webhook route, and job
// workers at once; the lease lock is the only shared-mutation
// primitive.
type Service struct {
	store      conversation.Store
	locks      *lock.Service
	pipeline   *Pipeline
	scheduler  *Scheduler
	dispatcher *Dispatcher
	generator  Generator
	lockTTL    time.Duration
}

func NewService(store conversation.Store, locks *lock.Service, pipeline *Pipeline, scheduler *Scheduler, dispatcher *Dispatcher, generator Generator, lockTTL time.Duration) *Service {
	if lockTTL <= 0 {
		lockTTL = lock.DefaultTTL
	}
	return &Service{
		store:      store,
		locks:      locks,
		pipeline:   pipeline,
		scheduler:  scheduler,
		dispatcher: dispatcher,
		generator:  generator,
		lockTTL:    lockTTL,
	}
}

// SubmitMessage runs one inbound event through the evaluation protocol.
// On acceptance the contribution is persisted with its final visibility
// and one reaction job is enqueued per reactor; on veto a
// RejectionError is returned and nothing is persisted.
func (s *Service) SubmitMessage(ctx context.Context, conversationID string, event models.InboundEvent) (*conversation.Message, error) {
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now()
	}

	var persisted conversation.Message
	var reactors []conversation.Agent

	err := s.locks.WithLock(ctx, conversationID, s.lockTTL, func(ctx context.Context) error {
		// Re-read under the lock: another writer may have appended
		// messages or reconfigured agents while this caller waited.
		conv, err := s.store.Get(ctx, conversationID)
		if err != nil {
			return err
		}

		outcome, err := s.pipeline.Evaluate(ctx, conv, &event)
		if err != nil {
			return err
		}
		if !outcome.Accept {
			return &RejectionError{AgentID: outcome.RejectedBy, Suggestion: outcome.Suggestion}
		}

		channel := event.SourceChannel
		if channel == "" {
			channel = conv.PrimaryChannel
		}
		persisted = conversation.Message{
			ID:            uuid.NewString(),
			Body:          event.Body,
			Channels:      []string{channel},
			Visible:       outcome.Visible,
			Sender:        event.Sender,
			SourceChannel: event.SourceChannel,
			CreatedAt:     time.Now(),
		}
		if err := s.store.AppendMessage(ctx, conversationID, &persisted); err != nil {
			return err
		}
		reactors = outcome.Reactors
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Past the lock: fan out and schedule reactions. Both are
	// fire-and-forget from the originator's perspective.
	s.dispatcher.DeliverInbound(ctx, conversationID, persisted)
	s.scheduler.OnAcceptedEvent(ctx, conversationID, reactors, &event)

	return &persisted, nil
}

// RunAgentReaction is the body of an agentResponse job. It snapshots
// context under a fresh lease, generates outside the lock so a slow
// model never holds the conversation, and dispatches the result.
func (s *Service) RunAgentReaction(ctx context.Context, conversationID, agentID string, event *models.InboundEvent) error {
	var agent conversation.Agent
	var genCtx GenerationContext

	err := s.locks.WithLock(ctx, conversationID, s.lockTTL, func(ctx context.Context) error {
		conv, err := s.store.Get(ctx, conversationID)
		if err != nil {
			return err
		}
		a, ok := conv.Agent(agentID)
		if !ok {
			return fmt.Errorf("agent %s not attached to conversation %s: %w", agentID, conversationID, conversation.ErrNotFound)
		}
		// Stopped after enqueue: the job still completes (cancellation
		// only removes standing schedules), using the agent's last
		// attached configuration.
		agent = a
		genCtx = GenerationContext{
			ConversationID: conv.ID,
			Title:          conv.Title,
			PrimaryChannel: conv.PrimaryChannel,
			Transcript:     conv.Messages,
			Trigger:        event,
		}
		return nil
	})
	if err != nil {
		return err
	}

	drafts, err := s.generator.Generate(ctx, agent, genCtx)
	if err != nil {
		// Caught at the job boundary: logged, nothing dispatched, the
		// conversation and other agents' reactions are unaffected.
		log.Error().Err(err).
			Str("conversation", conversationID).
			Str("agent", agentID).
			Msg("generation failed; no contribution dispatched")
		return nil
	}

	_, err = s.dispatcher.Dispatch(ctx, conversationID, agent, drafts)
	return err
}

// RunPeriodicTick is the body of a periodicAgent job: it synthesizes a
// nil inbound event, polls the periodic agents through the pipeline,
// and schedules a reaction for the agent whose timer fired. Each
// schedule drives only its own agent, so two periodic agents at
// different intervals never react on each other's cadence.
func (s *Service) RunPeriodicTick(ctx context.Context, conversationID, agentID string) error {
	var reactors []conversation.Agent
	err := s.locks.WithLock(ctx, conversationID, s.lockTTL, func(ctx context.Context) error {
		conv, err := s.store.Get(ctx, conversationID)
		if err != nil {
			return err
		}
		outcome, err := s.pipeline.Evaluate(ctx, conv, nil)
		if err != nil {
			return err
		}
		for _, agent := range outcome.Reactors {
			if agent.ID == agentID {
				reactors = append(reactors, agent)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.scheduler.OnAcceptedEvent(ctx, conversationID, reactors, nil)
	return nil
}

// RunAgentIntroduction posts the agent's declared introduction message.
func (s *Service) RunAgentIntroduction(ctx context.Context, conversationID, agentID string) error {
	conv, err := s.store.Get(ctx, conversationID)
	if err != nil {
		return err
	}
	agent, ok := conv.Agent(agentID)
	if !ok {
		return fmt.Errorf("agent %s not attached to conversation %s: %w", agentID, conversationID, conversation.ErrNotFound)
	}
	if agent.Intro == "" {
		return nil
	}
	_, err = s.dispatcher.Dispatch(ctx, conversationID, agent, []conversation.Draft{{Body: agent.Intro}})
	return err
}

// ActivateAgent attaches the agent under the conversation's lease and
// installs its trigger. When the agent declares an introduction an
// agentIntroduction job is enqueued.
func (s *Service) ActivateAgent(ctx context.Context, conversationID string, agent conversation.Agent) error {
	agent.Active = true
	if agent.AttachedAt.IsZero() {
		agent.AttachedAt = time.Now()
	}

	err := s.locks.WithLock(ctx, conversationID, s.lockTTL, func(ctx context.Context) error {
		if _, err := s.store.Get(ctx, conversationID); err != nil {
			return err
		}
		return s.store.AttachAgent(ctx, conversationID, &agent)
	})
	if err != nil {
		return err
	}

	if err := s.scheduler.OnAgentStart(conversationID, agent); err != nil {
		return err
	}
	if agent.Intro != "" {
		if err := s.scheduler.queue.EnqueueAgentIntroduction(ctx, conversationID, agent.ID); err != nil {
			log.Error().Err(err).Str("agent", agent.ID).Msg("failed to enqueue introduction job")
		}
	}
	return nil
}

// DeactivateAgent cancels the agent's standing schedule and marks it
// inactive. In-flight reaction jobs complete normally.
func (s *Service) DeactivateAgent(ctx context.Context, conversationID, agentID string) error {
	err := s.locks.WithLock(ctx, conversationID, s.lockTTL, func(ctx context.Context) error {
		return s.store.SetAgentActive(ctx, conversationID, agentID, false)
	})
	if err != nil {
		return err
	}
	return s.scheduler.OnAgentStop(conversationID, agentID)
}

// RestoreSchedules reinstalls recurring schedules for every active
// periodic agent of the given conversations. Called once at startup;
// OnAgentStart's cancel-then-schedule makes it safe to call repeatedly.
func (s *Service) RestoreSchedules(ctx context.Context, conversationIDs []string) error {
	for _, id := range conversationIDs {
		conv, err := s.store.Get(ctx, id)
		if err != nil {
			return err
		}
		for _, agent := range conv.ActiveAgents() {
			if agent.Trigger.Kind != conversation.TriggerPeriodic {
				continue
			}
			if err := s.scheduler.OnAgentStart(id, agent); err != nil {
				return err
			}
		}
	}
	return nil
}
