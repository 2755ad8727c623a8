/*
Package jobqueue provides the River-based job substrate for agent
reaction work: fire-and-forget response jobs, periodic agent ticks, and
one-shot introductions. Delivery is at-least-once; a crash before
completion re-runs the job rather than silently dropping a reaction.

For tunable parameters see queue_config.go.
*/
package jobqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/riverqueue/river/rivertype"
	"github.com/rs/zerolog/log"

	"github.com/parley/internal/deliberation"
	"github.com/parley/pkg/models"
)

// Runner is the deliberation-side executor the workers call into. Bound
// after construction because the orchestration service and the queue
// reference each other.
type Runner interface {
	RunAgentReaction(ctx context.Context, conversationID, agentID string, event *models.InboundEvent) error
	RunPeriodicTick(ctx context.Context, conversationID, agentID string) error
	RunAgentIntroduction(ctx context.Context, conversationID, agentID string) error
}

// AgentResponseArgs carries one reactor's id plus the immutable snapshot
// of the triggering event.
type AgentResponseArgs struct {
	ConversationID string               `json:"conversation_id"`
	AgentID        string               `json:"agent_id"`
	Event          *models.InboundEvent `json:"event,omitempty"`
}

func (AgentResponseArgs) Kind() string { return "agent_response" }

// PeriodicAgentArgs is inserted by a recurring schedule; the tick
// synthesizes a nil inbound event.
type PeriodicAgentArgs struct {
	ConversationID string `json:"conversation_id"`
	AgentID        string `json:"agent_id"`
}

func (PeriodicAgentArgs) Kind() string { return "periodic_agent" }

// AgentIntroductionArgs posts an agent's declared introduction message.
type AgentIntroductionArgs struct {
	ConversationID string `json:"conversation_id"`
	AgentID        string `json:"agent_id"`
}

func (AgentIntroductionArgs) Kind() string { return "agent_introduction" }

type agentResponseWorker struct {
	river.WorkerDefaults[AgentResponseArgs]
	queue *JobQueue
}

func (w *agentResponseWorker) Timeout(*river.Job[AgentResponseArgs]) time.Duration {
	return w.queue.config.JobTimeout
}

func (w *agentResponseWorker) Work(ctx context.Context, job *river.Job[AgentResponseArgs]) error {
	args := job.Args
	log.Info().
		Str("conversation", args.ConversationID).
		Str("agent", args.AgentID).
		Int("attempt", job.Attempt).
		Msg("running agent response job")
	return w.queue.runner.RunAgentReaction(ctx, args.ConversationID, args.AgentID, args.Event)
}

type periodicAgentWorker struct {
	river.WorkerDefaults[PeriodicAgentArgs]
	queue *JobQueue
}

func (w *periodicAgentWorker) Work(ctx context.Context, job *river.Job[PeriodicAgentArgs]) error {
	return w.queue.runner.RunPeriodicTick(ctx, job.Args.ConversationID, job.Args.AgentID)
}

type agentIntroductionWorker struct {
	river.WorkerDefaults[AgentIntroductionArgs]
	queue *JobQueue
}

func (w *agentIntroductionWorker) Work(ctx context.Context, job *river.Job[AgentIntroductionArgs]) error {
	return w.queue.runner.RunAgentIntroduction(ctx, job.Args.ConversationID, job.Args.AgentID)
}

// Migrate applies River's schema migrations to the given database.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		return fmt.Errorf("failed to create River migrator: %w", err)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		return fmt.Errorf("failed to run River migrations: %w", err)
	}
	return nil
}

// JobQueue implements deliberation.JobQueue on River.
type JobQueue struct {
	client *river.Client[pgx.Tx]
	pool   *pgxpool.Pool
	config *QueueConfig
	runner Runner
}

// NewJobQueue creates the River client and registers the workers. Bind
// must be called with the orchestration service before Start.
func NewJobQueue(pool *pgxpool.Pool, config *QueueConfig) (*JobQueue, error) {
	jq := &JobQueue{pool: pool, config: config}

	workers := river.NewWorkers()
	river.AddWorker(workers, &agentResponseWorker{queue: jq})
	river.AddWorker(workers, &periodicAgentWorker{queue: jq})
	river.AddWorker(workers, &agentIntroductionWorker{queue: jq})

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues:  config.RiverQueueConfig(),
		Workers: workers,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create River client: %w", err)
	}
	jq.client = client
	return jq, nil
}

// Bind attaches the executor the workers dispatch to.
func (jq *JobQueue) Bind(runner Runner) { jq.runner = runner }

// Start starts the job queue workers.
func (jq *JobQueue) Start(ctx context.Context) error {
	if jq.runner == nil {
		return fmt.Errorf("job queue started without a bound runner")
	}
	return jq.client.Start(ctx)
}

// Stop stops the job queue workers, letting in-flight jobs finish.
func (jq *JobQueue) Stop(ctx context.Context) error {
	return jq.client.Stop(ctx)
}

// EnqueueAgentResponse inserts one fire-and-forget reaction job. The
// insert returns as soon as the row is queued; generation latency never
// touches the caller.
func (jq *JobQueue) EnqueueAgentResponse(ctx context.Context, conversationID, agentID string, event *models.InboundEvent) error {
	_, err := jq.client.Insert(ctx, AgentResponseArgs{
		ConversationID: conversationID,
		AgentID:        agentID,
		Event:          event,
	}, &river.InsertOpts{MaxAttempts: jq.config.MaxAttempts})
	if err != nil {
		return fmt.Errorf("failed to queue agent response job: %w", err)
	}
	return nil
}

// EnqueueAgentIntroduction inserts a one-shot introduction job.
func (jq *JobQueue) EnqueueAgentIntroduction(ctx context.Context, conversationID, agentID string) error {
	_, err := jq.client.Insert(ctx, AgentIntroductionArgs{
		ConversationID: conversationID,
		AgentID:        agentID,
	}, &river.InsertOpts{MaxAttempts: jq.config.MaxAttempts})
	if err != nil {
		return fmt.Errorf("failed to queue agent introduction job: %w", err)
	}
	return nil
}

// ScheduleRecurring installs a periodic tick for the agent and returns
// its handle for later cancellation.
func (jq *JobQueue) ScheduleRecurring(conversationID, agentID string, interval time.Duration) (deliberation.RecurringHandle, error) {
	if interval < jq.config.MinPeriodicInterval {
		interval = jq.config.MinPeriodicInterval
	}
	job := river.NewPeriodicJob(
		river.PeriodicInterval(interval),
		func() (river.JobArgs, *river.InsertOpts) {
			return PeriodicAgentArgs{ConversationID: conversationID, AgentID: agentID}, nil
		},
		&river.PeriodicJobOpts{},
	)
	handle := jq.client.PeriodicJobs().Add(job)
	return deliberation.RecurringHandle(handle), nil
}

// CancelRecurring removes a periodic schedule. Jobs already inserted by
// the schedule still run to completion.
func (jq *JobQueue) CancelRecurring(handle deliberation.RecurringHandle) error {
	jq.client.PeriodicJobs().Remove(rivertype.PeriodicJobHandle(handle))
	return nil
}
