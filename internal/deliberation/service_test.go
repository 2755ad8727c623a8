package deliberation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/parley/internal/adapters"
	"github.com/parley/internal/conversation"
	"github.com/parley/internal/lock"
	"github.com/parley/pkg/models"
)

type stubGenerator struct {
	drafts []conversation.Draft
	err    error
	calls  int
}

func (g *stubGenerator) Generate(ctx context.Context, agent conversation.Agent, genCtx GenerationContext) ([]conversation.Draft, error) {
	g.calls++
	return g.drafts, g.err
}

type serviceFixture struct {
	svc   *Service
	store *conversation.InMemoryStore
	queue *fakeQueue
	gen   *stubGenerator
}

func newServiceFixture(t *testing.T, agents ...conversation.Agent) *serviceFixture {
	t.Helper()
	store := conversation.NewInMemoryStore()
	require.NoError(t, store.Create(context.Background(), &conversation.Conversation{
		ID:             "conv-1",
		Title:          "Budget deliberation",
		PrimaryChannel: "main",
		Agents:         agents,
	}))

	locks := lock.NewService(lock.NewInMemoryStore(), lock.WithBackoff(lock.Backoff{
		Initial: time.Millisecond, Max: 5 * time.Millisecond, Multiplier: 1.5,
	}))
	queue := newFakeQueue()
	gen := &stubGenerator{}
	dispatcher := NewDispatcher(store, locks, adapters.NewRegistry(), time.Second)
	svc := NewService(store, locks, NewPipeline(DefaultRegistry()), NewScheduler(queue), dispatcher, gen, time.Second)

	return &serviceFixture{svc: svc, store: store, queue: queue, gen: gen}
}

func TestSubmitMessageAcceptedWithReactor(t *testing.T) {
	// Agents A(priority=10, perMessage, always OK) and B(priority=20,
	// perMessage, contributes on any message).
	f := newServiceFixture(t,
		conversation.Agent{
			ID: "A", Kind: KindModerator, Priority: 10, Active: true,
			Trigger: conversation.Trigger{Kind: conversation.TriggerPerMessage},
		},
		conversation.Agent{
			ID: "B", Kind: KindParticipant, Priority: 20, Active: true,
			Trigger: conversation.Trigger{Kind: conversation.TriggerPerMessage},
		},
	)

	msg, err := f.svc.SubmitMessage(context.Background(), "conv-1", models.InboundEvent{
		Body: "hello", Sender: "alice", SourceChannel: "main",
	})
	require.NoError(t, err)
	require.True(t, msg.Visible)
	require.Equal(t, "hello", msg.Body)

	conv, err := f.store.Get(context.Background(), "conv-1")
	require.NoError(t, err)
	require.Len(t, conv.Messages, 1)

	require.Equal(t, []string{"conv-1/B"}, f.queue.responses, "exactly one async job, for B")
}

func TestSubmitMessageVetoPersistsNothing(t *testing.T) {
	f := newServiceFixture(t, conversation.Agent{
		ID: "C", Kind: KindModerator, Priority: 5, Active: true,
		Params: map[string]string{"block": "damn", "rejection": "profanity detected"},
	})

	_, err := f.svc.SubmitMessage(context.Background(), "conv-1", models.InboundEvent{Body: "damn it"})
	var rej *RejectionError
	require.ErrorAs(t, err, &rej)
	require.Equal(t, "profanity detected", rej.Suggestion, "rejection reason surfaces verbatim")
	require.Equal(t, "C", rej.AgentID)

	conv, err := f.store.Get(context.Background(), "conv-1")
	require.NoError(t, err)
	require.Empty(t, conv.Messages, "vetoed contributions are never persisted")
	require.Empty(t, f.queue.responses)
}

func TestSubmitMessageSurvivesUnknownAgentKind(t *testing.T) {
	f := newServiceFixture(t, conversation.Agent{
		ID: "ghost", Kind: "mystery", Priority: 10, Active: true,
		Trigger: conversation.Trigger{Kind: conversation.TriggerPerMessage},
	})

	msg, err := f.svc.SubmitMessage(context.Background(), "conv-1", models.InboundEvent{Body: "hello"})
	require.NoError(t, err, "a misconfigured agent must not block the conversation")
	require.True(t, msg.Visible)

	conv, err := f.store.Get(context.Background(), "conv-1")
	require.NoError(t, err)
	require.Len(t, conv.Messages, 1)
}

func TestSubmitMessageSuppressionPersistsHidden(t *testing.T) {
	f := newServiceFixture(t, conversation.Agent{
		ID: "mod", Kind: KindModerator, Priority: 5, Active: true,
		Params: map[string]string{"flag": "pending"},
	})

	msg, err := f.svc.SubmitMessage(context.Background(), "conv-1", models.InboundEvent{Body: "pending review"})
	require.NoError(t, err, "suppression must not surface as an error")
	require.False(t, msg.Visible)

	conv, err := f.store.Get(context.Background(), "conv-1")
	require.NoError(t, err)
	require.Len(t, conv.Messages, 1)
	require.False(t, conv.Messages[0].Visible)
}

func TestRunAgentReactionDispatchesDrafts(t *testing.T) {
	f := newServiceFixture(t, conversation.Agent{
		ID: "B", Kind: KindParticipant, Priority: 20, Active: true, Pseudonym: "Advisor",
		Trigger: conversation.Trigger{Kind: conversation.TriggerPerMessage},
	})
	f.gen.drafts = []conversation.Draft{{Body: "my considered reply"}}

	err := f.svc.RunAgentReaction(context.Background(), "conv-1", "B", &models.InboundEvent{Body: "hello"})
	require.NoError(t, err)
	require.Equal(t, 1, f.gen.calls)

	conv, err := f.store.Get(context.Background(), "conv-1")
	require.NoError(t, err)
	require.Len(t, conv.Messages, 1)
	require.True(t, conv.Messages[0].FromAgent)
	require.Equal(t, "Advisor", conv.Messages[0].Pseudonym)
}

func TestRunAgentReactionSwallowsGenerationFailure(t *testing.T) {
	f := newServiceFixture(t, conversation.Agent{
		ID: "B", Kind: KindParticipant, Priority: 20, Active: true,
		Trigger: conversation.Trigger{Kind: conversation.TriggerPerMessage},
	})
	f.gen.err = errors.New("model unavailable")

	err := f.svc.RunAgentReaction(context.Background(), "conv-1", "B", nil)
	require.NoError(t, err, "generation failure is a logged job event, not an error")

	conv, err := f.store.Get(context.Background(), "conv-1")
	require.NoError(t, err)
	require.Empty(t, conv.Messages, "no contribution dispatched on failure")
}

func TestRunPeriodicTickSchedulesReactors(t *testing.T) {
	f := newServiceFixture(t, conversation.Agent{
		ID: "S", Kind: KindSummarizer, Priority: 30, Active: true,
		Trigger: conversation.Trigger{Kind: conversation.TriggerPeriodic, Interval: time.Minute},
	})

	// Nothing to summarize yet: no reactor.
	require.NoError(t, f.svc.RunPeriodicTick(context.Background(), "conv-1", "S"))
	require.Empty(t, f.queue.responses)

	require.NoError(t, f.store.AppendMessage(context.Background(), "conv-1", &conversation.Message{
		ID: "m1", Body: "a point worth summarizing", Visible: true, CreatedAt: time.Now(),
	}))

	require.NoError(t, f.svc.RunPeriodicTick(context.Background(), "conv-1", "S"))
	require.Equal(t, []string{"conv-1/S"}, f.queue.responses)
	require.Nil(t, f.queue.events[0], "periodic reactions carry a nil inbound event")
}

func TestRunPeriodicTickFiresOnlyScheduledAgent(t *testing.T) {
	f := newServiceFixture(t,
		conversation.Agent{
			ID: "hourly", Kind: KindSummarizer, Priority: 30, Active: true,
			Trigger: conversation.Trigger{Kind: conversation.TriggerPeriodic, Interval: time.Hour},
		},
		conversation.Agent{
			ID: "minutely", Kind: KindSummarizer, Priority: 40, Active: true,
			Trigger: conversation.Trigger{Kind: conversation.TriggerPeriodic, Interval: time.Minute},
		},
	)
	require.NoError(t, f.store.AppendMessage(context.Background(), "conv-1", &conversation.Message{
		ID: "m1", Body: "plenty to summarize", Visible: true, CreatedAt: time.Now(),
	}))

	require.NoError(t, f.svc.RunPeriodicTick(context.Background(), "conv-1", "minutely"))
	require.Equal(t, []string{"conv-1/minutely"}, f.queue.responses,
		"one agent's timer must not fire the other agent")
}

func TestActivateAgentSchedulesAndIntroduces(t *testing.T) {
	f := newServiceFixture(t)
	agent := conversation.Agent{
		ID: "S", Kind: KindSummarizer, Priority: 30, Intro: "I will summarize periodically.",
		Trigger: conversation.Trigger{Kind: conversation.TriggerPeriodic, Interval: time.Minute},
	}

	require.NoError(t, f.svc.ActivateAgent(context.Background(), "conv-1", agent))
	require.Equal(t, 1, f.queue.liveCount())
	require.Equal(t, []string{"conv-1/S"}, f.queue.introductions)

	conv, err := f.store.Get(context.Background(), "conv-1")
	require.NoError(t, err)
	a, ok := conv.Agent("S")
	require.True(t, ok)
	require.True(t, a.Active)

	require.NoError(t, f.svc.DeactivateAgent(context.Background(), "conv-1", "S"))
	require.Equal(t, 0, f.queue.liveCount())

	conv, err = f.store.Get(context.Background(), "conv-1")
	require.NoError(t, err)
	a, _ = conv.Agent("S")
	require.False(t, a.Active)
}

func TestRestoreSchedulesIsIdempotent(t *testing.T) {
	f := newServiceFixture(t, conversation.Agent{
		ID: "S", Kind: KindSummarizer, Active: true,
		Trigger: conversation.Trigger{Kind: conversation.TriggerPeriodic, Interval: time.Minute},
	})

	require.NoError(t, f.svc.RestoreSchedules(context.Background(), []string{"conv-1"}))
	require.NoError(t, f.svc.RestoreSchedules(context.Background(), []string{"conv-1"}))
	require.Equal(t, 1, f.queue.liveCount())
}
