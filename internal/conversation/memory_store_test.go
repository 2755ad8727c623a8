package conversation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func seedConversation(t *testing.T, s *InMemoryStore) *Conversation {
	t.Helper()
	c := &Conversation{
		ID:             "conv-1",
		Title:          "standup",
		PrimaryChannel: "main",
		CreatedAt:      time.Now(),
	}
	require.NoError(t, s.Create(context.Background(), c))
	return c
}

func TestGetReturnsIndependentCopy(t *testing.T) {
	s := NewInMemoryStore()
	seedConversation(t, s)

	a, err := s.Get(context.Background(), "conv-1")
	require.NoError(t, err)
	a.Title = "mutated"
	a.Messages = append(a.Messages, Message{ID: "m-rogue"})

	b, err := s.Get(context.Background(), "conv-1")
	require.NoError(t, err)
	require.Equal(t, "standup", b.Title)
	require.Empty(t, b.Messages)
}

func TestGetUnknownConversation(t *testing.T) {
	s := NewInMemoryStore()
	_, err := s.Get(context.Background(), "nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestAppendMessageAdvancesUpdatedAt(t *testing.T) {
	s := NewInMemoryStore()
	seedConversation(t, s)

	at := time.Now().Add(time.Minute)
	err := s.AppendMessage(context.Background(), "conv-1", &Message{
		ID:        "m-1",
		Body:      "hello",
		Channels:  []string{"main"},
		Visible:   true,
		CreatedAt: at,
	})
	require.NoError(t, err)

	c, err := s.Get(context.Background(), "conv-1")
	require.NoError(t, err)
	require.Len(t, c.Messages, 1)
	require.True(t, c.UpdatedAt.Equal(at))

	err = s.AppendMessage(context.Background(), "nope", &Message{ID: "m-2"})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestAttachAgentUpsertsByID(t *testing.T) {
	s := NewInMemoryStore()
	seedConversation(t, s)
	ctx := context.Background()

	require.NoError(t, s.AttachAgent(ctx, "conv-1", &Agent{ID: "a-1", Name: "mod", Priority: 10, Active: true}))
	require.NoError(t, s.AttachAgent(ctx, "conv-1", &Agent{ID: "a-1", Name: "mod", Priority: 20, Active: true}))

	c, err := s.Get(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, c.Agents, 1)
	require.Equal(t, 20, c.Agents[0].Priority)
}

func TestDetachAgent(t *testing.T) {
	s := NewInMemoryStore()
	seedConversation(t, s)
	ctx := context.Background()

	require.NoError(t, s.AttachAgent(ctx, "conv-1", &Agent{ID: "a-1", Active: true}))
	require.NoError(t, s.DetachAgent(ctx, "conv-1", "a-1"))

	c, err := s.Get(ctx, "conv-1")
	require.NoError(t, err)
	require.Empty(t, c.Agents)

	require.ErrorIs(t, s.DetachAgent(ctx, "conv-1", "a-1"), ErrNotFound)
}

func TestSetAgentActive(t *testing.T) {
	s := NewInMemoryStore()
	seedConversation(t, s)
	ctx := context.Background()

	require.NoError(t, s.AttachAgent(ctx, "conv-1", &Agent{ID: "a-1", Active: true}))
	require.NoError(t, s.SetAgentActive(ctx, "conv-1", "a-1", false))

	c, err := s.Get(ctx, "conv-1")
	require.NoError(t, err)
	require.False(t, c.Agents[0].Active)
	require.Empty(t, c.ActiveAgents())

	require.ErrorIs(t, s.SetAgentActive(ctx, "conv-1", "ghost", true), ErrNotFound)
}

func TestListIDs(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, &Conversation{ID: "c-a"}))
	require.NoError(t, s.Create(ctx, &Conversation{ID: "c-b"}))

	ids, err := s.ListIDs(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"c-a", "c-b"}, ids)
}
