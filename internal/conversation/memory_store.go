package conversation

import (
	"context"
	"sync"
)

// InMemoryStore is a Store kept in process memory. Used by tests and by
// single-node demo deployments without Postgres.
type InMemoryStore struct {
	mu    sync.RWMutex
	convs map[string]*Conversation
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{convs: make(map[string]*Conversation)}
}

func (s *InMemoryStore) Create(ctx context.Context, c *Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convs[c.ID] = cloneConversation(c)
	return nil
}

func (s *InMemoryStore) Get(ctx context.Context, id string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.convs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneConversation(c), nil
}

func (s *InMemoryStore) ListIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.convs))
	for id := range s.convs {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *InMemoryStore) AppendMessage(ctx context.Context, conversationID string, m *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[conversationID]
	if !ok {
		return ErrNotFound
	}
	c.Messages = append(c.Messages, *m)
	c.UpdatedAt = m.CreatedAt
	return nil
}

func (s *InMemoryStore) AttachAgent(ctx context.Context, conversationID string, a *Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[conversationID]
	if !ok {
		return ErrNotFound
	}
	for i := range c.Agents {
		if c.Agents[i].ID == a.ID {
			c.Agents[i] = *a
			return nil
		}
	}
	c.Agents = append(c.Agents, *a)
	return nil
}

func (s *InMemoryStore) DetachAgent(ctx context.Context, conversationID, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[conversationID]
	if !ok {
		return ErrNotFound
	}
	for i := range c.Agents {
		if c.Agents[i].ID == agentID {
			c.Agents = append(c.Agents[:i], c.Agents[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (s *InMemoryStore) SetAgentActive(ctx context.Context, conversationID, agentID string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[conversationID]
	if !ok {
		return ErrNotFound
	}
	for i := range c.Agents {
		if c.Agents[i].ID == agentID {
			c.Agents[i].Active = active
			return nil
		}
	}
	return ErrNotFound
}

// cloneConversation deep-copies so callers can never mutate stored state
// without going back through the store.
func cloneConversation(c *Conversation) *Conversation {
	out := *c
	out.Messages = make([]Message, len(c.Messages))
	copy(out.Messages, c.Messages)
	out.Agents = make([]Agent, len(c.Agents))
	for i, a := range c.Agents {
		out.Agents[i] = a
		if a.Params != nil {
			params := make(map[string]string, len(a.Params))
			for k, v := range a.Params {
				params[k] = v
			}
			out.Agents[i].Params = params
		}
		out.Agents[i].Trigger.Channels = append([]string(nil), a.Trigger.Channels...)
	}
	return &out
}
