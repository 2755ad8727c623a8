package conversation

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a conversation or agent does not exist.
var ErrNotFound = errors.New("conversation: not found")

// Store is the persistence collaborator for conversations. Get returns a
// snapshot; snapshots taken outside the lease lock are eventually
// consistent and must be re-read after acquiring the lock before any
// observe-then-write. The mutating methods are field-level partial
// updates so concurrent writers never clobber whole records.
type Store interface {
	Create(ctx context.Context, c *Conversation) error
	Get(ctx context.Context, id string) (*Conversation, error)
	ListIDs(ctx context.Context) ([]string, error)

	AppendMessage(ctx context.Context, conversationID string, m *Message) error
	AttachAgent(ctx context.Context, conversationID string, a *Agent) error
	DetachAgent(ctx context.Context, conversationID, agentID string) error
	SetAgentActive(ctx context.Context, conversationID, agentID string, active bool) error
}
