package deliberation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/parley/internal/adapters"
	"github.com/parley/internal/conversation"
	"github.com/parley/internal/lock"
	"github.com/parley/pkg/models"
)

// Dispatcher persists agent reactions and hands them to the delivery
// adapters. Agent-authored messages are trusted once produced; they
// never re-enter the evaluation pipeline.
type Dispatcher struct {
	store    conversation.Store
	locks    *lock.Service
	adapters *adapters.Registry
	ttl      time.Duration
}

func NewDispatcher(store conversation.Store, locks *lock.Service, reg *adapters.Registry, ttl time.Duration) *Dispatcher {
	return &Dispatcher{store: store, locks: locks, adapters: reg, ttl: ttl}
}

// Dispatch appends the agent's drafts to the conversation under its
// lease and then delivers them. A reaction may be empty; each draft
// defaults to the conversation's primary channel and to visible.
// Delivery failures are isolated per channel and never undo
// persistence.
func (d *Dispatcher) Dispatch(ctx context.Context, conversationID string, agent conversation.Agent, drafts []conversation.Draft) ([]conversation.Message, error) {
	if len(drafts) == 0 {
		return nil, nil
	}

	var persisted []conversation.Message
	err := d.locks.WithLock(ctx, conversationID, d.ttl, func(ctx context.Context) error {
		conv, err := d.store.Get(ctx, conversationID)
		if err != nil {
			return err
		}
		for _, draft := range drafts {
			channels := draft.Channels
			if len(channels) == 0 {
				channels = []string{conv.PrimaryChannel}
			}
			visible := true
			if draft.Visible != nil {
				visible = *draft.Visible
			}
			msg := conversation.Message{
				ID:        uuid.NewString(),
				Body:      draft.Body,
				Channels:  channels,
				Visible:   visible,
				FromAgent: true,
				AgentID:   agent.ID,
				Pseudonym: agent.Pseudonym,
				CreatedAt: time.Now(),
			}
			if err := d.store.AppendMessage(ctx, conversationID, &msg); err != nil {
				return err
			}
			persisted = append(persisted, msg)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	d.deliver(ctx, conversationID, persisted)
	return persisted, nil
}

// DeliverInbound fans an accepted human contribution out to the
// adapters. Hidden messages are persisted but never delivered.
func (d *Dispatcher) DeliverInbound(ctx context.Context, conversationID string, msg conversation.Message) {
	d.deliver(ctx, conversationID, []conversation.Message{msg})
}

func (d *Dispatcher) deliver(ctx context.Context, conversationID string, msgs []conversation.Message) {
	for _, msg := range msgs {
		if !msg.Visible {
			continue
		}
		for _, channel := range msg.Channels {
			out := models.OutboundMessage{
				Body:          msg.Body,
				TargetChannel: channel,
				Pseudonym:     msg.Pseudonym,
			}
			// Per-channel isolation: one adapter failing must not stop
			// delivery through the others.
			for _, errEntry := range d.adapters.DeliverAll(ctx, conversationID, out) {
				log.Error().Err(errEntry.Err).
					Str("conversation", conversationID).
					Str("adapter", errEntry.Adapter).
					Str("channel", channel).
					Msg("adapter delivery failed")
			}
		}
	}
}
