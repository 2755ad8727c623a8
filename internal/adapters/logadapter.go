package adapters

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/parley/pkg/models"
)

// LogAdapter writes every delivery to the structured log. Useful in
// development and as the fallback sink when no platform is configured.
type LogAdapter struct{}

func (LogAdapter) Name() string { return "log" }

func (LogAdapter) Deliver(ctx context.Context, conversationID string, msg models.OutboundMessage) error {
	log.Info().
		Str("conversation", conversationID).
		Str("channel", msg.TargetChannel).
		Str("pseudonym", msg.Pseudonym).
		Str("body", msg.Body).
		Msg("outbound message")
	return nil
}
