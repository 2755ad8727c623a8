/*
Package generate produces agent messages with langchaingo-backed model
connectors. It renders a conversation transcript into a prompt, calls
the configured provider with retry, and parses the JSON draft list out
of whatever the model returns.
*/
package generate

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/parley/internal/conversation"
	"github.com/parley/internal/deliberation"
	"github.com/parley/internal/retry"
)

// LLMGenerator implements deliberation.Generator on a Connector.
type LLMGenerator struct {
	connector   *Connector
	retryConfig retry.RetryConfig
}

// NewLLMGenerator wraps a connector with LLM-tuned retry behavior.
func NewLLMGenerator(connector *Connector) *LLMGenerator {
	return &LLMGenerator{
		connector:   connector,
		retryConfig: retry.LLMRetryConfig(),
	}
}

// Generate renders the prompt for one agent and returns its drafts.
// Zero drafts means the agent declined to respond.
func (g *LLMGenerator) Generate(ctx context.Context, agent conversation.Agent, genCtx deliberation.GenerationContext) ([]conversation.Draft, error) {
	prompt := BuildPrompt(agent, genCtx)

	var raw string
	result := retry.RetryWithBackoffAndReason(ctx, g.retryConfig, func() (error, string) {
		var err error
		raw, err = g.connector.Call(ctx, prompt)
		if err != nil {
			if retry.IsRetryableError(err) {
				return err, "provider_error"
			}
			return err, "non_retryable"
		}
		return nil, "success"
	})
	if !result.Success {
		return nil, fmt.Errorf("model call failed after %d attempts: %w", result.Attempts, result.LastError)
	}

	drafts, err := ParseDrafts(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse drafts from model response: %w", err)
	}

	log.Debug().
		Str("agent", agent.ID).
		Str("conversation", genCtx.ConversationID).
		Int("drafts", len(drafts)).
		Msg("generated agent drafts")
	return drafts, nil
}

// BuildPrompt renders the persona, transcript, and response contract
// into a single prompt string.
func BuildPrompt(agent conversation.Agent, genCtx deliberation.GenerationContext) string {
	var b strings.Builder

	b.WriteString("You are \"")
	b.WriteString(agent.Pseudonym)
	b.WriteString("\", a participant in a group conversation")
	if genCtx.Title != "" {
		b.WriteString(" titled \"")
		b.WriteString(genCtx.Title)
		b.WriteString("\"")
	}
	b.WriteString(".\n")

	if persona := agent.Params["persona"]; persona != "" {
		b.WriteString("\nYour persona:\n")
		b.WriteString(persona)
		b.WriteString("\n")
	}

	b.WriteString("\nTranscript so far (oldest first):\n")
	if len(genCtx.Transcript) == 0 {
		b.WriteString("(no messages yet)\n")
	}
	for _, msg := range genCtx.Transcript {
		b.WriteString(transcriptLine(msg))
	}

	if genCtx.Trigger != nil {
		b.WriteString("\nYou are responding to the most recent message from ")
		b.WriteString(speakerName(genCtx.Trigger.Sender))
		b.WriteString(".\n")
	} else {
		b.WriteString("\nNo single message triggered you; offer whatever contribution suits the conversation now, if any.\n")
	}

	b.WriteString(`
Respond with a JSON array of zero or more drafts. Each draft is an
object with a "body" string and optional "channels" (array of channel
names) and "visible" (boolean) fields. Respond with [] if you have
nothing worth adding. Do not include any text outside the JSON.
`)

	return b.String()
}

func transcriptLine(msg conversation.Message) string {
	speaker := speakerName(msg.Sender)
	if msg.FromAgent {
		speaker = msg.Pseudonym
	}
	line := fmt.Sprintf("[%s] %s: %s\n", msg.CreatedAt.Format("15:04"), speaker, msg.Body)
	if !msg.Visible {
		line = fmt.Sprintf("[%s] %s (hidden): %s\n", msg.CreatedAt.Format("15:04"), speaker, msg.Body)
	}
	return line
}

func speakerName(sender string) string {
	if strings.TrimSpace(sender) == "" {
		return "a participant"
	}
	return sender
}
