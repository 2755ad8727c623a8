package deliberation

import (
	"context"
	"strconv"
	"strings"

	"github.com/parley/internal/conversation"
	"github.com/parley/pkg/models"
)

// Built-in evaluator kinds. Agent.Params configures each instance, so a
// single evaluator value serves every agent of its kind without shared
// mutable state.
const (
	KindModerator   = "moderator"
	KindParticipant = "participant"
	KindSummarizer  = "summarizer"
)

// ModeratorEvaluator vetoes contributions containing blocked terms and
// silently suppresses visibility for flagged ones (held for review
// rather than refused).
//
// Params:
//
//	block    — comma-separated terms that REJECT the contribution
//	flag     — comma-separated terms that hide it without rejecting
//	rejection — suggestion text surfaced to the originator on veto
type ModeratorEvaluator struct{}

func (ModeratorEvaluator) Evaluate(ctx context.Context, conv *conversation.Conversation, agent conversation.Agent, event *models.InboundEvent) (conversation.EvaluationResult, error) {
	result := conversation.EvaluationResult{
		Action:                  conversation.ActionOK,
		UserContributionVisible: true,
	}
	if event == nil {
		return result, nil
	}

	body := strings.ToLower(event.Body)
	for _, term := range splitParam(agent.Params["block"]) {
		if strings.Contains(body, term) {
			suggestion := agent.Params["rejection"]
			if suggestion == "" {
				suggestion = "contribution blocked by moderation"
			}
			return conversation.EvaluationResult{
				Action:     conversation.ActionReject,
				Suggestion: suggestion,
			}, nil
		}
	}
	for _, term := range splitParam(agent.Params["flag"]) {
		if strings.Contains(body, term) {
			result.UserContributionVisible = false
			break
		}
	}
	return result, nil
}

// ParticipantEvaluator opts in to react to qualifying inbound messages,
// honoring the agent's perMessage channel filter and minimum
// new-message count. Manual agents never contribute autonomously.
type ParticipantEvaluator struct{}

func (ParticipantEvaluator) Evaluate(ctx context.Context, conv *conversation.Conversation, agent conversation.Agent, event *models.InboundEvent) (conversation.EvaluationResult, error) {
	result := conversation.EvaluationResult{
		Action:                  conversation.ActionOK,
		UserContributionVisible: true,
	}
	if event == nil || agent.Trigger.Kind != conversation.TriggerPerMessage {
		return result, nil
	}
	if len(agent.Trigger.Channels) > 0 && !containsString(agent.Trigger.Channels, event.SourceChannel) {
		return result, nil
	}
	if min := agent.Trigger.MinNewMessages; min > 1 {
		// The triggering event itself counts as one new message.
		since := conv.MessagesSince(conv.LastAgentMessageAt(agent.ID))
		if since+1 < min {
			return result, nil
		}
	}
	result.Action = conversation.ActionContribute
	return result, nil
}

// SummarizerEvaluator contributes on its periodic tick whenever enough
// discussion has accumulated since its last summary.
//
// Params:
//
//	min_messages — messages required since the last summary (default 1)
type SummarizerEvaluator struct{}

func (SummarizerEvaluator) Evaluate(ctx context.Context, conv *conversation.Conversation, agent conversation.Agent, event *models.InboundEvent) (conversation.EvaluationResult, error) {
	result := conversation.EvaluationResult{
		Action:                  conversation.ActionOK,
		UserContributionVisible: true,
	}
	if agent.Trigger.Kind != conversation.TriggerPeriodic {
		return result, nil
	}
	minMessages := 1
	if raw := agent.Params["min_messages"]; raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			minMessages = n
		}
	}
	if conv.MessagesSince(conv.LastAgentMessageAt(agent.ID)) < minMessages {
		return result, nil
	}
	result.Action = conversation.ActionContribute
	return result, nil
}

// DefaultRegistry returns a registry with the built-in evaluator kinds.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(KindModerator, ModeratorEvaluator{})
	r.Register(KindParticipant, ParticipantEvaluator{})
	r.Register(KindSummarizer, SummarizerEvaluator{})
	return r
}

func splitParam(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
