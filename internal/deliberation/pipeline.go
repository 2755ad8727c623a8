// Package deliberation implements the orchestration core: the
// priority-ordered evaluation pipeline, the trigger scheduler that moves
// agent reactions off the request path, and response dispatch.
package deliberation

import (
	"context"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/parley/internal/conversation"
	"github.com/parley/pkg/models"
)

// Evaluator produces a per-agent verdict for an inbound event. A nil
// event is the periodic case: there is nothing to reject or hide, only
// the question of whether the agent wants to contribute now.
type Evaluator interface {
	Evaluate(ctx context.Context, conv *conversation.Conversation, agent conversation.Agent, event *models.InboundEvent) (conversation.EvaluationResult, error)
}

// Registry resolves an agent kind to its evaluator.
type Registry struct {
	evaluators map[string]Evaluator
}

func NewRegistry() *Registry {
	return &Registry{evaluators: make(map[string]Evaluator)}
}

func (r *Registry) Register(kind string, ev Evaluator) {
	r.evaluators[kind] = ev
}

func (r *Registry) Resolve(kind string) (Evaluator, bool) {
	ev, ok := r.evaluators[kind]
	return ev, ok
}

// Outcome is the pipeline's decision for one inbound event.
type Outcome struct {
	Accept     bool
	Visible    bool
	Suggestion string
	RejectedBy string
	// Reactors are the agents that opted to contribute, in evaluation
	// order. The scheduler enqueues one asynchronous job per reactor.
	Reactors []conversation.Agent
}

// Pipeline runs the deterministic accept/reject/veto-visibility protocol.
// It must be invoked while holding the conversation's lease lock.
type Pipeline struct {
	registry *Registry
}

func NewPipeline(registry *Registry) *Pipeline {
	return &Pipeline{registry: registry}
}

// Evaluate walks the conversation's active agents by ascending priority
// (ties broken by attachment order) and short-circuits on the first
// REJECT. With a nil event only periodic agents are polled.
func (p *Pipeline) Evaluate(ctx context.Context, conv *conversation.Conversation, event *models.InboundEvent) (Outcome, error) {
	agents := conv.ActiveAgents()
	if event == nil {
		periodic := agents[:0:0]
		for _, a := range agents {
			if a.Trigger.Kind == conversation.TriggerPeriodic {
				periodic = append(periodic, a)
			}
		}
		agents = periodic
	}
	sort.SliceStable(agents, func(i, j int) bool {
		return agents[i].Priority < agents[j].Priority
	})

	outcome := Outcome{Accept: true, Visible: true}
	for _, agent := range agents {
		ev, ok := p.registry.Resolve(agent.Kind)
		if !ok {
			// Same treatment as a failing evaluator: a misconfigured
			// agent must not block the conversation.
			log.Error().
				Str("conversation", conv.ID).
				Str("agent", agent.ID).
				Str("kind", agent.Kind).
				Msg("no evaluator registered for agent kind; skipping")
			continue
		}

		result, err := ev.Evaluate(ctx, conv, agent, event)
		if err != nil {
			// One broken agent must not block the conversation or the
			// remaining agents; treat it as a silent OK.
			log.Error().Err(err).
				Str("conversation", conv.ID).
				Str("agent", agent.ID).
				Msg("agent evaluation failed; skipping")
			continue
		}

		switch result.Action {
		case conversation.ActionReject:
			// First veto wins: nothing is persisted and no further
			// agents are evaluated.
			return Outcome{
				Accept:     false,
				Suggestion: result.Suggestion,
				RejectedBy: agent.ID,
			}, nil
		case conversation.ActionContribute:
			outcome.Reactors = append(outcome.Reactors, agent)
		}

		// Suppression is sticky: once any agent hides the contribution
		// it stays hidden regardless of later verdicts.
		if event != nil && !result.UserContributionVisible {
			outcome.Visible = false
		}
	}
	return outcome, nil
}
