package conversation

// Domain models for the deliberation graph (conversations, messages,
// attached agents). A conversation is an append-only list of messages
// plus the set of agents deliberating over it. The conversation owns no
// locking state; mutual exclusion is external, keyed by conversation id.

import "time"

// TriggerKind is an agent's policy for when it autonomously reacts.
type TriggerKind string

const (
	// TriggerManual agents never react on their own.
	TriggerManual TriggerKind = "manual"
	// TriggerPerMessage agents react to qualifying inbound messages.
	TriggerPerMessage TriggerKind = "perMessage"
	// TriggerPeriodic agents react on a fixed wall-clock interval.
	TriggerPeriodic TriggerKind = "periodic"
)

// Trigger declares exactly one reaction policy per agent.
type Trigger struct {
	Kind TriggerKind `json:"kind"`

	// perMessage options
	Channels       []string `json:"channels,omitempty"`         // empty = any channel
	MinNewMessages int      `json:"min_new_messages,omitempty"` // 0 = every message

	// periodic options
	Interval time.Duration `json:"interval,omitempty"`
}

// Agent is a participant evaluated on every inbound event. Lower
// priority values are evaluated first and can veto before later agents
// run. Params carry evaluator- and generator-specific knobs (keyword
// lists, model names) so agents stay free of shared mutable state.
type Agent struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Pseudonym  string            `json:"pseudonym,omitempty"`
	Kind       string            `json:"kind"`
	Priority   int               `json:"priority"`
	Trigger    Trigger           `json:"trigger"`
	Active     bool              `json:"active"`
	Intro      string            `json:"intro,omitempty"`
	Params     map[string]string `json:"params,omitempty"`
	AttachedAt time.Time         `json:"attached_at"`
}

// Message is immutable once created. Visibility is decided exactly once,
// at creation time, by the evaluation pipeline.
type Message struct {
	ID            string    `json:"id"`
	Body          string    `json:"body"`
	Channels      []string  `json:"channels"`
	Visible       bool      `json:"visible"`
	FromAgent     bool      `json:"from_agent"`
	AgentID       string    `json:"agent_id,omitempty"`
	Pseudonym     string    `json:"pseudonym,omitempty"`
	Sender        string    `json:"sender,omitempty"`
	SourceChannel string    `json:"source_channel,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Conversation is the only shared mutable resource in the system. It is
// mutated only while holding the lease lock for its id.
type Conversation struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	PrimaryChannel string    `json:"primary_channel"`
	Messages       []Message `json:"messages"`
	Agents         []Agent   `json:"agents"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ActiveAgents returns the agents currently participating, in
// attachment order. Attachment order is the tie-break for equal
// priorities.
func (c *Conversation) ActiveAgents() []Agent {
	out := make([]Agent, 0, len(c.Agents))
	for _, a := range c.Agents {
		if a.Active {
			out = append(out, a)
		}
	}
	return out
}

// Agent returns the attached agent with the given id, active or not.
func (c *Conversation) Agent(id string) (Agent, bool) {
	for _, a := range c.Agents {
		if a.ID == id {
			return a, true
		}
	}
	return Agent{}, false
}

// MessagesSince counts messages created after t. Used by perMessage
// agents with a minimum new-message threshold.
func (c *Conversation) MessagesSince(t time.Time) int {
	n := 0
	for _, m := range c.Messages {
		if m.CreatedAt.After(t) {
			n++
		}
	}
	return n
}

// LastAgentMessageAt returns the creation time of the agent's most
// recent contribution, or the zero time if it has none.
func (c *Conversation) LastAgentMessageAt(agentID string) time.Time {
	var last time.Time
	for _, m := range c.Messages {
		if m.FromAgent && m.AgentID == agentID && m.CreatedAt.After(last) {
			last = m.CreatedAt
		}
	}
	return last
}

// Action is a per-agent verdict produced during evaluation.
type Action string

const (
	ActionOK         Action = "ok"
	ActionReject     Action = "reject"
	ActionContribute Action = "contribute"
)

// EvaluationResult is produced once per agent per inbound event. It is
// never persisted; the pipeline consumes it immediately.
type EvaluationResult struct {
	Action                  Action
	UserContributionVisible bool
	Suggestion              string
}

// Draft is an agent-authored message before dispatch assigns its
// defaults (primary channel, visible).
type Draft struct {
	Body     string   `json:"body"`
	Channels []string `json:"channels,omitempty"`
	Visible  *bool    `json:"visible,omitempty"`
}
