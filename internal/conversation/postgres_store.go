package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists conversations across three tables:
// conversations, conversation_messages and conversation_agents. All
// mutations are row-level so two lease-holding writers touching
// different conversations never contend on each other's rows.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

// EnsureSchema creates the conversation tables when absent.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			primary_channel TEXT NOT NULL DEFAULT 'main',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS conversation_messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			body TEXT NOT NULL,
			channels TEXT[] NOT NULL DEFAULT '{}',
			visible BOOLEAN NOT NULL DEFAULT TRUE,
			from_agent BOOLEAN NOT NULL DEFAULT FALSE,
			agent_id TEXT,
			pseudonym TEXT,
			sender TEXT,
			source_channel TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversation_messages_conv
			ON conversation_messages (conversation_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS conversation_agents (
			agent_id TEXT NOT NULL,
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			pseudonym TEXT,
			kind TEXT NOT NULL,
			priority INT NOT NULL DEFAULT 100,
			trigger_kind TEXT NOT NULL,
			trigger_channels TEXT[] NOT NULL DEFAULT '{}',
			min_new_messages INT NOT NULL DEFAULT 0,
			interval_seconds BIGINT NOT NULL DEFAULT 0,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			intro TEXT,
			params JSONB,
			attached_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (conversation_id, agent_id)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, c *Conversation) error {
	now := time.Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO conversations (id, title, primary_channel, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5)
    `, c.ID, c.Title, c.PrimaryChannel, c.CreatedAt, c.UpdatedAt)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Conversation, error) {
	var c Conversation
	err := s.db.QueryRowContext(ctx, `
        SELECT id, title, primary_channel, created_at, updated_at
        FROM conversations WHERE id=$1
    `, id).Scan(&c.ID, &c.Title, &c.PrimaryChannel, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	msgs, err := s.db.QueryContext(ctx, `
        SELECT id, body, channels, visible, from_agent,
               coalesce(agent_id,''), coalesce(pseudonym,''), coalesce(sender,''),
               coalesce(source_channel,''), created_at
        FROM conversation_messages WHERE conversation_id=$1 ORDER BY created_at, id
    `, id)
	if err != nil {
		return nil, err
	}
	defer msgs.Close()
	c.Messages = make([]Message, 0)
	for msgs.Next() {
		var m Message
		var channels []string
		if err := msgs.Scan(&m.ID, &m.Body, pq.Array(&channels), &m.Visible, &m.FromAgent,
			&m.AgentID, &m.Pseudonym, &m.Sender, &m.SourceChannel, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Channels = channels
		c.Messages = append(c.Messages, m)
	}
	if err := msgs.Err(); err != nil {
		return nil, err
	}

	agents, err := s.db.QueryContext(ctx, `
        SELECT agent_id, name, coalesce(pseudonym,''), kind, priority,
               trigger_kind, trigger_channels, min_new_messages, interval_seconds,
               active, coalesce(intro,''), params, attached_at
        FROM conversation_agents WHERE conversation_id=$1 ORDER BY attached_at, agent_id
    `, id)
	if err != nil {
		return nil, err
	}
	defer agents.Close()
	c.Agents = make([]Agent, 0)
	for agents.Next() {
		var a Agent
		var channels []string
		var intervalSecs int64
		var paramsJSON sql.NullString
		if err := agents.Scan(&a.ID, &a.Name, &a.Pseudonym, &a.Kind, &a.Priority,
			&a.Trigger.Kind, pq.Array(&channels), &a.Trigger.MinNewMessages, &intervalSecs,
			&a.Active, &a.Intro, &paramsJSON, &a.AttachedAt); err != nil {
			return nil, err
		}
		a.Trigger.Channels = channels
		a.Trigger.Interval = time.Duration(intervalSecs) * time.Second
		if paramsJSON.Valid && paramsJSON.String != "" {
			if err := json.Unmarshal([]byte(paramsJSON.String), &a.Params); err != nil {
				return nil, err
			}
		}
		c.Agents = append(c.Agents, a)
	}
	if err := agents.Err(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PostgresStore) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM conversations ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) AppendMessage(ctx context.Context, conversationID string, m *Message) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO conversation_messages
            (id, conversation_id, body, channels, visible, from_agent, agent_id, pseudonym, sender, source_channel, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
    `, m.ID, conversationID, m.Body, pq.Array(ensureSliceNotNil(m.Channels)), m.Visible, m.FromAgent,
		nullIfEmpty(m.AgentID), nullIfEmpty(m.Pseudonym), nullIfEmpty(m.Sender), nullIfEmpty(m.SourceChannel), m.CreatedAt)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `UPDATE conversations SET updated_at=$1 WHERE id=$2`, m.CreatedAt, conversationID)
	return err
}

func (s *PostgresStore) AttachAgent(ctx context.Context, conversationID string, a *Agent) error {
	var paramsJSON []byte
	var err error
	if a.Params != nil {
		paramsJSON, err = json.Marshal(a.Params)
		if err != nil {
			return err
		}
	}
	if a.AttachedAt.IsZero() {
		a.AttachedAt = time.Now()
	}
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO conversation_agents
            (agent_id, conversation_id, name, pseudonym, kind, priority, trigger_kind,
             trigger_channels, min_new_messages, interval_seconds, active, intro, params, attached_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
        ON CONFLICT (conversation_id, agent_id) DO UPDATE SET
            name=EXCLUDED.name, pseudonym=EXCLUDED.pseudonym, kind=EXCLUDED.kind,
            priority=EXCLUDED.priority, trigger_kind=EXCLUDED.trigger_kind,
            trigger_channels=EXCLUDED.trigger_channels, min_new_messages=EXCLUDED.min_new_messages,
            interval_seconds=EXCLUDED.interval_seconds, active=EXCLUDED.active,
            intro=EXCLUDED.intro, params=EXCLUDED.params
    `, a.ID, conversationID, a.Name, nullIfEmpty(a.Pseudonym), a.Kind, a.Priority, string(a.Trigger.Kind),
		pq.Array(ensureSliceNotNil(a.Trigger.Channels)), a.Trigger.MinNewMessages,
		int64(a.Trigger.Interval/time.Second), a.Active, nullIfEmpty(a.Intro), paramsJSON, a.AttachedAt)
	return err
}

func (s *PostgresStore) DetachAgent(ctx context.Context, conversationID, agentID string) error {
	res, err := s.db.ExecContext(ctx, `
        DELETE FROM conversation_agents WHERE conversation_id=$1 AND agent_id=$2
    `, conversationID, agentID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SetAgentActive(ctx context.Context, conversationID, agentID string, active bool) error {
	res, err := s.db.ExecContext(ctx, `
        UPDATE conversation_agents SET active=$1 WHERE conversation_id=$2 AND agent_id=$3
    `, active, conversationID, agentID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func ensureSliceNotNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
