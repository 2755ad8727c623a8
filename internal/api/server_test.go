package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/parley/internal/conversation"
	"github.com/parley/internal/deliberation"
	"github.com/parley/pkg/models"
)

// stubOrchestrator lets handler tests script the deliberation outcome.
type stubOrchestrator struct {
	store      conversation.Store
	rejectWith *deliberation.RejectionError

	activated   []conversation.Agent
	deactivated []string
}

func (s *stubOrchestrator) SubmitMessage(ctx context.Context, conversationID string, event models.InboundEvent) (*conversation.Message, error) {
	if _, err := s.store.Get(ctx, conversationID); err != nil {
		return nil, err
	}
	if s.rejectWith != nil {
		return nil, s.rejectWith
	}
	msg := &conversation.Message{
		ID:            "msg-1",
		Body:          event.Body,
		Sender:        event.Sender,
		SourceChannel: event.SourceChannel,
		Visible:       true,
		CreatedAt:     time.Now().UTC(),
	}
	return msg, nil
}

func (s *stubOrchestrator) ActivateAgent(ctx context.Context, conversationID string, agent conversation.Agent) error {
	if _, err := s.store.Get(ctx, conversationID); err != nil {
		return err
	}
	s.activated = append(s.activated, agent)
	return nil
}

func (s *stubOrchestrator) DeactivateAgent(ctx context.Context, conversationID, agentID string) error {
	if _, err := s.store.Get(ctx, conversationID); err != nil {
		return err
	}
	s.deactivated = append(s.deactivated, agentID)
	return nil
}

type apiFixture struct {
	server  *Server
	store   *conversation.InMemoryStore
	orch    *stubOrchestrator
	authHdr string
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	store := conversation.NewInMemoryStore()
	orch := &stubOrchestrator{store: store}
	server := NewServer(ServerConfig{
		Addr:          ":0",
		JWTSecret:     "test-secret",
		WebhookSecret: "hook-secret",
		Store:         store,
		Service:       orch,
		Registry:      deliberation.DefaultRegistry(),
	})

	token, _, err := server.tokens.CreateAccessToken(1, "tester@example.com")
	require.NoError(t, err)

	return &apiFixture{
		server:  server,
		store:   store,
		orch:    orch,
		authHdr: "Bearer " + token,
	}
}

func (f *apiFixture) request(t *testing.T, method, path, body string, authed bool) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if authed {
		req.Header.Set("Authorization", f.authHdr)
	}
	rec := httptest.NewRecorder()
	f.server.echo.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) seedConversation(t *testing.T, id string) {
	t.Helper()
	err := f.store.Create(context.Background(), &conversation.Conversation{
		ID:             id,
		Title:          "Test",
		PrimaryChannel: "main",
		CreatedAt:      time.Now().UTC(),
	})
	require.NoError(t, err)
}

func TestHealthEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.request(t, http.MethodGet, "/health", "", false)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestPostMessageAccepted(t *testing.T) {
	f := newAPIFixture(t)
	f.seedConversation(t, "conv-1")

	rec := f.request(t, http.MethodPost, "/api/v1/conversations/conv-1/messages",
		`{"body": "hello there", "sender": "alice"}`, true)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var msg conversation.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msg))
	require.Equal(t, "hello there", msg.Body)
}

func TestPostMessageRejectedSurfacesSuggestion(t *testing.T) {
	f := newAPIFixture(t)
	f.seedConversation(t, "conv-1")
	f.orch.rejectWith = &deliberation.RejectionError{
		AgentID:    "moderator-1",
		Suggestion: "Please rephrase without the insult.",
	}

	rec := f.request(t, http.MethodPost, "/api/v1/conversations/conv-1/messages",
		`{"body": "you fool", "sender": "alice"}`, true)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "Please rephrase without the insult.", resp["suggestion"])
	require.Equal(t, "moderator-1", resp["agent_id"])
}

func TestPostMessageUnknownConversation(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.request(t, http.MethodPost, "/api/v1/conversations/nope/messages",
		`{"body": "hello"}`, true)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPostMessageRequiresAuth(t *testing.T) {
	f := newAPIFixture(t)
	f.seedConversation(t, "conv-1")

	rec := f.request(t, http.MethodPost, "/api/v1/conversations/conv-1/messages",
		`{"body": "hello"}`, false)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateAndGetConversation(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.request(t, http.MethodPost, "/api/v1/conversations",
		`{"title": "Planning", "primary_channel": "general"}`, true)
	require.Equal(t, http.StatusCreated, rec.Code)

	var conv conversation.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conv))
	require.NotEmpty(t, conv.ID)
	require.Equal(t, "general", conv.PrimaryChannel)

	rec = f.request(t, http.MethodGet, "/api/v1/conversations/"+conv.ID, "", true)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateConversationDefaultsPrimaryChannel(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.request(t, http.MethodPost, "/api/v1/conversations", `{"title": "Untitled"}`, true)
	require.Equal(t, http.StatusCreated, rec.Code)

	var conv conversation.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conv))
	require.Equal(t, "main", conv.PrimaryChannel)
}

func TestAttachAgentAppliesDefaults(t *testing.T) {
	f := newAPIFixture(t)
	f.seedConversation(t, "conv-1")

	rec := f.request(t, http.MethodPost, "/api/v1/conversations/conv-1/agents",
		`{"name": "mod", "kind": "moderator", "priority": 10}`, true)
	require.Equal(t, http.StatusCreated, rec.Code)

	require.Len(t, f.orch.activated, 1)
	agent := f.orch.activated[0]
	require.Equal(t, conversation.TriggerPerMessage, agent.Trigger.Kind)
	require.Equal(t, "mod", agent.Pseudonym)
	require.True(t, agent.Active)
	require.NotEmpty(t, agent.ID)
}

func TestAttachAgentRejectsUnknownKind(t *testing.T) {
	f := newAPIFixture(t)
	f.seedConversation(t, "conv-1")

	rec := f.request(t, http.MethodPost, "/api/v1/conversations/conv-1/agents",
		`{"name": "ghost", "kind": "mystery"}`, true)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Empty(t, f.orch.activated, "an agent without an evaluator must never be attached")
}

func TestDetachAgent(t *testing.T) {
	f := newAPIFixture(t)
	f.seedConversation(t, "conv-1")

	rec := f.request(t, http.MethodDelete, "/api/v1/conversations/conv-1/agents/agent-9", "", true)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, []string{"agent-9"}, f.orch.deactivated)
}

func TestHookRequiresSecret(t *testing.T) {
	f := newAPIFixture(t)
	f.seedConversation(t, "conv-1")

	req := httptest.NewRequest(http.MethodPost, "/hooks/slack",
		strings.NewReader(`{"conversation_id": "conv-1", "body": "from slack"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.server.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHookSubmitsMessage(t *testing.T) {
	f := newAPIFixture(t)
	f.seedConversation(t, "conv-1")

	req := httptest.NewRequest(http.MethodPost, "/hooks/slack",
		strings.NewReader(`{"conversation_id": "conv-1", "body": "from slack", "sender": "bob"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Parley-Secret", "hook-secret")
	rec := httptest.NewRecorder()
	f.server.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "msg-1", resp["message_id"])
}

func TestHookRateLimitIsPerAdapter(t *testing.T) {
	f := newAPIFixture(t)

	// Exhaust the slack adapter's burst; the secret check happens after
	// the limiter, so unauthenticated requests still consume tokens.
	for i := 0; i < 20; i++ {
		rec := f.request(t, http.MethodPost, "/hooks/slack", `{}`, false)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}
	rec := f.request(t, http.MethodPost, "/hooks/slack", `{}`, false)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec = f.request(t, http.MethodPost, "/hooks/discord", `{}`, false)
	require.Equal(t, http.StatusUnauthorized, rec.Code, "other adapters keep their own budget")
}

func TestTokenRoundTrip(t *testing.T) {
	ts := NewTokenService("round-trip-secret")

	token, expiresAt, err := ts.CreateAccessToken(42, "claims@example.com")
	require.NoError(t, err)
	require.True(t, expiresAt.After(time.Now()))

	claims, err := ts.ValidateAccessToken(token)
	require.NoError(t, err)
	require.Equal(t, int64(42), claims.UserID)
	require.Equal(t, "claims@example.com", claims.Email)
}

func TestTokenRejectsWrongSecret(t *testing.T) {
	ts := NewTokenService("secret-a")
	other := NewTokenService("secret-b")

	token, _, err := ts.CreateAccessToken(1, "a@example.com")
	require.NoError(t, err)

	_, err = other.ValidateAccessToken(token)
	require.Error(t, err)
}
