package generate

import (
	"strings"
	"testing"
	"time"

	"github.com/parley/internal/conversation"
	"github.com/parley/internal/deliberation"
	"github.com/parley/pkg/models"
)

func agentFixture() conversation.Agent {
	return conversation.Agent{
		ID:        "agent-1",
		Name:      "socratic",
		Pseudonym: "Socrates",
		Params:    map[string]string{"persona": "You ask probing questions and never lecture."},
	}
}

func contextFixture() deliberation.GenerationContext {
	return deliberation.GenerationContext{
		ConversationID: "conv-1",
		Title:          "On Justice",
		PrimaryChannel: "main",
		Transcript: []conversation.Message{
			{Body: "what is justice?", Sender: "alice", CreatedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)},
		},
		Trigger: &models.InboundEvent{Body: "what is justice?", Sender: "alice"},
	}
}


func TestParseDrafts_PlainArray(t *testing.T) {
	raw := `[{"body": "Hello everyone", "channels": ["main"], "visible": true}]`

	drafts, err := ParseDrafts(raw)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(drafts) != 1 {
		t.Fatalf("Expected 1 draft, got %d", len(drafts))
	}

	if drafts[0].Body != "Hello everyone" {
		t.Errorf("Expected body 'Hello everyone', got %q", drafts[0].Body)
	}

	if len(drafts[0].Channels) != 1 || drafts[0].Channels[0] != "main" {
		t.Errorf("Expected channels [main], got %v", drafts[0].Channels)
	}

	if drafts[0].Visible == nil || !*drafts[0].Visible {
		t.Error("Expected visible=true")
	}
}

func TestParseDrafts_EmptyArrayMeansSilence(t *testing.T) {
	drafts, err := ParseDrafts("[]")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(drafts) != 0 {
		t.Errorf("Expected 0 drafts, got %d", len(drafts))
	}
}

func TestParseDrafts_CodeFence(t *testing.T) {
	raw := "Here are my thoughts:\n```json\n[{\"body\": \"fenced reply\"}]\n```\nHope that helps!"

	drafts, err := ParseDrafts(raw)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(drafts) != 1 || drafts[0].Body != "fenced reply" {
		t.Errorf("Expected single draft 'fenced reply', got %v", drafts)
	}
}

func TestParseDrafts_BareObjectIsSingleDraft(t *testing.T) {
	drafts, err := ParseDrafts(`{"body": "just one"}`)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(drafts) != 1 || drafts[0].Body != "just one" {
		t.Errorf("Expected single draft 'just one', got %v", drafts)
	}

	if drafts[0].Visible != nil {
		t.Error("Expected visible to be unset when the model omits it")
	}
}

func TestParseDrafts_SurroundingProse(t *testing.T) {
	raw := `Sure! Here is my response: [{"body": "embedded"}] Let me know if you need more.`

	drafts, err := ParseDrafts(raw)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(drafts) != 1 || drafts[0].Body != "embedded" {
		t.Errorf("Expected single draft 'embedded', got %v", drafts)
	}
}

func TestParseDrafts_RepairsTrailingComma(t *testing.T) {
	raw := `[{"body": "needs repair",}]`

	drafts, err := ParseDrafts(raw)
	if err != nil {
		t.Fatalf("Expected repair to succeed, got: %v", err)
	}

	if len(drafts) != 1 || drafts[0].Body != "needs repair" {
		t.Errorf("Expected single draft 'needs repair', got %v", drafts)
	}
}

func TestParseDrafts_DropsBlankBodies(t *testing.T) {
	raw := `[{"body": "  "}, {"body": "kept"}]`

	drafts, err := ParseDrafts(raw)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(drafts) != 1 || drafts[0].Body != "kept" {
		t.Errorf("Expected only the non-blank draft, got %v", drafts)
	}
}

func TestParseDrafts_NoJSON(t *testing.T) {
	if _, err := ParseDrafts("I have nothing structured to say."); err == nil {
		t.Error("Expected an error when the response has no JSON")
	}
}

func TestBuildPrompt_IncludesPersonaAndTranscript(t *testing.T) {
	agent := agentFixture()
	genCtx := contextFixture()

	prompt := BuildPrompt(agent, genCtx)

	for _, want := range []string{"Socrates", "ask probing questions", "alice: what is justice?", "JSON array"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("Expected prompt to contain %q", want)
		}
	}
}

func TestBuildPrompt_NilTriggerAsksForUnpromptedContribution(t *testing.T) {
	agent := agentFixture()
	genCtx := contextFixture()
	genCtx.Trigger = nil

	prompt := BuildPrompt(agent, genCtx)

	if !strings.Contains(prompt, "No single message triggered you") {
		t.Error("Expected unprompted wording when there is no triggering message")
	}
}
