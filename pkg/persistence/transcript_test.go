package persistence_test

import (
	"strings"
	"testing"
	"time"

	"agentcore/pkg/llm"
	"agentcore/pkg/persistence"
)

func openTestStore(t *testing.T) *persistence.Store {
	t.Helper()
	store, err := persistence.Open(":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestOpenCreatesFreshSchema(t *testing.T) {
	store := openTestStore(t)

	totals, err := store.Usage()
	if err != nil {
		t.Fatalf("Usage failed: %v", err)
	}
	if totals.Conversations != 0 || totals.TotalTokens != 0 {
		t.Errorf("expected empty store, got %+v", totals)
	}

	conversations, err := store.ListConversations(0)
	if err != nil {
		t.Fatalf("ListConversations failed: %v", err)
	}
	if len(conversations) != 0 {
		t.Errorf("expected no conversations, got %d", len(conversations))
	}
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	if _, err := persistence.Open(""); err == nil {
		t.Fatal("expected error for empty database path")
	}
}

func TestSaveConversationUpsert(t *testing.T) {
	store := openTestStore(t)

	first := &persistence.Conversation{
		ID:        "conv-1",
		Status:    "active",
		TurnCount: 1,
	}
	if err := store.SaveConversation(first); err != nil {
		t.Fatalf("first save failed: %v", err)
	}

	final := &persistence.Conversation{
		ID:               "conv-1",
		Status:           "completed",
		TurnCount:        3,
		Model:            "claude-sonnet-4-20250514",
		Summary:          "refactored the parser",
		PromptTokens:     900,
		CompletionTokens: 120,
		TotalTokens:      1020,
	}
	if err := store.SaveConversation(final); err != nil {
		t.Fatalf("second save failed: %v", err)
	}

	got, err := store.GetConversation("conv-1")
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if got.Status != "completed" {
		t.Errorf("expected status completed, got %s", got.Status)
	}
	if got.TurnCount != 3 {
		t.Errorf("expected 3 turns, got %d", got.TurnCount)
	}
	if got.Summary != "refactored the parser" {
		t.Errorf("unexpected summary %q", got.Summary)
	}
	if got.TotalTokens != 1020 {
		t.Errorf("expected 1020 total tokens, got %d", got.TotalTokens)
	}
	if got.UpdatedAt.Before(got.CreatedAt) {
		t.Errorf("updated_at %v precedes created_at %v", got.UpdatedAt, got.CreatedAt)
	}
}

func TestSaveConversationRequiresID(t *testing.T) {
	store := openTestStore(t)

	err := store.SaveConversation(&persistence.Conversation{Status: "active"})
	if err == nil {
		t.Fatal("expected error for missing conversation ID")
	}
}

func TestGetConversationNotFound(t *testing.T) {
	store := openTestStore(t)

	_, err := store.GetConversation("missing")
	if err == nil {
		t.Fatal("expected error for unknown conversation")
	}
	if !strings.Contains(err.Error(), "conversation not found") {
		t.Errorf("expected not-found error, got: %v", err)
	}
}

func TestSaveTranscriptRoundTrip(t *testing.T) {
	store := openTestStore(t)

	msgs := []llm.CompletionMessage{
		llm.NewSystemMessage("You are a coding agent."),
		llm.NewUserMessage("Run the tests."),
		{
			Role:    llm.RoleAssistant,
			Content: "Running them now.",
			ToolCalls: []llm.ToolCall{
				{ID: "call_1", Name: "run_tests", Parameters: map[string]any{"dir": "./..."}},
			},
		},
		{
			Role: llm.RoleUser,
			ToolResults: []llm.ToolResult{
				{ToolCallID: "call_1", Name: "run_tests", Content: "2 failures", IsError: true},
			},
		},
	}

	conv := &persistence.Conversation{ID: "conv-rt", Status: "completed", TurnCount: 2}
	if err := store.SaveTranscript(conv, msgs); err != nil {
		t.Fatalf("SaveTranscript failed: %v", err)
	}

	rows, err := store.MessagesFor("conv-rt")
	if err != nil {
		t.Fatalf("MessagesFor failed: %v", err)
	}
	if len(rows) != len(msgs) {
		t.Fatalf("expected %d messages, got %d", len(msgs), len(rows))
	}

	restored, err := persistence.Transcript(rows)
	if err != nil {
		t.Fatalf("Transcript failed: %v", err)
	}

	for i, msg := range restored {
		if msg.Role != msgs[i].Role {
			t.Errorf("message %d: expected role %s, got %s", i, msgs[i].Role, msg.Role)
		}
		if msg.Content != msgs[i].Content {
			t.Errorf("message %d: content mismatch", i)
		}
	}

	calls := restored[2].ToolCalls
	if len(calls) != 1 {
		t.Fatalf("expected 1 restored tool call, got %d", len(calls))
	}
	if calls[0].ID != "call_1" || calls[0].Name != "run_tests" {
		t.Errorf("unexpected restored call: %+v", calls[0])
	}
	if dir, ok := calls[0].Parameters["dir"].(string); !ok || dir != "./..." {
		t.Errorf("expected dir parameter to survive, got %v", calls[0].Parameters)
	}

	results := restored[3].ToolResults
	if len(results) != 1 {
		t.Fatalf("expected 1 restored tool result, got %d", len(results))
	}
	if !results[0].IsError {
		t.Error("expected error flag to survive the round trip")
	}
	if results[0].Content != "2 failures" {
		t.Errorf("unexpected restored result content %q", results[0].Content)
	}
}

func TestSaveMessagesReplacesSnapshot(t *testing.T) {
	store := openTestStore(t)

	conv := &persistence.Conversation{ID: "conv-snap", Status: "active"}
	long := []llm.CompletionMessage{
		llm.NewSystemMessage("sys"),
		llm.NewUserMessage("first"),
		llm.NewUserMessage("second"),
	}
	if err := store.SaveTranscript(conv, long); err != nil {
		t.Fatalf("initial SaveTranscript failed: %v", err)
	}

	// A truncated transcript replaces the stored one instead of appending.
	short := []llm.CompletionMessage{
		llm.NewSystemMessage("sys"),
		llm.NewUserMessage("second"),
	}
	if err := store.SaveTranscript(conv, short); err != nil {
		t.Fatalf("second SaveTranscript failed: %v", err)
	}

	rows, err := store.MessagesFor("conv-snap")
	if err != nil {
		t.Fatalf("MessagesFor failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected replaced transcript of 2 messages, got %d", len(rows))
	}
	if rows[1].Content != "second" {
		t.Errorf("unexpected final message %q", rows[1].Content)
	}
}

func TestRecordStepCreatesStubConversation(t *testing.T) {
	store := openTestStore(t)

	step := &persistence.Step{
		ConversationID:   "conv-steps",
		Turn:             1,
		EntryID:          "anthropic",
		Model:            "claude-sonnet-4-20250514",
		ToolCalls:        2,
		PromptTokens:     100,
		CompletionTokens: 30,
		TotalTokens:      130,
		DurationMS:       842,
	}
	if err := store.RecordStep(step); err != nil {
		t.Fatalf("RecordStep failed: %v", err)
	}

	// The step arrived before any conversation save; a stub row satisfies
	// the foreign key.
	conv, err := store.GetConversation("conv-steps")
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if conv.Status != "active" {
		t.Errorf("expected stub conversation to be active, got %s", conv.Status)
	}

	steps, err := store.StepsFor("conv-steps")
	if err != nil {
		t.Fatalf("StepsFor failed: %v", err)
	}
	if len(steps) != 1 {
		t.Fatalf("expected 1 step, got %d", len(steps))
	}
	if steps[0].EntryID != "anthropic" || steps[0].DurationMS != 842 {
		t.Errorf("unexpected step row: %+v", steps[0])
	}

	// Finishing the run upgrades the stub without losing the step.
	final := &persistence.Conversation{ID: "conv-steps", Status: "completed", TurnCount: 1}
	if err := store.SaveConversation(final); err != nil {
		t.Fatalf("final save failed: %v", err)
	}
	steps, err = store.StepsFor("conv-steps")
	if err != nil {
		t.Fatalf("StepsFor after upsert failed: %v", err)
	}
	if len(steps) != 1 {
		t.Errorf("expected step to survive conversation upsert, got %d", len(steps))
	}
}

func TestStepsForReturnsTurnOrder(t *testing.T) {
	store := openTestStore(t)

	for _, turn := range []int{2, 1, 3} {
		step := &persistence.Step{ConversationID: "conv-order", Turn: turn, EntryID: "openai"}
		if err := store.RecordStep(step); err != nil {
			t.Fatalf("RecordStep turn %d failed: %v", turn, err)
		}
	}

	steps, err := store.StepsFor("conv-order")
	if err != nil {
		t.Fatalf("StepsFor failed: %v", err)
	}
	if len(steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(steps))
	}
	for i, want := range []int{1, 2, 3} {
		if steps[i].Turn != want {
			t.Errorf("step %d: expected turn %d, got %d", i, want, steps[i].Turn)
		}
	}
}

func TestUsageSumsAcrossConversations(t *testing.T) {
	store := openTestStore(t)

	a := &persistence.Conversation{ID: "conv-a", Status: "completed", PromptTokens: 100, CompletionTokens: 20, TotalTokens: 120}
	b := &persistence.Conversation{ID: "conv-b", Status: "failed", PromptTokens: 300, CompletionTokens: 50, TotalTokens: 350}
	for _, c := range []*persistence.Conversation{a, b} {
		if err := store.SaveConversation(c); err != nil {
			t.Fatalf("save %s failed: %v", c.ID, err)
		}
	}

	totals, err := store.Usage()
	if err != nil {
		t.Fatalf("Usage failed: %v", err)
	}
	if totals.Conversations != 2 {
		t.Errorf("expected 2 conversations, got %d", totals.Conversations)
	}
	if totals.PromptTokens != 400 || totals.CompletionTokens != 70 || totals.TotalTokens != 470 {
		t.Errorf("unexpected totals: %+v", totals)
	}
}

func TestListConversationsNewestFirst(t *testing.T) {
	store := openTestStore(t)

	for _, id := range []string{"conv-old", "conv-new"} {
		if err := store.SaveConversation(&persistence.Conversation{ID: id, Status: "completed"}); err != nil {
			t.Fatalf("save %s failed: %v", id, err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	conversations, err := store.ListConversations(1)
	if err != nil {
		t.Fatalf("ListConversations failed: %v", err)
	}
	if len(conversations) != 1 {
		t.Fatalf("expected limit of 1, got %d", len(conversations))
	}
	if conversations[0].ID != "conv-new" {
		t.Errorf("expected newest conversation first, got %s", conversations[0].ID)
	}
}

func TestRecordStepRequiresConversationID(t *testing.T) {
	store := openTestStore(t)

	if err := store.RecordStep(&persistence.Step{Turn: 1}); err == nil {
		t.Fatal("expected error for missing conversation ID")
	}
}
