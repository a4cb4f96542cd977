package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/taskline/taskline/internal/domain/chat"
	"github.com/taskline/taskline/internal/port/llm"
)

func testParser(store *mockStore) (*Parser, TurnContext) {
	registry := NewToolRegistry(store)
	p := NewParser(registry, nil, slog.Default())
	tc := TurnContext{
		UserID:   "user-1",
		ThreadID: "thread-1",
		Save: func(ctx context.Context, msg chat.Message) (*chat.Message, error) {
			return store.CreateMessage(ctx, &msg)
		},
	}
	return p, tc
}

func decodeResult(t *testing.T, content string) chat.ExecutionResult {
	t.Helper()
	var res chat.ExecutionResult
	if err := json.Unmarshal([]byte(content), &res); err != nil {
		t.Fatalf("decode execution result: %v", err)
	}
	return res
}

func TestProcessResponsePlainText(t *testing.T) {
	store := newMockStore()
	p, tc := testParser(store)

	result, err := p.ProcessResponse(context.Background(), tc, &llm.CompletionResponse{
		Content: "Hello there!",
	})
	if err != nil {
		t.Fatalf("ProcessResponse: %v", err)
	}
	if len(result.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(result.Messages))
	}
	msg := result.Messages[0]
	if msg.Role != chat.RoleAssistant || msg.Content != "Hello there!" {
		t.Errorf("unexpected message %+v", msg)
	}
	if !msg.IsVisible || !msg.SendToLLM {
		t.Errorf("assistant message should be visible and sendable")
	}
}

func TestProcessResponseToolSuccess(t *testing.T) {
	store := newMockStore()
	p, tc := testParser(store)

	result, err := p.ProcessResponse(context.Background(), tc, &llm.CompletionResponse{
		Content: "On it.",
		ToolCalls: []llm.ToolCall{
			{Name: ToolCreateTask, Parameters: map[string]any{"title": "Buy milk"}},
		},
	})
	if err != nil {
		t.Fatalf("ProcessResponse: %v", err)
	}
	if len(result.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(result.Messages))
	}
	res := decodeResult(t, result.Messages[1].Content)
	if res.Status != chat.StatusSuccess {
		t.Errorf("expected success, got %+v", res)
	}
	if len(store.tasks) != 1 {
		t.Errorf("expected 1 stored task, got %d", len(store.tasks))
	}
}

func TestProcessResponseFailureIsolation(t *testing.T) {
	store := newMockStore()
	p, tc := testParser(store)

	// First call fails on a missing task, second must still run.
	result, err := p.ProcessResponse(context.Background(), tc, &llm.CompletionResponse{
		ToolCalls: []llm.ToolCall{
			{Name: ToolCompleteTask, Parameters: map[string]any{"task_id": "nope"}},
			{Name: ToolCreateTask, Parameters: map[string]any{"title": "Water plants"}},
		},
	})
	if err != nil {
		t.Fatalf("ProcessResponse: %v", err)
	}
	if len(result.Messages) != 2 {
		t.Fatalf("expected 2 result messages, got %d", len(result.Messages))
	}
	if res := decodeResult(t, result.Messages[0].Content); res.Status != chat.StatusError {
		t.Errorf("first call should have errored, got %+v", res)
	}
	if res := decodeResult(t, result.Messages[1].Content); res.Status != chat.StatusSuccess {
		t.Errorf("second call should have succeeded, got %+v", res)
	}
}

func TestProcessResponseUnknownTool(t *testing.T) {
	store := newMockStore()
	p, tc := testParser(store)

	result, err := p.ProcessResponse(context.Background(), tc, &llm.CompletionResponse{
		ToolCalls: []llm.ToolCall{{Name: "launch_rocket"}},
	})
	if err != nil {
		t.Fatalf("ProcessResponse: %v", err)
	}
	res := decodeResult(t, result.Messages[0].Content)
	if res.Status != chat.StatusError || !strings.Contains(res.Message, "unknown tool") {
		t.Errorf("expected unknown tool error, got %+v", res)
	}
}

func TestProcessResponseMissingParams(t *testing.T) {
	store := newMockStore()
	p, tc := testParser(store)

	result, err := p.ProcessResponse(context.Background(), tc, &llm.CompletionResponse{
		ToolCalls: []llm.ToolCall{{Name: ToolCreateTask, Parameters: map[string]any{}}},
	})
	if err != nil {
		t.Fatalf("ProcessResponse: %v", err)
	}
	res := decodeResult(t, result.Messages[0].Content)
	if res.Status != chat.StatusError || !strings.Contains(res.Message, "missing required parameter") {
		t.Errorf("expected missing parameter error, got %+v", res)
	}
	if len(store.tasks) != 0 {
		t.Errorf("no task should have been created")
	}
}

func TestProcessResponseDataRequest(t *testing.T) {
	store := newMockStore()
	p, tc := testParser(store)

	result, err := p.ProcessResponse(context.Background(), tc, &llm.CompletionResponse{
		ToolCalls: []llm.ToolCall{{Name: ToolDataRequest}},
	})
	if err != nil {
		t.Fatalf("ProcessResponse: %v", err)
	}
	if !result.DataRequest {
		t.Fatal("expected DataRequest to be set")
	}
	if len(result.Messages) != 0 {
		t.Errorf("a honored data request should persist nothing, got %d rows", len(result.Messages))
	}
}

func TestProcessResponseDataRequestExtrasRejected(t *testing.T) {
	store := newMockStore()
	p, tc := testParser(store)

	result, err := p.ProcessResponse(context.Background(), tc, &llm.CompletionResponse{
		ToolCalls: []llm.ToolCall{
			{Name: ToolDataRequest},
			{Name: ToolDataRequest},
		},
	})
	if err != nil {
		t.Fatalf("ProcessResponse: %v", err)
	}
	if !result.DataRequest {
		t.Fatal("first data request should stand")
	}
	if len(result.Messages) != 1 {
		t.Fatalf("expected 1 error row for the extra request, got %d", len(result.Messages))
	}
	if res := decodeResult(t, result.Messages[0].Content); res.Status != chat.StatusError {
		t.Errorf("extra data request should error, got %+v", res)
	}
}

func TestExtractToolDirectives(t *testing.T) {
	content := "Sure thing.\n```tool_call\n{\"name\":\"create_task\",\"parameters\":{\"title\":\"Call mom\"}}\n```\nDone."
	cleaned, calls := extractToolDirectives(content)
	if len(calls) != 1 {
		t.Fatalf("expected 1 directive, got %d", len(calls))
	}
	if calls[0].Name != ToolCreateTask {
		t.Errorf("unexpected tool %q", calls[0].Name)
	}
	if title, _ := calls[0].Parameters["title"].(string); title != "Call mom" {
		t.Errorf("unexpected parameters %+v", calls[0].Parameters)
	}
	if strings.Contains(cleaned, "tool_call") || strings.Contains(cleaned, "Call mom") {
		t.Errorf("directive not stripped from content: %q", cleaned)
	}
	if !strings.Contains(cleaned, "Sure thing.") || !strings.Contains(cleaned, "Done.") {
		t.Errorf("surrounding text lost: %q", cleaned)
	}
}

func TestExtractToolDirectivesOrderAfterStructured(t *testing.T) {
	store := newMockStore()
	p, tc := testParser(store)

	content := "```tool_call\n{\"name\":\"set_nickname\",\"parameters\":{\"nickname\":\"Sam\"}}\n```"
	result, err := p.ProcessResponse(context.Background(), tc, &llm.CompletionResponse{
		Content: content,
		ToolCalls: []llm.ToolCall{
			{Name: ToolCreateTask, Parameters: map[string]any{"title": "First"}},
		},
	})
	if err != nil {
		t.Fatalf("ProcessResponse: %v", err)
	}
	// Structured call result first, embedded directive second.
	if len(result.Messages) != 2 {
		t.Fatalf("expected 2 result rows, got %d", len(result.Messages))
	}
	if res := decodeResult(t, result.Messages[0].Content); !strings.Contains(res.Message, ToolCreateTask) {
		t.Errorf("expected create_task first, got %+v", res)
	}
	if res := decodeResult(t, result.Messages[1].Content); !strings.Contains(res.Message, ToolSetNickname) {
		t.Errorf("expected set_nickname second, got %+v", res)
	}
	if store.nicknames["user-1"] != "Sam" {
		t.Errorf("nickname not stored: %+v", store.nicknames)
	}
}

func TestExtractToolDirectivesMalformed(t *testing.T) {
	content := "Text.\n```tool_call\nnot json\n```\nMore."
	cleaned, calls := extractToolDirectives(content)
	if len(calls) != 0 {
		t.Fatalf("malformed block should yield no call, got %d", len(calls))
	}
	if strings.Contains(cleaned, "not json") {
		t.Errorf("malformed block should still be stripped: %q", cleaned)
	}
}
