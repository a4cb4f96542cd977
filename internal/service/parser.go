package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/taskline/taskline/internal/adapter/otel"
	"github.com/taskline/taskline/internal/domain/chat"
	"github.com/taskline/taskline/internal/port/llm"
)

// TurnContext carries everything the parser needs to process one assistant
// turn: identity and a persistence callback owned by the chat manager.
type TurnContext struct {
	UserID   string
	ThreadID string
	Save     func(ctx context.Context, msg chat.Message) (*chat.Message, error)
}

// TurnResult is what a processed assistant turn produced. Messages holds
// every persisted row in order. DataRequest is set when the model asked for
// the user's task list to be fed back on a follow-up completion.
type TurnResult struct {
	Messages    []chat.Message
	DataRequest bool
}

// Parser turns a raw completion response into persisted conversation rows,
// dispatching tool calls through the registry one at a time.
type Parser struct {
	registry *ToolRegistry
	metrics  *otel.Metrics
	log      *slog.Logger
}

// NewParser creates a parser over the given tool registry. metrics may be nil.
func NewParser(registry *ToolRegistry, metrics *otel.Metrics, log *slog.Logger) *Parser {
	return &Parser{registry: registry, metrics: metrics, log: log}
}

// ProcessResponse persists the assistant text, then executes the turn's tool
// calls sequentially. Structured calls run first, then directives embedded in
// the text. Each call is isolated: a failure produces an error result row and
// the turn continues with the next call.
func (p *Parser) ProcessResponse(ctx context.Context, tc TurnContext, resp *llm.CompletionResponse) (*TurnResult, error) {
	content, embedded := extractToolDirectives(resp.Content)
	calls := make([]llm.ToolCall, 0, len(resp.ToolCalls)+len(embedded))
	calls = append(calls, resp.ToolCalls...)
	calls = append(calls, embedded...)

	result := &TurnResult{}
	if strings.TrimSpace(content) != "" {
		saved, err := tc.Save(ctx, chat.Message{
			ThreadID:  tc.ThreadID,
			UserID:    tc.UserID,
			Role:      chat.RoleAssistant,
			Content:   content,
			IsVisible: true,
			SendToLLM: true,
		})
		if err != nil {
			return nil, fmt.Errorf("persist assistant message: %w", err)
		}
		result.Messages = append(result.Messages, *saved)
	}

	for _, call := range calls {
		if call.Name == ToolDataRequest {
			if result.DataRequest {
				p.appendResult(ctx, tc, result, call.Name, chat.StatusError,
					"A data request was already made this turn")
				continue
			}
			result.DataRequest = true
			continue
		}

		if p.metrics != nil {
			p.metrics.ToolCalls.Add(ctx, 1)
		}
		output, err := p.registry.Execute(ctx, ToolContext{UserID: tc.UserID, ThreadID: tc.ThreadID}, call.Name, call.Parameters)
		if err != nil {
			if p.metrics != nil {
				p.metrics.ToolFailures.Add(ctx, 1)
			}
			p.log.Warn("tool call failed", "tool", call.Name, "thread_id", tc.ThreadID, "error", err)
			p.appendResult(ctx, tc, result, call.Name, chat.StatusError, err.Error())
			continue
		}
		p.appendResult(ctx, tc, result, call.Name, chat.StatusSuccess, output)
	}

	return result, nil
}

// appendResult persists one execution_result row. Persistence failures are
// logged and swallowed so the remaining calls still run.
func (p *Parser) appendResult(ctx context.Context, tc TurnContext, result *TurnResult, tool string, status string, message string) {
	res := chat.NewExecutionResult(status, fmt.Sprintf("%s: %s", tool, message))
	saved, err := tc.Save(ctx, chat.Message{
		ThreadID:  tc.ThreadID,
		UserID:    tc.UserID,
		Role:      chat.RoleSystem,
		Content:   res.Encode(),
		IsVisible: true,
		SendToLLM: true,
	})
	if err != nil {
		p.log.Error("persist execution result failed", "tool", tool, "thread_id", tc.ThreadID, "error", err)
		return
	}
	result.Messages = append(result.Messages, *saved)
}

type toolDirective struct {
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters"`
}

// extractToolDirectives pulls fenced ```tool_call blocks out of assistant
// text. Blocks are parsed in document order and stripped from the returned
// content; malformed blocks are stripped but produce no call.
func extractToolDirectives(content string) (string, []llm.ToolCall) {
	const opener = "```tool_call"
	const closer = "```"

	var calls []llm.ToolCall
	var out strings.Builder
	rest := content
	for {
		start := strings.Index(rest, opener)
		if start < 0 {
			out.WriteString(rest)
			break
		}
		out.WriteString(rest[:start])
		body := rest[start+len(opener):]
		end := strings.Index(body, closer)
		if end < 0 {
			// Unterminated block, drop the marker and keep the tail.
			out.WriteString(body)
			break
		}
		var d toolDirective
		if err := json.Unmarshal([]byte(strings.TrimSpace(body[:end])), &d); err == nil && d.Name != "" {
			calls = append(calls, llm.ToolCall{Name: d.Name, Parameters: d.Parameters})
		}
		rest = body[end+len(closer):]
	}
	return strings.TrimSpace(out.String()), calls
}
