// Package llm defines the port for the LLM completion capability.
package llm

import "context"

// Message is one role/content entry of a conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToolCall is a structured directive extracted from one assistant turn.
type ToolCall struct {
	ID         string         `json:"id,omitempty"`
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters"`
}

// ToolSchema declares one tool to the model.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Required    []string       `json:"required,omitempty"`
}

// CompletionRequest is a bounded conversation history plus tool
// declarations and sampling parameters.
type CompletionRequest struct {
	Model       string
	Messages    []Message
	Tools       []ToolSchema
	Temperature float64
	MaxTokens   int
}

// CompletionResponse is one assistant turn. Content may be empty when the
// model answers with tool calls only; callers must tolerate both being
// empty.
type CompletionResponse struct {
	Content   string
	ToolCalls []ToolCall
	Model     string
	TokensIn  int
	TokensOut int
}

// Client is the stateless request/response boundary to the LLM provider.
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
