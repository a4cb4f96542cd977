// Package chat defines chat message entities and the pure list operations
// the chat manager performs on them.
package chat

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is a single persisted chat message. Messages are immutable once
// created; the only bulk operation is clearing a whole thread.
//
// IsVisible=false rows (the hidden priming message of a pregenerated
// exchange) are excluded from rendering but still enter LLM history when
// SendToLLM is set.
type Message struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"thread_id"`
	UserID    string    `json:"user_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	IsVisible bool      `json:"is_visible"`
	SendToLLM bool      `json:"send_to_llm"`
	CreatedAt time.Time `json:"created_at"`
}

// tempIDPrefix namespaces client-generated ids so they can never collide
// with server-assigned ones.
const tempIDPrefix = "temp-"

// NewTempID returns a locally generated message id for optimistic inserts.
func NewTempID() string {
	return tempIDPrefix + uuid.NewString()
}

// IsTempID reports whether id belongs to the optimistic temp namespace.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, tempIDPrefix)
}

// ReplaceByID returns a copy of list with the message identified by id
// replaced by the given messages, preserving order. If id is absent the
// replacements are appended.
func ReplaceByID(list []Message, id string, replacements ...Message) []Message {
	out := make([]Message, 0, len(list)+len(replacements))
	replaced := false
	for i := range list {
		if list[i].ID == id {
			out = append(out, replacements...)
			replaced = true
			continue
		}
		out = append(out, list[i])
	}
	if !replaced {
		out = append(out, replacements...)
	}
	return out
}

// RemoveByID returns a copy of list without the message identified by id.
func RemoveByID(list []Message, id string) []Message {
	out := make([]Message, 0, len(list))
	for i := range list {
		if list[i].ID == id {
			continue
		}
		out = append(out, list[i])
	}
	return out
}

// Visible filters list down to messages that should be rendered.
func Visible(list []Message) []Message {
	out := make([]Message, 0, len(list))
	for i := range list {
		if list[i].IsVisible {
			out = append(out, list[i])
		}
	}
	return out
}

// ExecutionResult is the structured payload persisted as an assistant
// message after each tool call, forming the audit trail of backend
// mutations driven from the conversation.
type ExecutionResult struct {
	Type    string `json:"type"` // always "execution_result"
	Status  string `json:"status"`
	Message string `json:"message"`
}

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// NewExecutionResult builds an ExecutionResult with the fixed type tag.
func NewExecutionResult(status, message string) ExecutionResult {
	return ExecutionResult{Type: "execution_result", Status: status, Message: message}
}

// Encode renders the result as the JSON content stored on the message row.
func (r ExecutionResult) Encode() string {
	data, err := json.Marshal(r)
	if err != nil {
		// Marshal of a flat string struct cannot fail; keep the transcript
		// usable anyway.
		return `{"type":"execution_result","status":"error","message":"encoding failed"}`
	}
	return string(data)
}
