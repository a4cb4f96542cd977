package ws

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/taskline/taskline/internal/domain/thread"
)

// Event type constants for WebSocket messages.
const (
	// EventThreadUpdated carries the refreshed thread list after any
	// operation that changed titles, ordering, or membership. It is the
	// only notification channel from the chat core to thread-list
	// observers.
	EventThreadUpdated = "thread-updated"
	// EventSendingState signals that a thread entered or left the
	// in-flight send state.
	EventSendingState = "chat.sending"
)

// ThreadUpdatedEvent is broadcast when the thread list changed.
type ThreadUpdatedEvent struct {
	UserID  string          `json:"user_id"`
	Threads []thread.Thread `json:"threads"`
}

// SendingStateEvent is broadcast when a send starts or finishes.
type SendingStateEvent struct {
	ThreadID string `json:"thread_id"`
	Sending  bool   `json:"sending"`
}

// BroadcastEvent is a convenience method that marshals a typed event and broadcasts it.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.Broadcast(ctx, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}
