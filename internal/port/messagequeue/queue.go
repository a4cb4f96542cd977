// Package messagequeue defines the port for durable cross-instance messaging.
package messagequeue

import "context"

// Subjects relayed between Taskline instances.
const (
	// SubjectThreadUpdated carries a refreshed thread list marker so other
	// instances can invalidate caches and re-broadcast to their clients.
	SubjectThreadUpdated = "threads.updated"
	// SubjectToolExecuted carries the audit record of one executed tool call.
	SubjectToolExecuted = "chat.tool.executed"
)

// Handler processes one received message.
type Handler func(subject string, data []byte) error

// Queue is the port interface for the message queue.
type Queue interface {
	Publish(ctx context.Context, subject string, data []byte) error
	// Subscribe registers a handler and returns a stop function.
	Subscribe(ctx context.Context, subject string, handler Handler) (func(), error)
	Close() error
}
