// Package database defines the database store port (interface).
package database

import (
	"context"

	"github.com/taskline/taskline/internal/domain/chat"
	"github.com/taskline/taskline/internal/domain/task"
	"github.com/taskline/taskline/internal/domain/thread"
)

// ThreadStore covers thread lifecycle operations.
type ThreadStore interface {
	GetThread(ctx context.Context, id string) (*thread.Thread, error)
	ListThreads(ctx context.Context, userID string) ([]thread.Thread, error)
	CreateThread(ctx context.Context, userID string) (*thread.Thread, error)
	UpdateThreadTitle(ctx context.Context, id, title string) (*thread.Thread, error)
	ArchiveActiveThreads(ctx context.Context, userID string) error

	// CreateThreadWithPregenerated archives the user's active thread,
	// creates a new one, and seeds it with one consumed pregenerated
	// exchange, all in a single transaction. With no unused row available
	// the new thread is created empty.
	CreateThreadWithPregenerated(ctx context.Context, userID string) (string, error)

	// Ping is a lightweight reachability probe.
	Ping(ctx context.Context) error
}

// MessageStore covers message persistence scoped to a thread.
type MessageStore interface {
	// ListMessages returns messages ordered by creation time ascending.
	// Hidden rows are excluded unless includeHidden is set. An empty
	// thread yields an empty slice, not an error.
	ListMessages(ctx context.Context, threadID string, includeHidden bool) ([]chat.Message, error)
	CreateMessage(ctx context.Context, m *chat.Message) (*chat.Message, error)
	DeleteMessages(ctx context.Context, threadID string) error
}

// PregenStore covers the pregenerated welcome-exchange pool.
type PregenStore interface {
	HasPregenerated(ctx context.Context, userID string) (bool, error)
	CreatePregenerated(ctx context.Context, p *chat.Pregenerated) (*chat.Pregenerated, error)
	// ConsumePregenerated marks one unused row used and returns it;
	// domain.ErrNotFound when the pool is empty.
	ConsumePregenerated(ctx context.Context, userID string) (*chat.Pregenerated, error)
	// ListUsersNeedingPregenerated returns ids of recently active users
	// whose unused pool is empty, capped at limit.
	ListUsersNeedingPregenerated(ctx context.Context, limit int) ([]string, error)
}

// TaskStore covers the task rows the chat tools mutate.
type TaskStore interface {
	ListTasks(ctx context.Context, userID string) ([]task.Task, error)
	GetTask(ctx context.Context, id string) (*task.Task, error)
	CreateTask(ctx context.Context, req task.CreateRequest) (*task.Task, error)
	UpdateTask(ctx context.Context, id string, req task.UpdateRequest) (*task.Task, error)
	DeleteTask(ctx context.Context, id string) error
}

// ProfileStore covers per-user profile fields.
type ProfileStore interface {
	// GetNickname returns "" without error when no nickname is set.
	GetNickname(ctx context.Context, userID string) (string, error)
	// SetNickname with an empty nickname clears it.
	SetNickname(ctx context.Context, userID, nickname string) error
}

// Store is the full port interface for database operations.
type Store interface {
	ThreadStore
	MessageStore
	PregenStore
	TaskStore
	ProfileStore
}
