package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/taskline/taskline/internal/domain"
)

// ChatSessions hands out one ChatManager per thread, creating and
// initializing managers on first use. A caller must own the thread: the
// thread's creator is checked before any manager is handed out, and a
// mismatch reads as not-found so thread ids cannot be probed.
type ChatSessions struct {
	deps ChatManagerDeps

	mu       sync.Mutex
	managers map[string]*ChatManager
}

// NewChatSessions creates the registry.
func NewChatSessions(deps ChatManagerDeps) *ChatSessions {
	return &ChatSessions{deps: deps, managers: map[string]*ChatManager{}}
}

// For returns the manager for a thread, creating it if needed. The manager
// is initialized before first use; an initialization failure is returned and
// the next call retries.
func (s *ChatSessions) For(ctx context.Context, userID, threadID string) (*ChatManager, error) {
	s.mu.Lock()
	m, ok := s.managers[threadID]
	s.mu.Unlock()

	// A cached manager is bound to the verified owner at creation, so only
	// a miss or a different caller needs the store check.
	if !ok || m.userID != userID {
		t, err := s.deps.Store.GetThread(ctx, threadID)
		if err != nil {
			return nil, fmt.Errorf("load thread: %w", err)
		}
		if t.CreatedBy != userID {
			return nil, fmt.Errorf("thread %s: %w", threadID, domain.ErrNotFound)
		}
	}

	s.mu.Lock()
	m, ok = s.managers[threadID]
	if !ok {
		m = NewChatManager(s.deps, userID, threadID)
		s.managers[threadID] = m
	}
	s.mu.Unlock()

	if err := m.Initialize(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// DropUser forgets all of a user's managers. Called after thread creation,
// which archives the previously active thread.
func (s *ChatSessions) DropUser(userID string) {
	s.mu.Lock()
	for id, m := range s.managers {
		if m.userID == userID {
			delete(s.managers, id)
		}
	}
	s.mu.Unlock()
}
