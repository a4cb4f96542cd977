package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/taskline/taskline/internal/domain"
	"github.com/taskline/taskline/internal/domain/chat"
	"github.com/taskline/taskline/internal/domain/task"
	"github.com/taskline/taskline/internal/domain/thread"
	"github.com/taskline/taskline/internal/port/llm"
)

// mockStore is an in-memory database.Store for service tests.
type mockStore struct {
	mu        sync.Mutex
	seq       int
	threads   map[string]*thread.Thread
	messages  []chat.Message
	pregen    []chat.Pregenerated
	tasks     map[string]*task.Task
	nicknames map[string]string

	pingErr          error
	createMessageErr error
	listMessagesErr  error
	consumeErr       error
	txCreateErr      error
}

func newMockStore() *mockStore {
	return &mockStore{
		threads:   map[string]*thread.Thread{},
		tasks:     map[string]*task.Task{},
		nicknames: map[string]string{},
	}
}

func (s *mockStore) nextID(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s-%d", prefix, s.seq)
}

func (s *mockStore) Ping(context.Context) error { return s.pingErr }

func (s *mockStore) GetThread(_ context.Context, id string) (*thread.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *mockStore) ListThreads(_ context.Context, userID string) ([]thread.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []thread.Thread
	for _, t := range s.threads {
		if t.CreatedBy == userID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (s *mockStore) CreateThread(_ context.Context, userID string) (*thread.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &thread.Thread{ID: s.nextID("thread"), CreatedBy: userID, CreatedAt: time.Now()}
	s.threads[t.ID] = t
	cp := *t
	return &cp, nil
}

func (s *mockStore) UpdateThreadTitle(_ context.Context, id, title string) (*thread.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	t.Title = title
	cp := *t
	return &cp, nil
}

func (s *mockStore) ArchiveActiveThreads(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.threads {
		if t.CreatedBy == userID {
			t.IsArchived = true
		}
	}
	return nil
}

func (s *mockStore) CreateThreadWithPregenerated(ctx context.Context, userID string) (string, error) {
	if s.txCreateErr != nil {
		return "", s.txCreateErr
	}
	t, err := s.CreateThread(ctx, userID)
	if err != nil {
		return "", err
	}
	row, err := s.ConsumePregenerated(ctx, userID)
	if err != nil {
		return t.ID, nil
	}
	_, _ = s.CreateMessage(ctx, &chat.Message{
		ThreadID: t.ID, UserID: userID, Role: chat.RoleUser,
		Content: row.HiddenMessage, IsVisible: false, SendToLLM: true,
	})
	_, _ = s.CreateMessage(ctx, &chat.Message{
		ThreadID: t.ID, UserID: userID, Role: chat.RoleAssistant,
		Content: row.AIResponse, IsVisible: true, SendToLLM: true,
	})
	return t.ID, nil
}

func (s *mockStore) ListMessages(_ context.Context, threadID string, includeHidden bool) ([]chat.Message, error) {
	if s.listMessagesErr != nil {
		return nil, s.listMessagesErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []chat.Message
	for _, m := range s.messages {
		if m.ThreadID != threadID {
			continue
		}
		if !m.IsVisible && !includeHidden {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *mockStore) CreateMessage(_ context.Context, m *chat.Message) (*chat.Message, error) {
	if s.createMessageErr != nil {
		return nil, s.createMessageErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	saved := *m
	saved.ID = s.nextID("msg")
	saved.CreatedAt = time.Now()
	s.messages = append(s.messages, saved)
	cp := saved
	return &cp, nil
}

func (s *mockStore) DeleteMessages(_ context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.messages[:0]
	for _, m := range s.messages {
		if m.ThreadID != threadID {
			kept = append(kept, m)
		}
	}
	s.messages = kept
	return nil
}

func (s *mockStore) HasPregenerated(_ context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.pregen {
		if p.UserID == userID && !p.IsUsed {
			return true, nil
		}
	}
	return false, nil
}

func (s *mockStore) CreatePregenerated(_ context.Context, p *chat.Pregenerated) (*chat.Pregenerated, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	saved := *p
	saved.ID = s.nextID("pregen")
	saved.CreatedAt = time.Now()
	s.pregen = append(s.pregen, saved)
	cp := saved
	return &cp, nil
}

func (s *mockStore) ConsumePregenerated(_ context.Context, userID string) (*chat.Pregenerated, error) {
	if s.consumeErr != nil {
		return nil, s.consumeErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.pregen {
		if s.pregen[i].UserID == userID && !s.pregen[i].IsUsed {
			s.pregen[i].IsUsed = true
			now := time.Now()
			s.pregen[i].UsedAt = &now
			cp := s.pregen[i]
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *mockStore) ListUsersNeedingPregenerated(_ context.Context, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for _, n := range s.messages {
		if seen[n.UserID] {
			continue
		}
		seen[n.UserID] = true
		has := false
		for _, p := range s.pregen {
			if p.UserID == n.UserID && !p.IsUsed {
				has = true
			}
		}
		if !has && len(out) < limit {
			out = append(out, n.UserID)
		}
	}
	return out, nil
}

func (s *mockStore) ListTasks(_ context.Context, userID string) ([]task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []task.Task
	for _, t := range s.tasks {
		if t.UserID == userID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (s *mockStore) GetTask(_ context.Context, id string) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *mockStore) CreateTask(_ context.Context, req task.CreateRequest) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &task.Task{
		ID: s.nextID("task"), UserID: req.UserID, Title: req.Title,
		Description: req.Description, Status: task.StatusOpen,
		Priority: req.Priority, DueDate: req.DueDate, CreatedAt: time.Now(),
	}
	s.tasks[t.ID] = t
	cp := *t
	return &cp, nil
}

func (s *mockStore) UpdateTask(_ context.Context, id string, req task.UpdateRequest) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if req.Title != nil {
		t.Title = *req.Title
	}
	if req.Description != nil {
		t.Description = *req.Description
	}
	if req.Status != nil {
		t.Status = *req.Status
	}
	if req.Priority != nil {
		t.Priority = *req.Priority
	}
	if req.DueDate != nil {
		t.DueDate = req.DueDate
	} else if req.ClearDueDate {
		t.DueDate = nil
	}
	cp := *t
	return &cp, nil
}

func (s *mockStore) DeleteTask(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.tasks, id)
	return nil
}

func (s *mockStore) GetNickname(_ context.Context, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nicknames[userID], nil
}

func (s *mockStore) SetNickname(_ context.Context, userID, nickname string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if nickname == "" {
		delete(s.nicknames, userID)
		return nil
	}
	s.nicknames[userID] = nickname
	return nil
}

// mockLLM replays canned completion responses in order.
type mockLLM struct {
	mu        sync.Mutex
	responses []*llm.CompletionResponse
	errs      []error
	requests  []llm.CompletionRequest
}

func (m *mockLLM) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	i := len(m.requests) - 1
	if i < len(m.errs) && m.errs[i] != nil {
		return nil, m.errs[i]
	}
	if i < len(m.responses) {
		return m.responses[i], nil
	}
	return &llm.CompletionResponse{Content: "ok"}, nil
}

// mockHub records broadcast events.
type mockHub struct {
	mu     sync.Mutex
	events []string
}

func (h *mockHub) BroadcastEvent(_ context.Context, eventType string, _ any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, eventType)
}

func (h *mockHub) count(eventType string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, e := range h.events {
		if e == eventType {
			n++
		}
	}
	return n
}
