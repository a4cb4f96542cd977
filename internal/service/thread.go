package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/taskline/taskline/internal/domain"
	"github.com/taskline/taskline/internal/domain/chat"
	"github.com/taskline/taskline/internal/domain/thread"
	"github.com/taskline/taskline/internal/port/cache"
	"github.com/taskline/taskline/internal/port/database"
)

// ThreadService manages thread lifecycle. Creation with a pregenerated
// greeting prefers the single-transaction store path and degrades to a
// step-by-step sequence that still yields a usable thread when the priming
// insertion fails partway.
type ThreadService struct {
	store   database.Store
	pregen  *PregenService
	cache   cache.Cache
	listTTL time.Duration
	log     *slog.Logger
}

// NewThreadService creates the service. pregen may be nil to skip the
// just-in-time pool top-up; cache may be nil to disable the thread-list
// cache.
func NewThreadService(store database.Store, pregen *PregenService, c cache.Cache, listTTL time.Duration, log *slog.Logger) *ThreadService {
	return &ThreadService{store: store, pregen: pregen, cache: c, listTTL: listTTL, log: log}
}

func threadListKey(userID string) string {
	return "threads:" + userID
}

// List returns the user's threads newest-activity first, through the cache.
func (s *ThreadService) List(ctx context.Context, userID string) ([]thread.Thread, error) {
	key := threadListKey(userID)
	if s.cache != nil {
		if data, ok, err := s.cache.Get(ctx, key); err == nil && ok {
			var threads []thread.Thread
			if json.Unmarshal(data, &threads) == nil {
				return threads, nil
			}
		}
	}

	threads, err := s.store.ListThreads(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}

	if s.cache != nil {
		if data, err := json.Marshal(threads); err == nil {
			if err := s.cache.Set(ctx, key, data, s.listTTL); err != nil {
				s.log.Warn("thread list cache set failed", "user_id", userID, "error", err)
			}
		}
	}
	return threads, nil
}

// Get returns one thread.
func (s *ThreadService) Get(ctx context.Context, id string) (*thread.Thread, error) {
	return s.store.GetThread(ctx, id)
}

// Create archives the user's active thread and opens a fresh empty one.
func (s *ThreadService) Create(ctx context.Context, userID string) (*thread.Thread, error) {
	if err := s.store.ArchiveActiveThreads(ctx, userID); err != nil {
		return nil, fmt.Errorf("archive active threads: %w", err)
	}
	t, err := s.store.CreateThread(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("create thread: %w", err)
	}
	s.invalidate(ctx, userID)
	return t, nil
}

// CreateWithPregenerated opens a new thread seeded with a pooled welcome
// exchange. The transactional store path is tried first; if it fails the
// fallback assembles the same result step by step and tolerates partial
// failure, returning a bare but usable thread.
func (s *ThreadService) CreateWithPregenerated(ctx context.Context, userID string) (*thread.Thread, error) {
	// Top up the pool just in time so the creation below finds an
	// exchange to consume. A generation failure is not fatal; the thread
	// then starts bare and the welcome is synthesized on first load.
	if s.pregen != nil {
		s.pregen.EnsureAvailable(ctx, userID)
	}

	id, err := s.store.CreateThreadWithPregenerated(ctx, userID)
	if err == nil {
		s.invalidate(ctx, userID)
		return s.store.GetThread(ctx, id)
	}
	s.log.Warn("transactional thread create failed, using fallback", "user_id", userID, "error", err)

	t, err := s.Create(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.seedFromPool(ctx, userID, t.ID)
	return t, nil
}

// seedFromPool best-effort inserts a consumed pregenerated exchange into a
// freshly created thread. Any failure leaves the thread empty; the welcome
// is then synthesized lazily on first load.
func (s *ThreadService) seedFromPool(ctx context.Context, userID, threadID string) {
	row, err := s.store.ConsumePregenerated(ctx, userID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.log.Warn("consume pregenerated failed", "user_id", userID, "error", err)
		}
		return
	}

	_, err = s.store.CreateMessage(ctx, &chat.Message{
		ThreadID:  threadID,
		UserID:    userID,
		Role:      chat.RoleUser,
		Content:   row.HiddenMessage,
		IsVisible: false,
		SendToLLM: true,
	})
	if err != nil {
		s.log.Warn("seed priming message failed", "thread_id", threadID, "error", err)
		return
	}
	_, err = s.store.CreateMessage(ctx, &chat.Message{
		ThreadID:  threadID,
		UserID:    userID,
		Role:      chat.RoleAssistant,
		Content:   row.AIResponse,
		IsVisible: true,
		SendToLLM: true,
	})
	if err != nil {
		s.log.Warn("seed welcome message failed", "thread_id", threadID, "error", err)
	}
}

func (s *ThreadService) invalidate(ctx context.Context, userID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, threadListKey(userID)); err != nil {
		s.log.Warn("thread list cache invalidate failed", "user_id", userID, "error", err)
	}
}
