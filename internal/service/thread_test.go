package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/taskline/taskline/internal/domain/chat"
	"github.com/taskline/taskline/internal/port/cache"
	"github.com/taskline/taskline/internal/port/llm"
)

// mockCache is a TTL-less map cache for tests.
type mockCache struct {
	mu   sync.Mutex
	data map[string][]byte
	sets int
	hits int
}

func newMockCache() *mockCache {
	return &mockCache{data: map[string][]byte{}}
}

func (c *mockCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	if ok {
		c.hits++
	}
	return v, ok, nil
}

func (c *mockCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	c.sets++
	return nil
}

func (c *mockCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func newThreadFixture(store *mockStore, c cache.Cache) *ThreadService {
	return NewThreadService(store, nil, c, time.Minute, slog.Default())
}

func TestCreateArchivesActive(t *testing.T) {
	store := newMockStore()
	s := newThreadFixture(store, nil)

	first, err := s.Create(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := s.Create(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	got, _ := store.GetThread(context.Background(), first.ID)
	if !got.IsArchived {
		t.Error("previous thread should be archived")
	}
	got, _ = store.GetThread(context.Background(), second.ID)
	if got.IsArchived {
		t.Error("new thread must be active")
	}
}

func TestCreateWithPregeneratedTransactionalPath(t *testing.T) {
	store := newMockStore()
	s := newThreadFixture(store, nil)
	_, _ = store.CreatePregenerated(context.Background(), &chat.Pregenerated{
		UserID: "user-1", HiddenMessage: primingPrompt, AIResponse: "Welcome!",
	})

	th, err := s.CreateWithPregenerated(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	rows, _ := store.ListMessages(context.Background(), th.ID, true)
	if len(rows) != 2 {
		t.Fatalf("expected priming + welcome, got %d", len(rows))
	}
	if rows[0].IsVisible || rows[0].Role != chat.RoleUser {
		t.Errorf("priming row should be hidden user message: %+v", rows[0])
	}
	if !rows[1].IsVisible || rows[1].Content != "Welcome!" {
		t.Errorf("welcome row wrong: %+v", rows[1])
	}
	if !store.pregen[0].IsUsed {
		t.Error("exchange should be consumed")
	}
}

func TestCreateWithPregeneratedFallback(t *testing.T) {
	store := newMockStore()
	store.txCreateErr = errors.New("transaction path unavailable")
	s := newThreadFixture(store, nil)
	_, _ = store.CreatePregenerated(context.Background(), &chat.Pregenerated{
		UserID: "user-1", HiddenMessage: primingPrompt, AIResponse: "Welcome!",
	})

	th, err := s.CreateWithPregenerated(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("fallback should still create a thread: %v", err)
	}
	rows, _ := store.ListMessages(context.Background(), th.ID, true)
	if len(rows) != 2 {
		t.Errorf("fallback should seed both rows, got %d", len(rows))
	}
}

func TestCreateWithPregeneratedFallbackPartialFailure(t *testing.T) {
	store := newMockStore()
	store.txCreateErr = errors.New("transaction path unavailable")
	store.createMessageErr = errors.New("insert failed")
	s := newThreadFixture(store, nil)
	_, _ = store.CreatePregenerated(context.Background(), &chat.Pregenerated{
		UserID: "user-1", HiddenMessage: primingPrompt, AIResponse: "Welcome!",
	})

	th, err := s.CreateWithPregenerated(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("thread must stay usable on partial failure: %v", err)
	}
	if th == nil || th.ID == "" {
		t.Fatal("expected a bare thread")
	}
}

func TestCreateWithPregeneratedTopsUpEmptyPool(t *testing.T) {
	store := newMockStore()
	ml := &mockLLM{responses: []*llm.CompletionResponse{{Content: "Welcome back!"}}}
	s := NewThreadService(store, newPregenFixture(store, ml), nil, time.Minute, slog.Default())

	th, err := s.CreateWithPregenerated(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	rows, _ := store.ListMessages(context.Background(), th.ID, true)
	if len(rows) != 2 {
		t.Fatalf("just-in-time exchange should seed the thread, got %d rows", len(rows))
	}
	if rows[1].Content != "Welcome back!" {
		t.Errorf("welcome row wrong: %+v", rows[1])
	}
}

func TestCreateWithPregeneratedEmptyPool(t *testing.T) {
	store := newMockStore()
	s := newThreadFixture(store, nil)

	th, err := s.CreateWithPregenerated(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	rows, _ := store.ListMessages(context.Background(), th.ID, true)
	if len(rows) != 0 {
		t.Errorf("empty pool should yield a bare thread, got %d rows", len(rows))
	}
}

func TestListUsesCache(t *testing.T) {
	store := newMockStore()
	c := newMockCache()
	s := newThreadFixture(store, c)
	_, _ = store.CreateThread(context.Background(), "user-1")

	if _, err := s.List(context.Background(), "user-1"); err != nil {
		t.Fatalf("list: %v", err)
	}
	if _, err := s.List(context.Background(), "user-1"); err != nil {
		t.Fatalf("list: %v", err)
	}
	if c.hits != 1 || c.sets != 1 {
		t.Errorf("expected one fill and one hit, got sets=%d hits=%d", c.sets, c.hits)
	}
}

func TestCreateInvalidatesCache(t *testing.T) {
	store := newMockStore()
	c := newMockCache()
	s := newThreadFixture(store, c)

	if _, err := s.Create(context.Background(), "user-1"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.List(context.Background(), "user-1"); err != nil {
		t.Fatalf("list: %v", err)
	}
	if _, err := s.Create(context.Background(), "user-1"); err != nil {
		t.Fatalf("create: %v", err)
	}

	threads, err := s.List(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(threads) != 2 {
		t.Errorf("stale cache served after create: %d threads", len(threads))
	}
}
