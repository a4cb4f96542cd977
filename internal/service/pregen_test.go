package service

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/taskline/taskline/internal/config"
	"github.com/taskline/taskline/internal/domain/chat"
	"github.com/taskline/taskline/internal/port/llm"
)

func newPregenFixture(store *mockStore, ml *mockLLM) *PregenService {
	return NewPregenService(store, ml, nil, config.LLM{Model: "test"},
		config.Maintenance{PregenBatch: 10, PregenConcurrency: 3}, slog.Default())
}

func TestGenerateForUserStoresExchange(t *testing.T) {
	store := newMockStore()
	ml := &mockLLM{responses: []*llm.CompletionResponse{{Content: "Hello Sam!"}}}
	store.nicknames["user-1"] = "Sam"
	s := newPregenFixture(store, ml)

	if !s.GenerateForUser(context.Background(), "user-1") {
		t.Fatal("generation should succeed")
	}
	if len(store.pregen) != 1 {
		t.Fatalf("expected 1 stored exchange, got %d", len(store.pregen))
	}
	row := store.pregen[0]
	if row.HiddenMessage != primingPrompt || row.AIResponse != "Hello Sam!" {
		t.Errorf("unexpected exchange %+v", row)
	}
	if row.IsUsed {
		t.Error("fresh exchange must be unused")
	}
}

func TestGenerateForUserSwallowsFailures(t *testing.T) {
	store := newMockStore()
	ml := &mockLLM{errs: []error{errors.New("llm down")}}
	s := newPregenFixture(store, ml)

	if s.GenerateForUser(context.Background(), "user-1") {
		t.Error("failure should report false, not panic or error")
	}
	if len(store.pregen) != 0 {
		t.Errorf("nothing should be stored, got %d", len(store.pregen))
	}
}

func TestEnsureAvailableSkipsGenerationWhenPooled(t *testing.T) {
	store := newMockStore()
	ml := &mockLLM{}
	s := newPregenFixture(store, ml)
	_, _ = store.CreatePregenerated(context.Background(), &chat.Pregenerated{
		UserID: "user-1", HiddenMessage: primingPrompt, AIResponse: "hi",
	})

	if !s.EnsureAvailable(context.Background(), "user-1") {
		t.Fatal("pooled user should read available")
	}
	if len(ml.requests) != 0 {
		t.Errorf("no completion should run on a pool hit, got %d", len(ml.requests))
	}
}

func TestEnsureAvailableGeneratesJustInTime(t *testing.T) {
	store := newMockStore()
	ml := &mockLLM{responses: []*llm.CompletionResponse{{Content: "hi"}}}
	s := newPregenFixture(store, ml)

	if !s.EnsureAvailable(context.Background(), "user-1") {
		t.Fatal("just-in-time generation should succeed")
	}
	if len(store.pregen) != 1 {
		t.Errorf("expected generated row, got %d", len(store.pregen))
	}
}

func TestComposeWelcomeConsumesPoolFirst(t *testing.T) {
	store := newMockStore()
	ml := &mockLLM{}
	s := newPregenFixture(store, ml)
	_, _ = store.CreatePregenerated(context.Background(), &chat.Pregenerated{
		UserID: "user-1", HiddenMessage: primingPrompt, AIResponse: "Pooled!",
	})

	text, ok := s.ComposeWelcome(context.Background(), "user-1")
	if !ok || text != "Pooled!" {
		t.Fatalf("expected pooled text, got %q ok=%v", text, ok)
	}
	if !store.pregen[0].IsUsed {
		t.Error("pooled row should be marked used")
	}
}

func TestReplenishFillsEmptyPools(t *testing.T) {
	store := newMockStore()
	// Two users have recent activity, one already has an unused exchange.
	for _, userID := range []string{"user-a", "user-b"} {
		_, _ = store.CreateMessage(context.Background(), &chat.Message{
			ThreadID: "t", UserID: userID, Role: chat.RoleUser, Content: "hi",
			IsVisible: true, SendToLLM: true,
		})
	}
	_, _ = store.CreatePregenerated(context.Background(), &chat.Pregenerated{
		UserID: "user-b", HiddenMessage: primingPrompt, AIResponse: "hi",
	})
	ml := &mockLLM{responses: []*llm.CompletionResponse{{Content: "hello!"}}}
	s := newPregenFixture(store, ml)

	if err := s.Replenish(context.Background()); err != nil {
		t.Fatalf("Replenish: %v", err)
	}
	has, _ := store.HasPregenerated(context.Background(), "user-a")
	if !has {
		t.Error("user-a pool should be filled")
	}
	if len(ml.requests) != 1 {
		t.Errorf("only the empty pool should trigger generation, got %d", len(ml.requests))
	}
}
