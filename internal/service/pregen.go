package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/taskline/taskline/internal/adapter/otel"
	"github.com/taskline/taskline/internal/config"
	"github.com/taskline/taskline/internal/domain"
	"github.com/taskline/taskline/internal/domain/chat"
	"github.com/taskline/taskline/internal/port/database"
	"github.com/taskline/taskline/internal/port/llm"
)

// PregenService keeps a pool of ready-made welcome exchanges per user so a
// new thread can open with an instant personalized greeting instead of
// waiting on a live completion.
type PregenService struct {
	store   database.Store
	llm     llm.Client
	metrics *otel.Metrics
	llmCfg  config.LLM
	maint   config.Maintenance
	log     *slog.Logger
}

// NewPregenService creates the service.
func NewPregenService(store database.Store, client llm.Client, metrics *otel.Metrics, llmCfg config.LLM, maint config.Maintenance, log *slog.Logger) *PregenService {
	return &PregenService{store: store, llm: client, metrics: metrics, llmCfg: llmCfg, maint: maint, log: log}
}

// HasAvailable reports whether the user has at least one unused exchange.
// Lookup failures read as empty.
func (s *PregenService) HasAvailable(ctx context.Context, userID string) bool {
	ok, err := s.store.HasPregenerated(ctx, userID)
	if err != nil {
		s.log.Warn("pregenerated lookup failed", "user_id", userID, "error", err)
		return false
	}
	return ok
}

// GenerateForUser produces and stores one welcome exchange. It never
// returns an error: callers only care whether a row now exists.
func (s *PregenService) GenerateForUser(ctx context.Context, userID string) bool {
	text, ok := s.generateWelcomeText(ctx, userID)
	if !ok {
		return false
	}
	_, err := s.store.CreatePregenerated(ctx, &chat.Pregenerated{
		UserID:        userID,
		HiddenMessage: primingPrompt,
		AIResponse:    text,
	})
	if err != nil {
		s.log.Warn("store pregenerated failed", "user_id", userID, "error", err)
		return false
	}
	if s.metrics != nil {
		s.metrics.PregenGenerated.Add(ctx, 1)
	}
	return true
}

// EnsureAvailable guarantees one unused exchange exists, generating
// just-in-time when the pool is empty.
func (s *PregenService) EnsureAvailable(ctx context.Context, userID string) bool {
	if s.HasAvailable(ctx, userID) {
		return true
	}
	return s.GenerateForUser(ctx, userID)
}

// ComposeWelcome returns greeting text for an empty thread. It prefers a
// pooled exchange, consuming it, and falls back to a live completion.
func (s *PregenService) ComposeWelcome(ctx context.Context, userID string) (string, bool) {
	row, err := s.store.ConsumePregenerated(ctx, userID)
	if err == nil {
		if s.metrics != nil {
			s.metrics.PregenConsumed.Add(ctx, 1)
		}
		return row.AIResponse, true
	}
	if !errors.Is(err, domain.ErrNotFound) {
		s.log.Warn("consume pregenerated failed", "user_id", userID, "error", err)
	}
	return s.generateWelcomeText(ctx, userID)
}

// generateWelcomeText runs one completion against the welcome prompt.
func (s *PregenService) generateWelcomeText(ctx context.Context, userID string) (string, bool) {
	nickname, err := s.store.GetNickname(ctx, userID)
	if err != nil {
		s.log.Warn("nickname lookup failed", "user_id", userID, "error", err)
	}
	system, err := welcomePrompt(nickname)
	if err != nil {
		s.log.Error("render welcome prompt failed", "error", err)
		return "", false
	}

	resp, err := s.llm.Complete(ctx, llm.CompletionRequest{
		Model: s.llmCfg.Model,
		Messages: []llm.Message{
			{Role: string(chat.RoleSystem), Content: system},
			{Role: string(chat.RoleUser), Content: primingPrompt},
		},
		Temperature: s.llmCfg.Temperature,
		MaxTokens:   s.llmCfg.MaxTokens,
	})
	if err != nil {
		s.log.Warn("welcome completion failed", "user_id", userID, "error", err)
		return "", false
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		s.log.Warn("welcome completion empty", "user_id", userID)
		return "", false
	}
	return text, true
}

// Replenish tops up the pool for recently active users who have no unused
// exchange left, generating concurrently with a bounded group. Implements
// the maintenance job contract.
func (s *PregenService) Replenish(ctx context.Context) error {
	users, err := s.store.ListUsersNeedingPregenerated(ctx, s.maint.PregenBatch)
	if err != nil {
		return fmt.Errorf("list users needing pregenerated: %w", err)
	}
	if len(users) == 0 {
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maint.PregenConcurrency)
	for _, userID := range users {
		g.Go(func() error {
			if !s.GenerateForUser(ctx, userID) {
				s.log.Warn("pregenerate failed", "user_id", userID)
			}
			return nil
		})
	}
	_ = g.Wait()
	s.log.Info("pregenerated pool replenished", "users", len(users))
	return nil
}
