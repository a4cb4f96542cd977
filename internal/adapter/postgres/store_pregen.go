package postgres

import (
	"context"
	"fmt"

	"github.com/taskline/taskline/internal/domain/chat"
)

func (s *Store) HasPregenerated(ctx context.Context, userID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM pregenerated_messages
		 WHERE user_id = $1 AND is_used = FALSE)`, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check pregenerated: %w", err)
	}
	return exists, nil
}

func (s *Store) CreatePregenerated(ctx context.Context, p *chat.Pregenerated) (*chat.Pregenerated, error) {
	var created chat.Pregenerated
	err := s.pool.QueryRow(ctx,
		`INSERT INTO pregenerated_messages (user_id, hidden_message, ai_response)
		 VALUES ($1, $2, $3)
		 RETURNING id, user_id, hidden_message, ai_response, is_used, created_at, used_at`,
		p.UserID, p.HiddenMessage, p.AIResponse,
	).Scan(&created.ID, &created.UserID, &created.HiddenMessage, &created.AIResponse,
		&created.IsUsed, &created.CreatedAt, &created.UsedAt)
	if err != nil {
		return nil, fmt.Errorf("create pregenerated: %w", err)
	}
	return &created, nil
}

func (s *Store) ConsumePregenerated(ctx context.Context, userID string) (*chat.Pregenerated, error) {
	var p chat.Pregenerated
	err := s.pool.QueryRow(ctx,
		`UPDATE pregenerated_messages SET is_used = TRUE, used_at = NOW()
		 WHERE id = (
		   SELECT id FROM pregenerated_messages
		   WHERE user_id = $1 AND is_used = FALSE
		   ORDER BY created_at ASC LIMIT 1
		   FOR UPDATE SKIP LOCKED
		 )
		 RETURNING id, user_id, hidden_message, ai_response, is_used, created_at, used_at`,
		userID,
	).Scan(&p.ID, &p.UserID, &p.HiddenMessage, &p.AIResponse, &p.IsUsed, &p.CreatedAt, &p.UsedAt)
	if err != nil {
		return nil, notFoundWrap(err, "consume pregenerated for %s", userID)
	}
	return &p, nil
}

// ListUsersNeedingPregenerated returns ids of users with chat activity in
// the last 30 days whose unused pool is empty, most recently active first.
func (s *Store) ListUsersNeedingPregenerated(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT m.user_id FROM messages m
		 WHERE m.created_at > NOW() - INTERVAL '30 days'
		 GROUP BY m.user_id
		 HAVING NOT EXISTS (
		   SELECT 1 FROM pregenerated_messages p
		   WHERE p.user_id = m.user_id AND p.is_used = FALSE
		 )
		 ORDER BY MAX(m.created_at) DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list users needing pregenerated: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		users = append(users, id)
	}
	return users, rows.Err()
}
