package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

func (s *Store) GetNickname(ctx context.Context, userID string) (string, error) {
	var nickname *string
	err := s.pool.QueryRow(ctx,
		`SELECT nickname FROM profiles WHERE user_id = $1`, userID).Scan(&nickname)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("get nickname: %w", err)
	}
	if nickname == nil {
		return "", nil
	}
	return *nickname, nil
}

func (s *Store) SetNickname(ctx context.Context, userID, nickname string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO profiles (user_id, nickname) VALUES ($1, $2)
		 ON CONFLICT (user_id) DO UPDATE SET nickname = EXCLUDED.nickname`,
		userID, nullIfEmpty(nickname))
	if err != nil {
		return fmt.Errorf("set nickname: %w", err)
	}
	return nil
}
