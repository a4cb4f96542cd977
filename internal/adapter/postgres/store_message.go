package postgres

import (
	"context"
	"fmt"

	"github.com/taskline/taskline/internal/domain/chat"
)

const messageColumns = `id, thread_id, user_id, role, content, is_visible, send_to_llm, created_at`

func scanMessage(row scannable) (chat.Message, error) {
	var m chat.Message
	err := row.Scan(&m.ID, &m.ThreadID, &m.UserID, &m.Role, &m.Content,
		&m.IsVisible, &m.SendToLLM, &m.CreatedAt)
	return m, err
}

func (s *Store) ListMessages(ctx context.Context, threadID string, includeHidden bool) ([]chat.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages
	 WHERE thread_id = $1 ORDER BY created_at ASC`
	if !includeHidden {
		query = `SELECT ` + messageColumns + ` FROM messages
	 WHERE thread_id = $1 AND is_visible = TRUE ORDER BY created_at ASC`
	}

	rows, err := s.pool.Query(ctx, query, threadID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var result []chat.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

func (s *Store) CreateMessage(ctx context.Context, m *chat.Message) (*chat.Message, error) {
	created, err := scanMessage(s.pool.QueryRow(ctx,
		`INSERT INTO messages (thread_id, user_id, role, content, is_visible, send_to_llm)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+messageColumns,
		m.ThreadID, m.UserID, m.Role, m.Content, m.IsVisible, m.SendToLLM))
	if err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	// Bump the thread so list ordering follows activity.
	_, _ = s.pool.Exec(ctx, `UPDATE threads SET updated_at = NOW() WHERE id = $1`, m.ThreadID)
	return &created, nil
}

func (s *Store) DeleteMessages(ctx context.Context, threadID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM messages WHERE thread_id = $1`, threadID); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	return nil
}
