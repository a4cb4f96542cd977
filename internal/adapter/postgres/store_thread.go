package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/taskline/taskline/internal/domain/chat"
	"github.com/taskline/taskline/internal/domain/thread"
)

const threadColumns = `id, COALESCE(title, ''), created_by, is_archived, created_at, updated_at`

func scanThread(row scannable) (thread.Thread, error) {
	var t thread.Thread
	err := row.Scan(&t.ID, &t.Title, &t.CreatedBy, &t.IsArchived, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

func (s *Store) GetThread(ctx context.Context, id string) (*thread.Thread, error) {
	t, err := scanThread(s.pool.QueryRow(ctx,
		`SELECT `+threadColumns+` FROM threads WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundWrap(err, "get thread %s", id)
	}
	return &t, nil
}

func (s *Store) ListThreads(ctx context.Context, userID string) ([]thread.Thread, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+threadColumns+` FROM threads
		 WHERE created_by = $1 ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()

	var result []thread.Thread
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, fmt.Errorf("scan thread: %w", err)
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func (s *Store) CreateThread(ctx context.Context, userID string) (*thread.Thread, error) {
	t, err := scanThread(s.pool.QueryRow(ctx,
		`INSERT INTO threads (title, created_by) VALUES ($1, $2)
		 RETURNING `+threadColumns, thread.DefaultTitle, userID))
	if err != nil {
		return nil, fmt.Errorf("create thread: %w", err)
	}
	return &t, nil
}

func (s *Store) UpdateThreadTitle(ctx context.Context, id, title string) (*thread.Thread, error) {
	t, err := scanThread(s.pool.QueryRow(ctx,
		`UPDATE threads SET title = $2, updated_at = NOW() WHERE id = $1
		 RETURNING `+threadColumns, id, title))
	if err != nil {
		return nil, notFoundWrap(err, "update thread title %s", id)
	}
	return &t, nil
}

func (s *Store) ArchiveActiveThreads(ctx context.Context, userID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE threads SET is_archived = TRUE, updated_at = NOW()
		 WHERE created_by = $1 AND is_archived = FALSE`, userID)
	if err != nil {
		return fmt.Errorf("archive threads: %w", err)
	}
	return nil
}

// CreateThreadWithPregenerated runs the whole pregenerated creation path in
// one transaction: archive the user's active threads, create a new thread,
// consume one unused pregenerated exchange and seed the thread with its
// hidden priming message and visible response. When the pool is empty the
// new thread is committed with zero messages and the welcome message is
// synthesized lazily on first load.
func (s *Store) CreateThreadWithPregenerated(ctx context.Context, userID string) (string, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`UPDATE threads SET is_archived = TRUE, updated_at = NOW()
		 WHERE created_by = $1 AND is_archived = FALSE`, userID)
	if err != nil {
		return "", fmt.Errorf("archive threads: %w", err)
	}

	var threadID string
	err = tx.QueryRow(ctx,
		`INSERT INTO threads (title, created_by) VALUES ($1, $2) RETURNING id`,
		thread.DefaultTitle, userID).Scan(&threadID)
	if err != nil {
		return "", fmt.Errorf("create thread: %w", err)
	}

	// FOR UPDATE SKIP LOCKED so two concurrent creations cannot consume
	// the same row.
	var pg chat.Pregenerated
	err = tx.QueryRow(ctx,
		`SELECT id, hidden_message, ai_response FROM pregenerated_messages
		 WHERE user_id = $1 AND is_used = FALSE
		 ORDER BY created_at ASC LIMIT 1
		 FOR UPDATE SKIP LOCKED`, userID).Scan(&pg.ID, &pg.HiddenMessage, &pg.AIResponse)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Empty pool: commit the bare thread.
			if err := tx.Commit(ctx); err != nil {
				return "", fmt.Errorf("commit: %w", err)
			}
			return threadID, nil
		}
		return "", fmt.Errorf("select pregenerated: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO messages (thread_id, user_id, role, content, is_visible, send_to_llm)
		 VALUES ($1, $2, 'user', $3, FALSE, TRUE), ($1, $2, 'assistant', $4, TRUE, TRUE)`,
		threadID, userID, pg.HiddenMessage, pg.AIResponse)
	if err != nil {
		return "", fmt.Errorf("seed messages: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE pregenerated_messages SET is_used = TRUE, used_at = NOW()
		 WHERE id = $1 AND is_used = FALSE`, pg.ID)
	if err := execExpectOne(tag, err, "mark pregenerated %s used", pg.ID); err != nil {
		return "", err
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return threadID, nil
}
