package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/taskline/taskline/internal/domain/task"
)

const taskColumns = `id, user_id, title, COALESCE(description, ''), status, priority, due_date, created_at, updated_at`

func scanTask(row scannable) (task.Task, error) {
	var t task.Task
	err := row.Scan(&t.ID, &t.UserID, &t.Title, &t.Description, &t.Status,
		&t.Priority, &t.DueDate, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

func (s *Store) ListTasks(ctx context.Context, userID string) ([]task.Task, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+taskColumns+` FROM tasks
		 WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var result []task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func (s *Store) GetTask(ctx context.Context, id string) (*task.Task, error) {
	t, err := scanTask(s.pool.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundWrap(err, "get task %s", id)
	}
	return &t, nil
}

func (s *Store) CreateTask(ctx context.Context, req task.CreateRequest) (*task.Task, error) {
	priority := req.Priority
	if priority == "" {
		priority = task.PriorityMedium
	}
	t, err := scanTask(s.pool.QueryRow(ctx,
		`INSERT INTO tasks (user_id, title, description, priority, due_date)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+taskColumns,
		req.UserID, req.Title, nullIfEmpty(req.Description), priority, req.DueDate))
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return &t, nil
}

func (s *Store) UpdateTask(ctx context.Context, id string, req task.UpdateRequest) (*task.Task, error) {
	sets := []string{"updated_at = NOW()"}
	args := []any{id}

	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if req.Title != nil {
		add("title", *req.Title)
	}
	if req.Description != nil {
		add("description", nullIfEmpty(*req.Description))
	}
	if req.Status != nil {
		add("status", *req.Status)
	}
	if req.Priority != nil {
		add("priority", *req.Priority)
	}
	if req.DueDate != nil {
		add("due_date", *req.DueDate)
	} else if req.ClearDueDate {
		sets = append(sets, "due_date = NULL")
	}

	t, err := scanTask(s.pool.QueryRow(ctx,
		`UPDATE tasks SET `+strings.Join(sets, ", ")+` WHERE id = $1
		 RETURNING `+taskColumns, args...))
	if err != nil {
		return nil, notFoundWrap(err, "update task %s", id)
	}
	return &t, nil
}

func (s *Store) DeleteTask(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	return execExpectOne(tag, err, "delete task %s", id)
}
