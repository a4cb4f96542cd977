package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/taskline/taskline/internal/domain"
	"github.com/taskline/taskline/internal/domain/task"
	"github.com/taskline/taskline/internal/port/database"
	"github.com/taskline/taskline/internal/port/llm"
)

// Tool names the assistant may invoke during a turn.
const (
	ToolCreateTask     = "create_task"
	ToolUpdateTask     = "update_task"
	ToolCompleteTask   = "complete_task"
	ToolDeleteTask     = "delete_task"
	ToolSetNickname    = "set_nickname"
	ToolClearNickname  = "clear_nickname"
	ToolSetThreadTitle = "set_thread_title"
	ToolDataRequest    = "data_request"
)

// ToolContext carries per-turn identity for tool handlers.
type ToolContext struct {
	UserID   string
	ThreadID string
}

// ToolHandler executes a single tool call and returns a human-readable
// summary of what it did.
type ToolHandler func(ctx context.Context, tc ToolContext, params map[string]any) (string, error)

type toolEntry struct {
	schema   llm.ToolSchema
	required []string
	handler  ToolHandler
}

// ToolRegistry maps tool names to their schemas and handlers. All handlers
// operate against the backing store so each call is isolated: a failure in
// one call never prevents later calls in the same turn from running.
type ToolRegistry struct {
	store database.Store
	tools map[string]toolEntry
}

// NewToolRegistry builds the registry with the full task and profile tool set.
func NewToolRegistry(store database.Store) *ToolRegistry {
	r := &ToolRegistry{store: store, tools: map[string]toolEntry{}}
	r.register(llm.ToolSchema{
		Name:        ToolCreateTask,
		Description: "Create a new task for the user. Use when the user asks to add, create, or remember a task.",
		Parameters: map[string]any{
			"title":       map[string]any{"type": "string", "description": "Short task title"},
			"description": map[string]any{"type": "string", "description": "Optional longer description"},
			"priority":    map[string]any{"type": "string", "enum": []string{"low", "medium", "high"}},
			"due_date":    map[string]any{"type": "string", "description": "Optional due date in RFC 3339 format"},
		},
		Required: []string{"title"},
	}, r.createTask)
	r.register(llm.ToolSchema{
		Name:        ToolUpdateTask,
		Description: "Update fields of an existing task. Only include fields that should change.",
		Parameters: map[string]any{
			"task_id":     map[string]any{"type": "string"},
			"title":       map[string]any{"type": "string"},
			"description": map[string]any{"type": "string"},
			"status":      map[string]any{"type": "string", "enum": []string{"open", "in_progress", "completed", "cancelled"}},
			"priority":    map[string]any{"type": "string", "enum": []string{"low", "medium", "high"}},
			"due_date":    map[string]any{"type": "string", "description": "RFC 3339 date, empty string clears"},
		},
		Required: []string{"task_id"},
	}, r.updateTask)
	r.register(llm.ToolSchema{
		Name:        ToolCompleteTask,
		Description: "Mark a task as completed.",
		Parameters: map[string]any{
			"task_id": map[string]any{"type": "string"},
		},
		Required: []string{"task_id"},
	}, r.completeTask)
	r.register(llm.ToolSchema{
		Name:        ToolDeleteTask,
		Description: "Permanently delete a task. Only use when the user explicitly asks for removal.",
		Parameters: map[string]any{
			"task_id": map[string]any{"type": "string"},
		},
		Required: []string{"task_id"},
	}, r.deleteTask)
	r.register(llm.ToolSchema{
		Name:        ToolSetNickname,
		Description: "Remember what the user wants to be called.",
		Parameters: map[string]any{
			"nickname": map[string]any{"type": "string"},
		},
		Required: []string{"nickname"},
	}, r.setNickname)
	r.register(llm.ToolSchema{
		Name:        ToolClearNickname,
		Description: "Forget the user's stored nickname.",
		Parameters:  map[string]any{},
	}, r.clearNickname)
	r.register(llm.ToolSchema{
		Name:        ToolSetThreadTitle,
		Description: "Set a short descriptive title for the current conversation.",
		Parameters: map[string]any{
			"title": map[string]any{"type": "string", "description": "At most a few words"},
		},
		Required: []string{"title"},
	}, r.setThreadTitle)
	r.register(llm.ToolSchema{
		Name:        ToolDataRequest,
		Description: "Request the user's current task list when it is needed to answer. The list is delivered on the next turn.",
		Parameters:  map[string]any{},
	}, nil)
	return r
}

func (r *ToolRegistry) register(schema llm.ToolSchema, handler ToolHandler) {
	r.tools[schema.Name] = toolEntry{schema: schema, required: schema.Required, handler: handler}
}

// Schemas returns the tool definitions to advertise to the model.
func (r *ToolRegistry) Schemas() []llm.ToolSchema {
	names := []string{
		ToolCreateTask, ToolUpdateTask, ToolCompleteTask, ToolDeleteTask,
		ToolSetNickname, ToolClearNickname, ToolSetThreadTitle, ToolDataRequest,
	}
	out := make([]llm.ToolSchema, 0, len(names))
	for _, n := range names {
		out = append(out, r.tools[n].schema)
	}
	return out
}

// Known reports whether the registry has a tool with the given name.
func (r *ToolRegistry) Known(name string) bool {
	_, ok := r.tools[name]
	return ok
}

// Execute validates required parameters and runs the named tool.
func (r *ToolRegistry) Execute(ctx context.Context, tc ToolContext, name string, params map[string]any) (string, error) {
	entry, ok := r.tools[name]
	if !ok {
		return "", fmt.Errorf("unknown tool %q", name)
	}
	for _, req := range entry.required {
		if _, ok := stringParam(params, req); !ok {
			return "", fmt.Errorf("missing required parameter %q", req)
		}
	}
	if entry.handler == nil {
		return "", fmt.Errorf("tool %q has no direct handler", name)
	}
	return entry.handler(ctx, tc, params)
}

func (r *ToolRegistry) createTask(ctx context.Context, tc ToolContext, params map[string]any) (string, error) {
	title, _ := stringParam(params, "title")
	req := task.CreateRequest{
		UserID:   tc.UserID,
		Title:    title,
		Priority: task.PriorityMedium,
	}
	if desc, ok := stringParam(params, "description"); ok {
		req.Description = desc
	}
	if p, ok := stringParam(params, "priority"); ok {
		prio := task.Priority(p)
		if !prio.Valid() {
			return "", fmt.Errorf("invalid priority %q", p)
		}
		req.Priority = prio
	}
	if raw, ok := stringParam(params, "due_date"); ok && raw != "" {
		due, err := parseDueDate(raw)
		if err != nil {
			return "", err
		}
		req.DueDate = &due
	}
	created, err := r.store.CreateTask(ctx, req)
	if err != nil {
		return "", fmt.Errorf("create task: %w", err)
	}
	return fmt.Sprintf("Created task %q", created.Title), nil
}

func (r *ToolRegistry) updateTask(ctx context.Context, tc ToolContext, params map[string]any) (string, error) {
	id, _ := stringParam(params, "task_id")
	if _, err := r.ownedTask(ctx, tc, id); err != nil {
		return "", err
	}

	var req task.UpdateRequest
	if v, ok := stringParam(params, "title"); ok {
		req.Title = &v
	}
	if v, ok := stringParam(params, "description"); ok {
		req.Description = &v
	}
	if v, ok := stringParam(params, "status"); ok {
		st := task.Status(v)
		if !st.Valid() {
			return "", fmt.Errorf("invalid status %q", v)
		}
		req.Status = &st
	}
	if v, ok := stringParam(params, "priority"); ok {
		prio := task.Priority(v)
		if !prio.Valid() {
			return "", fmt.Errorf("invalid priority %q", v)
		}
		req.Priority = &prio
	}
	if v, hasKey := params["due_date"]; hasKey {
		if s, ok := v.(string); ok {
			if s == "" {
				req.ClearDueDate = true
			} else {
				due, err := parseDueDate(s)
				if err != nil {
					return "", err
				}
				req.DueDate = &due
			}
		}
	}

	updated, err := r.store.UpdateTask(ctx, id, req)
	if err != nil {
		return "", fmt.Errorf("update task: %w", err)
	}
	return fmt.Sprintf("Updated task %q", updated.Title), nil
}

func (r *ToolRegistry) completeTask(ctx context.Context, tc ToolContext, params map[string]any) (string, error) {
	id, _ := stringParam(params, "task_id")
	if _, err := r.ownedTask(ctx, tc, id); err != nil {
		return "", err
	}
	st := task.StatusCompleted
	updated, err := r.store.UpdateTask(ctx, id, task.UpdateRequest{Status: &st})
	if err != nil {
		return "", fmt.Errorf("complete task: %w", err)
	}
	return fmt.Sprintf("Completed task %q", updated.Title), nil
}

func (r *ToolRegistry) deleteTask(ctx context.Context, tc ToolContext, params map[string]any) (string, error) {
	id, _ := stringParam(params, "task_id")
	existing, err := r.ownedTask(ctx, tc, id)
	if err != nil {
		return "", err
	}
	if err := r.store.DeleteTask(ctx, id); err != nil {
		return "", fmt.Errorf("delete task: %w", err)
	}
	return fmt.Sprintf("Deleted task %q", existing.Title), nil
}

// ownedTask loads a task and verifies it belongs to the calling user. A
// foreign task is reported as not found so ids cannot be probed.
func (r *ToolRegistry) ownedTask(ctx context.Context, tc ToolContext, id string) (*task.Task, error) {
	t, err := r.store.GetTask(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("look up task: %w", err)
	}
	if t.UserID != tc.UserID {
		return nil, fmt.Errorf("look up task %s: %w", id, domain.ErrNotFound)
	}
	return t, nil
}

func (r *ToolRegistry) setNickname(ctx context.Context, tc ToolContext, params map[string]any) (string, error) {
	nickname, _ := stringParam(params, "nickname")
	nickname = strings.TrimSpace(nickname)
	if nickname == "" {
		return "", fmt.Errorf("nickname must not be blank")
	}
	if err := r.store.SetNickname(ctx, tc.UserID, nickname); err != nil {
		return "", fmt.Errorf("set nickname: %w", err)
	}
	return fmt.Sprintf("Saved nickname %q", nickname), nil
}

func (r *ToolRegistry) clearNickname(ctx context.Context, tc ToolContext, _ map[string]any) (string, error) {
	if err := r.store.SetNickname(ctx, tc.UserID, ""); err != nil {
		return "", fmt.Errorf("clear nickname: %w", err)
	}
	return "Cleared stored nickname", nil
}

func (r *ToolRegistry) setThreadTitle(ctx context.Context, tc ToolContext, params map[string]any) (string, error) {
	title, _ := stringParam(params, "title")
	title = strings.TrimSpace(title)
	if title == "" {
		return "", fmt.Errorf("title must not be blank")
	}
	if tc.ThreadID == "" {
		return "", fmt.Errorf("no active thread")
	}
	if _, err := r.store.UpdateThreadTitle(ctx, tc.ThreadID, title); err != nil {
		return "", fmt.Errorf("set thread title: %w", err)
	}
	return fmt.Sprintf("Titled conversation %q", title), nil
}

// stringParam extracts a string parameter. A present key holding a
// non-string value counts as absent so required-parameter checks catch it.
func stringParam(params map[string]any, key string) (string, bool) {
	v, ok := params[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	return s, true
}

func parseDueDate(raw string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid due date %q", raw)
}
