package http

import (
	"net/http"

	"github.com/taskline/taskline/internal/adapter/ws"
	"github.com/taskline/taskline/internal/port/database"
	"github.com/taskline/taskline/internal/service"
)

// Handlers bundles the services the HTTP surface exposes.
type Handlers struct {
	store    database.Store
	threads  *service.ThreadService
	sessions *service.ChatSessions
	hub      *ws.Hub
}

// NewHandlers creates the handler set.
func NewHandlers(store database.Store, threads *service.ThreadService, sessions *service.ChatSessions, hub *ws.Hub) *Handlers {
	return &Handlers{store: store, threads: threads, sessions: sessions, hub: hub}
}

// Health reports backend reachability.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "degraded",
			"error":  "database unreachable",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleWS upgrades the connection and joins the broadcast hub.
func (h *Handlers) HandleWS(w http.ResponseWriter, r *http.Request) {
	h.hub.HandleWS(w, r)
}

// ListThreads returns the caller's threads, newest activity first.
func (h *Handlers) ListThreads(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusBadRequest, "X-User-ID header is required")
		return
	}
	threads, err := h.threads.List(r.Context(), uid)
	if err != nil {
		writeDomainError(w, err, "threads not found")
		return
	}
	writeJSON(w, http.StatusOK, threads)
}

// CreateThread archives the caller's active thread and opens a fresh one.
func (h *Handlers) CreateThread(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusBadRequest, "X-User-ID header is required")
		return
	}
	t, err := h.threads.Create(r.Context(), uid)
	if err != nil {
		writeDomainError(w, err, "thread not found")
		return
	}
	h.sessions.DropUser(uid)
	writeJSON(w, http.StatusCreated, t)
}

// CreatePregeneratedThread opens a new thread seeded with a pooled welcome
// exchange when one is available.
func (h *Handlers) CreatePregeneratedThread(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusBadRequest, "X-User-ID header is required")
		return
	}
	t, err := h.threads.CreateWithPregenerated(r.Context(), uid)
	if err != nil {
		writeDomainError(w, err, "thread not found")
		return
	}
	h.sessions.DropUser(uid)
	writeJSON(w, http.StatusCreated, t)
}

// ListMessages loads a thread's visible messages, synthesizing a welcome
// when the thread is empty.
func (h *Handlers) ListMessages(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusBadRequest, "X-User-ID header is required")
		return
	}
	m, err := h.sessions.For(r.Context(), uid, urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "thread not found")
		return
	}
	messages, err := m.LoadMessages(r.Context())
	if err != nil {
		// The slice is still renderable; surface it with the error noted.
		writeJSON(w, http.StatusOK, map[string]any{
			"messages": messages,
			"error":    "some messages could not be loaded",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

type sendMessageRequest struct {
	Content string `json:"content"`
}

// SendMessage runs one chat turn.
func (h *Handlers) SendMessage(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusBadRequest, "X-User-ID header is required")
		return
	}
	req, ok := readJSON[sendMessageRequest](w, r)
	if !ok {
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	m, err := h.sessions.For(r.Context(), uid, urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "thread not found")
		return
	}
	messages, err := m.SendMessage(r.Context(), req.Content)
	if err != nil {
		writeDomainError(w, err, "thread not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

// ClearMessages wipes a thread's conversation.
func (h *Handlers) ClearMessages(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusBadRequest, "X-User-ID header is required")
		return
	}
	m, err := h.sessions.For(r.Context(), uid, urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "thread not found")
		return
	}
	if err := m.ClearMessages(r.Context()); err != nil {
		writeDomainError(w, err, "thread not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListTasks returns the caller's tasks for sidebar rendering.
func (h *Handlers) ListTasks(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusBadRequest, "X-User-ID header is required")
		return
	}
	tasks, err := h.store.ListTasks(r.Context(), uid)
	if err != nil {
		writeDomainError(w, err, "tasks not found")
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}
