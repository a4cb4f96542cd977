package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/taskline/taskline/internal/adapter/otel"
	"github.com/taskline/taskline/internal/adapter/ws"
	"github.com/taskline/taskline/internal/config"
	"github.com/taskline/taskline/internal/domain"
	"github.com/taskline/taskline/internal/domain/chat"
	"github.com/taskline/taskline/internal/port/broadcast"
	"github.com/taskline/taskline/internal/port/database"
	"github.com/taskline/taskline/internal/port/llm"
	"github.com/taskline/taskline/internal/port/messagequeue"
)

type managerState int

const (
	stateUninitialized managerState = iota
	stateInitializing
	stateReady
)

// fallbackReply is persisted when the model returns neither text nor tool calls.
const fallbackReply = "Sorry, I had trouble coming up with a reply just now. Please try again."

// ChatManager drives the conversation for one thread: it owns the in-memory
// message list, persists turns, windows history for the model, and hands
// replies to the parser. Safe for concurrent use.
type ChatManager struct {
	store    database.Store
	llm      llm.Client
	parser   *Parser
	registry *ToolRegistry
	pregen   *PregenService
	hub      broadcast.Broadcaster
	queue    messagequeue.Queue
	metrics  *otel.Metrics
	chatCfg  config.Chat
	llmCfg   config.LLM
	log      *slog.Logger

	userID   string
	threadID string

	mu            sync.Mutex
	state         managerState
	messages      []chat.Message
	sending       bool
	welcomed      bool
	titleInjected bool

	// pendingThreadID pins the thread an in-flight send writes to, so a
	// thread switch mid-send cannot misfile the reply.
	pendingThreadID string
}

// ChatManagerDeps bundles the collaborators a ChatManager needs.
type ChatManagerDeps struct {
	Store    database.Store
	LLM      llm.Client
	Parser   *Parser
	Registry *ToolRegistry
	Pregen   *PregenService
	Hub      broadcast.Broadcaster
	Queue    messagequeue.Queue
	Metrics  *otel.Metrics
	ChatCfg  config.Chat
	LLMCfg   config.LLM
	Log      *slog.Logger
}

// NewChatManager creates a manager bound to one user and thread.
func NewChatManager(deps ChatManagerDeps, userID, threadID string) *ChatManager {
	return &ChatManager{
		store:    deps.Store,
		llm:      deps.LLM,
		parser:   deps.Parser,
		registry: deps.Registry,
		pregen:   deps.Pregen,
		hub:      deps.Hub,
		queue:    deps.Queue,
		metrics:  deps.Metrics,
		chatCfg:  deps.ChatCfg,
		llmCfg:   deps.LLMCfg,
		log:      deps.Log,
		userID:   userID,
		threadID: threadID,
	}
}

// Initialize verifies the backend is reachable. Failure leaves the manager
// uninitialized so a later call can retry.
func (m *ChatManager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	if m.state == stateReady {
		m.mu.Unlock()
		return nil
	}
	if m.state == stateInitializing {
		m.mu.Unlock()
		return fmt.Errorf("initialization in progress: %w", domain.ErrConflict)
	}
	m.state = stateInitializing
	m.mu.Unlock()

	if err := m.store.Ping(ctx); err != nil {
		m.mu.Lock()
		m.state = stateUninitialized
		m.mu.Unlock()
		return fmt.Errorf("ping store: %w", err)
	}

	m.mu.Lock()
	m.state = stateReady
	m.mu.Unlock()
	return nil
}

// LoadMessages fetches the thread's messages into memory and returns the
// renderable (visible) subset. An error is informational: the returned slice
// is always safe to render, empty at worst.
func (m *ChatManager) LoadMessages(ctx context.Context) ([]chat.Message, error) {
	rows, err := m.store.ListMessages(ctx, m.threadID, true)
	if err != nil {
		m.log.Error("load messages failed", "thread_id", m.threadID, "error", err)
		return []chat.Message{}, fmt.Errorf("list messages: %w", err)
	}

	m.mu.Lock()
	m.messages = rows
	alreadyWelcomed := m.welcomed
	m.mu.Unlock()

	if len(rows) == 0 && !alreadyWelcomed {
		if welcome := m.createWelcomeMessage(ctx); welcome != nil {
			m.mu.Lock()
			m.messages = append(m.messages, *welcome)
			m.mu.Unlock()
		}
	}

	return m.Messages(), nil
}

// createWelcomeMessage synthesizes and persists a greeting for an empty
// thread. Returns nil on any failure; the thread renders empty and the next
// load retries.
func (m *ChatManager) createWelcomeMessage(ctx context.Context) *chat.Message {
	m.mu.Lock()
	m.welcomed = true
	m.mu.Unlock()

	text, ok := m.pregen.ComposeWelcome(ctx, m.userID)
	if !ok {
		return nil
	}
	saved, err := m.store.CreateMessage(ctx, &chat.Message{
		ThreadID:  m.threadID,
		UserID:    m.userID,
		Role:      chat.RoleAssistant,
		Content:   text,
		IsVisible: true,
		SendToLLM: true,
	})
	if err != nil {
		m.log.Error("persist welcome failed", "thread_id", m.threadID, "error", err)
		return nil
	}
	return saved
}

// SendMessage runs one full user turn: optimistic insert, durable persist,
// history window, completion, parse, broadcast. Returns the visible messages
// after the turn.
func (m *ChatManager) SendMessage(ctx context.Context, content string) ([]chat.Message, error) {
	m.mu.Lock()
	if m.state != stateReady {
		m.mu.Unlock()
		return nil, fmt.Errorf("manager not initialized: %w", domain.ErrUnavailable)
	}
	if m.sending {
		m.mu.Unlock()
		return nil, fmt.Errorf("send already in progress: %w", domain.ErrConflict)
	}
	m.sending = true
	m.pendingThreadID = m.threadID
	threadID := m.threadID
	temp := chat.Message{
		ID:        chat.NewTempID(),
		ThreadID:  threadID,
		UserID:    m.userID,
		Role:      chat.RoleUser,
		Content:   content,
		IsVisible: true,
		SendToLLM: true,
		CreatedAt: time.Now(),
	}
	m.messages = append(m.messages, temp)
	m.mu.Unlock()

	m.broadcastSending(ctx, threadID, true)
	defer m.broadcastSending(ctx, threadID, false)

	result, err := m.runTurn(ctx, threadID, temp)
	if err != nil {
		m.noteSendFailure(ctx)
		return m.Messages(), err
	}

	m.mu.Lock()
	if m.pendingThreadID == threadID {
		m.messages = append(m.messages, result...)
	}
	m.sending = false
	m.pendingThreadID = ""
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.MessagesSent.Add(ctx, 1)
	}
	m.broadcastThreads(ctx)
	m.relayTurn(ctx, threadID, result)

	return m.Messages(), nil
}

// runTurn performs the durable part of a send. The temp message has already
// been appended; on failure before the user row is durable it is rolled
// back, afterwards persisted state is left intact.
func (m *ChatManager) runTurn(ctx context.Context, threadID string, temp chat.Message) ([]chat.Message, error) {
	start := time.Now()

	saved, err := m.store.CreateMessage(ctx, &chat.Message{
		ThreadID:  threadID,
		UserID:    m.userID,
		Role:      chat.RoleUser,
		Content:   temp.Content,
		IsVisible: true,
		SendToLLM: true,
	})
	if err != nil {
		m.mu.Lock()
		m.messages = chat.RemoveByID(m.messages, temp.ID)
		m.mu.Unlock()
		return nil, fmt.Errorf("persist user message: %w", err)
	}

	m.mu.Lock()
	m.messages = chat.ReplaceByID(m.messages, temp.ID, *saved)
	snapshot := make([]chat.Message, len(m.messages))
	copy(snapshot, m.messages)
	m.mu.Unlock()

	// The new user row sits at the end; everything before it is the prior
	// conversation the window draws from.
	prior := snapshot
	if n := len(prior); n > 0 && prior[n-1].ID == saved.ID {
		prior = prior[:n-1]
	}

	titleInstr := ""
	m.mu.Lock()
	wantTitle := !m.titleInjected && countVisiblePersisted(prior) >= m.chatCfg.MessagesForTitle
	m.mu.Unlock()
	if wantTitle {
		if th, err := m.store.GetThread(ctx, threadID); err == nil && !th.TitleGenerated() {
			titleInstr = titleInstruction
			m.mu.Lock()
			m.titleInjected = true
			m.mu.Unlock()
		}
	}

	nickname, err := m.store.GetNickname(ctx, m.userID)
	if err != nil {
		m.log.Warn("nickname lookup failed", "user_id", m.userID, "error", err)
	}
	system, err := systemPrompt(nickname)
	if err != nil {
		return nil, fmt.Errorf("render system prompt: %w", err)
	}

	history := buildHistory(prior, m.chatCfg.HistoryLimit, system, titleInstr, saved.Content)
	resp, err := m.complete(ctx, history)
	if err != nil {
		return nil, fmt.Errorf("completion: %w", err)
	}

	turn, err := m.processTurn(ctx, threadID, resp)
	if err != nil {
		return nil, err
	}

	if turn.DataRequest {
		followup, err := m.answerDataRequest(ctx, threadID, history, turn)
		if err != nil {
			m.log.Warn("data request follow-up failed", "thread_id", threadID, "error", err)
		} else {
			turn.Messages = append(turn.Messages, followup...)
		}
	}

	if m.metrics != nil {
		m.metrics.TurnDuration.Record(ctx, time.Since(start).Seconds())
	}
	return turn.Messages, nil
}

// processTurn sends the response through the parser, persisting a fallback
// apology instead when the model produced nothing usable.
func (m *ChatManager) processTurn(ctx context.Context, threadID string, resp *llm.CompletionResponse) (*TurnResult, error) {
	if resp.Content == "" && len(resp.ToolCalls) == 0 {
		saved, err := m.store.CreateMessage(ctx, &chat.Message{
			ThreadID:  threadID,
			UserID:    m.userID,
			Role:      chat.RoleAssistant,
			Content:   fallbackReply,
			IsVisible: true,
			SendToLLM: false,
		})
		if err != nil {
			return nil, fmt.Errorf("persist fallback reply: %w", err)
		}
		return &TurnResult{Messages: []chat.Message{*saved}}, nil
	}

	tc := TurnContext{
		UserID:   m.userID,
		ThreadID: threadID,
		Save: func(ctx context.Context, msg chat.Message) (*chat.Message, error) {
			return m.store.CreateMessage(ctx, &msg)
		},
	}
	return m.parser.ProcessResponse(ctx, tc, resp)
}

// answerDataRequest fetches the user's tasks, feeds them back to the model
// as a system message, and processes the follow-up reply. A data_request in
// the follow-up is ignored.
func (m *ChatManager) answerDataRequest(ctx context.Context, threadID string, history []llm.Message, turn *TurnResult) ([]chat.Message, error) {
	tasks, err := m.store.ListTasks(ctx, m.userID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	payload, err := json.Marshal(tasks)
	if err != nil {
		return nil, fmt.Errorf("encode tasks: %w", err)
	}

	followHistory := append(history, llm.Message{
		Role:    string(chat.RoleSystem),
		Content: dataResultPreamble + "\n" + string(payload),
	})
	resp, err := m.complete(ctx, followHistory)
	if err != nil {
		return nil, fmt.Errorf("follow-up completion: %w", err)
	}

	follow, err := m.processTurn(ctx, threadID, resp)
	if err != nil {
		return nil, err
	}
	if follow.DataRequest {
		m.log.Warn("model repeated data request, ignoring", "thread_id", threadID)
	}
	return follow.Messages, nil
}

func (m *ChatManager) complete(ctx context.Context, history []llm.Message) (*llm.CompletionResponse, error) {
	return m.llm.Complete(ctx, llm.CompletionRequest{
		Model:       m.llmCfg.Model,
		Messages:    history,
		Tools:       m.registry.Schemas(),
		Temperature: m.llmCfg.Temperature,
		MaxTokens:   m.llmCfg.MaxTokens,
	})
}

// ClearMessages wipes the thread's messages from the repository and memory.
func (m *ChatManager) ClearMessages(ctx context.Context) error {
	if err := m.store.DeleteMessages(ctx, m.threadID); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	m.mu.Lock()
	m.messages = nil
	m.welcomed = false
	m.titleInjected = false
	m.mu.Unlock()
	m.broadcastThreads(ctx)
	return nil
}

// Messages returns a copy of the visible messages.
func (m *ChatManager) Messages() []chat.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return chat.Visible(m.messages)
}

// Sending reports whether a send is in flight.
func (m *ChatManager) Sending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sending
}

// countVisiblePersisted counts persisted visible messages, the signal used
// to decide when a thread has enough substance to deserve a title.
func countVisiblePersisted(msgs []chat.Message) int {
	n := 0
	for _, msg := range msgs {
		if msg.IsVisible && !chat.IsTempID(msg.ID) {
			n++
		}
	}
	return n
}

func (m *ChatManager) noteSendFailure(ctx context.Context) {
	m.mu.Lock()
	m.sending = false
	m.pendingThreadID = ""
	m.mu.Unlock()
	if m.metrics != nil {
		m.metrics.SendFailures.Add(ctx, 1)
	}
}

func (m *ChatManager) broadcastSending(ctx context.Context, threadID string, sending bool) {
	if m.hub == nil {
		return
	}
	m.hub.BroadcastEvent(ctx, ws.EventSendingState, ws.SendingStateEvent{
		ThreadID: threadID,
		Sending:  sending,
	})
}

// broadcastThreads pushes the refreshed thread list to connected clients.
// Failures are logged, never surfaced.
func (m *ChatManager) broadcastThreads(ctx context.Context) {
	if m.hub == nil {
		return
	}
	threads, err := m.store.ListThreads(ctx, m.userID)
	if err != nil {
		m.log.Warn("thread list refresh failed", "user_id", m.userID, "error", err)
		return
	}
	m.hub.BroadcastEvent(ctx, ws.EventThreadUpdated, ws.ThreadUpdatedEvent{
		UserID:  m.userID,
		Threads: threads,
	})
}

// relayTurn publishes cross-instance events for the completed turn. The
// queue is optional and failures are non-fatal.
func (m *ChatManager) relayTurn(ctx context.Context, threadID string, rows []chat.Message) {
	if m.queue == nil {
		return
	}
	update, _ := json.Marshal(map[string]string{"user_id": m.userID, "thread_id": threadID})
	if err := m.queue.Publish(ctx, messagequeue.SubjectThreadUpdated, update); err != nil {
		m.log.Warn("thread update relay failed", "thread_id", threadID, "error", err)
	}
	for _, row := range rows {
		if row.Role != chat.RoleSystem {
			continue
		}
		if err := m.queue.Publish(ctx, messagequeue.SubjectToolExecuted, []byte(row.Content)); err != nil {
			m.log.Warn("tool audit relay failed", "thread_id", threadID, "error", err)
		}
	}
}

// buildHistory assembles the completion history: the standing system prompt,
// the last limit sendable prior messages oldest first, an optional one-shot
// title instruction, and the new user turn last. Temp rows and rows flagged
// send_to_llm=false never enter the window.
func buildHistory(prior []chat.Message, limit int, system, titleInstr, userContent string) []llm.Message {
	eligible := make([]chat.Message, 0, len(prior))
	for _, msg := range prior {
		if msg.SendToLLM && !chat.IsTempID(msg.ID) {
			eligible = append(eligible, msg)
		}
	}
	if limit > 0 && len(eligible) > limit {
		eligible = eligible[len(eligible)-limit:]
	}

	out := make([]llm.Message, 0, len(eligible)+3)
	out = append(out, llm.Message{Role: string(chat.RoleSystem), Content: system})
	for _, msg := range eligible {
		out = append(out, llm.Message{Role: string(msg.Role), Content: msg.Content})
	}
	if titleInstr != "" {
		out = append(out, llm.Message{Role: string(chat.RoleSystem), Content: titleInstr})
	}
	out = append(out, llm.Message{Role: string(chat.RoleUser), Content: userContent})
	return out
}
