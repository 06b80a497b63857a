package a2a

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fxagent/fxagent/agent"
)

// Executor is the agent behind the server. Both example agents satisfy it.
type Executor interface {
	SupportedContentTypes() []string
	Invoke(ctx context.Context, query, contextID string) (agent.ProgressEvent, error)
	Stream(ctx context.Context, query, contextID string) (<-chan agent.ProgressEvent, error)
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	// Card is the public agent card, served at /.well-known/agent.json.
	Card *AgentCard
	// ExtendedCard, when set, is served at /agent/authenticatedExtendedCard
	// to callers presenting AuthToken.
	ExtendedCard *AgentCard
	// AuthToken guards the extended card route.
	AuthToken string
	// RequestTimeout bounds one synchronous turn (default 60s).
	RequestTimeout time.Duration
	Logger         *zap.Logger
}

// Server exposes an Executor over the agent-to-agent HTTP protocol.
type Server struct {
	config ServerConfig
	agent  Executor
	tasks  TaskStore
	mux    *http.ServeMux
	logger *zap.Logger
}

// NewServer validates the card and wires the routes.
func NewServer(executor Executor, tasks TaskStore, config ServerConfig) (*Server, error) {
	if config.Card == nil {
		return nil, fmt.Errorf("server config: %w", ErrMissingName)
	}
	if err := config.Card.Validate(); err != nil {
		return nil, fmt.Errorf("agent card: %w", err)
	}
	if config.ExtendedCard != nil {
		if err := config.ExtendedCard.Validate(); err != nil {
			return nil, fmt.Errorf("extended agent card: %w", err)
		}
	}
	if config.RequestTimeout == 0 {
		config.RequestTimeout = 60 * time.Second
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if tasks == nil {
		tasks = NewInMemoryTaskStore()
	}

	s := &Server{
		config: config,
		agent:  executor,
		tasks:  tasks,
		mux:    http.NewServeMux(),
		logger: config.Logger,
	}

	s.mux.HandleFunc("GET /.well-known/agent.json", s.handleAgentCard)
	s.mux.HandleFunc("GET /agent/authenticatedExtendedCard", s.handleExtendedCard)
	s.mux.HandleFunc("POST /a2a/messages", s.handleSendMessage)
	s.mux.HandleFunc("POST /a2a/messages/stream", s.handleStreamMessage)
	s.mux.HandleFunc("GET /a2a/tasks/{id}", s.handleGetTask)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleAgentCard(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.config.Card)
}

func (s *Server) handleExtendedCard(w http.ResponseWriter, r *http.Request) {
	if s.config.ExtendedCard == nil {
		s.writeError(w, http.StatusNotFound, "extended card not supported")
		return
	}

	auth := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok || token == "" || token != s.config.AuthToken {
		s.logger.Warn("extended card auth rejected", zap.String("remote", r.RemoteAddr))
		s.writeError(w, http.StatusUnauthorized, ErrUnauthorized.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, s.config.ExtendedCard)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.tasks.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	msg, ok := s.decodeMessage(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.RequestTimeout)
	defer cancel()

	task := s.newTask(msg)
	if err := s.tasks.Save(ctx, task); err != nil {
		s.logger.Error("task save failed", zap.Error(err))
	}

	ev, err := s.agent.Invoke(ctx, msg.Text(), task.ContextID)
	if err != nil {
		s.logger.Error("agent invocation failed",
			zap.String("task_id", task.ID),
			zap.Error(err))
		task.Status = TaskStatus{State: TaskStateFailed, Timestamp: time.Now().UTC()}
	} else {
		task.Status = s.statusFromEvent(task, ev)
	}

	if err := s.tasks.Save(ctx, task); err != nil {
		s.logger.Error("task save failed", zap.Error(err))
	}

	s.logger.Info("message handled",
		zap.String("task_id", task.ID),
		zap.String("context_id", task.ContextID),
		zap.String("state", string(task.Status.State)))

	s.writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleStreamMessage(w http.ResponseWriter, r *http.Request) {
	msg, ok := s.decodeMessage(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.RequestTimeout)
	defer cancel()

	task := s.newTask(msg)
	if err := s.tasks.Save(ctx, task); err != nil {
		s.logger.Error("task save failed", zap.Error(err))
	}

	events, err := s.agent.Stream(ctx, msg.Text(), task.ContextID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)
	for ev := range events {
		task.Status = s.statusFromEvent(task, ev)

		frame := StreamEvent{
			TaskID:    task.ID,
			ContextID: task.ContextID,
			Status:    task.Status,
			Final:     ev.Terminal(),
		}
		fmt.Fprint(w, "data: ")
		if err := enc.Encode(frame); err != nil {
			s.logger.Warn("stream write failed", zap.Error(err))
			break
		}
		fmt.Fprint(w, "\n")
		flusher.Flush()
	}

	if err := s.tasks.Save(ctx, task); err != nil {
		s.logger.Error("task save failed", zap.Error(err))
	}
}

// decodeMessage parses and validates the request body, writing the error
// response itself on failure.
func (s *Server) decodeMessage(w http.ResponseWriter, r *http.Request) (Message, bool) {
	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return Message{}, false
	}
	if strings.TrimSpace(req.Message.Text()) == "" {
		s.writeError(w, http.StatusBadRequest, ErrEmptyMessage.Error())
		return Message{}, false
	}
	return req.Message, true
}

// newTask creates a submitted task, minting a context id when the client
// did not supply one.
func (s *Server) newTask(msg Message) *Task {
	contextID := msg.ContextID
	if contextID == "" {
		contextID = uuid.NewString()
	}
	return &Task{
		ID:        uuid.NewString(),
		ContextID: contextID,
		Status:    TaskStatus{State: TaskStateSubmitted, Timestamp: time.Now().UTC()},
		History:   []Message{msg},
	}
}

// statusFromEvent maps a progress event onto the task lifecycle and
// appends agent replies to the task history.
func (s *Server) statusFromEvent(task *Task, ev agent.ProgressEvent) TaskStatus {
	reply := NewAgentMessage(ev.Content, task.ContextID, task.ID)
	task.History = append(task.History, reply)

	state := TaskStateWorking
	switch {
	case ev.IsTaskComplete:
		state = TaskStateCompleted
	case ev.RequireUserInput:
		state = TaskStateInputRequired
	}

	return TaskStatus{State: state, Message: &reply, Timestamp: time.Now().UTC()}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("response write failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
