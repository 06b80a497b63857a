package a2a

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// AgentCapabilities advertises protocol-level features of an agent.
type AgentCapabilities struct {
	Streaming         bool `json:"streaming"`
	PushNotifications bool `json:"pushNotifications,omitempty"`
}

// AgentSkill describes one discrete capability on the agent card.
type AgentSkill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	Examples    []string `json:"examples,omitempty"`
}

// AgentCard is the discovery document served at the well-known path. An
// agent may additionally expose an extended card with more skills behind
// the authenticated route.
type AgentCard struct {
	Name                              string            `json:"name"`
	Description                       string            `json:"description"`
	URL                               string            `json:"url"`
	Version                           string            `json:"version"`
	DefaultInputModes                 []string          `json:"defaultInputModes"`
	DefaultOutputModes                []string          `json:"defaultOutputModes"`
	Capabilities                      AgentCapabilities `json:"capabilities"`
	Skills                            []AgentSkill      `json:"skills"`
	SupportsAuthenticatedExtendedCard bool              `json:"supportsAuthenticatedExtendedCard,omitempty"`
}

// Validate checks the required card fields.
func (c *AgentCard) Validate() error {
	if c.Name == "" {
		return ErrMissingName
	}
	if c.Description == "" {
		return ErrMissingDescription
	}
	if c.URL == "" {
		return ErrMissingURL
	}
	if c.Version == "" {
		return ErrMissingVersion
	}
	return nil
}

// Part is one piece of message content. Only text parts are supported.
type Part struct {
	Kind string `json:"kind"`
	Text string `json:"text,omitempty"`
}

// NewTextPart creates a text part.
func NewTextPart(text string) Part {
	return Part{Kind: "text", Text: text}
}

// Message is one exchange in a conversation, from either side.
type Message struct {
	Role      string `json:"role"` // "user" or "agent"
	Parts     []Part `json:"parts"`
	MessageID string `json:"messageId"`
	ContextID string `json:"contextId,omitempty"`
	TaskID    string `json:"taskId,omitempty"`
}

// NewUserMessage creates a user message with a fresh message id.
func NewUserMessage(text, contextID string) Message {
	return Message{
		Role:      "user",
		Parts:     []Part{NewTextPart(text)},
		MessageID: uuid.NewString(),
		ContextID: contextID,
	}
}

// NewAgentMessage creates an agent reply bound to a task.
func NewAgentMessage(text, contextID, taskID string) Message {
	return Message{
		Role:      "agent",
		Parts:     []Part{NewTextPart(text)},
		MessageID: uuid.NewString(),
		ContextID: contextID,
		TaskID:    taskID,
	}
}

// Text concatenates the message's text parts.
func (m *Message) Text() string {
	var b strings.Builder
	for _, p := range m.Parts {
		if p.Kind == "text" {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// TaskState is the lifecycle state of a task.
type TaskState string

const (
	TaskStateSubmitted     TaskState = "submitted"
	TaskStateWorking       TaskState = "working"
	TaskStateInputRequired TaskState = "input-required"
	TaskStateCompleted     TaskState = "completed"
	TaskStateFailed        TaskState = "failed"
	TaskStateCanceled      TaskState = "canceled"
)

// Terminal reports whether the state ends the task lifecycle. An
// input-required task resumes when the user answers, so it is not
// terminal.
func (s TaskState) Terminal() bool {
	switch s {
	case TaskStateCompleted, TaskStateFailed, TaskStateCanceled:
		return true
	}
	return false
}

// TaskStatus is the current state of a task plus the agent message that
// produced it.
type TaskStatus struct {
	State     TaskState `json:"state"`
	Message   *Message  `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Task tracks one unit of agent work.
type Task struct {
	ID        string     `json:"id"`
	ContextID string     `json:"contextId"`
	Status    TaskStatus `json:"status"`
	History   []Message  `json:"history,omitempty"`
}

// SendMessageRequest is the body of POST /a2a/messages.
type SendMessageRequest struct {
	Message Message `json:"message"`
}

// StreamEvent is one SSE frame of a streaming exchange. Final marks the
// last frame; the task state on the final frame resolves the turn.
type StreamEvent struct {
	TaskID    string     `json:"taskId"`
	ContextID string     `json:"contextId"`
	Status    TaskStatus `json:"status"`
	Final     bool       `json:"final"`
}
