package agent

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// ResponseStatus is the closed status set of a structured response.
type ResponseStatus string

const (
	StatusInputRequired ResponseStatus = "input_required"
	StatusCompleted     ResponseStatus = "completed"
	StatusError         ResponseStatus = "error"
)

// ResponseFormat is the agent's closing, schema-validated answer. The
// status fully determines how the caller proceeds: ask the user for more
// input, treat the message as final, or treat it as a recoverable failure
// needing clarification.
type ResponseFormat struct {
	Status  ResponseStatus `json:"status"`
	Message string         `json:"message"`
}

// ResponseFormatSchema is the JSON Schema sent to providers that support
// schema-constrained output.
const ResponseFormatSchema = `{
	"type": "object",
	"properties": {
		"status": {"type": "string", "enum": ["input_required", "completed", "error"]},
		"message": {"type": "string"}
	},
	"required": ["status", "message"]
}`

// ParseError describes why a model reply failed to parse as a
// ResponseFormat.
type ParseError struct {
	Raw     string
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("structured response parse failed: %s", e.Message)
}

var codeBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")

// extractJSON pulls a JSON object out of a reply that may wrap it in a
// markdown code fence or surrounding prose.
func extractJSON(reply string) string {
	reply = strings.TrimSpace(reply)

	if strings.Contains(reply, "```") {
		if matches := codeBlockRe.FindStringSubmatch(reply); len(matches) > 1 {
			return strings.TrimSpace(matches[1])
		}
	}

	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start >= 0 && end > start {
		return reply[start : end+1]
	}

	return reply
}

// ParseResponseFormat is the explicit parse step for the model's final
// reply: it returns either a validated ResponseFormat or a *ParseError,
// never a duck-typed guess.
func ParseResponseFormat(reply string) (*ResponseFormat, *ParseError) {
	jsonStr := extractJSON(reply)

	var rf ResponseFormat
	if err := json.Unmarshal([]byte(jsonStr), &rf); err != nil {
		return nil, &ParseError{Raw: reply, Message: fmt.Sprintf("invalid JSON: %v", err)}
	}

	switch rf.Status {
	case StatusInputRequired, StatusCompleted, StatusError:
	default:
		return nil, &ParseError{Raw: reply, Message: fmt.Sprintf("unknown status %q", rf.Status)}
	}
	if rf.Message == "" {
		return nil, &ParseError{Raw: reply, Message: "missing message"}
	}

	return &rf, nil
}

// ProgressEvent is an ephemeral, non-persisted value yielded while a turn
// is in flight. It is consumed once by the caller and never stored.
type ProgressEvent struct {
	IsTaskComplete   bool   `json:"is_task_complete"`
	RequireUserInput bool   `json:"require_user_input"`
	Content          string `json:"content"`
}

// Terminal reports whether the event resolves the turn: either the task
// completed or the agent is waiting on the user.
func (e ProgressEvent) Terminal() bool {
	return e.IsTaskComplete || e.RequireUserInput
}

// eventFromResponse maps a structured response to its terminal progress
// event. An error status surfaces to the user as a request for
// clarification, not a hard failure.
func eventFromResponse(rf *ResponseFormat) ProgressEvent {
	switch rf.Status {
	case StatusCompleted:
		return ProgressEvent{IsTaskComplete: true, RequireUserInput: false, Content: rf.Message}
	default: // input_required, error
		return ProgressEvent{IsTaskComplete: false, RequireUserInput: true, Content: rf.Message}
	}
}
