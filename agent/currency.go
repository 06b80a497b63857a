package agent

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/fxagent/fxagent/llm"
	"github.com/fxagent/fxagent/llm/tools"
)

// systemInstruction confines the model to currency conversion and tells it
// how to choose the final status.
const systemInstruction = "You are a specialized assistant for currency conversions. " +
	"Your sole purpose is to use the 'get_exchange_rate' tool to answer questions about currency exchange rates. " +
	"If the user asks about anything other than currency conversion or exchange rates, " +
	"politely state that you cannot help with that topic and can only assist with currency-related queries. " +
	"Do not attempt to answer unrelated questions or use tools for other purposes. " +
	"Set response status to input_required if the user needs to provide more information. " +
	"Set response status to error if there is an error while processing the request. " +
	"Set response status to completed if the request is complete."

// formatInstruction drives the closing schema-constrained call.
const formatInstruction = "Select status as completed if the request is complete. " +
	"Select status as input_required if the input is a question to the user. " +
	"Set response status to error if the input indicates an error."

// Progress messages emitted while the tool loop is in flight.
const (
	lookingUpMessage  = "Looking up the exchange rates..."
	processingMessage = "Processing the exchange rates..."
)

// fallbackMessage closes the turn when the model's final reply cannot be
// parsed, the model call fails, or the loop hits its iteration cap.
const fallbackMessage = "We are unable to process your request at the moment. Please try again."

const defaultMaxIterations = 10

// SupportedContentTypes are the content types the agents accept and emit.
var SupportedContentTypes = []string{"text", "text/plain"}

// CurrencyAgent answers currency conversion questions by looping the model
// against the exchange-rate tool, then closing each turn with a
// schema-validated structured response. One turn per context id at a time;
// concurrent turns on the same id resolve last-writer-wins at the store.
type CurrencyAgent struct {
	provider      llm.Provider
	registry      tools.Registry
	executor      tools.Executor
	store         CheckpointStore
	maxIterations int
	logger        *zap.Logger

	exchangeRateConfig tools.ExchangeRateToolConfig
}

// CurrencyAgentOption customizes agent construction.
type CurrencyAgentOption func(*CurrencyAgent)

// WithMaxIterations caps the tool loop. Zero or negative keeps the default.
func WithMaxIterations(n int) CurrencyAgentOption {
	return func(a *CurrencyAgent) {
		if n > 0 {
			a.maxIterations = n
		}
	}
}

// WithExchangeRateConfig points the exchange-rate tool at a non-default
// rate service.
func WithExchangeRateConfig(cfg tools.ExchangeRateToolConfig) CurrencyAgentOption {
	return func(a *CurrencyAgent) { a.exchangeRateConfig = cfg }
}

// NewCurrencyAgent builds the agent and registers its single tool.
func NewCurrencyAgent(provider llm.Provider, store CheckpointStore, logger *zap.Logger, opts ...CurrencyAgentOption) (*CurrencyAgent, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &CurrencyAgent{
		provider:      provider,
		store:         store,
		maxIterations: defaultMaxIterations,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(a)
	}

	registry := tools.NewDefaultRegistry(logger)
	fn, meta := tools.NewExchangeRateTool(a.exchangeRateConfig, logger)
	if err := registry.Register(tools.ExchangeRateToolName, fn, meta); err != nil {
		return nil, err
	}

	a.registry = registry
	a.executor = tools.NewDefaultExecutor(registry, logger)
	return a, nil
}

// SupportedContentTypes returns the content types this agent handles.
func (a *CurrencyAgent) SupportedContentTypes() []string {
	return SupportedContentTypes
}

// Stream runs one turn for the given context id and returns a channel of
// progress events. The channel always ends with exactly one terminal event
// and is then closed; no path exits the turn without one.
func (a *CurrencyAgent) Stream(ctx context.Context, query, contextID string) (<-chan ProgressEvent, error) {
	events := make(chan ProgressEvent, 8)
	go func() {
		defer close(events)
		a.run(ctx, query, contextID, events)
	}()
	return events, nil
}

// Invoke runs one turn synchronously and returns only the terminal event.
func (a *CurrencyAgent) Invoke(ctx context.Context, query, contextID string) (ProgressEvent, error) {
	events, err := a.Stream(ctx, query, contextID)
	if err != nil {
		return ProgressEvent{}, err
	}
	last := ProgressEvent{RequireUserInput: true, Content: fallbackMessage}
	for ev := range events {
		last = ev
	}
	return last, nil
}

func (a *CurrencyAgent) run(ctx context.Context, query, contextID string, events chan<- ProgressEvent) {
	messages := a.loadHistory(ctx, contextID)
	messages = append(messages, llm.NewUserMessage(query))

	finalContent := ""
	resolved := false

	for i := 0; i < a.maxIterations; i++ {
		resp, err := a.provider.Completion(ctx, &llm.ChatRequest{
			Messages:   messages,
			Tools:      a.registry.List(),
			ToolChoice: "auto",
		})
		if err != nil {
			a.logger.Error("model call failed",
				zap.String("context_id", contextID),
				zap.Error(err))
			a.emit(ctx, events, ProgressEvent{RequireUserInput: true, Content: fallbackMessage})
			a.saveHistory(ctx, contextID, messages)
			return
		}

		choice, err := llm.FirstChoice(resp)
		if err != nil {
			a.logger.Error("model returned no choices", zap.String("context_id", contextID))
			a.emit(ctx, events, ProgressEvent{RequireUserInput: true, Content: fallbackMessage})
			a.saveHistory(ctx, contextID, messages)
			return
		}

		messages = append(messages, choice.Message)

		if len(choice.Message.ToolCalls) == 0 {
			finalContent = choice.Message.Content
			resolved = true
			break
		}

		if !a.emit(ctx, events, ProgressEvent{Content: lookingUpMessage}) {
			return
		}

		results := a.executor.Execute(ctx, choice.Message.ToolCalls)
		for _, res := range results {
			messages = append(messages, res.ToMessage())
		}

		if !a.emit(ctx, events, ProgressEvent{Content: processingMessage}) {
			return
		}
	}

	if !resolved {
		a.logger.Warn("tool loop hit iteration cap",
			zap.String("context_id", contextID),
			zap.Int("max_iterations", a.maxIterations))
		a.emit(ctx, events, ProgressEvent{RequireUserInput: true, Content: fallbackMessage})
		a.saveHistory(ctx, contextID, messages)
		return
	}

	terminal := a.structuredResponse(ctx, contextID, messages, finalContent)
	a.emit(ctx, events, terminal)
	a.saveHistory(ctx, contextID, messages)
}

// structuredResponse makes the closing schema-constrained call and maps
// the parsed status onto the terminal event. Any failure in this step
// resolves to the fallback event rather than an error.
func (a *CurrencyAgent) structuredResponse(ctx context.Context, contextID string, messages []llm.Message, finalContent string) ProgressEvent {
	req := &llm.ChatRequest{
		Messages: append([]llm.Message{llm.NewSystemMessage(formatInstruction)},
			llm.NewUserMessage(finalContent)),
		ResponseFormat: &llm.ResponseSchema{
			Name:        "response_format",
			Description: "Structured status for the user's currency request.",
			Schema:      json.RawMessage(ResponseFormatSchema),
		},
	}

	resp, err := a.provider.Completion(ctx, req)
	if err != nil {
		a.logger.Error("structured response call failed",
			zap.String("context_id", contextID),
			zap.Error(err))
		return ProgressEvent{RequireUserInput: true, Content: fallbackMessage}
	}

	choice, err := llm.FirstChoice(resp)
	if err != nil {
		return ProgressEvent{RequireUserInput: true, Content: fallbackMessage}
	}

	rf, perr := ParseResponseFormat(choice.Message.Content)
	if perr != nil {
		a.logger.Warn("structured response parse failed",
			zap.String("context_id", contextID),
			zap.String("reason", perr.Message))
		return ProgressEvent{RequireUserInput: true, Content: fallbackMessage}
	}

	return eventFromResponse(rf)
}

// loadHistory fetches prior messages for the context id, seeding a fresh
// conversation with the system instruction. A store read failure starts
// the turn from scratch rather than failing it.
func (a *CurrencyAgent) loadHistory(ctx context.Context, contextID string) []llm.Message {
	cp, err := a.store.Load(ctx, contextID)
	if err == nil && len(cp.Messages) > 0 {
		return cp.Messages
	}
	if err != nil && !errors.Is(err, ErrCheckpointNotFound) {
		a.logger.Warn("checkpoint load failed, starting fresh",
			zap.String("context_id", contextID),
			zap.Error(err))
	}
	return []llm.Message{llm.NewSystemMessage(systemInstruction)}
}

func (a *CurrencyAgent) saveHistory(ctx context.Context, contextID string, messages []llm.Message) {
	err := a.store.Save(ctx, &Checkpoint{
		ContextID: contextID,
		Messages:  messages,
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		a.logger.Error("checkpoint save failed",
			zap.String("context_id", contextID),
			zap.Error(err))
	}
}

// emit delivers an event unless the caller has gone away.
func (a *CurrencyAgent) emit(ctx context.Context, events chan<- ProgressEvent, ev ProgressEvent) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
