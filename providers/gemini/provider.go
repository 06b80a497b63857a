// Package gemini implements the Google Gemini llm.Provider over the
// generativelanguage REST API. Gemini differs from the OpenAI wire format:
// x-goog-api-key auth, the system instruction travels outside the contents,
// and tool traffic uses functionCall/functionResponse parts without call
// ids (ids are synthesized here so the rest of the system can correlate
// results).
package gemini

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fxagent/fxagent/llm"
	"github.com/fxagent/fxagent/providers"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com"

// Provider is the Gemini llm.Provider.
type Provider struct {
	cfg    providers.GeminiConfig
	client *http.Client
	logger *zap.Logger
}

// New creates the provider. A zero Timeout defaults to 60s.
func New(cfg providers.GeminiConfig, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	return &Provider{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

func (p *Provider) Name() string { return "gemini" }

func (p *Provider) SupportsNativeFunctionCalling() bool { return true }

func (p *Provider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	start := time.Now()
	endpoint := fmt.Sprintf("%s/v1beta/models", strings.TrimRight(p.cfg.BaseURL, "/"))
	httpReq, _ := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	p.buildHeaders(httpReq)

	resp, err := p.client.Do(httpReq)
	latency := time.Since(start)
	if err != nil {
		return &llm.HealthStatus{Healthy: false, Latency: latency}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &llm.HealthStatus{Healthy: false, Latency: latency},
			fmt.Errorf("gemini health check failed: status=%d msg=%s", resp.StatusCode, readErrMsg(resp.Body))
	}
	return &llm.HealthStatus{Healthy: true, Latency: latency}, nil
}

// Wire types.

type geminiContent struct {
	Role  string       `json:"role,omitempty"` // user, model
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text             string                  `json:"text,omitempty"`
	FunctionCall     *geminiFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *geminiFunctionResponse `json:"functionResponse,omitempty"`
}

type geminiFunctionCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

type geminiFunctionResponse struct {
	Name     string          `json:"name"`
	Response json.RawMessage `json:"response"`
}

type geminiTool struct {
	FunctionDeclarations []geminiFunctionDeclaration `json:"functionDeclarations,omitempty"`
}

type geminiFunctionDeclaration struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type geminiGenerationConfig struct {
	Temperature      float32         `json:"temperature,omitempty"`
	MaxOutputTokens  int             `json:"maxOutputTokens,omitempty"`
	StopSequences    []string        `json:"stopSequences,omitempty"`
	ResponseMimeType string          `json:"responseMimeType,omitempty"`
	ResponseSchema   json.RawMessage `json:"responseSchema,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	Tools             []geminiTool            `json:"tools,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
	Index        int           `json:"index"`
}

type geminiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type geminiResponse struct {
	Candidates    []geminiCandidate    `json:"candidates"`
	UsageMetadata *geminiUsageMetadata `json:"usageMetadata,omitempty"`
	ModelVersion  string               `json:"modelVersion,omitempty"`
	ResponseID    string               `json:"responseId,omitempty"`
}

type geminiErrorResp struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func (p *Provider) buildHeaders(req *http.Request) {
	req.Header.Set("x-goog-api-key", p.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
}

// convertContents maps unified messages to Gemini contents. The system
// message is lifted out into the systemInstruction field.
func convertContents(msgs []llm.Message) (*geminiContent, []geminiContent) {
	var systemInstruction *geminiContent
	var contents []geminiContent

	for _, m := range msgs {
		switch m.Role {
		case llm.RoleSystem:
			systemInstruction = &geminiContent{Parts: []geminiPart{{Text: m.Content}}}
		case llm.RoleAssistant:
			content := geminiContent{Role: "model"}
			if m.Content != "" {
				content.Parts = append(content.Parts, geminiPart{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				content.Parts = append(content.Parts, geminiPart{
					FunctionCall: &geminiFunctionCall{Name: tc.Name, Args: tc.Arguments},
				})
			}
			contents = append(contents, content)
		case llm.RoleTool:
			resp := json.RawMessage(m.Content)
			if !json.Valid(resp) {
				quoted, _ := json.Marshal(map[string]string{"content": m.Content})
				resp = quoted
			}
			contents = append(contents, geminiContent{
				Role: "user",
				Parts: []geminiPart{{
					FunctionResponse: &geminiFunctionResponse{Name: m.Name, Response: resp},
				}},
			})
		default:
			contents = append(contents, geminiContent{
				Role:  "user",
				Parts: []geminiPart{{Text: m.Content}},
			})
		}
	}
	return systemInstruction, contents
}

func (p *Provider) buildRequest(req *llm.ChatRequest) *geminiRequest {
	systemInstruction, contents := convertContents(req.Messages)

	out := &geminiRequest{
		Contents:          contents,
		SystemInstruction: systemInstruction,
	}

	if len(req.Tools) > 0 {
		tool := geminiTool{}
		for _, t := range req.Tools {
			tool.FunctionDeclarations = append(tool.FunctionDeclarations, geminiFunctionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			})
		}
		out.Tools = []geminiTool{tool}
	}

	genCfg := &geminiGenerationConfig{
		Temperature:     req.Temperature,
		MaxOutputTokens: req.MaxTokens,
		StopSequences:   req.Stop,
	}
	// Gemini rejects responseSchema combined with tools; the agent only
	// sets ResponseFormat on the final schema-constrained call.
	if rf := req.ResponseFormat; rf != nil && len(req.Tools) == 0 {
		genCfg.ResponseMimeType = "application/json"
		genCfg.ResponseSchema = rf.Schema
	}
	out.GenerationConfig = genCfg

	return out
}

func (p *Provider) convertResponse(gr *geminiResponse, model string) *llm.ChatResponse {
	out := &llm.ChatResponse{
		ID:       gr.ResponseID,
		Provider: p.Name(),
		Model:    model,
	}
	if gr.ModelVersion != "" {
		out.Model = gr.ModelVersion
	}
	if gr.UsageMetadata != nil {
		out.Usage = llm.ChatUsage{
			PromptTokens:     gr.UsageMetadata.PromptTokenCount,
			CompletionTokens: gr.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      gr.UsageMetadata.TotalTokenCount,
		}
	}

	for _, cand := range gr.Candidates {
		msg := llm.Message{Role: llm.RoleAssistant}
		callSeq := 0
		for _, part := range cand.Content.Parts {
			if part.Text != "" {
				msg.Content += part.Text
			}
			if part.FunctionCall != nil {
				callSeq++
				msg.ToolCalls = append(msg.ToolCalls, llm.ToolCall{
					ID:        fmt.Sprintf("call_%s_%d", part.FunctionCall.Name, callSeq),
					Name:      part.FunctionCall.Name,
					Arguments: part.FunctionCall.Args,
				})
			}
		}
		out.Choices = append(out.Choices, llm.ChatChoice{
			Index:        cand.Index,
			FinishReason: strings.ToLower(cand.FinishReason),
			Message:      msg,
		})
	}
	return out
}

// Completion issues a synchronous generateContent request.
func (p *Provider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	model := providers.ChooseModel(req, p.cfg.Model, "gemini-2.0-flash")

	body, err := json.Marshal(p.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent",
		strings.TrimRight(p.cfg.BaseURL, "/"), model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	p.buildHeaders(httpReq)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &llm.Error{
			Code:      llm.ErrUpstreamError,
			Message:   fmt.Sprintf("gemini request failed: %v", err),
			Retryable: true,
			Provider:  p.Name(),
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, p.mapError(resp.StatusCode, resp.Body)
	}

	var gr geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	out := p.convertResponse(&gr, model)
	p.logger.Debug("gemini completion",
		zap.String("model", out.Model),
		zap.Int("total_tokens", out.Usage.TotalTokens),
	)
	return out, nil
}

// Stream issues a streaming request via streamGenerateContent with SSE.
func (p *Provider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	model := providers.ChooseModel(req, p.cfg.Model, "gemini-2.0-flash")

	body, err := json.Marshal(p.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?alt=sse",
		strings.TrimRight(p.cfg.BaseURL, "/"), model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	p.buildHeaders(httpReq)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &llm.Error{
			Code:      llm.ErrUpstreamError,
			Message:   fmt.Sprintf("gemini stream failed: %v", err),
			Retryable: true,
			Provider:  p.Name(),
		}
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, p.mapError(resp.StatusCode, resp.Body)
	}

	ch := make(chan llm.StreamChunk)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))

			var gr geminiResponse
			if err := json.Unmarshal([]byte(payload), &gr); err != nil {
				p.logger.Warn("skipping malformed stream event", zap.Error(err))
				continue
			}

			full := p.convertResponse(&gr, model)
			chunk := llm.StreamChunk{ID: full.ID, Provider: p.Name(), Model: full.Model}
			if gr.UsageMetadata != nil {
				usage := full.Usage
				chunk.Usage = &usage
			}
			if len(full.Choices) > 0 {
				chunk.Delta = full.Choices[0].Message
				chunk.FinishReason = full.Choices[0].FinishReason
			}

			select {
			case ch <- chunk:
			case <-ctx.Done():
				return
			}
		}

		if err := scanner.Err(); err != nil {
			ch <- llm.StreamChunk{Err: &llm.Error{
				Code:     llm.ErrUpstreamError,
				Message:  fmt.Sprintf("stream read failed: %v", err),
				Provider: p.Name(),
			}}
		}
	}()

	return ch, nil
}

func (p *Provider) mapError(status int, body io.Reader) *llm.Error {
	msg := readErrMsg(body)
	code := llm.ErrUpstreamError
	retryable := false

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		code = llm.ErrUnauthorized
	case status == http.StatusTooManyRequests:
		code = llm.ErrRateLimited
		retryable = true
	case status == http.StatusBadRequest:
		code = llm.ErrInvalidRequest
	case status >= 500:
		retryable = true
	}

	return &llm.Error{
		Code:       code,
		Message:    fmt.Sprintf("gemini: status=%d msg=%s", status, msg),
		HTTPStatus: status,
		Retryable:  retryable,
		Provider:   p.Name(),
	}
}

func readErrMsg(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil {
		return ""
	}
	var errResp geminiErrorResp
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		return errResp.Error.Message
	}
	return strings.TrimSpace(string(data))
}

var _ llm.Provider = (*Provider)(nil)
