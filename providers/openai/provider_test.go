package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fxagent/fxagent/llm"
	"github.com/fxagent/fxagent/providers"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) (*Provider, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	p := New(providers.OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL, Model: "test-model"}, zap.NewNop())
	return p, srv
}

func TestCompletion_ToolCallRoundTrip(t *testing.T) {
	var gotReq oaRequest
	var gotAuth string
	p, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "chatcmpl-1",
			"model": "test-model",
			"choices": [{
				"index": 0,
				"finish_reason": "tool_calls",
				"message": {
					"role": "assistant",
					"content": "",
					"tool_calls": [{
						"id": "call_abc",
						"type": "function",
						"function": {"name": "get_exchange_rate", "arguments": "{\"currency_from\":\"USD\",\"currency_to\":\"JPY\"}"}
					}]
				}
			}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
		}`))
	})

	resp, err := p.Completion(context.Background(), &llm.ChatRequest{
		Messages: []llm.Message{
			llm.NewSystemMessage("only currency"),
			llm.NewUserMessage("10 USD in JPY?"),
		},
		Tools: []llm.ToolSchema{{Name: "get_exchange_rate", Parameters: json.RawMessage(`{"type":"object"}`)}},
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "test-model", gotReq.Model)
	assert.Equal(t, "auto", gotReq.ToolChoice)
	require.Len(t, gotReq.Tools, 1)
	assert.Equal(t, "get_exchange_rate", gotReq.Tools[0].Function.Name)

	choice, err := llm.FirstChoice(resp)
	require.NoError(t, err)
	require.Len(t, choice.Message.ToolCalls, 1)
	assert.Equal(t, "call_abc", choice.Message.ToolCalls[0].ID)
	assert.Equal(t, "get_exchange_rate", choice.Message.ToolCalls[0].Name)
	assert.JSONEq(t, `{"currency_from":"USD","currency_to":"JPY"}`, string(choice.Message.ToolCalls[0].Arguments))
	assert.Equal(t, 15, resp.Usage.TotalTokens)
}

func TestCompletion_ResponseFormatForwarded(t *testing.T) {
	var gotReq oaRequest
	p, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Write([]byte(`{"id":"x","model":"m","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"{\"status\":\"completed\",\"message\":\"ok\"}"}}]}`))
	})

	_, err := p.Completion(context.Background(), &llm.ChatRequest{
		Messages: []llm.Message{llm.NewUserMessage("hi")},
		ResponseFormat: &llm.ResponseSchema{
			Name:   "response_format",
			Schema: json.RawMessage(`{"type":"object"}`),
		},
	})
	require.NoError(t, err)

	require.NotNil(t, gotReq.ResponseFormat)
	assert.Equal(t, "json_schema", gotReq.ResponseFormat.Type)
	assert.Equal(t, "response_format", gotReq.ResponseFormat.JSONSchema.Name)
}

func TestCompletion_ErrorMapping(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		wantCode  llm.ErrorCode
		retryable bool
	}{
		{"unauthorized", http.StatusUnauthorized, llm.ErrUnauthorized, false},
		{"rate limited", http.StatusTooManyRequests, llm.ErrRateLimited, true},
		{"bad request", http.StatusBadRequest, llm.ErrInvalidRequest, false},
		{"server error", http.StatusInternalServerError, llm.ErrUpstreamError, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(`{"error":{"message":"nope"}}`))
			})

			_, err := p.Completion(context.Background(), &llm.ChatRequest{
				Messages: []llm.Message{llm.NewUserMessage("hi")},
			})
			require.Error(t, err)

			var llmErr *llm.Error
			require.ErrorAs(t, err, &llmErr)
			assert.Equal(t, tc.wantCode, llmErr.Code)
			assert.Equal(t, tc.retryable, llmErr.Retryable)
			assert.Contains(t, llmErr.Message, "nope")
		})
	}
}

func TestStream_AssemblesChunks(t *testing.T) {
	p, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(
			"data: {\"id\":\"s1\",\"model\":\"m\",\"choices\":[{\"index\":0,\"delta\":{\"role\":\"assistant\",\"content\":\"Hel\"}}]}\n\n" +
				"data: {\"id\":\"s1\",\"model\":\"m\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"lo\"},\"finish_reason\":\"stop\"}]}\n\n" +
				"data: [DONE]\n\n"))
	})

	ch, err := p.Stream(context.Background(), &llm.ChatRequest{
		Messages: []llm.Message{llm.NewUserMessage("hi")},
	})
	require.NoError(t, err)

	var content string
	var finish string
	for chunk := range ch {
		require.Nil(t, chunk.Err)
		content += chunk.Delta.Content
		if chunk.FinishReason != "" {
			finish = chunk.FinishReason
		}
	}
	assert.Equal(t, "Hello", content)
	assert.Equal(t, "stop", finish)
}

func TestHealthCheck(t *testing.T) {
	p, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/models", r.URL.Path)
		w.Write([]byte(`{"data":[]}`))
	})

	status, err := p.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Healthy)
}
