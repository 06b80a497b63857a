package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fxagent/fxagent/llm"
)

func echoTool(_ context.Context, args json.RawMessage) (json.RawMessage, error) {
	return args, nil
}

func TestDefaultRegistry_RegisterAndList(t *testing.T) {
	reg := NewDefaultRegistry(zap.NewNop())

	err := reg.Register("echo", echoTool, ToolMetadata{
		Schema: llm.ToolSchema{Description: "echoes input", Parameters: json.RawMessage(`{"type":"object"}`)},
	})
	require.NoError(t, err)

	assert.True(t, reg.Has("echo"))
	assert.False(t, reg.Has("missing"))

	schemas := reg.List()
	require.Len(t, schemas, 1)
	assert.Equal(t, "echo", schemas[0].Name, "schema name defaults to the registered name")

	_, meta, err := reg.Get("echo")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, meta.Timeout, "timeout defaults to 30s")

	err = reg.Register("echo", echoTool, ToolMetadata{})
	assert.Error(t, err, "duplicate registration is rejected")
}

func TestDefaultRegistry_NameMismatch(t *testing.T) {
	reg := NewDefaultRegistry(zap.NewNop())
	err := reg.Register("a", echoTool, ToolMetadata{Schema: llm.ToolSchema{Name: "b"}})
	assert.Error(t, err)
}

func TestDefaultExecutor_ExecuteOne(t *testing.T) {
	reg := NewDefaultRegistry(zap.NewNop())
	require.NoError(t, reg.Register("echo", echoTool, ToolMetadata{}))
	exec := NewDefaultExecutor(reg, zap.NewNop())

	res := exec.ExecuteOne(context.Background(), llm.ToolCall{
		ID:        "call_1",
		Name:      "echo",
		Arguments: json.RawMessage(`{"x":1}`),
	})
	require.False(t, res.IsError(), "unexpected error: %s", res.Error)
	assert.JSONEq(t, `{"x":1}`, string(res.Result))
	assert.Equal(t, "call_1", res.ToolCallID)
}

func TestDefaultExecutor_UnknownTool(t *testing.T) {
	reg := NewDefaultRegistry(zap.NewNop())
	exec := NewDefaultExecutor(reg, zap.NewNop())

	res := exec.ExecuteOne(context.Background(), llm.ToolCall{ID: "c", Name: "nope"})
	assert.True(t, res.IsError())
	assert.Contains(t, res.Error, "tool not found")
}

func TestDefaultExecutor_InvalidArguments(t *testing.T) {
	reg := NewDefaultRegistry(zap.NewNop())
	require.NoError(t, reg.Register("echo", echoTool, ToolMetadata{}))
	exec := NewDefaultExecutor(reg, zap.NewNop())

	res := exec.ExecuteOne(context.Background(), llm.ToolCall{
		ID: "c", Name: "echo", Arguments: json.RawMessage(`{broken`),
	})
	assert.True(t, res.IsError())
	assert.Contains(t, res.Error, "invalid arguments")
}

func TestDefaultExecutor_Timeout(t *testing.T) {
	reg := NewDefaultRegistry(zap.NewNop())
	slow := func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
		select {
		case <-time.After(5 * time.Second):
			return json.RawMessage(`{}`), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	require.NoError(t, reg.Register("slow", slow, ToolMetadata{Timeout: 50 * time.Millisecond}))
	exec := NewDefaultExecutor(reg, zap.NewNop())

	res := exec.ExecuteOne(context.Background(), llm.ToolCall{ID: "c", Name: "slow"})
	assert.True(t, res.IsError())
}

func TestDefaultExecutor_RateLimit(t *testing.T) {
	reg := NewDefaultRegistry(zap.NewNop())
	require.NoError(t, reg.Register("limited", echoTool, ToolMetadata{
		RateLimit: &RateLimitConfig{MaxCalls: 2, Window: time.Hour},
	}))
	exec := NewDefaultExecutor(reg, zap.NewNop())

	for i := 0; i < 2; i++ {
		res := exec.ExecuteOne(context.Background(), llm.ToolCall{ID: fmt.Sprintf("c%d", i), Name: "limited"})
		require.False(t, res.IsError())
	}
	res := exec.ExecuteOne(context.Background(), llm.ToolCall{ID: "c2", Name: "limited"})
	assert.True(t, res.IsError())
	assert.Contains(t, res.Error, "rate limit")
}

func TestDefaultExecutor_ExecuteParallelPreservesOrder(t *testing.T) {
	reg := NewDefaultRegistry(zap.NewNop())
	require.NoError(t, reg.Register("echo", echoTool, ToolMetadata{}))
	exec := NewDefaultExecutor(reg, zap.NewNop())

	calls := []llm.ToolCall{
		{ID: "c1", Name: "echo", Arguments: json.RawMessage(`{"n":1}`)},
		{ID: "c2", Name: "echo", Arguments: json.RawMessage(`{"n":2}`)},
		{ID: "c3", Name: "missing"},
	}
	results := exec.Execute(context.Background(), calls)
	require.Len(t, results, 3)
	assert.Equal(t, "c1", results[0].ToolCallID)
	assert.Equal(t, "c2", results[1].ToolCallID)
	assert.True(t, results[2].IsError())
}
