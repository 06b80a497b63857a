package a2a

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fxagent/fxagent/agent"
)

func testCard() *AgentCard {
	return &AgentCard{
		Name:               "Hello World Agent",
		Description:        "Just a hello world agent",
		URL:                "http://localhost:9999/",
		Version:            "1.0.0",
		DefaultInputModes:  []string{"text"},
		DefaultOutputModes: []string{"text"},
		Capabilities:       AgentCapabilities{Streaming: true},
		Skills: []AgentSkill{{
			ID:          "hello_world",
			Name:        "Returns hello world",
			Description: "just returns hello world",
			Tags:        []string{"hello world"},
			Examples:    []string{"hi", "hello world"},
		}},
		SupportsAuthenticatedExtendedCard: true,
	}
}

func testExtendedCard() *AgentCard {
	card := testCard()
	card.Name = "Hello World Agent - Extended Edition"
	card.Skills = append(card.Skills, AgentSkill{
		ID:          "super_hello_world",
		Name:        "Returns a SUPER Hello World",
		Description: "A more enthusiastic greeting",
		Tags:        []string{"hello world", "super"},
	})
	return card
}

// scriptedExecutor emits a fixed event sequence.
type scriptedExecutor struct {
	events []agent.ProgressEvent
}

func (e *scriptedExecutor) SupportedContentTypes() []string { return agent.SupportedContentTypes }

func (e *scriptedExecutor) Invoke(ctx context.Context, query, contextID string) (agent.ProgressEvent, error) {
	return e.events[len(e.events)-1], nil
}

func (e *scriptedExecutor) Stream(ctx context.Context, query, contextID string) (<-chan agent.ProgressEvent, error) {
	out := make(chan agent.ProgressEvent, len(e.events))
	for _, ev := range e.events {
		out <- ev
	}
	close(out)
	return out, nil
}

func newTestServer(t *testing.T, executor Executor) *httptest.Server {
	t.Helper()
	s, err := NewServer(executor, NewInMemoryTaskStore(), ServerConfig{
		Card:         testCard(),
		ExtendedCard: testExtendedCard(),
		AuthToken:    "dummy-token",
		Logger:       zap.NewNop(),
	})
	require.NoError(t, err)

	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)
	return srv
}

func TestServer_AgentCard(t *testing.T) {
	srv := newTestServer(t, agent.NewHelloWorldAgent())

	resp, err := http.Get(srv.URL + "/.well-known/agent.json")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var card AgentCard
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&card))
	assert.Equal(t, "Hello World Agent", card.Name)
	assert.True(t, card.Capabilities.Streaming)
	assert.True(t, card.SupportsAuthenticatedExtendedCard)
	require.Len(t, card.Skills, 1)
}

func TestServer_ExtendedCardAuth(t *testing.T) {
	srv := newTestServer(t, agent.NewHelloWorldAgent())

	t.Run("without token", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/agent/authenticatedExtendedCard")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("wrong token", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, srv.URL+"/agent/authenticatedExtendedCard", nil)
		req.Header.Set("Authorization", "Bearer wrong")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("valid token", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, srv.URL+"/agent/authenticatedExtendedCard", nil)
		req.Header.Set("Authorization", "Bearer dummy-token")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var card AgentCard
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&card))
		assert.Equal(t, "Hello World Agent - Extended Edition", card.Name)
		assert.Len(t, card.Skills, 2)
	})
}

func TestServer_SendMessage_HelloWorld(t *testing.T) {
	srv := newTestServer(t, agent.NewHelloWorldAgent())

	body := `{"message": {"role": "user", "parts": [{"kind": "text", "text": "hi"}], "messageId": "m1"}}`
	resp, err := http.Post(srv.URL+"/a2a/messages", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var task Task
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&task))
	assert.Equal(t, TaskStateCompleted, task.Status.State)
	require.NotNil(t, task.Status.Message)
	assert.Equal(t, "Hello World", task.Status.Message.Text())
	assert.NotEmpty(t, task.ContextID, "server mints a context id when absent")
	require.Len(t, task.History, 2)
	assert.Equal(t, "user", task.History[0].Role)
	assert.Equal(t, "agent", task.History[1].Role)
}

func TestServer_SendMessage_InputRequired(t *testing.T) {
	srv := newTestServer(t, &scriptedExecutor{events: []agent.ProgressEvent{
		{RequireUserInput: true, Content: "Which currency?"},
	}})

	body := `{"message": {"role": "user", "parts": [{"kind": "text", "text": "convert 100 USD"}], "messageId": "m1", "contextId": "ctx-42"}}`
	resp, err := http.Post(srv.URL+"/a2a/messages", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var task Task
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&task))
	assert.Equal(t, TaskStateInputRequired, task.Status.State)
	assert.Equal(t, "ctx-42", task.ContextID)
	assert.False(t, task.Status.State.Terminal())
}

func TestServer_SendMessage_BadRequests(t *testing.T) {
	srv := newTestServer(t, agent.NewHelloWorldAgent())

	t.Run("invalid json", func(t *testing.T) {
		resp, err := http.Post(srv.URL+"/a2a/messages", "application/json", strings.NewReader("{"))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("empty message", func(t *testing.T) {
		body := `{"message": {"role": "user", "parts": [], "messageId": "m1"}}`
		resp, err := http.Post(srv.URL+"/a2a/messages", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestServer_StreamMessage(t *testing.T) {
	srv := newTestServer(t, &scriptedExecutor{events: []agent.ProgressEvent{
		{Content: "Looking up the exchange rates..."},
		{Content: "Processing the exchange rates..."},
		{IsTaskComplete: true, Content: "1 USD is 150 JPY."},
	}})

	body := `{"message": {"role": "user", "parts": [{"kind": "text", "text": "1 USD in JPY"}], "messageId": "m1", "contextId": "ctx-s"}}`
	resp, err := http.Post(srv.URL+"/a2a/messages/stream", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var frames []StreamEvent
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if data, ok := strings.CutPrefix(line, "data:"); ok {
			var frame StreamEvent
			require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(data)), &frame))
			frames = append(frames, frame)
		}
	}

	require.Len(t, frames, 3)
	assert.Equal(t, TaskStateWorking, frames[0].Status.State)
	assert.False(t, frames[0].Final)
	assert.Equal(t, TaskStateWorking, frames[1].Status.State)
	assert.Equal(t, TaskStateCompleted, frames[2].Status.State)
	assert.True(t, frames[2].Final)
	assert.Equal(t, "1 USD is 150 JPY.", frames[2].Status.Message.Text())
	assert.Equal(t, "ctx-s", frames[2].ContextID)
}

func TestServer_GetTask(t *testing.T) {
	srv := newTestServer(t, agent.NewHelloWorldAgent())

	body := `{"message": {"role": "user", "parts": [{"kind": "text", "text": "hi"}], "messageId": "m1"}}`
	resp, err := http.Post(srv.URL+"/a2a/messages", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	var task Task
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&task))
	resp.Body.Close()

	got, err := http.Get(srv.URL + "/a2a/tasks/" + task.ID)
	require.NoError(t, err)
	defer got.Body.Close()
	require.Equal(t, http.StatusOK, got.StatusCode)

	var fetched Task
	require.NoError(t, json.NewDecoder(got.Body).Decode(&fetched))
	assert.Equal(t, task.ID, fetched.ID)
	assert.Equal(t, TaskStateCompleted, fetched.Status.State)

	missing, err := http.Get(srv.URL + "/a2a/tasks/nope")
	require.NoError(t, err)
	missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestNewServer_RejectsInvalidCard(t *testing.T) {
	_, err := NewServer(agent.NewHelloWorldAgent(), nil, ServerConfig{
		Card: &AgentCard{Name: "x"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingDescription)
}
