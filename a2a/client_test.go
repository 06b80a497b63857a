package a2a

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fxagent/fxagent/agent"
)

func TestCardResolver(t *testing.T) {
	srv := newTestServer(t, agent.NewHelloWorldAgent())
	resolver := NewCardResolver(srv.URL, zap.NewNop())

	card, err := resolver.AgentCard(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Hello World Agent", card.Name)

	_, err = resolver.ExtendedAgentCard(context.Background(), "wrong")
	assert.ErrorIs(t, err, ErrUnauthorized)

	extended, err := resolver.ExtendedAgentCard(context.Background(), "dummy-token")
	require.NoError(t, err)
	assert.Equal(t, "Hello World Agent - Extended Edition", extended.Name)
}

func TestResolveClient_ExtendedUpgrade(t *testing.T) {
	srv := newTestServer(t, agent.NewHelloWorldAgent())

	client, err := ResolveClient(context.Background(), srv.URL, "dummy-token", zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "Hello World Agent - Extended Edition", client.Card().Name)
}

func TestResolveClient_FallsBackToPublicCard(t *testing.T) {
	srv := newTestServer(t, agent.NewHelloWorldAgent())

	client, err := ResolveClient(context.Background(), srv.URL, "wrong-token", zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "Hello World Agent", client.Card().Name)
}

func newClientAgainst(t *testing.T, srvURL string) *Client {
	t.Helper()
	card := testCard()
	card.URL = srvURL
	client, err := NewClient(card, zap.NewNop())
	require.NoError(t, err)
	return client
}

func TestClient_SendMessage(t *testing.T) {
	srv := newTestServer(t, agent.NewHelloWorldAgent())
	client := newClientAgainst(t, srv.URL)

	task, err := client.SendMessage(context.Background(), NewUserMessage("hi", ""))
	require.NoError(t, err)
	assert.Equal(t, TaskStateCompleted, task.Status.State)
	assert.Equal(t, "Hello World", task.Status.Message.Text())
}

func TestClient_SendMessageStream(t *testing.T) {
	srv := newTestServer(t, &scriptedExecutor{events: []agent.ProgressEvent{
		{Content: "Looking up the exchange rates..."},
		{IsTaskComplete: true, Content: "done"},
	}})
	client := newClientAgainst(t, srv.URL)

	events, err := client.SendMessageStream(context.Background(), NewUserMessage("1 USD in JPY", "ctx-c"))
	require.NoError(t, err)

	var frames []StreamEvent
	for frame := range events {
		frames = append(frames, frame)
	}

	require.Len(t, frames, 2)
	assert.False(t, frames[0].Final)
	assert.Equal(t, TaskStateWorking, frames[0].Status.State)
	assert.True(t, frames[1].Final)
	assert.Equal(t, TaskStateCompleted, frames[1].Status.State)
}

func TestNewUserMessage(t *testing.T) {
	msg := NewUserMessage("hello", "ctx-1")
	assert.Equal(t, "user", msg.Role)
	assert.Equal(t, "hello", msg.Text())
	assert.Equal(t, "ctx-1", msg.ContextID)
	assert.NotEmpty(t, msg.MessageID)
}
