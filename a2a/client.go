package a2a

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
)

// wellKnownCardPath is the public discovery path.
const wellKnownCardPath = "/.well-known/agent.json"

// extendedCardPath serves the richer card to authenticated callers.
const extendedCardPath = "/agent/authenticatedExtendedCard"

// CardResolver fetches agent cards from a server's discovery endpoints.
type CardResolver struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

func NewCardResolver(baseURL string, logger *zap.Logger) *CardResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CardResolver{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
}

// AgentCard fetches the public card.
func (r *CardResolver) AgentCard(ctx context.Context) (*AgentCard, error) {
	return r.fetchCard(ctx, r.baseURL+wellKnownCardPath, "")
}

// ExtendedAgentCard fetches the authenticated extended card.
func (r *CardResolver) ExtendedAgentCard(ctx context.Context, token string) (*AgentCard, error) {
	return r.fetchCard(ctx, r.baseURL+extendedCardPath, token)
}

func (r *CardResolver) fetchCard(ctx context.Context, url, token string) (*AgentCard, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build card request: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch agent card: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch agent card: status %d", resp.StatusCode)
	}

	var card AgentCard
	if err := json.NewDecoder(resp.Body).Decode(&card); err != nil {
		return nil, fmt.Errorf("decode agent card: %w", err)
	}
	if err := card.Validate(); err != nil {
		return nil, fmt.Errorf("resolved card invalid: %w", err)
	}
	return &card, nil
}

// Client talks to one agent server using its resolved card.
type Client struct {
	card    *AgentCard
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewClient builds a client from a resolved agent card. The card's URL is
// the server base.
func NewClient(card *AgentCard, logger *zap.Logger) (*Client, error) {
	if err := card.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		card:    card,
		baseURL: strings.TrimRight(card.URL, "/"),
		client:  &http.Client{Timeout: 5 * time.Minute},
		logger:  logger,
	}, nil
}

// Card returns the card this client was built from.
func (c *Client) Card() *AgentCard { return c.card }

// ResolveClient performs the full discovery flow: fetch the public card
// and, when the server advertises an extended card, try to upgrade with
// the given token, falling back to the public card if that fails.
func ResolveClient(ctx context.Context, baseURL, token string, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	resolver := NewCardResolver(baseURL, logger)

	card, err := resolver.AgentCard(ctx)
	if err != nil {
		return nil, err
	}
	logger.Info("fetched public agent card", zap.String("name", card.Name))

	if card.SupportsAuthenticatedExtendedCard && token != "" {
		extended, err := resolver.ExtendedAgentCard(ctx, token)
		if err != nil {
			logger.Warn("extended card fetch failed, using public card", zap.Error(err))
		} else {
			logger.Info("using authenticated extended agent card",
				zap.Int("skills", len(extended.Skills)))
			card = extended
		}
	}

	return NewClient(card, logger)
}

// SendMessage sends one message synchronously and returns the resolved
// task.
func (c *Client) SendMessage(ctx context.Context, msg Message) (*Task, error) {
	body, err := json.Marshal(SendMessageRequest{Message: msg})
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/a2a/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("send message: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var task Task
	if err := json.NewDecoder(resp.Body).Decode(&task); err != nil {
		return nil, fmt.Errorf("decode task: %w", err)
	}
	return &task, nil
}

// SendMessageStream sends one message and returns the server's SSE frames
// as they arrive. The channel closes when the stream ends.
func (c *Client) SendMessageStream(ctx context.Context, msg Message) (<-chan StreamEvent, error) {
	body, err := json.Marshal(SendMessageRequest{Message: msg})
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/a2a/messages/stream", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build stream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send message stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("send message stream: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	events := make(chan StreamEvent, 8)
	go func() {
		defer close(events)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			data, ok := strings.CutPrefix(line, "data:")
			if !ok {
				continue
			}

			var frame StreamEvent
			if err := json.Unmarshal([]byte(strings.TrimSpace(data)), &frame); err != nil {
				c.logger.Warn("malformed stream frame", zap.Error(err))
				continue
			}

			select {
			case events <- frame:
			case <-ctx.Done():
				return
			}
		}
	}()

	return events, nil
}
