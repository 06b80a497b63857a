package agent

import "context"

// HelloWorldAgent is the minimal reference agent: it answers every query
// with a fixed greeting and completes immediately.
type HelloWorldAgent struct{}

func NewHelloWorldAgent() *HelloWorldAgent { return &HelloWorldAgent{} }

func (a *HelloWorldAgent) SupportedContentTypes() []string {
	return SupportedContentTypes
}

func (a *HelloWorldAgent) Invoke(ctx context.Context, query, contextID string) (ProgressEvent, error) {
	return ProgressEvent{IsTaskComplete: true, Content: "Hello World"}, nil
}

func (a *HelloWorldAgent) Stream(ctx context.Context, query, contextID string) (<-chan ProgressEvent, error) {
	events := make(chan ProgressEvent, 1)
	events <- ProgressEvent{IsTaskComplete: true, Content: "Hello World"}
	close(events)
	return events, nil
}
