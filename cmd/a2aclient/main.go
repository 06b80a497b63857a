// Command a2aclient exercises an agent-to-agent server: it resolves the
// agent card (upgrading to the extended card when available), sends a
// message, and prints the result.
//
// Usage:
//
//	a2aclient --url http://localhost:9999 --text "how much is 100 USD in CAD?"
//	a2aclient --url http://localhost:9999 --text "hi" --stream
//	a2aclient --url http://localhost:9999 --card-only
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/fxagent/fxagent/a2a"
)

func main() {
	url := flag.String("url", "http://localhost:9999", "agent server base URL")
	token := flag.String("token", "dummy-token-for-extended-card", "bearer token for the extended card")
	text := flag.String("text", "how much is 100 USD in CAD?", "message text to send")
	contextID := flag.String("context-id", "", "conversation context id (empty lets the server mint one)")
	stream := flag.Bool("stream", false, "use the streaming endpoint")
	cardOnly := flag.Bool("card-only", false, "only resolve and print the agent card")
	timeout := flag.Duration("timeout", 2*time.Minute, "overall timeout")
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	client, err := a2a.ResolveClient(ctx, *url, *token, logger)
	if err != nil {
		logger.Fatal("card resolution failed", zap.Error(err))
	}

	printJSON(client.Card())
	if *cardOnly {
		return
	}

	msg := a2a.NewUserMessage(*text, *contextID)

	if *stream {
		events, err := client.SendMessageStream(ctx, msg)
		if err != nil {
			logger.Fatal("stream failed", zap.Error(err))
		}
		for frame := range events {
			printJSON(frame)
		}
		return
	}

	task, err := client.SendMessage(ctx, msg)
	if err != nil {
		logger.Fatal("send failed", zap.Error(err))
	}
	printJSON(task)
}

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "marshal failed: %v\n", err)
		return
	}
	fmt.Println(string(data))
}
