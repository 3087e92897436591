// Command demo wires one Session end to end against the Anthropic adapter:
// a tool registry with a single "echo" tool, a telemetry logger, and an
// event-printing goroutine draining the session's emitter channel. It exists
// to exercise Component F's public surface the way a host application would,
// not as a supported CLI.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"agentcore/emitter"
	"agentcore/llmclient"
	"agentcore/model"
	"agentcore/provider/anthropic"
	"agentcore/session"
	"agentcore/telemetry"
	"agentcore/tools"
)

func main() {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		log.Fatal("ANTHROPIC_API_KEY is required")
	}

	adapter, err := anthropic.NewFromAPIKey(apiKey, "claude-sonnet-4-5")
	if err != nil {
		log.Fatalf("building anthropic adapter: %v", err)
	}
	client := llmclient.New(adapter, llmclient.DefaultRetryPolicy)

	registry := tools.NewRegistry()
	echoSchema := json.RawMessage(`{
		"type": "object",
		"properties": {"text": {"type": "string"}},
		"required": ["text"]
	}`)
	if err := registry.Register(
		&model.ToolDefinition{Name: "echo", Description: "Echoes the given text back", InputSchema: echoSchema},
		echoTool,
		tools.Limits{MaxChars: 4000, MaxLines: 200},
	); err != nil {
		log.Fatalf("registering echo tool: %v", err)
	}

	cfg := session.Config{
		Provider:                "anthropic",
		Model:                   "claude-sonnet-4-5",
		ContextWindowSize:       200_000,
		MaxToolRoundsPerInput:   20,
		MaxTurns:                200,
		EnableLoopDetection:     true,
		AutoDetectAwaitingInput: true,
	}

	sess, events := session.New(cfg, "You are a terse assistant with access to an echo tool.",
		client, registry, nil, telemetry.NewNoopLogger(), 0, nil, nil, false)
	defer sess.Close()

	go printEvents(events)

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		if err := sess.Submit(context.Background(), scanner.Text()); err != nil {
			fmt.Fprintf(os.Stderr, "submit error: %v\n", err)
		}
		fmt.Print("> ")
	}
}

func echoTool(ctx context.Context, args json.RawMessage, env tools.Environment) (tools.Output, error) {
	var in struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return tools.Output{}, tools.NewToolErrorWithCause("invalid echo arguments", err)
	}
	return tools.TextOutput(in.Text), nil
}

func printEvents(events <-chan emitter.Event) {
	for ev := range events {
		switch e := ev.(type) {
		case emitter.AssistantTextDelta:
			fmt.Print(e.Delta)
		case emitter.AssistantTextEnd:
			fmt.Println()
		case emitter.ToolCallStart:
			fmt.Printf("\n[tool %s called]\n", e.Name)
		case emitter.Error:
			fmt.Fprintf(os.Stderr, "\n[error] %s\n", e.Message)
		case emitter.SessionEnd:
			return
		}
	}
}
