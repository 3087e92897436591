package session

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"agentcore/emitter"
	"agentcore/llmclient"
	"agentcore/model"
	"agentcore/provider"
	"agentcore/telemetry"
	"agentcore/tools"
)

// scriptedAdapter answers Complete calls from a fixed, in-order script, one
// entry per LLM round, so a full Submit loop can be driven end to end
// without a live provider. Stream is never exercised by these scenarios —
// Session always calls StreamComplete, which in turn calls Stream first;
// scriptedAdapter reports streaming unsupported so llmclient falls back to
// Complete, matching the other providers' "no native stream" path already
// covered in llmclient/client_test.go.
type scriptedAdapter struct {
	responses []*model.Response
	errs      []error
	calls     int
}

func (s *scriptedAdapter) Name() string { return "scripted" }

func (s *scriptedAdapter) Complete(_ context.Context, _ *model.Request) (*model.Response, error) {
	idx := s.calls
	s.calls++
	if idx < len(s.errs) && s.errs[idx] != nil {
		return nil, s.errs[idx]
	}
	if idx >= len(s.responses) {
		return &model.Response{FinishReason: model.FinishReasonStop}, nil
	}
	return s.responses[idx], nil
}

func (s *scriptedAdapter) Stream(_ context.Context, _ *model.Request) (model.Streamer, error) {
	return nil, model.NewSdkError(model.ErrorCodeConfiguration, "scripted", "streaming not supported", 0, nil)
}

var _ provider.Adapter = (*scriptedAdapter)(nil)

func textResponse(text string) *model.Response {
	return &model.Response{
		FinishReason: model.FinishReasonStop,
		Message:      model.Message{Role: model.ConversationRoleAssistant, Parts: []model.Part{model.TextPart{Text: text}}},
	}
}

func toolCallResponse(id, name string, args string) *model.Response {
	return &model.Response{
		FinishReason: model.FinishReasonToolCalls,
		Message: model.Message{
			Role: model.ConversationRoleAssistant,
			Parts: []model.Part{
				model.ToolCallPart{ID: id, Name: name, Arguments: json.RawMessage(args), CallType: "function"},
			},
		},
	}
}

// echoToolRegistry registers a single "echo" tool returning its "text"
// argument verbatim, enough for scenarios that just need a tool round to
// complete.
func echoToolRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	reg := tools.NewRegistry()
	def := &model.ToolDefinition{
		Name:        "echo",
		Description: "echoes its input",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}}}`),
	}
	err := reg.Register(def, func(_ context.Context, args json.RawMessage, _ tools.Environment) (tools.Output, error) {
		var parsed struct {
			Text string `json:"text"`
		}
		_ = json.Unmarshal(args, &parsed)
		return tools.TextOutput(parsed.Text), nil
	}, tools.Limits{})
	require.NoError(t, err)
	return reg
}

// drainEvents reads every event until ch closes. Callers must have already
// called Session.Close (directly or via the session reaching Closed) so the
// emitter's pump goroutine actually closes ch; otherwise this blocks
// forever.
func drainEvents(ch <-chan emitter.Event) []emitter.Event {
	var out []emitter.Event
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func newTestSession(t *testing.T, adapter provider.Adapter, reg *tools.Registry, cfg Config) (*Session, <-chan emitter.Event) {
	t.Helper()
	client := llmclient.New(adapter, llmclient.RetryPolicy{MaxAttempts: 1})
	s, events := New(cfg, "you are a test assistant", client, reg, nil, telemetry.NewNoopLogger(), 0, nil, nil, false)
	s.SetAbortSignal(NewAbortSignal(context.Background()))
	return s, events
}

func hasSessionStart(events []emitter.Event) bool {
	for _, ev := range events {
		if _, ok := ev.(emitter.SessionStart); ok {
			return true
		}
	}
	return false
}

func hasUserInput(events []emitter.Event) bool {
	for _, ev := range events {
		if _, ok := ev.(emitter.UserInput); ok {
			return true
		}
	}
	return false
}

func hasAssistantTextEnd(events []emitter.Event) bool {
	for _, ev := range events {
		if _, ok := ev.(emitter.AssistantTextEnd); ok {
			return true
		}
	}
	return false
}

func hasToolCallStart(events []emitter.Event) bool {
	for _, ev := range events {
		if _, ok := ev.(emitter.ToolCallStart); ok {
			return true
		}
	}
	return false
}

func hasToolCallEnd(events []emitter.Event) bool {
	for _, ev := range events {
		if _, ok := ev.(emitter.ToolCallEnd); ok {
			return true
		}
	}
	return false
}

func hasLoopDetection(events []emitter.Event) bool {
	for _, ev := range events {
		if _, ok := ev.(emitter.LoopDetection); ok {
			return true
		}
	}
	return false
}

// TestScenarioNaturalCompletion implements spec.md §8 scenario 1: a single
// LLM round with no tool calls ends the loop with natural completion, the
// full text recorded in history, and the session left idle.
func TestScenarioNaturalCompletion(t *testing.T) {
	adapter := &scriptedAdapter{responses: []*model.Response{textResponse("hello there")}}
	reg := echoToolRegistry(t)
	s, events := newTestSession(t, adapter, reg, Config{Model: "test-model"})

	done := make(chan struct{})
	go func() {
		require.NoError(t, s.Submit(context.Background(), "hi"))
		close(done)
	}()
	<-done
	state := s.State()
	s.Close()
	seen := drainEvents(events)

	require.Equal(t, 1, adapter.calls)
	require.Equal(t, model.SessionStateIdle, state)

	history := s.History()
	require.Len(t, history, 2)
	_, ok := history[0].(model.UserTurn)
	require.True(t, ok)
	at, ok := history[1].(model.AssistantTurn)
	require.True(t, ok)
	require.Equal(t, "hello there", at.Content)
	require.Empty(t, at.ToolCalls)

	require.True(t, hasSessionStart(seen))
	require.True(t, hasUserInput(seen))
	require.True(t, hasAssistantTextEnd(seen))
}

// TestScenarioOneToolRound implements spec.md §8 scenario 2: the first
// response requests a tool call, the tool executes, its result is appended
// to history, and the second round completes naturally.
func TestScenarioOneToolRound(t *testing.T) {
	adapter := &scriptedAdapter{responses: []*model.Response{
		toolCallResponse("call_1", "echo", `{"text":"ping"}`),
		textResponse("done"),
	}}
	reg := echoToolRegistry(t)
	s, events := newTestSession(t, adapter, reg, Config{Model: "test-model"})

	done := make(chan struct{})
	go func() {
		require.NoError(t, s.Submit(context.Background(), "say ping"))
		close(done)
	}()
	<-done
	state := s.State()
	s.Close()
	seen := drainEvents(events)

	require.Equal(t, 2, adapter.calls)
	require.Equal(t, model.SessionStateIdle, state)

	history := s.History()
	require.Len(t, history, 4)
	assistantTurn, ok := history[1].(model.AssistantTurn)
	require.True(t, ok)
	require.Len(t, assistantTurn.ToolCalls, 1)
	require.Equal(t, "echo", assistantTurn.ToolCalls[0].Name)

	resultsTurn, ok := history[2].(model.ToolResultsTurn)
	require.True(t, ok)
	require.Len(t, resultsTurn.Results, 1)
	require.Equal(t, "call_1", resultsTurn.Results[0].ToolCallID)
	require.False(t, resultsTurn.Results[0].IsError)

	final, ok := history[3].(model.AssistantTurn)
	require.True(t, ok)
	require.Equal(t, "done", final.Content)

	require.True(t, hasToolCallStart(seen))
	require.True(t, hasToolCallEnd(seen))
}

// TestScenarioSoftAbortDuringToolExecution implements spec.md §8 scenario 3:
// a soft abort that fires while tools are executing stops the loop at the
// next safe point, records [Aborted] results for every outstanding call
// (so the tool_result turn still matches 1:1 with the assistant turn's
// ToolCalls), and returns the session to Idle rather than Closed.
func TestScenarioSoftAbortDuringToolExecution(t *testing.T) {
	adapter := &scriptedAdapter{responses: []*model.Response{
		toolCallResponse("call_1", "echo", `{"text":"ping"}`),
		textResponse("should never run"),
	}}
	reg := tools.NewRegistry()
	sig := NewAbortSignal(context.Background())
	// never closed: the executor must hang past the abort so
	// executeToolCalls's select always takes the abortDone() branch rather
	// than racing against a resultCh that also happens to be ready.
	neverReturns := make(chan struct{})
	def := &model.ToolDefinition{Name: "echo", InputSchema: json.RawMessage(`{"type":"object"}`)}
	err := reg.Register(def, func(ctx context.Context, _ json.RawMessage, _ tools.Environment) (tools.Output, error) {
		sig.TriggerSoft()
		<-neverReturns
		return tools.Output{}, nil
	}, tools.Limits{})
	require.NoError(t, err)

	client := llmclient.New(adapter, llmclient.RetryPolicy{MaxAttempts: 1})
	s, events := New(Config{Model: "test-model"}, "you are a test assistant", client, reg, nil, telemetry.NewNoopLogger(), 0, nil, nil, false)
	s.SetAbortSignal(sig)

	done := make(chan struct{})
	go func() {
		require.NoError(t, s.Submit(context.Background(), "say ping"))
		close(done)
	}()
	<-done
	state := s.State()
	s.Close()
	seen := drainEvents(events)

	require.Equal(t, 1, adapter.calls, "the second round must never fire once a soft abort has broken the loop")
	require.Equal(t, model.SessionStateIdle, state, "a soft abort leaves the session Idle")
	require.Equal(t, model.SessionStateClosed, s.State(), "Close was called explicitly by the test after Submit returned")

	history := s.History()
	require.Len(t, history, 3)
	resultsTurn, ok := history[2].(model.ToolResultsTurn)
	require.True(t, ok)
	require.Len(t, resultsTurn.Results, 1)
	require.True(t, resultsTurn.Results[0].IsError)
	require.JSONEq(t, `"[Aborted]"`, string(resultsTurn.Results[0].Content))

	require.True(t, hasToolCallStart(seen))
}

// TestScenarioContextLengthRecoveryViaCompaction implements spec.md §8
// scenario 4: a context-length error on the first attempt triggers
// compaction and a retry; the retried call succeeds and the loop completes
// naturally, with a warning Error event marking the recovery.
func TestScenarioContextLengthRecoveryViaCompaction(t *testing.T) {
	ctxErr := model.NewSdkError(model.ErrorCodeContextLength, "scripted", "context length exceeded", 400, nil)
	adapter := &scriptedAdapter{
		errs:      []error{ctxErr, nil},
		responses: []*model.Response{nil, textResponse("recovered")},
	}
	reg := echoToolRegistry(t)

	var history []model.Turn
	for i := 0; i < 30; i++ {
		history = append(history,
			model.UserTurn{Content: "filler", Ts: time.Now()},
			model.AssistantTurn{Content: "filler reply", Ts: time.Now()},
		)
	}
	s, events := newTestSession(t, adapter, reg, Config{Model: "test-model"})
	s.mu.Lock()
	s.history = history
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		require.NoError(t, s.Submit(context.Background(), "one more please"))
		close(done)
	}()
	<-done
	state := s.State()
	s.Close()
	seen := drainEvents(events)

	require.Equal(t, 2, adapter.calls, "compaction must trigger exactly one retry")
	require.Equal(t, model.SessionStateIdle, state)

	finalHistory := s.History()
	last, ok := finalHistory[len(finalHistory)-1].(model.AssistantTurn)
	require.True(t, ok)
	require.Equal(t, "recovered", last.Content)

	foundWarning := false
	for _, ev := range seen {
		if e, ok := ev.(emitter.Error); ok && e.Code == model.ErrorCodeContextLength && e.Severity == "warning" {
			foundWarning = true
		}
	}
	require.True(t, foundWarning, "a context-length recovery must emit a warning Error event")
}

// TestScenarioLoopDetectionInjectsSteering implements spec.md §8 scenario 5:
// repeating the same tool call signature within the configured window
// injects a SteeringTurn and emits LoopDetection, without ending the session.
func TestScenarioLoopDetectionInjectsSteering(t *testing.T) {
	const rounds = 4
	var responses []*model.Response
	for i := 0; i < rounds; i++ {
		responses = append(responses, toolCallResponse("call_x", "echo", `{"text":"ping"}`))
	}
	responses = append(responses, textResponse("done"))
	adapter := &scriptedAdapter{responses: responses}
	reg := echoToolRegistry(t)
	s, events := newTestSession(t, adapter, reg, Config{
		Model:               "test-model",
		EnableLoopDetection: true,
		LoopDetectionWindow: 3,
	})

	done := make(chan struct{})
	go func() {
		require.NoError(t, s.Submit(context.Background(), "loop please"))
		close(done)
	}()
	<-done
	s.Close()
	seen := drainEvents(events)

	require.True(t, hasLoopDetection(seen), "repeating the same signature within the window must be detected")

	foundSteering := false
	for _, turn := range s.History() {
		if _, ok := turn.(model.SteeringTurn); ok {
			foundSteering = true
		}
	}
	require.True(t, foundSteering, "loop detection injects a SteeringTurn into history")
}
