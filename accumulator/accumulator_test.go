package accumulator

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"agentcore/model"
)

func textOnlySequence() []model.StreamEvent {
	return []model.StreamEvent{
		model.EventStreamStart{},
		model.EventTextStart{},
		model.EventTextDelta{Text: "Hello, "},
		model.EventTextDelta{Text: "world"},
		model.EventTextEnd{},
		model.EventFinish{FinishReason: model.FinishReasonStop, Usage: model.Usage{TotalTokens: 7}},
	}
}

// TestAccumulateTextConcatenatesDeltasInOrder implements spec.md §8's
// invariant: accumulate(s).text equals the concatenation of TextDelta.delta
// in order.
func TestAccumulateTextConcatenatesDeltasInOrder(t *testing.T) {
	resp := Accumulate(textOnlySequence())
	require.NotNil(t, resp)
	require.Len(t, resp.Message.Parts, 1)
	text, ok := resp.Message.Parts[0].(model.TextPart)
	require.True(t, ok)
	require.Equal(t, "Hello, world", text.Text)
	require.Equal(t, model.FinishReasonStop, resp.FinishReason)
}

func toolCallSequence() []model.StreamEvent {
	call := model.ToolCallPart{ID: "call_1", Name: "search", Arguments: json.RawMessage(`{"q":"go"}`), CallType: "function"}
	return []model.StreamEvent{
		model.EventStreamStart{},
		model.EventToolCallStart{ID: "call_1", Name: "search"},
		model.EventToolCallDelta{ID: "call_1", ArgumentsDelta: `{"q":`},
		model.EventToolCallDelta{ID: "call_1", ArgumentsDelta: `"go"}`},
		model.EventToolCallEnd{ToolCall: call},
		model.EventFinish{FinishReason: model.FinishReasonToolCalls},
	}
}

// TestAccumulateToolCallsPreserveOrder implements spec.md §8's invariant:
// accumulate(s).toolCalls equals the sequence of ToolCallEnd.tool_call in
// order.
func TestAccumulateToolCallsPreserveOrder(t *testing.T) {
	resp := Accumulate(toolCallSequence())
	require.NotNil(t, resp)
	require.Len(t, resp.Message.Parts, 1)
	tc, ok := resp.Message.Parts[0].(model.ToolCallPart)
	require.True(t, ok)
	require.Equal(t, "call_1", tc.ID)
	require.Equal(t, "search", tc.Name)
	require.Equal(t, model.FinishReasonToolCalls, resp.FinishReason)
}

func TestAccumulateMultipleToolCallsPreserveStartOrder(t *testing.T) {
	first := model.ToolCallPart{ID: "call_1", Name: "a", Arguments: json.RawMessage(`{}`)}
	second := model.ToolCallPart{ID: "call_2", Name: "b", Arguments: json.RawMessage(`{}`)}
	events := []model.StreamEvent{
		model.EventToolCallStart{ID: "call_1", Name: "a"},
		model.EventToolCallStart{ID: "call_2", Name: "b"},
		model.EventToolCallEnd{ToolCall: first},
		model.EventToolCallEnd{ToolCall: second},
		model.EventFinish{FinishReason: model.FinishReasonToolCalls},
	}
	resp := Accumulate(events)
	require.Len(t, resp.Message.Parts, 2)
	require.Equal(t, "call_1", resp.Message.Parts[0].(model.ToolCallPart).ID)
	require.Equal(t, "call_2", resp.Message.Parts[1].(model.ToolCallPart).ID)
}

// TestAccumulateIsDeterministic implements spec.md §8's determinism
// invariant: feeding the same event sequence twice yields equal Responses.
func TestAccumulateIsDeterministic(t *testing.T) {
	seq := toolCallSequence()
	first := Accumulate(seq)
	second := Accumulate(seq)
	require.Equal(t, first, second)
}

// TestAccumulateTruncatedStreamIncludesPartialToolCallBestEffort implements
// spec.md §8's partial/truncated-stream behaviour: a tool call whose
// ToolCallEnd never arrived before Finish is still included, with whatever
// arguments were accumulated so far.
func TestAccumulateTruncatedStreamIncludesPartialToolCallBestEffort(t *testing.T) {
	events := []model.StreamEvent{
		model.EventTextStart{},
		model.EventTextDelta{Text: "partial"},
		model.EventToolCallStart{ID: "call_1", Name: "search"},
		model.EventToolCallDelta{ID: "call_1", ArgumentsDelta: `{"q":"py`},
		model.EventFinish{FinishReason: model.FinishReasonError},
	}
	resp := Accumulate(events)
	require.NotNil(t, resp)
	require.Len(t, resp.Message.Parts, 2)
	text, ok := resp.Message.Parts[0].(model.TextPart)
	require.True(t, ok)
	require.Equal(t, "partial", text.Text)
	tc, ok := resp.Message.Parts[1].(model.ToolCallPart)
	require.True(t, ok)
	require.Equal(t, "call_1", tc.ID)
	require.Equal(t, `{"q":"py`, string(tc.Arguments))
}

func TestAccumulateReasoningCarriesSignature(t *testing.T) {
	events := []model.StreamEvent{
		model.EventReasoningStart{},
		model.EventReasoningDelta{Text: "thinking..."},
		model.EventReasoningEnd{Signature: "sig_xyz"},
		model.EventFinish{FinishReason: model.FinishReasonStop},
	}
	resp := Accumulate(events)
	require.Len(t, resp.Message.Parts, 1)
	thinking, ok := resp.Message.Parts[0].(model.ThinkingPart)
	require.True(t, ok)
	require.Equal(t, "thinking...", thinking.Text)
	require.Equal(t, "sig_xyz", thinking.Signature)
}

func TestResultNilBeforeFinish(t *testing.T) {
	a := New()
	a.Process(model.EventTextStart{})
	a.Process(model.EventTextDelta{Text: "partial"})
	require.Nil(t, a.Result())
}

func TestAccumulatePrefersAdapterReportedResponse(t *testing.T) {
	reported := &model.Response{ID: "resp_1", FinishReason: model.FinishReasonStop}
	events := []model.StreamEvent{
		model.EventTextDelta{Text: "ignored by fold"},
		model.EventFinish{FinishReason: model.FinishReasonStop, Response: reported},
	}
	resp := Accumulate(events)
	require.Same(t, reported, resp)
}
