// Package accumulator implements Component D: folding a sequence of portable
// model.StreamEvents into the model.Response a non-streaming Complete call
// would have returned for the same turn. Grounded on the per-adapter
// streamer.run() loops in provider/{anthropic,openaichat,gemini,
// openairesponses,bedrock}/stream.go, which already perform this fold
// inline to synthesize their own terminal EventFinish.Response; this package
// extracts that logic into one provider-independent, deterministic,
// replayable implementation so the session engine and llmclient need not
// duplicate it. When an adapter's EventFinish does carry a Response, that
// Response is returned as-is (see build).
package accumulator

import (
	"encoding/json"
	"strings"

	"agentcore/model"
)

// Accumulator folds one turn's StreamEvents into a model.Response
// incrementally, so a caller can both forward deltas to an event consumer
// and obtain the final Response without buffering events itself.
type Accumulator struct {
	text       strings.Builder
	reasoning  strings.Builder
	signature  string
	toolCalls  []model.ToolCallPart
	openTools  map[string]*toolBuilder
	toolOrder  []string
	finishSeen bool
	resp       *model.Response
}

type toolBuilder struct {
	id, name string
	args     strings.Builder
}

// New constructs an empty Accumulator.
func New() *Accumulator {
	return &Accumulator{openTools: make(map[string]*toolBuilder)}
}

// Process folds one event into the accumulator's running state. Safe to
// call repeatedly in StreamEvent order; it is an error (by construction of
// the grammar in model.StreamEvent) to call Process after Result has
// returned a non-nil response.
func (a *Accumulator) Process(ev model.StreamEvent) {
	switch v := ev.(type) {
	case model.EventTextDelta:
		a.text.WriteString(v.Text)
	case model.EventReasoningDelta:
		a.reasoning.WriteString(v.Text)
	case model.EventReasoningEnd:
		if v.Signature != "" {
			a.signature = v.Signature
		}
	case model.EventToolCallStart:
		tb := &toolBuilder{id: v.ID, name: v.Name}
		a.openTools[v.ID] = tb
		a.toolOrder = append(a.toolOrder, v.ID)
	case model.EventToolCallDelta:
		if tb, ok := a.openTools[v.ID]; ok {
			tb.args.WriteString(v.ArgumentsDelta)
		}
	case model.EventToolCallEnd:
		delete(a.openTools, v.ToolCall.ID)
		a.toolCalls = append(a.toolCalls, v.ToolCall)
	case model.EventFinish:
		a.finishSeen = true
		a.resp = a.build(v.FinishReason, v.Usage, v.Response)
	case model.EventError:
		// Terminal failure; Result reports no response and the caller
		// surfaces v.Err directly.
	}
}

// Result returns the accumulated Response once EventFinish has been
// processed, or nil beforehand.
func (a *Accumulator) Result() *model.Response {
	return a.resp
}

// build prefers the adapter-reported terminal Response when present (it may
// carry provider-specific fields this fold cannot reconstruct, such as
// ID/Model/RateLimit) but falls back to reconstructing Message.Parts purely
// from the folded deltas so a caller that only has the event sequence (no
// adapter-supplied Response) still gets a correct result.
func (a *Accumulator) build(reason model.FinishReason, usage model.Usage, reported *model.Response) *model.Response {
	if reported != nil {
		return reported
	}
	var parts []model.Part
	if a.text.Len() > 0 {
		parts = append(parts, model.TextPart{Text: a.text.String()})
	}
	if a.reasoning.Len() > 0 {
		parts = append(parts, model.ThinkingPart{Text: a.reasoning.String(), Signature: a.signature})
	}
	// Tool calls not yet closed by the time Finish arrives (a malformed or
	// truncated stream) are included best-effort with whatever arguments
	// accumulated, rather than silently dropped.
	for _, id := range a.toolOrder {
		if tb, ok := a.openTools[id]; ok {
			args := json.RawMessage(tb.args.String())
			if len(args) == 0 {
				args = json.RawMessage("{}")
			}
			parts = append(parts, model.ToolCallPart{ID: tb.id, Name: tb.name, Arguments: args, CallType: "function"})
		}
	}
	for _, tc := range a.toolCalls {
		parts = append(parts, tc)
	}
	return &model.Response{
		Message:      model.Message{Role: model.ConversationRoleAssistant, Parts: parts},
		Usage:        usage,
		FinishReason: reason,
	}
}

// Accumulate is a pure, stateless convenience wrapper over Accumulator for
// callers that already hold the full event slice (tests, replay tooling).
// Feeding the same sequence twice yields equal Responses, satisfying the
// determinism requirement of §4.4.
func Accumulate(events []model.StreamEvent) *model.Response {
	a := New()
	for _, ev := range events {
		a.Process(ev)
	}
	return a.Result()
}
