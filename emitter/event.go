// Package emitter implements Component A: fan-out of session lifecycle
// events to a consumer. Grounded on the teacher's runtime/agent/stream
// package (Event/Base/EventType idiom), generalized from the teacher's
// Temporal-run-scoped wire events down to the plain in-process event set
// this spec names in §4.1.
package emitter

import "agentcore/model"

// EventKind identifies the category of an Event. Consumers switch on Kind
// to route to type-specific handling, or type-assert the concrete Event.
type EventKind string

const (
	EventKindSessionStart        EventKind = "session_start"
	EventKindUserInput           EventKind = "user_input"
	EventKindSteeringInjected    EventKind = "steering_injected"
	EventKindAssistantTextStart  EventKind = "assistant_text_start"
	EventKindAssistantTextDelta  EventKind = "assistant_text_delta"
	EventKindAssistantTextEnd    EventKind = "assistant_text_end"
	EventKindAssistantReasoningStart EventKind = "assistant_reasoning_start"
	EventKindAssistantReasoningDelta EventKind = "assistant_reasoning_delta"
	EventKindAssistantReasoningEnd   EventKind = "assistant_reasoning_end"
	EventKindToolCallStart       EventKind = "tool_call_start"
	EventKindToolCallEnd         EventKind = "tool_call_end"
	EventKindToolCallEndError    EventKind = "tool_call_end_error"
	EventKindTurnLimit           EventKind = "turn_limit"
	EventKindLoopDetection       EventKind = "loop_detection"
	EventKindContextUsage        EventKind = "context_usage"
	EventKindError               EventKind = "error"
	EventKindInfo                EventKind = "info"
	EventKindSessionEnd          EventKind = "session_end"
)

// Event is implemented by every concrete event type this package emits.
type Event interface {
	Kind() EventKind
}

type (
	// SessionStart is emitted once when a session begins accepting input.
	SessionStart struct{ SessionID string }

	// UserInput is emitted when a user submission is appended to history.
	UserInput struct{ Content string }

	// SteeringInjected is emitted when a queued steering message is appended
	// to history mid-loop.
	SteeringInjected struct{ Content string }

	// AssistantTextStart opens an assistant text sub-stream.
	AssistantTextStart struct{}

	// AssistantTextDelta carries one incremental assistant text fragment.
	AssistantTextDelta struct{ Delta string }

	// AssistantTextEnd closes an assistant text sub-stream, carrying the
	// full accumulated text and, when present, the accompanying reasoning.
	AssistantTextEnd struct {
		FullText  string
		Reasoning string
	}

	// AssistantReasoningStart opens an assistant reasoning sub-stream.
	AssistantReasoningStart struct{}

	// AssistantReasoningDelta carries one incremental reasoning fragment.
	AssistantReasoningDelta struct{ Delta string }

	// AssistantReasoningEnd closes an assistant reasoning sub-stream.
	AssistantReasoningEnd struct{}

	// ToolCallStart is emitted before a tool call executes, with its full
	// (untruncated) arguments.
	ToolCallStart struct {
		Name string
		ID   string
		Args []byte
	}

	// ToolCallEnd is emitted when a tool call completes successfully. For
	// registry tools Output is the JSON-encoded tool result after per-tool
	// truncation, the same content the model receives; it is not the
	// untruncated output.
	ToolCallEnd struct {
		ID     string
		Output string
	}

	// ToolCallEndError is emitted when a tool call fails.
	ToolCallEndError struct {
		ID      string
		Message string
	}

	// TurnLimit is emitted when a configured round/turn limit is hit.
	TurnLimit struct {
		LimitType string
		Count     int
	}

	// LoopDetection is emitted when the loop-detection heuristic observes a
	// repeating tool-call pattern.
	LoopDetection struct{ Message string }

	// ContextUsage reports estimated context-window utilization.
	ContextUsage struct {
		Pct    float64
		Tokens int
		Window int
	}

	// Error is emitted on any error condition visible to the user.
	Error struct {
		Code     model.ErrorCode
		Message  string
		Severity string // optional, e.g. "warning" for recovered ContextLength
	}

	// Info is emitted for non-error informational notices (e.g. retry
	// announcements).
	Info struct {
		Code    string
		Message string
	}

	// SessionEnd is emitted exactly once, when the session transitions to
	// Closed.
	SessionEnd struct{ State model.SessionState }
)

func (SessionStart) Kind() EventKind             { return EventKindSessionStart }
func (UserInput) Kind() EventKind                { return EventKindUserInput }
func (SteeringInjected) Kind() EventKind         { return EventKindSteeringInjected }
func (AssistantTextStart) Kind() EventKind       { return EventKindAssistantTextStart }
func (AssistantTextDelta) Kind() EventKind       { return EventKindAssistantTextDelta }
func (AssistantTextEnd) Kind() EventKind         { return EventKindAssistantTextEnd }
func (AssistantReasoningStart) Kind() EventKind  { return EventKindAssistantReasoningStart }
func (AssistantReasoningDelta) Kind() EventKind  { return EventKindAssistantReasoningDelta }
func (AssistantReasoningEnd) Kind() EventKind    { return EventKindAssistantReasoningEnd }
func (ToolCallStart) Kind() EventKind            { return EventKindToolCallStart }
func (ToolCallEnd) Kind() EventKind              { return EventKindToolCallEnd }
func (ToolCallEndError) Kind() EventKind         { return EventKindToolCallEndError }
func (TurnLimit) Kind() EventKind                { return EventKindTurnLimit }
func (LoopDetection) Kind() EventKind            { return EventKindLoopDetection }
func (ContextUsage) Kind() EventKind             { return EventKindContextUsage }
func (Error) Kind() EventKind                    { return EventKindError }
func (Info) Kind() EventKind                     { return EventKindInfo }
func (SessionEnd) Kind() EventKind               { return EventKindSessionEnd }
