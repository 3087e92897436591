package model

import "time"

// Turn is a marker interface implemented by every entry in a session's
// history. History is an append-only sequence of Turns; compaction (session
// package) is the only process permitted to remove or rewrite entries.
type Turn interface {
	isTurn()
}

type (
	// UserTurn records a user submission.
	UserTurn struct {
		Content string
		Ts      time.Time
	}

	// SystemTurn records a system-authored note, such as a compaction
	// summary inserted when history is elided.
	SystemTurn struct {
		Content string
		Ts      time.Time
	}

	// SteeringTurn records a mid-loop nudge injected by the host or by loop
	// detection. Providers see it as a user-role message.
	SteeringTurn struct {
		Content string
		Ts      time.Time
	}

	// AssistantTurn records one assistant response.
	AssistantTurn struct {
		Content       string
		ToolCalls     []ToolCallPart
		Reasoning     string
		ThinkingParts []Part // ThinkingPart / RedactedThinkingPart, verbatim
		Usage         Usage
		ResponseID    string
		Ts            time.Time
	}

	// ToolResultsTurn records the results of executing the tool calls from
	// the immediately preceding AssistantTurn, in the same order.
	ToolResultsTurn struct {
		Results []ToolResultPart
		Ts      time.Time
	}
)

func (UserTurn) isTurn()        {}
func (SystemTurn) isTurn()      {}
func (SteeringTurn) isTurn()    {}
func (AssistantTurn) isTurn()   {}
func (ToolResultsTurn) isTurn() {}

// SessionState is the session engine's coarse-grained lifecycle state.
type SessionState string

const (
	SessionStateIdle           SessionState = "idle"
	SessionStateProcessing     SessionState = "processing"
	SessionStateAwaitingInput  SessionState = "awaiting_input"
	SessionStateClosed         SessionState = "closed"
)
