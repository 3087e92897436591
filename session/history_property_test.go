package session

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"agentcore/model"
	"agentcore/tools"
)

// buildSegment expands one of three segment kinds into the Turns it
// contributes to history, always keeping every ToolResultsTurn immediately
// preceded by the AssistantTurn whose ToolCalls it answers — the invariant
// the property below checks compactHistory never breaks.
func buildSegment(kind int, n int) []model.Turn {
	switch kind % 3 {
	case 0:
		return []model.Turn{model.UserTurn{Content: "message", Ts: time.Now()}}
	case 1:
		return []model.Turn{model.AssistantTurn{Content: "plain reply", Ts: time.Now()}}
	default:
		callID := "call_" + string(rune('a'+n%26))
		assistant := model.AssistantTurn{
			ToolCalls: []model.ToolCallPart{{ID: callID, Name: "tool", Arguments: json.RawMessage(`{}`), CallType: "function"}},
			Ts:        time.Now(),
		}
		results := model.ToolResultsTurn{
			Results: []model.ToolResultPart{{ToolCallID: callID, Content: json.RawMessage(`"ok"`)}},
			Ts:      time.Now(),
		}
		return []model.Turn{assistant, results}
	}
}

// hasMatchingEarlierAssistant reports whether some AssistantTurn before
// index i in history declares a ToolCalls entry for every ToolCallID the
// ToolResultsTurn at i carries.
func hasMatchingEarlierAssistant(history []model.Turn, i int) bool {
	rt := history[i].(model.ToolResultsTurn)
	declared := make(map[string]bool)
	for _, t := range history[:i] {
		if at, ok := t.(model.AssistantTurn); ok {
			for _, tc := range at.ToolCalls {
				declared[tc.ID] = true
			}
		}
	}
	for _, r := range rt.Results {
		if !declared[r.ToolCallID] {
			return false
		}
	}
	return true
}

func noOrphanedToolResults(history []model.Turn) bool {
	for i, t := range history {
		if _, ok := t.(model.ToolResultsTurn); ok {
			if !hasMatchingEarlierAssistant(history, i) {
				return false
			}
		}
	}
	return true
}

// TestCompactHistoryPreservesToolResultsMatchingAssistantInvariant implements
// spec.md §8's property: for any history built from valid
// ToolResultsTurn-follows-matching-AssistantTurn segments, every
// ToolResultsTurn that survives compactHistory still has a matching earlier
// AssistantTurn in the (possibly rewritten) history.
func TestCompactHistoryPreservesToolResultsMatchingAssistantInvariant(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("compaction never orphans a tool results turn", prop.ForAll(
		func(kinds []int) bool {
			var history []model.Turn
			for i, k := range kinds {
				history = append(history, buildSegment(k, i)...)
			}
			if !noOrphanedToolResults(history) {
				// Generator bug, not a compaction bug; skip.
				return true
			}
			images := make(map[string]tools.ImageAttachment)
			out, _ := compactHistory(history, images)
			return noOrphanedToolResults(out)
		},
		gen.SliceOfN(20, gen.IntRange(0, 2)),
	))

	properties.TestingRun(t)
}

// TestConvertHistoryToMessagesPreservesTurnOrder implements the round-trip
// half of the same invariant: the portable Message sequence buildRequest
// hands to a provider.Adapter keeps tool_use/tool_result pairs adjacent and
// in the same relative order as the originating Turns.
func TestConvertHistoryToMessagesPreservesTurnOrder(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("message count never exceeds non-system turn count and role order is preserved", prop.ForAll(
		func(kinds []int) bool {
			var history []model.Turn
			for i, k := range kinds {
				history = append(history, buildSegment(k, i)...)
			}
			msgs := convertHistoryToMessages(history, nil, false)
			if len(msgs) != len(history) {
				return false
			}
			for i, turn := range history {
				want := model.ConversationRoleUser
				switch turn.(type) {
				case model.AssistantTurn:
					want = model.ConversationRoleAssistant
				case model.ToolResultsTurn:
					want = model.ConversationRoleTool
				}
				if msgs[i].Role != want {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(15, gen.IntRange(0, 2)),
	))

	properties.TestingRun(t)
}
