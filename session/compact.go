package session

import (
	"context"
	"encoding/json"
	"fmt"

	"agentcore/model"
	"agentcore/telemetry"
	"agentcore/tools"
)

// estimateHistoryChars approximates context usage with the teacher's
// 1-token~4-chars heuristic (ApiSession::estimate_history_chars), summing
// the system prompt plus every turn's textual content, tool-call
// names/arguments, reasoning, and thinking-part text/signatures.
func estimateHistoryChars(systemPrompt string, history []model.Turn) int {
	chars := len(systemPrompt)
	for _, t := range history {
		switch v := t.(type) {
		case model.UserTurn:
			chars += len(v.Content)
		case model.SteeringTurn:
			chars += len(v.Content)
		case model.SystemTurn:
			chars += len(v.Content)
		case model.AssistantTurn:
			chars += len(v.Content)
			for _, tc := range v.ToolCalls {
				chars += len(tc.Name) + len(tc.Arguments)
			}
			chars += len(v.Reasoning)
			for _, p := range v.ThinkingParts {
				switch tp := p.(type) {
				case model.ThinkingPart:
					chars += len(tp.Text) + len(tp.Signature)
				case model.RedactedThinkingPart:
					chars += len(tp.Text) + len(tp.Signature)
				}
			}
		case model.ToolResultsTurn:
			for _, r := range v.Results {
				chars += len(r.Content)
			}
		}
	}
	return chars
}

// compactionSummaryThreshold is the per-tool-result character count beyond
// which phase 2 replaces the content with an elision marker (§4.7, ported
// verbatim as the 200-char threshold from compact_history).
const compactionSummaryThreshold = 200

// compactHistoryPreserveTail is the number of trailing history entries phase
// 2 never touches, matching preserve_tail = min(4, len).
const compactHistoryPreserveTail = 4

// compactHistoryTrigger is the total-entry count beyond which phase 3 drops
// middle turns (len > 10 in original_source).
const compactHistoryTrigger = 10

// compactHistory applies the three-phase algorithm from
// ApiSession::compact_history in order, tracking whether any phase actually
// modified the history. Image attachments for any tool result dropped or
// summarised are evicted from images. Returns the (possibly rewritten)
// history and whether anything changed.
func compactHistory(history []model.Turn, images map[string]tools.ImageAttachment) ([]model.Turn, bool) {
	modified := false

	// Phase 1: strip thinking/reasoning from every assistant turn.
	for i, t := range history {
		at, ok := t.(model.AssistantTurn)
		if !ok {
			continue
		}
		changed := false
		if at.Reasoning != "" {
			at.Reasoning = ""
			changed = true
		}
		if len(at.ThinkingParts) > 0 {
			at.ThinkingParts = nil
			changed = true
		}
		if changed {
			history[i] = at
			modified = true
		}
	}

	// Phase 2: summarise tool results older than the preserved tail and
	// evict their image attachments.
	preserveTail := compactHistoryPreserveTail
	if preserveTail > len(history) {
		preserveTail = len(history)
	}
	compactable := len(history) - preserveTail
	for i := 0; i < compactable; i++ {
		rt, ok := history[i].(model.ToolResultsTurn)
		if !ok {
			continue
		}
		results := append([]model.ToolResultPart(nil), rt.Results...)
		for j, r := range results {
			if _, had := images[r.ToolCallID]; had {
				delete(images, r.ToolCallID)
				modified = true
			}
			if len(r.Content) > compactionSummaryThreshold {
				results[j].Content = elisionMarker(len(r.Content))
				modified = true
			}
		}
		history[i] = model.ToolResultsTurn{Results: results, Ts: rt.Ts}
	}

	// Phase 3: if the history is long, drop the middle, keeping the first
	// turn (original task) and a tail of recent turns. The tail boundary
	// walks forward past any orphaned ToolResults turn whose matching
	// Assistant(tool_calls) would otherwise be dropped.
	if len(history) > compactHistoryTrigger {
		const keepHead = 1
		total := len(history)
		tailPreserve := preserveTail
		if tailPreserve < compactHistoryPreserveTail {
			tailPreserve = compactHistoryPreserveTail
		}
		tailStart := total - tailPreserve
		if tailStart < 0 {
			tailStart = 0
		}
		for tailStart < total {
			if _, ok := history[tailStart].(model.ToolResultsTurn); ok {
				tailStart++
				continue
			}
			break
		}
		keepTail := total - tailStart
		if keepHead+keepTail < total {
			removed := total - keepHead - keepTail
			for _, t := range history[keepHead:tailStart] {
				if rt, ok := t.(model.ToolResultsTurn); ok {
					for _, r := range rt.Results {
						delete(images, r.ToolCallID)
					}
				}
			}
			summary := model.SystemTurn{Content: fmt.Sprintf(
				"[Context compacted: %d earlier turns were removed to fit within the model's context window. The original user request and recent conversation are preserved.]", removed)}
			newHistory := make([]model.Turn, 0, keepHead+1+keepTail)
			newHistory = append(newHistory, history[:keepHead]...)
			newHistory = append(newHistory, summary)
			newHistory = append(newHistory, history[tailStart:]...)
			history = newHistory
			modified = true
		}
	}

	return history, modified
}

func elisionMarker(origLen int) json.RawMessage {
	b, _ := json.Marshal(fmt.Sprintf("[Output compacted — %d chars removed to free context space]", origLen))
	return b
}

// logCompaction reports before/after character counts at debug level,
// matching original_source's debug-level compaction telemetry (§9 — ambient
// logging carried forward even though it names no feature).
func logCompaction(ctx context.Context, log telemetry.Logger, before, after int, modified bool) {
	if log == nil {
		return
	}
	log.Debug(ctx, "context compaction complete", "before_chars", before, "after_chars", after, "modified", modified)
}
