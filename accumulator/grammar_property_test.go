package accumulator

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"agentcore/model"
)

// subSequenceKind selects one of the three StreamEvent grammar alternatives
// named in model.StreamEvent's doc comment:
//
//	(TextStart TextDelta* TextEnd) | (ReasoningStart ReasoningDelta* ReasoningEnd) | (ToolCallStart ToolCallDelta* ToolCallEnd)
type subSequenceKind int

const (
	kindText subSequenceKind = iota
	kindReasoning
	kindToolCall
)

func buildSubSequence(kind subSequenceKind, deltaCount int, text string, toolID string) []model.StreamEvent {
	switch kind {
	case kindText:
		events := []model.StreamEvent{model.EventTextStart{}}
		for i := 0; i < deltaCount; i++ {
			events = append(events, model.EventTextDelta{Text: text})
		}
		return append(events, model.EventTextEnd{})
	case kindReasoning:
		events := []model.StreamEvent{model.EventReasoningStart{}}
		for i := 0; i < deltaCount; i++ {
			events = append(events, model.EventReasoningDelta{Text: text})
		}
		return append(events, model.EventReasoningEnd{Signature: "sig"})
	default:
		events := []model.StreamEvent{model.EventToolCallStart{ID: toolID, Name: "t"}}
		for i := 0; i < deltaCount; i++ {
			events = append(events, model.EventToolCallDelta{ID: toolID, ArgumentsDelta: "x"})
		}
		return append(events, model.EventToolCallEnd{ToolCall: model.ToolCallPart{ID: toolID, Name: "t", Arguments: []byte("{}")}})
	}
}

// buildGrammarConformingSequence assembles a full StreamEvent sequence
// conforming to model.StreamEvent's grammar: StreamStart, zero or more
// sub-sequences of any kind, then Finish.
func buildGrammarConformingSequence(kinds []int, deltaCounts []int) []model.StreamEvent {
	events := []model.StreamEvent{model.EventStreamStart{}}
	var expectedText strings.Builder
	for i, k := range kinds {
		dc := 0
		if i < len(deltaCounts) {
			dc = deltaCounts[i] % 4
		}
		sub := buildSubSequence(subSequenceKind(k%3), dc, "d", "call_"+string(rune('a'+i%26)))
		events = append(events, sub...)
		if subSequenceKind(k%3) == kindText {
			expectedText.WriteString(strings.Repeat("d", dc))
		}
	}
	events = append(events, model.EventFinish{FinishReason: model.FinishReasonStop})
	return events
}

// TestAccumulateNeverPanicsOnGrammarConformingSequences implements spec.md
// §8's StreamEvent grammar property: any sequence conforming to
// model.StreamEvent's documented grammar folds into a non-nil Response
// without panicking. The accumulated text itself is checked by
// TestAccumulateTextMatchesConcatenationOfDeltas.
func TestAccumulateNeverPanicsOnGrammarConformingSequences(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("grammar-conforming sequences fold without panicking", prop.ForAll(
		func(kinds []int, deltaCounts []int) bool {
			events := buildGrammarConformingSequence(kinds, deltaCounts)
			resp := Accumulate(events)
			return resp != nil
		},
		gen.SliceOfN(10, gen.IntRange(0, 2)),
		gen.SliceOfN(10, gen.IntRange(0, 6)),
	))

	properties.TestingRun(t)
}

func TestAccumulateTextMatchesConcatenationOfDeltas(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("accumulated text equals concatenation of all text-sub-sequence deltas", prop.ForAll(
		func(deltaCount int) bool {
			events := []model.StreamEvent{
				model.EventStreamStart{},
				model.EventTextStart{},
			}
			for i := 0; i < deltaCount; i++ {
				events = append(events, model.EventTextDelta{Text: "x"})
			}
			events = append(events, model.EventTextEnd{}, model.EventFinish{FinishReason: model.FinishReasonStop})

			resp := Accumulate(events)
			if resp == nil {
				return false
			}
			if deltaCount == 0 {
				return len(resp.Message.Parts) == 0
			}
			text, ok := resp.Message.Parts[0].(model.TextPart)
			return ok && text.Text == strings.Repeat("x", deltaCount)
		},
		gen.IntRange(0, 20),
	))

	properties.TestingRun(t)
}
