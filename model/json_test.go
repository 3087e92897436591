package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMessageRoundTripPreservesPartOrderAndKind(t *testing.T) {
	msg := Message{
		Role: ConversationRoleAssistant,
		Parts: []Part{
			TextPart{Text: "before"},
			ToolCallPart{ID: "call_1", Name: "get_weather", Arguments: json.RawMessage(`{"city":"Paris"}`), CallType: "function"},
			TextPart{Text: "after"},
		},
	}

	raw, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded Message
	require.NoError(t, json.Unmarshal(raw, &decoded))

	require.Len(t, decoded.Parts, 3)
	require.Equal(t, TextPart{Text: "before"}, decoded.Parts[0])
	tc, ok := decoded.Parts[1].(ToolCallPart)
	require.True(t, ok)
	require.Equal(t, "get_weather", tc.Name)
	require.JSONEq(t, `{"city":"Paris"}`, string(tc.Arguments))
	require.Equal(t, TextPart{Text: "after"}, decoded.Parts[2])
}

func TestThinkingPartRoundTripPreservesSignature(t *testing.T) {
	orig := ThinkingPart{Text: "let me think", Signature: "sig_abc"}
	raw, err := encodePart(orig)
	require.NoError(t, err)

	encoded, err := json.Marshal(raw)
	require.NoError(t, err)

	decoded, err := decodePart(encoded)
	require.NoError(t, err)

	tp, ok := decoded.(ThinkingPart)
	require.True(t, ok)
	require.Equal(t, "sig_abc", tp.Signature)
	require.Equal(t, "let me think", tp.Text)
}

func TestDecodePartRejectsMissingToolCallName(t *testing.T) {
	_, err := decodePart([]byte(`{"kind":"tool_call","id":"c1"}`))
	require.Error(t, err)
}

func TestDecodePartRejectsUnknownKind(t *testing.T) {
	_, err := decodePart([]byte(`{"kind":"bogus"}`))
	require.Error(t, err)
}
