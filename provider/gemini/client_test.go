package gemini

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"agentcore/model"
)

// TestConvertMessagesUnknownToolCallIDIsInvalidRequest implements spec.md
// §8's boundary behaviour: "Gemini translator on a tool_result with an
// unknown tool_call_id returns InvalidRequest."
func TestConvertMessagesUnknownToolCallIDIsInvalidRequest(t *testing.T) {
	msgs := []*model.Message{
		{Role: model.ConversationRoleUser, Parts: []model.Part{model.TextPart{Text: "hi"}}},
		{Role: model.ConversationRoleTool, Parts: []model.Part{
			model.ToolResultPart{ToolCallID: "unknown-id", Content: json.RawMessage(`{"ok":true}`)},
		}},
	}
	_, _, _, err := convertMessages(msgs)
	require.Error(t, err)
	require.True(t, model.IsCode(err, model.ErrorCodeInvalidRequest))
}

func TestConvertMessagesToolCallThenResultRoundTrips(t *testing.T) {
	msgs := []*model.Message{
		{Role: model.ConversationRoleUser, Parts: []model.Part{model.TextPart{Text: "weather?"}}},
		{Role: model.ConversationRoleAssistant, Parts: []model.Part{
			model.ToolCallPart{ID: "call_1", Name: "get_weather", Arguments: json.RawMessage(`{"city":"Paris"}`)},
		}},
		{Role: model.ConversationRoleTool, Parts: []model.Part{
			model.ToolResultPart{ToolCallID: "call_1", Content: json.RawMessage(`{"temp":"22C"}`)},
		}},
	}
	contents, _, idToName, err := convertMessages(msgs)
	require.NoError(t, err)
	require.Equal(t, "get_weather", idToName["call_1"])
	require.Len(t, contents, 3)
}

func TestConvertMessagesInlinesLocalImage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pic.png")
	require.NoError(t, os.WriteFile(path, []byte("pngbytes"), 0o600))

	msgs := []*model.Message{
		{Role: model.ConversationRoleUser, Parts: []model.Part{model.ImageURLPart{URL: path}}},
	}
	contents, _, _, err := convertMessages(msgs)
	require.NoError(t, err)
	require.Len(t, contents, 1)
	part := contents[0].Parts[0]
	require.NotNil(t, part.InlineData)
	require.Equal(t, []byte("pngbytes"), part.InlineData.Data)
	require.Equal(t, "image/png", part.InlineData.MIMEType)
}

// TestConvertMessagesMissingLocalImageIsInvalidRequest implements spec.md
// §8's "local image path that does not exist returns InvalidRequest"
// boundary behaviour for the Gemini translator.
func TestConvertMessagesMissingLocalImageIsInvalidRequest(t *testing.T) {
	msgs := []*model.Message{
		{Role: model.ConversationRoleUser, Parts: []model.Part{model.ImageURLPart{URL: "/no/such/file-gemini.png"}}},
	}
	_, _, _, err := convertMessages(msgs)
	require.Error(t, err)
	require.True(t, model.IsCode(err, model.ErrorCodeInvalidRequest))
}

func TestConvertMessagesRemoteImagePassesThroughFileURI(t *testing.T) {
	msgs := []*model.Message{
		{Role: model.ConversationRoleUser, Parts: []model.Part{
			model.ImageURLPart{URL: "https://example.com/pic.png", MediaType: "image/png"},
		}},
	}
	contents, _, _, err := convertMessages(msgs)
	require.NoError(t, err)
	part := contents[0].Parts[0]
	require.NotNil(t, part.FileData)
	require.Equal(t, "https://example.com/pic.png", part.FileData.FileURI)
}

func TestPrepareRequestConsumesSafetySettings(t *testing.T) {
	a := &Adapter{defaultModel: "gemini-2.5-pro"}
	req := &model.Request{
		Messages: []*model.Message{{Role: model.ConversationRoleUser, Parts: []model.Part{model.TextPart{Text: "hi"}}}},
		ProviderOptions: map[string]json.RawMessage{
			"gemini": json.RawMessage(`{"safety_settings":[{"category":"HARM_CATEGORY_HARASSMENT","threshold":"BLOCK_ONLY_HIGH"}]}`),
		},
	}
	modelID, _, config, err := a.prepareRequest(req)
	require.NoError(t, err)
	require.Equal(t, "gemini-2.5-pro", modelID)
	require.Len(t, config.SafetySettings, 1)
}

func TestPrepareRequestNonObjectProviderOptionsRejected(t *testing.T) {
	a := &Adapter{defaultModel: "gemini-2.5-pro"}
	req := &model.Request{
		Messages:        []*model.Message{{Role: model.ConversationRoleUser, Parts: []model.Part{model.TextPart{Text: "hi"}}}},
		ProviderOptions: map[string]json.RawMessage{"gemini": json.RawMessage(`[1,2,3]`)},
	}
	_, _, _, err := a.prepareRequest(req)
	require.Error(t, err)
	require.True(t, model.IsCode(err, model.ErrorCodeInvalidRequest))
}

func TestTranslateResponseTextAndToolCall(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{
				{Text: "answer"},
				{FunctionCall: &genai.FunctionCall{Name: "search", Args: map[string]any{"q": "go"}}},
			}},
			FinishReason: "STOP",
		}},
	}
	out := translateResponse("gemini-2.5-pro", resp, func(name string) string { return "call_" + name })
	require.Equal(t, model.FinishReasonStop, out.FinishReason)

	var sawText, sawTool bool
	for _, p := range out.Message.Parts {
		switch v := p.(type) {
		case model.TextPart:
			sawText = v.Text == "answer"
		case model.ToolCallPart:
			sawTool = v.ID == "call_search" && v.Name == "search"
		}
	}
	require.True(t, sawText)
	require.True(t, sawTool)
}
