package openaichat

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"

	"agentcore/model"
)

type stubChatClient struct {
	lastReq openai.ChatCompletionRequest
	resp    openai.ChatCompletionResponse
	err     error
}

func (s *stubChatClient) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	s.lastReq = req
	return s.resp, s.err
}

func (s *stubChatClient) CreateChatCompletionStream(_ context.Context, req openai.ChatCompletionRequest) (*openai.ChatCompletionStream, error) {
	s.lastReq = req
	return nil, s.err
}

func toolOnlyRequest() *model.Request {
	return &model.Request{
		Messages: []*model.Message{
			{Role: model.ConversationRoleUser, Parts: []model.Part{model.TextPart{Text: "weather?"}}},
			{Role: model.ConversationRoleAssistant, Parts: []model.Part{
				model.ToolCallPart{ID: "call_1", Name: "get_weather", Arguments: json.RawMessage(`{"city":"Paris"}`), CallType: "function"},
			}},
		},
	}
}

// TestMistralToolOnlyTurnOmitsContentKey implements spec.md §8's boundary
// behaviour: "Mistral translator on an assistant turn with only a tool call
// omits the content key entirely (not null)".
func TestMistralToolOnlyTurnOmitsContentKey(t *testing.T) {
	stub := &stubChatClient{}
	a, err := New(stub, "mistral-large-latest", Quirks{Name: "mistral", StringifyToolContent: true})
	require.NoError(t, err)

	_, err = a.Complete(context.Background(), toolOnlyRequest())
	require.NoError(t, err)

	var assistantMsg *openai.ChatCompletionMessage
	for i := range stub.lastReq.Messages {
		if stub.lastReq.Messages[i].Role == string(model.ConversationRoleAssistant) {
			assistantMsg = &stub.lastReq.Messages[i]
		}
	}
	require.NotNil(t, assistantMsg)
	require.Empty(t, assistantMsg.Content)
	require.NotEmpty(t, assistantMsg.ToolCalls)

	raw, err := json.Marshal(assistantMsg)
	require.NoError(t, err)
	var asMap map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &asMap))
	_, hasContentKey := asMap["content"]
	require.False(t, hasContentKey, "content key must be omitted entirely, not present as null")
}

func TestMistralToolResultContentIsStringified(t *testing.T) {
	stub := &stubChatClient{}
	a, err := New(stub, "mistral-large-latest", Quirks{Name: "mistral", StringifyToolContent: true})
	require.NoError(t, err)

	req := &model.Request{
		Messages: []*model.Message{
			{Role: model.ConversationRoleUser, Parts: []model.Part{model.TextPart{Text: "weather?"}}},
			{Role: model.ConversationRoleAssistant, Parts: []model.Part{
				model.ToolCallPart{ID: "call_1", Name: "get_weather", Arguments: json.RawMessage(`{}`)},
			}},
			{Role: model.ConversationRoleTool, Parts: []model.Part{
				model.ToolResultPart{ToolCallID: "call_1", Content: json.RawMessage(`"22C"`)},
			}},
		},
	}
	_, err = a.Complete(context.Background(), req)
	require.NoError(t, err)

	var toolMsg *openai.ChatCompletionMessage
	for i := range stub.lastReq.Messages {
		if stub.lastReq.Messages[i].Role == string(model.ConversationRoleTool) {
			toolMsg = &stub.lastReq.Messages[i]
		}
	}
	require.NotNil(t, toolMsg)
	require.Equal(t, `"22C"`, toolMsg.Content)
}

func TestDefaultAdapterUnwrapsBareStringToolResult(t *testing.T) {
	stub := &stubChatClient{}
	a, err := New(stub, "gpt-4o", Quirks{Name: "openai-chat"})
	require.NoError(t, err)

	req := &model.Request{
		Messages: []*model.Message{
			{Role: model.ConversationRoleUser, Parts: []model.Part{model.TextPart{Text: "weather?"}}},
			{Role: model.ConversationRoleAssistant, Parts: []model.Part{
				model.ToolCallPart{ID: "call_1", Name: "get_weather", Arguments: json.RawMessage(`{}`)},
			}},
			{Role: model.ConversationRoleTool, Parts: []model.Part{
				model.ToolResultPart{ToolCallID: "call_1", Content: json.RawMessage(`"22C"`)},
			}},
		},
	}
	_, err = a.Complete(context.Background(), req)
	require.NoError(t, err)

	var toolMsg *openai.ChatCompletionMessage
	for i := range stub.lastReq.Messages {
		if stub.lastReq.Messages[i].Role == string(model.ConversationRoleTool) {
			toolMsg = &stub.lastReq.Messages[i]
		}
	}
	require.NotNil(t, toolMsg)
	require.Equal(t, "22C", toolMsg.Content)
}

func TestResponsesOnlyToolKeysRejected(t *testing.T) {
	stub := &stubChatClient{}
	a, err := New(stub, "gpt-4o", Quirks{Name: "openai-chat"})
	require.NoError(t, err)

	req := &model.Request{
		Messages:        []*model.Message{{Role: model.ConversationRoleUser, Parts: []model.Part{model.TextPart{Text: "hi"}}}},
		ProviderOptions: map[string]json.RawMessage{"openai-chat": json.RawMessage(`{"web_search":{}}`)},
	}
	_, err = a.Complete(context.Background(), req)
	require.Error(t, err)
	require.True(t, model.IsCode(err, model.ErrorCodeInvalidRequest))
}

func TestServiceTierProviderOptionApplied(t *testing.T) {
	stub := &stubChatClient{}
	a, err := New(stub, "gpt-4o", Quirks{Name: "openai-chat"})
	require.NoError(t, err)

	req := &model.Request{
		Messages:        []*model.Message{{Role: model.ConversationRoleUser, Parts: []model.Part{model.TextPart{Text: "hi"}}}},
		ProviderOptions: map[string]json.RawMessage{"openai-chat": json.RawMessage(`{"service_tier":"flex"}`)},
	}
	_, err = a.Complete(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "flex", stub.lastReq.ServiceTier)
}

// TestLocalImagePathMissingReturnsInvalidRequest implements spec.md §8's
// "OpenAI translator on a local image path that does not exist returns
// InvalidRequest" boundary behaviour.
func TestLocalImagePathMissingReturnsInvalidRequest(t *testing.T) {
	stub := &stubChatClient{}
	a, err := New(stub, "gpt-4o", Quirks{Name: "openai-chat"})
	require.NoError(t, err)

	req := &model.Request{
		Messages: []*model.Message{
			{Role: model.ConversationRoleUser, Parts: []model.Part{model.ImageURLPart{URL: "/no/such/file-chat.png"}}},
		},
	}
	_, err = a.Complete(context.Background(), req)
	require.Error(t, err)
	require.True(t, model.IsCode(err, model.ErrorCodeInvalidRequest))
}

func TestLocalImagePathPresentIsSilentlyDropped(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pic.png")
	require.NoError(t, os.WriteFile(path, []byte("pngbytes"), 0o600))

	stub := &stubChatClient{}
	a, err := New(stub, "gpt-4o", Quirks{Name: "openai-chat"})
	require.NoError(t, err)

	req := &model.Request{
		Messages: []*model.Message{
			{Role: model.ConversationRoleUser, Parts: []model.Part{
				model.TextPart{Text: "describe"},
				model.ImageURLPart{URL: path},
			}},
		},
	}
	_, err = a.Complete(context.Background(), req)
	require.NoError(t, err)
}

func TestTranslateResponseToolCalls(t *testing.T) {
	stub := &stubChatClient{
		resp: openai.ChatCompletionResponse{
			ID: "resp_1",
			Choices: []openai.ChatCompletionChoice{{
				Message: openai.ChatCompletionMessage{
					ToolCalls: []openai.ToolCall{{
						ID:       "call_1",
						Type:     openai.ToolTypeFunction,
						Function: openai.FunctionCall{Name: "search", Arguments: `{"q":"go"}`},
					}},
				},
				FinishReason: openai.FinishReasonToolCalls,
			}},
			Usage: openai.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		},
	}
	a, err := New(stub, "gpt-4o", Quirks{Name: "openai-chat"})
	require.NoError(t, err)

	resp, err := a.Complete(context.Background(), toolOnlyRequest())
	require.NoError(t, err)
	require.Equal(t, model.FinishReasonToolCalls, resp.FinishReason)
	require.Len(t, resp.Message.Parts, 1)
	tc, ok := resp.Message.Parts[0].(model.ToolCallPart)
	require.True(t, ok)
	require.Equal(t, "search", tc.Name)
}
