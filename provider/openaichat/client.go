// Package openaichat adapts the portable protocol to the OpenAI Chat
// Completions wire format via github.com/sashabaranov/go-openai. It is
// shared by the openaichat, mistral, deepseek, and ollama adapters, which
// differ only in BaseURL and a small Quirks preset (spec.md §4.2) — grounded
// on features/model/openai/client.go, generalized from "OpenAI only" to a
// Quirks-parameterized helper plus streaming support the teacher's adapter
// lacked.
package openaichat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"agentcore/model"
	"agentcore/provider"
)

// providerOptions is the providerOptions entry keyed by this adapter's own
// Name() (so mistral/deepseek/ollama each read their own key): ServiceTier
// maps to OpenAI's service_tier chat-completions parameter. Everything else
// in the object is rejected or ignored per key below, since go-openai's
// ChatCompletionRequest has no generic extra-fields merge point the way the
// Stainless-generated SDKs do.
type providerOptions struct {
	ServiceTier string `json:"service_tier"`
}

// responsesOnlyToolKeys name built-in tool declarations that exist only on
// the Responses API surface (web/file search, code interpreter, computer
// use); a Chat-Completions-family adapter must reject them rather than
// silently drop them (spec.md §4.2).
var responsesOnlyToolKeys = []string{"web_search", "file_search", "code_interpreter", "computer_use"}

// Quirks captures the small behavioral differences between chat-completions
// compatible providers.
type Quirks struct {
	// Name is the provider id used for telemetry/ProviderOptions lookup.
	Name string

	// RejectBuiltinTools drops tool definitions the provider cannot accept
	// (e.g. some Ollama models reject function-calling entirely).
	RejectBuiltinTools bool

	// StringifyToolContent forces tool-result content to a JSON string even
	// when the provider would otherwise accept structured content.
	StringifyToolContent bool
}

// Options configures the adapter.
type Options struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	Quirks       Quirks
}

// ChatClient captures the subset of the go-openai client the adapter uses.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	CreateChatCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (*openai.ChatCompletionStream, error)
}

// Adapter implements provider.Adapter on top of the OpenAI Chat Completions
// wire format.
type Adapter struct {
	chat         ChatClient
	defaultModel string
	quirks       Quirks
}

// New builds an adapter from an injected client plus a Quirks preset.
func New(chat ChatClient, defaultModel string, quirks Quirks) (*Adapter, error) {
	if chat == nil {
		return nil, errors.New("openaichat: chat client is required")
	}
	if strings.TrimSpace(defaultModel) == "" {
		return nil, errors.New("openaichat: default model is required")
	}
	if quirks.Name == "" {
		quirks.Name = "openai-chat"
	}
	return &Adapter{chat: chat, defaultModel: defaultModel, quirks: quirks}, nil
}

// NewFromOptions constructs an adapter from API key/base URL options,
// mirroring the teacher's NewFromAPIKey constructors; mistral/deepseek/
// ollama adapters call this with their own BaseURL and Quirks preset.
func NewFromOptions(opts Options) (*Adapter, error) {
	if strings.TrimSpace(opts.APIKey) == "" && opts.BaseURL == "" {
		return nil, errors.New("openaichat: api key or base url is required")
	}
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	client := openai.NewClientWithConfig(cfg)
	return New(client, opts.DefaultModel, opts.Quirks)
}

// Name implements provider.Adapter.
func (a *Adapter) Name() string { return a.quirks.Name }

// Complete implements provider.Adapter.
func (a *Adapter) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	params, err := a.translateRequest(req)
	if err != nil {
		return nil, err
	}
	resp, err := a.chat.CreateChatCompletion(ctx, *params)
	if err != nil {
		return nil, TranslateError(a.quirks.Name, err)
	}
	return translateResponse(a.quirks.Name, resp), nil
}

// Stream implements provider.Adapter.
func (a *Adapter) Stream(ctx context.Context, req *model.Request) (model.Streamer, error) {
	params, err := a.translateRequest(req)
	if err != nil {
		return nil, err
	}
	params.Stream = true
	stream, err := a.chat.CreateChatCompletionStream(ctx, *params)
	if err != nil {
		return nil, TranslateError(a.quirks.Name, err)
	}
	return newStreamer(ctx, stream, a.quirks.Name), nil
}

// translateRequest converts a portable Request into a go-openai
// ChatCompletionRequest honoring the adapter's Quirks.
func (a *Adapter) translateRequest(req *model.Request) (*openai.ChatCompletionRequest, error) {
	if req == nil || len(req.Messages) == 0 {
		return nil, model.NewSdkError(model.ErrorCodeInvalidRequest, a.quirks.Name, "messages are required", 0, nil)
	}
	var opts providerOptions
	if err := provider.DecodeProviderOptions(req.ProviderOptions, a.quirks.Name, &opts); err != nil {
		return nil, err
	}
	if err := provider.RejectKeys(req.ProviderOptions, a.quirks.Name, responsesOnlyToolKeys...); err != nil {
		return nil, err
	}
	modelID := req.Model
	if modelID == "" {
		modelID = a.defaultModel
	}
	messages, err := encodeMessages(req.Messages, a.quirks)
	if err != nil {
		return nil, err
	}
	out := &openai.ChatCompletionRequest{
		Model:    modelID,
		Messages: messages,
	}
	if req.Temperature != nil {
		out.Temperature = *req.Temperature
	}
	if req.TopP != nil {
		out.TopP = *req.TopP
	}
	if req.MaxTokens > 0 {
		out.MaxTokens = req.MaxTokens
	}
	if len(req.StopSequences) > 0 {
		out.Stop = req.StopSequences
	}
	if !a.quirks.RejectBuiltinTools && len(req.Tools) > 0 {
		tools, err := encodeTools(req.Tools)
		if err != nil {
			return nil, err
		}
		out.Tools = tools
	}
	if req.ToolChoice != nil {
		tc, err := encodeToolChoice(req.ToolChoice)
		if err != nil {
			return nil, err
		}
		out.ToolChoice = tc
	}
	if opts.ServiceTier != "" {
		out.ServiceTier = opts.ServiceTier
	}
	return out, nil
}

func encodeMessages(msgs []*model.Message, quirks Quirks) ([]openai.ChatCompletionMessage, error) {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		if m == nil {
			continue
		}
		role := string(m.Role)
		var text strings.Builder
		var toolCalls []openai.ToolCall
		var toolCallID string
		for _, p := range m.Parts {
			switch v := p.(type) {
			case model.TextPart:
				text.WriteString(v.Text)
			case model.ToolCallPart:
				toolCalls = append(toolCalls, openai.ToolCall{
					ID:   v.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      v.Name,
						Arguments: string(v.Arguments),
					},
				})
			case model.ToolResultPart:
				role = string(model.ConversationRoleTool)
				toolCallID = v.ToolCallID
				text.WriteString(toolResultContent(v.Content, quirks.StringifyToolContent))
			case model.ImageURLPart:
				// Chat Completions compatible providers in this pack's scope
				// do not carry image content through — dropped on
				// translation — but a local path that does not exist is
				// still a caller error, not a silent no-op (spec.md §8).
				if _, _, _, err := provider.InlineLocalImage(quirks.Name, v.URL, v.MediaType); err != nil {
					return nil, err
				}
			case model.ImageDataPart, model.ThinkingPart, model.RedactedThinkingPart:
				// Dropped on translation; see above.
			}
		}
		msg := openai.ChatCompletionMessage{Role: role, Content: text.String()}
		if len(toolCalls) > 0 {
			msg.ToolCalls = toolCalls
			msg.Content = ""
		}
		if toolCallID != "" {
			msg.ToolCallID = toolCallID
		}
		out = append(out, msg)
	}
	if len(out) == 0 {
		return nil, model.NewSdkError(model.ErrorCodeInvalidRequest, quirks.Name, "at least one message is required", 0, nil)
	}
	return out, nil
}

// toolResultContent renders a tool result's JSON content as chat-message
// text. By default a result that is itself a bare JSON string (e.g. a tool
// that returned a string) is unwrapped to its plain text; StringifyToolContent
// (set for Mistral/DeepSeek, per their Quirks preset) keeps the content in
// its raw JSON-encoded form instead, since those providers expect the
// tool-result message body to always be a JSON-text blob, not the decoded
// string value.
func toolResultContent(raw json.RawMessage, stringify bool) string {
	if !stringify {
		var asString string
		if json.Unmarshal(raw, &asString) == nil {
			return asString
		}
	}
	return string(raw)
}

func encodeTools(defs []*model.ToolDefinition) ([]openai.Tool, error) {
	out := make([]openai.Tool, 0, len(defs))
	for _, def := range defs {
		if def == nil {
			continue
		}
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  json.RawMessage(def.InputSchema),
			},
		})
	}
	return out, nil
}

func encodeToolChoice(choice *model.ToolChoice) (any, error) {
	switch choice.Mode {
	case "", model.ToolChoiceModeAuto:
		return "auto", nil
	case model.ToolChoiceModeNone:
		return "none", nil
	case model.ToolChoiceModeRequired:
		return "required", nil
	case model.ToolChoiceModeTool:
		if choice.Name == "" {
			return nil, errors.New("openaichat: tool choice mode tool requires a name")
		}
		return openai.ToolChoice{Type: openai.ToolTypeFunction, Function: openai.ToolFunction{Name: choice.Name}}, nil
	default:
		return nil, fmt.Errorf("openaichat: unsupported tool choice mode %q", choice.Mode)
	}
}

func translateResponse(providerName string, resp openai.ChatCompletionResponse) *model.Response {
	out := &model.Response{ID: resp.ID, Model: resp.Model, Provider: providerName}
	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]
		var parts []model.Part
		if strings.TrimSpace(choice.Message.Content) != "" {
			parts = append(parts, model.TextPart{Text: choice.Message.Content})
		}
		for _, tc := range choice.Message.ToolCalls {
			parts = append(parts, model.ToolCallPart{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: json.RawMessage(tc.Function.Arguments),
				CallType:  "function",
			})
		}
		out.Message = model.Message{Role: model.ConversationRoleAssistant, Parts: parts}
		out.FinishReason = translateFinishReason(choice.FinishReason)
	}
	out.Usage = model.Usage{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		TotalTokens:  resp.Usage.TotalTokens,
	}
	return out
}

func translateFinishReason(reason openai.FinishReason) model.FinishReason {
	switch reason {
	case openai.FinishReasonStop:
		return model.FinishReasonStop
	case openai.FinishReasonLength:
		return model.FinishReasonMaxTokens
	case openai.FinishReasonToolCalls, openai.FinishReasonFunctionCall:
		return model.FinishReasonToolCalls
	case openai.FinishReasonContentFilter:
		return model.FinishReasonContentFilter
	default:
		return model.FinishReasonOther
	}
}
