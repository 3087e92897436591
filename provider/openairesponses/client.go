// Package openairesponses adapts the portable protocol to OpenAI's Responses
// API via github.com/openai/openai-go. The teacher repo declares this SDK as
// a direct dependency but never exercises it from any checked-in adapter;
// this package is the first to wire it up, following the shape SPEC_FULL.md
// §4.2 names: Instructions + Input union items (message / function_call /
// function_call_output), consuming response.output_text.delta,
// response.output_item.done, and response.completed SSE events. Structured
// the same way as provider/anthropic (MessagesClient-style injected seam,
// pure translate functions) for consistency across adapters in this pack.
package openairesponses

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/openai/openai-go/responses"

	"agentcore/model"
	"agentcore/provider"
)

// providerOptions is the "openai-responses" key of model.Request.ProviderOptions
// (spec.md §3/§4.2): ServiceTier and PromptCacheKey map directly onto
// ResponseNewParams fields of the same concern; anything else is merged
// into the request body via ResponseNewParams' extra-fields escape hatch.
type providerOptions struct {
	ServiceTier    string `json:"service_tier"`
	PromptCacheKey string `json:"prompt_cache_key"`
}

var recognisedProviderOptionKeys = []string{"service_tier", "prompt_cache_key"}

// ResponsesClient captures the subset of the openai-go client the adapter
// uses, so tests can inject a fake in place of the real client.Responses
// service.
type ResponsesClient interface {
	New(ctx context.Context, body responses.ResponseNewParams, opts ...option.RequestOption) (*responses.Response, error)
	NewStreaming(ctx context.Context, body responses.ResponseNewParams, opts ...option.RequestOption) *ssestream.Stream[responses.ResponseStreamEventUnion]
}

// Adapter implements provider.Adapter on top of the OpenAI Responses API.
type Adapter struct {
	resp         ResponsesClient
	defaultModel string
}

// New builds an adapter from an injected Responses client.
func New(resp ResponsesClient, defaultModel string) (*Adapter, error) {
	if resp == nil {
		return nil, errors.New("openairesponses: responses client is required")
	}
	if strings.TrimSpace(defaultModel) == "" {
		return nil, errors.New("openairesponses: default model is required")
	}
	return &Adapter{resp: resp, defaultModel: defaultModel}, nil
}

// NewFromAPIKey constructs an adapter using the default openai-go HTTP client.
func NewFromAPIKey(apiKey, defaultModel string) (*Adapter, error) {
	if apiKey == "" {
		return nil, errors.New("openairesponses: api key is required")
	}
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return New(client.Responses, defaultModel)
}

// Name implements provider.Adapter.
func (a *Adapter) Name() string { return "openai-responses" }

// Complete implements provider.Adapter.
func (a *Adapter) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	params, err := a.translateRequest(req)
	if err != nil {
		return nil, err
	}
	resp, err := a.resp.New(ctx, *params)
	if err != nil {
		return nil, TranslateError(err)
	}
	return translateResponse(resp), nil
}

// Stream implements provider.Adapter.
func (a *Adapter) Stream(ctx context.Context, req *model.Request) (model.Streamer, error) {
	params, err := a.translateRequest(req)
	if err != nil {
		return nil, err
	}
	stream := a.resp.NewStreaming(ctx, *params)
	if err := stream.Err(); err != nil {
		return nil, TranslateError(err)
	}
	return newStreamer(ctx, stream), nil
}

func (a *Adapter) translateRequest(req *model.Request) (*responses.ResponseNewParams, error) {
	if req == nil || len(req.Messages) == 0 {
		return nil, model.NewSdkError(model.ErrorCodeInvalidRequest, "openai-responses", "messages are required", 0, nil)
	}
	var opts providerOptions
	if err := provider.DecodeProviderOptions(req.ProviderOptions, "openai-responses", &opts); err != nil {
		return nil, err
	}
	extra, err := provider.RemainingProviderOptions(req.ProviderOptions, "openai-responses", recognisedProviderOptionKeys...)
	if err != nil {
		return nil, err
	}
	modelID := req.Model
	if modelID == "" {
		modelID = a.defaultModel
	}
	items, instructions, err := encodeInput(req.Messages)
	if err != nil {
		return nil, err
	}
	params := &responses.ResponseNewParams{
		Model: openai.ChatModel(modelID),
		Input: responses.ResponseNewParamsInputUnion{OfInputItemList: items},
	}
	if instructions != "" {
		params.Instructions = openai.String(instructions)
	}
	if req.MaxTokens > 0 {
		params.MaxOutputTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(float64(*req.Temperature))
	}
	if req.TopP != nil {
		params.TopP = openai.Float(float64(*req.TopP))
	}
	if len(req.Tools) > 0 {
		params.Tools = encodeTools(req.Tools)
	}
	if opts.ServiceTier != "" {
		params.ServiceTier = responses.ResponseNewParamsServiceTier(opts.ServiceTier)
	}
	if opts.PromptCacheKey != "" {
		params.PromptCacheKey = openai.String(opts.PromptCacheKey)
	}
	if extra != nil {
		params.ExtraFields = extra
	}
	return params, nil
}

func encodeInput(msgs []*model.Message) (responses.ResponseInputParam, string, error) {
	var items responses.ResponseInputParam
	var instructions strings.Builder

	for _, m := range msgs {
		if m == nil {
			continue
		}
		if m.Role == model.ConversationRoleSystem || m.Role == model.ConversationRoleDeveloper {
			for _, p := range m.Parts {
				if v, ok := p.(model.TextPart); ok {
					if instructions.Len() > 0 {
						instructions.WriteString("\n")
					}
					instructions.WriteString(v.Text)
				}
			}
			continue
		}
		for _, part := range m.Parts {
			switch v := part.(type) {
			case model.TextPart:
				if v.Text == "" {
					continue
				}
				role := responses.EasyInputMessageRoleUser
				if m.Role == model.ConversationRoleAssistant {
					role = responses.EasyInputMessageRoleAssistant
				}
				items = append(items, responses.ResponseInputItemParamOfMessage(v.Text, role))
			case model.ToolCallPart:
				items = append(items, responses.ResponseInputItemParamOfFunctionCall(string(v.Arguments), v.ID, v.Name))
			case model.ToolResultPart:
				items = append(items, responses.ResponseInputItemParamOfFunctionCallOutput(v.ToolCallID, string(v.Content)))
			case model.ImageURLPart:
				// Image content is not carried through by this adapter yet,
				// but a local path that does not exist is still a caller
				// error, not a silent no-op (spec.md §8).
				if _, _, _, err := provider.InlineLocalImage("openai-responses", v.URL, v.MediaType); err != nil {
					return nil, "", err
				}
			}
		}
	}
	if len(items) == 0 {
		return nil, "", model.NewSdkError(model.ErrorCodeInvalidRequest, "openai-responses", "at least one input item is required", 0, nil)
	}
	return items, strings.TrimSpace(instructions.String()), nil
}

func encodeTools(defs []*model.ToolDefinition) []responses.ToolUnionParam {
	out := make([]responses.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		if def == nil {
			continue
		}
		var params map[string]any
		if len(def.InputSchema) > 0 {
			_ = json.Unmarshal(def.InputSchema, &params)
		}
		out = append(out, responses.ToolParamOfFunction(def.Name, params, false))
	}
	return out
}

func translateResponse(resp *responses.Response) *model.Response {
	out := &model.Response{ID: resp.ID, Model: string(resp.Model), Provider: "openai-responses"}
	var parts []model.Part
	for _, item := range resp.Output {
		switch v := item.AsAny().(type) {
		case responses.ResponseOutputMessage:
			for _, c := range v.Content {
				if text := c.AsAny(); text != nil {
					if t, ok := text.(responses.ResponseOutputText); ok && t.Text != "" {
						parts = append(parts, model.TextPart{Text: t.Text})
					}
				}
			}
		case responses.ResponseFunctionToolCall:
			parts = append(parts, model.ToolCallPart{
				ID:        v.CallID,
				Name:      v.Name,
				Arguments: json.RawMessage(v.Arguments),
				CallType:  "function",
			})
		}
	}
	out.Message = model.Message{Role: model.ConversationRoleAssistant, Parts: parts}
	out.Usage = model.Usage{
		InputTokens:  int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
		TotalTokens:  int(resp.Usage.TotalTokens),
	}
	out.FinishReason = model.FinishReasonStop
	if hasToolCall(parts) {
		out.FinishReason = model.FinishReasonToolCalls
	}
	return out
}

func hasToolCall(parts []model.Part) bool {
	for _, p := range parts {
		if _, ok := p.(model.ToolCallPart); ok {
			return true
		}
	}
	return false
}
