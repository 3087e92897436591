// Package anthropic adapts the portable model.Request/Response/StreamEvent
// protocol to the Anthropic Claude Messages API via
// github.com/anthropics/anthropic-sdk-go. Grounded on
// features/model/anthropic/{client.go,stream.go} from the teacher repo,
// generalized from the teacher's tools.ToolUsePart/Input naming to this
// module's model.ToolCallPart/Arguments sum-type idiom and from a
// model.Streamer/model.Chunk pair to the portable model.StreamEvent grammar.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"agentcore/model"
	"agentcore/provider"
)

// providerOptions is the anthropic key of model.Request.ProviderOptions,
// decoded per spec.md's providerOptions contract (§3/§4.2). AutoCache
// defaults true when absent; BetaHeaders are joined onto the anthropic-beta
// request header. Anything else in the object is merged into the request
// body's extra fields.
type providerOptions struct {
	AutoCache   *bool    `json:"auto_cache"`
	BetaHeaders []string `json:"beta_headers"`
}

var recognisedProviderOptionKeys = []string{"auto_cache", "beta_headers"}

// MessagesClient captures the subset of the Anthropic SDK client the adapter
// uses, so tests can inject a fake in place of *sdk.MessageService.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// Options configures the Anthropic adapter.
type Options struct {
	// DefaultModel is used when a Request does not specify Model.
	DefaultModel string

	// MaxTokens is the default completion cap used when Request.MaxTokens is
	// zero.
	MaxTokens int
}

// Adapter implements provider.Adapter on top of Anthropic Claude Messages.
type Adapter struct {
	msg          MessagesClient
	defaultModel string
	maxTok       int
}

// New builds an Anthropic adapter from an injected Messages client.
func New(msg MessagesClient, opts Options) (*Adapter, error) {
	if msg == nil {
		return nil, errors.New("anthropic: messages client is required")
	}
	if strings.TrimSpace(opts.DefaultModel) == "" {
		return nil, errors.New("anthropic: default model is required")
	}
	return &Adapter{msg: msg, defaultModel: opts.DefaultModel, maxTok: opts.MaxTokens}, nil
}

// NewFromAPIKey constructs an adapter using the default Anthropic HTTP
// client authenticated with the given apiKey.
func NewFromAPIKey(apiKey, defaultModel string) (*Adapter, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&ac.Messages, Options{DefaultModel: defaultModel})
}

// Name implements provider.Adapter.
func (a *Adapter) Name() string { return "anthropic" }

// Complete implements provider.Adapter.
func (a *Adapter) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	params, nameMap, reqOpts, err := a.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	msg, err := a.msg.New(ctx, *params, reqOpts...)
	if err != nil {
		return nil, TranslateError(err)
	}
	return translateResponse(msg, nameMap)
}

// Stream implements provider.Adapter.
func (a *Adapter) Stream(ctx context.Context, req *model.Request) (model.Streamer, error) {
	params, nameMap, reqOpts, err := a.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	stream := a.msg.NewStreaming(ctx, *params, reqOpts...)
	if err := stream.Err(); err != nil {
		return nil, TranslateError(err)
	}
	return newStreamer(ctx, stream, nameMap), nil
}

func (a *Adapter) prepareRequest(req *model.Request) (*sdk.MessageNewParams, map[string]string, []option.RequestOption, error) {
	if req == nil || len(req.Messages) == 0 {
		return nil, nil, nil, model.NewSdkError(model.ErrorCodeInvalidRequest, "anthropic", "messages are required", 0, nil)
	}
	var opts providerOptions
	if err := provider.DecodeProviderOptions(req.ProviderOptions, "anthropic", &opts); err != nil {
		return nil, nil, nil, err
	}
	extra, err := provider.RemainingProviderOptions(req.ProviderOptions, "anthropic", recognisedProviderOptionKeys...)
	if err != nil {
		return nil, nil, nil, err
	}
	modelID := req.Model
	if modelID == "" {
		modelID = a.defaultModel
	}
	toolParams, canonToSan, sanToCanon, err := encodeTools(req.Tools)
	if err != nil {
		return nil, nil, nil, err
	}
	msgs, system, err := encodeMessages(req.Messages, canonToSan)
	if err != nil {
		return nil, nil, nil, err
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = a.maxTok
	}
	if maxTokens <= 0 {
		return nil, nil, nil, model.NewSdkError(model.ErrorCodeInvalidRequest, "anthropic", "max_tokens must be positive", 0, nil)
	}
	params := sdk.MessageNewParams{
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
		Model:     sdk.Model(modelID),
	}
	if len(system) > 0 {
		params.System = system
	}
	if len(toolParams) > 0 {
		params.Tools = toolParams
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(float64(*req.Temperature))
	}
	if req.TopP != nil {
		params.TopP = sdk.Float(float64(*req.TopP))
	}
	if len(req.StopSequences) > 0 {
		params.StopSequences = req.StopSequences
	}
	if req.ToolChoice != nil {
		tc, err := encodeToolChoice(req.ToolChoice, canonToSan, req.Tools)
		if err != nil {
			return nil, nil, nil, err
		}
		params.ToolChoice = tc
	}
	if extra != nil {
		params.ExtraFields = extra
	}

	autoCache := opts.AutoCache == nil || *opts.AutoCache
	if autoCache {
		applyAutoCache(params.System, params.Tools, params.Messages)
	}

	var reqOpts []option.RequestOption
	if len(opts.BetaHeaders) > 0 {
		reqOpts = append(reqOpts, option.WithHeader("anthropic-beta", strings.Join(opts.BetaHeaders, ",")))
	}

	return &params, sanToCanon, reqOpts, nil
}

// applyAutoCache implements spec.md's "auto_cache injects cache_control on
// exactly three positions" boundary behaviour: the last system block, the
// last tool definition, and the last content block of the second-to-last
// message (the conversation-prefix boundary). The newest message — the
// current turn — never carries a marker, since it is not yet part of any
// cacheable prefix.
func applyAutoCache(system []sdk.TextBlockParam, tools []sdk.ToolUnionParam, messages []sdk.MessageParam) {
	if n := len(system); n > 0 {
		system[n-1].CacheControl = sdk.NewCacheControlEphemeralParam()
	}
	for i := len(tools) - 1; i >= 0; i-- {
		if tools[i].OfTool != nil {
			tools[i].OfTool.CacheControl = sdk.NewCacheControlEphemeralParam()
			break
		}
	}
	if len(messages) < 2 {
		return
	}
	prefixBoundary := messages[len(messages)-2].Content
	if n := len(prefixBoundary); n > 0 {
		setBlockCacheControl(&prefixBoundary[n-1])
	}
}

// setBlockCacheControl marks the one populated variant of a
// ContentBlockParamUnion with an ephemeral cache checkpoint. Thinking and
// redacted-thinking blocks do not support cache_control and are left alone.
func setBlockCacheControl(b *sdk.ContentBlockParamUnion) {
	cc := sdk.NewCacheControlEphemeralParam()
	switch {
	case b.OfText != nil:
		b.OfText.CacheControl = cc
	case b.OfImage != nil:
		b.OfImage.CacheControl = cc
	case b.OfToolUse != nil:
		b.OfToolUse.CacheControl = cc
	case b.OfToolResult != nil:
		b.OfToolResult.CacheControl = cc
	}
}

func encodeMessages(msgs []*model.Message, canonToSan map[string]string) ([]sdk.MessageParam, []sdk.TextBlockParam, error) {
	conversation := make([]sdk.MessageParam, 0, len(msgs))
	system := make([]sdk.TextBlockParam, 0, len(msgs))

	for _, m := range msgs {
		if m == nil {
			continue
		}
		if m.Role == model.ConversationRoleSystem || m.Role == model.ConversationRoleDeveloper {
			for _, p := range m.Parts {
				if v, ok := p.(model.TextPart); ok && v.Text != "" {
					system = append(system, sdk.TextBlockParam{Text: v.Text})
				}
			}
			continue
		}

		blocks := make([]sdk.ContentBlockParamUnion, 0, len(m.Parts))
		for _, part := range m.Parts {
			switch v := part.(type) {
			case model.TextPart:
				if v.Text != "" {
					blocks = append(blocks, sdk.NewTextBlock(v.Text))
				}
			case model.ThinkingPart:
				if v.Text != "" && v.Signature != "" {
					blocks = append(blocks, sdk.ContentBlockParamUnion{
						OfThinking: &sdk.ThinkingBlockParam{Thinking: v.Text, Signature: v.Signature},
					})
				}
			case model.RedactedThinkingPart:
				// Redacted bytes are not re-encodable without the provider's
				// original block shape; dropped on re-send, matching the
				// teacher's "provider-specific, not re-encoded" note.
			case model.ImageDataPart:
				if v.Base64 != "" {
					blocks = append(blocks, sdk.NewImageBlockBase64(v.MediaType, v.Base64))
				}
			case model.ImageURLPart:
				block, err := encodeImageURL(v)
				if err != nil {
					return nil, nil, err
				}
				blocks = append(blocks, block)
			case model.ToolCallPart:
				if v.Name == "" {
					return nil, nil, model.NewSdkError(model.ErrorCodeInvalidRequest, "anthropic", "tool call part missing name", 0, nil)
				}
				sanitized, ok := canonToSan[v.Name]
				if !ok || sanitized == "" {
					sanitized = sanitizeToolName(v.Name)
				}
				var args any = json.RawMessage(v.Arguments)
				blocks = append(blocks, sdk.NewToolUseBlock(v.ID, args, sanitized))
			case model.ToolResultPart:
				blocks = append(blocks, encodeToolResult(v))
			}
		}
		if len(blocks) == 0 {
			continue
		}
		switch m.Role { //nolint:exhaustive
		case model.ConversationRoleUser, model.ConversationRoleTool:
			conversation = append(conversation, sdk.NewUserMessage(blocks...))
		case model.ConversationRoleAssistant:
			conversation = append(conversation, sdk.NewAssistantMessage(blocks...))
		default:
			return nil, nil, model.NewSdkError(model.ErrorCodeInvalidRequest, "anthropic", fmt.Sprintf("unsupported message role %q", m.Role), 0, nil)
		}
	}
	if len(conversation) == 0 {
		return nil, nil, model.NewSdkError(model.ErrorCodeInvalidRequest, "anthropic", "at least one user/assistant message is required", 0, nil)
	}
	return conversation, system, nil
}

// encodeImageURL resolves an ImageURLPart to an Anthropic image block.
// Anthropic cannot fetch local filesystem paths itself, so per
// model.ImageURLPart's own contract ("adapters that cannot address images
// by URL inline the bytes themselves") a local path is read and inlined as
// base64; a remote URL or data URI is passed through as a URL source.
func encodeImageURL(v model.ImageURLPart) (sdk.ContentBlockParamUnion, error) {
	b64, mediaType, inlined, err := provider.EncodeLocalImageBase64("anthropic", v.URL, v.MediaType)
	if err != nil {
		return sdk.ContentBlockParamUnion{}, err
	}
	if inlined {
		return sdk.NewImageBlockBase64(mediaType, b64), nil
	}
	return sdk.NewImageBlock(sdk.ImageBlockParamSourceUnion{OfURL: &sdk.URLImageSourceParam{URL: v.URL}}), nil
}

func encodeToolResult(v model.ToolResultPart) sdk.ContentBlockParamUnion {
	content := string(v.Content)
	if len(v.ImageData) > 0 {
		// NewToolResultBlock takes only a string, so ImageData and
		// ImageMediaType are not encoded: the tool_result block carries the
		// textual Content alone.
		_ = v.ImageMediaType
	}
	return sdk.NewToolResultBlock(v.ToolCallID, content, v.IsError)
}

func encodeTools(defs []*model.ToolDefinition) ([]sdk.ToolUnionParam, map[string]string, map[string]string, error) {
	if len(defs) == 0 {
		return nil, nil, nil, nil
	}
	out := make([]sdk.ToolUnionParam, 0, len(defs))
	canonToSan := make(map[string]string, len(defs))
	sanToCanon := make(map[string]string, len(defs))
	for _, def := range defs {
		if def == nil || def.Name == "" {
			continue
		}
		sanitized := sanitizeToolName(def.Name)
		if prev, ok := sanToCanon[sanitized]; ok && prev != def.Name {
			return nil, nil, nil, model.NewSdkError(model.ErrorCodeInvalidRequest, "anthropic",
				fmt.Sprintf("tool name %q sanitizes to %q which collides with %q", def.Name, sanitized, prev), 0, nil)
		}
		sanToCanon[sanitized] = def.Name
		canonToSan[def.Name] = sanitized
		schema, err := toolInputSchema(def.InputSchema)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("anthropic: tool %q schema: %w", def.Name, err)
		}
		u := sdk.ToolUnionParamOfTool(schema, sanitized)
		if u.OfTool != nil {
			u.OfTool.Description = sdk.String(def.Description)
		}
		out = append(out, u)
	}
	return out, canonToSan, sanToCanon, nil
}

func toolInputSchema(raw json.RawMessage) (sdk.ToolInputSchemaParam, error) {
	if len(raw) == 0 {
		return sdk.ToolInputSchemaParam{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return sdk.ToolInputSchemaParam{}, err
	}
	return sdk.ToolInputSchemaParam{ExtraFields: m}, nil
}

func encodeToolChoice(choice *model.ToolChoice, canonToSan map[string]string, defs []*model.ToolDefinition) (sdk.ToolChoiceUnionParam, error) {
	switch choice.Mode {
	case "", model.ToolChoiceModeAuto:
		return sdk.ToolChoiceUnionParam{}, nil
	case model.ToolChoiceModeNone:
		none := sdk.NewToolChoiceNoneParam()
		return sdk.ToolChoiceUnionParam{OfNone: &none}, nil
	case model.ToolChoiceModeRequired:
		return sdk.ToolChoiceUnionParam{OfAny: &sdk.ToolChoiceAnyParam{}}, nil
	case model.ToolChoiceModeTool:
		if choice.Name == "" || !hasToolDefinition(defs, choice.Name) {
			return sdk.ToolChoiceUnionParam{}, model.NewSdkError(model.ErrorCodeInvalidRequest, "anthropic",
				fmt.Sprintf("tool choice name %q does not match any tool", choice.Name), 0, nil)
		}
		sanitized := canonToSan[choice.Name]
		return sdk.ToolChoiceParamOfTool(sanitized), nil
	default:
		return sdk.ToolChoiceUnionParam{}, model.NewSdkError(model.ErrorCodeInvalidRequest, "anthropic",
			fmt.Sprintf("unsupported tool choice mode %q", choice.Mode), 0, nil)
	}
}

func hasToolDefinition(defs []*model.ToolDefinition, name string) bool {
	for _, def := range defs {
		if def != nil && def.Name == name {
			return true
		}
	}
	return false
}

// sanitizeToolName maps a tool identifier to the character set Anthropic
// accepts, replacing any disallowed rune with '_'.
func sanitizeToolName(in string) string {
	if isProviderSafeToolName(in) {
		return in
	}
	out := make([]rune, 0, len(in))
	for _, r := range in {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			out = append(out, r)
		} else {
			out = append(out, '_')
		}
	}
	return string(out)
}

func isProviderSafeToolName(name string) bool {
	if name == "" || len(name) > 64 {
		return false
	}
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			continue
		}
		return false
	}
	return true
}

func translateResponse(msg *sdk.Message, nameMap map[string]string) (*model.Response, error) {
	if msg == nil {
		return nil, model.NewSdkError(model.ErrorCodeServer, "anthropic", "response message is nil", 0, nil)
	}
	out := &model.Response{ID: msg.ID, Model: string(msg.Model), Provider: "anthropic"}
	var parts []model.Part
	for _, block := range msg.Content {
		switch v := block.AsAny().(type) {
		case sdk.TextBlock:
			if v.Text != "" {
				parts = append(parts, model.TextPart{Text: v.Text})
			}
		case sdk.ThinkingBlock:
			if v.Thinking != "" {
				parts = append(parts, model.ThinkingPart{Text: v.Thinking, Signature: v.Signature})
			}
		case sdk.RedactedThinkingBlock:
			parts = append(parts, model.RedactedThinkingPart{Text: v.Data})
		case sdk.ToolUseBlock:
			name := v.Name
			if canonical, ok := nameMap[v.Name]; ok {
				name = canonical
			}
			parts = append(parts, model.ToolCallPart{
				ID:        v.ID,
				Name:      name,
				Arguments: json.RawMessage(v.Input),
				CallType:  "function",
			})
		}
	}
	out.Message = model.Message{Role: model.ConversationRoleAssistant, Parts: parts}
	out.Usage = model.Usage{
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
		TotalTokens:  int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
	}
	if v := int(msg.Usage.CacheReadInputTokens); v > 0 {
		out.Usage.CacheReadTokens = &v
	}
	if v := int(msg.Usage.CacheCreationInputTokens); v > 0 {
		out.Usage.CacheWriteTokens = &v
	}
	out.FinishReason = translateStopReason(msg.StopReason)
	return out, nil
}

func translateStopReason(reason sdk.StopReason) model.FinishReason {
	switch reason {
	case sdk.StopReasonEndTurn, sdk.StopReasonStopSequence:
		return model.FinishReasonStop
	case sdk.StopReasonMaxTokens:
		return model.FinishReasonMaxTokens
	case sdk.StopReasonToolUse:
		return model.FinishReasonToolCalls
	default:
		return model.FinishReasonOther
	}
}
