// Package bedrock adapts the portable model.Request/Response/StreamEvent
// protocol to the Anthropic-family models served through AWS Bedrock
// Converse, via github.com/aws/aws-sdk-go-v2/service/bedrockruntime.
// Grounded on features/model/bedrock/{client.go,stream.go} from the teacher
// repo: the Converse/ConverseStream request shape, tool name sanitization
// (stricter [a-zA-Z0-9_-]{1,64} charset than Anthropic's own adapter), the
// per-request tool_use ID remapping for long/slash-bearing canonical IDs,
// and the Nova-model tool-cache-checkpoint restriction all carry over
// unchanged. The teacher's ledgerSource seam (which rehydrated transcript
// history from a Temporal workflow query by RunID) is dropped: this module's
// session package holds conversation history directly, so req.Messages is
// always already complete and no side-channel rehydration is needed.
package bedrock

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"agentcore/model"
	"agentcore/provider"
)

// providerOptions is the "bedrock" key of model.Request.ProviderOptions
// (spec.md §3/§4.2). CachePolicy mirrors the teacher's CacheOptions
// (AfterSystem/AfterTools): Bedrock exposes cache checkpoints as sibling
// CachePointBlock elements appended to the system/tool arrays, rather than a
// cache_control field on an existing block the way Anthropic's own API
// works (see provider/anthropic's applyAutoCache for that contrast).
type providerOptions struct {
	CachePolicy struct {
		AfterSystem bool `json:"after_system"`
		AfterTools  bool `json:"after_tools"`
	} `json:"cache_policy"`
}

// isNovaModel reports whether modelID names an Amazon Nova family model.
// Nova models do not support tool-level cache checkpoints.
func isNovaModel(modelID string) bool {
	return strings.HasPrefix(modelID, "amazon.nova-")
}

// RuntimeClient mirrors the subset of the AWS Bedrock runtime client the
// adapter needs, so callers can inject *bedrockruntime.Client or a fake.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// Options configures the Bedrock adapter.
type Options struct {
	// DefaultModel is the Bedrock model identifier used when a Request does
	// not specify Model (e.g. "anthropic.claude-3-5-sonnet-20241022-v2:0").
	DefaultModel string

	// MaxTokens is the default completion cap used when Request.MaxTokens is
	// zero or negative.
	MaxTokens int

	// Temperature is used when a Request does not specify Temperature.
	Temperature float32
}

// Adapter implements provider.Adapter on top of AWS Bedrock Converse.
type Adapter struct {
	runtime      RuntimeClient
	defaultModel string
	maxTok       int
	temp         float32
}

// New builds a Bedrock adapter from an injected runtime client.
func New(runtime RuntimeClient, opts Options) (*Adapter, error) {
	if runtime == nil {
		return nil, errors.New("bedrock: runtime client is required")
	}
	if strings.TrimSpace(opts.DefaultModel) == "" {
		return nil, errors.New("bedrock: default model is required")
	}
	return &Adapter{runtime: runtime, defaultModel: opts.DefaultModel, maxTok: opts.MaxTokens, temp: opts.Temperature}, nil
}

// Name implements provider.Adapter.
func (a *Adapter) Name() string { return "bedrock" }

// Complete implements provider.Adapter.
func (a *Adapter) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	parts, err := a.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	output, err := a.runtime.Converse(ctx, a.buildConverseInput(parts, req))
	if err != nil {
		return nil, TranslateError(err)
	}
	return translateResponse(output, parts.sanToCanon)
}

// Stream implements provider.Adapter.
func (a *Adapter) Stream(ctx context.Context, req *model.Request) (model.Streamer, error) {
	parts, err := a.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	out, err := a.runtime.ConverseStream(ctx, a.buildConverseStreamInput(parts, req))
	if err != nil {
		return nil, TranslateError(err)
	}
	stream := out.GetStream()
	if stream == nil {
		return nil, model.NewSdkError(model.ErrorCodeServer, "bedrock", "stream output missing event stream", 0, nil)
	}
	return newStreamer(ctx, stream, parts.sanToCanon), nil
}

type requestParts struct {
	modelID    string
	messages   []brtypes.Message
	system     []brtypes.SystemContentBlock
	toolConfig *brtypes.ToolConfiguration
	canonToSan map[string]string
	sanToCanon map[string]string
}

func (a *Adapter) prepareRequest(req *model.Request) (*requestParts, error) {
	if req == nil || len(req.Messages) == 0 {
		return nil, model.NewSdkError(model.ErrorCodeInvalidRequest, "bedrock", "messages are required", 0, nil)
	}
	var opts providerOptions
	if err := provider.DecodeProviderOptions(req.ProviderOptions, "bedrock", &opts); err != nil {
		return nil, err
	}
	modelID := req.Model
	if modelID == "" {
		modelID = a.defaultModel
	}
	if opts.CachePolicy.AfterTools && isNovaModel(modelID) {
		return nil, model.NewSdkError(model.ErrorCodeInvalidRequest, "bedrock",
			fmt.Sprintf("cache_policy.after_tools is not supported for Nova models (model=%s)", modelID), 0, nil)
	}
	toolConfig, canonToSan, sanToCanon, err := encodeTools(req.Tools, req.ToolChoice, opts.CachePolicy.AfterTools)
	if err != nil {
		return nil, err
	}
	if toolConfig == nil && messagesHaveToolBlocks(req.Messages) {
		return nil, model.NewSdkError(model.ErrorCodeInvalidRequest, "bedrock",
			"messages contain tool_use/tool_result but no tools provided in request", 0, nil)
	}
	messages, system, err := encodeMessages(req.Messages, canonToSan, opts.CachePolicy.AfterSystem)
	if err != nil {
		return nil, err
	}
	return &requestParts{
		modelID:    modelID,
		messages:   messages,
		system:     system,
		toolConfig: toolConfig,
		canonToSan: canonToSan,
		sanToCanon: sanToCanon,
	}, nil
}

func (a *Adapter) buildConverseInput(parts *requestParts, req *model.Request) *bedrockruntime.ConverseInput {
	input := &bedrockruntime.ConverseInput{ModelId: aws.String(parts.modelID), Messages: parts.messages}
	if len(parts.system) > 0 {
		input.System = parts.system
	}
	if parts.toolConfig != nil {
		input.ToolConfig = parts.toolConfig
	}
	if cfg := a.inferenceConfig(req); cfg != nil {
		input.InferenceConfig = cfg
	}
	return input
}

func (a *Adapter) buildConverseStreamInput(parts *requestParts, req *model.Request) *bedrockruntime.ConverseStreamInput {
	input := &bedrockruntime.ConverseStreamInput{ModelId: aws.String(parts.modelID), Messages: parts.messages}
	if len(parts.system) > 0 {
		input.System = parts.system
	}
	if parts.toolConfig != nil {
		input.ToolConfig = parts.toolConfig
	}
	if cfg := a.inferenceConfig(req); cfg != nil {
		input.InferenceConfig = cfg
	}
	return input
}

func (a *Adapter) inferenceConfig(req *model.Request) *brtypes.InferenceConfiguration {
	var cfg brtypes.InferenceConfiguration
	tokens := req.MaxTokens
	if tokens <= 0 {
		tokens = a.maxTok
	}
	if tokens > 0 {
		cfg.MaxTokens = aws.Int32(int32(tokens)) //nolint:gosec
	}
	temp := a.temp
	if req.Temperature != nil {
		temp = *req.Temperature
	}
	if temp > 0 {
		cfg.Temperature = aws.Float32(temp)
	}
	if cfg.MaxTokens == nil && cfg.Temperature == nil {
		return nil
	}
	return &cfg
}

func encodeMessages(msgs []*model.Message, nameMap map[string]string, cacheAfterSystem bool) ([]brtypes.Message, []brtypes.SystemContentBlock, error) {
	// toolUseIDFor maps canonical tool-call IDs (which may contain characters
	// Bedrock rejects) to provider-safe IDs, scoped to this single encode
	// pass, mirroring the teacher's toolUseIDMap.
	toolUseIDMap := make(map[string]string)
	nextToolUseID := 0
	toolUseIDFor := func(canonical string) string {
		if canonical == "" {
			return ""
		}
		if isProviderSafeToolUseID(canonical) {
			return canonical
		}
		if id, ok := toolUseIDMap[canonical]; ok {
			return id
		}
		nextToolUseID++
		id := fmt.Sprintf("t%d", nextToolUseID)
		toolUseIDMap[canonical] = id
		return id
	}

	conversation := make([]brtypes.Message, 0, len(msgs))
	system := make([]brtypes.SystemContentBlock, 0, len(msgs))
	for _, m := range msgs {
		if m == nil {
			continue
		}
		if m.Role == model.ConversationRoleSystem || m.Role == model.ConversationRoleDeveloper {
			for _, p := range m.Parts {
				if v, ok := p.(model.TextPart); ok && v.Text != "" {
					system = append(system, &brtypes.SystemContentBlockMemberText{Value: v.Text})
				}
			}
			continue
		}
		blocks := make([]brtypes.ContentBlock, 0, len(m.Parts))
		for _, part := range m.Parts {
			switch v := part.(type) {
			case model.ThinkingPart:
				if v.Text != "" && v.Signature != "" {
					blocks = append(blocks, &brtypes.ContentBlockMemberReasoningContent{
						Value: &brtypes.ReasoningContentBlockMemberReasoningText{
							Value: brtypes.ReasoningTextBlock{Text: aws.String(v.Text), Signature: aws.String(v.Signature)},
						},
					})
				}
			case model.RedactedThinkingPart:
				// Dropped on re-send: Bedrock's redacted reasoning block shape is
				// provider-specific opaque bytes we never captured on the way in.
			case model.TextPart:
				if v.Text != "" {
					blocks = append(blocks, &brtypes.ContentBlockMemberText{Value: v.Text})
				}
			case model.ToolCallPart:
				if v.Name == "" {
					return nil, nil, model.NewSdkError(model.ErrorCodeInvalidRequest, "bedrock", "tool call part missing name", 0, nil)
				}
				sanitized, ok := nameMap[v.Name]
				if !ok || sanitized == "" {
					return nil, nil, model.NewSdkError(model.ErrorCodeInvalidRequest, "bedrock",
						fmt.Sprintf("tool call references %q which is not in the current tool configuration", v.Name), 0, nil)
				}
				tb := brtypes.ToolUseBlock{Name: aws.String(sanitized)}
				if id := toolUseIDFor(v.ID); id != "" {
					tb.ToolUseId = aws.String(id)
				}
				tb.Input = toDocument(v.Arguments)
				blocks = append(blocks, &brtypes.ContentBlockMemberToolUse{Value: tb})
			case model.ToolResultPart:
				tr := brtypes.ToolResultBlock{}
				if id := toolUseIDFor(v.ToolCallID); id != "" {
					tr.ToolUseId = aws.String(id)
				}
				tr.Content = []brtypes.ToolResultContentBlock{&brtypes.ToolResultContentBlockMemberJson{Value: toDocument(v.Content)}}
				if v.IsError {
					tr.Status = brtypes.ToolResultStatusError
				}
				blocks = append(blocks, &brtypes.ContentBlockMemberToolResult{Value: tr})
			}
		}
		if len(blocks) == 0 {
			continue
		}
		role := brtypes.ConversationRoleAssistant
		if m.Role == model.ConversationRoleUser || m.Role == model.ConversationRoleTool {
			role = brtypes.ConversationRoleUser
		}
		conversation = append(conversation, brtypes.Message{Role: role, Content: blocks})
	}
	if len(conversation) == 0 {
		return nil, nil, model.NewSdkError(model.ErrorCodeInvalidRequest, "bedrock", "at least one user/assistant message is required", 0, nil)
	}
	if cacheAfterSystem && len(system) > 0 {
		system = append(system, &brtypes.SystemContentBlockMemberCachePoint{
			Value: brtypes.CachePointBlock{Type: brtypes.CachePointTypeDefault},
		})
	}
	return conversation, system, nil
}

func encodeTools(defs []*model.ToolDefinition, choice *model.ToolChoice, cacheAfterTools bool) (*brtypes.ToolConfiguration, map[string]string, map[string]string, error) {
	if len(defs) == 0 {
		if choice == nil || choice.Mode == model.ToolChoiceModeNone {
			return nil, nil, nil, nil
		}
		return nil, nil, nil, model.NewSdkError(model.ErrorCodeInvalidRequest, "bedrock", "tool choice is set but no tools are defined", 0, nil)
	}
	toolList := make([]brtypes.Tool, 0, len(defs))
	canonToSan := make(map[string]string, len(defs))
	sanToCanon := make(map[string]string, len(defs))
	for _, def := range defs {
		if def == nil || def.Name == "" {
			continue
		}
		sanitized := sanitizeToolName(def.Name)
		if prev, ok := sanToCanon[sanitized]; ok && prev != def.Name {
			return nil, nil, nil, model.NewSdkError(model.ErrorCodeInvalidRequest, "bedrock",
				fmt.Sprintf("tool name %q sanitizes to %q which collides with %q", def.Name, sanitized, prev), 0, nil)
		}
		sanToCanon[sanitized] = def.Name
		canonToSan[def.Name] = sanitized
		toolList = append(toolList, &brtypes.ToolMemberToolSpec{Value: brtypes.ToolSpecification{
			Name:        aws.String(sanitized),
			Description: aws.String(def.Description),
			InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: toDocument(def.InputSchema)},
		}})
	}
	if len(toolList) == 0 {
		return nil, nil, nil, nil
	}
	if cacheAfterTools {
		toolList = append(toolList, &brtypes.ToolMemberCachePoint{
			Value: brtypes.CachePointBlock{Type: brtypes.CachePointTypeDefault},
		})
	}
	cfg := &brtypes.ToolConfiguration{Tools: toolList}
	if choice == nil {
		return cfg, canonToSan, sanToCanon, nil
	}
	switch choice.Mode {
	case "", model.ToolChoiceModeAuto, model.ToolChoiceModeNone:
		// Auto is the provider default; None keeps the tool configuration
		// available for interpreting prior tool_use/tool_result content
		// without forcing a new call.
	case model.ToolChoiceModeRequired:
		cfg.ToolChoice = &brtypes.ToolChoiceMemberAny{Value: brtypes.AnyToolChoice{}}
	case model.ToolChoiceModeTool:
		if choice.Name == "" {
			return nil, nil, nil, model.NewSdkError(model.ErrorCodeInvalidRequest, "bedrock", "tool choice mode requires a tool name", 0, nil)
		}
		sanitized, ok := canonToSan[choice.Name]
		if !ok {
			return nil, nil, nil, model.NewSdkError(model.ErrorCodeInvalidRequest, "bedrock",
				fmt.Sprintf("tool choice name %q does not match any tool", choice.Name), 0, nil)
		}
		cfg.ToolChoice = &brtypes.ToolChoiceMemberTool{Value: brtypes.SpecificToolChoice{Name: aws.String(sanitized)}}
	default:
		return nil, nil, nil, model.NewSdkError(model.ErrorCodeInvalidRequest, "bedrock",
			fmt.Sprintf("unsupported tool choice mode %q", choice.Mode), 0, nil)
	}
	return cfg, canonToSan, sanToCanon, nil
}

// sanitizeToolName maps a canonical tool identifier to Bedrock's stricter
// [a-zA-Z0-9_-]{1,64} charset, truncating and appending a stable hash suffix
// when the mapped name would exceed 64 characters.
func sanitizeToolName(in string) string {
	if in == "" {
		return ""
	}
	const maxLen = 64
	const hashLen = 8
	out := make([]rune, 0, len(in))
	for _, r := range in {
		if r == '.' {
			r = '_'
		}
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	sanitized := string(out)
	if len(sanitized) <= maxLen {
		return sanitized
	}
	sum := sha256.Sum256([]byte(in))
	suffix := hex.EncodeToString(sum[:])[:hashLen]
	prefixLen := maxLen - (1 + hashLen)
	if prefixLen < 1 {
		prefixLen = 1
	}
	return sanitized[:prefixLen] + "_" + suffix
}

// isProviderSafeToolUseID reports whether id already conforms to Bedrock's
// toolUseId constraints, so canonical IDs that happen to already be safe
// (most are) pass through unchanged rather than being remapped.
func isProviderSafeToolUseID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}

func toDocument(raw json.RawMessage) document.Interface {
	if len(raw) == 0 {
		m := map[string]any{"type": "object"}
		return document.NewLazyDocument(&m)
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		m := map[string]any{"type": "object"}
		return document.NewLazyDocument(&m)
	}
	return document.NewLazyDocument(&decoded)
}

func decodeDocument(doc document.Interface) json.RawMessage {
	if doc == nil {
		return nil
	}
	data, err := doc.MarshalSmithyDocument()
	if err != nil || len(data) == 0 {
		return nil
	}
	return json.RawMessage(data)
}

func messagesHaveToolBlocks(msgs []*model.Message) bool {
	for _, m := range msgs {
		if m == nil {
			continue
		}
		for _, p := range m.Parts {
			switch p.(type) {
			case model.ToolCallPart, model.ToolResultPart:
				return true
			}
		}
	}
	return false
}

func normalizeToolName(name string) string {
	return strings.TrimPrefix(name, "$FUNCTIONS.")
}

func translateResponse(output *bedrockruntime.ConverseOutput, nameMap map[string]string) (*model.Response, error) {
	if output == nil {
		return nil, model.NewSdkError(model.ErrorCodeServer, "bedrock", "response is nil", 0, nil)
	}
	out := &model.Response{Provider: "bedrock"}
	var parts []model.Part
	if msg, ok := output.Output.(*brtypes.ConverseOutputMemberMessage); ok {
		for _, block := range msg.Value.Content {
			switch v := block.(type) {
			case *brtypes.ContentBlockMemberText:
				if v.Value != "" {
					parts = append(parts, model.TextPart{Text: v.Value})
				}
			case *brtypes.ContentBlockMemberReasoningContent:
				if rt, ok := v.Value.(*brtypes.ReasoningContentBlockMemberReasoningText); ok {
					text, sig := "", ""
					if rt.Value.Text != nil {
						text = *rt.Value.Text
					}
					if rt.Value.Signature != nil {
						sig = *rt.Value.Signature
					}
					if text != "" {
						parts = append(parts, model.ThinkingPart{Text: text, Signature: sig})
					}
				}
			case *brtypes.ContentBlockMemberToolUse:
				name := ""
				if v.Value.Name != nil {
					raw := normalizeToolName(*v.Value.Name)
					canonical, ok := nameMap[raw]
					if !ok {
						return nil, model.NewSdkError(model.ErrorCodeServer, "bedrock",
							fmt.Sprintf("tool name %q not in reverse map", raw), 0, nil)
					}
					name = canonical
				}
				id := ""
				if v.Value.ToolUseId != nil {
					id = *v.Value.ToolUseId
				}
				parts = append(parts, model.ToolCallPart{ID: id, Name: name, Arguments: decodeDocument(v.Value.Input), CallType: "function"})
			}
		}
	}
	out.Message = model.Message{Role: model.ConversationRoleAssistant, Parts: parts}
	if usage := output.Usage; usage != nil {
		out.Usage = model.Usage{
			InputTokens:  int(ptrValue(usage.InputTokens)),
			OutputTokens: int(ptrValue(usage.OutputTokens)),
			TotalTokens:  int(ptrValue(usage.TotalTokens)),
		}
		if v := int(ptrValue(usage.CacheReadInputTokens)); v > 0 {
			out.Usage.CacheReadTokens = &v
		}
		if v := int(ptrValue(usage.CacheWriteInputTokens)); v > 0 {
			out.Usage.CacheWriteTokens = &v
		}
	}
	out.FinishReason = translateStopReason(output.StopReason)
	return out, nil
}

func translateStopReason(reason brtypes.StopReason) model.FinishReason {
	switch reason {
	case brtypes.StopReasonEndTurn, brtypes.StopReasonStopSequence:
		return model.FinishReasonStop
	case brtypes.StopReasonMaxTokens:
		return model.FinishReasonMaxTokens
	case brtypes.StopReasonToolUse:
		return model.FinishReasonToolCalls
	case brtypes.StopReasonContentFiltered:
		return model.FinishReasonContentFilter
	default:
		return model.FinishReasonOther
	}
}

func ptrValue[T ~int32 | ~int64](ptr *T) T {
	if ptr == nil {
		return 0
	}
	return *ptr
}
