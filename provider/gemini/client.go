// Package gemini adapts the portable protocol to Google's Gemini API via
// google.golang.org/genai. Grounded on
// haasonsaas-nexus/internal/agent/providers/google.go (convertMessages,
// buildConfig, getToolNameFromID, generateToolCallID), generalized from that
// file's internal agent.CompletionRequest/Chunk shapes to this module's
// model.Request/StreamEvent protocol and from its channel-based Complete to
// the Adapter.Complete/Stream split every other adapter in this pack uses.
package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"google.golang.org/genai"

	"agentcore/model"
	"agentcore/provider"
)

// providerOptions is the gemini key of model.Request.ProviderOptions
// (spec.md §3/§4.2): SafetySettings pass through to
// GenerateContentConfig.SafetySettings verbatim. genai.GenerateContentConfig
// has no generic extra-fields escape hatch, so unrecognised keys cannot be
// merged into the wire body the way the Anthropic/OpenAI adapters do; they
// are simply left unconsumed.
type providerOptions struct {
	SafetySettings []*genai.SafetySetting `json:"safety_settings"`
}

// Adapter implements provider.Adapter on top of google.golang.org/genai.
type Adapter struct {
	client       *genai.Client
	defaultModel string
	callSeq      atomic.Int64
}

// New builds a Gemini adapter backed by an API key.
func New(ctx context.Context, apiKey, defaultModel string) (*Adapter, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: api key is required")
	}
	if strings.TrimSpace(defaultModel) == "" {
		return nil, errors.New("gemini: default model is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &Adapter{client: client, defaultModel: defaultModel}, nil
}

// Name implements provider.Adapter.
func (a *Adapter) Name() string { return "gemini" }

// Complete implements provider.Adapter.
func (a *Adapter) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	modelID, contents, config, err := a.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.Models.GenerateContent(ctx, modelID, contents, config)
	if err != nil {
		return nil, TranslateError(err)
	}
	return translateResponse(modelID, resp, a.nextCallID), nil
}

// Stream implements provider.Adapter.
func (a *Adapter) Stream(ctx context.Context, req *model.Request) (model.Streamer, error) {
	modelID, contents, config, err := a.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	iterSeq := a.client.Models.GenerateContentStream(ctx, modelID, contents, config)
	return newStreamer(ctx, modelID, iterSeq, a.nextCallID), nil
}

func (a *Adapter) nextCallID(name string) string {
	return fmt.Sprintf("call_%s_%d", name, a.callSeq.Add(1))
}

func (a *Adapter) prepareRequest(req *model.Request) (string, []*genai.Content, *genai.GenerateContentConfig, error) {
	if req == nil || len(req.Messages) == 0 {
		return "", nil, nil, model.NewSdkError(model.ErrorCodeInvalidRequest, "gemini", "messages are required", 0, nil)
	}
	var opts providerOptions
	if err := provider.DecodeProviderOptions(req.ProviderOptions, "gemini", &opts); err != nil {
		return "", nil, nil, err
	}
	modelID := req.Model
	if modelID == "" {
		modelID = a.defaultModel
	}
	contents, system, toolIDToName, err := convertMessages(req.Messages)
	if err != nil {
		return "", nil, nil, err
	}
	config := &genai.GenerateContentConfig{}
	if len(opts.SafetySettings) > 0 {
		config.SafetySettings = opts.SafetySettings
	}
	if system != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.Temperature != nil {
		t := *req.Temperature
		config.Temperature = &t
	}
	if req.TopP != nil {
		p := *req.TopP
		config.TopP = &p
	}
	if len(req.StopSequences) > 0 {
		config.StopSequences = req.StopSequences
	}
	if len(req.Tools) > 0 {
		config.Tools = convertTools(req.Tools)
	}
	_ = toolIDToName // only convertMessages uses the id→name map; it is not kept past this call
	return modelID, contents, config, nil
}

func convertMessages(msgs []*model.Message) ([]*genai.Content, string, map[string]string, error) {
	var out []*genai.Content
	var system strings.Builder
	idToName := map[string]string{}

	for _, m := range msgs {
		if m == nil {
			continue
		}
		if m.Role == model.ConversationRoleSystem || m.Role == model.ConversationRoleDeveloper {
			for _, p := range m.Parts {
				if v, ok := p.(model.TextPart); ok {
					if system.Len() > 0 {
						system.WriteString("\n")
					}
					system.WriteString(v.Text)
				}
			}
			continue
		}
		content := &genai.Content{}
		switch m.Role { //nolint:exhaustive
		case model.ConversationRoleAssistant:
			content.Role = genai.RoleModel
		default:
			content.Role = genai.RoleUser
		}
		for _, part := range m.Parts {
			switch v := part.(type) {
			case model.TextPart:
				if v.Text != "" {
					content.Parts = append(content.Parts, &genai.Part{Text: v.Text})
				}
			case model.ImageDataPart:
				data, err := base64.StdEncoding.DecodeString(v.Base64)
				if err != nil {
					return nil, "", nil, model.NewSdkError(model.ErrorCodeInvalidRequest, "gemini", "image data is not valid base64", 0, err)
				}
				content.Parts = append(content.Parts, &genai.Part{InlineData: &genai.Blob{Data: data, MIMEType: v.MediaType}})
			case model.ImageURLPart:
				data, mediaType, inlined, err := provider.InlineLocalImage("gemini", v.URL, v.MediaType)
				if err != nil {
					return nil, "", nil, err
				}
				if inlined {
					content.Parts = append(content.Parts, &genai.Part{InlineData: &genai.Blob{Data: data, MIMEType: mediaType}})
				} else {
					content.Parts = append(content.Parts, &genai.Part{FileData: &genai.FileData{FileURI: v.URL, MIMEType: v.MediaType}})
				}
			case model.ToolCallPart:
				idToName[v.ID] = v.Name
				var args map[string]any
				if len(v.Arguments) > 0 {
					_ = json.Unmarshal(v.Arguments, &args)
				}
				content.Parts = append(content.Parts, &genai.Part{FunctionCall: &genai.FunctionCall{Name: v.Name, Args: args}})
			case model.ToolResultPart:
				name, ok := idToName[v.ToolCallID]
				if !ok {
					return nil, "", nil, model.NewSdkError(model.ErrorCodeInvalidRequest, "gemini",
						fmt.Sprintf("tool result references unknown tool call id %q", v.ToolCallID), 0, nil)
				}
				var response map[string]any
				if err := json.Unmarshal(v.Content, &response); err != nil {
					response = map[string]any{"result": string(v.Content), "error": v.IsError}
				}
				content.Parts = append(content.Parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{Name: name, Response: response}})
			}
		}
		if len(content.Parts) > 0 {
			out = append(out, content)
		}
	}
	if len(out) == 0 {
		return nil, "", nil, model.NewSdkError(model.ErrorCodeInvalidRequest, "gemini", "at least one message is required", 0, nil)
	}
	return out, strings.TrimSpace(system.String()), idToName, nil
}

func convertTools(defs []*model.ToolDefinition) []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, 0, len(defs))
	for _, def := range defs {
		if def == nil {
			continue
		}
		var schema *genai.Schema
		if len(def.InputSchema) > 0 {
			var raw map[string]any
			if json.Unmarshal(def.InputSchema, &raw) == nil {
				schema = jsonSchemaToGenai(raw)
			}
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  schema,
		})
	}
	if len(decls) == 0 {
		return nil
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// jsonSchemaToGenai performs a shallow best-effort conversion of a JSON
// Schema object into genai.Schema; nested $refs are not resolved since tool
// schemas in this module are always flat objects (tools.Registry validates
// them with santhosh-tekuri/jsonschema/v6 before they ever reach an adapter).
func jsonSchemaToGenai(raw map[string]any) *genai.Schema {
	s := &genai.Schema{Type: genai.TypeObject}
	if props, ok := raw["properties"].(map[string]any); ok {
		s.Properties = map[string]*genai.Schema{}
		for name, v := range props {
			if pm, ok := v.(map[string]any); ok {
				s.Properties[name] = primitiveSchema(pm)
			}
		}
	}
	if req, ok := raw["required"].([]any); ok {
		for _, r := range req {
			if s2, ok := r.(string); ok {
				s.Required = append(s.Required, s2)
			}
		}
	}
	return s
}

func primitiveSchema(m map[string]any) *genai.Schema {
	s := &genai.Schema{}
	switch t, _ := m["type"].(string); t {
	case "string":
		s.Type = genai.TypeString
	case "number":
		s.Type = genai.TypeNumber
	case "integer":
		s.Type = genai.TypeInteger
	case "boolean":
		s.Type = genai.TypeBoolean
	case "array":
		s.Type = genai.TypeArray
	case "object":
		return jsonSchemaToGenai(m)
	default:
		s.Type = genai.TypeString
	}
	if desc, ok := m["description"].(string); ok {
		s.Description = desc
	}
	return s
}

func translateResponse(modelID string, resp *genai.GenerateContentResponse, nextID func(string) string) *model.Response {
	out := &model.Response{Model: modelID, Provider: "gemini"}
	var parts []model.Part
	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, p := range resp.Candidates[0].Content.Parts {
			if p == nil {
				continue
			}
			if p.Text != "" {
				parts = append(parts, model.TextPart{Text: p.Text})
			}
			if p.FunctionCall != nil {
				args, _ := json.Marshal(p.FunctionCall.Args)
				parts = append(parts, model.ToolCallPart{
					ID:        nextID(p.FunctionCall.Name),
					Name:      p.FunctionCall.Name,
					Arguments: args,
					CallType:  "function",
				})
			}
		}
	}
	out.Message = model.Message{Role: model.ConversationRoleAssistant, Parts: parts}
	if resp.UsageMetadata != nil {
		out.Usage = model.Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:  int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	out.FinishReason = model.FinishReasonStop
	if len(resp.Candidates) > 0 {
		out.FinishReason = translateFinishReason(string(resp.Candidates[0].FinishReason))
	}
	return out
}

func translateFinishReason(reason string) model.FinishReason {
	switch strings.ToUpper(reason) {
	case "STOP":
		return model.FinishReasonStop
	case "MAX_TOKENS":
		return model.FinishReasonMaxTokens
	case "SAFETY", "RECITATION":
		return model.FinishReasonContentFilter
	default:
		if reason == "" {
			return model.FinishReasonOther
		}
		return model.FinishReasonOther
	}
}
