// Package model defines the provider-agnostic message, request, response, and
// streaming-event types shared by the session engine, the LLM client, and
// every provider adapter. Content is modeled as typed parts (text, images,
// thinking, tool calls/results) rather than flattened strings so that
// translators can preserve ordering and provider-specific metadata exactly.
package model

import (
	"context"
	"encoding/json"
)

// ConversationRole is the role for a message in a conversation.
type ConversationRole string

const (
	// ConversationRoleSystem is the role for system messages.
	ConversationRoleSystem ConversationRole = "system"

	// ConversationRoleDeveloper is the role for developer/instruction messages,
	// distinct from end-user-authored System messages on providers that
	// distinguish the two (OpenAI Responses).
	ConversationRoleDeveloper ConversationRole = "developer"

	// ConversationRoleUser is the role for user messages.
	ConversationRoleUser ConversationRole = "user"

	// ConversationRoleAssistant is the role for assistant messages.
	ConversationRoleAssistant ConversationRole = "assistant"

	// ConversationRoleTool is the role for tool-result messages on wire formats
	// that address tool output with a dedicated role (Chat Completions family).
	ConversationRoleTool ConversationRole = "tool"
)

type (
	// Part is a marker interface implemented by every message content part.
	// Concrete implementations capture user-visible text, images, provider
	// reasoning, and tool call/result content in strongly typed form. Ordering
	// of Parts within a Message is semantically significant and adapters MUST
	// preserve it.
	Part interface {
		isPart()
	}

	// TextPart is a plain text content block.
	TextPart struct {
		Text string
	}

	// ImageURLPart references image content by URL. URL may be a remote URL, a
	// data URI, or a local path; adapters that cannot address images by URL
	// inline the bytes themselves (reading local paths as needed).
	ImageURLPart struct {
		URL       string
		Detail    string
		MediaType string
	}

	// ImageDataPart carries inline base64-encoded image bytes.
	ImageDataPart struct {
		Base64    string
		MediaType string
	}

	// ThinkingPart is a provider-emitted reasoning trace. Signature is an
	// opaque provider token that MUST round-trip unchanged through history and
	// back out to the same provider on a later turn.
	ThinkingPart struct {
		Text      string
		Signature string
	}

	// RedactedThinkingPart is reasoning content the provider elected to hide.
	// The Signature, when present, is still an opaque token that must
	// round-trip; Text carries only what the provider chose to reveal (often
	// empty).
	RedactedThinkingPart struct {
		Text      string
		Signature string
	}

	// ToolCallPart declares a tool invocation requested by the assistant.
	ToolCallPart struct {
		// ID uniquely identifies this call within the run; used to correlate
		// the eventual ToolResultPart.
		ID string

		// Name is the tool identifier requested by the model.
		Name string

		// Arguments is the canonical JSON arguments object supplied by the
		// model. Always a json.RawMessage so byte-identical round-tripping is
		// possible across adapters and the tool registry.
		Arguments json.RawMessage

		// CallType is always "function" on the wire formats this package
		// targets; kept explicit because some providers key on it.
		CallType string
	}

	// ToolResultPart carries the outcome of a tool invocation back to the
	// model.
	ToolResultPart struct {
		// ToolCallID correlates this result to a prior ToolCallPart.ID.
		ToolCallID string

		// Content is the JSON-compatible result payload.
		Content json.RawMessage

		// IsError reports whether Content represents a tool execution error.
		IsError bool

		// ImageData optionally attaches image bytes produced by the tool
		// (e.g. a screenshot). The session fills it only when the provider
		// is Anthropic; every adapter in this module, Anthropic included,
		// sends only the textual Content and does not encode this field.
		ImageData []byte

		// ImageMediaType is the MIME type of ImageData when present.
		ImageMediaType string
	}

	// Message is a single chat message: a role plus an ordered list of
	// content parts.
	Message struct {
		Role  ConversationRole
		Parts []Part
		Meta  map[string]any
	}

	// ToolDefinition describes a tool exposed to the model.
	ToolDefinition struct {
		Name        string
		Description string
		InputSchema json.RawMessage
	}

	// ToolChoiceMode controls how the model uses tools for a request.
	ToolChoiceMode string
)

// ToolChoiceMode values.
const (
	ToolChoiceModeAuto     ToolChoiceMode = "auto"
	ToolChoiceModeNone     ToolChoiceMode = "none"
	ToolChoiceModeRequired ToolChoiceMode = "required"
	ToolChoiceModeTool     ToolChoiceMode = "tool"
)

// ToolChoice configures optional tool-use behavior for a Request. When nil,
// providers use their default (auto) behavior.
type ToolChoice struct {
	Mode ToolChoiceMode
	// Name identifies the tool to force when Mode is ToolChoiceModeTool.
	Name string
}

// ReasoningEffort requests a provider-specific reasoning budget tier.
type ReasoningEffort string

const (
	ReasoningEffortLow    ReasoningEffort = "low"
	ReasoningEffortMedium ReasoningEffort = "medium"
	ReasoningEffortHigh   ReasoningEffort = "high"
)

// ResponseFormat constrains the shape of the assistant's textual output
// (e.g. JSON mode, a JSON schema). Kept opaque; adapters interpret Type and
// Schema according to what their wire format supports.
type ResponseFormat struct {
	Type   string
	Schema json.RawMessage
}

// Request captures inputs for a model invocation. It is the only request
// shape the session engine and LLM client construct; provider adapters
// translate it to their own wire shape.
type Request struct {
	Model           string
	Messages        []*Message
	Tools           []*ToolDefinition
	ToolChoice      *ToolChoice
	Temperature     *float32
	TopP            *float32
	MaxTokens       int
	StopSequences   []string
	ReasoningEffort ReasoningEffort
	ResponseFormat  *ResponseFormat
	Stream          bool

	// ProviderOptions carries per-provider escape-hatch JSON objects, keyed by
	// provider id (e.g. "anthropic", "openai-responses"). Unknown keys for a
	// given provider pass through as extra body fields; known keys are
	// consumed/stripped by that provider's adapter.
	ProviderOptions map[string]json.RawMessage
}

// FinishReason is the portable reason generation stopped.
type FinishReason string

const (
	FinishReasonStop          FinishReason = "stop"
	FinishReasonMaxTokens     FinishReason = "max_tokens"
	FinishReasonToolCalls     FinishReason = "tool_calls"
	FinishReasonContentFilter FinishReason = "content_filter"
	FinishReasonError         FinishReason = "error"
	FinishReasonOther         FinishReason = "other"
)

// Usage tracks token counts for a model call. The optional fields are
// pointers so adapters can omit counts the provider did not report, rather
// than reporting a misleading zero.
type Usage struct {
	InputTokens      int
	OutputTokens     int
	TotalTokens      int
	CacheReadTokens  *int
	CacheWriteTokens *int
	ReasoningTokens  *int
}

// RateLimitInfo carries provider rate-limit headers when available.
type RateLimitInfo struct {
	Remaining *int
	Limit     *int
	Reset     *int64
}

// Response is the result of a model invocation, streaming or not.
type Response struct {
	ID           string
	Model        string
	Provider     string
	Message      Message
	Usage        Usage
	FinishReason FinishReason
	RateLimit    *RateLimitInfo
}

// Client is the provider-agnostic model client implemented by this core's
// caller (typically a concrete provider adapter wrapped by llmclient).
type Client interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
	Stream(ctx context.Context, req *Request) (Streamer, error)
}

// Streamer delivers incremental portable StreamEvents. Callers must drain
// until Recv returns io.EOF or another terminal error, then call Close.
type Streamer interface {
	Recv() (StreamEvent, error)
	Close() error
}

func (TextPart) isPart()             {}
func (ImageURLPart) isPart()         {}
func (ImageDataPart) isPart()        {}
func (ThinkingPart) isPart()         {}
func (RedactedThinkingPart) isPart() {}
func (ToolCallPart) isPart()         {}
func (ToolResultPart) isPart()       {}
