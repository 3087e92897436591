package session

import (
	"encoding/json"

	"agentcore/model"
)

// Config configures a Session's limits, provider selection, and prompt
// layering. Zero values are valid and documented per field below, following
// the teacher's Options-struct convention (provider.Options, bedrock.Options)
// of "if zero, fall back" rather than a config-file/flag-parsing library —
// configuration loading itself stays out of scope (spec.md §1 Non-goals).
type Config struct {
	// Provider identifies which adapter the session's llmclient.Client wraps
	// (e.g. "anthropic", "openai-responses"); informational only at this
	// layer, used for provider-specific behavior such as whether tool-result
	// images are attached (only "anthropic" today, mirroring
	// ApiSession::store_attachment_if_supported).
	Provider string
	// Model is passed through verbatim on every Request.
	Model string
	// ContextWindowSize is the provider's advertised context window in
	// tokens, used by checkContextUsage's percentage estimate. Zero disables
	// the usage/warning events entirely.
	ContextWindowSize int

	// MaxToolRoundsPerInput caps tool-execution rounds within one submit()
	// call. Zero disables the limit.
	MaxToolRoundsPerInput int
	// MaxTurns caps total LLM request/response cycles across the session's
	// lifetime. Zero disables the limit.
	MaxTurns int

	// EnableLoopDetection turns on the sliding-window tool-call repetition
	// check (§4.9).
	EnableLoopDetection bool
	// LoopDetectionWindow bounds the signature window. Defaults to 12 when
	// zero and EnableLoopDetection is set.
	LoopDetectionWindow int

	// AutoDetectAwaitingInput enables the looksLikeQuestion heuristic on
	// natural completion (§4.6 post-loop decision).
	AutoDetectAwaitingInput bool

	// MaxSubagentDepth bounds subagent nesting; a session at this depth
	// cannot spawn subagents, and a spawn_agent call fails with a tool error
	// (§4.8, Component F subagent manager).
	MaxSubagentDepth int

	// ReasoningEffort requests a provider reasoning budget tier on every
	// Request built by the session.
	ReasoningEffort model.ReasoningEffort

	// CommitInstructions and UserInstructions are appended, in this order,
	// after the base system prompt (spec.md §6 system-prompt layering).
	CommitInstructions string
	UserInstructions   string

	// ParallelToolCalls reports whether the active provider/profile supports
	// executing more than one tool call per round concurrently. When false,
	// or when only one call is present, execution is always sequential.
	ParallelToolCalls bool

	// ProviderOptions carries the escape-hatch JSON objects forwarded
	// verbatim onto every Request built by this session (model.go's
	// ProviderOptions contract) — e.g. Anthropic beta headers/auto_cache
	// toggles, Gemini safety settings, OpenAI service tier. Keyed by
	// provider id; an adapter that isn't in use simply never looks its key
	// up.
	ProviderOptions map[string]json.RawMessage
}

func (c Config) loopWindow() int {
	if c.LoopDetectionWindow > 0 {
		return c.LoopDetectionWindow
	}
	return 12
}
