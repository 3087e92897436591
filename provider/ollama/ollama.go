// Package ollama is a thin chat-completions-derivative adapter targeting a
// local Ollama server's OpenAI-compatible endpoint; see provider/mistral
// for the shared-helper rationale. Ollama requires no API key, and some
// locally-served models do not support function calling, hence the
// allowTools argument of New: when it is false, RejectBuiltinTools is set
// and tool definitions are not sent. Callers that need other Quirks can
// build them via openaichat directly.
package ollama

import "agentcore/provider/openaichat"

const defaultBaseURL = "http://localhost:11434/v1"

// New builds an Ollama adapter. baseURL overrides the default local endpoint
// when non-empty.
func New(baseURL, defaultModel string, allowTools bool) (*openaichat.Adapter, error) {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return openaichat.NewFromOptions(openaichat.Options{
		APIKey:       "ollama",
		BaseURL:      baseURL,
		DefaultModel: defaultModel,
		Quirks: openaichat.Quirks{
			Name:               "ollama",
			RejectBuiltinTools: !allowTools,
		},
	})
}
