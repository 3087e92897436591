// Package mistral is a thin chat-completions-derivative adapter: it reuses
// openaichat's translation logic entirely, supplying only Mistral's BaseURL
// and Quirks preset, per spec.md §4.2's "Quirks preset" design.
package mistral

import "agentcore/provider/openaichat"

const defaultBaseURL = "https://api.mistral.ai/v1"

// New builds a Mistral adapter. apiKey and defaultModel are required;
// baseURL overrides the default Mistral endpoint when non-empty (useful for
// self-hosted/compatible gateways).
func New(apiKey, baseURL, defaultModel string) (*openaichat.Adapter, error) {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return openaichat.NewFromOptions(openaichat.Options{
		APIKey:       apiKey,
		BaseURL:      baseURL,
		DefaultModel: defaultModel,
		Quirks: openaichat.Quirks{
			Name: "mistral",
			// Mistral's chat-completions-compatible endpoint expects
			// tool-result content as a JSON-text blob rather than an
			// unwrapped string (spec.md §8 boundary behaviours).
			StringifyToolContent: true,
		},
	})
}
