// Package deepseek is a thin chat-completions-derivative adapter; see
// provider/mistral for the shared-helper rationale.
package deepseek

import "agentcore/provider/openaichat"

const defaultBaseURL = "https://api.deepseek.com/v1"

// New builds a DeepSeek adapter.
func New(apiKey, baseURL, defaultModel string) (*openaichat.Adapter, error) {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return openaichat.NewFromOptions(openaichat.Options{
		APIKey:       apiKey,
		BaseURL:      baseURL,
		DefaultModel: defaultModel,
		Quirks: openaichat.Quirks{
			Name:                 "deepseek",
			StringifyToolContent: true,
		},
	})
}
