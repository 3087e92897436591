// Package provider defines the shared contract every wire-format adapter
// implements (Component B). Each concrete adapter package (anthropic,
// openaichat, openairesponses, gemini, mistral, deepseek, ollama, bedrock)
// exposes a constructor returning an Adapter; the SDK-backed packages also
// export TranslateError, while request and response translation stay
// unexported. llmclient depends only on this interface.
package provider

import (
	"context"

	"agentcore/model"
)

// Adapter translates a portable Request into a concrete provider call and
// the concrete response/stream back into portable types. Implementations
// must be safe for concurrent use.
type Adapter interface {
	// Name identifies the adapter for telemetry and ProviderOptions lookup
	// (e.g. "anthropic", "openai-responses").
	Name() string

	// Complete issues a single non-streaming call.
	Complete(ctx context.Context, req *model.Request) (*model.Response, error)

	// Stream issues a streaming call, returning a Streamer the caller must
	// drain to io.EOF and Close. Adapters that cannot stream return an
	// *model.SdkError with Code model.ErrorCodeConfiguration so llmclient can
	// fall back to Complete (spec.md §4.3).
	Stream(ctx context.Context, req *model.Request) (model.Streamer, error)
}
