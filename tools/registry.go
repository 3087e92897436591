package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"agentcore/model"
)

// Environment is the sandboxed execution surface (filesystem view, shell,
// HTTP fetch, …) handed to tool executors. Its concrete shape is
// tool-dependent and deliberately left opaque at this layer — the registry
// only plumbs it through unmodified.
type Environment any

// Executor invokes one tool call. Implementations should return a
// *ToolError (or wrap one) on failure so Execute can attach Output.IsError
// without losing the original cause.
type Executor func(ctx context.Context, args json.RawMessage, env Environment) (Output, error)

// Output is the result of a tool invocation: either plain text, or text with
// an accompanying image. Exactly one of these shapes is produced per call.
type Output struct {
	Text string

	// HasImage reports whether ImageData/ImageMediaType are populated. A
	// tool that returns ImageWithText still supplies Text as the fallback
	// alt-text for providers that cannot consume images in tool results.
	HasImage       bool
	ImageData      []byte
	ImageMediaType string
}

// TextOutput constructs a plain-text Output.
func TextOutput(text string) Output { return Output{Text: text} }

// ImageOutput constructs an image-with-text Output.
func ImageOutput(data []byte, mediaType, altText string) Output {
	return Output{Text: altText, HasImage: true, ImageData: data, ImageMediaType: mediaType}
}

// ImageAttachment is a tool-produced image retained out of the textual
// conversation history, keyed by tool-call ID. Only providers that can
// consume images inside a tool_result (currently Anthropic) receive these;
// other providers see Output.Text only. Session compaction phase 2 evicts
// entries from this map as history ages out (§4.7).
type ImageAttachment struct {
	Data      []byte
	MediaType string
	AltText   string
}

type registration struct {
	def      *model.ToolDefinition
	exec     Executor
	schema   *jsonschema.Schema
	limits   Limits
	hasImage bool
}

// Registry holds tool definitions plus their executors and validates/
// dispatches calls. A Registry is shared immutably across a session and its
// subagent sessions once construction (Register calls) is complete; it
// performs its own locking so concurrent Execute calls from a parallel tool
// batch are safe.
type Registry struct {
	mu    sync.RWMutex
	tools map[Ident]*registration
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[Ident]*registration)}
}

// Register adds a tool definition and its executor. Returns an error if the
// name is already registered or the input schema fails to compile.
func (r *Registry) Register(def *model.ToolDefinition, exec Executor, limits Limits) error {
	if def == nil || def.Name == "" {
		return NewToolError("tool definition requires a name")
	}
	if exec == nil {
		return ToolErrorf("tool %q: executor is required", def.Name)
	}
	schema, err := compileSchema(def.Name, def.InputSchema)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	id := Ident(def.Name)
	if _, exists := r.tools[id]; exists {
		return ToolErrorf("tool %q is already registered", def.Name)
	}
	r.tools[id] = &registration{def: def, exec: exec, schema: schema, limits: limits}
	return nil
}

func compileSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, ToolErrorf("tool %q: input schema is not valid JSON: %v", name, err)
	}
	c := jsonschema.NewCompiler()
	resourceID := "tool://" + name
	if err := c.AddResource(resourceID, doc); err != nil {
		return nil, ToolErrorf("tool %q: add schema resource: %v", name, err)
	}
	schema, err := c.Compile(resourceID)
	if err != nil {
		return nil, ToolErrorf("tool %q: compile schema: %v", name, err)
	}
	return schema, nil
}

// Definitions returns the tool definitions currently registered, in an
// unspecified order, suitable for inclusion on a model.Request.
func (r *Registry) Definitions() []*model.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*model.ToolDefinition, 0, len(r.tools))
	for _, reg := range r.tools {
		out = append(out, reg.def)
	}
	return out
}

// ValidateArguments validates args against the named tool's compiled
// JSON-schema. Returns a structured error describing the first violation
// when validation fails; returns nil when the tool declared no schema.
func (r *Registry) ValidateArguments(name Ident, args json.RawMessage) error {
	r.mu.RLock()
	reg, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return ToolErrorf("unknown tool %q", name)
	}
	if reg.schema == nil {
		return nil
	}
	var doc any
	if len(args) == 0 {
		doc = map[string]any{}
	} else if err := json.Unmarshal(args, &doc); err != nil {
		return ToolErrorf("tool %q: arguments are not valid JSON: %v", name, err)
	}
	if err := reg.schema.Validate(doc); err != nil {
		return NewToolErrorWithCause(fmt.Sprintf("tool %q: argument validation failed", name), err)
	}
	return nil
}

// Execute validates and invokes the named tool, truncating textual output
// per its configured Limits and wrapping any panic-free execution error as
// a ToolError result rather than propagating it. imageCapable reports
// whether the active provider can consume images in tool results; when
// false, image output is discarded after copying its alt-text into Content.
func (r *Registry) Execute(ctx context.Context, call model.ToolCallPart, env Environment, imageCapable bool) (content json.RawMessage, isError bool, image *ImageAttachment) {
	r.mu.RLock()
	reg, ok := r.tools[Ident(call.Name)]
	r.mu.RUnlock()
	if !ok {
		return errorContent(fmt.Sprintf("unknown tool %q", call.Name)), true, nil
	}
	if err := r.ValidateArguments(Ident(call.Name), call.Arguments); err != nil {
		return errorContent(err.Error()), true, nil
	}
	out, err := reg.exec(ctx, call.Arguments, env)
	if err != nil {
		return errorContent(ToolErrorFromError(err).Error()), true, nil
	}
	out.Text = reg.limits.apply(out.Text)
	if out.HasImage && imageCapable {
		image = &ImageAttachment{Data: out.ImageData, MediaType: out.ImageMediaType, AltText: out.Text}
	}
	return textContent(out.Text), false, image
}

func errorContent(msg string) json.RawMessage {
	b, _ := json.Marshal(map[string]string{"error": msg})
	return b
}

func textContent(text string) json.RawMessage {
	b, err := json.Marshal(text)
	if err != nil {
		return json.RawMessage(`""`)
	}
	return b
}
