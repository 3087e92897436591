// Package tools implements Component E: a registry of in-process tool
// executors, JSON-schema argument validation, output truncation, and image
// tool-output attachment tracking. Grounded on runtime/agent/tools/ident.go
// (the Ident strong type), runtime/agent/toolerrors/tool_error.go (the
// wrapped-error chain), and registry/service.go's validatePayloadJSONAgainstSchema
// (the jsonschema/v6 compile-and-validate sequence) from the teacher repo.
package tools

// Ident is a tool's registered name, kept as a distinct string type so
// call sites cannot accidentally pass an arbitrary string where a tool
// identifier is required.
type Ident string
