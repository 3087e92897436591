package provider

import (
	"bytes"
	"encoding/json"
	"fmt"

	"agentcore/model"
)

// DecodeProviderOptions unmarshals req.ProviderOptions[providerName] into
// dst (a pointer to the adapter's own options struct), implementing
// spec.md's providerOptions contract: a value that isn't a JSON object is
// rejected as InvalidRequest; a missing entry leaves dst at its zero value.
func DecodeProviderOptions(opts map[string]json.RawMessage, providerName string, dst any) error {
	raw, ok := opts[providerName]
	if !ok || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	trimmed := bytes.TrimSpace(raw)
	if trimmed[0] != '{' {
		return model.NewSdkError(model.ErrorCodeInvalidRequest, providerName, "providerOptions must be a JSON object", 0, nil)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return model.NewSdkError(model.ErrorCodeInvalidRequest, providerName, fmt.Sprintf("providerOptions: %v", err), 0, nil)
	}
	return nil
}

// RemainingProviderOptions re-decodes req.ProviderOptions[providerName]
// minus the keys an adapter already consumed (named in recognised), for
// merging into the wire body's extra-fields escape hatch. Returns a nil map
// when there is nothing left over, so callers can skip setting ExtraFields
// entirely on the common path.
func RemainingProviderOptions(opts map[string]json.RawMessage, providerName string, recognised ...string) (map[string]any, error) {
	raw, ok := opts[providerName]
	if !ok || len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, model.NewSdkError(model.ErrorCodeInvalidRequest, providerName, fmt.Sprintf("providerOptions: %v", err), 0, nil)
	}
	skip := make(map[string]bool, len(recognised))
	for _, k := range recognised {
		skip[k] = true
	}
	var out map[string]any
	for k, v := range fields {
		if skip[k] {
			continue
		}
		var decoded any
		if err := json.Unmarshal(v, &decoded); err != nil {
			return nil, model.NewSdkError(model.ErrorCodeInvalidRequest, providerName, fmt.Sprintf("providerOptions[%q]: %v", k, err), 0, nil)
		}
		if out == nil {
			out = make(map[string]any, len(fields))
		}
		out[k] = decoded
	}
	return out, nil
}

// RejectKeys returns an InvalidRequest error naming the first key present
// in opts[providerName] that also appears in forbidden — used by
// chat-completions-family adapters to reject Responses-API-only built-in
// tool options (spec.md §4.2).
func RejectKeys(opts map[string]json.RawMessage, providerName string, forbidden ...string) error {
	raw, ok := opts[providerName]
	if !ok || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil // DecodeProviderOptions already reports malformed JSON
	}
	for _, key := range forbidden {
		if _, present := fields[key]; present {
			return model.NewSdkError(model.ErrorCodeInvalidRequest, providerName,
				fmt.Sprintf("providerOptions key %q is only valid for the Responses API", key), 0, nil)
		}
	}
	return nil
}
