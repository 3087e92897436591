// This file implements JSON encoding for the Part sum type using an explicit
// Kind discriminator, the same pattern the teacher's model package uses for
// its own part hierarchy (see encodeMessagePart/decodeMessagePart in the
// reference implementation this module descends from).
package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MarshalJSON encodes a Message while preserving the concrete Part types
// stored in Parts via a Kind discriminator, so round-trips through JSON do
// not lose type information.
func (m Message) MarshalJSON() ([]byte, error) {
	type alias struct {
		Role  ConversationRole `json:"role"`
		Parts []any            `json:"parts"`
		Meta  map[string]any   `json:"meta,omitempty"`
	}
	if len(m.Parts) == 0 {
		return json.Marshal(alias{Role: m.Role, Meta: m.Meta})
	}
	parts := make([]any, 0, len(m.Parts))
	for i, p := range m.Parts {
		enc, err := encodePart(p)
		if err != nil {
			return nil, fmt.Errorf("encode parts[%d]: %w", i, err)
		}
		parts = append(parts, enc)
	}
	return json.Marshal(alias{Role: m.Role, Parts: parts, Meta: m.Meta})
}

// UnmarshalJSON decodes a Message, materializing concrete Part
// implementations from their Kind discriminator.
func (m *Message) UnmarshalJSON(data []byte) error {
	type alias struct {
		Role  ConversationRole  `json:"role"`
		Parts []json.RawMessage `json:"parts"`
		Meta  map[string]any    `json:"meta,omitempty"`
	}
	var tmp alias
	if err := json.Unmarshal(data, &tmp); err != nil {
		return err
	}
	m.Role = tmp.Role
	m.Meta = tmp.Meta
	if len(tmp.Parts) == 0 {
		m.Parts = nil
		return nil
	}
	m.Parts = make([]Part, 0, len(tmp.Parts))
	for i, raw := range tmp.Parts {
		part, err := decodePart(raw)
		if err != nil {
			return fmt.Errorf("decode parts[%d]: %w", i, err)
		}
		m.Parts = append(m.Parts, part)
	}
	return nil
}

func encodePart(p Part) (any, error) {
	switch v := p.(type) {
	case TextPart:
		return struct {
			Kind string `json:"kind"`
			TextPart
		}{"text", v}, nil
	case ImageURLPart:
		return struct {
			Kind string `json:"kind"`
			ImageURLPart
		}{"image_url", v}, nil
	case ImageDataPart:
		return struct {
			Kind string `json:"kind"`
			ImageDataPart
		}{"image_data", v}, nil
	case ThinkingPart:
		return struct {
			Kind string `json:"kind"`
			ThinkingPart
		}{"thinking", v}, nil
	case RedactedThinkingPart:
		return struct {
			Kind string `json:"kind"`
			RedactedThinkingPart
		}{"redacted_thinking", v}, nil
	case ToolCallPart:
		return struct {
			Kind string `json:"kind"`
			ToolCallPart
		}{"tool_call", v}, nil
	case ToolResultPart:
		return struct {
			Kind string `json:"kind"`
			ToolResultPart
		}{"tool_result", v}, nil
	default:
		return nil, fmt.Errorf("unknown part type %T", p)
	}
}

func decodePart(raw json.RawMessage) (Part, error) {
	var disc struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(raw, &disc); err != nil {
		return nil, fmt.Errorf("decode kind: %w", err)
	}
	switch disc.Kind {
	case "text":
		var p TextPart
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode TextPart: %w", err)
		}
		return p, nil
	case "image_url":
		var p ImageURLPart
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode ImageURLPart: %w", err)
		}
		return p, nil
	case "image_data":
		var p ImageDataPart
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode ImageDataPart: %w", err)
		}
		return p, nil
	case "thinking":
		var p ThinkingPart
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode ThinkingPart: %w", err)
		}
		return p, nil
	case "redacted_thinking":
		var p RedactedThinkingPart
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode RedactedThinkingPart: %w", err)
		}
		return p, nil
	case "tool_call":
		var p ToolCallPart
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode ToolCallPart: %w", err)
		}
		if p.Name == "" {
			return nil, errors.New("ToolCallPart requires Name")
		}
		return p, nil
	case "tool_result":
		var p ToolResultPart
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode ToolResultPart: %w", err)
		}
		if p.ToolCallID == "" {
			return nil, errors.New("ToolResultPart requires ToolCallID")
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown part kind %q", disc.Kind)
	}
}
