package session

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"agentcore/model"
)

// toolCallSignature is a stable hash of a tool call's {name, canonicalised
// arguments}, per §4.9. Canonicalisation round-trips the JSON through
// encoding/json's decode/encode cycle, which sorts object keys, so two
// byte-different-but-semantically-equal argument payloads hash identically.
func toolCallSignature(tc model.ToolCallPart) string {
	h := sha256.Sum256([]byte(tc.Name + ":" + canonicalizeJSON(tc.Arguments)))
	return hex.EncodeToString(h[:])
}

func canonicalizeJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		// Not valid JSON (garbled model output) — hash the raw bytes as-is
		// rather than failing signature computation.
		return string(raw)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return string(raw)
	}
	return string(b)
}

// detectLoop inspects a bounded window of tool-call signatures (oldest
// first) for a repeating pattern and, if found, returns a steering message
// describing it. It reports the smallest repeating period first: three
// identical calls in a row are far more informative to surface than a
// coincidental longer cycle.
func detectLoop(sigs []string, window int) (string, bool) {
	n := len(sigs)
	if window > 0 && n > window {
		sigs = sigs[n-window:]
		n = window
	}
	if n < 2 {
		return "", false
	}
	for period := 1; period <= n/2; period++ {
		repeats := n / period
		if repeats < 2 {
			continue
		}
		covered := period * repeats
		tail := sigs[n-covered:]
		loop := true
		for i := period; i < covered; i++ {
			if tail[i] != tail[i%period] {
				loop = false
				break
			}
		}
		if loop {
			if period == 1 {
				return fmt.Sprintf("The same tool call has been repeated %d times in a row; consider a different approach or ask the user for guidance.", repeats), true
			}
			return fmt.Sprintf("A sequence of %d tool calls has repeated %d times; consider a different approach or ask the user for guidance.", period, repeats), true
		}
	}
	return "", false
}
