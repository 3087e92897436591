package provider

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"agentcore/model"
)

type decodeTarget struct {
	ServiceTier string `json:"service_tier"`
}

func TestDecodeProviderOptionsMissingKeyIsNoop(t *testing.T) {
	var dst decodeTarget
	err := DecodeProviderOptions(nil, "openai-responses", &dst)
	require.NoError(t, err)
	require.Equal(t, decodeTarget{}, dst)
}

func TestDecodeProviderOptionsNonObjectRejected(t *testing.T) {
	var dst decodeTarget
	opts := map[string]json.RawMessage{"openai-responses": json.RawMessage(`42`)}
	err := DecodeProviderOptions(opts, "openai-responses", &dst)
	require.Error(t, err)
	require.True(t, model.IsCode(err, model.ErrorCodeInvalidRequest))
}

func TestDecodeProviderOptionsMalformedJSONRejected(t *testing.T) {
	var dst decodeTarget
	opts := map[string]json.RawMessage{"openai-responses": json.RawMessage(`{"service_tier":`)}
	err := DecodeProviderOptions(opts, "openai-responses", &dst)
	require.Error(t, err)
	require.True(t, model.IsCode(err, model.ErrorCodeInvalidRequest))
}

func TestDecodeProviderOptionsDecodesRecognisedFields(t *testing.T) {
	var dst decodeTarget
	opts := map[string]json.RawMessage{"openai-responses": json.RawMessage(`{"service_tier":"flex"}`)}
	err := DecodeProviderOptions(opts, "openai-responses", &dst)
	require.NoError(t, err)
	require.Equal(t, "flex", dst.ServiceTier)
}

func TestRemainingProviderOptionsExcludesRecognisedKeys(t *testing.T) {
	opts := map[string]json.RawMessage{
		"openai-responses": json.RawMessage(`{"service_tier":"flex","prompt_cache_key":"k","custom_field":true}`),
	}
	remaining, err := RemainingProviderOptions(opts, "openai-responses", "service_tier", "prompt_cache_key")
	require.NoError(t, err)
	require.Equal(t, map[string]any{"custom_field": true}, remaining)
}

func TestRemainingProviderOptionsAllRecognisedYieldsNil(t *testing.T) {
	opts := map[string]json.RawMessage{"openai-responses": json.RawMessage(`{"service_tier":"flex"}`)}
	remaining, err := RemainingProviderOptions(opts, "openai-responses", "service_tier")
	require.NoError(t, err)
	require.Nil(t, remaining)
}

func TestRejectKeysReturnsInvalidRequestWhenForbiddenKeyPresent(t *testing.T) {
	opts := map[string]json.RawMessage{"mistral": json.RawMessage(`{"web_search":{}}`)}
	err := RejectKeys(opts, "mistral", "web_search", "file_search")
	require.Error(t, err)
	require.True(t, model.IsCode(err, model.ErrorCodeInvalidRequest))
}

func TestRejectKeysAllowsUnlistedKeys(t *testing.T) {
	opts := map[string]json.RawMessage{"mistral": json.RawMessage(`{"service_tier":"flex"}`)}
	err := RejectKeys(opts, "mistral", "web_search", "file_search")
	require.NoError(t, err)
}
