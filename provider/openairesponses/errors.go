package openairesponses

import (
	"errors"

	"github.com/openai/openai-go"

	"agentcore/model"
)

// TranslateError classifies an openai-go error into the portable taxonomy.
func TranslateError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		code := classifyStatus(apiErr.StatusCode)
		return model.NewSdkError(code, "openai-responses", apiErr.Error(), apiErr.StatusCode, err)
	}
	return model.NewSdkError(model.ErrorCodeNetwork, "openai-responses", err.Error(), 0, err)
}

func classifyStatus(status int) model.ErrorCode {
	switch {
	case status == 401:
		return model.ErrorCodeAuthentication
	case status == 403:
		return model.ErrorCodeAuthorisation
	case status == 404:
		return model.ErrorCodeNotFound
	case status == 429:
		return model.ErrorCodeRateLimit
	case status == 408:
		return model.ErrorCodeRequestTimeout
	case status == 400:
		return model.ErrorCodeInvalidRequest
	case status >= 500:
		return model.ErrorCodeServer
	default:
		return model.ErrorCodeServer
	}
}
