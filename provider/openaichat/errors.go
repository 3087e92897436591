package openaichat

import (
	"errors"

	openai "github.com/sashabaranov/go-openai"

	"agentcore/model"
)

// TranslateError classifies a go-openai error into the portable taxonomy.
func TranslateError(providerName string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		code := classifyStatus(apiErr.HTTPStatusCode)
		return model.NewSdkError(code, providerName, apiErr.Message, apiErr.HTTPStatusCode, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return model.NewSdkError(classifyStatus(reqErr.HTTPStatusCode), providerName, reqErr.Error(), reqErr.HTTPStatusCode, err)
	}
	return model.NewSdkError(model.ErrorCodeNetwork, providerName, err.Error(), 0, err)
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
