package anthropic

import (
	"errors"

	sdk "github.com/anthropics/anthropic-sdk-go"

	"agentcore/model"
)

// TranslateError classifies an error returned by the Anthropic SDK into the
// portable model.SdkError taxonomy. Grounded on the status-code switch every
// provider adapter in the teacher performs (features/model/bedrock/client.go
// uses the equivalent smithy.APIError code switch).
func TranslateError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		code, httpStatus := classifyStatus(apiErr.StatusCode)
		return model.NewSdkError(code, "anthropic", apiErr.Error(), httpStatus, err)
	}
	return model.NewSdkError(model.ErrorCodeNetwork, "anthropic", err.Error(), 0, err)
}

func classifyStatus(status int) (model.ErrorCode, int) {
	switch {
	case status == 401:
		return model.ErrorCodeAuthentication, status
	case status == 403:
		return model.ErrorCodeAuthorisation, status
	case status == 404:
		return model.ErrorCodeNotFound, status
	case status == 429:
		return model.ErrorCodeRateLimit, status
	case status == 408:
		return model.ErrorCodeRequestTimeout, status
	case status == 400:
		return model.ErrorCodeInvalidRequest, status
	case status >= 500:
		return model.ErrorCodeServer, status
	default:
		return model.ErrorCodeServer, status
	}
}
