package bedrock

import (
	"errors"

	smithy "github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"agentcore/model"
)

// TranslateError classifies a Bedrock runtime error into the portable
// taxonomy, grounded on the teacher's isRetryableError (ThrottlingException /
// TooManyRequestsException / HTTP 429 substring matching).
func TranslateError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := classifyErrorCode(apiErr.ErrorCode())
		var respErr *smithyhttp.ResponseError
		status := 0
		if errors.As(err, &respErr) {
			status = respErr.HTTPStatusCode()
			if code == model.ErrorCodeServer {
				code = classifyStatus(status)
			}
		}
		return model.NewSdkError(code, "bedrock", apiErr.Error(), status, err)
	}
	return model.NewSdkError(model.ErrorCodeNetwork, "bedrock", err.Error(), 0, err)
}

func classifyErrorCode(code string) model.ErrorCode {
	switch code {
	case "ThrottlingException", "TooManyRequestsException", "ServiceQuotaExceededException":
		return model.ErrorCodeRateLimit
	case "AccessDeniedException", "UnauthorizedException":
		return model.ErrorCodeAuthorisation
	case "ValidationException":
		return model.ErrorCodeInvalidRequest
	case "ResourceNotFoundException":
		return model.ErrorCodeNotFound
	case "ModelTimeoutException":
		return model.ErrorCodeRequestTimeout
	default:
		return model.ErrorCodeServer
	}
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
	case status >= 500:
		return model.ErrorCodeServer
	default:
		return model.ErrorCodeServer
	}
}
