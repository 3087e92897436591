package gemini

import (
	"strings"

	"agentcore/model"
)

// TranslateError classifies a genai error into the portable taxonomy.
// The SDK does not expose a typed API-error with a status code field
// reliably across transports, so classification falls back to substring
// matching on the error text, grounded on the teacher's isRetryableError
// substring-matching approach (google.go's isRetryableError/wrapError).
func TranslateError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "401") || strings.Contains(msg, "unauthenticated"):
		return model.NewSdkError(model.ErrorCodeAuthentication, "gemini", err.Error(), 401, err)
	case strings.Contains(msg, "403") || strings.Contains(msg, "permission denied"):
		return model.NewSdkError(model.ErrorCodeAuthorisation, "gemini", err.Error(), 403, err)
	case strings.Contains(msg, "404") || strings.Contains(msg, "not found"):
		return model.NewSdkError(model.ErrorCodeNotFound, "gemini", err.Error(), 404, err)
	case strings.Contains(msg, "429") || strings.Contains(msg, "resource exhausted") || strings.Contains(msg, "quota"):
		return model.NewSdkError(model.ErrorCodeRateLimit, "gemini", err.Error(), 429, err)
	case strings.Contains(msg, "deadline exceeded") || strings.Contains(msg, "timeout"):
		return model.NewSdkError(model.ErrorCodeRequestTimeout, "gemini", err.Error(), 0, err)
	case strings.Contains(msg, "500") || strings.Contains(msg, "503") || strings.Contains(msg, "internal"):
		return model.NewSdkError(model.ErrorCodeServer, "gemini", err.Error(), 0, err)
	default:
		return model.NewSdkError(model.ErrorCodeNetwork, "gemini", err.Error(), 0, err)
	}
}
