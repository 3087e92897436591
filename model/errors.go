package model

import (
	"errors"
	"fmt"
)

// ErrorCode classifies a portable SdkError into the taxonomy every provider
// adapter's translateError must map onto. Grounded on the teacher's
// ProviderErrorKind (runtime/agent/model/provider_error.go), generalized from
// five buckets to the full taxonomy this spec requires.
type ErrorCode string

const (
	ErrorCodeAuthentication ErrorCode = "authentication"
	ErrorCodeAuthorisation  ErrorCode = "authorisation"
	ErrorCodeInvalidRequest ErrorCode = "invalid_request"
	ErrorCodeNotFound       ErrorCode = "not_found"
	ErrorCodeRateLimit      ErrorCode = "rate_limit"
	ErrorCodeQuotaExceeded  ErrorCode = "quota_exceeded"
	ErrorCodeContextLength  ErrorCode = "context_length"
	ErrorCodeServer         ErrorCode = "server"
	ErrorCodeNetwork        ErrorCode = "network"
	ErrorCodeRequestTimeout ErrorCode = "request_timeout"
	ErrorCodeStream         ErrorCode = "stream"
	ErrorCodeConfiguration  ErrorCode = "configuration"

	// Core-internal codes, never produced by an adapter.
	ErrorCodeUnknownTool    ErrorCode = "unknown_tool"
	ErrorCodeInvalidState   ErrorCode = "invalid_state"
	ErrorCodeSessionClosed  ErrorCode = "session_closed"
)

// retryableCodes are the error codes that a caller may retry without
// modifying the request, per §7's propagation policy. QuotaExceeded is
// deliberately excluded: it is a persistent refinement of RateLimit that a
// backoff-and-retry policy cannot resolve.
var retryableCodes = map[ErrorCode]bool{
	ErrorCodeRateLimit:      true,
	ErrorCodeServer:         true,
	ErrorCodeNetwork:        true,
	ErrorCodeRequestTimeout: true,
	ErrorCodeStream:         true,
}

// SdkError is the single portable error type returned by provider adapters
// and the LLM client. Higher layers (tool registry, session engine) see only
// SdkError, never a provider SDK's native error type.
type SdkError struct {
	Code      ErrorCode
	Message   string
	Provider  string
	HTTP      int
	Retryable bool
	Cause     error
}

// NewSdkError constructs an SdkError, setting Retryable from the code's
// standard classification (retryableCodes). A caller that needs a different
// value sets the Retryable field on the returned error.
func NewSdkError(code ErrorCode, provider, message string, httpStatus int, cause error) *SdkError {
	return &SdkError{
		Code:      code,
		Message:   message,
		Provider:  provider,
		HTTP:      httpStatus,
		Retryable: retryableCodes[code],
		Cause:     cause,
	}
}

func (e *SdkError) Error() string {
	provider := e.Provider
	if provider == "" {
		provider = "core"
	}
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.HTTP > 0 {
		return fmt.Sprintf("%s: %s (%d): %s", provider, e.Code, e.HTTP, msg)
	}
	return fmt.Sprintf("%s: %s: %s", provider, e.Code, msg)
}

// Unwrap preserves the original error chain.
func (e *SdkError) Unwrap() error { return e.Cause }

// AsSdkError returns the first SdkError in err's chain, if any.
func AsSdkError(err error) (*SdkError, bool) {
	var se *SdkError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// IsCode reports whether err's chain contains an SdkError with the given code.
func IsCode(err error, code ErrorCode) bool {
	se, ok := AsSdkError(err)
	return ok && se.Code == code
}
