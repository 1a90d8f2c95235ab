package cursor

import (
	"errors"
	"fmt"
)

// Stable error codes attached at the source so callers never pattern-match
// on message text.
const (
	CodeAuthFailed   = "AUTH_FAILED"
	CodeRateLimit    = "RATE_LIMIT"
	CodeAPIError     = "CURSOR_API_ERROR"
	CodeNetworkError = "NETWORK_ERROR"
)

// maxBodySnippet bounds the response body attached to API errors.
const maxBodySnippet = 200

// APIError is a typed outcome for any non-2xx response or transport failure
// from the Cloud Agent service.
type APIError struct {
	Code       string // one of the Code* constants
	StatusCode int    // zero for transport failures
	Body       string // response body, truncated
	Op         string // endpoint that failed, e.g. "create agent"
	Err        error  // underlying transport error, if any
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s (HTTP %d): %s", e.Op, e.Code, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Code, e.Err)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// ErrorCode extracts the stable code from an error chain, or empty string.
func ErrorCode(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

// Retryable reports whether the outbox should retry the failure. Auth
// failures are retried too, in case of transient header propagation; the
// attempt ceiling makes them terminal eventually.
func Retryable(err error) bool {
	switch ErrorCode(err) {
	case CodeAuthFailed, CodeRateLimit, CodeAPIError, CodeNetworkError:
		return true
	}
	return false
}

func classifyStatus(op string, status int, body string) *APIError {
	if len(body) > maxBodySnippet {
		body = body[:maxBodySnippet]
	}
	code := CodeAPIError
	switch {
	case status == 401 || status == 403:
		code = CodeAuthFailed
	case status == 429:
		code = CodeRateLimit
	}
	return &APIError{Code: code, StatusCode: status, Body: body, Op: op}
}

func transportError(op string, err error) *APIError {
	return &APIError{Code: CodeNetworkError, Op: op, Err: err}
}
