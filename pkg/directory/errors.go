package directory

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")
)

// ErrorClass represents a classification of request failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 Too Many Requests responses.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"
)

// APIError is an error reported by the directory service for a single request.
// Batch sub-requests carry one APIError each.
type APIError struct {
	StatusCode int
	Reason     string
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	msg := fmt.Sprintf("directory api error (status %d", e.StatusCode)
	if e.Reason != "" {
		msg += ", reason " + e.Reason
	}
	msg += "): " + e.Message
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// StatusCode returns the HTTP status carried by err, or 0 if err does not
// wrap an APIError.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// errorEnvelope is the JSON error body returned by the directory service.
type errorEnvelope struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Errors  []struct {
			Domain  string `json:"domain"`
			Reason  string `json:"reason"`
			Message string `json:"message"`
		} `json:"errors"`
	} `json:"error"`
}

// parseAPIError builds an APIError from a status code and an error body.
// Bodies that are not a JSON error envelope are kept verbatim as the message.
func parseAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status}

	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err != nil || env.Error.Message == "" {
		apiErr.Message = string(body)
		if apiErr.Message == "" {
			apiErr.Message = fmt.Sprintf("status %d", status)
		}
		return apiErr
	}

	apiErr.Message = env.Error.Message
	if len(env.Error.Errors) > 0 {
		apiErr.Reason = env.Error.Errors[0].Reason
	}
	return apiErr
}

// classifyError categorizes an error for retry decisions and observability.
func classifyError(err error) ErrorClass {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429:
			return ErrorClassRateLimit
		case apiErr.StatusCode >= 500:
			return ErrorClassServer
		default:
			return ErrorClassClient
		}
	}

	// Anything that never produced a response is a transport failure.
	return ErrorClassNetwork
}

// shouldRetry determines if an error should be retried based on its classification.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassClient:
		// 4xx errors are answered by the caller, not retried here
		return false
	case ErrorClassServer, ErrorClassRateLimit, ErrorClassNetwork:
		return true
	default:
		return false
	}
}
