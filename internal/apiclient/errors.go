package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Sentinel errors for API client failures.
var (
	ErrUnreachable    = errors.New("api unreachable")
	ErrTimeout        = errors.New("api request timeout")
	ErrSessionExpired = errors.New("session expired")
)

// APIError is a non-2xx response other than a rejected credential.
type APIError struct {
	Status  int
	Message string
	Code    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error: status %d", e.Status)
	}
	return fmt.Sprintf("api error: status %d: %s", e.Status, e.Message)
}

// IsValidation reports whether the server rejected the request input.
func (e *APIError) IsValidation() bool {
	return e.Status >= 400 && e.Status < 500
}

// IsServer reports whether the server failed to handle the request.
func (e *APIError) IsServer() bool {
	return e.Status >= 500
}

// AsAPIError unwraps err to an *APIError.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}

// errorBody accepts both {"message": "..."} and {"error": {"message": "..."}}
// as well as {"error": "..."}.
type errorBody struct {
	Message string          `json:"message"`
	Code    string          `json:"code"`
	Error   json.RawMessage `json:"error"`
}

type nestedError struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

func parseAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{Status: status}
	if len(body) == 0 {
		return apiErr
	}

	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		return apiErr
	}
	apiErr.Message = strings.TrimSpace(eb.Message)
	apiErr.Code = eb.Code

	if len(eb.Error) > 0 {
		var nested nestedError
		var text string
		switch {
		case json.Unmarshal(eb.Error, &nested) == nil:
			if apiErr.Message == "" {
				apiErr.Message = strings.TrimSpace(nested.Message)
			}
			if apiErr.Code == "" {
				apiErr.Code = nested.Code
			}
		case json.Unmarshal(eb.Error, &text) == nil:
			if apiErr.Message == "" {
				apiErr.Message = strings.TrimSpace(text)
			}
		}
	}
	return apiErr
}

func isSuccess(status int) bool {
	return status >= http.StatusOK && status < http.StatusMultipleChoices
}
