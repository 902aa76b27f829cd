package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// ErrNetwork wraps failures where no response was received.
var ErrNetwork = errors.New("network error")

// ErrorBody is the structured body of a non-2xx API response.
type ErrorBody struct {
	Status    string       `json:"status"`
	Code      int          `json:"code"`
	Timestamp string       `json:"timestamp"`
	Message   string       `json:"message"`
	Errors    []FieldError `json:"errors,omitempty"`
}

// FieldError is one entry of ErrorBody.Errors.
type FieldError struct {
	Message         string `json:"message"`
	Field           string `json:"field,omitempty"`
	RejectedValue   string `json:"rejectedValue,omitempty"`
	RequestedObject string `json:"requestedObject,omitempty"`
	ObjectType      string `json:"objectType,omitempty"`
}

// APIError is returned for any non-2xx response. Its message is the server's
// message, suitable for showing to the user.
type APIError struct {
	StatusCode int
	Body       ErrorBody
}

func (e *APIError) Error() string {
	if e.Body.Message != "" {
		return e.Body.Message
	}
	return fmt.Sprintf("review api returned status: %d", e.StatusCode)
}

// decodeError reads resp.Body into an APIError. Bodies that are not the
// structured error shape fall back to the HTTP status text.
func decodeError(resp *http.Response) *APIError {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err == nil && len(data) > 0 {
		_ = json.Unmarshal(data, &apiErr.Body)
	}
	if apiErr.Body.Message == "" {
		apiErr.Body.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}
