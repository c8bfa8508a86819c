package graph

import (
	"fmt"
	"io"
	"net/http"

	"github.com/goccy/go-json"
)

// Error is a non-2xx Graph response.
type Error struct {
	StatusCode int    `json:"statusCode"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	RequestID  string `json:"requestId,omitempty"`
}

func (e *Error) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("graph: status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("graph: status %d: %s: %s", e.StatusCode, e.Code, e.Message)
}

// NotFound reports whether Graph answered 404.
func (e *Error) NotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

type errorEnvelope struct {
	Error struct {
		Code       string `json:"code"`
		Message    string `json:"message"`
		InnerError struct {
			RequestID string `json:"request-id"`
		} `json:"innerError"`
	} `json:"error"`
}

// maxErrorBody caps how much of an error response is read.
const maxErrorBody = 64 << 10

func parseError(resp *http.Response) *Error {
	gerr := &Error{StatusCode: resp.StatusCode}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil || len(body) == 0 {
		gerr.Message = http.StatusText(resp.StatusCode)
		return gerr
	}
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err != nil || env.Error.Code == "" {
		gerr.Message = string(body)
		return gerr
	}
	gerr.Code = env.Error.Code
	gerr.Message = env.Error.Message
	gerr.RequestID = env.Error.InnerError.RequestID
	if gerr.RequestID == "" {
		gerr.RequestID = resp.Header.Get("request-id")
	}
	return gerr
}
