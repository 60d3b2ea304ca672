package model

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/Laisky/llm-gateway/relay/apiformat"
)

// Error is the provider-agnostic error payload carried through the dispatch
// path; it is rendered into the client's dialect at the edge.
type Error struct {
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
	Param   string `json:"param,omitempty"`
	Code    any    `json:"code,omitempty"`
}

// ErrorWithStatusCode pairs an Error with the HTTP status to surface.
type ErrorWithStatusCode struct {
	Error
	StatusCode int `json:"-"`
}

// NewError builds an ErrorWithStatusCode with a generic type derived from the
// status code.
func NewError(statusCode int, message string) *ErrorWithStatusCode {
	return &ErrorWithStatusCode{
		StatusCode: statusCode,
		Error: Error{
			Message: message,
			Type:    openAIErrorType(statusCode),
		},
	}
}

// NewErrorf builds an ErrorWithStatusCode from a format string.
func NewErrorf(statusCode int, format string, args ...any) *ErrorWithStatusCode {
	return NewError(statusCode, fmt.Sprintf(format, args...))
}

func openAIErrorType(statusCode int) string {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return "rate_limit_error"
	case statusCode == http.StatusUnauthorized:
		return "authentication_error"
	case statusCode == http.StatusForbidden:
		return "permission_error"
	case statusCode >= 400 && statusCode < 500:
		return "invalid_request_error"
	default:
		return "api_error"
	}
}

func claudeErrorType(statusCode int) string {
	switch statusCode {
	case http.StatusBadRequest:
		return "invalid_request_error"
	case http.StatusUnauthorized:
		return "authentication_error"
	case http.StatusForbidden:
		return "permission_error"
	case http.StatusNotFound:
		return "not_found_error"
	case http.StatusRequestEntityTooLarge:
		return "request_too_large"
	case http.StatusTooManyRequests:
		return "rate_limit_error"
	case 529:
		return "overloaded_error"
	default:
		return "api_error"
	}
}

func geminiErrorStatus(statusCode int) string {
	switch statusCode {
	case http.StatusBadRequest:
		return "INVALID_ARGUMENT"
	case http.StatusUnauthorized:
		return "UNAUTHENTICATED"
	case http.StatusForbidden:
		return "PERMISSION_DENIED"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusTooManyRequests:
		return "RESOURCE_EXHAUSTED"
	case http.StatusGatewayTimeout:
		return "DEADLINE_EXCEEDED"
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		return "UNAVAILABLE"
	default:
		return "INTERNAL"
	}
}

// RenderError serialises e into the wire-format error body of the client's
// original dialect. Failure bodies always speak the dialect the request
// arrived in, not the dialect of the upstream that failed.
func RenderError(dialect apiformat.Dialect, e *ErrorWithStatusCode) []byte {
	if e == nil {
		return nil
	}

	switch dialect.Family() {
	case apiformat.FamilyClaude:
		body, _ := json.Marshal(map[string]any{
			"type": "error",
			"error": map[string]any{
				"type":    claudeErrorType(e.StatusCode),
				"message": e.Message,
			},
		})
		return body
	case apiformat.FamilyGemini:
		body, _ := json.Marshal(map[string]any{
			"error": map[string]any{
				"code":    e.StatusCode,
				"message": e.Message,
				"status":  geminiErrorStatus(e.StatusCode),
			},
		})
		return body
	default:
		typ := e.Type
		if typ == "" {
			typ = openAIErrorType(e.StatusCode)
		}
		body, _ := json.Marshal(map[string]any{
			"error": map[string]any{
				"message": e.Message,
				"type":    typ,
				"param":   e.Param,
				"code":    e.Code,
			},
		})
		return body
	}
}
