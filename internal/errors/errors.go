// Package errors maps domain errors onto HTTP responses. Validation failures
// render as RFC 7807 problem details carrying the engine's localization id
// and structured arguments.
package errors

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/render"
)

// ProblemDetails implements RFC 7807 Problem Details for HTTP APIs
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`

	Extensions map[string]interface{} `json:"-"`
}

// Render implements the render.Renderer interface
func (pd *ProblemDetails) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, pd.Status)
	return nil
}

// MarshalJSON includes the extension fields alongside the standard ones
func (pd *ProblemDetails) MarshalJSON() ([]byte, error) {
	data := make(map[string]interface{})

	data["type"] = pd.Type
	data["title"] = pd.Title
	data["status"] = pd.Status

	if pd.Detail != "" {
		data["detail"] = pd.Detail
	}
	if pd.Instance != "" {
		data["instance"] = pd.Instance
	}

	for k, v := range pd.Extensions {
		data[k] = v
	}

	return json.Marshal(data)
}

// NewProblemDetails creates a new RFC 7807 compliant error
func NewProblemDetails(status int, problemType, title, detail, instance string) *ProblemDetails {
	return &ProblemDetails{
		Type:       problemType,
		Title:      title,
		Status:     status,
		Detail:     detail,
		Instance:   instance,
		Extensions: make(map[string]interface{}),
	}
}

// WithExtension adds an extension field to the problem details
func (pd *ProblemDetails) WithExtension(key string, value interface{}) *ProblemDetails {
	pd.Extensions[key] = value
	return pd
}

// ErrInvalidRequest renders a malformed request body
func ErrInvalidRequest(err error, traceID string) render.Renderer {
	return NewProblemDetails(
		http.StatusBadRequest,
		"/errors/invalid-request",
		"Invalid Request",
		err.Error(),
		"/api/license/validate#"+traceID,
	).WithExtension("trace_id", traceID)
}

// ErrRateLimited renders an exhausted rate limit
func ErrRateLimited(traceID string) render.Renderer {
	return NewProblemDetails(
		http.StatusTooManyRequests,
		"/errors/rate-limited",
		"Too Many Requests",
		"Too many validation attempts. Please try again later.",
		"/api/license/validate#"+traceID,
	).WithExtension("trace_id", traceID)
}

// ErrInternal renders an unexpected server failure
func ErrInternal(err error, traceID string) render.Renderer {
	pd := NewProblemDetails(
		http.StatusInternalServerError,
		"/errors/internal-error",
		"Internal Server Error",
		"An unexpected error occurred while processing your request.",
		"/api/license/validate#"+traceID,
	).WithExtension("trace_id", traceID)
	if err != nil {
		pd.WithExtension("cause", err.Error())
	}
	return pd
}
