// Package problems renders RFC 7807 Problem Details responses.
package problems

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

const ContentType = "application/problem+json"

const (
	TypeBadRequest   = "https://xentri.app/problems/bad-request"
	TypeValidation   = "https://xentri.app/problems/validation-error"
	TypeUnauthorized = "https://xentri.app/problems/unauthorized"
	TypeForbidden    = "https://xentri.app/problems/forbidden"
	TypeNotFound     = "https://xentri.app/problems/not-found"
	TypeRateLimited  = "https://xentri.app/problems/rate-limited"
	TypeInternal     = "https://xentri.app/problems/internal-error"
)

// RetryHint is appended to the detail of every retryable failure.
const RetryHint = "please retry"

// Problem is the error body returned by every endpoint.
type Problem struct {
	Type      string              `json:"type"`
	Title     string              `json:"title"`
	Status    int                 `json:"status"`
	Detail    string              `json:"detail,omitempty"`
	Instance  string              `json:"instance,omitempty"`
	TraceID   string              `json:"trace_id"`
	Errors    map[string][]string `json:"errors,omitempty"`
	Retryable bool                `json:"retryable,omitempty"`
}

func (p Problem) Error() string {
	if p.Detail != "" {
		return p.Title + ": " + p.Detail
	}
	return p.Title
}

func BadRequest(detail string) Problem {
	return Problem{Type: TypeBadRequest, Title: "Bad request", Status: http.StatusBadRequest, Detail: detail}
}

// Validation reports every failing field at once.
func Validation(detail string, fields map[string][]string) Problem {
	return Problem{Type: TypeValidation, Title: "Validation failed", Status: http.StatusUnprocessableEntity, Detail: detail, Errors: fields}
}

func Unauthorized(detail string) Problem {
	return Problem{Type: TypeUnauthorized, Title: "Unauthorized", Status: http.StatusUnauthorized, Detail: detail}
}

func Forbidden(detail string) Problem {
	return Problem{Type: TypeForbidden, Title: "Forbidden", Status: http.StatusForbidden, Detail: detail}
}

func NotFound(detail string) Problem {
	return Problem{Type: TypeNotFound, Title: "Not found", Status: http.StatusNotFound, Detail: detail}
}

func TooManyRequests(detail string) Problem {
	return Problem{Type: TypeRateLimited, Title: "Too many requests", Status: http.StatusTooManyRequests, Detail: detail, Retryable: true}
}

// Internal hides the cause; callers log it with the trace id.
func Internal(detail string) Problem {
	if detail == "" {
		detail = "internal error, " + RetryHint
	}
	return Problem{Type: TypeInternal, Title: "Internal error", Status: http.StatusInternalServerError, Detail: detail, Retryable: true}
}

// TraceID returns the correlation id of the request (chi's request id).
func TraceID(r *http.Request) string {
	if r == nil {
		return ""
	}
	return middleware.GetReqID(r.Context())
}

// Write renders p, filling trace id and instance from the request.
func Write(w http.ResponseWriter, r *http.Request, p Problem) {
	if p.TraceID == "" {
		p.TraceID = TraceID(r)
	}
	if p.Instance == "" && r != nil && r.URL != nil {
		p.Instance = r.URL.Path
	}
	if p.Status == 0 {
		p.Status = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", ContentType)
	if p.TraceID != "" {
		w.Header().Set("X-Trace-Id", p.TraceID)
	}
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}
