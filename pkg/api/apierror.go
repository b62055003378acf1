// Package api exposes the review engine over HTTP with RFC 7807 Problem
// Detail error responses.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/transferdesk/transferdesk/pkg/review"
)

// ProblemDetail implements RFC 7807 (Problem Details for HTTP APIs).
// All API error responses use this format.
type ProblemDetail struct {
	// Type is a URI reference that identifies the problem type.
	Type string `json:"type"`
	// Title is a short, human-readable summary of the problem type.
	Title string `json:"title"`
	// Status is the HTTP status code.
	Status int `json:"status"`
	// Detail is a human-readable explanation specific to this occurrence.
	Detail string `json:"detail,omitempty"`
	// Instance is a URI reference identifying the specific occurrence.
	Instance string `json:"instance,omitempty"`
	// TraceID links to the request log line for this occurrence.
	TraceID string `json:"trace_id,omitempty"`
}

// Error implements the error interface.
func (p *ProblemDetail) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

// WriteError writes an RFC 7807 Problem Detail JSON response.
func WriteError(w http.ResponseWriter, status int, title, detail string) {
	problem := &ProblemDetail{
		Type:   fmt.Sprintf("https://transferdesk.dev/errors/%d", status),
		Title:  title,
		Status: status,
		Detail: detail,
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem)
}

// WriteErrorR writes an RFC 7807 response enriched with request context.
func WriteErrorR(w http.ResponseWriter, r *http.Request, status int, title, detail string) {
	problem := &ProblemDetail{
		Type:     fmt.Sprintf("https://transferdesk.dev/errors/%d", status),
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
		TraceID:  w.Header().Get("X-Request-ID"),
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem)
}

// WriteEngineError maps the engine error taxonomy onto HTTP statuses:
// ValidationError 400, NotFoundError 404, StoreError 502, anything else 500.
func WriteEngineError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validation *review.ValidationError
		notFound   *review.NotFoundError
		storeErr   *review.StoreError
	)
	switch {
	case errors.As(err, &validation):
		WriteErrorR(w, r, http.StatusBadRequest, "Validation Failed", validation.Error())
	case errors.As(err, &notFound):
		WriteErrorR(w, r, http.StatusNotFound, "Not Found", notFound.Error())
	case errors.As(err, &storeErr):
		WriteErrorR(w, r, http.StatusBadGateway, "Store Unavailable", storeErr.Error())
	default:
		WriteErrorR(w, r, http.StatusInternalServerError, "Internal Error", err.Error())
	}
}
