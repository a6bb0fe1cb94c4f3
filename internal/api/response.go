// Package api writes the eval-server JSON response envelope.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/RyanPotat/eval-server/internal/debug"
)

// ErrorItem is a single error entry in an EvalResult envelope.
type ErrorItem struct {
	Message string `json:"message"`
}

// EvalResult is the single merged response envelope for POST /eval.
// data carries exactly one element on success, zero on failure.
type EvalResult struct {
	Data       []string    `json:"data"`
	StatusCode int         `json:"statusCode"`
	Duration   float64     `json:"duration"`
	Errors     []ErrorItem `json:"errors,omitempty"`
}

// Write serializes result and sets the HTTP status to match result.StatusCode.
//
// Example:
//
//	api.Write(w, api.EvalResult{Data: []string{"2"}, StatusCode: 200, Duration: 1.2345})
func Write(w http.ResponseWriter, result EvalResult) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(result.StatusCode)

	if err := json.NewEncoder(w).Encode(result); err != nil {
		debug.Warn("api", "failed to encode eval result: %v", err)
	}
}

// Success writes the 200 envelope for a completed evaluation.
func Success(w http.ResponseWriter, value string, durationMS float64) {
	Write(w, EvalResult{
		Data:       []string{value},
		StatusCode: http.StatusOK,
		Duration:   durationMS,
	})
}

// AuthFailed writes the 418 envelope for a rejected bearer token.
func AuthFailed(w http.ResponseWriter, durationMS float64) {
	Write(w, EvalResult{
		Data:       []string{},
		StatusCode: http.StatusTeapot,
		Duration:   durationMS,
		Errors:     []ErrorItem{{Message: "not today my little bish xqcL"}},
	})
}

// InternalError writes the 500 envelope for a queue or transport failure.
// The real error is logged but never returned to the caller.
func InternalError(w http.ResponseWriter, durationMS float64, err error) {
	if err != nil {
		debug.Warn("api", "internal error: %v", err)
	}
	Write(w, EvalResult{
		Data:       []string{},
		StatusCode: http.StatusInternalServerError,
		Duration:   durationMS,
		Errors:     []ErrorItem{{Message: "Internal server error"}},
	})
}
