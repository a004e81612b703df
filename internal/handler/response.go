package handler

// RESPONSE HELPERS:
// These functions standardise how we send JSON responses and errors.
//
// Without helpers, every handler repeats the same boilerplate:
//   w.Header().Set("Content-Type", "application/json")
//   w.WriteHeader(statusCode)
//   json.NewEncoder(w).Encode(data)
//
// CONSISTENT ERROR FORMAT:
// Every error response from our API has the same shape:
//   {"error": "Insufficient credits", "code": "insufficient_credits"}
//
// "error" is the message the web client shows to the user as-is; "code" is
// what the client branches on.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/imagine/internal/apperror"
)

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse struct {
	Error string `json:"error"` // Human-readable, safe to display
	Code  string `json:"code"`  // Machine-readable error type (e.g., "not_found")
}

// writeJSON sends a JSON response with the given status code.
//
// HEADER ORDER MATTERS:
// Headers and status code must be set BEFORE writing the body. Once
// Encode writes, the headers are sent and later changes are ignored.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are already sent, we can only log it.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// errorStatus maps a domain sentinel to its HTTP status and machine code.
//
// Pass the AppError's own Err, not the error itself: AppError.Unwrap also
// yields the cause, and a StoreUnavailable wrapping a Conflict must stay a
// 500.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, apperror.ErrValidation):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, apperror.ErrInsufficientCredits):
		return http.StatusBadRequest, "insufficient_credits"
	case errors.Is(err, apperror.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, apperror.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperror.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, apperror.ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, apperror.ErrGenerationFailed):
		return http.StatusInternalServerError, "generation_failed"
	case errors.Is(err, apperror.ErrStoreUnavailable):
		return http.StatusInternalServerError, "store_unavailable"
	}
	return http.StatusInternalServerError, "internal_error"
}

// writeError maps a domain error to the appropriate HTTP status code and
// sends it.
//
// ERROR MAPPING:
// The service layer returns *apperror.AppError values and never knows about
// HTTP. This is the single place where they become status codes.
func writeError(w http.ResponseWriter, err error) {
	status, body := errorBody(err)
	writeJSON(w, status, body)
}

func errorBody(err error) (int, ErrorResponse) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		status, code := errorStatus(appErr.Err)
		return status, ErrorResponse{Error: appErr.Message, Code: code}
	}

	// Unknown error: NEVER expose internal details to the client.
	// The raw message might contain SQL, file paths, or provider output.
	return http.StatusInternalServerError, ErrorResponse{
		Error: "An internal error occurred",
		Code:  "internal_error",
	}
}

// maxBody caps request bodies; it comfortably fits the longest allowed prompt.
const maxBody = 64 << 10
