// Package httputil holds the JSON response helpers shared by HTTP handlers.
package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	dErrors "glaze/pkg/domain-errors"
)

// ErrorResponse is the public error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}

// WriteJSON writes v as JSON with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps a domain error to its HTTP status. Messages of server-side
// failures are replaced with a generic text so internals never leak.
func WriteError(w http.ResponseWriter, err error) {
	de, ok := dErrors.As(err)
	if !ok {
		WriteJSON(w, http.StatusInternalServerError, ErrorResponse{Error: genericMessage})
		return
	}
	status := StatusFor(de.Code)
	message := de.Message
	if status >= http.StatusInternalServerError {
		message = genericMessage
	}
	WriteJSON(w, status, ErrorResponse{Error: message})
}

const genericMessage = "Something went wrong. Please try again later."

// StatusFor returns the HTTP status for a domain error code.
func StatusFor(code dErrors.Code) int {
	switch code {
	case dErrors.CodeBadRequest, dErrors.CodeValidation:
		return http.StatusBadRequest
	case dErrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case dErrors.CodeForbidden:
		return http.StatusForbidden
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeRateLimited, dErrors.CodeBudgetExceeded:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// IsBodyTooLarge reports whether err came from exceeding the DecodeJSON cap.
func IsBodyTooLarge(err error) bool {
	var tooLarge *http.MaxBytesError
	return errors.As(err, &tooLarge)
}

// DecodeJSON decodes a request body capped at maxBytes into dst.
// Oversized and malformed bodies both surface as validation errors.
func DecodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if IsBodyTooLarge(err) {
			return dErrors.Wrap(err, dErrors.CodeValidation, "Request body too large.")
		}
		if errors.Is(err, io.EOF) {
			return dErrors.Wrap(err, dErrors.CodeBadRequest, "Request body is required.")
		}
		return dErrors.Wrap(err, dErrors.CodeBadRequest, "Invalid request body.")
	}
	return nil
}
