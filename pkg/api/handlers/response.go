// Package handlers provides HTTP handlers for the FileFerry API.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	ferryerrors "github.com/fileferry/fileferry/pkg/ferry/errors"
	"github.com/fileferry/fileferry/internal/logger"
)

// response is the standard envelope all handlers write.
type response struct {
	Status    string      `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Code      string      `json:"code,omitempty"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		http.Error(w, `{"status":"error","error":"failed to encode response"}`, http.StatusInternalServerError)
	}
}

// okResponse creates a generic successful response.
func okResponse(data interface{}) response {
	return response{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// errorResponse creates a generic error response.
func errorResponse(code, errMsg string) response {
	return response{
		Status:    "error",
		Timestamp: time.Now().UTC(),
		Error:     errMsg,
		Code:      code,
	}
}

// healthyResponse creates a successful health check response.
func healthyResponse(data interface{}) response {
	return response{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// unhealthyResponse creates a failed health check response.
func unhealthyResponse(errMsg string) response {
	return response{
		Status:    "unhealthy",
		Timestamp: time.Now().UTC(),
		Error:     errMsg,
	}
}

// httpStatusFor maps an error code to its HTTP status.
func httpStatusFor(code ferryerrors.ErrorCode) int {
	switch code {
	case ferryerrors.ErrValidation:
		return http.StatusBadRequest
	case ferryerrors.ErrQuotaExceeded:
		return http.StatusRequestEntityTooLarge
	case ferryerrors.ErrLockTimeout:
		return http.StatusConflict
	case ferryerrors.ErrNotFound:
		return http.StatusNotFound
	case ferryerrors.ErrProviderTransient, ferryerrors.ErrProviderRejected:
		return http.StatusBadGateway
	case ferryerrors.ErrProviderUnavailable, ferryerrors.ErrCircuitOpen:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps a lifecycle error to its HTTP status and writes the
// envelope. Internal errors are surfaced generically; the cause stays in the
// server log.
func writeError(w http.ResponseWriter, err error) {
	code := ferryerrors.CodeOf(err)
	status := httpStatusFor(code)

	msg := err.Error()
	if code == ferryerrors.ErrInternal {
		logger.Error("API internal error", "error", err)
		msg = "internal error"
	}

	writeJSON(w, status, errorResponse(code.String(), msg))
}

// badRequest writes a 400 response with a Validation code.
func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse(ferryerrors.ErrValidation.String(), msg))
}

// decodeJSONBody decodes a JSON request body into the provided pointer.
// Returns true if successful, false if decoding fails (error response is
// written automatically).
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		badRequest(w, "Invalid request body")
		return false
	}
	return true
}
