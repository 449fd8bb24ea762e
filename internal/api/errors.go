package api

import (
	"errors"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/nerrad567/gray-logic-switchbot/internal/bridges/switchbot"
	"github.com/nerrad567/gray-logic-switchbot/internal/device"
	"github.com/nerrad567/gray-logic-switchbot/internal/synchronizer"
)

// Error is the body of every non-2xx response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	ErrCodeBadRequest         = "bad_request"
	ErrCodeNotFound           = "not_found"
	ErrCodeConflict           = "busy"
	ErrCodeTooLarge           = "payload_too_large"
	ErrCodeInternal           = "internal_error"
	ErrCodeValidation         = "validation_error"
	ErrCodeServiceUnavailable = "service_unavailable"
)

// maxQueryParamLen bounds IDs and query parameters.
const maxQueryParamLen = 128

// bridgeErrors maps bridge and device errors to responses. The first match
// wins, so more specific errors come first.
var bridgeErrors = []struct {
	err     error
	status  int
	code    string
	message string
}{
	{device.ErrInvalidValue, http.StatusUnprocessableEntity, ErrCodeValidation, ""},
	{switchbot.ErrInvalidMessage, http.StatusBadRequest, ErrCodeBadRequest, "invalid payload"},
	{switchbot.ErrUnknownDevice, http.StatusNotFound, ErrCodeNotFound, "device not managed by this bridge"},
	{synchronizer.ErrStopped, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "device is shutting down"},
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
}

// writeBridgeError answers with the mapping for err, or a 500 carrying
// fallback when err is not a known bridge error. Validation errors keep
// their own text since it names the field and the accepted range.
func writeBridgeError(w http.ResponseWriter, err error, fallback string) {
	for _, m := range bridgeErrors {
		if errors.Is(err, m.err) {
			msg := m.message
			if msg == "" {
				msg = err.Error()
			}
			writeError(w, m.status, m.code, msg)
			return
		}
	}
	writeInternalError(w, fallback)
}

// writeBodyError answers a failed body read: 413 when the size limit was
// hit, 400 otherwise.
func writeBodyError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, ErrCodeTooLarge, "request body too large")
		return
	}
	writeBadRequest(w, "failed to read body")
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

func writeConflict(w http.ResponseWriter, message string) {
	writeError(w, http.StatusConflict, ErrCodeConflict, message)
}

func writeUnavailable(w http.ResponseWriter, message string) {
	writeError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}
