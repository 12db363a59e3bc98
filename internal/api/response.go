package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/goodtune/screentime/internal/usage"
	"github.com/rs/zerolog"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Field   string `json:"field,omitempty"`
	Code    int    `json:"code"`
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		http.Error(w, `{"error":"Internal Server Error","message":"Failed to encode response"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(buf.Bytes())
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}

func writeFieldError(w http.ResponseWriter, field, message string) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{
		Error:   http.StatusText(http.StatusBadRequest),
		Message: message,
		Field:   field,
		Code:    http.StatusBadRequest,
	})
}

// writeServiceError maps usage errors to HTTP status codes
func writeServiceError(w http.ResponseWriter, err error, logger zerolog.Logger) {
	var verr *usage.ValidationError
	switch {
	case errors.As(err, &verr):
		writeFieldError(w, verr.Field, verr.Message)
	case errors.Is(err, usage.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, usage.ErrPINRequired):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, usage.ErrForbidden):
		writeError(w, http.StatusForbidden, "Access denied")
	case errors.Is(err, usage.ErrSessionEnded):
		writeError(w, http.StatusConflict, err.Error())
	default:
		logger.Error().Err(err).Msg("Request failed")
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}
