package api

import (
	"bytes"
	"encoding/json"
	"net/http"
)

// Stable error codes for the JSON error envelope.
const (
	CodeInvalidRequest  = "invalid_request"
	CodeNotFound        = "not_found"
	CodeConflict        = "conflict"
	CodeTooLarge        = "payload_too_large"
	CodeUnsupportedType = "unsupported_media_type"
	CodeRateLimited     = "rate_limited"
	CodeCSRF            = "csrf_rejected"
	CodeInternal        = "internal_error"
)

type dataEnvelope struct {
	Data any `json:"data"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeData writes {"data": v}. The body is encoded into a buffer first so
// an encoding failure can still become a 500 instead of a torn response.
func writeData(w http.ResponseWriter, status int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(dataEnvelope{Data: v}); err != nil {
		http.Error(w, `{"error":{"code":"internal_error","message":"response encoding failed"}}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// writeError writes {"error":{"code","message"}}.
func writeError(w http.ResponseWriter, status int, code, message string) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(errorEnvelope{Error: errorBody{Code: code, Message: message}}); err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}
