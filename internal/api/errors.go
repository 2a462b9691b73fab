package api

import (
	"encoding/json"
	"net/http"

	"github.com/nerrad567/iot-mcp-bridge/internal/dispatch"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest = "bad_request"
	ErrCodeNotFound   = "not_found"
	ErrCodeInternal   = "internal_error"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// statusForResult maps a tool result to an HTTP status.
func statusForResult(res dispatch.Result) int {
	if res.Error == nil {
		return http.StatusOK
	}
	switch res.Error.Code {
	case dispatch.CodeInvalidArguments:
		return http.StatusBadRequest
	case dispatch.CodeNotFound, dispatch.CodeUnknownTool, dispatch.CodeNoMetrics:
		return http.StatusNotFound
	case dispatch.CodePreconditionFailed:
		return http.StatusConflict
	case dispatch.CodePublishFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeResult writes a tool result with the status its error code implies.
func writeResult(w http.ResponseWriter, res dispatch.Result) {
	writeJSON(w, statusForResult(res), res)
}
