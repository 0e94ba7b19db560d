// Package handler implements HTTP request handlers
// Following Hexagonal Architecture: Adapters translate HTTP to domain logic
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// APIResponse represents the standard response envelope every management
// endpoint returns.
type APIResponse struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// NewSuccessResponse creates a successful response (code 200).
func NewSuccessResponse(data interface{}) APIResponse {
	return APIResponse{Code: http.StatusOK, Message: "success", Data: data}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(code int, message string) APIResponse {
	return APIResponse{Code: code, Message: message}
}

func BadRequestResponse(message string) APIResponse    { return NewErrorResponse(http.StatusBadRequest, message) }
func NotFoundResponse(message string) APIResponse       { return NewErrorResponse(http.StatusNotFound, message) }
func InternalErrorResponse(message string) APIResponse  { return NewErrorResponse(http.StatusInternalServerError, message) }

// writeJSON writes resp with its own Code as the HTTP status.
func writeJSON(w http.ResponseWriter, resp APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.Code)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

func writeOK(w http.ResponseWriter, data interface{})            { writeJSON(w, NewSuccessResponse(data)) }
func writeError(w http.ResponseWriter, code int, message string) { writeJSON(w, NewErrorResponse(code, message)) }
func badRequest(w http.ResponseWriter, message string)           { writeJSON(w, BadRequestResponse(message)) }
func internalError(w http.ResponseWriter, message string)        { writeJSON(w, InternalErrorResponse(message)) }
