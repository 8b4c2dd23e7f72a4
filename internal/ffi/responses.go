// Package main provides the FFI exports for the mesh relay engine: a thin
// cgo boundary a host process (the BLE transport layer, typically) loads as
// a C-shared library and drives from any thread (spec.md §4.K).
//
// Memory Management Contract:
//   - Every export returns *C.char (heap-allocated JSON)
//   - Callers MUST call GoFree() on every returned pointer
//   - Pattern: Go allocates via C.CString, the host frees via GoFree
//
// Error Handling:
//   - Every export returns {"success": bool, "data": {...}, "error": {...}}
//   - Panics are recovered and converted into an error response instead of
//     crashing the host process
package main

import (
	"encoding/json"

	"github.com/yourusername/meshrelay/internal/relay"
)

// FFIError is the error half of an FFIResponse: a stable code (reused
// directly from relay.RelayError.Code so a host need learn only one error
// vocabulary), a human-readable message, and optional structured context.
type FFIError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// FFIResponse is the single envelope every exported function returns.
type FFIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *FFIError   `json:"error,omitempty"`
}

// NewSuccessResponse wraps data in a successful FFIResponse.
func NewSuccessResponse(data interface{}) *FFIResponse {
	return &FFIResponse{Success: true, Data: data}
}

// NewErrorResponse builds a failed FFIResponse from a raw code and message,
// for boundary failures (bad JSON, unknown handle) that never touched the
// relay engine itself.
func NewErrorResponse(code, message string) *FFIResponse {
	return &FFIResponse{Success: false, Error: &FFIError{Code: code, Message: message}}
}

// NewErrorResponseFromErr classifies err as a relay.RelayError when possible
// (preserving its stable Code), falling back to a generic internal code for
// anything else.
func NewErrorResponseFromErr(err error) *FFIResponse {
	if relayErr, ok := relay.AsRelayError(err); ok {
		return &FFIResponse{Success: false, Error: &FFIError{Code: relayErr.Code, Message: relayErr.Message}}
	}
	return &FFIResponse{Success: false, Error: &FFIError{Code: errCodeInternal, Message: err.Error()}}
}

// errCodeInternal covers failures that never produced a relay.RelayError.
// Malformed host requests use errCodeInvalidInput instead, and a panic
// recovered at the FFI boundary uses errCodeLibraryPanic.
const (
	errCodeInternal      = "ERR_INTERNAL"
	errCodeInvalidInput  = "ERR_INVALID_INPUT"
	errCodeUnknownHandle = "ERR_UNKNOWN_HANDLE"
	errCodeLibraryPanic  = "ERR_LIBRARY_PANIC"
)

func toJSON(resp *FFIResponse) string {
	b, err := json.Marshal(resp)
	if err != nil {
		// json.Marshal on an FFIResponse built entirely of strings, bools,
		// and maps of basic types cannot realistically fail; this is a
		// last-resort literal so the export still returns valid JSON.
		return `{"success":false,"error":{"code":"ERR_INTERNAL","message":"failed to marshal response"}}`
	}
	return string(b)
}
