// Package dispatcher carries view commands to the host code that runs them,
// either in-process or over COMMS request/reply, and feeds the outcome back
// through the bridge's responder.
package dispatcher

import "encoding/json"

// CommandRequest is the JSON envelope for a command sent to a command
// service.
type CommandRequest struct {
	// ID is the invocation's correlation id.
	ID      string          `json:"id"`
	View    string          `json:"view"`
	Command string          `json:"command"`
	Args    json.RawMessage `json:"args,omitempty"`
	// TimeoutMs lets the caller shorten the service's request timeout.
	TimeoutMs int `json:"timeoutMs,omitempty"`
}

// CommandResponse is the JSON envelope a command service answers with.
type CommandResponse struct {
	ID     string          `json:"id"`
	Ok     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ErrorDetail    `json:"error,omitempty"`
}

// ErrorDetail holds structured error information.
type ErrorDetail struct {
	Code      string      `json:"code"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
	Retryable bool        `json:"retryable"`
}

// Error codes produced by dispatchers, in addition to the bridge codes.
const (
	CodeCommandFailed  = "COMMAND_FAILED"
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeInternal       = "INTERNAL_ERROR"
	CodeUnavailable    = "UNAVAILABLE"
)
