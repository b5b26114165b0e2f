package invoke

import "errors"

// Error codes carried by BridgeError.
const (
	CodeViewNotFound        = "VIEW_NOT_FOUND"
	CodeInvalidPayload      = "INVALID_PAYLOAD"
	CodeUnsupportedEncoding = "UNSUPPORTED_ENCODING"
	CodeProtocolMismatch    = "PROTOCOL_MISMATCH"
	CodeDuplicateID         = "DUPLICATE_ID"
	CodeTimeout             = "TIMEOUT"
	CodeCommandNotFound     = "COMMAND_NOT_FOUND"
	CodeCommandNotAllowed   = "COMMAND_NOT_ALLOWED"
)

// BridgeError is a structured per-request error.
type BridgeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *BridgeError) Error() string {
	return e.Code + ": " + e.Message
}

// NewBridgeError creates a new BridgeError.
func NewBridgeError(code, message string) *BridgeError {
	return &BridgeError{Code: code, Message: message}
}

// HasCode reports whether err is a *BridgeError with the given code.
func HasCode(err error, code string) bool {
	var bErr *BridgeError
	if errors.As(err, &bErr) {
		return bErr.Code == code
	}
	return false
}
