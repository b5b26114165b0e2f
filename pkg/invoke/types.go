// Package invoke defines the contract shared by both bridge bindings: the
// payload a view submits, the result the host produces, the responder that
// carries the result back, and the host capabilities the bridge consumes.
package invoke

import "encoding/json"

// View is one addressable front-end surface known to the host.
type View interface {
	Label() string
	// Allows reports whether the view may invoke command.
	Allows(command string) bool
}

// ViewResolver resolves a view identifier. It returns a *BridgeError with
// CodeViewNotFound when the label is unknown.
type ViewResolver interface {
	Resolve(label string) (View, error)
}

// Dispatcher submits a payload to the host. Submit must not block on the
// command; the host fires the Responder it was constructed with exactly once
// per submitted payload, later, from any goroutine.
type Dispatcher interface {
	Submit(view View, payload *Payload)
}

// Responder delivers the result for a previously submitted payload. callback
// and errorID are the payload's correlation tokens.
type Responder func(viewID string, result Result, callback, errorID CallbackID)

// Result is the outcome of a host command.
type Result struct {
	OK    bool
	Value any
}

// Ok wraps a success value.
func Ok(v any) Result {
	return Result{OK: true, Value: v}
}

// Err wraps a failure value.
func Err(v any) Result {
	return Result{OK: false, Value: v}
}

// MarshalValue serializes the result value as the response body.
func (r Result) MarshalValue() ([]byte, error) {
	if raw, ok := r.Value.(json.RawMessage); ok && len(raw) > 0 {
		return raw, nil
	}
	return json.Marshal(r.Value)
}
