package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/morezero/invoke-bridge/pkg/invoke"
)

const logPrefix = "dispatcher:dispatch"

// Call is one command invocation as seen by a handler.
type Call struct {
	ID      string
	View    string
	Command string
	Args    json.RawMessage
}

// Bind decodes the call arguments into v. Missing arguments leave v
// untouched.
func (c *Call) Bind(v any) error {
	if len(c.Args) == 0 {
		return nil
	}
	if err := json.Unmarshal(c.Args, v); err != nil {
		return invoke.NewBridgeError(invoke.CodeInvalidPayload, fmt.Sprintf("invalid arguments for %s: %v", c.Command, err))
	}
	return nil
}

// HandlerFunc runs a command. The returned value becomes the success
// result; a returned error becomes the failure result.
type HandlerFunc func(ctx context.Context, call *Call) (any, error)

// Dispatcher routes commands to registered handlers.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]HandlerFunc)}
}

// Handle registers fn for command, replacing any earlier handler.
func (d *Dispatcher) Handle(command string, fn HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[command] = fn
}

// Commands returns the registered command names, sorted.
func (d *Dispatcher) Commands() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Dispatch routes a request to its handler and returns a response.
func (d *Dispatcher) Dispatch(ctx context.Context, req *CommandRequest) *CommandResponse {
	slog.Debug(fmt.Sprintf("%s - command=%s view=%s id=%s", logPrefix, req.Command, req.View, req.ID))

	d.mu.RLock()
	fn, ok := d.handlers[req.Command]
	d.mu.RUnlock()
	if !ok {
		return errorResponse(req.ID, invoke.CodeCommandNotFound, fmt.Sprintf("Unknown command: %s", req.Command), false)
	}

	value, err := fn(ctx, &Call{ID: req.ID, View: req.View, Command: req.Command, Args: req.Args})
	if err != nil {
		return commandErrorToResponse(req.ID, err)
	}
	result, err := json.Marshal(value)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - failed to encode result of %s: %v", logPrefix, req.Command, err))
		return errorResponse(req.ID, CodeInternal, "Result is not serializable", false)
	}
	return &CommandResponse{ID: req.ID, Ok: true, Result: result}
}

// --- helpers ---

func errorResponse(id, code, message string, retryable bool) *CommandResponse {
	return &CommandResponse{
		ID: id,
		Ok: false,
		Error: &ErrorDetail{
			Code:      code,
			Message:   message,
			Retryable: retryable,
		},
	}
}

func commandErrorToResponse(id string, err error) *CommandResponse {
	var bErr *invoke.BridgeError
	if errors.As(err, &bErr) {
		return errorResponse(id, bErr.Code, bErr.Message, false)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errorResponse(id, invoke.CodeTimeout, err.Error(), true)
	}
	return errorResponse(id, CodeCommandFailed, err.Error(), false)
}

// toResult maps a command response onto the result handed to the view. A
// failure carries the error message, the way host commands report errors
// as strings.
func toResult(resp *CommandResponse) invoke.Result {
	if resp.Ok {
		if len(resp.Result) == 0 {
			return invoke.Ok(nil)
		}
		return invoke.Ok(resp.Result)
	}
	if resp.Error == nil {
		return invoke.Err("command failed")
	}
	return invoke.Err(resp.Error.Message)
}

func requestFor(view invoke.View, payload *invoke.Payload) *CommandRequest {
	return &CommandRequest{
		ID:      payload.CorrelationID(),
		View:    view.Label(),
		Command: payload.Command,
		Args:    payload.Args,
	}
}

// notAllowed answers a command outside the view's allowlist.
func notAllowed(req *CommandRequest) *CommandResponse {
	return errorResponse(req.ID, invoke.CodeCommandNotAllowed,
		fmt.Sprintf("command %s is not allowed for view %s", req.Command, req.View), false)
}

// closedResponse answers a submission that arrived after Close.
func closedResponse(req *CommandRequest) *CommandResponse {
	return errorResponse(req.ID, CodeUnavailable, "dispatcher is closed", false)
}
