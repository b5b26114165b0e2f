package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/invoke-bridge/pkg/commsutil"
	"github.com/morezero/invoke-bridge/pkg/invoke"
)

const commsLogPrefix = "dispatcher:comms"

// DefaultRequestTimeout bounds a COMMS command request.
const DefaultRequestTimeout = 25 * time.Second

// CommsParams configures a CommsDispatcher.
type CommsParams struct {
	Conn      *comms.Conn
	Responder invoke.Responder
	// Prefix defaults to commsutil.DefaultCommandPrefix.
	Prefix  string
	Timeout time.Duration
}

// CommsDispatcher forwards commands to a command service over COMMS
// request/reply. It implements invoke.Dispatcher.
type CommsDispatcher struct {
	nc        *comms.Conn
	responder invoke.Responder
	prefix    string
	timeout   time.Duration

	ctx      context.Context
	cancel   context.CancelFunc
	inflight inflight
}

// NewCommsDispatcher creates a CommsDispatcher.
func NewCommsDispatcher(p CommsParams) *CommsDispatcher {
	prefix := p.Prefix
	if prefix == "" {
		prefix = commsutil.DefaultCommandPrefix
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &CommsDispatcher{
		nc:        p.Conn,
		responder: p.Responder,
		prefix:    prefix,
		timeout:   timeout,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Submit requests the command in the background and fires the responder
// with the service's answer, or with the transport failure.
func (c *CommsDispatcher) Submit(view invoke.View, payload *invoke.Payload) {
	req := requestFor(view, payload)
	if !c.inflight.enter() {
		slog.Warn(fmt.Sprintf("%s - dispatcher closed; refusing %s for view %s", commsLogPrefix, req.Command, req.View))
		c.responder(req.View, toResult(closedResponse(req)), payload.Callback, payload.Error)
		return
	}
	go func() {
		defer c.inflight.leave()
		var resp *CommandResponse
		if !view.Allows(req.Command) {
			slog.Warn(fmt.Sprintf("%s - view %s may not call %s", commsLogPrefix, req.View, req.Command))
			resp = notAllowed(req)
		} else {
			resp = c.request(req)
		}
		c.responder(req.View, toResult(resp), payload.Callback, payload.Error)
	}()
}

func (c *CommsDispatcher) request(req *CommandRequest) *CommandResponse {
	subject := commsutil.BuildCommandSubject(c.prefix, req.View, req.Command)
	req.TimeoutMs = int(c.timeout / time.Millisecond)
	data, err := commsutil.EncodePayload(req)
	if err != nil {
		return errorResponse(req.ID, CodeInternal, fmt.Sprintf("failed to encode request: %v", err), false)
	}

	ctx, cancel := context.WithTimeout(c.ctx, c.timeout)
	defer cancel()
	msg, err := c.nc.RequestWithContext(ctx, subject, data)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - request on %s failed: %v", commsLogPrefix, subject, err))
		switch {
		case errors.Is(err, comms.ErrNoResponders):
			return errorResponse(req.ID, invoke.CodeCommandNotFound, fmt.Sprintf("no command service for %s", req.Command), true)
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, comms.ErrTimeout):
			return errorResponse(req.ID, invoke.CodeTimeout, fmt.Sprintf("command %s timed out after %s", req.Command, c.timeout), true)
		default:
			return errorResponse(req.ID, CodeUnavailable, err.Error(), true)
		}
	}

	var resp CommandResponse
	if err := commsutil.DecodePayload(msg.Data, &resp); err != nil {
		return errorResponse(req.ID, CodeInvalidRequest, fmt.Sprintf("failed to decode response: %v", err), false)
	}
	return &resp
}

// Close cancels in-flight requests and waits for their results to be
// delivered. Later submissions are answered UNAVAILABLE at once.
func (c *CommsDispatcher) Close() {
	c.cancel()
	c.inflight.close()
}
