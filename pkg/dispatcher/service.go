package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/invoke-bridge/pkg/commsutil"
)

const serviceLogPrefix = "dispatcher:service"

// ServeOpts configures Serve. Zero values use defaults.
type ServeOpts struct {
	Prefix string
	// Queue is the queue group shared by service replicas.
	Queue          string
	RequestTimeout time.Duration
}

// Serve answers command requests under opts.Prefix with d until the
// returned subscription is drained. Handler contexts derive from ctx.
func Serve(ctx context.Context, nc *comms.Conn, d *Dispatcher, opts ServeOpts) (*comms.Subscription, error) {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = commsutil.DefaultCommandPrefix
	}
	requestTimeout := opts.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = DefaultRequestTimeout
	}

	handler := func(msg *comms.Msg) {
		var req CommandRequest
		if err := commsutil.DecodePayload(msg.Data, &req); err != nil {
			slog.Error(fmt.Sprintf("%s - failed to decode request: %v", serviceLogPrefix, err))
			respond(msg, errorResponse("", CodeInvalidRequest, "Failed to decode request", false))
			return
		}
		if req.Command == "" {
			if _, command, ok := commsutil.ParseCommandSubject(prefix, msg.Subject); ok {
				req.Command = command
			}
		}

		// Per-request context with timeout; optionally respect client deadline
		timeout := requestTimeout
		if req.TimeoutMs > 0 && time.Duration(req.TimeoutMs)*time.Millisecond < timeout {
			timeout = time.Duration(req.TimeoutMs) * time.Millisecond
		}
		reqCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		respond(msg, d.Dispatch(reqCtx, &req))
	}

	subject := commsutil.Wildcard(prefix)
	var (
		sub *comms.Subscription
		err error
	)
	if opts.Queue != "" {
		sub, err = nc.QueueSubscribe(subject, opts.Queue, handler)
	} else {
		sub, err = nc.Subscribe(subject, handler)
	}
	if err != nil {
		return nil, fmt.Errorf("%s - failed to subscribe to %s: %w", serviceLogPrefix, subject, err)
	}
	slog.Info(fmt.Sprintf("%s - Serving commands on %s", serviceLogPrefix, subject))
	return sub, nil
}

func respond(msg *comms.Msg, resp *CommandResponse) {
	data, err := commsutil.EncodePayload(resp)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - failed to encode response: %v", serviceLogPrefix, err))
		return
	}
	if err := msg.Respond(data); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to respond: %v", serviceLogPrefix, err))
	}
}
