package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/morezero/invoke-bridge/pkg/invoke"
)

const localLogPrefix = "dispatcher:local"

// LocalParams configures a Local dispatcher.
type LocalParams struct {
	Dispatcher *Dispatcher
	Responder  invoke.Responder
	// Timeout bounds each command's context. Zero means no bound.
	Timeout time.Duration
}

// Local runs commands in-process. It implements invoke.Dispatcher.
type Local struct {
	d         *Dispatcher
	responder invoke.Responder
	timeout   time.Duration

	ctx      context.Context
	cancel   context.CancelFunc
	inflight inflight
}

// NewLocal creates a Local dispatcher. The responder is the one obtained
// from the bridge it will be started with.
func NewLocal(p LocalParams) *Local {
	ctx, cancel := context.WithCancel(context.Background())
	return &Local{
		d:         p.Dispatcher,
		responder: p.Responder,
		timeout:   p.Timeout,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Submit runs the command on its own goroutine and fires the responder
// once it finishes.
func (l *Local) Submit(view invoke.View, payload *invoke.Payload) {
	req := requestFor(view, payload)
	if !l.inflight.enter() {
		slog.Warn(fmt.Sprintf("%s - dispatcher closed; refusing %s for view %s", localLogPrefix, req.Command, req.View))
		l.responder(req.View, toResult(closedResponse(req)), payload.Callback, payload.Error)
		return
	}
	go func() {
		defer l.inflight.leave()
		var resp *CommandResponse
		if !view.Allows(req.Command) {
			slog.Warn(fmt.Sprintf("%s - view %s may not call %s", localLogPrefix, req.View, req.Command))
			resp = notAllowed(req)
		} else {
			ctx, cancel := l.commandContext()
			resp = l.d.Dispatch(ctx, req)
			cancel()
		}
		l.responder(req.View, toResult(resp), payload.Callback, payload.Error)
	}()
}

func (l *Local) commandContext() (context.Context, context.CancelFunc) {
	if l.timeout > 0 {
		return context.WithTimeout(l.ctx, l.timeout)
	}
	return context.WithCancel(l.ctx)
}

// Close cancels running commands and waits for their results to be
// delivered. Later submissions are answered UNAVAILABLE at once.
func (l *Local) Close() {
	l.cancel()
	l.inflight.close()
}
