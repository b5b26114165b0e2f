package events

import (
	"context"
	"fmt"
	"log/slog"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/invoke-bridge/pkg/commsutil"
)

const forwarderLogPrefix = "events:comms_forwarder"

// CommsForwarder relays events published on COMMS to an Emitter, so host
// processes reach views through the bridge that owns them.
type CommsForwarder struct {
	nc      *comms.Conn
	emitter Emitter
	prefix  string
	sub     *comms.Subscription
}

// NewCommsForwarder creates a forwarder. An empty prefix uses
// commsutil.DefaultEventPrefix.
func NewCommsForwarder(nc *comms.Conn, emitter Emitter, prefix string) *CommsForwarder {
	if prefix == "" {
		prefix = commsutil.DefaultEventPrefix
	}
	return &CommsForwarder{nc: nc, emitter: emitter, prefix: prefix}
}

// Start subscribes to every event subject. Emit calls use ctx.
func (f *CommsForwarder) Start(ctx context.Context) error {
	subject := commsutil.Wildcard(f.prefix)
	sub, err := f.nc.Subscribe(subject, func(msg *comms.Msg) {
		var env EventEnvelope
		if err := commsutil.DecodePayload(msg.Data, &env); err != nil {
			slog.Warn(fmt.Sprintf("%s - dropping undecodable event on %s: %v", forwarderLogPrefix, msg.Subject, err))
			return
		}
		if env.Event == "" {
			slog.Warn(fmt.Sprintf("%s - dropping event without a name on %s", forwarderLogPrefix, msg.Subject))
			return
		}
		if err := f.forward(ctx, &env); err != nil {
			slog.Error(fmt.Sprintf("%s - failed to forward %s: %v", forwarderLogPrefix, env.Event, err))
		}
	})
	if err != nil {
		return fmt.Errorf("%s - failed to subscribe to %s: %w", forwarderLogPrefix, subject, err)
	}
	f.sub = sub
	slog.Info(fmt.Sprintf("%s - Forwarding events from %s", forwarderLogPrefix, subject))
	return nil
}

func (f *CommsForwarder) forward(ctx context.Context, env *EventEnvelope) error {
	if env.ViewID != nil {
		return f.emitter.EmitTo(ctx, *env.ViewID, env.Event, env.Payload)
	}
	return f.emitter.Emit(ctx, env.Event, env.Payload)
}

// Stop unsubscribes.
func (f *CommsForwarder) Stop() error {
	if f.sub == nil {
		return nil
	}
	return f.sub.Unsubscribe()
}
