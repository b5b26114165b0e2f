package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/invoke-bridge/pkg/commsutil"
)

const commsPublisherLogPrefix = "events:comms_publisher"

// CommsPublisherOpts configures CommsPublisher. Nil or zero values use defaults.
type CommsPublisherOpts struct {
	// Prefix overrides the event subject prefix (e.g. from EVENT_SUBJECT_PREFIX).
	Prefix string
}

// CommsPublisher publishes host events to COMMS subjects. It implements
// Emitter for processes that do not own the bridge.
type CommsPublisher struct {
	nc     *comms.Conn
	prefix string
}

// NewCommsPublisher creates a new CommsPublisher. Pass nil for opts to use defaults.
func NewCommsPublisher(nc *comms.Conn, opts *CommsPublisherOpts) *CommsPublisher {
	prefix := commsutil.DefaultEventPrefix
	if opts != nil && opts.Prefix != "" {
		prefix = opts.Prefix
	}
	return &CommsPublisher{nc: nc, prefix: prefix}
}

// Emit publishes event for every view.
func (p *CommsPublisher) Emit(ctx context.Context, event string, payload any) error {
	return p.publish(ctx, event, nil, payload)
}

// EmitTo publishes event for viewID only.
func (p *CommsPublisher) EmitTo(ctx context.Context, viewID, event string, payload any) error {
	return p.publish(ctx, event, &viewID, payload)
}

func (p *CommsPublisher) publish(ctx context.Context, event string, viewID *string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	env, err := NewEnvelope(event, viewID, payload)
	if err != nil {
		return err
	}
	env.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)

	data, err := commsutil.EncodePayload(env)
	if err != nil {
		return fmt.Errorf("%s - failed to encode event: %w", commsPublisherLogPrefix, err)
	}

	subject := commsutil.BuildEventSubject(p.prefix, event)
	if err := p.nc.Publish(subject, data); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to publish to %s: %v", commsPublisherLogPrefix, subject, err))
		return err
	}

	slog.Debug(fmt.Sprintf("%s - Published %s event", commsPublisherLogPrefix, event))
	return nil
}
