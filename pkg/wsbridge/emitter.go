package wsbridge

import (
	"context"
	"encoding/json"
	"fmt"
)

const emitterLogPrefix = "wsbridge:emitter"

// Emitter pushes host events to views over the broadcast channel.
type Emitter struct {
	hub *Hub
}

// Emit sends event to every view.
func (e *Emitter) Emit(ctx context.Context, event string, payload any) error {
	return e.emit(ctx, event, nil, payload)
}

// EmitTo sends event to the view labelled viewID only.
func (e *Emitter) EmitTo(ctx context.Context, viewID, event string, payload any) error {
	return e.emit(ctx, event, &viewID, payload)
}

func (e *Emitter) emit(ctx context.Context, event string, viewID *string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if event == "" {
		return fmt.Errorf("%s - event name is required", emitterLogPrefix)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s - failed to encode payload for %s: %w", emitterLogPrefix, event, err)
	}
	return e.hub.Broadcast(eventMessage(event, viewID, data))
}
