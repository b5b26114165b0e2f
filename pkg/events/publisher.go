package events

import (
	"context"
	"encoding/json"
	"fmt"
)

const publisherLogPrefix = "events:publisher"

// Emitter delivers host events to views.
type Emitter interface {
	Emit(ctx context.Context, event string, payload any) error
	EmitTo(ctx context.Context, viewID, event string, payload any) error
}

// NoOpEmitter is an Emitter that does nothing (for the HTTP binding, which
// has no event channel).
type NoOpEmitter struct{}

// Emit is a no-op.
func (NoOpEmitter) Emit(context.Context, string, any) error { return nil }

// EmitTo is a no-op.
func (NoOpEmitter) EmitTo(context.Context, string, string, any) error { return nil }

// CallbackEmitter is an Emitter that hands each envelope to a callback (for
// testing).
type CallbackEmitter struct {
	callback func(ctx context.Context, event *EventEnvelope) error
}

// NewCallbackEmitter creates a new CallbackEmitter.
func NewCallbackEmitter(cb func(ctx context.Context, event *EventEnvelope) error) *CallbackEmitter {
	return &CallbackEmitter{callback: cb}
}

// Emit calls the callback with an envelope for every view.
func (e *CallbackEmitter) Emit(ctx context.Context, event string, payload any) error {
	env, err := NewEnvelope(event, nil, payload)
	if err != nil {
		return err
	}
	return e.callback(ctx, env)
}

// EmitTo calls the callback with an envelope for viewID.
func (e *CallbackEmitter) EmitTo(ctx context.Context, viewID, event string, payload any) error {
	env, err := NewEnvelope(event, &viewID, payload)
	if err != nil {
		return err
	}
	return e.callback(ctx, env)
}

// NewEnvelope encodes payload into an envelope.
func NewEnvelope(event string, viewID *string, payload any) (*EventEnvelope, error) {
	if event == "" {
		return nil, fmt.Errorf("%s - event name is required", publisherLogPrefix)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to encode payload for %s: %w", publisherLogPrefix, event, err)
	}
	return &EventEnvelope{Event: event, ViewID: viewID, Payload: data}, nil
}
