// Package events defines the host event envelope and the emitters that
// deliver events to views, directly or across COMMS.
package events

import "encoding/json"

// EventEnvelope is a host event. A nil ViewID addresses every view.
type EventEnvelope struct {
	Event     string          `json:"event"`
	ViewID    *string         `json:"viewId"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp string          `json:"timestamp,omitempty"`
}
