package wsbridge

import (
	"encoding/json"
)

// RpcStatus is the lifecycle state of an invocation on the broadcast binding.
type RpcStatus string

const (
	StatusProcessing RpcStatus = "Processing"
	StatusSuccess    RpcStatus = "Success"
	StatusError      RpcStatus = "Error"
	StatusInvalid    RpcStatus = "Invalid"
)

// Terminal reports whether no further status follows for the invocation.
func (s RpcStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusError || s == StatusInvalid
}

const jsonRPCVersion = "2.0"

// Envelope methods.
const (
	MethodInvoke = "invoke"
	MethodEvent  = "event"
)

// Request is the envelope a view sends to invoke a command.
type Request struct {
	JSONRPC  string       `json:"jsonrpc"`
	Method   string       `json:"method"`
	Protocol string       `json:"protocol,omitempty"`
	Params   InvokeParams `json:"params"`
}

// InvokeParams addresses the payload to a view.
type InvokeParams struct {
	ViewID  string          `json:"viewId"`
	Payload json.RawMessage `json:"payload"`
}

// RpcResult is the status update for one correlation id.
type RpcResult struct {
	Status RpcStatus       `json:"status"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// EventParams is a host event. A nil ViewID targets every view and is
// serialized as null.
type EventParams struct {
	Event   string          `json:"event"`
	ViewID  *string         `json:"viewId"`
	Payload json.RawMessage `json:"payload"`
}

// Message is everything the bridge sends: a response carrying Result for
// an invocation id, or an event notification carrying Params.
type Message struct {
	JSONRPC string       `json:"jsonrpc"`
	ID      string       `json:"id,omitempty"`
	Method  string       `json:"method,omitempty"`
	Result  *RpcResult   `json:"result,omitempty"`
	Params  *EventParams `json:"params,omitempty"`
}

// MatchesInvocation reports whether m is a status update for id.
func (m *Message) MatchesInvocation(id string) bool {
	return m.Result != nil && m.ID == id
}

// MatchesEvent reports whether m is event name addressed to viewID or to
// every view.
func (m *Message) MatchesEvent(name, viewID string) bool {
	if m.Method != MethodEvent || m.Params == nil || m.Params.Event != name {
		return false
	}
	return m.Params.ViewID == nil || *m.Params.ViewID == viewID
}

func resultMessage(id string, status RpcStatus, data json.RawMessage) Message {
	return Message{
		JSONRPC: jsonRPCVersion,
		ID:      id,
		Result:  &RpcResult{Status: status, Data: data},
	}
}

func invalidMessage(id, reason string) Message {
	data, _ := json.Marshal(reason)
	return resultMessage(id, StatusInvalid, data)
}

func eventMessage(name string, viewID *string, payload json.RawMessage) Message {
	return Message{
		JSONRPC: jsonRPCVersion,
		Method:  MethodEvent,
		Params:  &EventParams{Event: name, ViewID: viewID, Payload: payload},
	}
}
