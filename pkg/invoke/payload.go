package invoke

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

const payloadLogPrefix = "invoke:payload"

// CallbackID is a correlation token chosen by the view. The front-end may
// send it as a JSON number or string; the textual form is kept verbatim.
type CallbackID string

// UnmarshalJSON accepts a JSON string or number.
func (c *CallbackID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return fmt.Errorf("%s - callback id is null", payloadLogPrefix)
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("%s - invalid callback id: %w", payloadLogPrefix, err)
		}
		*c = CallbackID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("%s - callback id must be a string or number: %w", payloadLogPrefix, err)
	}
	*c = CallbackID(n.String())
	return nil
}

// MarshalJSON writes numeric ids as numbers and everything else as strings.
func (c CallbackID) MarshalJSON() ([]byte, error) {
	if isNumber(string(c)) {
		return []byte(c), nil
	}
	return json.Marshal(string(c))
}

func isNumber(s string) bool {
	if s == "" || (s[0] != '-' && (s[0] < '0' || s[0] > '9')) {
		return false
	}
	if _, err := strconv.ParseFloat(s, 64); err != nil {
		return false
	}
	return json.Valid([]byte(s))
}

// Payload is one command invocation issued by a view.
type Payload struct {
	Command  string
	Callback CallbackID
	Error    CallbackID
	// Args holds every key of the wire object other than cmd, callback and
	// error, as a JSON object.
	Args json.RawMessage
}

// CorrelationID matches a later result to this payload.
func (p *Payload) CorrelationID() string {
	return CorrelationID(p.Callback, p.Error)
}

// CorrelationID concatenates the success and error tokens.
func CorrelationID(callback, errorID CallbackID) string {
	return string(callback) + string(errorID)
}

// PendingKey identifies an outstanding invocation. Unlike CorrelationID it
// keeps the two tokens apart, so (1,23) and (12,3) stay distinct.
func PendingKey(callback, errorID CallbackID) string {
	return string(callback) + "\x00" + string(errorID)
}

// PendingKey is the outstanding-invocation key of this payload.
func (p *Payload) PendingKey() string {
	return PendingKey(p.Callback, p.Error)
}

// UnmarshalJSON decodes the flattened wire object.
func (p *Payload) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("%s - payload must be a JSON object: %w", payloadLogPrefix, err)
	}
	if fields == nil {
		return fmt.Errorf("%s - payload must be a JSON object", payloadLogPrefix)
	}

	cb, ok := fields["callback"]
	if !ok {
		return fmt.Errorf("%s - payload is missing callback", payloadLogPrefix)
	}
	if err := p.Callback.UnmarshalJSON(cb); err != nil {
		return err
	}
	errID, ok := fields["error"]
	if !ok {
		return fmt.Errorf("%s - payload is missing error", payloadLogPrefix)
	}
	if err := p.Error.UnmarshalJSON(errID); err != nil {
		return err
	}
	if cmd, ok := fields["cmd"]; ok {
		if err := json.Unmarshal(cmd, &p.Command); err != nil {
			return fmt.Errorf("%s - cmd must be a string: %w", payloadLogPrefix, err)
		}
	}

	delete(fields, "callback")
	delete(fields, "error")
	delete(fields, "cmd")
	args, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("%s - failed to re-encode args: %w", payloadLogPrefix, err)
	}
	p.Args = args
	return nil
}

// MarshalJSON flattens the payload back into its wire object.
func (p *Payload) MarshalJSON() ([]byte, error) {
	fields := make(map[string]json.RawMessage)
	if len(p.Args) > 0 {
		if err := json.Unmarshal(p.Args, &fields); err != nil {
			return nil, fmt.Errorf("%s - args must be a JSON object: %w", payloadLogPrefix, err)
		}
		if fields == nil {
			fields = make(map[string]json.RawMessage)
		}
	}
	if p.Command != "" {
		cmd, _ := json.Marshal(p.Command)
		fields["cmd"] = cmd
	}
	cb, err := p.Callback.MarshalJSON()
	if err != nil {
		return nil, err
	}
	fields["callback"] = cb
	errID, err := p.Error.MarshalJSON()
	if err != nil {
		return nil, err
	}
	fields["error"] = errID
	return json.Marshal(fields)
}
