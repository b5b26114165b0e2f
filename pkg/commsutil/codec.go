package commsutil

import (
	"encoding/json"
	"errors"
	"fmt"
)

const codecLogPrefix = "commsutil:codec"

// EncodePayload serializes a message body for a COMMS subject.
func EncodePayload(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%s - encode %T: %w", codecLogPrefix, v, err)
	}
	return data, nil
}

// DecodePayload deserializes a message body into v. An empty body is an
// error rather than a zero value.
func DecodePayload(data []byte, v any) error {
	if len(data) == 0 {
		return errors.New(codecLogPrefix + " - empty message body")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%s - decode into %T: %w", codecLogPrefix, v, err)
	}
	return nil
}
