// Package message encodes the frames exchanged with realtime clients.
package message

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

const (
	TypeMessage = "message"
	TypeError   = "error"
)

var (
	ErrorInvalidMessage = errors.New("invalid message")
	ErrorMissingPayload = errors.New("missing payload")
)

// Inbound is a frame sent by a client: a payload for one recipient.
type Inbound struct {
	RecipientID int64           `json:"recipientId"`
	Payload     json.RawMessage `json:"payload"`
}

// Outbound is a frame sent to a client, either a relayed message or an error.
type Outbound struct {
	Type    string      `json:"type"`
	Message interface{} `json:"message,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Parse decodes and checks an inbound frame.
func Parse(data []byte) (*Inbound, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	m := &Inbound{}
	if err := dec.Decode(m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrorInvalidMessage, err)
	}
	if m.RecipientID <= 0 {
		return nil, fmt.Errorf("%w: recipientId must be positive", ErrorInvalidMessage)
	}
	if IsEmpty(m.Payload) {
		return nil, ErrorMissingPayload
	}
	return m, nil
}

// IsEmpty reports whether a payload carries nothing: absent, null, "", or an
// object or array without elements. Payloads that are not JSON are not
// empty; callers check validity separately.
func IsEmpty(payload json.RawMessage) bool {
	if len(bytes.TrimSpace(payload)) == 0 {
		return true
	}

	var v interface{}
	if err := json.Unmarshal(payload, &v); err != nil {
		return false
	}
	switch v := v.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case map[string]interface{}:
		return len(v) == 0
	case []interface{}:
		return len(v) == 0
	}
	return false
}

func Encode(v interface{}) ([]byte, error) {
	data, err := json.Marshal(&Outbound{Type: TypeMessage, Message: v})
	if err != nil {
		return nil, fmt.Errorf("marshalling message: %w", err)
	}
	return data, nil
}

func EncodeError(err error) []byte {
	data, _ := json.Marshal(&Outbound{Type: TypeError, Error: err.Error()})
	return data
}
