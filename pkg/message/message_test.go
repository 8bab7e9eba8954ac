package message

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	assert := assert.New(t)

	m, err := Parse([]byte(`{"recipientId": 42, "payload": {"text": "hello world"}}`))
	assert.Nil(err)
	assert.Equal(int64(42), m.RecipientID)
	assert.JSONEq(`{"text": "hello world"}`, string(m.Payload))

	cases := map[string]error{
		`not json`:                                    ErrorInvalidMessage,
		`{"recipientId": 0, "payload": "x"}`:          ErrorInvalidMessage,
		`{"recipientId": -1, "payload": "x"}`:         ErrorInvalidMessage,
		`{"recipientId": 1, "payload": "x", "to": 2}`: ErrorInvalidMessage,
		`{"recipientId": 1}`:                          ErrorMissingPayload,
		`{"recipientId": 1, "payload": null}`:         ErrorMissingPayload,
		`{"recipientId": 1, "payload": {}}`:           ErrorMissingPayload,
		`{"recipientId": 1, "payload": ""}`:           ErrorMissingPayload,
		`{"recipientId": 1, "payload": { }}`:          ErrorMissingPayload,
		`{"recipientId": 1, "payload": [ ]}`:          ErrorMissingPayload,
	}
	for frame, expected := range cases {
		_, err := Parse([]byte(frame))
		assert.True(errors.Is(err, expected), "%s: %v", frame, err)
	}
}

func TestEncode(t *testing.T) {
	assert := assert.New(t)

	data, err := Encode(map[string]string{"text": "hi"})
	assert.Nil(err)
	assert.JSONEq(`{"type": "message", "message": {"text": "hi"}}`, string(data))

	assert.JSONEq(`{"type": "error", "error": "missing payload"}`, string(EncodeError(ErrorMissingPayload)))

	assert.True(IsEmpty(json.RawMessage(" null ")))
	assert.False(IsEmpty(json.RawMessage(`"x"`)))
}

func TestIsEmpty(t *testing.T) {
	cases := map[string]bool{
		``:               true,
		`  `:             true,
		`null`:           true,
		`""`:             true,
		`{}`:             true,
		`{ }`:            true,
		"{\n\t}":         true,
		`[]`:             true,
		`[ ]`:            true,
		`" "`:            false,
		`0`:              false,
		`false`:          false,
		`[null]`:         false,
		`{"text": ""}`:   false,
		`{"text": "hi"}`: false,
		`{`:              false,
	}
	for payload, expected := range cases {
		assert.Equal(t, expected, IsEmpty(json.RawMessage(payload)), "%q", payload)
	}
}
