package protocol

import (
	"encoding/json"
	"errors"
	"time"
)

// MessageType enumerates high-level protocol intents.
type MessageType string

const (
	MessageTypeCommand MessageType = "command"
	MessageTypeEvent   MessageType = "event"
	MessageTypeAck     MessageType = "ack"
)

// Envelope wraps every payload sent over the wire.
type Envelope struct {
	ID        string                 `json:"id"`
	Type      MessageType            `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Payload   interface{}            `json:"payload,omitempty"`
}

// Action returns the event name carried in the envelope metadata.
func (e Envelope) Action() string {
	if e.Metadata == nil {
		return ""
	}
	if s, ok := e.Metadata["action"].(string); ok {
		return s
	}
	return ""
}

// AckPayload represents acknowledgement semantics.
type AckPayload struct {
	ReferenceID string `json:"reference_id"`
	Status      string `json:"status"`
	Reason      string `json:"reason,omitempty"`
}

const (
	AckStatusOK    = "ok"
	AckStatusError = "error"
)

// ErrEmptyPayload is returned when an envelope that requires a payload has none.
var ErrEmptyPayload = errors.New("payload empty")

// DecodePayload converts a loosely typed payload into T.
func DecodePayload[T any](payload interface{}) (T, error) {
	var out T
	if payload == nil {
		return out, ErrEmptyPayload
	}
	var data []byte
	switch p := payload.(type) {
	case json.RawMessage:
		data = p
	case []byte:
		data = p
	default:
		encoded, err := json.Marshal(payload)
		if err != nil {
			return out, err
		}
		data = encoded
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, err
	}
	return out, nil
}
