package server

import (
	"errors"
	"strings"

	"github.com/fenggwsx/SlashCollab/internal/protocol"
)

var errInvalidPayload = errors.New("invalid payload")

// decodeRequest decodes the envelope payload into T.
func decodeRequest[T any](env protocol.Envelope) (T, error) {
	req, err := protocol.DecodePayload[T](env.Payload)
	if err != nil {
		var zero T
		return zero, errInvalidPayload
	}
	return req, nil
}

func metadataString(metadata map[string]interface{}, key string) string {
	if metadata == nil {
		return ""
	}
	if value, ok := metadata[key]; ok {
		if s, ok := value.(string); ok {
			return s
		}
	}
	return ""
}

func normalizeAction(env protocol.Envelope) string {
	return strings.ToLower(strings.TrimSpace(metadataString(env.Metadata, "action")))
}
