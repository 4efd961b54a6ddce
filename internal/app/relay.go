package app

import (
	"encoding/json"
	"fmt"
)

// relayEnvelope tags an event with the instance that produced it so relays can
// skip their own echoes.
type relayEnvelope struct {
	Origin string `json:"origin"`
	Event  Event  `json:"event"`
}

// EncodeRelayEvent serializes ev for cross-instance propagation.
func EncodeRelayEvent(origin string, ev Event) ([]byte, error) {
	data, err := json.Marshal(relayEnvelope{Origin: origin, Event: ev})
	if err != nil {
		return nil, fmt.Errorf("encode relay event: %w", err)
	}
	return data, nil
}

// DecodeRelayEvent is the inverse of EncodeRelayEvent.
func DecodeRelayEvent(data []byte) (string, Event, error) {
	var env relayEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", Event{}, fmt.Errorf("decode relay event: %w", err)
	}
	if env.Event.Type == "" {
		return "", Event{}, fmt.Errorf("decode relay event: missing type")
	}
	return env.Origin, env.Event, nil
}
