// Package mqtt provides the MQTT bridge with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sweeney/relay-switch/internal/logic"
)

// DefaultTopic is the default base topic. State, set and system topics hang
// off it.
const DefaultTopic = "home/relay-switch"

// Topic suffixes under the base topic.
const (
	SuffixState  = "/state"
	SuffixSet    = "/set"
	SuffixSystem = "/system"
)

// Publisher publishes events to MQTT.
type Publisher interface {
	// PublishState sends a relay state change to the broker.
	// Returns error if publishing fails (should not crash the process).
	PublishState(event StateEvent) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// StateEvent is a relay state change to be published.
type StateEvent struct {
	Timestamp time.Time
	State     logic.State
	Origin    logic.Origin
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT", "FACTORY_RESET"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT state message payload structure.
type Payload struct {
	Relay RelayPayload `json:"relay"`
}

// RelayPayload contains the relay state details.
type RelayPayload struct {
	Timestamp string `json:"timestamp"`
	State     string `json:"state"`
	Origin    string `json:"origin"`
}

// FormatPayload creates the JSON payload for a state event.
func FormatPayload(event StateEvent) ([]byte, error) {
	payload := Payload{
		Relay: RelayPayload{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			State:     string(event.State),
			Origin:    string(event.Origin),
		},
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

// setCommand is the JSON form accepted on the set topic.
type setCommand struct {
	State *string `json:"state"`
	On    *bool   `json:"on"`
}

// ParseSetPayload decodes a set request. Accepted forms are the bare words
// ON/OFF, true/false and 1/0 (any case), or JSON {"state":"ON"} or {"on":true}.
func ParseSetPayload(payload []byte) (bool, error) {
	s := strings.TrimSpace(string(payload))

	if strings.HasPrefix(s, "{") {
		var cmd setCommand
		if err := json.Unmarshal([]byte(s), &cmd); err != nil {
			return false, fmt.Errorf("decode set payload: %w", err)
		}
		switch {
		case cmd.On != nil:
			return *cmd.On, nil
		case cmd.State != nil:
			s = *cmd.State
		default:
			return false, fmt.Errorf("set payload has neither state nor on")
		}
	}

	switch strings.ToUpper(s) {
	case "ON", "TRUE", "1":
		return true, nil
	case "OFF", "FALSE", "0":
		return false, nil
	}
	return false, fmt.Errorf("invalid set payload %q", s)
}
