// Package mqtt connects the fan controller to a Home Assistant MQTT broker:
// entity state subscriptions, actuator commands, and event publishing.
package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sweeney/humidity-fan/internal/logic"
)

// Default topic layout. State topics follow Home Assistant's mqtt_statestream
// integration; command topics are whatever the actuator's MQTT switch listens on.
const (
	DefaultStatePrefix   = "homeassistant/statestream"
	DefaultCommandPrefix = "homeassistant/command"
	DefaultEventTopic    = "home/bathroom/fan/events"
	DefaultSystemTopic   = "home/bathroom/fan/system"
)

// Command payloads.
const (
	PayloadOn  = "ON"
	PayloadOff = "OFF"
)

// ErrNotConnected is returned by Command while the broker connection is down.
var ErrNotConnected = errors.New("mqtt: not connected")

// Update is a state change reported by the broker for a subscribed entity.
type Update struct {
	Entity string
	Value  string
}

// EntityClient subscribes to entity states and sends actuator commands.
type EntityClient interface {
	// Subscribe starts delivering updates for entity. The broker's retained
	// value, if any, arrives as the first update.
	Subscribe(entity string) error

	// Unsubscribe stops delivering updates for entity.
	Unsubscribe(entity string) error

	// Command asks the actuator to turn on or off. Commands are never queued.
	Command(entity string, on bool) error

	// Updates returns the channel updates are delivered on.
	Updates() <-chan Update
}

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a controller event to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(event logic.Event) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // STARTUP, SHUTDOWN, HEARTBEAT, RECONNECTED, OFFLINE
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// StateTopic returns the statestream topic for entity, e.g.
// "homeassistant/statestream/switch/bathroom_fan/state".
func StateTopic(prefix, entity string) (string, error) {
	domain, object, err := splitEntity(entity)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s/%s/state", strings.TrimSuffix(prefix, "/"), domain, object), nil
}

// CommandTopic returns the topic commands for entity are published on.
func CommandTopic(prefix, entity string) (string, error) {
	domain, object, err := splitEntity(entity)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s/%s/set", strings.TrimSuffix(prefix, "/"), domain, object), nil
}

// CommandPayload returns the payload that turns the actuator on or off.
func CommandPayload(on bool) string {
	if on {
		return PayloadOn
	}
	return PayloadOff
}

func splitEntity(entity string) (domain, object string, err error) {
	domain, object, ok := strings.Cut(strings.TrimSpace(entity), ".")
	if !ok || domain == "" || object == "" || strings.ContainsAny(entity, "/+#") {
		return "", "", fmt.Errorf("invalid entity id %q: want domain.object_id", entity)
	}
	return domain, object, nil
}

// Payload represents the MQTT message payload for a controller event.
type Payload struct {
	Fan FanPayload `json:"fan"`
}

// FanPayload contains the controller event details.
type FanPayload struct {
	Timestamp    string   `json:"timestamp"`
	Event        string   `json:"event"`
	State        string   `json:"state"`
	Differential *float64 `json:"differential,omitempty"`
	Timer        string   `json:"timer,omitempty"`
	Entity       string   `json:"entity,omitempty"`
	Detail       string   `json:"detail,omitempty"`
}

// FormatPayload creates the JSON payload for a controller event.
func FormatPayload(event logic.Event) ([]byte, error) {
	p := FanPayload{
		Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
		Event:     string(event.Type),
		State:     string(event.State),
		Timer:     event.Timer,
		Entity:    event.Entity,
		Detail:    event.Detail,
	}
	if event.HasDifferential {
		d := event.Differential
		p.Differential = &d
	}
	return json.Marshal(Payload{Fan: p})
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp,omitempty"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	inner := SystemPayloadInner{
		Event:  event.Event,
		Reason: event.Reason,
	}
	if !event.Timestamp.IsZero() {
		inner.Timestamp = event.Timestamp.UTC().Format(time.RFC3339)
	}
	return json.Marshal(SystemPayload{System: inner})
}

// willPayload is registered with the broker at connect time and published
// by it if the connection drops without a clean disconnect.
func willPayload() []byte {
	b, _ := FormatSystemPayload(SystemEvent{Event: "OFFLINE", Reason: "MQTT_DISCONNECT"})
	return b
}
