package mqtt

import (
	"sync"

	"github.com/sweeney/humidity-fan/internal/logic"
)

// Command is an actuator command recorded by FakeClient.
type Command struct {
	Entity string
	On     bool
}

// FakeClient records subscriptions, commands and published events for test
// assertions. Tests feed entity updates with Send.
type FakeClient struct {
	mu sync.Mutex

	// Subscribed contains every entity currently subscribed.
	Subscribed map[string]bool

	// Unsubscribed records every Unsubscribe call in order.
	Unsubscribed []string

	// Commands contains every successful actuator command.
	Commands []Command

	// Events contains all controller events that were published.
	Events []logic.Event

	// Payloads contains the JSON payloads that were published.
	Payloads [][]byte

	// SystemEvents contains all system events that were published.
	SystemEvents []SystemEvent

	// SystemPayloads contains the JSON payloads for system events.
	SystemPayloads [][]byte

	// SubscribeError, if set, will be returned by Subscribe.
	SubscribeError error

	// CommandError, if set, will be returned by Command.
	CommandError error

	// PublishError, if set, will be returned by Publish.
	PublishError error

	// PublishSystemError, if set, will be returned by PublishSystem.
	PublishSystemError error

	// Closed tracks if Close was called.
	Closed bool

	// Connected controls the return value of IsConnected.
	Connected bool

	updates chan Update
}

// NewFakeClient creates a FakeClient for testing.
func NewFakeClient() *FakeClient {
	return &FakeClient{
		Subscribed: make(map[string]bool),
		Connected:  true,
		updates:    make(chan Update, 64),
	}
}

// Send delivers an update as if the broker had published it.
func (f *FakeClient) Send(entity, value string) {
	f.updates <- Update{Entity: entity, Value: value}
}

// Subscribe records the subscription.
func (f *FakeClient) Subscribe(entity string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SubscribeError != nil {
		return f.SubscribeError
	}
	f.Subscribed[entity] = true
	return nil
}

// Unsubscribe records the release.
func (f *FakeClient) Unsubscribe(entity string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.Subscribed, entity)
	f.Unsubscribed = append(f.Unsubscribed, entity)
	return nil
}

// Command records the command.
func (f *FakeClient) Command(entity string, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CommandError != nil {
		return f.CommandError
	}
	f.Commands = append(f.Commands, Command{Entity: entity, On: on})
	return nil
}

// Updates returns the channel fed by Send.
func (f *FakeClient) Updates() <-chan Update {
	return f.updates
}

// Publish records the controller event.
func (f *FakeClient) Publish(event logic.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}

	payload, err := FormatPayload(event)
	if err != nil {
		return err
	}
	f.Events = append(f.Events, event)
	f.Payloads = append(f.Payloads, payload)
	return nil
}

// PublishSystem records the system event.
func (f *FakeClient) PublishSystem(event SystemEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishSystemError != nil {
		return f.PublishSystemError
	}

	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.SystemEvents = append(f.SystemEvents, event)
	f.SystemPayloads = append(f.SystemPayloads, payload)
	return nil
}

// Close marks the client as closed.
func (f *FakeClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// IsConnected reports whether the fake client is "connected".
func (f *FakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Connected
}

// SystemEventNames returns the Event field of every recorded system event.
func (f *FakeClient) SystemEventNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.SystemEvents))
	for i, e := range f.SystemEvents {
		out[i] = e.Event
	}
	return out
}

// Reset clears recorded calls and scripted errors.
func (f *FakeClient) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Unsubscribed = nil
	f.Commands = nil
	f.Events = nil
	f.Payloads = nil
	f.SystemEvents = nil
	f.SystemPayloads = nil
	f.SubscribeError = nil
	f.CommandError = nil
	f.PublishError = nil
	f.PublishSystemError = nil
	f.Closed = false
}
