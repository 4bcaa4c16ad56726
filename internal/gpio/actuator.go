package gpio

import (
	"fmt"
	"time"
)

// Actuator presents a Relay as the controller's actuator entity. Relay
// changes, whether commanded or made with the button, are observed on Poll
// and reported back as entity states.
type Actuator struct {
	entity string
	relay  Relay
	button debouncer
	now    func() time.Time
}

// NewActuator binds relay to entity. The button is not debounced until
// SetDebounce is called.
func NewActuator(entity string, relay Relay) *Actuator {
	return &Actuator{entity: entity, relay: relay, now: time.Now}
}

// SetDebounce sets how long a button level must hold before it counts.
func (a *Actuator) SetDebounce(window time.Duration) {
	a.button.window = window
}

// Entity returns the actuator's entity id.
func (a *Actuator) Entity() string {
	return a.entity
}

// Command switches the relay. It implements logic.Commander.
func (a *Actuator) Command(entity string, on bool) error {
	if entity != a.entity {
		return fmt.Errorf("gpio: no relay for %q", entity)
	}
	return a.relay.Set(on)
}

// Poll reads the relay and returns its state as "on" or "off". A debounced
// button press toggles the relay first.
func (a *Actuator) Poll() (string, error) {
	on, pressed, err := a.relay.Read()
	if err != nil {
		return "", err
	}
	if a.button.update(pressed, a.now()) && a.button.stable {
		on = !on
		if err := a.relay.Set(on); err != nil {
			// Forget the press so a held button retries.
			a.button.stable = false
			return "", fmt.Errorf("button toggle: %w", err)
		}
	}
	return StateValue(on), nil
}
