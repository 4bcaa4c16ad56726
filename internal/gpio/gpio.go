// Package gpio drives a directly-wired fan relay with an optional wall
// push-button. The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

// Relay switches the fan and reports its state.
type Relay interface {
	// Set energizes (on=true) or releases the relay.
	Set(on bool) error

	// Read returns the logical relay state and whether the button is held.
	Read() (relayOn, buttonPressed bool, err error)

	// Close releases GPIO resources, leaving the relay off.
	Close() error
}

// Pin definitions (BCM numbering)
const (
	DefaultPinRelay  = 17
	DefaultPinButton = 27
)

// NoButton disables the push-button input.
const NoButton = -1

// StateValue renders a relay state the way entity states are reported.
func StateValue(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
